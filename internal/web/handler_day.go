package web

import (
	"context"
	"net/http"

	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

const journalLimit = 30

type sectionView struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Text   string `json:"text,omitempty"`
	Level  string `json:"level,omitempty"`
	Notice string `json:"notice,omitempty"`
}

func newSectionView(sec nutrition.DaySection) sectionView {
	v := sectionView{Kind: string(sec.Kind), Title: sec.Title, Text: sec.Text}
	if sec.Err != nil {
		n := nutrition.NoticeFor(sec.Err)
		v.Level, v.Notice = string(n.Level), n.Text
	}
	return v
}

// handleCloseDay streams the three close-day sections as SSE "section" events
// as each completes, followed by a "done" event. An empty ledger or an
// unready session yields a single "notice" event.
func (s *Server) handleCloseDay(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	stream := newEventStream(w)

	report, err := s.pipeline.CloseDay(context.WithoutCancel(r.Context()), sess, func(sec nutrition.DaySection) {
		stream.send("section", newSectionView(sec))
	})
	if err != nil {
		stream.send("notice", newNoticeView(err))
		stream.send("done", map[string]any{"cleared": false})
		return
	}
	if report.ArchiveErr != nil {
		s.logger.Error("day archive failed", "session_id", sess.ID, logging.ErrAttr(report.ArchiveErr))
	}
	stream.send("done", map[string]any{"cleared": report.Cleared, "archive_id": report.ArchiveID})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"ActiveNav": "journal", "Enabled": s.journal != nil, "HasJournal": s.journal != nil}
	if s.journal != nil {
		days, err := s.journal.ListRecent(r.Context(), journalLimit)
		if err != nil {
			http.Error(w, "failed to load journal", http.StatusInternalServerError)
			s.logger.Error("list days failed", logging.ErrAttr(err))
			return
		}
		data["Days"] = days
	}
	if err := s.renderPage(w, data, "base.html", "pages/journal.html"); err != nil {
		s.logger.Error("render page failed", logging.ErrAttr(err))
	}
}
