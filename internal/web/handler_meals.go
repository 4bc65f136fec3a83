package web

import (
	"context"
	"net/http"

	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

// mealView is one analysed image as rendered by the meal_results partial and
// the meal SSE event.
type mealView struct {
	Number      int    `json:"number"`
	Filename    string `json:"filename"`
	MealName    string `json:"meal_name,omitempty"`
	MealSummary string `json:"meal_summary,omitempty"`
	Raw         string `json:"raw,omitempty"`
	Parsed      bool   `json:"parsed"`
	Inserted    bool   `json:"inserted"`
	Level       string `json:"level,omitempty"`
	Notice      string `json:"notice,omitempty"`
}

func newMealView(o nutrition.MealOutcome) mealView {
	v := mealView{Number: o.Index + 1, Filename: o.Filename}
	if o.Err != nil {
		n := nutrition.NoticeFor(o.Err)
		v.Level, v.Notice = string(n.Level), n.Text
		return v
	}
	v.Raw = o.Report.Raw
	v.Parsed = o.Report.Parsed
	v.Inserted = o.Report.Inserted
	if o.Report.Parsed {
		v.MealName = o.Report.Analysis.MealName
		v.MealSummary = o.Report.Analysis.MealSummary
	}
	return v
}

type noticeView struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func newNoticeView(err error) noticeView {
	n := nutrition.NoticeFor(err)
	return noticeView{Level: string(n.Level), Text: n.Text}
}

func (s *Server) handleAnalyzeMeals(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	uploads, err := readUploads(w, r, "images", s.logger)
	if err != nil {
		s.renderNotice(w, err)
		return
	}

	outcomes, err := s.pipeline.AnalyzeMeals(r.Context(), sess, uploads, nil)
	if err != nil {
		s.renderNotice(w, err)
		return
	}

	views := make([]mealView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, newMealView(o))
	}
	data := map[string]any{"Results": views, "Meals": s.pipeline.Meals(sess)}
	if err := s.renderPartial(w, "partials/meal_results.html", data); err != nil {
		s.logger.Error("render partial failed", logging.ErrAttr(err))
	}
}

// handleStreamMeals accepts the same multipart form as handleAnalyzeMeals but
// responds with an SSE stream: one "meal" event per image in upload order,
// then a "done" event. A request that cannot start sends a single "notice"
// event instead.
func (s *Server) handleStreamMeals(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	uploads, err := readUploads(w, r, "images", s.logger)
	if err != nil {
		s.renderNotice(w, err)
		return
	}

	stream := newEventStream(w)
	// Use a detached context so that the analysis runs to completion even if
	// the client navigates away and the request context is cancelled.
	_, err = s.pipeline.AnalyzeMeals(context.WithoutCancel(r.Context()), sess, uploads, func(o nutrition.MealOutcome) {
		stream.send("meal", newMealView(o))
	})
	if err != nil {
		stream.send("notice", newNoticeView(err))
	}
	stream.send("done", map[string]int{"ledger_size": len(s.pipeline.Meals(sess))})
}
