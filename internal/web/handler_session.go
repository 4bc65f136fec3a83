package web

import (
	"net/http"

	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	view := sess.Snapshot()

	data := map[string]any{
		"View":       view,
		"Ready":      view.State == nutrition.StateReady,
		"NeedsKey":   view.State == nutrition.StateIdle || view.State == nutrition.StateAwaitingCredential,
		"Home":       view.Recommendations[nutrition.RecommendationHomeDishes],
		"Menu":       view.Recommendations[nutrition.RecommendationMenu],
		"ActiveNav":  "today",
		"HasJournal": s.journal != nil,
	}
	if err := s.renderPage(w, data,
		"base.html", "pages/index.html", "partials/meal_list.html", "partials/day_report.html",
	); err != nil {
		s.logger.Error("render page failed", logging.ErrAttr(err))
	}
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if err := s.pipeline.SupplyCredential(r.Context(), sess, r.FormValue("api_key")); err != nil {
		s.renderNotice(w, err)
		return
	}
	s.refresh(w, r)
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if err := sess.SetGoal(r.FormValue("goal")); err != nil {
		s.renderNotice(w, err)
		return
	}
	s.refresh(w, r)
}

// handleReset ends the caller's session and starts a new one that keeps the
// credential.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	fresh := s.sessions.Restart(s.session(w, r))
	setSessionCookie(w, fresh.ID)
	s.refresh(w, r)
}

// refresh sends the browser back to the index page. htmx requests get an
// HX-Redirect header instead of a 303 so the whole page reloads.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") != "" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
