package web

import (
	"net/http"

	"github.com/vbonduro/nutrilog/internal/logging"
)

func (s *Server) handleHomeDishes(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	text, err := s.pipeline.SuggestHomeDishes(r.Context(), sess, r.FormValue("dietary_preference"))
	if err != nil {
		s.renderNotice(w, err)
		return
	}
	s.renderRecommendation(w, "Dishes to cook at home", text)
}

func (s *Server) handleRankMenu(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	menus, err := readUploads(w, r, "menus", s.logger)
	if err != nil {
		s.renderNotice(w, err)
		return
	}
	text, err := s.pipeline.RankMenu(r.Context(), sess, r.FormValue("dietary_preference"), menus)
	if err != nil {
		s.renderNotice(w, err)
		return
	}
	s.renderRecommendation(w, "Best picks on this menu", text)
}

func (s *Server) renderRecommendation(w http.ResponseWriter, title, text string) {
	if err := s.renderPartial(w, "partials/recommendation.html", map[string]string{"Title": title, "Text": text}); err != nil {
		s.logger.Error("render partial failed", logging.ErrAttr(err))
	}
}
