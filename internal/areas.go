package internal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"asset-census-api/internal/auth"
	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
)

// listAreas returns every area with its progress counts
func (s *Server) listAreas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": completion.BuildReport(s.snapshot()).Areas,
	})
}

// closeArea marks an area closed. Closed areas no longer change state.
func (s *Server) closeArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var out inventory.Area
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		if err := s.tracker.Close(next, id); err != nil {
			return err
		}
		out = *next.Areas[id]
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Logger.Info("area closed by operator",
		zap.String("area", id),
		zap.Int64("operator", auth.OperatorIDFromContext(r.Context())))
	writeJSON(w, http.StatusOK, out)
}

// getProgress returns the completion dashboard
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, completion.BuildReport(s.snapshot()))
}
