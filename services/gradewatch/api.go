package gradewatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gradewatch-backend/lib/grades"
)

// Router exposes the consumer-facing trigger/status surface. A forced
// refresh runs on runCtx (the service's lifetime), detached from the
// HTTP request, and the caller watches tracker state to see it land.
func (s *Service) Router(runCtx context.Context) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/trackers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})

	r.Get("/trackers/{studentId}/{quarter}/snapshot", func(w http.ResponseWriter, r *http.Request) {
		studentId := chi.URLParam(r, "studentId")
		quarter := grades.Quarter(chi.URLParam(r, "quarter"))
		if !quarter.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quarter"})
			return
		}
		if _, ok := s.byStudent[studentId]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown student"})
			return
		}
		snap := s.Snapshot(studentId, quarter)
		if snap == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/students/{studentId}/refresh", func(w http.ResponseWriter, r *http.Request) {
		studentId := chi.URLParam(r, "studentId")
		if _, ok := s.byStudent[studentId]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown student"})
			return
		}
		go func() {
			// ignore the error; it also lands on tracker state
			_ = s.ForceRefresh(runCtx, studentId)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
