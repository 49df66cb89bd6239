package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/finchsearch/finch/internal/dispatcher"
	"github.com/finchsearch/finch/internal/history"
	"github.com/finchsearch/finch/internal/run"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	src, err := s.sources.Source(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, err := s.runs.Start(r.Context(), src)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, rec)
	case errors.Is(err, dispatcher.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatcher.ErrSourceInactive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// Connector construction failures are configuration problems.
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if err := s.runs.Stop(sourceID); err != nil && !errors.Is(err, dispatcher.ErrNotRunning) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Stopping an idle source is a no-op, not an error.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentRun(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	rec, err := s.runs.Status(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no runs for source")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	runs, err := s.runs.History(r.Context(), sourceID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []run.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) runLogs(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	level, ok := parseLevel(r.URL.Query().Get("level"))
	if !ok {
		writeError(w, http.StatusBadRequest, "level must be info, warn, or error")
		return
	}
	logs, err := s.runs.Logs(r.Context(), sourceID, level)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no runs for source")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []run.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func parseLevel(raw string) (run.Level, bool) {
	switch run.Level(raw) {
	case "", run.LevelInfo, run.LevelWarn, run.LevelError:
		return run.Level(raw), true
	default:
		return "", false
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
