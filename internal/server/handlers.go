package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Playground handlers ---

type statusResponse struct {
	playground.Status
	Backend string `json:"backend"`
}

func (s *Server) status() statusResponse {
	return statusResponse{Status: s.session.Status(), Backend: s.backend}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

type configResponse struct {
	InitialCode string `json:"initial_code"`
	EntryFile   string `json:"entry_file"`
	Backend     string `json:"backend"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		InitialCode: s.initialCode,
		EntryFile:   s.orch.EntryFile(),
		Backend:     s.backend,
	})
}

type outputResponse struct {
	Output     string `json:"output"`
	Display    string `json:"display"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, outputResponse{
		Output:     s.log.String(),
		Display:    s.log.Display(),
		Generation: s.log.Generation(),
	})
}

type runRequest struct {
	Code string `json:"code"`
}

type runResponse struct {
	RunID      string `json:"run_id"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	run, err := s.startRun(req.Code)
	switch {
	case errors.Is(err, playground.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, playground.ErrorPrefix+err.Error())
	default:
		writeJSON(w, http.StatusAccepted, runResponse{RunID: run.ID, Generation: run.Generation})
	}
}

// startRun detaches the run from the request so the process keeps
// streaming after the response is written.
func (s *Server) startRun(code string) (*playground.Run, error) {
	run, err := s.orch.Run(s.runContext(), code)
	if err != nil && !errors.Is(err, playground.ErrNotReady) {
		s.logger.Warn("run rejected", zap.Error(err))
	}
	return run, err
}

// --- Run history handlers ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []storage.Run{})
		return
	}

	opts := storage.RunListOptions{}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RunStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}
