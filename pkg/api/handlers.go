package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/report"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// maxListLimit caps the number of runs returned by one list request.
const maxListLimit = 1000

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.engine.Connected() {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type listRunsResponse struct {
	Runs []record.TestRun `json:"runs"`
}

// handleListRuns returns stored runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a non-negative integer"})

			return
		}

		limit = min(n, maxListLimit)
	}

	runs, err := report.ListRuns(r.Context(), s.engine, limit)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

// handleGetRun returns the full report of a run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	rep, err := report.Build(r.Context(), s.engine, runID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rep)
}

type listFailuresResponse struct {
	RunID    int              `json:"run_id"`
	Failures []record.Failure `json:"failures"`
}

// handleListFailures returns the failed keywords of a run.
func (s *server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	failures, err := report.Failures(r.Context(), s.engine, runID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, listFailuresResponse{RunID: runID, Failures: failures})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (int, bool) {
	runID, err := strconv.Atoi(chi.URLParam(r, "runID"))
	if err != nil || runID <= 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run id must be a positive integer"})

		return 0, false
	}

	return runID, true
}

func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, report.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})
	case errors.Is(err, store.ErrNotConnected):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"database not connected"})
	default:
		s.log.WithError(err).Error("Failed to query store")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
	}
}
