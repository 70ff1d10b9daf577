package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/ledger"
)

const maxRunListLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.channels != nil {
		resp.OpenChannels = s.channels.Len()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStartDay handles POST /day/{day}/start.
func (s *Server) handleStartDay(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")

	var req StartDayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	out, err := s.days.StartDay(r.Context(), day, *req.Count)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, StartDayResponse{Status: out.Status(), Outcome: out})
	case out != nil && errors.Is(err, dispatch.ErrDispatchFailure):
		respondJSON(w, http.StatusBadGateway, StartDayResponse{Status: out.Status(), Outcome: out, Error: err.Error()})
	case errors.Is(err, dispatch.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrCapacityExceeded):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case out != nil:
		// Dispatched, but the run could not be recorded.
		s.logger.Error("day dispatched with errors", "day", day, "run_id", out.RunID, "error", err)
		respondJSON(w, http.StatusInternalServerError, StartDayResponse{Status: out.Status(), Outcome: out, Error: err.Error()})
	default:
		s.logger.Error("failed to start day", "day", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start day")
	}
}

// handleRoster handles GET /roster/{day}.
func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	workers, err := s.days.Eligible(r.Context(), day)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to load roster", "day", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load roster")
		return
	}
	respondJSON(w, http.StatusOK, RosterResponse{Day: day, Count: len(workers), Workers: workers})
}

// handleListRuns handles GET /runs?limit=n.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunListLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunListLimit))
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*ledger.Run{}
	}
	respondJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// handleGetRun handles GET /runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to retrieve run", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleListEvents handles GET /events?since=id&type=prefix.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := int64(0)
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative event id")
			return
		}
		since = n
	}
	respondJSON(w, http.StatusOK, EventListResponse{Events: s.events.SnapshotSince(since, q.Get("type"))})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
