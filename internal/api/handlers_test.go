package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/events"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

const testAPIKey = "test-key-123"

// mockDays implements DayStarter for testing
type mockDays struct {
	startDayFunc func(ctx context.Context, day string, count int) (*dispatch.Outcome, error)
	eligibleFunc func(ctx context.Context, day string) ([]roster.EligibleWorker, error)
}

func (m *mockDays) StartDay(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
	return m.startDayFunc(ctx, day, count)
}

func (m *mockDays) Eligible(ctx context.Context, day string) ([]roster.EligibleWorker, error) {
	return m.eligibleFunc(ctx, day)
}

// mockRuns implements RunReader for testing
type mockRuns struct {
	getFunc  func(ctx context.Context, id string) (*ledger.Run, error)
	listFunc func(ctx context.Context, limit int) ([]*ledger.Run, error)
}

func (m *mockRuns) Get(ctx context.Context, id string) (*ledger.Run, error) {
	return m.getFunc(ctx, id)
}

func (m *mockRuns) List(ctx context.Context, limit int) ([]*ledger.Run, error) {
	return m.listFunc(ctx, limit)
}

type fixedChannels int

func (f fixedChannels) Len() int { return int(f) }

func newTestServer(days *mockDays, runs *mockRuns) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	config := Config{
		Listen: "localhost:8080",
		APIKey: testAPIKey,
	}
	return New(config, days, runs, fixedChannels(2), events.NewHub(10), logger)
}

func doRequest(s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func fullOutcome() *dispatch.Outcome {
	return &dispatch.Outcome{
		RunID:           "run-1",
		Day:             "monday",
		Requested:       7,
		TotalDispatched: 7,
		PerUnit: []dispatch.Report{
			{UnitID: 1, Assigned: 5, Headcount: 5},
			{UnitID: 2, Assigned: 2, Headcount: 2},
		},
	}
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})

	rr := doRequest(server, http.MethodGet, "/healthz", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.OpenChannels != 2 {
		t.Fatalf("expected open_channels 2, got %d", resp.OpenChannels)
	}
}

func TestHandleMetrics_NoAuth(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})

	rr := doRequest(server, http.MethodGet, "/metrics", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "busdispatch_open_channels") {
		t.Fatalf("expected busdispatch metrics in output")
	}
}

func TestHandleStartDay_Unauthorized(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})

	rr := doRequest(server, http.MethodPost, "/day/monday/start", `{"count":7}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/day/monday/start", strings.NewReader(`{"count":7}`))
	req.Header.Set("Authorization", "Bearer wrong-key-000")
	rr = httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for wrong key, got %d", rr.Code)
	}
}

func TestHandleStartDay_Success(t *testing.T) {
	var gotDay string
	var gotCount int
	days := &mockDays{
		startDayFunc: func(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
			gotDay, gotCount = day, count
			return fullOutcome(), nil
		},
	}
	server := newTestServer(days, &mockRuns{})

	rr := doRequest(server, http.MethodPost, "/day/monday/start", `{"count":7}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotDay != "monday" || gotCount != 7 {
		t.Fatalf("StartDay called with (%q, %d)", gotDay, gotCount)
	}

	var resp StartDayResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != dispatch.StatusSucceeded {
		t.Fatalf("expected status succeeded, got %q", resp.Status)
	}
	if resp.Outcome == nil || resp.TotalDispatched != 7 || len(resp.PerUnit) != 2 {
		t.Fatalf("unexpected outcome: %+v", resp.Outcome)
	}
	if resp.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Error)
	}
}

func TestHandleStartDay_ZeroCount(t *testing.T) {
	days := &mockDays{
		startDayFunc: func(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
			return &dispatch.Outcome{RunID: "run-0", Day: day, PerUnit: []dispatch.Report{}}, nil
		},
	}
	server := newTestServer(days, &mockRuns{})

	rr := doRequest(server, http.MethodPost, "/day/monday/start", `{"count":0}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleStartDay_BadBody(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "missing count", body: `{}`, wantMsg: "count is required"},
		{name: "negative count", body: `{"count":-1}`, wantMsg: "count must be gte 0"},
		{name: "not json", body: `count=3`, wantMsg: "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(server, http.MethodPost, "/day/monday/start", tt.body, true)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantMsg) {
				t.Fatalf("expected error containing %q, got %q", tt.wantMsg, resp.Error)
			}
		})
	}
}

func TestHandleStartDay_ErrorMapping(t *testing.T) {
	partial := &dispatch.Outcome{
		RunID:           "run-2",
		Day:             "monday",
		Requested:       7,
		TotalDispatched: 5,
		PerUnit:         []dispatch.Report{{UnitID: 1, Assigned: 5, Headcount: 5}},
		Failures:        []dispatch.Failure{{UnitID: 2, Assigned: 2, Reason: "unit spawn refused"}},
	}
	partialErr := errors.Join(&dispatch.UnitError{UnitID: 2, Err: dispatch.ErrSpawnRefused})

	tests := []struct {
		name       string
		outcome    *dispatch.Outcome
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "invalid request",
			err:        fmt.Errorf("%w: requested 3 of 2 eligible", dispatch.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
			wantBody:   "requested 3 of 2 eligible",
		},
		{
			name:       "capacity exceeded",
			err:        fmt.Errorf("%w: requested 11", dispatch.ErrCapacityExceeded),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "dispatch capacity exceeded",
		},
		{
			name:       "partial dispatch",
			outcome:    partial,
			err:        partialErr,
			wantStatus: http.StatusBadGateway,
			wantBody:   `"total_dispatched":5`,
		},
		{
			name:       "record failure",
			outcome:    fullOutcome(),
			err:        errors.New("record run run-1: disk full"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "disk full",
		},
		{
			name:       "roster failure",
			err:        errors.New("load roster for monday: db locked"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "failed to start day",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days := &mockDays{
				startDayFunc: func(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
					return tt.outcome, tt.err
				},
			}
			server := newTestServer(days, &mockRuns{})

			rr := doRequest(server, http.MethodPost, "/day/monday/start", `{"count":7}`, true)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Fatalf("expected body containing %q, got %s", tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestHandleStartDay_PartialBody(t *testing.T) {
	days := &mockDays{
		startDayFunc: func(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
			out := fullOutcome()
			out.PerUnit = out.PerUnit[:1]
			out.TotalDispatched = 5
			out.Failures = []dispatch.Failure{{UnitID: 2, Assigned: 2, Reason: "unit spawn refused"}}
			return out, errors.Join(&dispatch.UnitError{UnitID: 2, Err: dispatch.ErrSpawnRefused})
		},
	}
	server := newTestServer(days, &mockRuns{})

	rr := doRequest(server, http.MethodPost, "/day/monday/start", `{"count":7}`, true)
	var resp StartDayResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != dispatch.StatusPartial {
		t.Fatalf("expected status partial, got %q", resp.Status)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].UnitID != 2 {
		t.Fatalf("unexpected failures: %+v", resp.Failures)
	}
	if !strings.Contains(resp.Error, "unit 2") {
		t.Fatalf("expected error naming unit 2, got %q", resp.Error)
	}
}

func TestHandleRoster(t *testing.T) {
	days := &mockDays{
		eligibleFunc: func(ctx context.Context, day string) ([]roster.EligibleWorker, error) {
			if day != "tuesday" {
				t.Errorf("unexpected day %q", day)
			}
			return []roster.EligibleWorker{
				{Name: "ana", Days: []string{"monday", "tuesday"}},
				{Name: "ben", Days: []string{"tuesday"}},
			}, nil
		},
	}
	server := newTestServer(days, &mockRuns{})

	rr := doRequest(server, http.MethodGet, "/roster/tuesday", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp RosterResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 || resp.Workers[1].Name != "ben" {
		t.Fatalf("unexpected roster: %+v", resp)
	}
}

func TestHandleListRuns(t *testing.T) {
	var gotLimit int
	runs := &mockRuns{
		listFunc: func(ctx context.Context, limit int) ([]*ledger.Run, error) {
			gotLimit = limit
			return []*ledger.Run{{ID: "b", Status: ledger.StatusPartial}, {ID: "a", Status: ledger.StatusSucceeded}}, nil
		},
	}
	server := newTestServer(&mockDays{}, runs)

	rr := doRequest(server, http.MethodGet, "/runs?limit=2", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotLimit != 2 {
		t.Fatalf("expected limit 2, got %d", gotLimit)
	}
	var resp RunListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].ID != "b" {
		t.Fatalf("unexpected runs: %+v", resp.Runs)
	}

	rr = doRequest(server, http.MethodGet, "/runs?limit=zero", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rr.Code)
	}
}

func TestHandleGetRun(t *testing.T) {
	runs := &mockRuns{
		getFunc: func(ctx context.Context, id string) (*ledger.Run, error) {
			if id == "run-1" {
				return &ledger.Run{ID: "run-1", Day: "monday", Status: ledger.StatusSucceeded, TotalDispatched: 7}, nil
			}
			return nil, ledger.ErrRunNotFound
		},
	}
	server := newTestServer(&mockDays{}, runs)

	rr := doRequest(server, http.MethodGet, "/runs/run-1", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var run ledger.Run
	if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if run.TotalDispatched != 7 {
		t.Fatalf("unexpected run: %+v", run)
	}

	rr = doRequest(server, http.MethodGet, "/runs/missing", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleListEvents(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})
	server.events.Publish("dispatch.started", map[string]any{"run_id": "r1"})
	server.events.Publish("unit.spawned", map[string]any{"unit_id": 1})
	server.events.Publish("unit.reported", map[string]any{"unit_id": 1})

	rr := doRequest(server, http.MethodGet, "/events?since=1&type=unit.", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp EventListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 || resp.Events[0].Type != "unit.spawned" {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}

	rr = doRequest(server, http.MethodGet, "/events?since=-4", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleEvents_Unauthorized(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})

	rr := doRequest(server, http.MethodGet, "/events/stream", "", false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(w *streamWriter, substr string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), substr) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestHandleEvents_ReplaysThenStreams(t *testing.T) {
	server := newTestServer(&mockDays{}, &mockRuns{})
	server.events.Publish("dispatch.started", map[string]any{"run_id": "r1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	w := newStreamWriter()
	router := server.setupRoutes()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	if !waitFor(w, "event: dispatch.started\n") {
		t.Fatalf("expected replayed event in stream, got: %q", w.String())
	}

	server.events.Publish("unit.reported", map[string]any{"unit_id": 1})
	if !waitFor(w, "event: unit.reported\n") {
		t.Fatalf("expected live event in stream, got: %q", w.String())
	}
	if strings.Count(w.String(), "event: dispatch.started\n") != 1 {
		t.Fatalf("replayed event duplicated: %q", w.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}
