package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
	"github.com/CharanSaiVaddi/blockctl/internal/remote"
	"github.com/CharanSaiVaddi/blockctl/internal/worker"
)

type fakeEngine struct {
	result   worker.Result
	status   worker.Status
	merge    bool
	requests []worker.StartRequest
	calls    []string
}

func (f *fakeEngine) Start(ctx context.Context, req worker.StartRequest) worker.Result {
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeEngine) CanMerge(sourceID string, mode job.Mode, thread bool) bool {
	f.calls = append(f.calls, "can-merge:"+sourceID+":"+mode.String())
	return f.merge
}

func (f *fakeEngine) Stop()            { f.calls = append(f.calls, "stop") }
func (f *fakeEngine) ForceStop()       { f.calls = append(f.calls, "force-stop") }
func (f *fakeEngine) ResetStuckState() { f.calls = append(f.calls, "reset") }
func (f *fakeEngine) Status() worker.Status {
	return f.status
}

type fixedEvents struct {
	events []progress.Event
}

func (f fixedEvents) Subscribe(buf int) (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, func() {}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Errors  []string        `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, s *Server, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func TestStartJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     worker.Result
		wantCode   int
		wantStatus string
		wantMsg    string
	}{
		{
			name:       "started",
			body:       `{"source_id":"100","mode":"mute"}`,
			result:     worker.Result{Success: true, Message: "Starting: 3 accounts to mute"},
			wantCode:   http.StatusAccepted,
			wantStatus: "success",
		},
		{
			name:       "merge rejected",
			body:       `{"source_id":"100","mode":"block"}`,
			result:     worker.Result{Error: "incompatible", Err: &worker.MergeRejectedError{SourceID: "100", Reason: worker.IncompatibleParams}},
			wantCode:   http.StatusConflict,
			wantStatus: "error",
			wantMsg:    "incompatible",
		},
		{
			name:       "no favorites",
			body:       `{"source_id":"100","mode":"mute"}`,
			result:     worker.Result{Error: "Post 100 has no favorites", Err: &remote.ListFetchError{SourceID: "100", Kind: remote.NoFavorites}},
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: "error",
			wantMsg:    "Post 100 has no favorites",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{result: tt.result}
			s := NewServer(engine, fixedEvents{}, quietLogger())

			code, env := do(t, s, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, env.Status)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, env.Message)
			}
			require.Len(t, engine.requests, 1)
			assert.Equal(t, "100", engine.requests[0].SourceID)
		})
	}
}

func TestStartJobMergeRejectionReason(t *testing.T) {
	engine := &fakeEngine{result: worker.Result{Error: "dup", Err: &worker.MergeRejectedError{SourceID: "7", Reason: worker.DuplicateSource}}}
	s := NewServer(engine, fixedEvents{}, quietLogger())

	code, env := do(t, s, http.MethodPost, "/api/v1/jobs", `{"source_id":"7","mode":"mute"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(worker.DuplicateSource), env.Reason)
}

func TestStartJobValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing source", body: `{"mode":"mute"}`},
		{name: "non numeric source", body: `{"source_id":"abc","mode":"mute"}`},
		{name: "unknown mode", body: `{"source_id":"1","mode":"ban"}`},
		{name: "note too long", body: `{"source_id":"1","mode":"mute","custom_note":"` + strings.Repeat("x", 501) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			s := NewServer(engine, fixedEvents{}, quietLogger())

			code, env := do(t, s, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", env.Status)
			assert.NotEmpty(t, env.Errors)
			assert.Empty(t, engine.requests)
		})
	}
}

func TestStartJobPassesOptions(t *testing.T) {
	engine := &fakeEngine{result: worker.Result{Success: true}}
	s := NewServer(engine, fixedEvents{}, quietLogger())

	code, _ := do(t, s, http.MethodPost, "/api/v1/jobs", `{"source_id":"42","mode":"block","include_thread_blocking":true,"custom_note":"spam ring"}`)
	require.Equal(t, http.StatusAccepted, code)
	require.Len(t, engine.requests, 1)
	assert.Equal(t, worker.StartRequest{SourceID: "42", Mode: job.ModeBlock, IncludeThreadBlocking: true, CustomNote: "spam ring"}, engine.requests[0])
}

func TestControlRoutes(t *testing.T) {
	engine := &fakeEngine{status: worker.Status{IsProcessing: true, SourceIDs: []string{"1"}, TotalCount: 4, Mode: job.ModeMute, State: job.StateCooldown}}
	s := NewServer(engine, fixedEvents{}, quietLogger())

	for _, path := range []string{"/api/v1/jobs/stop", "/api/v1/jobs/force-stop", "/api/v1/jobs/reset"} {
		code, env := do(t, s, http.MethodPost, path, "")
		assert.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "success", env.Status, path)
	}
	assert.Equal(t, []string{"stop", "force-stop", "reset"}, engine.calls)

	code, env := do(t, s, http.MethodGet, "/api/v1/jobs/status", "")
	require.Equal(t, http.StatusOK, code)
	var st worker.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, engine.status, st)
}

func TestCanMerge(t *testing.T) {
	engine := &fakeEngine{merge: true}
	s := NewServer(engine, fixedEvents{}, quietLogger())

	code, env := do(t, s, http.MethodGet, "/api/v1/jobs/can-merge?source_id=9&mode=mute", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"canMerge":true}`, string(env.Data))
	assert.Equal(t, []string{"can-merge:9:mute"}, engine.calls)

	code, _ = do(t, s, http.MethodGet, "/api/v1/jobs/can-merge?source_id=9&mode=nope", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	s := NewServer(&fakeEngine{}, fixedEvents{}, quietLogger())
	code, env := do(t, s, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", env.Status)
}

func TestEventStream(t *testing.T) {
	events := fixedEvents{events: []progress.Event{
		{Action: progress.ActionShow, Total: 2, Message: "Starting: 2 accounts to mute"},
		{Action: progress.ActionUpdate, Current: 1, Total: 2, Message: "Next account in 3s", CountdownSeconds: progress.Countdown(3)},
	}}
	s := NewServer(&fakeEngine{}, events, quietLogger())

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "event: show\ndata: {\"action\":\"show\",\"current\":0,\"total\":2,\"message\":\"Starting: 2 accounts to mute\"}\n\n")
	assert.Contains(t, body, `"countdownSeconds":3`)
}

func TestHealthz(t *testing.T) {
	s := NewServer(&fakeEngine{}, fixedEvents{}, quietLogger())
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFormatValidationErrors(t *testing.T) {
	type sample struct {
		Mode string `validate:"oneof=mute block"`
	}
	s := NewServer(&fakeEngine{}, fixedEvents{}, quietLogger())
	lines := FormatValidationErrors(s.validate.Struct(sample{Mode: "x"}))
	assert.Equal(t, []string{"Field 'Mode' failed on the 'oneof' tag (value: mute block)"}, lines)
	assert.Nil(t, FormatValidationErrors(nil))
}
