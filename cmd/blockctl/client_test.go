package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharanSaiVaddi/blockctl/internal/api"
	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/worker"
)

func TestAPIClientStart(t *testing.T) {
	var got api.StartJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"success","data":{"message":"Starting: 4 accounts to block","job":{"isProcessing":true,"sourceIds":["12"],"totalCount":4,"mode":"block","state":"running"}}}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")
	out, err := c.start(context.Background(), api.StartJobRequest{SourceID: "12", Mode: "block", IncludeThreadBlocking: true})
	require.NoError(t, err)
	assert.Equal(t, "Starting: 4 accounts to block", out.Message)
	assert.Equal(t, 4, out.Job.TotalCount)
	assert.Equal(t, job.StateRunning, out.Job.State)
	assert.Equal(t, api.StartJobRequest{SourceID: "12", Mode: "block", IncludeThreadBlocking: true}, got)
}

func TestAPIClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr string
	}{
		{name: "merge rejected", code: http.StatusConflict, body: `{"status":"error","message":"post 1 is already part of the running job","reason":"duplicate-source"}`, wantErr: "post 1 is already part of the running job"},
		{name: "validation", code: http.StatusBadRequest, body: `{"status":"error","message":"Validation failed","errors":["Field 'Mode' failed on the 'oneof' tag"]}`, wantErr: "Validation failed: Field 'Mode' failed on the 'oneof' tag"},
		{name: "not json", code: http.StatusBadGateway, body: `<html>`, wantErr: "decode /api/v1/jobs/stop response (502)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newAPIClient(srv.URL).control(context.Background(), "stop")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, worker.Status{
		IsProcessing:   true,
		SourceIDs:      []string{"100", "200"},
		ProcessedCount: 3,
		SkippedCount:   1,
		ErrorCount:     2,
		TotalCount:     9,
		Mode:           job.ModeMute,
		State:          job.StateCooldown,
	})
	out := buf.String()
	assert.Contains(t, out, "cooldown")
	assert.Contains(t, out, "100, 200")
	assert.Contains(t, out, "4 / 9")

	buf.Reset()
	renderStatus(&buf, worker.Status{State: job.StateIdle})
	assert.Contains(t, buf.String(), "idle")
	assert.NotContains(t, buf.String(), "Progress")
}
