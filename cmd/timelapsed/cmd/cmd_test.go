package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sireskandari/Aransite/pkg/api"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/profile"
)

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func TestPrintStructured(t *testing.T) {
	p := profile.Resolve("high", profile.Overrides{})

	tests := []struct {
		format   string
		wantDone bool
		wantErr  bool
		contains string
	}{
		{"json", true, false, `"preset": "slow"`},
		{"yaml", true, false, "preset: slow"},
		{"table", false, false, ""},
		{"xml", false, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			withOutput(t, tt.format)
			var buf bytes.Buffer
			done, err := printStructured(&buf, p)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Contains(t, buf.String(), tt.contains)
		})
	}
}

func TestOverridesFromFlags(t *testing.T) {
	c := &cobra.Command{Use: "profile"}
	c.Flags().Int("fps", 0, "")
	c.Flags().Int("width", 0, "")
	c.Flags().Int("max-frames", 0, "")
	require.NoError(t, c.Flags().Parse([]string{"--fps", "200", "--width", "0"}))

	o := overridesFromFlags(c)

	require.NotNil(t, o.FPS)
	assert.Equal(t, 200, *o.FPS)
	require.NotNil(t, o.Width)
	assert.Equal(t, 0, *o.Width)
	assert.Nil(t, o.MaxFrames, "unset flags must not override the tier")

	p := profile.Resolve("low", o)
	assert.Equal(t, 60, p.FPS)
	assert.Equal(t, 0, p.Width)
	assert.Equal(t, 2000, p.MaxFrames)
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeFlag("from", "2024-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, "--to")
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/timelapse/generate-from-edge":
			var req models.GenerateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			status := http.StatusAccepted
			resp := api.GenerateResponse{ID: "job-1", Status: models.StatusPending}
			if req.Quality == "busy" {
				status = http.StatusServiceUnavailable
				resp = api.GenerateResponse{ID: "job-2", Status: models.StatusFailed, Error: "job queue is full"}
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	prev := v.GetString("client.server")
	v.Set("client.server", srv.URL+"/")
	t.Cleanup(func() { v.Set("client.server", prev) })

	ctx := context.Background()

	var resp api.GenerateResponse
	code, err := doJSON(ctx, http.MethodPost, "/api/v1/timelapse/generate-from-edge", models.GenerateRequest{}, &resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "job-1", resp.ID)

	resp = api.GenerateResponse{}
	code, err = doJSON(ctx, http.MethodPost, "/api/v1/timelapse/generate-from-edge", models.GenerateRequest{Quality: "busy"}, &resp)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "job-2", resp.ID, "503 bodies still carry the recorded job id")

	_, err = fetchJob(ctx, "missing")
	assert.EqualError(t, err, "job missing not found")
}
