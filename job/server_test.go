package job_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis"
	"github.com/pixelvault/moderation-server/job"
	"github.com/pixelvault/moderation-server/testutil"
)

func setupServer(t *testing.T) (*env, string) {
	e := setup(t)
	server := job.NewServer(zap.NewNop(), e.orch)
	srv := testutil.RunTestServer(t, func(ec *echo.Echo) {
		server.RegisterRoutes(ec)
	})
	return e, srv.URL
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestServer_SubmitAndStatus(t *testing.T) {
	e, base := setupServer(t)

	resp := postJSON(t, base+"/v1/moderation/jobs", map[string]any{
		"ownerId":   "owner-1",
		"bucket":    "job-bucket",
		"imageKeys": []string{"in/one.jpg", "in/two.jpg"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted struct {
		JobID       string `json:"jobId"`
		Status      string `json:"status"`
		TotalImages int    `json:"totalImages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)
	require.Equal(t, "submitted", submitted.Status)
	require.Equal(t, 2, submitted.TotalImages)

	// Still processing: no results in the response.
	stored, err := e.jobs.GetJob(context.Background(), submitted.JobID)
	require.NoError(t, err)
	e.analysis.SetStatus(stored.ExternalJobID, analysis.Status{State: analysis.StateInProgress})

	statusURL := fmt.Sprintf("%s/v1/moderation/jobs/%s/status", base, submitted.JobID)
	res, err := http.Get(statusURL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status struct {
		Status   string          `json:"status"`
		Progress int             `json:"progress"`
		Results  json.RawMessage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	require.Equal(t, "processing", status.Status)
	require.Greater(t, status.Progress, 0)
	require.Empty(t, status.Results)
}

func TestServer_SubmitValidation(t *testing.T) {
	_, base := setupServer(t)

	resp := postJSON(t, base+"/v1/moderation/jobs", map[string]any{
		"bucket": "job-bucket",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StatusNotFound(t *testing.T) {
	_, base := setupServer(t)

	res, err := http.Get(base + "/v1/moderation/jobs/no-such-job/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
