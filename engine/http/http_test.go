package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/collabtee/collabtee/engine"
	"github.com/collabtee/collabtee/engine/storage/inmem"
	"github.com/collabtee/collabtee/executor"
	"github.com/collabtee/collabtee/http/api"
	objkv "github.com/collabtee/collabtee/objstore/kv"
	"github.com/collabtee/collabtee/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/storage/kv/kvmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	err error
}

func (f *fakeExecutor) Execute(_ context.Context, req *executor.ExecuteRequest) (*executor.ExecuteResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &executor.ExecuteResponse{
		ResultRefs:          []string{req.ResultBaseRef + "/a.csv", req.ResultBaseRef + "/b.csv"},
		ExecutedArtifactRef: req.ExecutedArtifactBaseRef + "/run.tar",
	}, nil
}

func (f *fakeExecutor) Logs(_ context.Context, workflowID string) ([]byte, error) {
	return []byte("log line for " + workflowID), f.err
}

func (f *fakeExecutor) Attestation(_ context.Context) (*executor.Attestation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Attestation{PublicKeyPEM: "pem", AttestationToken: "token"}, nil
}

type server struct {
	*httptest.Server
	objects *objkv.KV
	exec    *fakeExecutor
}

func newServer(t *testing.T) *server {
	t.Helper()
	mux := flow.New()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	objects, err := objkv.New(kvmap.New(), srv.URL+"/objects", []byte("secret"))
	require.NoError(t, err)
	mux.Handle("/objects/...", http.StripPrefix("/objects", objects.Handler()), "GET", "PUT", "HEAD")

	exec := new(fakeExecutor)
	e := engine.New(inmem.New(), exec, objects, "workloads/train.tar")
	HandleAPIv1("/v1", mux, log.NopLogger, e)
	return &server{Server: srv, objects: objects, exec: exec}
}

// do sends a JSON request and decodes a JSON response into out (if not nil).
func (s *server) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *server) put(t *testing.T, url string, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (s *server) uploadDataset(t *testing.T, workflowID, creatorID, ownerID string) {
	t.Helper()
	var u engine.Upload
	code := s.do(t, "POST", "/v1/workflows/"+workflowID+"/uploads", map[string]string{
		"creator_id": creatorID,
		"owner_id":   ownerID,
	}, &u)
	require.Equal(t, http.StatusOK, code)

	s.put(t, u.CiphertextURL, "ciphertext")
	s.put(t, u.WrappedKeyURL, "wrapped")

	body := map[string]string{
		"creator_id": creatorID,
		"owner_id":   ownerID,
		"dataset_id": u.DatasetID,
		"filename":   "data.csv",
	}
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/v1/workflows/"+workflowID+"/datasets", body, nil))
	delete(body, "filename")
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/v1/workflows/"+workflowID+"/keys", body, nil))
}

func TestWorkflowLifecycle(t *testing.T) {
	s := newServer(t)

	var created struct {
		WorkflowID string          `json:"workflow_id"`
		Status     workflow.Status `json:"status"`
	}
	code := s.do(t, "POST", "/v1/workflows", map[string]interface{}{
		"workflow_id":      "W",
		"creator_id":       "A",
		"collaborator_ids": []string{"B", "C"},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "W", created.WorkflowID)
	assert.Equal(t, workflow.StatusPendingApproval, created.Status)

	s.uploadDataset(t, "W", "A", "A")
	s.uploadDataset(t, "W", "A", "C")

	var apiErr api.ErrorResponse
	var approval map[string]interface{}
	code = s.do(t, "POST", "/v1/workflows/W/approval", map[string]interface{}{
		"creator_id":  "A",
		"approver_id": "B",
		"approved":    true,
	}, &approval)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "W", approval["workflow_id"])
	assert.Equal(t, "approved", approval["approval_label"])

	runBody := map[string]interface{}{
		"creator_id":       "A",
		"collaborator_ids": []string{"B", "C"},
	}
	code = s.do(t, "POST", "/v1/workflows/W/run", runBody, &apiErr)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NotApproved", apiErr.Kind)
	assert.Contains(t, apiErr.Err, "C")

	code = s.do(t, "GET", "/v1/workflows/W/results?creator_id=A", nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", apiErr.Kind)

	code = s.do(t, "POST", "/v1/workflows/W/approval", map[string]interface{}{
		"creator_id":  "A",
		"approver_id": "C",
		"approved":    true,
	}, nil)
	require.Equal(t, http.StatusOK, code)

	var ret engine.RunResult
	code = s.do(t, "POST", "/v1/workflows/W/run", runBody, &ret)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StatusCompleted, ret.Status)
	assert.Equal(t, 2, ret.DatasetCount)
	assert.Len(t, ret.ResultRefs, 2)

	var wf workflow.Workflow
	code = s.do(t, "GET", "/v1/workflows/W?creator_id=A", nil, &wf)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StatusCompleted, wf.Status)

	var results engine.Results
	code = s.do(t, "GET", "/v1/workflows/W/results?creator_id=A", nil, &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results.Results, 2)
	for _, r := range results.Results {
		assert.True(t, strings.HasPrefix(r.DownloadURL, s.URL+"/objects/"), r.DownloadURL)
		assert.True(t, strings.HasPrefix(r.ResultRef, "outputs/results/A/W/"), r.ResultRef)
	}

	// another creator's W has no results
	code = s.do(t, "GET", "/v1/workflows/W/results?creator_id=X", nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)

	code = s.do(t, "POST", "/v1/workflows/W/run", runBody, &apiErr)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Conflict", apiErr.Kind)

	var ws []*workflow.Workflow
	code = s.do(t, "GET", "/v1/workflows?creator_id=A", nil, &ws)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, ws, 1)

	var stats map[string]interface{}
	code = s.do(t, "GET", "/v1/stats/A", nil, &stats)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, stats["total_workflows"])
	assert.EqualValues(t, 0, stats["active_workflows"])
	assert.EqualValues(t, 1, stats["completed_workflows"])
	assert.EqualValues(t, 1, stats["total_datasets"])
	assert.EqualValues(t, 2, stats["total_results"])
	assert.Len(t, stats["recent_workflows"], 1)
}

func TestCreateWorkflowGeneratesID(t *testing.T) {
	s := newServer(t)

	var created struct {
		WorkflowID string `json:"workflow_id"`
	}
	code := s.do(t, "POST", "/v1/workflows", map[string]interface{}{
		"creator_id":       "A",
		"collaborator_ids": []string{"B"},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, created.WorkflowID)
}

func TestBadRequests(t *testing.T) {
	s := newServer(t)

	for _, test := range []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
		kind   string
	}{
		{"no_collaborators", "POST", "/v1/workflows", map[string]interface{}{"creator_id": "A"}, 400, "InvalidArgument"},
		{"unknown_field", "POST", "/v1/workflows", map[string]interface{}{"creator": "A"}, 400, "InvalidArgument"},
		{"no_decision", "POST", "/v1/workflows/W/approval", map[string]interface{}{"creator_id": "A", "approver_id": "B"}, 400, "InvalidArgument"},
		{"approval_no_creator", "POST", "/v1/workflows/W/approval", map[string]interface{}{"approver_id": "B", "approved": true}, 400, "InvalidArgument"},
		{"results_no_creator", "GET", "/v1/workflows/W/results", nil, 400, "InvalidArgument"},
		{"no_creator", "GET", "/v1/workflows", nil, 400, "InvalidArgument"},
		{"missing_workflow", "GET", "/v1/workflows/nope?creator_id=A", nil, 404, "NotFound"},
		{"upload_missing_workflow", "POST", "/v1/workflows/nope/uploads", map[string]interface{}{"creator_id": "A", "owner_id": "A"}, 404, "NotFound"},
	} {
		t.Run(test.name, func(t *testing.T) {
			var apiErr api.ErrorResponse
			code := s.do(t, test.method, test.path, test.body, &apiErr)
			assert.Equal(t, test.code, code)
			assert.Equal(t, test.kind, apiErr.Kind)
			assert.NotEmpty(t, apiErr.Err)
		})
	}
}

func TestExecutorPassthrough(t *testing.T) {
	s := newServer(t)

	resp, err := s.Client().Get(s.URL + "/v1/workflows/W/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "log line for W", buf.String())

	var a executor.Attestation
	require.Equal(t, http.StatusOK, s.do(t, "GET", "/v1/attestation", nil, &a))
	assert.Equal(t, "token", a.AttestationToken)

	s.exec.err = executor.ErrUnavailable
	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusBadGateway, s.do(t, "GET", "/v1/attestation", nil, &apiErr))
	assert.Equal(t, "ExecutorUnavailable", apiErr.Kind)
}
