package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"resultRefs":["out/results/W/result/a.csv","out/results/W/result/b.csv"],"executedArtifactRef":"out/results/W/executed/run.tar"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/")
	require.NoError(t, err)

	resp, err := c.Execute(context.Background(), &ExecuteRequest{
		WorkflowID:  "W",
		WorkloadRef: "workloads/train.tar",
		Datasets: []DatasetRef{
			{Owner: "A", CiphertextRef: "up/A/D1", WrappedKeyRef: "keys/A/D1"},
		},
		ResultBaseRef:           "out/results/W/result",
		ExecutedArtifactBaseRef: "out/results/W/executed",
	})
	require.NoError(t, err)
	assert.Len(t, resp.ResultRefs, 2)
	assert.Equal(t, "out/results/W/executed/run.tar", resp.ExecutedArtifactRef)

	// camelCase wire names
	assert.Equal(t, "W", got["workflowId"])
	assert.Equal(t, "out/results/W/result", got["resultBaseRef"])
	assert.Equal(t, "out/results/W/executed", got["executedArtifactBaseRef"])
	datasets, ok := got["datasets"].([]interface{})
	require.True(t, ok)
	require.Len(t, datasets, 1)
	assert.Equal(t, "keys/A/D1", datasets[0].(map[string]interface{})["wrappedKeyRef"])
}

func TestExecuteErrors(t *testing.T) {
	for _, test := range []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non_2xx", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "enclave crashed", http.StatusInternalServerError)
		}},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}},
	} {
		t.Run(test.name, func(t *testing.T) {
			srv := httptest.NewServer(test.handler)
			defer srv.Close()

			c, err := New(srv.URL, WithTimeouts(50*time.Millisecond, 0, 0))
			require.NoError(t, err)

			_, err = c.Execute(context.Background(), &ExecuteRequest{WorkflowID: "W"})
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestExecuteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), &ExecuteRequest{WorkflowID: "W"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLogsAndAttestation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/logs/W%201":
			w.Write([]byte("line 1\nline 2\n"))
		case "/attestation":
			w.Write([]byte(`{"publicKeyPem":"-----BEGIN PUBLIC KEY-----","attestationToken":"tok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	logs, err := c.Logs(context.Background(), "W 1")
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n", string(logs))

	_, err = c.Logs(context.Background(), "other")
	assert.ErrorIs(t, err, ErrUnavailable)

	a, err := c.Attestation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", a.AttestationToken)
	assert.Equal(t, "-----BEGIN PUBLIC KEY-----", a.PublicKeyPEM)
}

func TestNewInvalidURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}
