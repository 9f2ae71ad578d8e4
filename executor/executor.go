// Package executor is an HTTP client for the trusted execution environment
// that decrypts workflow datasets and runs the workload.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/collabtee/collabtee/logkeys"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ErrUnavailable is returned for any failed executor call:
// transport errors, timeouts, non-2xx responses and undecodable bodies.
var ErrUnavailable = errors.New("executor unavailable")

const (
	DefaultExecuteTimeout     = 10 * time.Minute
	DefaultLogsTimeout        = 5 * time.Second
	DefaultAttestationTimeout = 10 * time.Second

	// maximum error body included in error messages
	maxErrBody = 512
)

// DatasetRef is one matched dataset and wrapped key of a single owner.
type DatasetRef struct {
	Owner         string `json:"owner"`
	CiphertextRef string `json:"ciphertextRef"`
	WrappedKeyRef string `json:"wrappedKeyRef"`
}

// ExecuteRequest is the body of an execute call.
type ExecuteRequest struct {
	WorkflowID              string       `json:"workflowId"`
	WorkloadRef             string       `json:"workloadRef"`
	Datasets                []DatasetRef `json:"datasets"`
	ResultBaseRef           string       `json:"resultBaseRef"`
	ExecutedArtifactBaseRef string       `json:"executedArtifactBaseRef"`
}

// ExecuteResponse is the response of a successful execute call.
type ExecuteResponse struct {
	ResultRefs          []string `json:"resultRefs"`
	ExecutedArtifactRef string   `json:"executedArtifactRef"`
}

// Attestation is the executor's attestation evidence.
type Attestation struct {
	PublicKeyPEM     string `json:"publicKeyPem"`
	AttestationToken string `json:"attestationToken"`
}

// Client talks to an executor.
// Each call is a single request with a fixed timeout and no retries.
type Client struct {
	baseURL string
	client  *http.Client
	logger  log.Logger

	executeTimeout     time.Duration
	logsTimeout        time.Duration
	attestationTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeouts overrides the per-call timeouts. Zero values keep the default.
func WithTimeouts(execute, logs, attestation time.Duration) Option {
	return func(c *Client) {
		if execute > 0 {
			c.executeTimeout = execute
		}
		if logs > 0 {
			c.logsTimeout = logs
		}
		if attestation > 0 {
			c.attestationTimeout = attestation
		}
	}
}

// New creates a new executor client for the executor at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing executor url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid executor url: %s", baseURL)
	}
	c := &Client{
		baseURL:            baseURL,
		client:             http.DefaultClient,
		logger:             log.NopLogger,
		executeTimeout:     DefaultExecuteTimeout,
		logsTimeout:        DefaultLogsTimeout,
		attestationTimeout: DefaultAttestationTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// endpoint escapes each path element and appends it to the base URL.
func (c *Client) endpoint(elem ...string) string {
	u := c.baseURL
	for _, e := range elem {
		u += "/" + url.PathEscape(e)
	}
	return u
}

// do performs one request bounded by timeout and returns the 2xx response body.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, endpoint string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrBody {
			respBody = respBody[:maxErrBody]
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

// Execute asks the executor to run the workload over the datasets.
// It blocks until the executor responds or the execute timeout elapses.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, errors.New("nil execute request")
	}
	logger := ctxlog.Logger(ctx, c.logger)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}
	start := time.Now()
	respBody, err := c.do(ctx, c.executeTimeout, http.MethodPost, c.endpoint("execute"), body)
	if err != nil {
		logger.Info(
			logkeys.Message, "execute",
			logkeys.WorkflowID, req.WorkflowID,
			logkeys.Duration, time.Since(start).String(),
			logkeys.Error, err,
		)
		return nil, err
	}
	resp := new(ExecuteResponse)
	if err = json.Unmarshal(respBody, resp); err != nil {
		return nil, fmt.Errorf("%w: decoding execute response: %v", ErrUnavailable, err)
	}
	logger.Debug(
		logkeys.Message, "execute",
		logkeys.WorkflowID, req.WorkflowID,
		logkeys.GenericCount, len(req.Datasets),
		"results", len(resp.ResultRefs),
		logkeys.Duration, time.Since(start).String(),
	)
	return resp, nil
}

// Logs fetches the executor's opaque log payload for a workflow.
func (c *Client) Logs(ctx context.Context, workflowID string) ([]byte, error) {
	if workflowID == "" {
		return nil, errors.New("empty workflow id")
	}
	return c.do(ctx, c.logsTimeout, http.MethodGet, c.endpoint("logs", workflowID), nil)
}

// Attestation fetches the executor's attestation evidence.
func (c *Client) Attestation(ctx context.Context) (*Attestation, error) {
	respBody, err := c.do(ctx, c.attestationTimeout, http.MethodGet, c.endpoint("attestation"), nil)
	if err != nil {
		return nil, err
	}
	a := new(Attestation)
	if err = json.Unmarshal(respBody, a); err != nil {
		return nil, fmt.Errorf("%w: decoding attestation: %v", ErrUnavailable, err)
	}
	return a, nil
}
