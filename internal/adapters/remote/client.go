// Package remote implements the analysis job and results APIs over HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/internal/metrics"
	"github.com/TeneoProtocolAI/walletscan/pkg/version"
)

const (
	opStart   = "start"
	opStatus  = "status"
	opResults = "results"

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 8 << 20
)

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ErrorResponse is the error body returned by the analysis service.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client talks to the analysis service. It implements domain.RemoteAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger
}

var _ domain.RemoteAPI = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Only transport failures trip the breaker. A structured rejection means
	// the service is up.
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis-api",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransport(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.log.Infow("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	return c
}

// Start asks the service to begin or resume analysis of key.
func (c *Client) Start(ctx context.Context, key string) (*domain.StartResponse, error) {
	var out domain.StartResponse
	if err := c.do(ctx, opStart, http.MethodPost, analysisPath(key, "start"), nil, &out); err != nil {
		return nil, err
	}
	if out.Status != "" && !out.Status.Valid() {
		return nil, c.malformed(opStart, out.Status)
	}
	return &out, nil
}

// Status fetches the job status for key. A 404 is reported as not_found.
func (c *Client) Status(ctx context.Context, key string) (*domain.StatusResponse, error) {
	var out domain.StatusResponse
	err := c.do(ctx, opStatus, http.MethodGet, analysisPath(key, "status"), nil, &out)
	var re *domain.RemoteError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return &domain.StatusResponse{Status: domain.StatusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !out.Status.Valid() {
		return nil, c.malformed(opStatus, out.Status)
	}
	return &out, nil
}

func (c *Client) malformed(op string, status domain.JobStatus) error {
	c.metrics.IncRequestError(op, "transport")
	return &domain.TransportError{Op: op, Err: fmt.Errorf("unknown job status %q", status)}
}

// Results fetches one 1-based page of token findings.
func (c *Client) Results(ctx context.Context, key string, page, limit int) (*domain.ResultPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var out domain.ResultPage
	if err := c.do(ctx, opResults, http.MethodGet, analysisPath(key, "results"), query, &out); err != nil {
		return nil, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	for i := range out.Records {
		out.Records[i] = out.Records[i].Derive()
	}
	return &out, nil
}

func analysisPath(key, action string) string {
	return "/analysis/" + url.PathEscape(key) + "/" + action
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, query, out)
	})
	c.metrics.ObserveRequest(op, time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.TransportError{Op: op, Err: err}
	}
	if err != nil {
		kind := "transport"
		if domain.IsRemote(err) {
			kind = "remote"
		}
		c.metrics.IncRequestError(op, kind)
		return err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Client-Version", version.Version())
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &domain.TransportError{Op: op, Err: fmt.Errorf("failed to get session token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			c.log.Debugw("Request rejected",
				"op", op,
				"request_id", requestID,
				"status", resp.StatusCode,
				"error", errResp.Error)
			return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &domain.TransportError{
			Op:  op,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
