// Package backend is the REST client for the backend of record: trade
// snapshots, lot sizes, candle history, service heartbeats and price-level
// commits.
package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/go-querystring/query"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradedesk/internal/config"
	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/resilience"
)

// Breaker names. Reads and commits trip independently so a failing GET does
// not block level edits.
const (
	BreakerRead   = "read"
	BreakerCommit = "commit"
)

// Config holds client settings.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
	// Breakers is created from resilience defaults when nil.
	Breakers *resilience.CircuitBreakerRegistry
	Logger   zerolog.Logger
}

// ConfigFrom maps file configuration onto client settings.
func ConfigFrom(cfg config.BackendConfig, logger zerolog.Logger) Config {
	return Config{
		BaseURL:    cfg.URL,
		Token:      cfg.Token,
		Timeout:    cfg.Timeout,
		RatePerSec: cfg.RatePerSec,
		Burst:      cfg.Burst,
		Logger:     logger,
	}
}

// Client talks to the backend of record.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	breakers *resilience.CircuitBreakerRegistry
	logger   zerolog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	breakers := cfg.Breakers
	if breakers == nil {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.IsFailure = IsServerFailure
		breakers = resilience.NewCircuitBreakerRegistry(bc)
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breakers: breakers,
		logger:   cfg.Logger.With().Str("component", "backend").Logger(),
	}
}

// Breakers exposes the client's circuit breakers.
func (c *Client) Breakers() *resilience.CircuitBreakerRegistry {
	return c.breakers
}

// IsServerFailure reports whether err should count against a circuit: 5xx
// responses and transport failures do, client errors and cancellation do not.
func IsServerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *errors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 0 || apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

// envelope is the {data: ...} wrapper every read endpoint answers with.
type envelope[T any] struct {
	Data T `json:"data"`
}

// get decodes the data field of a GET response.
func get[T any](ctx context.Context, c *Client, path string, params interface{}) (T, error) {
	var env envelope[T]
	err := c.do(ctx, BreakerRead, http.MethodGet, path, params, nil, &env)
	return env.Data, err
}

// do sends one request through the rate limiter and the named breaker.
func (c *Client) do(ctx context.Context, breaker, method, path string, params, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for rate limiter")
	}

	start := time.Now()
	err := c.breakers.Get(breaker).Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, params, body, out)
	})
	logging.LogAPICall(c.logger, method, path, time.Since(start), err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params, body, out interface{}) error {
	target := c.baseURL + path
	if params != nil {
		values, err := query.Values(params)
		if err != nil {
			return errors.Wrap(err, "encoding query")
		}
		if enc := values.Encode(); enc != "" {
			target += "?" + enc
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.NewAPIError(0, path, "request failed", errors.Wrap(errors.ErrConnectionFailed, err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewAPIError(resp.StatusCode, path, "reading response", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewAPIError(resp.StatusCode, path, errorMessage(data, resp.Status), nil)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.NewAPIError(resp.StatusCode, path, "invalid response body", errors.Wrap(errors.ErrMalformedPayload, err.Error()))
	}
	return nil
}

// errorMessage extracts {message} or {error} from an error body, falling
// back to the status text.
func errorMessage(body []byte, status string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return logging.RedactSecrets(payload.Message)
		}
		if payload.Error != "" {
			return logging.RedactSecrets(payload.Error)
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		return logging.RedactSecrets(text)
	}
	return status
}
