package shifts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnreachable = errors.New("shifts server unreachable")
	ErrTimeout     = errors.New("shifts server timed out")
	ErrNoShifts    = errors.New("no shifts found")
)

// APIError is a non-success response from the shifts server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error %d", e.Status)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// Client talks to the shifts server, which wraps the remote scheduling API
// and owns the bearer token.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
	maxRetries    int
	backoff       func(attempt int) time.Duration
	cache         *ScheduleCache
	logger        *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		healthTimeout: 2500 * time.Millisecond,
		maxRetries:    2,
		backoff:       backoff,
		cache:         NewScheduleCache(cacheTTL),
		logger:        logger,
	}
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, []byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	url := c.baseURL + path
	c.logger.Debug("shifts API request", "method", method, "path", path)

	var resp *http.Response
	requestStart := time.Now()
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-store")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if attempt == c.maxRetries || ctx.Err() != nil {
				c.logger.Error("API request transport error", "method", method, "path", path, "error", err, "elapsed", time.Since(requestStart))
				return nil, nil, classifyTransport(err)
			}
			c.logger.Debug("API request transport error, retrying", "method", method, "path", path, "attempt", attempt+1, "error", err)
			sleep(ctx, c.backoff(attempt))
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt == c.maxRetries {
				break
			}
			resp.Body.Close()
			c.logger.Debug("API request retryable error", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			sleep(ctx, c.backoff(attempt))
			continue
		}
		break
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("shifts API response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(respBody), "elapsed", time.Since(requestStart))

	return resp, respBody, nil
}

func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// errorMessage pulls a human-readable message out of a failed response.
func errorMessage(resp *http.Response, body []byte) string {
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var data struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &data); err == nil {
			if data.Message != "" {
				return data.Message
			}
			return data.Error
		}
		return ""
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// FetchShifts returns the personal, non-deleted shifts for email. An empty
// email asks the server for the unfiltered schedule.
func (c *Client) FetchShifts(ctx context.Context, email string) ([]RawShift, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("no base URL configured")
	}
	if cached := c.cache.Get(email); cached != nil {
		c.logger.Debug("using cached schedule", "email", email, "count", len(cached))
		return cached, nil
	}

	resp, body, err := c.doRequest(ctx, http.MethodPost, "/shifts/me", scheduleRequest{Email: email, APIKey: c.apiKey})
	if err != nil {
		return nil, fmt.Errorf("fetching shifts from %s: %w", c.baseURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(resp, body)}
		c.logger.Error("API request failed", "status", resp.StatusCode, "response", truncate(string(body), 200))
		return nil, apiErr
	}

	var data ScheduleResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parsing schedule response: %w", err)
	}

	shifts := FilterPersonal(data.Shifts, data.UserID)
	if len(shifts) == 0 {
		return nil, ErrNoShifts
	}

	c.logger.Debug("schedule fetched", "email", email, "received", len(data.Shifts), "kept", len(shifts))
	c.cache.Set(email, shifts)
	return shifts, nil
}

// Health queries GET /health. It never returns an error; failures are
// reported in the result.
func (c *Client) Health(ctx context.Context) Health {
	h := Health{BaseURL: c.baseURL}
	if c.baseURL == "" {
		h.Message = "No baseUrl configured"
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		h.Message = "Health check failed"
		return h
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(classifyTransport(err), ErrTimeout) {
			h.Message = "Health check timeout"
		} else {
			h.Message = "Health check failed"
		}
		c.logger.Debug("health check failed", "error", err)
		return h
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return h
	}

	var data struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &data); err != nil || !data.OK {
		h.Message = data.Message
		if h.Message == "" {
			h.Message = "Service not ready"
		}
		return h
	}

	h.OK = true
	h.Message = "Service ready"
	return h
}
