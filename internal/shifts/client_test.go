package shifts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "secret", 2*time.Second, time.Minute, nil)
	c.backoff = func(int) time.Duration { return 0 }
	return c, srv
}

const schedulePayload = `{
  "filtered": true,
  "email": "abc123@mau.se",
  "userId": "u-1",
  "count": 3,
  "shifts": [
    {"id": "s1", "userId": "u-1", "sharedShift": {"displayName": "Kväll", "notes": " OR:TEK ", "startDateTime": "2026-02-24T07:00:00Z", "endDateTime": "2026-02-24T19:00:00Z"}},
    {"id": "s2", "userId": "u-1", "isStagedForDeletion": true, "sharedShift": {"displayName": "Dag", "startDateTime": "2026-02-25T07:00:00Z", "endDateTime": "2026-02-25T09:00:00Z"}},
    {"id": "s3", "userId": "u-2", "sharedShift": {"displayName": "Other", "startDateTime": "2026-02-26T07:00:00Z", "endDateTime": "2026-02-26T09:00:00Z"}}
  ]
}`

func TestFetchShifts_FiltersAndCaches(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shifts/me", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc123@mau.se", body["email"])
		assert.Equal(t, "secret", body["apiKey"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(schedulePayload))
	}))

	got, err := c.FetchShifts(context.Background(), "abc123@mau.se")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "OR:TEK", got[0].Title())
	assert.Equal(t, time.Date(2026, 2, 24, 7, 0, 0, 0, time.UTC), got[0].Start)

	_, err = c.FetchShifts(context.Background(), "abc123@mau.se")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second fetch should be served from cache")
}

func TestFetchShifts_APIErrorCarriesMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok": false, "message": "starting_up"}`))
	}))

	_, err := c.FetchShifts(context.Background(), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "API error 503: starting_up", apiErr.Error())
}

func TestFetchShifts_PlainTextErrorIsTruncated(t *testing.T) {
	body := strings.Repeat("x", 250)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("  " + body + "\n"))
	}))

	_, err := c.FetchShifts(context.Background(), "x@mau.se")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, body[:200]+"...", apiErr.Message)
}

func TestFetchShifts_JSONErrorWithoutContentTypeIsRaw(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Invalid API key"}`))
	}))

	_, err := c.FetchShifts(context.Background(), "x@mau.se")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, `{"message": "Invalid API key"}`, apiErr.Message)
}

func TestFetchShifts_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(schedulePayload))
	}))

	got, err := c.FetchShifts(context.Background(), "abc123@mau.se")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchShifts_EmptyResult(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"filtered": false, "count": 0, "shifts": []}`))
	}))

	_, err := c.FetchShifts(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoShifts)
}

func TestFetchShifts_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second, 0, nil)
	c.backoff = func(int) time.Duration { return 0 }

	_, err := c.FetchShifts(context.Background(), "x@mau.se")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchShifts_Timeout(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer close(block)
	c.httpClient.Timeout = 50 * time.Millisecond
	c.maxRetries = 0

	_, err := c.FetchShifts(context.Background(), "x@mau.se")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHealth(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_, _ = w.Write([]byte(`{"ok": true, "service": "up", "auth": "ok"}`))
		}))
		h := c.Health(context.Background())
		assert.True(t, h.OK)
		assert.Equal(t, "Service ready", h.Message)
	})

	t.Run("auth failed", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok": false, "auth": "failed", "message": "Missing credentials"}`))
		}))
		h := c.Health(context.Background())
		assert.False(t, h.OK)
		assert.Equal(t, "Missing credentials", h.Message)
	})

	t.Run("http error", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		h := c.Health(context.Background())
		assert.False(t, h.OK)
		assert.Equal(t, "HTTP 500", h.Message)
	})

	t.Run("no base url", func(t *testing.T) {
		c := NewClient("", "", time.Second, 0, nil)
		h := c.Health(context.Background())
		assert.False(t, h.OK)
		assert.Equal(t, "No baseUrl configured", h.Message)
	})
}
