package external

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/types"
)

func noSleep(time.Duration) {}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestBaseClientDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CareBase-Test/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "CareBase-Test/1.0", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBaseClientDoPropagatesRequestID(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-77"))

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-77", seen)
}

func TestBaseClientDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBaseClientDoExhaustedRetriesReturnsUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	// 1 initial attempt + 2 retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestBaseClientDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBaseClientDoReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.Client(), "test", testPolicy(), "", WithSleepFunc(noSleep))

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestComputeBackoffRespectsRetryAfterSeconds(t *testing.T) {
	c := NewBaseClient(http.DefaultClient, "test", RetryPolicy{
		MaxRetries: 1,
		MinWait:    time.Second,
		MaxWait:    30 * time.Second,
	}, "")

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	assert.Equal(t, 3*time.Second, c.computeBackoff(0, resp))
}

func TestComputeBackoffClampedToMaxWait(t *testing.T) {
	c := NewBaseClient(http.DefaultClient, "test", RetryPolicy{
		MaxRetries: 1,
		MinWait:    time.Second,
		MaxWait:    5 * time.Second,
	}, "")

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
	assert.Equal(t, 5*time.Second, c.computeBackoff(0, resp))

	// Exponential path is also clamped.
	wait := c.computeBackoff(10, nil)
	assert.LessOrEqual(t, wait, 5*time.Second)
	assert.GreaterOrEqual(t, wait, time.Second)
}
