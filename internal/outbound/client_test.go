package outbound

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/logging"
)

func newTestClient(timeout time.Duration, waits *[]time.Duration) *Client {
	c := NewClient(Options{
		Timeout: timeout,
		Policy:  DefaultRetryPolicy(),
		Logger:  logging.NewNop(),
	})
	c.sleep = func(d time.Duration) { *waits = append(*waits, d) }
	return c
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	want := []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 4*time.Second, p.Backoff(0))
}

func TestRetryPolicy_BackoffWithoutMaximum(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Multiplier: time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Backoff(200))
	assert.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestSafeGet_Success(t *testing.T) {
	var gotQuery, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("demo")
		gotCorrelation = r.Header.Get(logging.CorrelationIDHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"args":{"demo":"SMCP"}}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)
	defer c.Close()

	ctx := logging.WithCorrelationID(context.Background(), "req_aaaaaaaaaaaa")
	body, err := c.SafeGet(ctx, srv.URL, map[string]string{"demo": "SMCP"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"args":{"demo":"SMCP"}}`, string(body))
	assert.Equal(t, "SMCP", gotQuery)
	assert.Equal(t, "req_aaaaaaaaaaaa", gotCorrelation)
	assert.Empty(t, waits)
}

func TestSafeGet_TimeoutRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(50*time.Millisecond, &waits)

	_, err := c.SafeGet(context.Background(), srv.URL, nil)
	require.Error(t, err)

	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusGatewayTimeout, se.HTTPStatus)
	assert.Equal(t, errors.TypeTimeout, se.Type)
	assert.Equal(t, errors.CodeRequestTimeout, se.Code)
	assert.Equal(t, "Request timed out", se.Message)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{4 * time.Second}, waits)
}

func TestSafeGet_NetworkErrorRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	_, err := c.SafeGet(context.Background(), addr, nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.TypeNetwork, se.Type)
	assert.Equal(t, http.StatusBadGateway, se.HTTPStatus)
	assert.Equal(t, "Network error occurred", se.Message)
	assert.Len(t, waits, 1)
}

func TestSafeGet_ServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	_, err := c.SafeGet(context.Background(), srv.URL, nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeServerError, se.Code)
	assert.Equal(t, http.StatusBadGateway, se.HTTPStatus)
	assert.Equal(t, "External service error: 503", se.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, waits)
}

func TestSafeGet_ClientErrorKeepsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	_, err := c.SafeGet(context.Background(), srv.URL, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.HTTPStatus())
	assert.Nil(t, errors.GetServiceError(err))
	assert.Empty(t, waits)
}

func TestSafeGet_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	_, err := c.SafeGet(context.Background(), srv.URL, nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeServerError, se.Code)
}

func TestSafeGet_IgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body, err := c.SafeGet(ctx, srv.URL, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestSafeGet_InvalidURL(t *testing.T) {
	var waits []time.Duration
	c := newTestClient(time.Second, &waits)

	_, err := c.SafeGet(context.Background(), "not-a-url", nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusInternalServerError, se.HTTPStatus)
}

func TestRetryPolicy_CustomRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	policy.Retryable = func(err error) bool {
		return strings.Contains(err.Error(), "502")
	}
	c := NewClient(Options{Timeout: time.Second, Policy: policy})
	c.sleep = func(time.Duration) {}

	_, err := c.SafeGet(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
