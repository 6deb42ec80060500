package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgov/go-mesh/retry"
)

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.Get(context.Background(), "/health")
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, resp.JSON(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Greater(t, resp.Duration, time.Duration(0))
}

func TestGet_TimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(20 * time.Millisecond))
	_, err := c.Get(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestDo_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithRetry(retry.WithMaxAttempts(3)))
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_NonRetryClientKeepsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.IsServerError())
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGetJSON_Generic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"pgc-1","weight":100}`))
	}))
	defer srv.Close()

	type instance struct {
		Name   string `json:"name"`
		Weight int    `json:"weight"`
	}
	c := NewClient()
	got, err := GetJSON[instance](context.Background(), c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "pgc-1", got.Name)
	assert.Equal(t, 100, got.Weight)
}

func TestPerCallOptionOverridesDefault(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Tenant")
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Tenant", "default"))
	_, err := c.Get(context.Background(), srv.URL, WithHeader("X-Tenant", "override"))
	require.NoError(t, err)
	assert.Equal(t, "override", gotHeader)
}
