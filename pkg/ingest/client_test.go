package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, retries int) *Client {
	c := NewClient(url, "test-key", 5*time.Second, retries, nil)
	c.InitialInterval = time.Millisecond
	return c
}

func TestFetchBuildsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ELEC.GEN.COW-AL-99.Q", r.URL.Query().Get("series_id"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("out"))
		w.Write([]byte(`{"series":[{"data":[["2020Q1",1]]}]}`))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL+"/series/", 0).Fetch(context.Background(), "ELEC.GEN.COW-AL-99.Q")
	require.NoError(t, err)
	assert.JSONEq(t, `{"series":[{"data":[["2020Q1",1]]}]}`, string(body))
}

func TestFetchReturnsErrorEnvelopeVerbatim(t *testing.T) {
	envelope := `{"request":{"series_id":"X"},"data":{"error":"invalid series_id"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelope))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL, 0).Fetch(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, envelope, string(body))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL, 3).Fetch(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Fetch(context.Background(), "X")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 2).Fetch(context.Background(), "X")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchRequiresAPIKey(t *testing.T) {
	c := NewClient("http://localhost", "", time.Second, 0, nil)
	_, err := c.Fetch(context.Background(), "X")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
