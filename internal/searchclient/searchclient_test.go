package searchclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/searchclient"
)

// TestSearchRetriesTransientFailures guards spec §7/§4.9's bounded retry
// contract: a 500 followed by a success is transparent to the caller.
func TestSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"url":"https://example.com","title":"t","content":"c","score":0.9}]}`))
	}))
	defer srv.Close()

	client := searchclient.New(config.SearchConfig{BaseURL: srv.URL, MaxRetries: 3}, nil)
	results, err := client.Search(context.Background(), "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

// TestSearchDoesNotRetryClientErrors guards the other half: a 4xx that
// isn't a rate limit is terminal, not retried.
func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := searchclient.New(config.SearchConfig{BaseURL: srv.URL, MaxRetries: 3}, nil)
	_, err := client.Search(context.Background(), "query", 3)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// TestSearchExhaustsRetriesOnPersistentFailure guards the "never retries
// forever" half of the contract.
func TestSearchExhaustsRetriesOnPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := searchclient.New(config.SearchConfig{BaseURL: srv.URL, MaxRetries: 2}, nil)
	start := time.Now()
	_, err := client.Search(context.Background(), "query", 3)
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one initial attempt plus two retries")
	assert.GreaterOrEqual(t, time.Since(start), 1500*time.Millisecond, "500ms+1s backoff before giving up")
}
