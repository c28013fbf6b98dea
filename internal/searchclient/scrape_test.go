package searchclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/search"
)

// TestDoScrapeClassifiesTransientStatuses guards the classification the
// retry loop in Scrape gates on: rate-limited (429) and 5xx responses wrap
// search.ErrTransientNetwork, everything else is terminal. doScrape is
// exercised directly (bypassing Scrape's SSRF guard, which would otherwise
// reject the loopback address httptest.Server binds to).
func TestDoScrapeClassifiesTransientStatuses(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusServiceUnavailable, true},
		{"not found", http.StatusNotFound, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			s := NewScraper(config.ScrapingConfig{}, nil)
			_, _, err := s.doScrape(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tc.transient, errors.Is(err, search.ErrTransientNetwork))
		})
	}
}

// TestDoScrapeExtractsTitleAndContent guards the happy path: a successful
// fetch returns the page title and flattened text content.
func TestDoScrapeExtractsTitleAndContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Hi</title></head><body><p>hello world</p></body></html>`))
	}))
	defer srv.Close()

	s := NewScraper(config.ScrapingConfig{}, nil)
	title, content, err := s.doScrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Hi", title)
	assert.Contains(t, content, "hello world")
}
