// Package ratelimit provides the two global, thread-safe rate limiters
// spec §4.9 requires: one for search-provider calls, one for page scrapes.
// Both use golang.org/x/time/rate, the library Kaikei-e-Alt/rag-orchestrator
// wires for its backfill runner's "interval = 60/rate" token-spacing scheme.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/deepcite/internal/config"
)

// Limiters bundles the search and scrape limiters constructed from config.
type Limiters struct {
	Search *rate.Limiter
	Scrape *rate.Limiter
}

// New builds both limiters from calls-per-minute settings, spacing tokens
// evenly (interval = 60s / rate) rather than allowing a full-rate burst.
func New(cfg config.Config) *Limiters {
	return &Limiters{
		Search: perMinute(cfg.Search.CallsPerMinute),
		Scrape: perMinute(cfg.Scraping.RequestsPerMinute),
	}
}

func perMinute(callsPerMinute int) *rate.Limiter {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	interval := time.Minute / time.Duration(callsPerMinute)
	return rate.NewLimiter(rate.Every(interval), 1)
}

// WaitSearch blocks until a search-call token is available or ctx is done.
func (l *Limiters) WaitSearch(ctx context.Context) error {
	return l.Search.Wait(ctx)
}

// WaitScrape blocks until a scrape-request token is available or ctx is done.
func (l *Limiters) WaitScrape(ctx context.Context) error {
	return l.Scrape.Wait(ctx)
}
