package resolver

import (
	"context"
	"log/slog"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"govsignal/pkg/models"
)

// DefaultThreshold is the minimum token-set similarity (0-100) a fuzzy
// candidate must reach to count as a match.
const DefaultThreshold = 88

// Resolver maps organization names to tickers: exact match on the
// normalized name first, token-set fuzzy scan second. A Resolver whose
// registry failed to load answers "no match" for everything instead of
// failing its callers.
type Resolver struct {
	entries   []models.ReferenceEntry
	byNorm    map[string]string
	threshold int
	degraded  bool
	logger    *slog.Logger
}

// New builds a Resolver by loading the registry through client. Load
// failure is not an error: the pipeline must keep running, so the
// resolver comes up degraded with an empty registry and logs why.
func New(ctx context.Context, client *RegistryClient, logger *slog.Logger) *Resolver {
	r := &Resolver{
		byNorm:    make(map[string]string),
		threshold: DefaultThreshold,
		logger:    logger,
	}

	entries, err := client.Load(ctx)
	if err != nil {
		logger.Error("registry load failed, resolver degraded to no-match for all lookups", "error", err)
		r.degraded = true
		return r
	}

	r.entries = entries
	for _, e := range entries {
		// First ticker wins for duplicate normalized names (share classes).
		if _, ok := r.byNorm[e.Normalized]; !ok {
			r.byNorm[e.Normalized] = e.Ticker
		}
	}
	logger.Info("ticker registry loaded", "companies", len(entries))
	return r
}

// NewFromEntries builds a Resolver from preloaded entries, for tests and
// offline use.
func NewFromEntries(entries []models.ReferenceEntry, logger *slog.Logger) *Resolver {
	r := &Resolver{
		entries:   entries,
		byNorm:    make(map[string]string, len(entries)),
		threshold: DefaultThreshold,
		logger:    logger,
	}
	for _, e := range entries {
		if _, ok := r.byNorm[e.Normalized]; !ok {
			r.byNorm[e.Normalized] = e.Ticker
		}
	}
	return r
}

// Degraded reports whether the registry failed to load.
func (r *Resolver) Degraded() bool { return r.degraded }

// Resolve returns the best-guess ticker for name, or ("", false) when no
// registry entry clears the similarity threshold. It never fails on
// malformed input; empty names simply do not match.
func (r *Resolver) Resolve(name string) (string, bool) {
	norm := Normalize(name)
	if norm == "" || len(r.entries) == 0 {
		return "", false
	}

	if ticker, ok := r.byNorm[norm]; ok {
		return ticker, true
	}

	bestScore := 0
	bestTicker := ""
	for _, e := range r.entries {
		// Token-set scoring is word-order insensitive and tolerates
		// extra tokens on either side ("LOCKHEED MARTIN MISSILES" still
		// hits "LOCKHEED MARTIN").
		score := fuzzy.TokenSetRatio(norm, e.Normalized)
		if score > bestScore || (score == bestScore && score > 0 && e.Ticker < bestTicker) {
			// Equal scores break toward the smallest ticker so results
			// do not depend on registry order.
			bestScore = score
			bestTicker = e.Ticker
		}
	}

	if bestScore >= r.threshold {
		return bestTicker, true
	}
	return "", false
}
