// Package evidence wraps external search/enrichment providers. The pipeline
// only ever talks to a Resilient provider: every provider failure or timeout
// resolves to an empty result so evidence gathering can never stall or abort
// a run.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"dealdesk/internal/types"
)

// ItemID derives a stable evidence id from the item URL, so re-ingesting the
// same source refreshes the existing item instead of duplicating it.
func ItemID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "ev-" + hex.EncodeToString(sum[:8])
}

// Resilient decorates a provider with an independent timeout and swallows
// all failures: a timeout or provider error becomes an empty result plus a
// warning log.
type Resilient struct {
	provider types.SearchProvider
	timeout  time.Duration
	log      *zap.Logger
}

// NewResilient wraps a provider. timeout <= 0 defaults to 12s, the short
// latency-sensitive bound.
func NewResilient(p types.SearchProvider, timeout time.Duration, logger *zap.Logger) *Resilient {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{provider: p, timeout: timeout, log: logger}
}

// Search never returns an error. Failures are logged and reported as an
// empty result.
func (r *Resilient) Search(ctx context.Context, query string, opts types.SearchOptions) (types.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.provider.Search(ctx, query, opts)
	if err != nil {
		r.log.Warn("evidence search failed, continuing with empty result",
			zap.String("query", query),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return types.SearchResult{Items: []types.EvidenceItem{}}, nil
	}
	if result.Items == nil {
		result.Items = []types.EvidenceItem{}
	}
	return result, nil
}
