package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/metrics"
)

// Classifier looks up follower profiles in bounded batches and folds their
// heuristics into a running tally.
type Classifier struct {
	api       FollowerAPI
	call      caller
	clock     Clock
	batchSize int
}

// NewClassifier builds a Classifier. batchSize is clamped to MaxLookupBatch.
func NewClassifier(api FollowerAPI, policy RetryPolicy, clock Clock, batchSize int, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 || batchSize > MaxLookupBatch {
		batchSize = MaxLookupBatch
	}
	return &Classifier{
		api:       api,
		call:      caller{policy: policy, logger: logger},
		clock:     clock,
		batchSize: batchSize,
	}
}

// Classify looks up ids batch by batch and adds each successful batch to into.
// A retried batch is only counted once, after its lookup succeeds.
func (c *Classifier) Classify(ctx context.Context, pool CredentialPicker, ids []string, into *Tally) error {
	for i, batch := range ChunkIDs(ids, c.batchSize) {
		profiles, err := callWithRetry(ctx, c.call, pool, EndpointLookupProfiles,
			func(ctx context.Context, cred Credential) ([]Profile, error) {
				return c.api.LookupProfiles(ctx, cred, batch)
			},
		)
		if err != nil {
			return fmt.Errorf("lookup batch %d (%d ids): %w", i, len(batch), err)
		}
		var batchTally Tally
		batchTally.Fold(profiles, c.clock.Now())
		into.Add(batchTally)

		metrics.ObserveFollowers("active_quality", batchTally.MonthlyActiveQuality)
		metrics.ObserveFollowers("active", batchTally.MonthlyActive-batchTally.MonthlyActiveQuality)
		metrics.ObserveFollowers("inactive", batchTally.MonthlyInactive)
	}
	return nil
}
