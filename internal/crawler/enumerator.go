package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Enumerator pages through a target's follower IDs.
type Enumerator struct {
	api  FollowerAPI
	call caller
}

// NewEnumerator builds an Enumerator over api.
func NewEnumerator(api FollowerAPI, policy RetryPolicy, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{api: api, call: caller{policy: policy, logger: logger}}
}

// Page fetches the page at cursor. Recoverable provider errors repeat the same
// request on a fresh credential; the cursor never advances on failure.
func (e *Enumerator) Page(ctx context.Context, pool CredentialPicker, handle, cursor string) (PageResult, error) {
	if cursor == "" {
		cursor = StartCursor
	}
	page, err := callWithRetry(ctx, e.call, pool, EndpointFollowerIDs,
		func(ctx context.Context, cred Credential) (PageResult, error) {
			return e.api.FollowerIDs(ctx, cred, handle, cursor)
		},
	)
	if err != nil {
		return PageResult{}, fmt.Errorf("follower ids at cursor %s: %w", cursor, err)
	}
	return page, nil
}
