// Package memory contains an in-memory notifier for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Notifier stores delivered notices for inspection.
type Notifier struct {
	mu      sync.RWMutex
	notices []crawler.Notice
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// NotifyOutcome records the notice.
func (n *Notifier) NotifyOutcome(_ context.Context, notice crawler.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

// Notices returns the recorded notices.
func (n *Notifier) Notices() []crawler.Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]crawler.Notice, len(n.notices))
	copy(out, n.notices)
	return out
}
