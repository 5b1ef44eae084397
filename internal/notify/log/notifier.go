// Package log delivers notices to the structured log.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Notifier writes each notice as an info entry.
type Notifier struct {
	logger *zap.Logger
}

// New returns a log Notifier.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// NotifyOutcome logs the notice.
func (n *Notifier) NotifyOutcome(_ context.Context, notice crawler.Notice) error {
	n.logger.Info("outcome notice",
		zap.String("user_id", notice.UserID),
		zap.String("username", notice.Username),
		zap.String("reply_ref", notice.ReplyRef),
		zap.String("handle", notice.Handle),
		zap.String("kind", string(notice.Kind)),
		zap.String("message", notice.Message),
	)
	return nil
}
