// Package notify composes outcome messages and fans them out to notifiers.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Formatter renders the reply text for each terminal outcome. Unknown
// failures and canceled crawls produce no message.
type Formatter struct{}

// Format implements crawler.MessageFormatter.
func (Formatter) Format(task crawler.Task, outcome crawler.Outcome) (string, bool) {
	to := mention(task.Username)
	switch outcome.Kind {
	case crawler.OutcomeCompleted:
		return fmt.Sprintf("%s about %s%% of their followers are active (MAUs), and about %s%% are quality active users.",
			to, outcome.Percentages.FormatActive(), outcome.Percentages.FormatActiveQuality()), true
	case crawler.OutcomeTargetUnavailable:
		return to + ", we had some trouble with this request. Try again with a new username.", true
	case crawler.OutcomeMalformedTarget:
		return to + ", we couldn't read the username in this request. Check it and try again.", true
	default:
		return "", false
	}
}

func mention(username string) string {
	if username == "" {
		return "Hi"
	}
	return "@" + username
}

// Multi delivers a notice to every notifier and joins their errors.
type Multi []crawler.Notifier

// NotifyOutcome implements crawler.Notifier.
func (m Multi) NotifyOutcome(ctx context.Context, notice crawler.Notice) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyOutcome(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
