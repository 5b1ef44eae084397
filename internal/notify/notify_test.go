package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/notify/memory"
)

func TestFormatter(t *testing.T) {
	task := crawler.Task{UserID: "u1", Username: "alice", Request: crawler.Request{ID: "r1", Handle: "golang"}}

	tests := []struct {
		name    string
		outcome crawler.Outcome
		want    string
		ok      bool
	}{
		{
			name: "completed",
			outcome: crawler.Outcome{
				Kind:        crawler.OutcomeCompleted,
				Percentages: crawler.Tally{MonthlyActive: 37, MonthlyInactive: 63, MonthlyActiveQuality: 12}.Percentages(),
			},
			want: "@alice about 37.00% of their followers are active (MAUs), and about 12.00% are quality active users.",
			ok:   true,
		},
		{
			name: "completed truncates",
			outcome: crawler.Outcome{
				Kind:        crawler.OutcomeCompleted,
				Percentages: crawler.Tally{MonthlyActive: 1, MonthlyInactive: 2}.Percentages(),
			},
			want: "@alice about 33.33% of their followers are active (MAUs), and about 0.00% are quality active users.",
			ok:   true,
		},
		{
			name:    "target unavailable",
			outcome: crawler.Outcome{Kind: crawler.OutcomeTargetUnavailable},
			want:    "@alice, we had some trouble with this request. Try again with a new username.",
			ok:      true,
		},
		{
			name:    "malformed",
			outcome: crawler.Outcome{Kind: crawler.OutcomeMalformedTarget},
			want:    "@alice, we couldn't read the username in this request. Check it and try again.",
			ok:      true,
		},
		{name: "unknown", outcome: crawler.Outcome{Kind: crawler.OutcomeUnknown}},
		{name: "canceled", outcome: crawler.Outcome{Kind: crawler.OutcomeCanceled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Formatter{}.Format(task, tt.outcome)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) NotifyOutcome(context.Context, crawler.Notice) error { return f.err }

func TestMultiFansOut(t *testing.T) {
	a, b := memory.New(), memory.New()
	boom := errors.New("boom")
	m := Multi{a, nil, failingNotifier{err: boom}, b}

	err := m.NotifyOutcome(context.Background(), crawler.Notice{UserID: "u1", Message: "hi"})
	require.ErrorIs(t, err, boom)
	assert.Len(t, a.Notices(), 1)
	assert.Len(t, b.Notices(), 1)

	require.NoError(t, Multi{a}.NotifyOutcome(context.Background(), crawler.Notice{}))
}
