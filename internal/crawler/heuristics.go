package crawler

import (
	"math"
	"time"
)

// Heuristic thresholds.
const (
	MonthlyActiveDays      = 30
	QualityRecentPostDays  = 7
	LowPostCountBelow      = 10
	LowFavoriteCountBelow  = 5
	LowFollowingCountBelow = 10
	HighFollowingCountOver = 4000
	HighRatioFollowingOver = 500
	HighRatioThreshold     = 5.0
)

// Classify derives the heuristic set for a profile as of now.
func Classify(p Profile, now time.Time) Heuristics {
	h := Heuristics{
		LowPostCount:       p.PostCount < LowPostCountBelow,
		LowFavoriteCount:   p.FavoriteCount < LowFavoriteCountBelow,
		LowFollowingCount:  p.FollowingCount < LowFollowingCountBelow,
		HighFollowingCount: p.FollowingCount > HighFollowingCountOver,
		HighFollowingRatio: highFollowingRatio(p.FollowingCount, p.FollowerCount),
	}
	if p.LastPostAt != nil {
		days := int(math.Floor(now.Sub(*p.LastPostAt).Hours() / 24))
		h.DaysSinceLastPost = &days
		h.MonthlyActive = days <= MonthlyActiveDays
	}
	return h
}

// Quality reports whether none of the low-signal or spam heuristics hold.
func (h Heuristics) Quality() bool {
	stale := h.DaysSinceLastPost != nil && *h.DaysSinceLastPost > QualityRecentPostDays
	return !(h.HighFollowingRatio ||
		h.LowPostCount ||
		h.LowFavoriteCount ||
		h.HighFollowingCount ||
		h.LowFollowingCount ||
		stale)
}

// A profile that follows more than the floor but has no followers has an
// unbounded ratio and counts as high.
func highFollowingRatio(following, followers int) bool {
	if following <= HighRatioFollowingOver {
		return false
	}
	if followers <= 0 {
		return true
	}
	return float64(following)/float64(followers) > HighRatioThreshold
}
