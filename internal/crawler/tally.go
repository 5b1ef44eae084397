package crawler

import (
	"fmt"
	"time"
)

// Tally accumulates follower classifications across all pages of one crawl.
type Tally struct {
	MonthlyActive        uint64 `json:"monthly_active"`
	MonthlyInactive      uint64 `json:"monthly_inactive"`
	MonthlyActiveQuality uint64 `json:"monthly_active_quality"`
}

// Observe folds one classified profile into the tally.
func (t *Tally) Observe(h Heuristics) {
	if !h.MonthlyActive {
		t.MonthlyInactive++
		return
	}
	t.MonthlyActive++
	if h.Quality() {
		t.MonthlyActiveQuality++
	}
}

// Fold classifies a batch of profiles as of now and adds them to the tally.
func (t *Tally) Fold(profiles []Profile, now time.Time) {
	for _, p := range profiles {
		t.Observe(Classify(p, now))
	}
}

// Add merges another tally into this one.
func (t *Tally) Add(other Tally) {
	t.MonthlyActive += other.MonthlyActive
	t.MonthlyInactive += other.MonthlyInactive
	t.MonthlyActiveQuality += other.MonthlyActiveQuality
}

// Total is the number of classified followers.
func (t Tally) Total() uint64 {
	return t.MonthlyActive + t.MonthlyInactive
}

// Percentages are truncated to two decimals and stored as basis points.
type Percentages struct {
	ActiveBasisPoints        uint64 `json:"active_bp"`
	ActiveQualityBasisPoints uint64 `json:"active_quality_bp"`
}

// Percentages computes floor(x/total*10000)/100 for both ratios. Integer
// arithmetic keeps the truncation exact; an empty tally yields zero.
func (t Tally) Percentages() Percentages {
	total := t.Total()
	if total == 0 {
		return Percentages{}
	}
	return Percentages{
		ActiveBasisPoints:        t.MonthlyActive * 10000 / total,
		ActiveQualityBasisPoints: t.MonthlyActiveQuality * 10000 / total,
	}
}

// Active returns the monthly-active percentage.
func (p Percentages) Active() float64 {
	return float64(p.ActiveBasisPoints) / 100
}

// ActiveQuality returns the quality monthly-active percentage.
func (p Percentages) ActiveQuality() float64 {
	return float64(p.ActiveQualityBasisPoints) / 100
}

// FormatActive renders the monthly-active percentage with two decimals.
func (p Percentages) FormatActive() string {
	return formatBasisPoints(p.ActiveBasisPoints)
}

// FormatActiveQuality renders the quality percentage with two decimals.
func (p Percentages) FormatActiveQuality() string {
	return formatBasisPoints(p.ActiveQualityBasisPoints)
}

func formatBasisPoints(bp uint64) string {
	return fmt.Sprintf("%d.%02d", bp/100, bp%100)
}
