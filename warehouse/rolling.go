package warehouse

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LAG BUFFER - Row-based lookback over an ordered series
// =============================================================================

// lagBuffer carries the trailing values of one entity's series while it is
// walked in period order. Capacity 13 covers both the previous-period and
// the 12-periods-back lookups without retaining the whole series.
type lagBuffer struct {
	values [13]decimal.Decimal
	filled [13]bool
	head   int
	seen   int
}

// push records the value for the period just processed.
func (b *lagBuffer) push(v decimal.Decimal) {
	b.values[b.head] = v
	b.filled[b.head] = true
	b.head = (b.head + 1) % len(b.values)
	b.seen++
}

// lag returns the value n pushes ago (n in 1..13), or false when the series
// is not deep enough yet.
func (b *lagBuffer) lag(n int) (decimal.Decimal, bool) {
	if n < 1 || n > len(b.values) || b.seen < n {
		return decimal.Decimal{}, false
	}
	i := (b.head - n + len(b.values)) % len(b.values)
	if !b.filled[i] {
		return decimal.Decimal{}, false
	}
	return b.values[i], true
}

// =============================================================================
// ROLLING STATS - Trailing window mean and standard deviation
// =============================================================================

// rollingStats maintains the trailing window of prior values used for
// outlier scoring and anomaly flagging. The current value is tested against
// the window BEFORE being pushed, so the window always holds prior periods
// only.
type rollingStats struct {
	window int
	values []float64
}

func newRollingStats(window int) *rollingStats {
	return &rollingStats{window: window}
}

func (s *rollingStats) push(v float64) {
	s.values = append(s.values, v)
	if len(s.values) > s.window {
		s.values = s.values[1:]
	}
}

// full reports whether the window holds the configured number of prior
// periods. Until then no anomaly is ever flagged.
func (s *rollingStats) full() bool { return len(s.values) >= s.window }

// meanStddev returns the window mean and sample standard deviation.
func (s *rollingStats) meanStddev() (mean, stddev float64) {
	n := float64(len(s.values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range s.values {
		mean += v
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range s.values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// isOutlier tests |v - mean| > k * stddev over the trailing window.
// A flat window (zero stddev) flags any departure from it.
func (s *rollingStats) isOutlier(v, k float64) bool {
	if !s.full() {
		return false
	}
	mean, stddev := s.meanStddev()
	return math.Abs(v-mean) > k*stddev
}
