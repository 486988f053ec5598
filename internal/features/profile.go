package features

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const day = 24 * time.Hour

// buildProfile computes UserProfile over amounts observed between first and last.
func buildProfile(amounts []float64, first, last time.Time) domain.UserProfile {
	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)
	return summarize(amounts, sorted, first, last)
}

// summarize expects sorted to hold the same values as amounts in ascending order.
func summarize(amounts, sorted []float64, first, last time.Time) domain.UserProfile {
	n := len(amounts)
	if n == 0 {
		return domain.UserProfile{}
	}

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var sq float64
		for _, a := range amounts {
			d := a - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	return domain.UserProfile{
		Count:    n,
		Mean:     mean,
		Std:      std,
		Min:      sorted[0],
		Max:      sorted[n-1],
		P25:      quantile(sorted, 0.25),
		P50:      quantile(sorted, 0.50),
		P75:      quantile(sorted, 0.75),
		P95:      quantile(sorted, 0.95),
		DailyAvg: sum / float64(activeDays(first, last)),
	}
}

// activeDays is the inclusive whole-day span between two instants, at least 1.
func activeDays(first, last time.Time) int {
	days := int(last.Sub(first)/day) + 1
	if days < 1 {
		days = 1
	}
	return days
}

// quantile returns the q-th quantile of sorted using linear interpolation
// between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return lerp(sorted[lo], sorted[lo+1], pos-float64(lo))
}

// lerp interpolates from the nearer endpoint to keep results monotonic.
func lerp(a, b, t float64) float64 {
	diff := b - a
	if t >= 0.5 {
		return b - diff*(1-t)
	}
	return a + diff*t
}

// causalProfile accumulates a user's history one timestamp group at a time,
// so the profile it reports only covers transactions strictly earlier than
// the group being scored.
type causalProfile struct {
	amounts []float64
	sorted  []float64
	first   time.Time
	last    time.Time
}

func (c *causalProfile) snapshot() domain.UserProfile {
	return summarize(c.amounts, c.sorted, c.first, c.last)
}

func (c *causalProfile) add(ts time.Time, amount float64) {
	if len(c.amounts) == 0 {
		c.first = ts
	}
	c.last = ts
	c.amounts = append(c.amounts, amount)

	i := sort.SearchFloat64s(c.sorted, amount)
	c.sorted = append(c.sorted, 0)
	copy(c.sorted[i+1:], c.sorted[i:])
	c.sorted[i] = amount
}
