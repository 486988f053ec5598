// Package features derives per-user statistics, causal rolling windows,
// merchant novelty and temporal features for a batch of transactions.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Window spans.
const (
	ShortWindow = 10 * time.Minute
	LongWindow  = 24 * time.Hour
)

// DefaultWorkers is used when FeatureConfig.Workers is not positive.
const DefaultWorkers = 8

// Engine is the Feature Engine. It holds no per-batch state and is safe for
// concurrent use.
type Engine struct {
	mode    domain.ProfileMode
	workers int
}

// NewEngine creates a Feature Engine.
func NewEngine(cfg domain.FeatureConfig) (*Engine, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ProfileGlobal
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown profile mode %q", domain.ErrConfig, cfg.Mode)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Engine{
		mode:    mode,
		workers: workers,
	}, nil
}

// Mode returns the profile mode in use.
func (e *Engine) Mode() domain.ProfileMode {
	return e.mode
}

// userGroup is the set of input positions belonging to one user, ordered by
// timestamp (ties keep input order).
type userGroup struct {
	userID  string
	indices []int
}

// Enrich returns one EnrichedTransaction per input transaction, in input
// order. Users may be interleaved in the input; each user's transactions are
// processed in timestamp order by an isolated worker.
func (e *Engine) Enrich(ctx context.Context, txs []domain.Transaction) ([]domain.EnrichedTransaction, error) {
	if err := checkPreconditions(txs); err != nil {
		return nil, err
	}

	start := time.Now()
	groups := groupByUser(txs)

	slog.DebugContext(ctx, "engineering features",
		"transactions", len(txs),
		"users", len(groups),
		"mode", e.mode,
		"workers", e.workers,
	)

	out := make([]domain.EnrichedTransaction, len(txs))

	// Each group writes only its own indices in out, so no locking is needed.
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for _, g := range groups {
		wg.Add(1)
		go func(g userGroup) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			e.enrichUser(txs, g, out)
		}(g)
	}

	wg.Wait()

	slog.InfoContext(ctx, "feature engineering complete",
		"transactions", len(txs),
		"users", len(groups),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return out, nil
}

// UserCount returns the number of distinct users in txs.
func UserCount(txs []domain.Transaction) int {
	seen := make(map[string]struct{})
	for i := range txs {
		seen[txs[i].UserID] = struct{}{}
	}
	return len(seen)
}

func checkPreconditions(txs []domain.Transaction) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: no transactions to enrich", domain.ErrPrecondition)
	}
	for i := range txs {
		tx := &txs[i]
		switch {
		case tx.UserID == "":
			return fmt.Errorf("%w: transaction %d has no user_id", domain.ErrPrecondition, i)
		case tx.Timestamp.IsZero():
			return fmt.Errorf("%w: transaction %d has no timestamp", domain.ErrPrecondition, i)
		case !tx.Amount.IsPositive():
			return fmt.Errorf("%w: transaction %d has non-positive amount %s", domain.ErrPrecondition, i, tx.Amount)
		}
	}
	return nil
}

// groupByUser groups input positions by user in order of first appearance.
func groupByUser(txs []domain.Transaction) []userGroup {
	pos := make(map[string]int)
	var groups []userGroup

	for i := range txs {
		uid := txs[i].UserID
		g, ok := pos[uid]
		if !ok {
			g = len(groups)
			pos[uid] = g
			groups = append(groups, userGroup{userID: uid})
		}
		groups[g].indices = append(groups[g].indices, i)
	}

	for _, g := range groups {
		idx := g.indices
		sort.SliceStable(idx, func(a, b int) bool {
			return txs[idx[a]].Timestamp.Before(txs[idx[b]].Timestamp)
		})
	}

	return groups
}

// enrichUser computes every feature for one user. Transactions sharing a
// timestamp form a group: none of them counts as prior history for another.
func (e *Engine) enrichUser(txs []domain.Transaction, g userGroup, out []domain.EnrichedTransaction) {
	idx := g.indices

	var global domain.UserProfile
	var causal causalProfile
	if e.mode == domain.ProfileGlobal {
		amounts := make([]float64, len(idx))
		for k, i := range idx {
			amounts[k] = txs[i].AmountFloat()
		}
		global = buildProfile(amounts, txs[idx[0]].Timestamp, txs[idx[len(idx)-1]].Timestamp)
	}

	short := newWindow(ShortWindow)
	long := newWindow(LongWindow)
	merchants := make(map[string]int)

	for lo := 0; lo < len(idx); {
		t := txs[idx[lo]].Timestamp
		hi := lo + 1
		for hi < len(idx) && txs[idx[hi]].Timestamp.Equal(t) {
			hi++
		}

		short.advance(t)
		long.advance(t)

		profile := global
		if e.mode == domain.ProfileCausal {
			profile = causal.snapshot()
		}

		for k := lo; k < hi; k++ {
			tx := txs[idx[k]]

			var since float64
			if k > 0 {
				since = tx.Timestamp.Sub(txs[idx[k-1]].Timestamp).Seconds()
			}

			rank := merchants[tx.MerchantName]
			merchants[tx.MerchantName] = rank + 1

			out[idx[k]] = domain.EnrichedTransaction{
				Transaction: tx,
				Profile:     profile,
				Window: domain.WindowFeatures{
					Count10mPrior: short.count(),
					Count24hPrior: long.count(),
					Sum24hPrior:   long.total(),
					Count10m:      short.count() + 1,
					Count24h:      long.count() + 1,
					Sum24h:        long.total().Add(tx.Amount),
				},
				Merchant: domain.MerchantFeatures{
					Rank:      rank,
					FirstTime: rank == 0,
				},
				Temporal: temporal(tx.Timestamp, since),
			}
		}

		for k := lo; k < hi; k++ {
			tx := &txs[idx[k]]
			short.push(tx.Timestamp, tx.Amount)
			long.push(tx.Timestamp, tx.Amount)
			if e.mode == domain.ProfileCausal {
				causal.add(tx.Timestamp, tx.AmountFloat())
			}
		}

		lo = hi
	}
}

// temporal derives calendar features in the timestamp's own location.
func temporal(ts time.Time, sinceLast float64) domain.TemporalFeatures {
	hour := ts.Hour()
	dow := (int(ts.Weekday()) + 6) % 7 // Monday = 0

	return domain.TemporalFeatures{
		Hour:             hour,
		DayOfWeek:        dow,
		IsWeekend:        dow >= 5,
		IsNocturnal:      hour >= 2 && hour <= 6,
		SinceLastSeconds: sinceLast,
	}
}
