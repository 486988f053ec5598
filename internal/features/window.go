package features

import (
	"time"

	"github.com/shopspring/decimal"
)

type windowEntry struct {
	ts     time.Time
	amount decimal.Decimal
}

// window is a per-user trailing time window over admitted transactions.
// Entries are appended in timestamp order and evicted from the head once
// they fall before t-span, so each entry is visited at most twice.
type window struct {
	span time.Duration
	buf  []windowEntry
	head int
	sum  decimal.Decimal
}

func newWindow(span time.Duration) *window {
	return &window{span: span, sum: decimal.Zero}
}

// advance evicts every entry older than t-span. The window then covers
// [t-span, t) provided only entries with ts < t have been pushed.
func (w *window) advance(t time.Time) {
	cutoff := t.Add(-w.span)
	for w.head < len(w.buf) && w.buf[w.head].ts.Before(cutoff) {
		w.sum = w.sum.Sub(w.buf[w.head].amount)
		w.buf[w.head] = windowEntry{}
		w.head++
	}

	// Reclaim the evicted prefix once it dominates the buffer.
	if w.head > 64 && w.head*2 > len(w.buf) {
		n := copy(w.buf, w.buf[w.head:])
		w.buf = w.buf[:n]
		w.head = 0
	}
}

func (w *window) push(ts time.Time, amount decimal.Decimal) {
	w.buf = append(w.buf, windowEntry{ts: ts, amount: amount})
	w.sum = w.sum.Add(amount)
}

func (w *window) count() int {
	return len(w.buf) - w.head
}

func (w *window) total() decimal.Decimal {
	return w.sum
}
