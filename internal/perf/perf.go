// Package perf aggregates closed positions into per-handle, per-symbol and
// global performance summaries.
package perf

import (
	"sort"
	"sync"

	"github.com/quantfeed/tweettrader/internal/position"
)

// Summary is the rollup for one aggregation key.
type Summary struct {
	Key        string  `json:"key"`
	TradeCount int     `json:"trade_count"`
	Wins       int     `json:"wins"`
	WinRate    float64 `json:"win_rate"`
	TotalPnL   float64 `json:"total_pnl"`
	AvgReturn  float64 `json:"avg_return"` // mean per-trade return fraction
	MaxDrawdown float64 `json:"max_drawdown"` // worst peak-to-trough of cumulative pnl, >= 0
}

// Aggregator folds closed positions into summaries. Record is idempotent by
// position ID, so journal replays and live confirmations can both feed it.
type Aggregator struct {
	mu     sync.Mutex
	seen   map[string]bool
	closed []position.Position
}

func NewAggregator() *Aggregator {
	return &Aggregator{seen: map[string]bool{}}
}

// Record folds one position in. Positions that are not CLOSED yet and
// already-recorded IDs are ignored.
func (a *Aggregator) Record(p position.Position) {
	if p.State != position.StateClosed {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen[p.ID] {
		return
	}
	a.seen[p.ID] = true
	a.closed = append(a.closed, p)
}

// ByHandle returns one summary per handle, sorted by total P&L descending
// with win rate as the tie-break. This is the handle ranking report.
func (a *Aggregator) ByHandle() []Summary {
	return a.grouped(func(p position.Position) string { return p.Handle })
}

// BySymbol returns one summary per symbol, same ordering as ByHandle.
func (a *Aggregator) BySymbol() []Summary {
	return a.grouped(func(p position.Position) string { return p.Symbol })
}

// Global returns the single all-trades summary.
func (a *Aggregator) Global() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return summarize("all", a.sortedByCloseLocked())
}

func (a *Aggregator) grouped(key func(position.Position) string) []Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	groups := map[string][]position.Position{}
	for _, p := range a.sortedByCloseLocked() {
		k := key(p)
		groups[k] = append(groups[k], p)
	}

	out := make([]Summary, 0, len(groups))
	for k, ps := range groups {
		out = append(out, summarize(k, ps))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		if out[i].WinRate != out[j].WinRate {
			return out[i].WinRate > out[j].WinRate
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// sortedByCloseLocked orders trades by close time so drawdown walks the
// realized equity curve in the order it happened.
func (a *Aggregator) sortedByCloseLocked() []position.Position {
	ps := make([]position.Position, len(a.closed))
	copy(ps, a.closed)
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].ClosedAt.Equal(ps[j].ClosedAt) {
			return ps[i].ClosedAt.Before(ps[j].ClosedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return ps
}

func summarize(key string, ps []position.Position) Summary {
	s := Summary{Key: key, TradeCount: len(ps)}
	if len(ps) == 0 {
		return s
	}

	var returnSum, cumPnL, peak float64
	for _, p := range ps {
		s.TotalPnL += p.PnL
		if p.PnL > 0 {
			s.Wins++
		}
		if notional := p.EntryPrice * float64(p.Quantity); notional > 0 {
			returnSum += p.PnL / notional
		}

		cumPnL += p.PnL
		if cumPnL > peak {
			peak = cumPnL
		}
		if dd := peak - cumPnL; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}
	s.WinRate = float64(s.Wins) / float64(len(ps))
	s.AvgReturn = returnSum / float64(len(ps))
	return s
}
