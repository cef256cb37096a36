package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/quantfeed/tweettrader/internal/journal"
	"github.com/quantfeed/tweettrader/internal/position"
)

// SimSink is the replay-mode execution sink: it fills at the intent's
// reference price with zero latency and never fails. Backtest and live
// runs share every decision component; this sink is the only difference.
type SimSink struct{}

func NewSimSink() *SimSink { return &SimSink{} }

func (s *SimSink) Submit(_ context.Context, intent position.OrderIntent, now time.Time) (FillResult, error) {
	return FillResult{
		IntentID:  intent.IntentID,
		FillPrice: intent.RefPrice,
		FilledAt:  now,
	}, nil
}

// PaperSink journals orders and simulated fills to an append-only order
// log, applying configurable latency and slippage. It is the live-mode
// sink while no real brokerage is wired in.
type PaperSink struct {
	log *journal.OrderLog

	latencyMsMin   int
	latencyMsMax   int
	slippageBpsMin int
	slippageBpsMax int
	random         *rand.Rand
}

type PaperConfig struct {
	LatencyMsMin   int `yaml:"latency_ms_min"`
	LatencyMsMax   int `yaml:"latency_ms_max"`
	SlippageBpsMin int `yaml:"slippage_bps_min"`
	SlippageBpsMax int `yaml:"slippage_bps_max"`
}

func NewPaperSink(orderLog *journal.OrderLog, cfg PaperConfig) *PaperSink {
	if cfg.LatencyMsMax < cfg.LatencyMsMin {
		cfg.LatencyMsMax = cfg.LatencyMsMin
	}
	if cfg.SlippageBpsMax < cfg.SlippageBpsMin {
		cfg.SlippageBpsMax = cfg.SlippageBpsMin
	}
	return &PaperSink{
		log:            orderLog,
		latencyMsMin:   cfg.LatencyMsMin,
		latencyMsMax:   cfg.LatencyMsMax,
		slippageBpsMin: cfg.SlippageBpsMin,
		slippageBpsMax: cfg.SlippageBpsMax,
		random:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *PaperSink) Submit(ctx context.Context, intent position.OrderIntent, now time.Time) (FillResult, error) {
	if err := s.log.WriteOrder(journal.OrderRecord{
		IntentID:  intent.IntentID,
		Symbol:    intent.Symbol,
		Action:    string(intent.Action),
		Quantity:  intent.Quantity,
		RefPrice:  intent.RefPrice,
		Timestamp: now,
	}); err != nil {
		return FillResult{}, err
	}

	latency := s.latencyMsMin
	if span := s.latencyMsMax - s.latencyMsMin; span > 0 {
		latency += s.random.Intn(span + 1)
	}
	if latency > 0 {
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return FillResult{}, ctx.Err()
		}
	}

	slippageBps := s.slippageBpsMin
	if span := s.slippageBpsMax - s.slippageBpsMin; span > 0 {
		slippageBps += s.random.Intn(span + 1)
	}
	price := intent.RefPrice
	mult := 1.0 + float64(slippageBps)/10000.0
	if intent.Action == position.ActionBuy {
		price *= mult
	} else {
		price /= mult
	}

	fill := FillResult{
		IntentID:  intent.IntentID,
		FillPrice: price,
		FilledAt:  now.Add(time.Duration(latency) * time.Millisecond),
	}
	if err := s.log.WriteFill(journal.FillRecord{
		IntentID:    fill.IntentID,
		Symbol:      intent.Symbol,
		Price:       fill.FillPrice,
		Quantity:    intent.Quantity,
		Timestamp:   fill.FilledAt,
		LatencyMs:   latency,
		SlippageBps: slippageBps,
	}); err != nil {
		return FillResult{}, err
	}
	return fill, nil
}
