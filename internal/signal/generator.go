package signal

import (
	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/sentiment"
)

// Action is what a TradeSignal asks the position manager to do.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// TradeSignal is an ephemeral open/close intent produced from one
// sentiment event. It lives for a single pipeline pass.
type TradeSignal struct {
	Symbol            string
	Action            Action
	Handle            string
	TriggeringEventID string
}

// PositionSnapshot is the read-only view of position state the generator
// consults. Implementations return answers for immutable copies; the
// generator never mutates anything.
type PositionSnapshot interface {
	// HasActive reports whether an OPEN or PENDING_OPEN position exists
	// for the pair.
	HasActive(handle, symbol string) bool
	// HasOpen reports whether a position is strictly OPEN for the pair.
	HasOpen(handle, symbol string) bool
}

// Generate maps a sentiment event onto trade signals given a snapshot of
// current positions. It is deterministic and side-effect-free: the same
// event and snapshot always yield the same signals, which is what lets
// replay and live runs agree.
//
// Rules:
//   - SUPER_POSITIVE opens one position per mentioned symbol, unless the
//     (symbol, handle) pair already has an active position.
//   - VERY_NEGATIVE closes an OPEN position for the pair, overriding
//     price-based exits.
//   - An empty symbol set is an extraction failure, reported without
//     failing the pipeline.
func Generate(ev event.SentimentEvent, snap PositionSnapshot) ([]TradeSignal, error) {
	if len(ev.Symbols) == 0 {
		return nil, &event.NoSymbolExtractedError{SourcePostID: ev.SourcePostID}
	}

	var signals []TradeSignal
	switch ev.Sentiment {
	case sentiment.SuperPositive:
		for _, sym := range ev.Symbols {
			if snap.HasActive(ev.Handle, sym) {
				continue
			}
			signals = append(signals, TradeSignal{
				Symbol:            sym,
				Action:            ActionOpen,
				Handle:            ev.Handle,
				TriggeringEventID: ev.SourcePostID,
			})
		}
	case sentiment.VeryNegative:
		for _, sym := range ev.Symbols {
			if !snap.HasOpen(ev.Handle, sym) {
				continue
			}
			signals = append(signals, TradeSignal{
				Symbol:            sym,
				Action:            ActionClose,
				Handle:            ev.Handle,
				TriggeringEventID: ev.SourcePostID,
			})
		}
	case sentiment.VeryPositive, sentiment.Positive, sentiment.Neutral, sentiment.Negative:
		// No action for the middle of the scale.
	}

	return signals, nil
}
