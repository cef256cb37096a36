package position

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// State is the position lifecycle. Transitions only move forward:
// PENDING_OPEN -> OPEN -> PENDING_CLOSE -> CLOSED. CLOSED is terminal.
type State string

const (
	StatePendingOpen  State = "PENDING_OPEN"
	StateOpen         State = "OPEN"
	StatePendingClose State = "PENDING_CLOSE"
	StateClosed       State = "CLOSED"
)

// CloseReason records why a position left the book. Exactly one non-empty
// reason per closed position.
type CloseReason string

const (
	CloseReasonNone     CloseReason = ""
	CloseReasonStopLoss CloseReason = "STOP_LOSS"
	CloseReasonTarget   CloseReason = "TARGET"
	CloseReasonManual   CloseReason = "MANUAL"
	CloseReasonTimeout  CloseReason = "TIMEOUT"
)

// Direction is the configured trade direction. The stop/target triple
// ordering flips with it: long wants stop < entry < target, short wants
// target < entry < stop.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Action is the side of an order intent.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Position is the manager's record of one trade. The manager owns these
// exclusively; everything handed out is a value copy.
type Position struct {
	ID          string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Handle      string      `json:"handle"`
	OpenedAt    time.Time   `json:"opened_at"`
	EntryPrice  float64     `json:"entry_price"`
	Quantity    int64       `json:"quantity"`
	StopLoss    float64     `json:"stop_loss_price"`
	Target      float64     `json:"target_price"`
	State       State       `json:"state"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	ClosedAt    time.Time   `json:"closed_at,omitempty"`
	ExitPrice   float64     `json:"exit_price,omitempty"`
	PnL         float64     `json:"pnl"`

	// Interrupted marks a position whose in-flight intent was neither
	// confirmed nor reverted before shutdown. It stays on the book and
	// blocks re-entry until manually reconciled.
	Interrupted bool `json:"interrupted,omitempty"`

	// intentSeq counts intents issued for this position so retried exits
	// after a rollback get fresh idempotency keys.
	intentSeq int
}

// OrderIntent is the concrete order request handed to the dispatcher.
// IntentID is the idempotency key: the dispatcher never submits the same
// key twice.
type OrderIntent struct {
	IntentID    string      `json:"intent_id"`
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Action      Action      `json:"action"`
	Quantity    int64       `json:"quantity"`
	RefPrice    float64     `json:"ref_price"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// DuplicatePositionError reports an attempted second active position for a
// (symbol, handle) pair. The signal generator filters these against its
// snapshot first, so one reaching the manager means the shard's state is
// inconsistent: the fault is fatal to that shard.
type DuplicatePositionError struct {
	Symbol string
	Handle string
}

func (e *DuplicatePositionError) Error() string {
	return fmt.Sprintf("active position already exists for %s/%s", e.Handle, e.Symbol)
}

// UnknownIntentError reports a fill confirmation for an intent the manager
// is not tracking. This is a consistency fault, not retried.
type UnknownIntentError struct {
	IntentID string
}

func (e *UnknownIntentError) Error() string {
	return fmt.Sprintf("unknown intent %s", e.IntentID)
}

// Input faults: the signal is skipped and the pipeline continues.
var (
	// ErrNoReferencePrice means no tick has been seen yet for the symbol,
	// so entry sizing is impossible.
	ErrNoReferencePrice = errors.New("no reference price observed for symbol")
	// ErrPositionLimit means the configured cap on concurrently open
	// positions is reached.
	ErrPositionLimit = errors.New("max open positions reached")
	// ErrQuantityTooSmall means the trade amount buys less than one unit
	// at the reference price.
	ErrQuantityTooSmall = errors.New("trade amount too small for one unit")
)

// newIntentID derives a stable idempotency key from the position identity,
// the side and the intent sequence. Deterministic so a replayed log
// produces the same keys as the run that captured it.
func newIntentID(positionID string, action Action, seq int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", positionID, action, seq)))
	return fmt.Sprintf("%x", sum[:8])
}

// newPositionID derives the position identity from the triggering event,
// which both deduplicates re-ingested posts and keeps replays comparable.
func newPositionID(handle, symbol, eventID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", handle, symbol, eventID)))
	return fmt.Sprintf("pos_%x", sum[:8])
}
