package position

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/signal"
)

// Config controls sizing and exit bounds for new positions.
type Config struct {
	Direction        Direction
	TradeAmount      float64       // notional per entry
	StopLossPct      float64       // e.g. 2.0 means 2% adverse move
	TargetPct        float64       // e.g. 4.0 means 4% favorable move
	MaxOpenPositions int           // cap on concurrently active positions, 0 = unlimited
	MaxHold          time.Duration // flatten after this holding time, 0 = never
}

// Recorder persists position transitions to the durable journal. A nil
// recorder disables persistence (used by tests and pure backtests).
type Recorder interface {
	RecordPosition(p Position) error
	RecordRemoval(positionID string) error
}

// Manager owns every position record. All mutation goes through
// ApplySignal/ApplyTick/ConfirmFill/RevertIntent/MarkInterrupted, each an
// atomic step under one lock, so callers on separate shard workers never
// interleave partial updates.
type Manager struct {
	cfg Config
	rec Recorder

	mu        sync.RWMutex
	active    map[string]map[string]*Position // symbol -> handle -> position
	closed    []Position
	intents   map[string]*Position // in-flight intent id -> position
	lastPrice map[string]float64
	openCount int
}

func NewManager(cfg Config, rec Recorder) *Manager {
	if cfg.Direction == "" {
		cfg.Direction = DirectionLong
	}
	return &Manager{
		cfg:       cfg,
		rec:       rec,
		active:    make(map[string]map[string]*Position),
		intents:   make(map[string]*Position),
		lastPrice: make(map[string]float64),
	}
}

// ApplySignal turns a trade signal into a pending position transition and
// the order intent that realizes it. A nil intent with a nil error means
// the signal was a no-op (already in flight, nothing to close).
func (m *Manager) ApplySignal(sig signal.TradeSignal, now time.Time) (*OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch sig.Action {
	case signal.ActionOpen:
		return m.openLocked(sig, now)
	case signal.ActionClose:
		return m.closeLocked(sig)
	default:
		return nil, fmt.Errorf("unknown signal action %q", sig.Action)
	}
}

func (m *Manager) openLocked(sig signal.TradeSignal, now time.Time) (*OrderIntent, error) {
	if existing := m.lookupLocked(sig.Symbol, sig.Handle); existing != nil {
		if existing.State == StatePendingClose {
			// Close in flight; re-entry has to wait for the book to clear.
			log.Debug().Str("symbol", sig.Symbol).Str("handle", sig.Handle).
				Msg("open signal ignored, close in flight")
			return nil, nil
		}
		return nil, &DuplicatePositionError{Symbol: sig.Symbol, Handle: sig.Handle}
	}

	price, ok := m.lastPrice[sig.Symbol]
	if !ok || price <= 0 {
		return nil, ErrNoReferencePrice
	}
	if m.cfg.MaxOpenPositions > 0 && m.openCount >= m.cfg.MaxOpenPositions {
		return nil, ErrPositionLimit
	}
	qty := int64(math.Floor(m.cfg.TradeAmount / price))
	if qty < 1 {
		return nil, ErrQuantityTooSmall
	}

	p := &Position{
		ID:        newPositionID(sig.Handle, sig.Symbol, sig.TriggeringEventID),
		Symbol:    sig.Symbol,
		Handle:    sig.Handle,
		OpenedAt:  now,
		Quantity:  qty,
		State:     StatePendingOpen,
		intentSeq: 1,
	}

	intent := &OrderIntent{
		IntentID:   newIntentID(p.ID, m.openAction(), p.intentSeq),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Action:     m.openAction(),
		Quantity:   qty,
		RefPrice:   price,
	}

	byHandle, ok := m.active[sig.Symbol]
	if !ok {
		byHandle = make(map[string]*Position)
		m.active[sig.Symbol] = byHandle
	}
	byHandle[sig.Handle] = p
	m.intents[intent.IntentID] = p
	m.openCount++
	m.record(*p)
	return intent, nil
}

func (m *Manager) closeLocked(sig signal.TradeSignal) (*OrderIntent, error) {
	p := m.lookupLocked(sig.Symbol, sig.Handle)
	if p == nil {
		log.Warn().Str("symbol", sig.Symbol).Str("handle", sig.Handle).
			Msg("close signal for unknown position ignored")
		return nil, nil
	}
	if p.State != StateOpen {
		log.Debug().Str("position_id", p.ID).Str("state", string(p.State)).
			Msg("close signal ignored, intent already in flight")
		return nil, nil
	}
	return m.beginCloseLocked(p, CloseReasonManual, m.lastPrice[p.Symbol]), nil
}

// ApplyTick updates the reference price and evaluates exit bounds for OPEN
// positions on the tick's symbol. Per position at most one intent per tick;
// when stop-loss and target are both breached on the same tick the
// stop-loss wins (worst-case-first).
func (m *Manager) ApplyTick(tick event.PriceTick) ([]OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tick.Price <= 0 {
		return nil, fmt.Errorf("invalid tick price %.4f for %s", tick.Price, tick.Symbol)
	}
	m.lastPrice[tick.Symbol] = tick.Price

	byHandle := m.active[tick.Symbol]
	if len(byHandle) == 0 {
		return nil, nil
	}

	// Stable handle order keeps replay output reproducible.
	handles := make([]string, 0, len(byHandle))
	for h := range byHandle {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	var intents []OrderIntent
	for _, h := range handles {
		p := byHandle[h]
		if p.State != StateOpen {
			log.Debug().Str("position_id", p.ID).Str("state", string(p.State)).
				Msg("tick ignored for position, intent already in flight")
			continue
		}

		reason := m.exitReason(p, tick)
		if reason == CloseReasonNone {
			continue
		}
		intents = append(intents, *m.beginCloseLocked(p, reason, tick.Price))
	}
	return intents, nil
}

// exitReason checks bounds worst-case-first: stop-loss, then target, then
// the holding-time limit.
func (m *Manager) exitReason(p *Position, tick event.PriceTick) CloseReason {
	switch m.cfg.Direction {
	case DirectionShort:
		if tick.Price >= p.StopLoss {
			return CloseReasonStopLoss
		}
		if tick.Price <= p.Target {
			return CloseReasonTarget
		}
	default:
		if tick.Price <= p.StopLoss {
			return CloseReasonStopLoss
		}
		if tick.Price >= p.Target {
			return CloseReasonTarget
		}
	}
	if m.cfg.MaxHold > 0 && tick.ObservedAt.Sub(p.OpenedAt) >= m.cfg.MaxHold {
		return CloseReasonTimeout
	}
	return CloseReasonNone
}

func (m *Manager) beginCloseLocked(p *Position, reason CloseReason, refPrice float64) *OrderIntent {
	p.State = StatePendingClose
	p.CloseReason = reason
	p.intentSeq++

	intent := &OrderIntent{
		IntentID:    newIntentID(p.ID, m.closeAction(), p.intentSeq),
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Action:      m.closeAction(),
		Quantity:    p.Quantity,
		RefPrice:    refPrice,
		CloseReason: reason,
	}
	m.intents[intent.IntentID] = p
	m.record(*p)
	return intent
}

// ConfirmFill applies an execution result: PENDING_OPEN becomes OPEN with
// entry bounds computed from the fill price, PENDING_CLOSE becomes CLOSED.
// An untracked intent id is a fatal consistency fault for the shard.
func (m *Manager) ConfirmFill(intentID string, fillPrice float64, filledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.intents[intentID]
	if !ok {
		return &UnknownIntentError{IntentID: intentID}
	}
	delete(m.intents, intentID)

	switch p.State {
	case StatePendingOpen:
		p.State = StateOpen
		p.EntryPrice = fillPrice
		p.OpenedAt = filledAt
		p.StopLoss, p.Target = m.bounds(fillPrice)
		m.record(*p)
		return nil

	case StatePendingClose:
		p.State = StateClosed
		p.ExitPrice = fillPrice
		p.ClosedAt = filledAt
		p.PnL = m.pnl(p.EntryPrice, fillPrice, p.Quantity)
		m.removeActiveLocked(p)
		m.closed = append(m.closed, *p)
		m.record(*p)
		return nil

	default:
		return fmt.Errorf("fill %s confirms position %s in state %s", intentID, p.ID, p.State)
	}
}

// RevertIntent rolls a pending position back after the dispatcher exhausted
// its retries: a pending open is removed from the book, a pending close
// returns to OPEN. This keeps the pipeline out of unreachable limbo states.
func (m *Manager) RevertIntent(intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.intents[intentID]
	if !ok {
		return &UnknownIntentError{IntentID: intentID}
	}
	delete(m.intents, intentID)

	switch p.State {
	case StatePendingOpen:
		m.removeActiveLocked(p)
		if m.rec != nil {
			if err := m.rec.RecordRemoval(p.ID); err != nil {
				log.Error().Err(err).Str("position_id", p.ID).Msg("journal removal failed")
			}
		}
		return nil

	case StatePendingClose:
		p.State = StateOpen
		p.CloseReason = CloseReasonNone
		m.record(*p)
		return nil

	default:
		return fmt.Errorf("revert %s for position %s in state %s", intentID, p.ID, p.State)
	}
}

// MarkInterrupted flags a position whose in-flight intent could not be
// resolved before shutdown. The position stays on the book for manual
// reconciliation after restart.
func (m *Manager) MarkInterrupted(intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.intents[intentID]
	if !ok {
		return &UnknownIntentError{IntentID: intentID}
	}
	delete(m.intents, intentID)
	p.Interrupted = true
	m.record(*p)
	return nil
}

// Restore loads journaled positions at startup. Positions persisted in a
// pending state lost their in-flight intent with the previous process, so
// they come back flagged interrupted.
func (m *Manager) Restore(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range positions {
		p := p
		if p.State == StateClosed {
			m.closed = append(m.closed, p)
			continue
		}
		if p.State == StatePendingOpen || p.State == StatePendingClose {
			p.Interrupted = true
		}
		byHandle, ok := m.active[p.Symbol]
		if !ok {
			byHandle = make(map[string]*Position)
			m.active[p.Symbol] = byHandle
		}
		byHandle[p.Handle] = &p
		m.openCount++
	}
}

// HasActive reports an OPEN or PENDING_OPEN position for the pair. Together
// with HasOpen this is the snapshot view the signal generator reads.
func (m *Manager) HasActive(handle, symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.lookupLocked(symbol, handle)
	return p != nil && (p.State == StateOpen || p.State == StatePendingOpen)
}

// HasOpen reports a strictly OPEN position for the pair.
func (m *Manager) HasOpen(handle, symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.lookupLocked(symbol, handle)
	return p != nil && p.State == StateOpen
}

// ClosedPositions returns copies of every closed position in close order.
func (m *Manager) ClosedPositions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// ActivePositions returns copies of every position still on the book.
func (m *Manager) ActivePositions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Position
	for _, byHandle := range m.active {
		for _, p := range byHandle {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingIntents returns the ids of intents still awaiting resolution.
func (m *Manager) PendingIntents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.intents))
	for id := range m.intents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) lookupLocked(symbol, handle string) *Position {
	if byHandle, ok := m.active[symbol]; ok {
		return byHandle[handle]
	}
	return nil
}

func (m *Manager) removeActiveLocked(p *Position) {
	if byHandle, ok := m.active[p.Symbol]; ok {
		delete(byHandle, p.Handle)
		if len(byHandle) == 0 {
			delete(m.active, p.Symbol)
		}
	}
	m.openCount--
}

func (m *Manager) record(p Position) {
	if m.rec == nil {
		return
	}
	if err := m.rec.RecordPosition(p); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("journal write failed")
	}
}

func (m *Manager) bounds(entry float64) (stop, target float64) {
	stopDelta := entry * m.cfg.StopLossPct / 100
	targetDelta := entry * m.cfg.TargetPct / 100
	if m.cfg.Direction == DirectionShort {
		return entry + stopDelta, entry - targetDelta
	}
	return entry - stopDelta, entry + targetDelta
}

func (m *Manager) pnl(entry, exit float64, qty int64) float64 {
	if m.cfg.Direction == DirectionShort {
		return (entry - exit) * float64(qty)
	}
	return (exit - entry) * float64(qty)
}

func (m *Manager) openAction() Action {
	if m.cfg.Direction == DirectionShort {
		return ActionSell
	}
	return ActionBuy
}

func (m *Manager) closeAction() Action {
	if m.cfg.Direction == DirectionShort {
		return ActionBuy
	}
	return ActionSell
}
