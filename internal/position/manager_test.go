package position

import (
	"errors"
	"testing"
	"time"

	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/signal"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func tick(symbol string, price float64, at time.Time) event.PriceTick {
	return event.PriceTick{Symbol: symbol, Price: price, ObservedAt: at}
}

func openSignal(symbol, handle string) signal.TradeSignal {
	return signal.TradeSignal{
		Symbol: symbol, Action: signal.ActionOpen, Handle: handle,
		TriggeringEventID: "ev-" + symbol + "-" + handle,
	}
}

func closeSignal(symbol, handle string) signal.TradeSignal {
	return signal.TradeSignal{Symbol: symbol, Action: signal.ActionClose, Handle: handle}
}

func newTestManager() *Manager {
	return NewManager(Config{
		TradeAmount: 10000,
		StopLossPct: 2.0,
		TargetPct:   4.0,
	}, nil)
}

// openPosition drives a position to OPEN at the given entry price.
func openPosition(t *testing.T, m *Manager, symbol, handle string, entry float64) *OrderIntent {
	t.Helper()
	if _, err := m.ApplyTick(tick(symbol, entry, t0)); err != nil {
		t.Fatalf("seed tick: %v", err)
	}
	intent, err := m.ApplySignal(openSignal(symbol, handle), t0)
	if err != nil {
		t.Fatalf("open signal: %v", err)
	}
	if intent == nil || intent.Action != ActionBuy {
		t.Fatalf("want BUY intent, got %+v", intent)
	}
	if err := m.ConfirmFill(intent.IntentID, entry, t0); err != nil {
		t.Fatalf("confirm open fill: %v", err)
	}
	return intent
}

func TestOpenCreatesPendingPositionAndBuyIntent(t *testing.T) {
	m := newTestManager()
	if _, err := m.ApplyTick(tick("ACME", 100, t0)); err != nil {
		t.Fatal(err)
	}

	intent, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if err != nil {
		t.Fatalf("apply open: %v", err)
	}
	if intent.Action != ActionBuy || intent.Symbol != "ACME" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Quantity != 100 { // floor(10000 / 100)
		t.Fatalf("quantity = %d, want 100", intent.Quantity)
	}
	if !m.HasActive("trader", "ACME") {
		t.Fatal("position should be active (PENDING_OPEN)")
	}
	if m.HasOpen("trader", "ACME") {
		t.Fatal("position should not be OPEN before fill")
	}
}

func TestDuplicateOpenFails(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)

	_, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	var dup *DuplicatePositionError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicatePositionError, got %v", err)
	}

	// Same symbol under a different handle is fine.
	if _, err := m.ApplySignal(openSignal("ACME", "other"), t0); err != nil {
		t.Fatalf("independent handle should open: %v", err)
	}
}

func TestOpenWithoutReferencePrice(t *testing.T) {
	m := newTestManager()
	_, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if !errors.Is(err, ErrNoReferencePrice) {
		t.Fatalf("want ErrNoReferencePrice, got %v", err)
	}
}

func TestPositionLimit(t *testing.T) {
	m := NewManager(Config{TradeAmount: 10000, StopLossPct: 2, TargetPct: 4, MaxOpenPositions: 1}, nil)
	openPosition(t, m, "ACME", "trader", 100)

	if _, err := m.ApplyTick(tick("OTHR", 50, t0)); err != nil {
		t.Fatal(err)
	}
	_, err := m.ApplySignal(openSignal("OTHR", "trader"), t0)
	if !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("want ErrPositionLimit, got %v", err)
	}
}

func TestQuantityTooSmall(t *testing.T) {
	m := NewManager(Config{TradeAmount: 50, StopLossPct: 2, TargetPct: 4}, nil)
	if _, err := m.ApplyTick(tick("ACME", 100, t0)); err != nil {
		t.Fatal(err)
	}
	_, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if !errors.Is(err, ErrQuantityTooSmall) {
		t.Fatalf("want ErrQuantityTooSmall, got %v", err)
	}
}

func TestConfirmFillComputesBounds(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)

	positions := m.ActivePositions()
	if len(positions) != 1 {
		t.Fatalf("want one active position, got %d", len(positions))
	}
	p := positions[0]
	if p.State != StateOpen || p.EntryPrice != 100 {
		t.Fatalf("unexpected position %+v", p)
	}
	if p.StopLoss != 98 || p.Target != 104 {
		t.Fatalf("bounds = (%v, %v), want (98, 104)", p.StopLoss, p.Target)
	}
	if !(p.StopLoss < p.EntryPrice && p.EntryPrice < p.Target) {
		t.Fatal("triple ordering violated")
	}
}

func TestStopLossTick(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100) // stop 98, target 104

	intents, err := m.ApplyTick(tick("ACME", 97.5, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 1 {
		t.Fatalf("want exactly one exit intent, got %d", len(intents))
	}
	exit := intents[0]
	if exit.Action != ActionSell || exit.CloseReason != CloseReasonStopLoss {
		t.Fatalf("unexpected exit intent %+v", exit)
	}

	// Fill the close; later favorable ticks must produce nothing.
	if err := m.ConfirmFill(exit.IntentID, 97.5, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	intents, err = m.ApplyTick(tick("ACME", 105, t0.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 0 {
		t.Fatalf("closed position produced intent: %+v", intents)
	}

	closed := m.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("want one closed position, got %d", len(closed))
	}
	c := closed[0]
	if c.CloseReason != CloseReasonStopLoss || c.ExitPrice != 97.5 {
		t.Fatalf("unexpected closed position %+v", c)
	}
	if c.PnL != (97.5-100)*100 {
		t.Fatalf("pnl = %v", c.PnL)
	}
}

func TestTargetTick(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)

	intents, err := m.ApplyTick(tick("ACME", 104.5, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 1 || intents[0].CloseReason != CloseReasonTarget {
		t.Fatalf("want TARGET exit, got %+v", intents)
	}
}

// Both bounds breached on one tick: stop-loss wins (worst-case-first).
func TestStopBeatsTargetOnSameTick(t *testing.T) {
	m := NewManager(Config{TradeAmount: 10000, StopLossPct: 2, TargetPct: 4}, nil)
	openPosition(t, m, "ACME", "trader", 100)

	// A single price cannot breach both bounds of a long, so the same-batch
	// case is two ticks: the stop tick first, then the target tick while
	// the close is pending.
	first, err := m.ApplyTick(tick("ACME", 89, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.ApplyTick(tick("ACME", 111, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("want exactly one intent across batch, got %d+%d", len(first), len(second))
	}
	if first[0].CloseReason != CloseReasonStopLoss {
		t.Fatalf("want STOP_LOSS tag, got %s", first[0].CloseReason)
	}
}

func TestManualClose(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)

	intent, err := m.ApplySignal(closeSignal("ACME", "trader"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if intent == nil || intent.CloseReason != CloseReasonManual {
		t.Fatalf("want MANUAL close intent, got %+v", intent)
	}

	// A second close while the first is pending is a logged no-op.
	again, err := m.ApplySignal(closeSignal("ACME", "trader"), t0)
	if err != nil || again != nil {
		t.Fatalf("pending close should be ignored, got %+v, %v", again, err)
	}
}

func TestTimeoutExit(t *testing.T) {
	m := NewManager(Config{
		TradeAmount: 10000, StopLossPct: 2, TargetPct: 4,
		MaxHold: 30 * time.Minute,
	}, nil)
	openPosition(t, m, "ACME", "trader", 100)

	// Within bounds and within the hold window: nothing.
	intents, _ := m.ApplyTick(tick("ACME", 101, t0.Add(10*time.Minute)))
	if len(intents) != 0 {
		t.Fatalf("premature exit: %+v", intents)
	}

	intents, _ = m.ApplyTick(tick("ACME", 101, t0.Add(31*time.Minute)))
	if len(intents) != 1 || intents[0].CloseReason != CloseReasonTimeout {
		t.Fatalf("want TIMEOUT exit, got %+v", intents)
	}
}

func TestConfirmFillUnknownIntent(t *testing.T) {
	m := newTestManager()
	err := m.ConfirmFill("no-such-intent", 100, t0)
	var unknown *UnknownIntentError
	if !errors.As(err, &unknown) {
		t.Fatalf("want UnknownIntentError, got %v", err)
	}
}

func TestRevertPendingOpen(t *testing.T) {
	m := newTestManager()
	if _, err := m.ApplyTick(tick("ACME", 100, t0)); err != nil {
		t.Fatal(err)
	}
	intent, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.RevertIntent(intent.IntentID); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if m.HasActive("trader", "ACME") {
		t.Fatal("reverted open should leave no position")
	}
	// The pair is free again.
	if _, err := m.ApplySignal(openSignal("ACME", "trader"), t0); err != nil {
		t.Fatalf("reopen after revert: %v", err)
	}
}

func TestRevertPendingClose(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)

	intents, _ := m.ApplyTick(tick("ACME", 97, t0.Add(time.Minute)))
	if len(intents) != 1 {
		t.Fatalf("want exit intent, got %+v", intents)
	}

	if err := m.RevertIntent(intents[0].IntentID); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !m.HasOpen("trader", "ACME") {
		t.Fatal("reverted close should restore OPEN state")
	}

	// A later breach issues a fresh intent with a new idempotency key.
	retries, _ := m.ApplyTick(tick("ACME", 96, t0.Add(2*time.Minute)))
	if len(retries) != 1 {
		t.Fatalf("want retried exit, got %+v", retries)
	}
	if retries[0].IntentID == intents[0].IntentID {
		t.Fatal("retried intent reused idempotency key")
	}
}

func TestMarkInterruptedAndRestore(t *testing.T) {
	m := newTestManager()
	if _, err := m.ApplyTick(tick("ACME", 100, t0)); err != nil {
		t.Fatal(err)
	}
	intent, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkInterrupted(intent.IntentID); err != nil {
		t.Fatalf("mark interrupted: %v", err)
	}

	active := m.ActivePositions()
	if len(active) != 1 || !active[0].Interrupted {
		t.Fatalf("want interrupted position on book, got %+v", active)
	}

	// Restarting from the journaled records flags pending states too.
	fresh := newTestManager()
	fresh.Restore(active)
	restored := fresh.ActivePositions()
	if len(restored) != 1 || !restored[0].Interrupted {
		t.Fatalf("restore lost interruption flag: %+v", restored)
	}
	if fresh.HasActive("trader", "ACME") != true {
		t.Fatal("restored pending position must still block re-entry")
	}
}

func TestClosedPositionsHaveReasonAndExit(t *testing.T) {
	m := newTestManager()
	openPosition(t, m, "ACME", "trader", 100)
	openPosition(t, m, "OTHR", "trader", 50)

	for _, tk := range []event.PriceTick{
		tick("ACME", 97, t0.Add(time.Minute)),  // stop
		tick("OTHR", 52.5, t0.Add(time.Minute)), // target
	} {
		intents, err := m.ApplyTick(tk)
		if err != nil {
			t.Fatal(err)
		}
		for _, in := range intents {
			if err := m.ConfirmFill(in.IntentID, in.RefPrice, tk.ObservedAt); err != nil {
				t.Fatal(err)
			}
		}
	}

	for _, c := range m.ClosedPositions() {
		if c.CloseReason == CloseReasonNone {
			t.Fatalf("closed position without reason: %+v", c)
		}
		if c.ExitPrice == 0 {
			t.Fatalf("closed position without exit price: %+v", c)
		}
		switch c.CloseReason {
		case CloseReasonStopLoss:
			if c.ExitPrice > c.StopLoss {
				t.Fatalf("stop exit %v above stop bound %v", c.ExitPrice, c.StopLoss)
			}
		case CloseReasonTarget:
			if c.ExitPrice < c.Target {
				t.Fatalf("target exit %v below target bound %v", c.ExitPrice, c.Target)
			}
		}
	}
}

func TestShortDirectionBounds(t *testing.T) {
	m := NewManager(Config{
		Direction: DirectionShort, TradeAmount: 10000, StopLossPct: 2, TargetPct: 4,
	}, nil)
	if _, err := m.ApplyTick(tick("ACME", 100, t0)); err != nil {
		t.Fatal(err)
	}
	intent, err := m.ApplySignal(openSignal("ACME", "trader"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if intent.Action != ActionSell {
		t.Fatalf("short open should SELL, got %s", intent.Action)
	}
	if err := m.ConfirmFill(intent.IntentID, 100, t0); err != nil {
		t.Fatal(err)
	}

	p := m.ActivePositions()[0]
	if !(p.Target < p.EntryPrice && p.EntryPrice < p.StopLoss) {
		t.Fatalf("short triple ordering violated: %+v", p)
	}

	intents, _ := m.ApplyTick(tick("ACME", 103, t0.Add(time.Minute)))
	if len(intents) != 1 || intents[0].CloseReason != CloseReasonStopLoss {
		t.Fatalf("short stop should trigger on rally, got %+v", intents)
	}
	if intents[0].Action != ActionBuy {
		t.Fatalf("short close should BUY, got %s", intents[0].Action)
	}
}
