package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfeed/tweettrader/internal/position"
)

func TestPositionLogRoundTrip(t *testing.T) {
	log, err := NewPositionLog(filepath.Join(t.TempDir(), "positions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	opened := position.Position{
		ID: "pos_1", Symbol: "ACME", Handle: "trader",
		State: position.StatePendingOpen, Quantity: 100,
		OpenedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	if err := log.RecordPosition(opened); err != nil {
		t.Fatal(err)
	}

	// Later transition supersedes the earlier record.
	opened.State = position.StateOpen
	opened.EntryPrice = 100
	opened.StopLoss = 98
	opened.Target = 104
	if err := log.RecordPosition(opened); err != nil {
		t.Fatal(err)
	}

	state, err := log.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 1 {
		t.Fatalf("want one surviving position, got %d", len(state))
	}
	got := state[0]
	if got.State != position.StateOpen || got.EntryPrice != 100 || got.StopLoss != 98 {
		t.Fatalf("latest record did not win: %+v", got)
	}
}

func TestPositionLogRemovalTombstone(t *testing.T) {
	log, err := NewPositionLog(filepath.Join(t.TempDir(), "positions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	if err := log.RecordPosition(position.Position{ID: "pos_1", State: position.StatePendingOpen}); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordPosition(position.Position{ID: "pos_2", State: position.StatePendingOpen}); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordRemoval("pos_1"); err != nil {
		t.Fatal(err)
	}

	state, err := log.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 1 || state[0].ID != "pos_2" {
		t.Fatalf("want only pos_2 to survive, got %+v", state)
	}
}

func TestPositionLogMissingFile(t *testing.T) {
	log, err := NewPositionLog(filepath.Join(t.TempDir(), "never-written.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	state, err := log.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 0 {
		t.Fatalf("want empty state, got %+v", state)
	}
}

func TestDedupLogPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.jsonl")

	d, err := OpenDedupLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.Seen("post-1") {
		t.Fatal("fresh log should not have seen post-1")
	}
	if err := d.MarkProcessed("post-1"); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkProcessed("post-1"); err != nil {
		t.Fatal(err) // idempotent
	}
	if !d.Seen("post-1") {
		t.Fatal("post-1 should be seen")
	}

	reopened, err := OpenDedupLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Seen("post-1") {
		t.Fatal("dedup state lost across reopen")
	}
	if reopened.Seen("post-2") {
		t.Fatal("post-2 never marked")
	}
}

func TestOrderLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	log, err := NewOrderLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.WriteOrder(OrderRecord{IntentID: "i1", Symbol: "ACME", Action: "BUY", Quantity: 10, RefPrice: 100}); err != nil {
		t.Fatal(err)
	}
	if err := log.WriteFill(FillRecord{IntentID: "i1", Symbol: "ACME", Price: 100.02, Quantity: 10}); err != nil {
		t.Fatal(err)
	}
}
