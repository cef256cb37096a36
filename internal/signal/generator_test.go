package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/sentiment"
)

type fakeSnapshot struct {
	active map[string]bool // "handle|symbol"
	open   map[string]bool
}

func (f fakeSnapshot) HasActive(handle, symbol string) bool { return f.active[handle+"|"+symbol] }
func (f fakeSnapshot) HasOpen(handle, symbol string) bool   { return f.open[handle+"|"+symbol] }

func ev(handle string, label sentiment.Label, syms ...string) event.SentimentEvent {
	return event.SentimentEvent{
		SourcePostID: "post-1",
		Handle:       handle,
		OccurredAt:   time.Now().UTC(),
		Symbols:      syms,
		Sentiment:    label,
	}
}

func TestGenerateOpensOnSuperPositive(t *testing.T) {
	signals, err := Generate(ev("trader", sentiment.SuperPositive, "ACME"), fakeSnapshot{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("want exactly one signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Action != ActionOpen || s.Symbol != "ACME" || s.Handle != "trader" || s.TriggeringEventID != "post-1" {
		t.Fatalf("unexpected signal %+v", s)
	}
}

func TestGenerateSkipsActivePosition(t *testing.T) {
	snap := fakeSnapshot{active: map[string]bool{"trader|ACME": true}}
	signals, err := Generate(ev("trader", sentiment.SuperPositive, "ACME", "OTHR"), snap)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(signals) != 1 || signals[0].Symbol != "OTHR" {
		t.Fatalf("want open only for OTHR, got %+v", signals)
	}
}

func TestGenerateClosesOnVeryNegative(t *testing.T) {
	snap := fakeSnapshot{open: map[string]bool{"trader|ACME": true}}
	signals, err := Generate(ev("trader", sentiment.VeryNegative, "ACME"), snap)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != ActionClose {
		t.Fatalf("want one close, got %+v", signals)
	}
}

func TestGenerateNoCloseWithoutOpen(t *testing.T) {
	signals, err := Generate(ev("trader", sentiment.VeryNegative, "ACME"), fakeSnapshot{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("want no signals, got %+v", signals)
	}
}

func TestGenerateMidScaleIsQuiet(t *testing.T) {
	for _, label := range []sentiment.Label{
		sentiment.Negative, sentiment.Neutral, sentiment.Positive, sentiment.VeryPositive,
	} {
		signals, err := Generate(ev("trader", label, "ACME"), fakeSnapshot{})
		if err != nil {
			t.Fatalf("generate(%s): %v", label, err)
		}
		if len(signals) != 0 {
			t.Fatalf("label %s should not signal, got %+v", label, signals)
		}
	}
}

func TestGenerateEmptySymbols(t *testing.T) {
	_, err := Generate(ev("trader", sentiment.SuperPositive), fakeSnapshot{})
	var noSym *event.NoSymbolExtractedError
	if !errors.As(err, &noSym) {
		t.Fatalf("want NoSymbolExtractedError, got %v", err)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	e := ev("trader", sentiment.SuperPositive, "AAA", "BBB", "CCC")
	first, _ := Generate(e, fakeSnapshot{})
	for i := 0; i < 10; i++ {
		again, _ := Generate(e, fakeSnapshot{})
		if len(again) != len(first) {
			t.Fatal("signal count varies between runs")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d signal %d differs: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}
