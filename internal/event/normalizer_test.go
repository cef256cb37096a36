package event

import (
	"context"
	"testing"
	"time"

	"github.com/quantfeed/tweettrader/internal/sentiment"
	"github.com/quantfeed/tweettrader/internal/symbols"
)

type fixedClassifier struct {
	label sentiment.Label
	err   error
}

func (f fixedClassifier) Classify(context.Context, string) (sentiment.Label, error) {
	return f.label, f.err
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(
		fixedClassifier{label: sentiment.SuperPositive},
		symbols.NewUniverseExtractor([]string{"ACME"}),
	)

	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	ev, err := n.Normalize(context.Background(), RawPost{
		ID:        "post-1",
		Author:    " BigTrader ",
		Text:      "$ACME breakout, loading up",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if ev.SourcePostID != "post-1" {
		t.Errorf("SourcePostID = %q", ev.SourcePostID)
	}
	if ev.Handle != "bigtrader" {
		t.Errorf("Handle = %q, want normalized lowercase", ev.Handle)
	}
	if !ev.OccurredAt.Equal(created) {
		t.Errorf("OccurredAt = %v", ev.OccurredAt)
	}
	if len(ev.Symbols) != 1 || ev.Symbols[0] != "ACME" {
		t.Errorf("Symbols = %v", ev.Symbols)
	}
	if ev.Sentiment != sentiment.SuperPositive {
		t.Errorf("Sentiment = %v", ev.Sentiment)
	}
}

func TestNormalizeEmptySymbols(t *testing.T) {
	n := NewNormalizer(
		fixedClassifier{label: sentiment.Positive},
		symbols.NewUniverseExtractor(nil),
	)

	ev, err := n.Normalize(context.Background(), RawPost{
		ID:        "post-2",
		Author:    "sometrader",
		Text:      "good morning",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(ev.Symbols) != 0 {
		t.Fatalf("want empty symbol set, got %v", ev.Symbols)
	}
}

func TestNormalizeRejectsMissingID(t *testing.T) {
	n := NewNormalizer(fixedClassifier{}, symbols.NewUniverseExtractor(nil))
	if _, err := n.Normalize(context.Background(), RawPost{Author: "x"}); err == nil {
		t.Fatal("expected error for post without id")
	}
}
