package event

import (
	"fmt"
	"time"

	"github.com/quantfeed/tweettrader/internal/sentiment"
)

// RawPost is a social-media post as delivered by the stream or replay
// collaborator, before any interpretation.
type RawPost struct {
	ID        string    `json:"id"`
	Author    string    `json:"author_handle"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceTick is a raw market observation driving exit evaluation.
type PriceTick struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// SentimentEvent is the canonical, immutable form of a post after
// classification and symbol extraction. SourcePostID is the global
// deduplication key: re-delivery of the same ID must be a no-op downstream.
type SentimentEvent struct {
	SourcePostID string          `json:"source_post_id"`
	Handle       string          `json:"handle"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Symbols      []string        `json:"symbols"`
	Sentiment    sentiment.Label `json:"sentiment"`
}

// NoSymbolExtractedError flags a post whose text yielded no tradable
// symbols. It is an input fault: the event is skipped, the pipeline
// continues.
type NoSymbolExtractedError struct {
	SourcePostID string
}

func (e *NoSymbolExtractedError) Error() string {
	return fmt.Sprintf("no symbol extracted from post %s", e.SourcePostID)
}
