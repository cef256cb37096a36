package event

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantfeed/tweettrader/internal/sentiment"
	"github.com/quantfeed/tweettrader/internal/symbols"
)

// Classifier is the slice of the sentiment collaborator the normalizer
// needs: post text in, label out.
type Classifier interface {
	Classify(ctx context.Context, text string) (sentiment.Label, error)
}

// Normalizer converts raw posts into canonical SentimentEvents. It holds
// no state of its own; given the same post and collaborator answers it
// always produces the same event.
type Normalizer struct {
	classifier Classifier
	extractor  symbols.Extractor
}

func NewNormalizer(classifier Classifier, extractor symbols.Extractor) *Normalizer {
	return &Normalizer{classifier: classifier, extractor: extractor}
}

// Normalize classifies and extracts symbols from a raw post. The returned
// event may carry an empty symbol set; the caller decides whether that is
// worth reporting (see NoSymbolExtractedError).
func (n *Normalizer) Normalize(ctx context.Context, post RawPost) (SentimentEvent, error) {
	if post.ID == "" {
		return SentimentEvent{}, fmt.Errorf("post has no id")
	}

	label, err := n.classifier.Classify(ctx, post.Text)
	if err != nil {
		return SentimentEvent{}, fmt.Errorf("classify post %s: %w", post.ID, err)
	}

	return SentimentEvent{
		SourcePostID: post.ID,
		Handle:       strings.ToLower(strings.TrimSpace(post.Author)),
		OccurredAt:   post.CreatedAt.UTC(),
		Symbols:      n.extractor.Extract(post.Text),
		Sentiment:    label,
	}, nil
}
