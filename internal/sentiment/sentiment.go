package sentiment

import (
	"context"
	"fmt"
	"time"
)

// Label is the closed set of sentiment categories, ordered from most
// negative to most positive. Keeping this a numeric enum (not raw model
// strings) lets switches over it be checked for exhaustiveness.
type Label int

const (
	VeryNegative Label = iota
	Negative
	Neutral
	Positive
	VeryPositive
	SuperPositive
)

var labelNames = [...]string{
	VeryNegative:  "VERY_NEGATIVE",
	Negative:      "NEGATIVE",
	Neutral:       "NEUTRAL",
	Positive:      "POSITIVE",
	VeryPositive:  "VERY_POSITIVE",
	SuperPositive: "SUPER_POSITIVE",
}

func (l Label) String() string {
	if l < VeryNegative || l > SuperPositive {
		return "UNKNOWN"
	}
	return labelNames[l]
}

// ParseLabel converts a wire string back to a Label.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return Neutral, fmt.Errorf("unknown sentiment label %q", s)
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	parsed, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Thresholds maps a model score in [0,1] onto the label scale.
// Upper bounds take precedence over lower bounds, and the most extreme
// buckets are checked first.
type Thresholds struct {
	SuperPositive float64 `yaml:"super_positive"`
	VeryPositive  float64 `yaml:"very_positive"`
	Positive      float64 `yaml:"positive"`
	Negative      float64 `yaml:"negative"`
	VeryNegative  float64 `yaml:"very_negative"`
}

// DefaultThresholds mirrors the scorer calibration the handles were
// originally monitored with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuperPositive: 0.80,
		VeryPositive:  0.70,
		Positive:      0.60,
		Negative:      0.40,
		VeryNegative:  0.20,
	}
}

// MapScore buckets a raw scorer output into a Label.
func (t Thresholds) MapScore(score float64) Label {
	switch {
	case score >= t.SuperPositive:
		return SuperPositive
	case score >= t.VeryPositive:
		return VeryPositive
	case score >= t.Positive:
		return Positive
	case score <= t.VeryNegative:
		return VeryNegative
	case score <= t.Negative:
		return Negative
	default:
		return Neutral
	}
}

// Scorer is the pluggable sentiment model: text in, score in [0,1] out.
// Implementations are expected to be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, text string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, text string) (float64, error) {
	return f(ctx, text)
}

// ClassificationTimeoutError reports that the scorer did not answer within
// the configured budget. Callers drop the event and keep the pipeline going.
type ClassificationTimeoutError struct {
	Timeout time.Duration
}

func (e *ClassificationTimeoutError) Error() string {
	return fmt.Sprintf("sentiment classification timed out after %s", e.Timeout)
}

// Classifier wraps a Scorer with threshold mapping and a hard timeout.
type Classifier struct {
	scorer     Scorer
	thresholds Thresholds
	timeout    time.Duration
}

func NewClassifier(scorer Scorer, thresholds Thresholds, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Classifier{scorer: scorer, thresholds: thresholds, timeout: timeout}
}

// Classify scores text and maps it onto the label scale. A scorer that
// exceeds the timeout yields ClassificationTimeoutError.
func (c *Classifier) Classify(ctx context.Context, text string) (Label, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	score, err := c.scorer.Score(ctx, text)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Neutral, &ClassificationTimeoutError{Timeout: c.timeout}
		}
		return Neutral, fmt.Errorf("score text: %w", err)
	}
	return c.thresholds.MapScore(score), nil
}
