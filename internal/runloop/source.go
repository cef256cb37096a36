// Package runloop drives the pipeline in both modes: a replay file or a
// live stream feeds one pump, which routes work onto per-symbol shards.
package runloop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quantfeed/tweettrader/internal/event"
)

// Source yields stream entries in the order the pipeline should consume
// them. Next returns io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (event.StreamEntry, error)
}

// UnorderedReplayError reports a timestamp regression in a replay file.
// It is returned before the offending entry reaches the pipeline, so no
// position state has been touched by it.
type UnorderedReplayError struct {
	Line int
	Prev time.Time
	Got  time.Time
}

func (e *UnorderedReplayError) Error() string {
	return fmt.Sprintf("replay line %d: timestamp %s precedes %s", e.Line, e.Got.Format(time.RFC3339Nano), e.Prev.Format(time.RFC3339Nano))
}

// ReplaySource reads stream entries from a JSONL capture. Timestamps must
// never regress; entries sharing a timestamp keep file order.
type ReplaySource struct {
	f       *os.File
	scanner *bufio.Scanner
	line    int
	prev    time.Time
}

func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ReplaySource{f: f, scanner: scanner}, nil
}

func (r *ReplaySource) Next(ctx context.Context) (event.StreamEntry, error) {
	if err := ctx.Err(); err != nil {
		return event.StreamEntry{}, err
	}
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := event.DecodeStreamEntry(line)
		if err != nil {
			return event.StreamEntry{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		at := e.At()
		if at.Before(r.prev) {
			return event.StreamEntry{}, &UnorderedReplayError{Line: r.line, Prev: r.prev, Got: at}
		}
		r.prev = at
		return e, nil
	}
	if err := r.scanner.Err(); err != nil {
		return event.StreamEntry{}, fmt.Errorf("scan replay file: %w", err)
	}
	return event.StreamEntry{}, io.EOF
}

func (r *ReplaySource) Close() error {
	return r.f.Close()
}
