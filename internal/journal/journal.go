// Package journal persists pipeline state as append-only JSONL logs: one
// record per position transition, one per processed post id, one per
// paper order/fill. The logs are replayed at startup to rebuild shard
// state before live mode resumes.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantfeed/tweettrader/internal/position"
)

const (
	kindPosition = "position"
	kindRemoval  = "removal"
)

type positionEntry struct {
	Kind       string             `json:"kind"`
	At         time.Time          `json:"at"`
	Position   *position.Position `json:"position,omitempty"`
	PositionID string             `json:"position_id,omitempty"`
}

// PositionLog is the durable record of every position transition, keyed by
// position id. Appends only; the latest record per id wins on replay and a
// removal entry tombstones a reverted pending open.
type PositionLog struct {
	mu   sync.Mutex
	path string
}

func NewPositionLog(path string) (*PositionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &PositionLog{path: path}, nil
}

func (l *PositionLog) RecordPosition(p position.Position) error {
	return l.append(positionEntry{Kind: kindPosition, At: time.Now().UTC(), Position: &p})
}

func (l *PositionLog) RecordRemoval(positionID string) error {
	return l.append(positionEntry{Kind: kindRemoval, At: time.Now().UTC(), PositionID: positionID})
}

func (l *PositionLog) append(e positionEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// ReadState folds the log into the surviving position set, in first-seen
// order. A missing file is an empty state, not an error.
func (l *PositionLog) ReadState() ([]position.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	latest := map[string]position.Position{}
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e positionEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn tail write from a crash is tolerated; anything else
			// in the middle of the log would already have failed earlier
			// reads too.
			continue
		}
		switch e.Kind {
		case kindPosition:
			if e.Position == nil {
				continue
			}
			if _, ok := latest[e.Position.ID]; !ok {
				order = append(order, e.Position.ID)
			}
			latest[e.Position.ID] = *e.Position
		case kindRemoval:
			delete(latest, e.PositionID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	out := make([]position.Position, 0, len(latest))
	for _, id := range order {
		if p, ok := latest[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type dedupEntry struct {
	SourcePostID string    `json:"source_post_id"`
	At           time.Time `json:"at"`
}

// DedupLog tracks processed post ids so re-delivered posts are no-ops,
// across restarts included.
type DedupLog struct {
	mu   sync.Mutex
	path string
	seen map[string]bool
}

func OpenDedupLog(path string) (*DedupLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	d := &DedupLog{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("open dedup log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e dedupEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		d.seen[e.SourcePostID] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dedup log: %w", err)
	}
	return d, nil
}

// Seen reports whether the post id has been processed before.
func (d *DedupLog) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

// MarkProcessed records the id durably. Marking an already-seen id is a
// harmless no-op.
func (d *DedupLog) MarkProcessed(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[id] {
		return nil
	}
	data, err := json.Marshal(dedupEntry{SourcePostID: id, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dedup log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append dedup log: %w", err)
	}
	d.seen[id] = true
	return nil
}
