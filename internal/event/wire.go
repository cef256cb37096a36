package event

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EntryPost = "post"
	EntryTick = "tick"
)

// StreamEntry is the wire shape shared by the live websocket feed and
// replay files: a live capture written in this shape is directly
// replayable.
type StreamEntry struct {
	Type string     `json:"type"`
	Post *RawPost   `json:"post,omitempty"`
	Tick *PriceTick `json:"tick,omitempty"`
}

// At is the entry's event time, used for ordering.
func (e StreamEntry) At() time.Time {
	switch e.Type {
	case EntryPost:
		if e.Post != nil {
			return e.Post.CreatedAt
		}
	case EntryTick:
		if e.Tick != nil {
			return e.Tick.ObservedAt
		}
	}
	return time.Time{}
}

// DecodeStreamEntry parses and validates one wire line.
func DecodeStreamEntry(data []byte) (StreamEntry, error) {
	var e StreamEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode stream entry: %w", err)
	}
	switch e.Type {
	case EntryPost:
		if e.Post == nil {
			return e, fmt.Errorf("post entry without post body")
		}
	case EntryTick:
		if e.Tick == nil {
			return e, fmt.Errorf("tick entry without tick body")
		}
	default:
		return e, fmt.Errorf("unknown stream entry type %q", e.Type)
	}
	return e, nil
}
