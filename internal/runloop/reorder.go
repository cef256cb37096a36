package runloop

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"time"

	"github.com/quantfeed/tweettrader/internal/event"
)

// Reorderer absorbs the mild out-of-order delivery of a live feed. Entries
// are buffered until the watermark (the latest event time seen) has moved
// past them by the tolerance window, then released in event-time order.
// Anything still more out of order than the window is released late but in
// order, which keeps per-symbol timestamps non-decreasing downstream.
type Reorderer struct {
	inner  Source
	window time.Duration
	buf    entryHeap
	seq    int
	drain  bool
}

func NewReorderer(inner Source, window time.Duration) *Reorderer {
	return &Reorderer{inner: inner, window: window}
}

func (r *Reorderer) Next(ctx context.Context) (event.StreamEntry, error) {
	for {
		if r.buf.Len() > 0 {
			head := r.buf.items[0]
			watermark := r.buf.max
			if r.drain || !head.at.After(watermark.Add(-r.window)) {
				heap.Pop(&r.buf)
				return head.entry, nil
			}
		} else if r.drain {
			return event.StreamEntry{}, io.EOF
		}

		e, err := r.inner.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.drain = true
				continue
			}
			return event.StreamEntry{}, err
		}
		r.seq++
		item := bufferedEntry{entry: e, at: e.At(), seq: r.seq}
		heap.Push(&r.buf, item)
		if item.at.After(r.buf.max) {
			r.buf.max = item.at
		}
	}
}

type bufferedEntry struct {
	entry event.StreamEntry
	at    time.Time
	seq   int // arrival order breaks timestamp ties
}

type entryHeap struct {
	items []bufferedEntry
	max   time.Time
}

func (h entryHeap) Len() int { return len(h.items) }
func (h entryHeap) Less(i, j int) bool {
	if !h.items[i].at.Equal(h.items[j].at) {
		return h.items[i].at.Before(h.items[j].at)
	}
	return h.items[i].seq < h.items[j].seq
}
func (h entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *entryHeap) Push(x any)   { h.items = append(h.items, x.(bufferedEntry)) }
func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
