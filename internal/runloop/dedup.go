package runloop

import "sync"

// MemoryDedup is the in-process Dedup for replay: redelivered post ids in
// the capture must stay no-ops even though nothing persists across runs.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]bool)}
}

func (d *MemoryDedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

func (d *MemoryDedup) MarkProcessed(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
	return nil
}
