package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// OrderRecord is one submitted paper order.
type OrderRecord struct {
	IntentID  string    `json:"intent_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Quantity  int64     `json:"quantity"`
	RefPrice  float64   `json:"ref_price"`
	Timestamp time.Time `json:"timestamp"`
}

// FillRecord is one simulated execution.
type FillRecord struct {
	IntentID    string    `json:"intent_id"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Quantity    int64     `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int       `json:"latency_ms"`
	SlippageBps int       `json:"slippage_bps"`
}

type orderEntry struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data"`
	Event time.Time   `json:"event"`
}

// OrderLog is the paper-trading outbox: every order and fill appended as
// one JSONL entry, for audit and reconciliation.
type OrderLog struct {
	mu   sync.Mutex
	path string
}

func NewOrderLog(path string) (*OrderLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	return &OrderLog{path: path}, nil
}

func (o *OrderLog) WriteOrder(r OrderRecord) error {
	return o.append(orderEntry{Type: "order", Data: r, Event: time.Now().UTC()})
}

func (o *OrderLog) WriteFill(r FillRecord) error {
	return o.append(orderEntry{Type: "fill", Data: r, Event: time.Now().UTC()})
}

func (o *OrderLog) append(e orderEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}
