package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfeed/tweettrader/internal/position"
)

// BrokerSink submits intents to a brokerage order endpoint over HTTP.
// Transport errors and 5xx answers are retryable (the dispatcher's policy
// decides how often); 4xx answers come back as PermanentError, since
// re-sending the same bad order cannot succeed.
type BrokerSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

type BrokerConfig struct {
	BaseURL           string `yaml:"base_url"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

func NewBrokerSink(cfg BrokerConfig, apiKey string) *BrokerSink {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 5000
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	return &BrokerSink{
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
	}
}

type brokerOrder struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      int64   `json:"quantity"`
	OrderType     string  `json:"order_type"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
}

func (b *BrokerSink) Submit(ctx context.Context, intent position.OrderIntent, _ time.Time) (FillResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return FillResult{}, err
	}

	body, err := json.Marshal(brokerOrder{
		ClientOrderID: intent.IntentID,
		Symbol:        intent.Symbol,
		Side:          string(intent.Action),
		Quantity:      intent.Quantity,
		OrderType:     "MARKET",
	})
	if err != nil {
		return FillResult{}, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return FillResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return FillResult{}, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var fill FillResult
		if err := json.NewDecoder(resp.Body).Decode(&fill); err != nil {
			return FillResult{}, fmt.Errorf("decode fill: %w", err)
		}
		if fill.IntentID == "" {
			fill.IntentID = intent.IntentID
		}
		return fill, nil
	case resp.StatusCode >= 500:
		return FillResult{}, fmt.Errorf("broker unavailable: status %d", resp.StatusCode)
	default:
		return FillResult{}, &PermanentError{Err: fmt.Errorf("broker rejected order: status %d", resp.StatusCode)}
	}
}
