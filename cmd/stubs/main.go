// stubs hosts local stand-ins for every external dependency the trader
// needs: a keyword sentiment scorer, a brokerage order endpoint, and a
// websocket feed that streams a capture file in real or compressed time.
// Point config at it to run the whole pipeline on one machine.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/observ"
)

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	feedFile := flag.String("feed", "", "capture JSONL to stream on /stream, empty disables")
	speedup := flag.Float64("speedup", 1.0, "feed time compression factor")
	flag.Parse()

	observ.Setup("info", true)
	logger := observ.Logger("stubs")

	mux := http.NewServeMux()
	mux.HandleFunc("/score", scoreHandler)
	mux.HandleFunc("/orders", ordersHandler)
	if *feedFile != "" {
		mux.Handle("/stream", &feedServer{file: *feedFile, speedup: *speedup})
	}
	mux.Handle("/healthz", observ.Health())

	logger.Info().Str("addr", *addr).Str("feed", *feedFile).Msg("stub services up")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintln(os.Stderr, "stubs:", err)
		os.Exit(1)
	}
}

// scoreHandler fakes the sentiment model with keyword scoring, biased the
// same way the real calibration is: explicit bullishness scores high,
// explicit bearishness low, everything else lands in the neutral band.
func scoreHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	text := strings.ToLower(req.Text)
	score := 0.5
	switch {
	case containsAny(text, "moon", "rocket", "breakout", "all in"):
		score = 0.9
	case containsAny(text, "bullish", "buy", "long"):
		score = 0.72
	case containsAny(text, "crash", "dump", "bankrupt", "fraud"):
		score = 0.1
	case containsAny(text, "bearish", "sell", "short"):
		score = 0.3
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]float64{"score": score})
}

func containsAny(text string, words ...string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

// ordersHandler accepts broker orders and fills them at the limit price or
// a flat synthetic price, echoing the client order id back as the fill's
// intent id so idempotency can be verified end to end.
func ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var order struct {
		ClientOrderID string  `json:"client_order_id"`
		Symbol        string  `json:"symbol"`
		Quantity      int64   `json:"quantity"`
		LimitPrice    float64 `json:"limit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if order.ClientOrderID == "" || order.Symbol == "" || order.Quantity < 1 {
		http.Error(w, "invalid order", http.StatusUnprocessableEntity)
		return
	}

	price := order.LimitPrice
	if price <= 0 {
		price = 100
	}
	fill := map[string]any{
		"intent_id":  order.ClientOrderID,
		"order_id":   uuid.NewString(),
		"fill_price": price,
		"filled_at":  time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(fill)
}

// feedServer upgrades to websocket and streams the capture file, pacing
// messages by their timestamp gaps divided by the speedup factor.
type feedServer struct {
	file    string
	speedup float64
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observ.Logger("stubs")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	f, err := os.Open(s.file)
	if err != nil {
		logger.Error().Err(err).Msg("open feed file")
		return
	}
	defer f.Close()

	var prev time.Time
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := event.DecodeStreamEntry(line)
		if err != nil {
			continue
		}
		at := e.At()
		if !prev.IsZero() && at.After(prev) && s.speedup > 0 {
			time.Sleep(time.Duration(float64(at.Sub(prev)) / s.speedup))
		}
		prev = at

		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			logger.Warn().Err(err).Msg("client gone")
			return
		}
	}
	logger.Info().Msg("feed file exhausted")
}
