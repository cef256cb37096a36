// replay runs the full pipeline over a captured JSONL stream with the
// deterministic sim sink and prints the performance report. The same file
// replayed twice produces the same closed-position set.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/tweettrader/internal/config"
	"github.com/quantfeed/tweettrader/internal/dispatch"
	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/observ"
	"github.com/quantfeed/tweettrader/internal/perf"
	"github.com/quantfeed/tweettrader/internal/position"
	"github.com/quantfeed/tweettrader/internal/runloop"
	"github.com/quantfeed/tweettrader/internal/sentiment"
	"github.com/quantfeed/tweettrader/internal/symbols"
)

type report struct {
	RunID     string              `json:"run_id"`
	File      string              `json:"file"`
	Global    perf.Summary        `json:"global"`
	ByHandle  []perf.Summary      `json:"by_handle"`
	BySymbol  []perf.Summary      `json:"by_symbol"`
	Positions []position.Position `json:"closed_positions"`
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	file := flag.String("file", "", "captured stream JSONL to replay")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "replay: -file is required")
		os.Exit(2)
	}
	if err := run(*configPath, *file); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observ.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	classifierTimeout := time.Duration(cfg.Classifier.TimeoutMs) * time.Millisecond
	scorer := sentiment.NewHTTPScorer(cfg.Classifier.URL, classifierTimeout)
	classifier := sentiment.NewClassifier(scorer, sentiment.Thresholds(cfg.Thresholds), classifierTimeout)
	normalizer := event.NewNormalizer(classifier, symbols.NewUniverseExtractor(cfg.Universe))

	manager := position.NewManager(position.Config{
		Direction:        position.Direction(cfg.Trading.Direction),
		TradeAmount:      cfg.Trading.TradeAmount,
		StopLossPct:      cfg.Trading.StopLossPct,
		TargetPct:        cfg.Trading.TargetPct,
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		MaxHold:          time.Duration(cfg.Trading.MaxHoldMinutes) * time.Minute,
	}, nil)

	pipeline := runloop.NewPipeline(runloop.PipelineConfig{
		Normalizer: normalizer,
		Manager:    manager,
		Dispatcher: dispatch.NewDispatcher(dispatch.NewSimSink(), dispatch.RetryPolicy{MaxAttempts: 1}),
		Dedup:      runloop.NewMemoryDedup(),
		Serial:     true,
	})

	src, err := runloop.OpenReplay(file)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := pipeline.Run(context.Background(), src); err != nil {
		return err
	}
	for symbol, fault := range pipeline.HaltedShards() {
		return fmt.Errorf("shard %s halted during replay: %w", symbol, fault)
	}

	agg := perf.NewAggregator()
	closed := manager.ClosedPositions()
	for _, p := range closed {
		agg.Record(p)
	}

	out := report{
		RunID:     uuid.NewString(),
		File:      file,
		Global:    agg.Global(),
		ByHandle:  agg.ByHandle(),
		BySymbol:  agg.BySymbol(),
		Positions: closed,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
