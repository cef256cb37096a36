// trader is the live-mode driver: websocket feed in, orders out through
// the configured execution sink, positions journaled for restart recovery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/tweettrader/internal/config"
	"github.com/quantfeed/tweettrader/internal/dispatch"
	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/journal"
	"github.com/quantfeed/tweettrader/internal/observ"
	"github.com/quantfeed/tweettrader/internal/position"
	"github.com/quantfeed/tweettrader/internal/runloop"
	"github.com/quantfeed/tweettrader/internal/sentiment"
	"github.com/quantfeed/tweettrader/internal/stream"
	"github.com/quantfeed/tweettrader/internal/symbols"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to credentials file")
	metricsAddr := flag.String("metrics-addr", ":8090", "metrics/health listen address, empty disables")
	flag.Parse()

	if err := run(*configPath, *envPath, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "trader:", err)
		os.Exit(1)
	}
}

func run(configPath, envPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	creds, err := config.LoadCredentials(envPath)
	if err != nil {
		return err
	}

	observ.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	runID := uuid.NewString()
	logger := observ.Logger("trader").With().Str("run_id", runID).Logger()
	logger.Info().Str("mode", cfg.Mode).Int("handles", len(cfg.Handles)).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	positionLog, err := journal.NewPositionLog(filepath.Join(cfg.Journal.Dir, "positions.jsonl"))
	if err != nil {
		return err
	}
	dedupLog, err := journal.OpenDedupLog(filepath.Join(cfg.Journal.Dir, "processed.jsonl"))
	if err != nil {
		return err
	}

	manager := position.NewManager(position.Config{
		Direction:        position.Direction(cfg.Trading.Direction),
		TradeAmount:      cfg.Trading.TradeAmount,
		StopLossPct:      cfg.Trading.StopLossPct,
		TargetPct:        cfg.Trading.TargetPct,
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		MaxHold:          time.Duration(cfg.Trading.MaxHoldMinutes) * time.Minute,
	}, positionLog)

	restored, err := positionLog.ReadState()
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}
	manager.Restore(restored)
	if n := len(restored); n > 0 {
		logger.Info().Int("positions", n).Msg("state recovered from journal")
	}
	for _, p := range manager.ActivePositions() {
		if p.Interrupted {
			logger.Warn().Str("position_id", p.ID).Str("symbol", p.Symbol).
				Msg("position needs manual reconciliation")
		}
	}

	sink, err := buildSink(cfg, creds)
	if err != nil {
		return err
	}
	dispatcher := dispatch.NewDispatcher(sink, dispatch.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Jitter:         time.Duration(cfg.Retry.JitterMs) * time.Millisecond,
	})

	classifierTimeout := time.Duration(cfg.Classifier.TimeoutMs) * time.Millisecond
	scorer := sentiment.NewHTTPScorer(cfg.Classifier.URL, classifierTimeout)
	classifier := sentiment.NewClassifier(scorer, sentiment.Thresholds(cfg.Thresholds), classifierTimeout)
	normalizer := event.NewNormalizer(classifier, symbols.NewUniverseExtractor(cfg.Universe))

	var gate runloop.Gate
	if cfg.Session.Enabled {
		session, err := stream.NewSession(cfg.Session.OpenTime, cfg.Session.CloseTime, cfg.Session.Timezone, cfg.Session.EntryCutoffMin)
		if err != nil {
			return err
		}
		gate = session
	}

	pipeline := runloop.NewPipeline(runloop.PipelineConfig{
		Normalizer: normalizer,
		Manager:    manager,
		Dispatcher: dispatcher,
		Dedup:      dedupLog,
		Gate:       gate,
	})

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.Health())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	source := stream.NewWSSource(stream.WSConfig{
		URL:          cfg.Stream.URL,
		Token:        creds.StreamToken,
		PingInterval: time.Duration(cfg.Stream.PingIntervalSecs) * time.Second,
		ReadTimeout:  time.Duration(cfg.Stream.ReadTimeoutSecs) * time.Second,
	})
	defer source.Close()

	reordered := runloop.NewReorderer(source, time.Duration(cfg.Stream.ReorderWindowMs)*time.Millisecond)
	err = pipeline.Run(ctx, reordered)

	for symbol, fault := range pipeline.HaltedShards() {
		logger.Error().Err(fault).Str("symbol", symbol).Msg("shard was halted")
	}
	for _, id := range manager.PendingIntents() {
		if markErr := manager.MarkInterrupted(id); markErr != nil {
			logger.Error().Err(markErr).Str("intent_id", id).Msg("could not flag pending intent")
		}
	}
	logger.Info().Int("closed_positions", len(manager.ClosedPositions())).
		Int("active_positions", len(manager.ActivePositions())).Msg("stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildSink(cfg config.Root, creds config.Credentials) (dispatch.Sink, error) {
	switch cfg.Mode {
	case "sim":
		return dispatch.NewSimSink(), nil
	case "paper":
		orderLog, err := journal.NewOrderLog(cfg.Paper.OutboxPath)
		if err != nil {
			return nil, err
		}
		return dispatch.NewPaperSink(orderLog, dispatch.PaperConfig{
			LatencyMsMin:   cfg.Paper.LatencyMsMin,
			LatencyMsMax:   cfg.Paper.LatencyMsMax,
			SlippageBpsMin: cfg.Paper.SlippageBpsMin,
			SlippageBpsMax: cfg.Paper.SlippageBpsMax,
		}), nil
	case "broker":
		if creds.BrokerAPIKey == "" {
			return nil, fmt.Errorf("broker mode needs BROKER_API_KEY")
		}
		return dispatch.NewBrokerSink(dispatch.BrokerConfig{
			BaseURL:           cfg.Broker.BaseURL,
			TimeoutMs:         cfg.Broker.TimeoutMs,
			RequestsPerSecond: cfg.Broker.RequestsPerSecond,
		}, creds.BrokerAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}
