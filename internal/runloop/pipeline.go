package runloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/tweettrader/internal/dispatch"
	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/observ"
	"github.com/quantfeed/tweettrader/internal/position"
	"github.com/quantfeed/tweettrader/internal/sentiment"
	"github.com/quantfeed/tweettrader/internal/signal"
)

// Dedup remembers processed post ids across restarts. A nil Dedup disables
// the check (pure backtests).
type Dedup interface {
	Seen(id string) bool
	MarkProcessed(id string) error
}

// Gate decides whether a post's event time falls inside the trading
// session. A nil Gate admits everything.
type Gate interface {
	Allow(t time.Time) bool
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Normalizer  *event.Normalizer
	Manager     *position.Manager
	Dispatcher  *dispatch.Dispatcher
	Dedup       Dedup
	Gate        Gate
	ShardBuffer int

	// Serial processes every task inline on the pump goroutine, in source
	// order, instead of fanning out to shard workers. Replay runs serial:
	// concurrent shards race for global position-cap slots, and the slot
	// winner must never depend on goroutine scheduling.
	Serial bool
}

// Pipeline is the dual-mode driver: one pump pulls entries from a Source
// and routes them onto per-symbol shard workers. The shard is the
// serialization unit, so every (symbol, handle) pair's state transitions
// happen in source order on a single goroutine.
type Pipeline struct {
	normalizer *event.Normalizer
	manager    *position.Manager
	dispatcher *dispatch.Dispatcher
	dedup      Dedup
	gate       Gate
	shardBuf   int
	serial     bool

	mu     sync.Mutex
	halted map[string]error
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.ShardBuffer <= 0 {
		cfg.ShardBuffer = 64
	}
	return &Pipeline{
		normalizer: cfg.Normalizer,
		manager:    cfg.Manager,
		dispatcher: cfg.Dispatcher,
		dedup:      cfg.Dedup,
		gate:       cfg.Gate,
		shardBuf:   cfg.ShardBuffer,
		serial:     cfg.Serial,
		halted:     make(map[string]error),
	}
}

type task struct {
	ev   *event.SentimentEvent // single-symbol view of a post
	tick *event.PriceTick
}

// Run consumes the source until exhaustion, fatal source error, or
// cancellation. Shard-fatal faults halt only their shard; they are
// reported via HaltedShards, not as Run's error.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	if p.serial {
		return p.runSerial(ctx, src)
	}
	group, gctx := errgroup.WithContext(ctx)

	shards := make(map[string]chan task)
	route := func(symbol string, t task) bool {
		ch, ok := shards[symbol]
		if !ok {
			ch = make(chan task, p.shardBuf)
			shards[symbol] = ch
			symbol := symbol
			group.Go(func() error {
				p.runShard(gctx, symbol, ch)
				return nil
			})
		}
		select {
		case ch <- t:
			return true
		case <-gctx.Done():
			return false
		}
	}

	group.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		return p.pump(gctx, src, route)
	})

	return group.Wait()
}

// runSerial reuses the pump but handles every routed task inline, with the
// same fault classification the shard workers apply. One goroutine touches
// the manager, so replayed runs over the same source are identical.
func (p *Pipeline) runSerial(ctx context.Context, src Source) error {
	logger := observ.Logger("pipeline")
	route := func(symbol string, t task) bool {
		if ctx.Err() != nil {
			return false
		}
		if p.shardFault(symbol) != nil {
			return true
		}
		if err := p.process(ctx, t, logger.With().Str("symbol", symbol).Logger()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			p.halt(symbol, err, logger)
		}
		return true
	}
	return p.pump(ctx, src, route)
}

func (p *Pipeline) pump(ctx context.Context, src Source, route func(string, task) bool) error {
	logger := observ.Logger("pump")
	for {
		e, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch e.Type {
		case event.EntryTick:
			tick := *e.Tick
			if !route(tick.Symbol, task{tick: &tick}) {
				return ctx.Err()
			}

		case event.EntryPost:
			post := *e.Post
			if p.gate != nil && !p.gate.Allow(post.CreatedAt) {
				observ.IncCounter("posts_outside_session_total", nil)
				continue
			}
			if p.dedup != nil && p.dedup.Seen(post.ID) {
				observ.IncCounter("posts_deduplicated_total", nil)
				logger.Debug().Str("post_id", post.ID).Msg("post already processed")
				continue
			}

			ev, err := p.normalizer.Normalize(ctx, post)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var timeout *sentiment.ClassificationTimeoutError
				if errors.As(err, &timeout) {
					observ.IncCounter("classification_timeouts_total", nil)
				}
				logger.Warn().Err(err).Str("post_id", post.ID).Msg("post dropped")
				continue
			}
			if p.dedup != nil {
				if err := p.dedup.MarkProcessed(post.ID); err != nil {
					return fmt.Errorf("mark post %s processed: %w", post.ID, err)
				}
			}
			if len(ev.Symbols) == 0 {
				observ.IncCounter("posts_without_symbols_total", nil)
				logger.Debug().Str("post_id", post.ID).Msg("no symbols extracted")
				continue
			}

			for _, sym := range ev.Symbols {
				view := ev
				view.Symbols = []string{sym}
				if !route(sym, task{ev: &view}) {
					return ctx.Err()
				}
			}
		}
	}
}

func (p *Pipeline) runShard(ctx context.Context, symbol string, tasks <-chan task) {
	logger := observ.Logger("shard").With().Str("symbol", symbol).Logger()
	for t := range tasks {
		if p.shardFault(symbol) != nil {
			continue // drain after halt
		}
		if err := p.process(ctx, t, logger); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue // shutdown in progress, keep draining
			}
			p.halt(symbol, err, logger)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, t task, logger zerolog.Logger) error {
	if t.tick != nil {
		intents, err := p.manager.ApplyTick(*t.tick)
		if err != nil {
			logger.Warn().Err(err).Msg("tick rejected")
			return nil
		}
		for _, intent := range intents {
			if err := p.execute(ctx, intent, t.tick.ObservedAt, logger); err != nil {
				return err
			}
		}
		return nil
	}

	ev := *t.ev
	signals, err := signal.Generate(ev, p.manager)
	if err != nil {
		// Cannot happen for a routed single-symbol view, but a signal
		// generator fault must not take the shard down.
		logger.Warn().Err(err).Str("post_id", ev.SourcePostID).Msg("signal generation failed")
		return nil
	}
	for _, sig := range signals {
		intent, err := p.manager.ApplySignal(sig, ev.OccurredAt)
		if err != nil {
			var dup *position.DuplicatePositionError
			if errors.As(err, &dup) {
				return err // shard state inconsistency
			}
			observ.IncCounter("signals_skipped_total", map[string]string{"symbol": sig.Symbol})
			logger.Info().Err(err).Str("symbol", sig.Symbol).Str("handle", sig.Handle).
				Msg("signal skipped")
			continue
		}
		if intent == nil {
			continue
		}
		if err := p.execute(ctx, *intent, ev.OccurredAt, logger); err != nil {
			return err
		}
	}
	return nil
}

// execute pushes one intent through the dispatcher and resolves the
// pending position: confirm on fill, revert on exhausted retries, mark
// interrupted when shutdown cut the submission short.
func (p *Pipeline) execute(ctx context.Context, intent position.OrderIntent, now time.Time, logger zerolog.Logger) error {
	fill, err := p.dispatcher.Submit(ctx, intent, now)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if markErr := p.manager.MarkInterrupted(intent.IntentID); markErr != nil {
				logger.Error().Err(markErr).Str("intent_id", intent.IntentID).
					Msg("interrupted intent could not be flagged")
			}
			return err
		}

		var failed *dispatch.DispatchFailedError
		if errors.As(err, &failed) {
			if revertErr := p.manager.RevertIntent(intent.IntentID); revertErr != nil {
				return fmt.Errorf("revert after dispatch failure: %w", revertErr)
			}
			logger.Error().Err(err).Str("intent_id", intent.IntentID).Msg("dispatch exhausted, position reverted")
			return err // exhausted retries halt the shard
		}
		return err // duplicate intent or other consistency fault
	}

	if err := p.manager.ConfirmFill(fill.IntentID, fill.FillPrice, fill.FilledAt); err != nil {
		return err
	}
	logger.Info().Str("intent_id", intent.IntentID).Str("symbol", intent.Symbol).
		Str("action", string(intent.Action)).Float64("price", fill.FillPrice).
		Msg("fill confirmed")
	return nil
}

func (p *Pipeline) halt(symbol string, err error, logger zerolog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.halted[symbol]; ok {
		return
	}
	p.halted[symbol] = err
	observ.IncCounter("shards_halted_total", map[string]string{"symbol": symbol})
	logger.Error().Err(err).Msg("shard halted")
}

func (p *Pipeline) shardFault(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted[symbol]
}

// HaltedShards reports the shards stopped by fatal faults and why.
func (p *Pipeline) HaltedShards() map[string]error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]error, len(p.halted))
	for k, v := range p.halted {
		out[k] = v
	}
	return out
}
