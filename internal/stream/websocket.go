package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfeed/tweettrader/internal/event"
	"github.com/quantfeed/tweettrader/internal/observ"
)

// WSConfig configures the live feed connection.
type WSConfig struct {
	URL          string
	Token        string
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// WSSource consumes stream entries from the websocket feed. It reconnects
// with backoff on connection loss, so Next only fails on cancellation.
type WSSource struct {
	cfg    WSConfig
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	stopPing chan struct{}
}

func NewWSSource(cfg WSConfig) *WSSource {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	return &WSSource{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (s *WSSource) Next(ctx context.Context) (event.StreamEntry, error) {
	logger := observ.Logger("stream")
	for {
		if err := ctx.Err(); err != nil {
			return event.StreamEntry{}, err
		}
		conn := s.current()
		if conn == nil {
			if err := s.connect(ctx); err != nil {
				return event.StreamEntry{}, err
			}
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.Close()
			if ctx.Err() != nil {
				return event.StreamEntry{}, ctx.Err()
			}
			observ.IncCounter("stream_disconnects_total", nil)
			logger.Warn().Err(err).Msg("feed read failed, reconnecting")
			continue
		}

		e, err := event.DecodeStreamEntry(data)
		if err != nil {
			observ.IncCounter("stream_malformed_total", nil)
			logger.Warn().Err(err).Msg("malformed feed entry skipped")
			continue
		}
		return e, nil
	}
}

// connect dials with exponential backoff until it succeeds or ctx ends.
func (s *WSSource) connect(ctx context.Context) error {
	logger := observ.Logger("stream")
	backoff := time.Second
	for {
		header := http.Header{}
		if s.cfg.Token != "" {
			header.Set("Authorization", "Bearer "+s.cfg.Token)
		}
		conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			})
			s.install(conn)
			logger.Info().Str("url", s.cfg.URL).Msg("feed connected")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Dur("backoff", backoff).Msg("feed dial failed")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *WSSource) install(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.stopPing = make(chan struct{})
	go s.pingLoop(conn, s.stopPing)
}

func (s *WSSource) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *WSSource) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Close tears the connection down; Next will reconnect on its next call.
func (s *WSSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
