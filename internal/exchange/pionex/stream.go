package pionex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/internal/observability"
)

// PriceHandler receives live last-trade prices from the ticker stream.
type PriceHandler func(symbol string, price decimal.Decimal)

// TickerStream maintains one public websocket connection subscribed to trade
// topics and pushes each trade price to the handler. It reconnects with
// exponential backoff and restores subscriptions after every reconnect.
type TickerStream struct {
	url     string
	symbols []string
	handler PriceHandler

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

type streamOp struct {
	Op        string `json:"op"`
	Topic     string `json:"topic,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type tradeFrame struct {
	Topic  string `json:"topic"`
	Symbol string `json:"symbol"`
	Data   []struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	} `json:"data"`
}

// NewTickerStream prepares a stream for the given canonical symbols.
func (c *Client) NewTickerStream(symbols []string, handler PriceHandler) *TickerStream {
	return &TickerStream{
		url:     c.streamURL,
		symbols: symbols,
		handler: handler,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start connects in the background and waits for the initial connection.
func (s *TickerStream) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		if err := s.connect(); err != nil && !errors.Is(err, context.Canceled) {
			observability.Log().Error("ticker stream terminated", observability.F("error", err))
		}
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(10 * time.Second):
		s.cancel()
		return errors.New("timeout waiting for ticker stream connection")
	case <-s.ctx.Done():
		return fmt.Errorf("ticker stream context done: %w", s.ctx.Err())
	}
}

// Stop closes the connection and waits for the read loop to exit.
func (s *TickerStream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	<-s.done
}

func (s *TickerStream) connect() error {
	log := observability.Log()
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-s.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(s.ctx, s.url, nil)
		if err != nil {
			log.Warn("ticker stream dial failed",
				observability.F("url", s.url), observability.F("error", err))
			sleep := backoffCfg.NextBackOff()
			select {
			case <-s.ctx.Done():
				return context.Canceled
			case <-time.After(sleep):
				continue
			}
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.readyOnce.Do(func() {
			close(s.ready)
		})
		backoffCfg.Reset()

		if err := s.subscribeAll(conn); err != nil {
			log.Error("ticker stream subscribe failed", observability.F("error", err))
		}

		if err := s.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			log.Warn("ticker stream read loop ended", observability.F("error", err))
		}

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()

		sleep := backoffCfg.NextBackOff()
		select {
		case <-s.ctx.Done():
			return context.Canceled
		case <-time.After(sleep):
		}
	}
}

func (s *TickerStream) subscribeAll(conn *websocket.Conn) error {
	for _, symbol := range s.symbols {
		req := streamOp{Op: "SUBSCRIBE", Topic: "TRADE", Symbol: symbolToVenue(symbol)}
		if err := s.write(conn, req); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	return nil
}

func (s *TickerStream) write(conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *TickerStream) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var op streamOp
		if err := json.Unmarshal(data, &op); err == nil && op.Op == "PING" {
			// The server closes connections that miss heartbeat replies.
			if err := s.write(conn, streamOp{Op: "PONG", Timestamp: op.Timestamp}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}

		s.handleFrame(data)
	}
}

func (s *TickerStream) handleFrame(data []byte) {
	var frame tradeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Topic != "TRADE" || len(frame.Data) == 0 {
		return
	}
	// The newest trade is last in the batch.
	last := frame.Data[len(frame.Data)-1]
	price, err := decimal.NewFromString(last.Price)
	if err != nil {
		observability.Log().Warn("bad trade price on stream",
			observability.F("symbol", frame.Symbol), observability.F("price", last.Price))
		return
	}
	s.handler(symbolFromVenue(frame.Symbol), price)
}
