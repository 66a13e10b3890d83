package broker

// stream.go — stream realtime de quotes y fills sobre websocket.
// El loop de lectura corre en su propia goroutine y entrega cada mensaje
// a los callbacks registrados; un error de parseo se loguea y se sigue
// leyendo — el stream no se cae por un mensaje malformado.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/gorilla/websocket"
)

// pushMessage es el sobre genérico del stream del broker.
type pushMessage struct {
	Type string          `json:"type"` // "quote" | "fill"
	Data json.RawMessage `json:"data"`
}

type quoteDTO struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

type fillDTO struct {
	OrderID   string  `json:"order_id"`
	FillID    string  `json:"fill_id"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// Stream implementa ports.RealtimeStream sobre gorilla/websocket.
type Stream struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	onQuote  []func(domain.Quote)
	onFill   []func(domain.FillEvent)
}

// NewStream crea el stream apuntando al endpoint websocket dado.
func NewStream(url string) *Stream {
	return &Stream{url: url}
}

// OnQuote registra un callback de quotes. Llamar antes de Connect.
func (s *Stream) OnQuote(fn func(domain.Quote)) {
	s.mu.Lock()
	s.onQuote = append(s.onQuote, fn)
	s.mu.Unlock()
}

// OnFill registra un callback de fills. Llamar antes de Connect.
func (s *Stream) OnFill(fn func(domain.FillEvent)) {
	s.mu.Lock()
	s.onFill = append(s.onFill, fn)
	s.mu.Unlock()
}

// Connect abre la conexión y arranca el loop de lectura.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("broker.Stream.Connect: dial %s: %v: %w", s.url, err, domain.ErrConnection)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)
	slog.Info("broker: realtime stream connected", "url", s.url)
	return nil
}

// Disconnect cierra la conexión y espera a que el loop de lectura salga.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	conn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("broker: read loop did not exit in time")
	}
	return nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("broker: stream read error", "err", err)
			}
			return
		}

		var msg pushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("broker: malformed stream message", "err", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(msg pushMessage) {
	s.mu.Lock()
	quoteFns := s.onQuote
	fillFns := s.onFill
	s.mu.Unlock()

	switch msg.Type {
	case "quote":
		var d quoteDTO
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			slog.Warn("broker: bad quote payload", "err", err)
			return
		}
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		q := domain.Quote{Symbol: d.Symbol, Price: d.Price, Timestamp: ts}
		for _, fn := range quoteFns {
			fn(q)
		}

	case "fill":
		var d fillDTO
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			slog.Warn("broker: bad fill payload", "err", err)
			return
		}
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		ev := domain.FillEvent{
			BrokerOrderID: d.OrderID,
			BrokerFillID:  d.FillID,
			Symbol:        d.Symbol,
			Quantity:      d.Quantity,
			Price:         d.Price,
			Timestamp:     ts,
		}
		for _, fn := range fillFns {
			fn(ev)
		}
	}
}
