package broker

// paper_stream.go — stream realtime simulado sobre el broker paper.
// Emite los precios marcados con SetPrice como quotes periódicas y
// entrega los fills con una pequeña latencia, como haría la red: el
// fill llega DESPUÉS de que PlaceOrder haya devuelto el broker id.

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

const paperFillLatency = 10 * time.Millisecond

// PaperStream implementa ports.RealtimeStream sobre un Paper.
type PaperStream struct {
	paper         *Paper
	quoteInterval time.Duration

	mu      sync.Mutex
	onQuote func(domain.Quote)
	onFill  func(domain.FillEvent)

	fills  chan domain.FillEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPaperStream crea el stream simulado.
func NewPaperStream(paper *Paper, quoteInterval time.Duration) *PaperStream {
	return &PaperStream{
		paper:         paper,
		quoteInterval: quoteInterval,
		fills:         make(chan domain.FillEvent, 64),
	}
}

// OnQuote registra el callback de quotes. Antes de Connect.
func (s *PaperStream) OnQuote(fn func(domain.Quote)) {
	s.mu.Lock()
	s.onQuote = fn
	s.mu.Unlock()
}

// OnFill registra el callback de fills. Antes de Connect.
func (s *PaperStream) OnFill(fn func(domain.FillEvent)) {
	s.mu.Lock()
	s.onFill = fn
	s.mu.Unlock()
}

// Connect engancha el paper broker y arranca el bucle de emisión.
func (s *PaperStream) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.paper.OnFill(func(ev domain.FillEvent) {
		select {
		case s.fills <- ev:
		default:
			// buffer lleno: en paper no hay reintento
		}
	})

	go s.run(runCtx)
	return nil
}

// Disconnect para el bucle y espera su salida.
func (s *PaperStream) Disconnect() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *PaperStream) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.quoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.fills:
			time.Sleep(paperFillLatency)
			s.mu.Lock()
			fn := s.onFill
			s.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-ticker.C:
			s.mu.Lock()
			fn := s.onQuote
			s.mu.Unlock()
			if fn == nil {
				continue
			}
			for symbol, price := range s.paper.Prices() {
				fn(domain.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()})
			}
		}
	}
}
