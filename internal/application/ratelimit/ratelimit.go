package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter acota las llamadas salientes al broker a N por segundo.
// Seguro para llamadas concurrentes desde varias goroutines.
type Limiter struct {
	inner *rate.Limiter
}

// New crea un limiter de n requests por segundo con burst n.
func New(perSecond int) *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

// Acquire bloquea al caller hasta que haya un slot en la ventana,
// o hasta que el contexto se cancele.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.inner.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit.Acquire: %w", err)
	}
	return nil
}

// Available informa cuántos slots quedan ahora mismo, sin bloquear.
func (l *Limiter) Available() int {
	t := l.inner.Tokens()
	if t < 0 {
		return 0
	}
	return int(t)
}
