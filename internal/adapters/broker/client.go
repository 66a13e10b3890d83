package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	// Rate limits al 60% de los límites documentados del broker.
	// Trading (place/cancel): 20/s → 12/s
	tradingRatePerSec = 12
	// Consultas (orders/balance): 50/s → 30/s
	inquiryRatePerSec = 30

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del broker con rate limiting y retries.
// Implementa ports.Broker.
type Client struct {
	http           *http.Client
	base           string
	accountID      string
	appKey         string
	appSecret      string
	tradingLimiter *rate.Limiter
	inquiryLimiter *rate.Limiter

	mu    sync.Mutex
	token accessToken
}

// NewClient crea un Client para el endpoint REST dado.
func NewClient(base, accountID, appKey, appSecret string) *Client {
	return &Client{
		http:           &http.Client{Timeout: 10 * time.Second},
		base:           base,
		accountID:      accountID,
		appKey:         appKey,
		appSecret:      appSecret,
		tradingLimiter: rate.NewLimiter(tradingRatePerSec, 5),
		inquiryLimiter: rate.NewLimiter(inquiryRatePerSec, 10),
	}
}

// get hace un GET autenticado con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, path string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON autenticado con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req)
		return c.http.Do(req)
	}, out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-App-Key", c.appKey)
	c.mu.Lock()
	if c.token.Value != "" {
		req.Header.Set("Authorization", "Bearer "+c.token.Value)
	}
	c.mu.Unlock()
}

// doWithRetry ejecuta la request con backoff exponencial acotado.
// Solo reintenta 5xx, 429 y errores de red; 401/403 y 4xx de validación
// se devuelven mapeados a la taxonomía del dominio sin reintentar.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			lastErr = fmt.Errorf("%v: %w", err, domain.ErrConnection)
			if attempt == maxRetries {
				break
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = fmt.Errorf("status 429: %w", domain.ErrRateLimit)
			slog.Warn("broker: rate limited", "attempt", attempt+1)
			if attempt == maxRetries {
				break
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrConnection)
			if attempt == maxRetries {
				break
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrAuthentication)

		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("broker rejected request: status %d: %s", resp.StatusCode, body)
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

// sleep espera con backoff exponencial y jitter, respetando ctx.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(float64(baseRetryWait) * math.Pow(2, float64(attempt)))
	wait += time.Duration(rand.Int63n(int64(wait / 2)))
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
