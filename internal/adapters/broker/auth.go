package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// accessToken es el token de sesión emitido por el broker.
type accessToken struct {
	Value     string
	ExpiresAt time.Time
}

// tokenResponse es el wire format del endpoint de OAuth del broker.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // segundos
}

// Authenticate obtiene (o renueva) el token de sesión.
// Un fallo de credenciales devuelve domain.ErrAuthentication y NUNCA
// se reintenta — es fatal para el open-market.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]string{
		"grant_type": "client_credentials",
		"app_key":    c.appKey,
		"app_secret": c.appSecret,
	}

	var resp tokenResponse
	if err := c.post(ctx, c.inquiryLimiter, "/oauth2/token", body, &resp); err != nil {
		return fmt.Errorf("broker.Authenticate: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("broker.Authenticate: empty token: %w", domain.ErrAuthentication)
	}

	c.mu.Lock()
	c.token = accessToken{
		Value:     resp.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	c.mu.Unlock()
	return nil
}
