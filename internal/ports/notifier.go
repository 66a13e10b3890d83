package ports

import (
	"context"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Notifier entrega eventos tipados a un sink externo (consola, webhook).
// Un fallo de entrega se loguea y se descarta: nunca llega al trading.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}
