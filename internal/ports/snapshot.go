package ports

import (
	"context"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// SnapshotStore persiste el TradingStateSnapshot de forma atómica:
// un crash en cualquier punto del Save deja en disco el snapshot
// anterior o el nuevo, nunca uno parcial.
type SnapshotStore interface {
	Save(ctx context.Context, snap domain.TradingStateSnapshot) error

	// Load devuelve (snapshot, true) o (zero, false) si no existe aún.
	Load(ctx context.Context) (domain.TradingStateSnapshot, bool, error)
}
