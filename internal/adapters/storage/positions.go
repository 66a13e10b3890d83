package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// UpsertPosition escribe la posición derivada de un símbolo.
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, origin, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity   = excluded.quantity,
			avg_price  = excluded.avg_price,
			origin     = excluded.origin,
			updated_at = excluded.updated_at`,
		p.Symbol, p.Quantity, p.AvgPrice, string(p.Origin), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPosition: %s: %w", p.Symbol, err)
	}
	return nil
}

// GetPosition devuelve la posición de un símbolo.
// Devuelve sql.ErrNoRows envuelto si no existe.
func (s *Store) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, avg_price, origin, updated_at
		FROM positions WHERE symbol = ?`, symbol)

	p, err := scanPosition(row)
	if err != nil {
		return domain.Position{}, fmt.Errorf("storage.GetPosition: %s: %w", symbol, err)
	}
	return p, nil
}

// GetOpenPositions devuelve las posiciones no-stale con cantidad ≠ 0.
func (s *Store) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, origin, updated_at
		FROM positions
		WHERE quantity != 0 AND origin != ?
		ORDER BY symbol`, string(domain.OriginStale))
	if err != nil {
		return nil, fmt.Errorf("storage.GetOpenPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetOpenPositions: scan: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// MarkStale marca una posición como stale. No se borra nunca — auditoría.
func (s *Store) MarkStale(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET origin = ? WHERE symbol = ?`,
		string(domain.OriginStale), symbol)
	if err != nil {
		return fmt.Errorf("storage.MarkStale: %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.MarkStale: %s: %w", symbol, sql.ErrNoRows)
	}
	return nil
}

// IsNotFound informa si el error es un "no existe" de cualquier repo.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	var origin, updatedAt string
	if err := row.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &origin, &updatedAt); err != nil {
		return domain.Position{}, err
	}
	p.Origin = domain.PositionOrigin(origin)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
