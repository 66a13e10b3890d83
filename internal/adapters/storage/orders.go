package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

const orderColumns = `id, broker_order_id, idempotency_key, symbol, side, type,
	quantity, price, status, filled_quantity, avg_fill_price, reason,
	created_at, updated_at`

// InsertOrderIfAbsent inserta la orden solo si su idempotency key no
// existe. ON CONFLICT DO NOTHING + re-lectura en la misma transacción:
// dos creates concurrentes con la misma key nunca producen dos filas.
func (s *Store) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	var out domain.Order
	var inserted bool

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING`,
			order.ID, order.BrokerOrderID, order.IdempotencyKey,
			order.Symbol, string(order.Side), string(order.Type),
			order.Quantity, order.Price, string(order.Status),
			order.FilledQuantity, order.AvgFillPrice, order.Reason,
			fmtTime(order.CreatedAt), fmtTime(order.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0

		row := tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`,
			order.IdempotencyKey,
		)
		out, err = scanOrder(row)
		return err
	})
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("storage.InsertOrderIfAbsent: %w", err)
	}
	return out, inserted, nil
}

// GetOrder devuelve la orden por su ID local.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: %s: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: %w", err)
	}
	return o, nil
}

// GetOrderByBrokerID localiza la orden por el ID asignado por el broker.
func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE broker_order_id = ?`, brokerOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("storage.GetOrderByBrokerID: %s: %w", brokerOrderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("storage.GetOrderByBrokerID: %w", err)
	}
	return o, nil
}

// GetOrdersByStatus devuelve las órdenes en cualquiera de los estados dados.
func (s *Store) GetOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (`+placeholders+`) ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOrdersByStatus: query: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetOrdersByStatus: scan: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrder sobrescribe los campos mutables de la orden.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			broker_order_id = ?, status = ?, filled_quantity = ?,
			avg_fill_price = ?, reason = ?, updated_at = ?
		WHERE id = ?`,
		order.BrokerOrderID, string(order.Status), order.FilledQuantity,
		order.AvgFillPrice, order.Reason, fmtTime(order.UpdatedAt),
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateOrder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateOrder: %s: %w", order.ID, domain.ErrOrderNotFound)
	}
	return nil
}

// AppendFill añade un fill. Nunca hay UPDATE sobre esta tabla.
func (s *Store) AppendFill(ctx context.Context, fill domain.Fill) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, broker_fill_id, quantity, price, ts)
		VALUES (?, ?, ?, ?, ?)`,
		fill.OrderID, fill.BrokerFillID, fill.Quantity, fill.Price, fmtTime(fill.Timestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.AppendFill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.AppendFill: last insert id: %w", err)
	}
	return id, nil
}

// GetFillsByOrder devuelve los fills de una orden en orden cronológico.
func (s *Store) GetFillsByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	return s.queryFills(ctx,
		`SELECT id, order_id, broker_fill_id, quantity, price, ts
		 FROM fills WHERE order_id = ? ORDER BY ts, id`, orderID)
}

// GetFillsBySymbol devuelve todos los fills de un símbolo en orden
// cronológico, anotados con el lado de su orden — la entrada del
// recompute de posiciones.
func (s *Store) GetFillsBySymbol(ctx context.Context, symbol string) ([]domain.SymbolFill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.order_id, f.broker_fill_id, f.quantity, f.price, f.ts, o.side
		FROM fills f JOIN orders o ON o.id = f.order_id
		WHERE o.symbol = ? ORDER BY f.ts, f.id`, symbol)
	if err != nil {
		return nil, fmt.Errorf("storage.GetFillsBySymbol: query: %w", err)
	}
	defer rows.Close()

	var fills []domain.SymbolFill
	for rows.Next() {
		var f domain.SymbolFill
		var ts, side string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.BrokerFillID, &f.Quantity, &f.Price, &ts, &side); err != nil {
			return nil, fmt.Errorf("storage.GetFillsBySymbol: scan: %w", err)
		}
		f.Timestamp = parseTime(ts)
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (s *Store) queryFills(ctx context.Context, query string, args ...any) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryFills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var ts string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.BrokerFillID, &f.Quantity, &f.Price, &ts); err != nil {
			return nil, fmt.Errorf("storage.queryFills: scan: %w", err)
		}
		f.Timestamp = parseTime(ts)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// scanner abstrae *sql.Row y *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var side, typ, status, createdAt, updatedAt string
	err := row.Scan(
		&o.ID, &o.BrokerOrderID, &o.IdempotencyKey, &o.Symbol,
		&side, &typ, &o.Quantity, &o.Price, &status,
		&o.FilledQuantity, &o.AvgFillPrice, &o.Reason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}
