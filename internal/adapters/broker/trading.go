package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Wire DTOs del broker. El core nunca los ve: todo se mapea a tipos de
// dominio antes de salir de este paquete.

type placeOrderRequest struct {
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price,omitempty"`
	IdempotencyKey string  `json:"client_order_id"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

type brokerOrderDTO struct {
	OrderID        string  `json:"order_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Status         string  `json:"status"`
	Quantity       float64 `json:"quantity"`
	FilledQuantity float64 `json:"filled_quantity"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	UpdatedAt      string  `json:"updated_at"`
}

type holdingsDTO struct {
	AccountID  string  `json:"account_id"`
	CashEquity float64 `json:"cash_equity"`
	TotalValue float64 `json:"total_value"`
	Holdings   []struct {
		Symbol   string  `json:"symbol"`
		Quantity float64 `json:"quantity"`
		AvgPrice float64 `json:"avg_price"`
	} `json:"holdings"`
}

// PlaceOrder envía la orden y devuelve el order id asignado por el broker.
// La idempotency key viaja como client_order_id: si el broker ya la vio,
// devuelve el mismo order id en lugar de crear un duplicado.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	dto := placeOrderRequest{
		AccountID:      c.accountID,
		Symbol:         req.Symbol,
		Side:           string(req.Side),
		OrderType:      string(req.Type),
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Type == domain.TypeLimit {
		dto.Price = req.Price
	}

	var resp placeOrderResponse
	if err := c.post(ctx, c.tradingLimiter, "/v1/orders", dto, &resp); err != nil {
		return "", fmt.Errorf("broker.PlaceOrder: %s %s: %w", req.Side, req.Symbol, err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("broker.PlaceOrder: empty order id in response")
	}
	return resp.OrderID, nil
}

// CancelOrder pide la cancelación de una orden.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := c.post(ctx, c.tradingLimiter,
		"/v1/orders/"+brokerOrderID+"/cancel", struct{}{}, nil); err != nil {
		return fmt.Errorf("broker.CancelOrder: %s: %w", brokerOrderID, err)
	}
	return nil
}

// GetOrders devuelve la vista del broker de nuestras órdenes del día.
func (c *Client) GetOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	var dtos []brokerOrderDTO
	if err := c.get(ctx, c.inquiryLimiter,
		"/v1/accounts/"+c.accountID+"/orders", &dtos); err != nil {
		return nil, fmt.Errorf("broker.GetOrders: %w", err)
	}

	orders := make([]domain.BrokerOrder, 0, len(dtos))
	for _, d := range dtos {
		orders = append(orders, mapBrokerOrder(d))
	}
	return orders, nil
}

// InquireBalance devuelve la cartera completa según el broker — la fuente
// de verdad para la reconciliación.
func (c *Client) InquireBalance(ctx context.Context) (domain.BrokerHoldings, error) {
	var dto holdingsDTO
	if err := c.get(ctx, c.inquiryLimiter,
		"/v1/accounts/"+c.accountID+"/balance", &dto); err != nil {
		return domain.BrokerHoldings{}, fmt.Errorf("broker.InquireBalance: %w", err)
	}

	out := domain.BrokerHoldings{
		AccountID:  dto.AccountID,
		CashEquity: dto.CashEquity,
		TotalValue: dto.TotalValue,
		AsOf:       time.Now().UTC(),
	}
	for _, h := range dto.Holdings {
		out.Holdings = append(out.Holdings, domain.BrokerHolding{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
			AvgPrice: h.AvgPrice,
		})
	}
	return out, nil
}

// mapBrokerOrder traduce el status del wire a nuestra taxonomía.
func mapBrokerOrder(d brokerOrderDTO) domain.BrokerOrder {
	status := domain.OrderStatusSent
	switch d.Status {
	case "accepted", "open":
		status = domain.OrderStatusSent
	case "partially_filled":
		status = domain.OrderStatusPartial
	case "filled":
		status = domain.OrderStatusFilled
	case "canceled", "cancelled":
		status = domain.OrderStatusCanceled
	case "rejected":
		status = domain.OrderStatusRejected
	case "error":
		status = domain.OrderStatusError
	}

	updated, _ := time.Parse(time.RFC3339, d.UpdatedAt)
	return domain.BrokerOrder{
		BrokerOrderID:  d.OrderID,
		Symbol:         d.Symbol,
		Side:           domain.OrderSide(d.Side),
		Status:         status,
		Quantity:       d.Quantity,
		FilledQuantity: d.FilledQuantity,
		AvgFillPrice:   d.AvgFillPrice,
		UpdatedAt:      updated,
	}
}
