package ports

import (
	"context"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Broker is the consumed brokerage capability. Adapters translate wire
// errors into the domain taxonomy before they reach state-machine logic.
type Broker interface {
	// Authenticate obtains/refreshes the session token.
	// Returns domain.ErrAuthentication on credential failure (never retried).
	Authenticate(ctx context.Context) error

	// PlaceOrder submits an order and returns the broker-assigned order id.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// CancelOrder requests cancellation of a broker order.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetOrders returns the broker's current view of our orders.
	GetOrders(ctx context.Context) ([]domain.BrokerOrder, error)

	// InquireBalance returns the full portfolio as the broker sees it.
	// This is the source of truth for reconciliation.
	InquireBalance(ctx context.Context) (domain.BrokerHoldings, error)
}

// RealtimeStream delivers quotes and fills to registered callbacks.
type RealtimeStream interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// OnQuote/OnFill register callbacks. Must be called before Connect.
	OnQuote(func(domain.Quote))
	OnFill(func(domain.FillEvent))
}
