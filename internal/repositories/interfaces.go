package repositories

import (
	"context"
	"time"

	domain "github.com/inwcommunity/market-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Items() ItemRepository
	Sellers() SellerRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository owns cart header + line persistence with optimistic locking
// guarantees.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error)
	RemoveLine(ctx context.Context, userID string, lineID string) (domain.Cart, error)
}

// ItemRepository reads catalog item documents.
type ItemRepository interface {
	FindByID(ctx context.Context, itemID string) (domain.CatalogItem, error)
}

// SellerRepository reads seller profile documents.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
}

// OrderListFilter scopes order history queries to a buyer.
type OrderListFilter struct {
	UserID string
	Page   domain.Pagination
}

// OrderRepository persists marketplace orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) (domain.Order, error)
	ListByUser(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CounterRepository allocates monotonically increasing sequence values, used
// for human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// HealthRepository reports backend connectivity for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
