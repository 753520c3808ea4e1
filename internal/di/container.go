package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inwcommunity/market-api/internal/platform/config"
	"github.com/inwcommunity/market-api/internal/platform/observability"
	"github.com/inwcommunity/market-api/internal/repositories"
	"github.com/inwcommunity/market-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Orders   services.OrderService
	Checkout services.CheckoutService
}

// Infrastructure carries externally constructed clients the service layer
// depends on. The payment gateway and event publisher own network clients with
// their own lifecycles, so main wires them and hands them in.
type Infrastructure struct {
	Payments services.PaymentGateway
	Events   services.OrderEventPublisher
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and network handles.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Items:   reg.Items(),
		Sellers: reg.Sellers(),
		Clock:   time.Now,
		Logger:  serviceEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Catalog:    catalogSvc,
		Clock:      time.Now,
		Logger:     serviceEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Carts:    reg.Carts(),
		Events:   infra.Events,
		Clock:    time.Now,
		Logger:   serviceEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if infra.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Cart:           cartSvc,
			Orders:         orderSvc,
			Payments:       infra.Payments,
			Currency:       cfg.Checkout.Currency,
			PublishableKey: cfg.Stripe.PublishableKey,
			SuccessURL:     cfg.Checkout.SuccessURL,
			CancelURL:      cfg.Checkout.CancelURL,
			Clock:          time.Now,
			Logger:         serviceEventLogger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}

// serviceEventLogger adapts the request-scoped zap logger to the plain
// event/fields signature the services accept.
func serviceEventLogger(ctx context.Context, event string, fields map[string]any) {
	logger := observability.FromContext(ctx)
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	logger.Info(event, zapFields...)
}
