package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/inwcommunity/market-api/internal/domain"
	"github.com/inwcommunity/market-api/internal/repositories"
)

// ErrCatalogInvalidInput indicates the caller supplied invalid input.
var ErrCatalogInvalidInput = errors.New("catalog service: invalid input")

// ErrCatalogItemNotFound indicates the requested item does not exist.
var ErrCatalogItemNotFound = errors.New("catalog service: item not found")

// ErrCatalogUnavailable indicates the catalog backend cannot be reached.
var ErrCatalogUnavailable = errors.New("catalog service: unavailable")

// CatalogServiceDeps wires catalog lookups with seller profile resolution.
type CatalogServiceDeps struct {
	Items   repositories.ItemRepository
	Sellers repositories.SellerRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	items    repositories.ItemRepository
	sellers  repositories.SellerRepository
	sanitise *bluemonday.Policy
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService. Policy texts are
// seller-supplied rich text; they are sanitised before leaving this layer.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Items == nil {
		return nil, errors.New("catalog service: item repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("catalog service: seller repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		items:    deps.Items,
		sellers:  deps.Sellers,
		sanitise: bluemonday.UGCPolicy(),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// GetItem loads the item snapshot and resolves its effective fulfillment
// policies: the item-level override wins, otherwise the seller profile
// default applies. Cash acceptance follows the seller profile.
func (s *catalogService) GetItem(ctx context.Context, itemID string) (CatalogItem, error) {
	if s == nil || s.items == nil {
		return CatalogItem{}, ErrCatalogUnavailable
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return CatalogItem{}, ErrCatalogInvalidInput
	}

	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return CatalogItem{}, ErrCatalogItemNotFound
		}
		return CatalogItem{}, ErrCatalogUnavailable
	}

	seller, err := s.loadSeller(ctx, item.SellerID)
	if err != nil {
		return CatalogItem{}, err
	}

	return s.resolveEffective(item, seller), nil
}

func (s *catalogService) loadSeller(ctx context.Context, sellerID string) (Seller, error) {
	id := strings.TrimSpace(sellerID)
	if id == "" || s.sellers == nil {
		// Items without a seller profile fall back to platform defaults.
		return Seller{AcceptCashForPickupDelivery: true}, nil
	}
	seller, err := s.sellers.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "catalog.seller_missing", map[string]any{"sellerID": id})
			return Seller{ID: id, AcceptCashForPickupDelivery: true}, nil
		}
		return Seller{}, ErrCatalogUnavailable
	}
	return seller, nil
}

func (s *catalogService) resolveEffective(item domain.CatalogItem, seller domain.Seller) domain.CatalogItem {
	item.AcceptCash = seller.AcceptCashForPickupDelivery
	item.LocalDeliveryPolicy = s.sanitisePolicy(firstNonEmpty(item.LocalDeliveryPolicy, seller.LocalDeliveryPolicy))
	item.PickupPolicy = s.sanitisePolicy(firstNonEmpty(item.PickupPolicy, seller.PickupPolicy))
	return item
}

func (s *catalogService) sanitisePolicy(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(s.sanitise.Sanitize(trimmed))
}
