package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/inwcommunity/market-api/internal/domain"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

// stubCartRepository keeps carts in memory when no override func is set. The
// defaults mirror the Firestore repository contract: ReplaceLines and the
// guarded upsert fail with not-found when no cart document exists yet.
type stubCartRepository struct {
	getFunc     func(ctx context.Context, userID string) (domain.Cart, error)
	upsertFunc  func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error)
	replaceFunc func(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error)
	removeFunc  func(ctx context.Context, userID string, lineID string) (domain.Cart, error)

	carts map[string]domain.Cart
}

func (s *stubCartRepository) store(cart domain.Cart) {
	if s.carts == nil {
		s.carts = map[string]domain.Cart{}
	}
	s.carts[cart.UserID] = cart
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	return cart, nil
}

func (s *stubCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cart, expected)
	}
	if expected != nil && !expected.IsZero() {
		stored, ok := s.carts[cart.UserID]
		if !ok {
			return domain.Cart{}, stubRepoError{notFound: true}
		}
		if !stored.UpdatedAt.Equal(*expected) {
			return domain.Cart{}, stubRepoError{conflict: true}
		}
	}
	s.store(cart)
	return cart, nil
}

func (s *stubCartRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error) {
	if s.replaceFunc != nil {
		return s.replaceFunc(ctx, userID, lines)
	}
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	cart.Lines = lines
	s.store(cart)
	return cart, nil
}

func (s *stubCartRepository) RemoveLine(ctx context.Context, userID string, lineID string) (domain.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, userID, lineID)
	}
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	kept := make([]domain.CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.ID == lineID {
			continue
		}
		kept = append(kept, line)
	}
	cart.Lines = kept
	s.store(cart)
	return cart, nil
}

type stubCatalog struct {
	getItemFunc func(ctx context.Context, itemID string) (CatalogItem, error)
}

func (s *stubCatalog) GetItem(ctx context.Context, itemID string) (CatalogItem, error) {
	if s.getItemFunc == nil {
		return CatalogItem{}, ErrCatalogItemNotFound
	}
	return s.getItemFunc(ctx, itemID)
}

func newTestCartService(t *testing.T, repo *stubCartRepository, catalog *stubCatalog, now time.Time) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceGetCartCreatesWhenMissing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	var created domain.Cart
	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{notFound: true}
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected != nil {
				t.Fatalf("create must not carry an optimistic lock, got %v", expected)
			}
			created = cart
			return cart, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	cart, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if created.UserID != "user-1" {
		t.Fatalf("expected lazy-created cart for user-1, got %q", created.UserID)
	}
	if len(cart.Lines) != 0 || cart.UserID != "user-1" {
		t.Fatalf("unexpected cart %+v", cart)
	}
}

func TestCartServiceAddLineDefaultsFulfillmentAndCash(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	item := CatalogItem{
		ID:                     "item-1",
		SellerID:               "seller-1",
		Name:                   "Sourdough loaf",
		PriceCents:             900,
		ShippingDisabled:       true,
		InStorePickupAvailable: true,
		AcceptCash:             true,
	}

	var replaced []domain.CartLine
	repo := &stubCartRepository{
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}
	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) { return item, nil },
	}

	svc := newTestCartService(t, repo, catalog, now)

	cart, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-1", ItemID: "item-1", Quantity: 2})
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if len(replaced) != 1 {
		t.Fatalf("expected 1 replaced line, got %d", len(replaced))
	}
	line := replaced[0]
	if line.FulfillmentType != FulfillmentPickup {
		t.Fatalf("expected default fulfillment pickup, got %s", line.FulfillmentType)
	}
	if line.PaymentChoice != PaymentCash {
		t.Fatalf("expected cash default for eligible line, got %s", line.PaymentChoice)
	}
	if line.ID == "" {
		t.Fatalf("expected generated line id")
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected cart with 1 line, got %d", len(cart.Lines))
	}
}

func TestCartServiceAddLineRejectsQuantityBeyondAvailability(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) {
			return CatalogItem{ID: "item-1", QuantityAvailable: 2}, nil
		},
	}

	svc := newTestCartService(t, &stubCartRepository{}, catalog, now)

	if _, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-1", ItemID: "item-1", Quantity: 3}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddLineUnknownItem(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, &stubCartRepository{}, &stubCatalog{}, time.Now().UTC())

	if _, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-1", ItemID: "missing", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddLineValidatesVariant(t *testing.T) {
	ctx := context.Background()
	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) {
			return CatalogItem{
				ID: "item-1",
				OptionGroups: []OptionGroup{
					{Name: "Size", Values: []string{"S", "M"}},
				},
			}, nil
		},
	}

	svc := newTestCartService(t, &stubCartRepository{}, catalog, time.Now().UTC())

	if _, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-1", ItemID: "item-1", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected missing selection to fail, got %v", err)
	}

	if _, err := svc.AddLine(ctx, AddLineCommand{
		UserID: "user-1", ItemID: "item-1", Quantity: 1,
		Variant: map[string]string{"Size": "XL"},
	}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid choice to fail, got %v", err)
	}

	if _, err := svc.AddLine(ctx, AddLineCommand{
		UserID: "user-1", ItemID: "item-1", Quantity: 1,
		Variant: map[string]string{"Size": "M"},
	}); err != nil {
		t.Fatalf("expected valid selection to pass, got %v", err)
	}
}

func TestCartServiceAddLineRejectsCashOnIneligibleLine(t *testing.T) {
	ctx := context.Background()
	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) {
			return CatalogItem{ID: "item-1", AcceptCash: true}, nil
		},
	}

	svc := newTestCartService(t, &stubCartRepository{}, catalog, time.Now().UTC())

	cash := PaymentCash
	_, err := svc.AddLine(ctx, AddLineCommand{
		UserID: "user-1", ItemID: "item-1", Quantity: 1,
		PaymentChoice: &cash,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("ship line must reject cash, got %v", err)
	}
}

func TestCartServiceUpdateLineFulfillmentSwitchClearsDetails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	existing := domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Lines: []domain.CartLine{
			{
				ID:              "line-1",
				ItemID:          "item-1",
				Quantity:        1,
				FulfillmentType: FulfillmentLocalDelivery,
				PaymentChoice:   PaymentCash,
				LocalDelivery:   &LocalDeliveryDetails{FirstName: "A", LastName: "B", Phone: "555"},
				Item: CatalogItem{
					ID:                     "item-1",
					LocalDeliveryAvailable: true,
					InStorePickupAvailable: true,
					AcceptCash:             true,
				},
			},
		},
		UpdatedAt: now,
	}

	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) { return existing, nil },
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	pickup := FulfillmentPickup
	if _, err := svc.UpdateLine(ctx, UpdateLineCommand{
		UserID: "user-1", LineID: "line-1",
		FulfillmentType: &pickup,
	}); err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}

	if len(replaced) != 1 {
		t.Fatalf("expected 1 line, got %d", len(replaced))
	}
	line := replaced[0]
	if line.FulfillmentType != FulfillmentPickup {
		t.Fatalf("expected pickup, got %s", line.FulfillmentType)
	}
	if line.LocalDelivery != nil || line.Pickup != nil {
		t.Fatalf("switching fulfillment must clear captured details, got %+v", line)
	}
	if line.UpdatedAt == nil || !line.UpdatedAt.Equal(now) {
		t.Fatalf("expected line timestamp %v, got %v", now, line.UpdatedAt)
	}
}

func TestCartServiceUpdateLineDowngradesCashWhenIneligible(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	existing := domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Lines: []domain.CartLine{
			{
				ID:              "line-1",
				ItemID:          "item-1",
				Quantity:        1,
				FulfillmentType: FulfillmentPickup,
				PaymentChoice:   PaymentCash,
				Pickup:          &PickupDetails{FirstName: "A", LastName: "B", Phone: "555"},
				Item: CatalogItem{
					ID:                     "item-1",
					InStorePickupAvailable: true,
					AcceptCash:             true,
				},
			},
		},
		UpdatedAt: now,
	}

	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) { return existing, nil },
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	ship := FulfillmentShip
	if _, err := svc.UpdateLine(ctx, UpdateLineCommand{
		UserID: "user-1", LineID: "line-1",
		FulfillmentType: &ship,
	}); err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}

	if replaced[0].PaymentChoice != PaymentCard {
		t.Fatalf("ship line must fall back to card, got %s", replaced[0].PaymentChoice)
	}
}

func TestCartServiceUpdateLineNotFound(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{ID: "user-1", UserID: "user-1", UpdatedAt: now}, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	qty := 2
	if _, err := svc.UpdateLine(ctx, UpdateLineCommand{UserID: "user-1", LineID: "missing", Quantity: &qty}); !errors.Is(err, ErrCartLineNotFound) {
		t.Fatalf("expected ErrCartLineNotFound, got %v", err)
	}
}

func TestCartServiceRemoveLine(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	existing := domain.Cart{
		ID:        "user-1",
		UserID:    "user-1",
		Lines:     []domain.CartLine{{ID: "line-1", Quantity: 1}},
		UpdatedAt: now,
	}

	var removedLine string
	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) { return existing, nil },
		removeFunc: func(ctx context.Context, userID string, lineID string) (domain.Cart, error) {
			removedLine = lineID
			return domain.Cart{ID: userID, UserID: userID, UpdatedAt: now}, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	cart, err := svc.RemoveLine(ctx, RemoveLineCommand{UserID: "user-1", LineID: "line-1"})
	if err != nil {
		t.Fatalf("RemoveLine: %v", err)
	}
	if removedLine != "line-1" {
		t.Fatalf("expected line-1 removed, got %q", removedLine)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(cart.Lines))
	}
}

func TestCartServiceSetShippingAddressOptimisticLock(t *testing.T) {
	ctx := context.Background()
	updated := time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC)
	now := updated.Add(time.Hour)

	existing := domain.Cart{ID: "user-1", UserID: "user-1", UpdatedAt: updated, CreatedAt: updated}

	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) { return existing, nil },
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected == nil || !expected.Equal(updated) {
				t.Fatalf("expected optimistic lock %v, got %v", updated, expected)
			}
			if cart.ShippingAddress == nil || cart.ShippingAddress.Zip != "62704" {
				t.Fatalf("unexpected address %+v", cart.ShippingAddress)
			}
			return cart, nil
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	if _, err := svc.SetShippingAddress(ctx, SetShippingAddressCommand{
		UserID:  "user-1",
		Address: completeAddress(),
	}); err != nil {
		t.Fatalf("SetShippingAddress: %v", err)
	}
}

func TestCartServiceAddLineFirstAddCreatesCartDocument(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	item := CatalogItem{
		ID:                     "item-1",
		SellerID:               "seller-1",
		Name:                   "Sourdough loaf",
		PriceCents:             900,
		ShippingDisabled:       true,
		InStorePickupAvailable: true,
		AcceptCash:             true,
	}
	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) { return item, nil },
	}

	// The default stub rejects line writes on a missing cart, so this only
	// succeeds when the empty cart document is written first.
	repo := &stubCartRepository{}
	svc := newTestCartService(t, repo, catalog, now)

	cart, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-9", ItemID: "item-1", Quantity: 1})
	if err != nil {
		t.Fatalf("first AddLine for a new user: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Lines))
	}
	stored, ok := repo.carts["user-9"]
	if !ok {
		t.Fatalf("expected persisted cart for user-9")
	}
	if len(stored.Lines) != 1 || stored.Lines[0].ItemID != "item-1" {
		t.Fatalf("unexpected persisted lines %+v", stored.Lines)
	}
}

func TestCartServiceSetShippingAddressFirstWriteCreatesCartDocument(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	repo := &stubCartRepository{}
	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	cart, err := svc.SetShippingAddress(ctx, SetShippingAddressCommand{
		UserID:  "user-9",
		Address: completeAddress(),
	})
	if err != nil {
		t.Fatalf("SetShippingAddress for a new user: %v", err)
	}
	if cart.ShippingAddress == nil || cart.ShippingAddress.Zip != "62704" {
		t.Fatalf("unexpected address %+v", cart.ShippingAddress)
	}
	stored, ok := repo.carts["user-9"]
	if !ok {
		t.Fatalf("expected persisted cart for user-9")
	}
	if stored.ShippingAddress == nil || stored.ShippingAddress.Zip != "62704" {
		t.Fatalf("unexpected persisted address %+v", stored.ShippingAddress)
	}
}

func TestCartServiceAddLineConflictWhenCartRemoved(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	item := CatalogItem{ID: "item-1", InStorePickupAvailable: true, ShippingDisabled: true}
	catalog := &stubCatalog{
		getItemFunc: func(context.Context, string) (CatalogItem, error) { return item, nil },
	}

	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{ID: "user-1", UserID: "user-1", UpdatedAt: now}, nil
		},
		replaceFunc: func(context.Context, string, []domain.CartLine) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{notFound: true}
		},
	}

	svc := newTestCartService(t, repo, catalog, now)

	_, err := svc.AddLine(ctx, AddLineCommand{UserID: "user-1", ItemID: "item-1", Quantity: 1})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("cart vanishing mid-write must read as a conflict, got %v", err)
	}
	if errors.Is(err, ErrCartLineNotFound) {
		t.Fatalf("missing cart document must not read as a missing line")
	}
}

func TestCartServiceSetShippingAddressConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	repo := &stubCartRepository{
		getFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{ID: "user-1", UserID: "user-1", UpdatedAt: now}, nil
		},
		upsertFunc: func(context.Context, domain.Cart, *time.Time) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{conflict: true}
		},
	}

	svc := newTestCartService(t, repo, &stubCatalog{}, now)

	if _, err := svc.SetShippingAddress(ctx, SetShippingAddressCommand{
		UserID:  "user-1",
		Address: completeAddress(),
	}); !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}
