package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/inwcommunity/market-api/internal/domain"
	"github.com/inwcommunity/market-api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due
// to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartLineNotFound indicates the requested cart line does not exist.
var ErrCartLineNotFound = errors.New("cart service: line not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent
// modification.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repository and catalog dependencies for cart
// operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Catalog     CatalogService
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo    repositories.CartRepository
	catalog CatalogService
	newID   func() string
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:    deps.Repository,
		catalog: deps.Catalog,
		newID:   idGen,
		now:     func() time.Time { return deps.Clock().UTC() },
		logger:  logger,
	}, nil
}

// GetCart loads the buyer's cart, creating an empty one when absent.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	return s.loadOrCreate(ctx, uid)
}

// AddLine appends a new line for the given catalog item. The fulfillment type
// defaults via the resolver when the caller does not pick one; the payment
// choice defaults to cash when the line is cash-eligible.
func (s *cartService) AddLine(ctx context.Context, cmd AddLineCommand) (Cart, error) {
	if s == nil || s.repo == nil || s.catalog == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item_id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}

	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrCatalogItemNotFound) {
			return Cart{}, fmt.Errorf("%w: item not found", ErrCartInvalidInput)
		}
		return Cart{}, ErrCartUnavailable
	}

	if item.QuantityAvailable > 0 && cmd.Quantity > item.QuantityAvailable {
		return Cart{}, fmt.Errorf("%w: quantity exceeds availability", ErrCartInvalidInput)
	}

	variant, err := validateVariant(item, cmd.Variant)
	if err != nil {
		return Cart{}, err
	}

	fulfillment, err := resolveRequestedFulfillment(item, cmd.FulfillmentType)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	line := domain.CartLine{
		ID:              strings.TrimSpace(s.newID()),
		ItemID:          itemID,
		Item:            item,
		Quantity:        cmd.Quantity,
		Variant:         variant,
		FulfillmentType: fulfillment,
		LocalDelivery:   cloneDeliveryDetails(cmd.LocalDelivery),
		Pickup:          clonePickupDetails(cmd.Pickup),
		AddedAt:         now,
	}
	if line.ID == "" {
		line.ID = fmt.Sprintf("line-%d", now.UnixNano())
	}

	choice, err := resolveRequestedPaymentChoice(line, cmd.PaymentChoice)
	if err != nil {
		return Cart{}, err
	}
	line.PaymentChoice = choice

	cart, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	lines := append(cloneCartLines(cart.Lines), line)
	saved, err := s.repo.ReplaceLines(ctx, userID, lines)
	if err != nil {
		s.logger(ctx, "cart.replace_lines_failed", map[string]any{
			"userID": userID,
			"itemID": itemID,
			"error":  err.Error(),
		})
		return Cart{}, s.translateWriteError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

// UpdateLine patches quantity, variant, fulfillment, payment choice, or
// fulfillment details on an existing line. Switching fulfillment type drops
// previously captured details unless the same patch re-supplies them, so the
// line reads incomplete until the buyer fills the new form.
func (s *cartService) UpdateLine(ctx context.Context, cmd UpdateLineCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity == nil && cmd.Variant == nil && cmd.FulfillmentType == nil &&
		cmd.PaymentChoice == nil && cmd.LocalDelivery == nil && cmd.Pickup == nil {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartLineNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	lines := cloneCartLines(cart.Lines)
	idx := indexOfCartLine(lines, lineID)
	if idx < 0 {
		return Cart{}, ErrCartLineNotFound
	}
	line := &lines[idx]

	if cmd.Quantity != nil {
		if *cmd.Quantity <= 0 {
			return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
		}
		if line.Item.QuantityAvailable > 0 && *cmd.Quantity > line.Item.QuantityAvailable {
			return Cart{}, fmt.Errorf("%w: quantity exceeds availability", ErrCartInvalidInput)
		}
		line.Quantity = *cmd.Quantity
	}

	if cmd.Variant != nil {
		variant, err := validateVariant(line.Item, cmd.Variant)
		if err != nil {
			return Cart{}, err
		}
		line.Variant = variant
	}

	if cmd.FulfillmentType != nil && *cmd.FulfillmentType != line.FulfillmentType {
		next := *cmd.FulfillmentType
		if !next.Valid() {
			return Cart{}, fmt.Errorf("%w: unknown fulfillment type %q", ErrCartInvalidInput, string(next))
		}
		if !FulfillmentOffered(line.Item, next) {
			return Cart{}, fmt.Errorf("%w: fulfillment type %q is not offered for this item", ErrCartInvalidInput, string(next))
		}
		line.FulfillmentType = next
		// Entering a mode invalidates the previous capture until re-supplied.
		line.LocalDelivery = nil
		line.Pickup = nil
	}

	if cmd.LocalDelivery != nil {
		line.LocalDelivery = cloneDeliveryDetails(cmd.LocalDelivery)
	}
	if cmd.Pickup != nil {
		line.Pickup = clonePickupDetails(cmd.Pickup)
	}

	if cmd.PaymentChoice != nil {
		choice, err := resolveRequestedPaymentChoice(*line, cmd.PaymentChoice)
		if err != nil {
			return Cart{}, err
		}
		line.PaymentChoice = choice
	} else if line.PaymentChoice == PaymentCash && !CashEligible(*line) {
		line.PaymentChoice = PaymentCard
	}

	ts := s.now()
	line.UpdatedAt = &ts

	saved, err := s.repo.ReplaceLines(ctx, userID, lines)
	if err != nil {
		return Cart{}, s.translateWriteError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

// RemoveLine deletes a single line from the cart.
func (s *cartService) RemoveLine(ctx context.Context, cmd RemoveLineCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartLineNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	if indexOfCartLine(cart.Lines, lineID) < 0 {
		return Cart{}, ErrCartLineNotFound
	}

	saved, err := s.repo.RemoveLine(ctx, userID, lineID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

// SetShippingAddress stores or clears the cart-level shipping address.
func (s *cartService) SetShippingAddress(ctx context.Context, cmd SetShippingAddressCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	expected := cart.UpdatedAt
	cart.ShippingAddress = cloneShippingAddress(cmd.Address)
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart, &expected)
	if err != nil {
		return Cart{}, s.translateWriteError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

// loadOrCreate returns the buyer's cart, writing an empty cart document when
// none exists yet. Line and address writes only update existing documents.
func (s *cartService) loadOrCreate(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			return domain.Cart{}, s.translateRepoError(err)
		}
		saved, err := s.repo.UpsertCart(ctx, s.newCart(userID), nil)
		if err != nil {
			return domain.Cart{}, s.translateRepoError(err)
		}
		cart = saved
	}
	return s.normaliseCart(cart, userID), nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Lines:     []domain.CartLine{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	cart.UserID = strings.TrimSpace(firstNonEmpty(cart.UserID, userID))
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartLineNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}

// translateWriteError maps failures of writes that follow a successful read.
// Not-found at that point means the cart document was removed concurrently,
// which surfaces as a conflict rather than a missing line.
func (s *cartService) translateWriteError(err error) error {
	if isRepoNotFound(err) {
		return ErrCartConflict
	}
	return s.translateRepoError(err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func resolveRequestedFulfillment(item CatalogItem, requested *FulfillmentType) (FulfillmentType, error) {
	if requested == nil {
		t, err := ResolveDefaultFulfillment(item)
		if err != nil {
			return "", fmt.Errorf("%w: item offers no fulfillment mode", ErrCartInvalidInput)
		}
		return t, nil
	}
	if !requested.Valid() {
		return "", fmt.Errorf("%w: unknown fulfillment type %q", ErrCartInvalidInput, string(*requested))
	}
	if !FulfillmentOffered(item, *requested) {
		return "", fmt.Errorf("%w: fulfillment type %q is not offered for this item", ErrCartInvalidInput, string(*requested))
	}
	return *requested, nil
}

func resolveRequestedPaymentChoice(line CartLine, requested *PaymentChoice) (PaymentChoice, error) {
	if requested == nil {
		return DefaultPaymentChoice(line), nil
	}
	switch *requested {
	case PaymentCard:
		return PaymentCard, nil
	case PaymentCash:
		if !CashEligible(line) {
			return "", fmt.Errorf("%w: cash is not available for this line", ErrCartInvalidInput)
		}
		return PaymentCash, nil
	}
	return "", fmt.Errorf("%w: unknown payment choice %q", ErrCartInvalidInput, string(*requested))
}

func validateVariant(item CatalogItem, variant map[string]string) (map[string]string, error) {
	selected := make(map[string]string, len(variant))
	for name, value := range variant {
		key := strings.TrimSpace(name)
		val := strings.TrimSpace(value)
		if key == "" || val == "" {
			continue
		}
		selected[key] = val
	}

	for _, group := range item.OptionGroups {
		name := strings.TrimSpace(group.Name)
		if name == "" {
			continue
		}
		value, ok := selected[name]
		if !ok {
			return nil, fmt.Errorf("%w: option %q requires a selection", ErrCartInvalidInput, name)
		}
		if len(group.Values) > 0 && !containsString(group.Values, value) {
			return nil, fmt.Errorf("%w: %q is not a valid choice for option %q", ErrCartInvalidInput, value, name)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}
	return selected, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func indexOfCartLine(lines []domain.CartLine, lineID string) int {
	target := strings.TrimSpace(lineID)
	if target == "" {
		return -1
	}
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line.ID), target) {
			return i
		}
	}
	return -1
}

func cloneCartLines(lines []domain.CartLine) []domain.CartLine {
	if len(lines) == 0 {
		return []domain.CartLine{}
	}
	dup := make([]domain.CartLine, len(lines))
	copy(dup, lines)
	for i := range dup {
		dup[i].Variant = cloneStringMap(dup[i].Variant)
		dup[i].LocalDelivery = cloneDeliveryDetails(dup[i].LocalDelivery)
		dup[i].Pickup = clonePickupDetails(dup[i].Pickup)
		if dup[i].UpdatedAt != nil {
			ts := dup[i].UpdatedAt.UTC()
			dup[i].UpdatedAt = &ts
		}
	}
	return dup
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneDeliveryDetails(details *LocalDeliveryDetails) *LocalDeliveryDetails {
	if details == nil {
		return nil
	}
	dup := *details
	if dup.TermsAcceptedAt != nil {
		ts := dup.TermsAcceptedAt.UTC()
		dup.TermsAcceptedAt = &ts
	}
	return &dup
}

func clonePickupDetails(details *PickupDetails) *PickupDetails {
	if details == nil {
		return nil
	}
	dup := *details
	if dup.TermsAcceptedAt != nil {
		ts := dup.TermsAcceptedAt.UTC()
		dup.TermsAcceptedAt = &ts
	}
	return &dup
}

func cloneShippingAddress(addr *ShippingAddress) *ShippingAddress {
	if addr == nil {
		return nil
	}
	dup := *addr
	return &dup
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
