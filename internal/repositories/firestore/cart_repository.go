package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/inwcommunity/market-api/internal/domain"
	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists one cart document per buyer, keyed by user ID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the cart document for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFromDocument(doc), nil
}

// UpsertCart writes the full cart document. When expectedUpdate is set the
// write is guarded by the document's last server update time, so a concurrent
// writer surfaces as a conflict instead of a lost update.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cartOwner(cart))
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartToDocument(cart, createdAt, now)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, uid, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		saved := cartFromParts(uid, doc)
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "lines", Value: doc.Lines},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if doc.ShippingAddress == nil {
		updates = append(updates, firestore.Update{Path: "shippingAddress", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "shippingAddress", Value: doc.ShippingAddress})
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}

	result, err := r.base.Update(ctx, uid, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cartFromParts(uid, doc)
	saved.CreatedAt = cart.CreatedAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// ReplaceLines overwrites the lines array of an existing cart document.
func (r *CartRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	encoded := make([]cartLineDocument, 0, len(lines))
	for _, line := range lines {
		encoded = append(encoded, cartLineToDocument(line))
	}

	updates := []firestore.Update{
		{Path: "lines", Value: encoded},
		{Path: "updatedAt", Value: now},
	}
	if _, err := r.base.Update(ctx, uid, updates); err != nil {
		return domain.Cart{}, err
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFromDocument(doc), nil
}

// RemoveLine deletes a single line from the cart document. Removing a line
// that is already gone is not an error; order placement retries depend on it.
func (r *CartRepository) RemoveLine(ctx context.Context, userID string, lineID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return domain.Cart{}, errors.New("cart repository: line id is required")
	}

	var saved domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		kept := make([]cartLineDocument, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			if line.ID == lineID {
				continue
			}
			kept = append(kept, line)
		}
		doc.Lines = kept
		doc.UpdatedAt = time.Now().UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = cartFromParts(uid, doc)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.removeline", err)
	}
	return saved, nil
}

func cartOwner(cart domain.Cart) string {
	if strings.TrimSpace(cart.UserID) != "" {
		return strings.TrimSpace(cart.UserID)
	}
	return strings.TrimSpace(cart.ID)
}

func cartToDocument(cart domain.Cart, createdAt, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		Metadata:  cloneAnyMap(cart.Metadata),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	doc.Lines = make([]cartLineDocument, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		doc.Lines = append(doc.Lines, cartLineToDocument(line))
	}
	doc.ShippingAddress = addressToDocument(cart.ShippingAddress)
	return doc
}

func cartFromDocument(doc pfirestore.Document[cartDocument]) domain.Cart {
	cart := cartFromParts(doc.ID, doc.Data)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart
}

func cartFromParts(userID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:        userID,
		UserID:    userID,
		Metadata:  cloneAnyMap(doc.Metadata),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	cart.Lines = make([]domain.CartLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		cart.Lines = append(cart.Lines, cartLineFromDocument(line))
	}
	cart.ShippingAddress = addressFromDocument(doc.ShippingAddress)
	return cart
}

func cartLineToDocument(line domain.CartLine) cartLineDocument {
	doc := cartLineDocument{
		ID:              strings.TrimSpace(line.ID),
		ItemID:          strings.TrimSpace(line.ItemID),
		Item:            catalogItemToDocument(line.Item),
		Quantity:        line.Quantity,
		Variant:         cloneStringMap(line.Variant),
		FulfillmentType: string(line.FulfillmentType),
		PaymentChoice:   string(line.PaymentChoice),
		AddedAt:         line.AddedAt.UTC(),
	}
	if line.UpdatedAt != nil {
		ts := line.UpdatedAt.UTC()
		doc.UpdatedAt = &ts
	}
	if line.LocalDelivery != nil {
		doc.LocalDelivery = &localDeliveryDocument{
			FirstName:       line.LocalDelivery.FirstName,
			LastName:        line.LocalDelivery.LastName,
			Phone:           line.LocalDelivery.Phone,
			Street:          line.LocalDelivery.Street,
			City:            line.LocalDelivery.City,
			State:           line.LocalDelivery.State,
			Zip:             line.LocalDelivery.Zip,
			Note:            line.LocalDelivery.Note,
			TermsAcceptedAt: line.LocalDelivery.TermsAcceptedAt,
		}
	}
	if line.Pickup != nil {
		doc.Pickup = &pickupDocument{
			FirstName:       line.Pickup.FirstName,
			LastName:        line.Pickup.LastName,
			Phone:           line.Pickup.Phone,
			Email:           line.Pickup.Email,
			PreferredTime:   line.Pickup.PreferredTime,
			Note:            line.Pickup.Note,
			TermsAcceptedAt: line.Pickup.TermsAcceptedAt,
		}
	}
	return doc
}

func cartLineFromDocument(doc cartLineDocument) domain.CartLine {
	line := domain.CartLine{
		ID:              doc.ID,
		ItemID:          doc.ItemID,
		Item:            catalogItemFromDocument(doc.Item),
		Quantity:        doc.Quantity,
		Variant:         cloneStringMap(doc.Variant),
		FulfillmentType: domain.FulfillmentType(doc.FulfillmentType),
		PaymentChoice:   domain.PaymentChoice(doc.PaymentChoice),
		AddedAt:         doc.AddedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.LocalDelivery != nil {
		line.LocalDelivery = &domain.LocalDeliveryDetails{
			FirstName:       doc.LocalDelivery.FirstName,
			LastName:        doc.LocalDelivery.LastName,
			Phone:           doc.LocalDelivery.Phone,
			Street:          doc.LocalDelivery.Street,
			City:            doc.LocalDelivery.City,
			State:           doc.LocalDelivery.State,
			Zip:             doc.LocalDelivery.Zip,
			Note:            doc.LocalDelivery.Note,
			TermsAcceptedAt: doc.LocalDelivery.TermsAcceptedAt,
		}
	}
	if doc.Pickup != nil {
		line.Pickup = &domain.PickupDetails{
			FirstName:       doc.Pickup.FirstName,
			LastName:        doc.Pickup.LastName,
			Phone:           doc.Pickup.Phone,
			Email:           doc.Pickup.Email,
			PreferredTime:   doc.Pickup.PreferredTime,
			Note:            doc.Pickup.Note,
			TermsAcceptedAt: doc.Pickup.TermsAcceptedAt,
		}
	}
	return line
}

func catalogItemToDocument(item domain.CatalogItem) catalogItemDocument {
	groups := make([]optionGroupDocument, 0, len(item.OptionGroups))
	for _, group := range item.OptionGroups {
		values := make([]string, len(group.Values))
		copy(values, group.Values)
		groups = append(groups, optionGroupDocument{Name: group.Name, Values: values})
	}
	return catalogItemDocument{
		ID:                     item.ID,
		SellerID:               item.SellerID,
		Name:                   item.Name,
		PriceCents:             item.PriceCents,
		QuantityAvailable:      item.QuantityAvailable,
		ShippingDisabled:       item.ShippingDisabled,
		LocalDeliveryAvailable: item.LocalDeliveryAvailable,
		InStorePickupAvailable: item.InStorePickupAvailable,
		ShippingCostCents:      item.ShippingCostCents,
		LocalDeliveryFeeCents:  item.LocalDeliveryFeeCents,
		AcceptCash:             item.AcceptCash,
		LocalDeliveryPolicy:    item.LocalDeliveryPolicy,
		PickupPolicy:           item.PickupPolicy,
		OptionGroups:           groups,
		UpdatedAt:              item.UpdatedAt,
	}
}

func catalogItemFromDocument(doc catalogItemDocument) domain.CatalogItem {
	groups := make([]domain.OptionGroup, 0, len(doc.OptionGroups))
	for _, group := range doc.OptionGroups {
		values := make([]string, len(group.Values))
		copy(values, group.Values)
		groups = append(groups, domain.OptionGroup{Name: group.Name, Values: values})
	}
	return domain.CatalogItem{
		ID:                     doc.ID,
		SellerID:               doc.SellerID,
		Name:                   doc.Name,
		PriceCents:             doc.PriceCents,
		QuantityAvailable:      doc.QuantityAvailable,
		ShippingDisabled:       doc.ShippingDisabled,
		LocalDeliveryAvailable: doc.LocalDeliveryAvailable,
		InStorePickupAvailable: doc.InStorePickupAvailable,
		ShippingCostCents:      doc.ShippingCostCents,
		LocalDeliveryFeeCents:  doc.LocalDeliveryFeeCents,
		AcceptCash:             doc.AcceptCash,
		LocalDeliveryPolicy:    doc.LocalDeliveryPolicy,
		PickupPolicy:           doc.PickupPolicy,
		OptionGroups:           groups,
		UpdatedAt:              doc.UpdatedAt,
	}
}

func addressToDocument(addr *domain.ShippingAddress) *shippingAddressDocument {
	if addr == nil {
		return nil
	}
	return &shippingAddressDocument{
		Name:   addr.Name,
		Street: addr.Street,
		City:   addr.City,
		State:  addr.State,
		Zip:    addr.Zip,
	}
}

func addressFromDocument(doc *shippingAddressDocument) *domain.ShippingAddress {
	if doc == nil {
		return nil
	}
	return &domain.ShippingAddress{
		Name:   doc.Name,
		Street: doc.Street,
		City:   doc.City,
		State:  doc.State,
		Zip:    doc.Zip,
	}
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
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

type cartDocument struct {
	Lines           []cartLineDocument       `firestore:"lines"`
	ShippingAddress *shippingAddressDocument `firestore:"shippingAddress,omitempty"`
	Metadata        map[string]any           `firestore:"metadata,omitempty"`
	CreatedAt       time.Time                `firestore:"createdAt"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ID              string                 `firestore:"id"`
	ItemID          string                 `firestore:"itemId"`
	Item            catalogItemDocument    `firestore:"item"`
	Quantity        int                    `firestore:"quantity"`
	Variant         map[string]string      `firestore:"variant,omitempty"`
	FulfillmentType string                 `firestore:"fulfillmentType"`
	PaymentChoice   string                 `firestore:"paymentChoice"`
	LocalDelivery   *localDeliveryDocument `firestore:"localDelivery,omitempty"`
	Pickup          *pickupDocument        `firestore:"pickup,omitempty"`
	AddedAt         time.Time              `firestore:"addedAt"`
	UpdatedAt       *time.Time             `firestore:"updatedAt,omitempty"`
}

type catalogItemDocument struct {
	ID                     string                `firestore:"id"`
	SellerID               string                `firestore:"sellerId"`
	Name                   string                `firestore:"name"`
	PriceCents             int64                 `firestore:"priceCents"`
	QuantityAvailable      int                   `firestore:"quantityAvailable"`
	ShippingDisabled       bool                  `firestore:"shippingDisabled"`
	LocalDeliveryAvailable bool                  `firestore:"localDeliveryAvailable"`
	InStorePickupAvailable bool                  `firestore:"inStorePickupAvailable"`
	ShippingCostCents      *int64                `firestore:"shippingCostCents,omitempty"`
	LocalDeliveryFeeCents  *int64                `firestore:"localDeliveryFeeCents,omitempty"`
	AcceptCash             bool                  `firestore:"acceptCash"`
	LocalDeliveryPolicy    string                `firestore:"localDeliveryPolicy,omitempty"`
	PickupPolicy           string                `firestore:"pickupPolicy,omitempty"`
	OptionGroups           []optionGroupDocument `firestore:"optionGroups,omitempty"`
	UpdatedAt              time.Time             `firestore:"updatedAt"`
}

type optionGroupDocument struct {
	Name   string   `firestore:"name"`
	Values []string `firestore:"values"`
}

type localDeliveryDocument struct {
	FirstName       string     `firestore:"firstName"`
	LastName        string     `firestore:"lastName"`
	Phone           string     `firestore:"phone"`
	Street          string     `firestore:"street"`
	City            string     `firestore:"city"`
	State           string     `firestore:"state"`
	Zip             string     `firestore:"zip"`
	Note            string     `firestore:"note,omitempty"`
	TermsAcceptedAt *time.Time `firestore:"termsAcceptedAt,omitempty"`
}

type pickupDocument struct {
	FirstName       string     `firestore:"firstName"`
	LastName        string     `firestore:"lastName"`
	Phone           string     `firestore:"phone"`
	Email           string     `firestore:"email,omitempty"`
	PreferredTime   string     `firestore:"preferredTime,omitempty"`
	Note            string     `firestore:"note,omitempty"`
	TermsAcceptedAt *time.Time `firestore:"termsAcceptedAt,omitempty"`
}

type shippingAddressDocument struct {
	Name   string `firestore:"name"`
	Street string `firestore:"street"`
	City   string `firestore:"city"`
	State  string `firestore:"state"`
	Zip    string `firestore:"zip"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
