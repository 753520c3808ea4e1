package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/inwcommunity/market-api/internal/domain"
	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/platform/pagination"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists marketplace orders.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert writes a new order document under its pre-assigned ID.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc := orderToDocument(order)
	result, err := r.base.Set(ctx, id, doc)
	if err != nil {
		return domain.Order{}, err
	}

	saved := orderFromParts(id, doc)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc), nil
}

// FindByPaymentIntent returns all orders attached to a payment intent. A
// single card checkout can fan out into several seller orders, so the result
// is a slice.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, errors.New("order repository: payment intent id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentIntentId", "==", intentID)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc))
	}
	return orders, nil
}

// UpdateStatus transitions the order to the given status and stamps the
// lifecycle timestamp the status implies.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	at = at.UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: at},
	}
	switch status {
	case domain.OrderStatusPaid:
		updates = append(updates, firestore.Update{Path: "paidAt", Value: at})
	case domain.OrderStatusFulfilled:
		updates = append(updates, firestore.Update{Path: "fulfilledAt", Value: at})
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return domain.Order{}, err
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc), nil
}

// ListByUser returns the buyer's order history, most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(filter.UserID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Page.PageSize
	if limit <= 0 {
		limit = defaultOrderPageSize
	}
	if limit > maxOrderPageSize {
		limit = maxOrderPageSize
	}
	fetchLimit := limit + 1

	var tokenTime time.Time
	var tokenID string
	if token := strings.TrimSpace(filter.Page.PageToken); token != "" {
		var err error
		tokenTime, tokenID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(fetchLimit)
		if tokenID != "" {
			q = q.StartAfter(tokenTime, tokenID)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken, err = encodeOrderToken(last.Data.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: encode page token: %w", err)
		}
		docs = docs[:len(docs)-1]
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc))
	}
	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

func encodeOrderToken(createdAt time.Time, docID string) (string, error) {
	cursor := pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	}
	return cursor.Token()
}

func decodeOrderToken(token string) (time.Time, string, error) {
	cursor, err := pagination.ParseToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token format")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("invalid token format")
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", errors.New("invalid token format")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

func orderToDocument(order domain.Order) orderDocument {
	now := time.Now().UTC()
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := order.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		SellerID:        strings.TrimSpace(order.SellerID),
		Status:          string(order.Status),
		PaymentChoice:   string(order.PaymentChoice),
		Totals:          totalsToDocument(order.Totals),
		CashOrderRefs:   append([]string(nil), order.CashOrderRefs...),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		Metadata:        cloneAnyMap(order.Metadata),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		PaidAt:          order.PaidAt,
		FulfilledAt:     order.FulfilledAt,
	}

	doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ItemID:          line.ItemID,
			ItemName:        line.ItemName,
			SellerID:        line.SellerID,
			Quantity:        line.Quantity,
			UnitPriceCents:  line.UnitPriceCents,
			Variant:         cloneStringMap(line.Variant),
			FulfillmentType: string(line.FulfillmentType),
			FeeCents:        line.FeeCents,
		})
	}

	doc.ShippingAddress = addressToDocument(order.ShippingAddress)
	if order.LocalDelivery != nil {
		doc.LocalDelivery = &localDeliveryDocument{
			FirstName:       order.LocalDelivery.FirstName,
			LastName:        order.LocalDelivery.LastName,
			Phone:           order.LocalDelivery.Phone,
			Street:          order.LocalDelivery.Street,
			City:            order.LocalDelivery.City,
			State:           order.LocalDelivery.State,
			Zip:             order.LocalDelivery.Zip,
			Note:            order.LocalDelivery.Note,
			TermsAcceptedAt: order.LocalDelivery.TermsAcceptedAt,
		}
	}
	if order.Pickup != nil {
		doc.Pickup = &pickupDocument{
			FirstName:       order.Pickup.FirstName,
			LastName:        order.Pickup.LastName,
			Phone:           order.Pickup.Phone,
			Email:           order.Pickup.Email,
			PreferredTime:   order.Pickup.PreferredTime,
			Note:            order.Pickup.Note,
			TermsAcceptedAt: order.Pickup.TermsAcceptedAt,
		}
	}
	return doc
}

func orderFromDocument(doc pfirestore.Document[orderDocument]) domain.Order {
	order := orderFromParts(doc.ID, doc.Data)
	if !doc.UpdateTime.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	return order
}

func orderFromParts(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		SellerID:        doc.SellerID,
		Status:          domain.OrderStatus(doc.Status),
		PaymentChoice:   domain.PaymentChoice(doc.PaymentChoice),
		Totals:          totalsFromDocument(doc.Totals),
		CashOrderRefs:   append([]string(nil), doc.CashOrderRefs...),
		PaymentIntentID: doc.PaymentIntentID,
		Metadata:        cloneAnyMap(doc.Metadata),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		PaidAt:          doc.PaidAt,
		FulfilledAt:     doc.FulfilledAt,
	}

	order.Lines = make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ItemID:          line.ItemID,
			ItemName:        line.ItemName,
			SellerID:        line.SellerID,
			Quantity:        line.Quantity,
			UnitPriceCents:  line.UnitPriceCents,
			Variant:         cloneStringMap(line.Variant),
			FulfillmentType: domain.FulfillmentType(line.FulfillmentType),
			FeeCents:        line.FeeCents,
		})
	}

	order.ShippingAddress = addressFromDocument(doc.ShippingAddress)
	if doc.LocalDelivery != nil {
		order.LocalDelivery = &domain.LocalDeliveryDetails{
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
		order.Pickup = &domain.PickupDetails{
			FirstName:       doc.Pickup.FirstName,
			LastName:        doc.Pickup.LastName,
			Phone:           doc.Pickup.Phone,
			Email:           doc.Pickup.Email,
			PreferredTime:   doc.Pickup.PreferredTime,
			Note:            doc.Pickup.Note,
			TermsAcceptedAt: doc.Pickup.TermsAcceptedAt,
		}
	}
	return order
}

func totalsToDocument(totals domain.Totals) totalsDocument {
	return totalsDocument{
		SubtotalCents:      totals.SubtotalCents,
		ShippingCents:      totals.ShippingCents,
		LocalDeliveryCents: totals.LocalDeliveryCents,
		TotalCents:         totals.TotalCents,
	}
}

func totalsFromDocument(doc totalsDocument) domain.Totals {
	return domain.Totals{
		SubtotalCents:      doc.SubtotalCents,
		ShippingCents:      doc.ShippingCents,
		LocalDeliveryCents: doc.LocalDeliveryCents,
		TotalCents:         doc.TotalCents,
	}
}

type orderDocument struct {
	OrderNumber     string                   `firestore:"orderNumber"`
	UserID          string                   `firestore:"userId"`
	SellerID        string                   `firestore:"sellerId"`
	Status          string                   `firestore:"status"`
	PaymentChoice   string                   `firestore:"paymentChoice"`
	Lines           []orderLineDocument      `firestore:"lines"`
	Totals          totalsDocument           `firestore:"totals"`
	ShippingAddress *shippingAddressDocument `firestore:"shippingAddress,omitempty"`
	LocalDelivery   *localDeliveryDocument   `firestore:"localDelivery,omitempty"`
	Pickup          *pickupDocument          `firestore:"pickup,omitempty"`
	CashOrderRefs   []string                 `firestore:"cashOrderRefs,omitempty"`
	PaymentIntentID string                   `firestore:"paymentIntentId,omitempty"`
	Metadata        map[string]any           `firestore:"metadata,omitempty"`
	CreatedAt       time.Time                `firestore:"createdAt"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
	PaidAt          *time.Time               `firestore:"paidAt,omitempty"`
	FulfilledAt     *time.Time               `firestore:"fulfilledAt,omitempty"`
}

type orderLineDocument struct {
	ItemID          string            `firestore:"itemId"`
	ItemName        string            `firestore:"itemName"`
	SellerID        string            `firestore:"sellerId"`
	Quantity        int               `firestore:"quantity"`
	UnitPriceCents  int64             `firestore:"unitPriceCents"`
	Variant         map[string]string `firestore:"variant,omitempty"`
	FulfillmentType string            `firestore:"fulfillmentType"`
	FeeCents        int64             `firestore:"feeCents"`
}

type totalsDocument struct {
	SubtotalCents      int64 `firestore:"subtotalCents"`
	ShippingCents      int64 `firestore:"shippingCents"`
	LocalDeliveryCents int64 `firestore:"localDeliveryCents"`
	TotalCents         int64 `firestore:"totalCents"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
