package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/inwcommunity/market-api/internal/domain"
	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const sellerCollection = "sellers"

type sellerDocument struct {
	DisplayName                 string `firestore:"displayName"`
	AcceptCashForPickupDelivery bool   `firestore:"acceptCashForPickupDelivery"`
	LocalDeliveryPolicy         string `firestore:"localDeliveryPolicy,omitempty"`
	PickupPolicy                string `firestore:"pickupPolicy,omitempty"`
}

// SellerRepository reads seller profile documents.
type SellerRepository struct {
	base *pfirestore.BaseRepository[sellerDocument]
}

// NewSellerRepository constructs a Firestore-backed seller repository.
func NewSellerRepository(provider *pfirestore.Provider) (*SellerRepository, error) {
	if provider == nil {
		return nil, errors.New("seller repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[sellerDocument](provider, sellerCollection)
	return &SellerRepository{base: base}, nil
}

// FindByID loads a single seller profile.
func (r *SellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	if r == nil || r.base == nil {
		return domain.Seller{}, errors.New("seller repository not initialised")
	}
	id := strings.TrimSpace(sellerID)
	if id == "" {
		return domain.Seller{}, errors.New("seller repository: seller id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Seller{}, err
	}

	return domain.Seller{
		ID:                          doc.ID,
		DisplayName:                 strings.TrimSpace(doc.Data.DisplayName),
		AcceptCashForPickupDelivery: doc.Data.AcceptCashForPickupDelivery,
		LocalDeliveryPolicy:         doc.Data.LocalDeliveryPolicy,
		PickupPolicy:                doc.Data.PickupPolicy,
	}, nil
}

var _ repositories.SellerRepository = (*SellerRepository)(nil)
