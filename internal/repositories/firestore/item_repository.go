package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/inwcommunity/market-api/internal/domain"
	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const itemCollection = "items"

// ItemRepository reads catalog item documents.
type ItemRepository struct {
	base *pfirestore.BaseRepository[catalogItemDocument]
}

// NewItemRepository constructs a Firestore-backed item repository.
func NewItemRepository(provider *pfirestore.Provider) (*ItemRepository, error) {
	if provider == nil {
		return nil, errors.New("item repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[catalogItemDocument](provider, itemCollection)
	return &ItemRepository{base: base}, nil
}

// FindByID loads a single catalog item.
func (r *ItemRepository) FindByID(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	if r == nil || r.base == nil {
		return domain.CatalogItem{}, errors.New("item repository not initialised")
	}
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.CatalogItem{}, errors.New("item repository: item id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	item := catalogItemFromDocument(doc.Data)
	item.ID = doc.ID
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = doc.UpdateTime
	}
	return item, nil
}

var _ repositories.ItemRepository = (*ItemRepository)(nil)
