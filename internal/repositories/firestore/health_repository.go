package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const healthProbeDocument = "health/probe"

// HealthRepository reports Firestore connectivity for readiness checks.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs a Firestore-backed health repository.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Ping issues a cheap read against a well-known document. A missing document
// still proves connectivity, so NotFound counts as healthy.
func (r *HealthRepository) Ping(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("health repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	_, err = client.Doc(healthProbeDocument).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("health.ping", err)
	}
	return nil
}

var _ repositories.HealthRepository = (*HealthRepository)(nil)
