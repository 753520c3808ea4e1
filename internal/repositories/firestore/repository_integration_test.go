//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/inwcommunity/market-api/internal/domain"
	pconfig "github.com/inwcommunity/market-api/internal/platform/config"
	pfirestore "github.com/inwcommunity/market-api/internal/platform/firestore"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func newEmulatorProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    project,
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders")
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}

	wg.Wait()

	for _, val := range results {
		if val == 0 {
			t.Fatalf("expected counter increments to succeed, got zero values: %+v", results)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		expected := int64(i + 1)
		if val != expected {
			t.Fatalf("expected sequence %d at position %d, got %d", expected, i, val)
		}
	}
}

func TestCartRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "cart-test")

	repo, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	cart := domain.Cart{
		UserID: "buyer-1",
		Lines: []domain.CartLine{
			{
				ID:     "line-1",
				ItemID: "item-1",
				Item: domain.CatalogItem{
					ID:                     "item-1",
					SellerID:               "seller-1",
					Name:                   "Walnut cutting board",
					PriceCents:             4500,
					QuantityAvailable:      3,
					InStorePickupAvailable: true,
					AcceptCash:             true,
				},
				Quantity:        1,
				FulfillmentType: domain.FulfillmentPickup,
				PaymentChoice:   domain.PaymentCash,
				AddedAt:         now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	saved, err := repo.UpsertCart(ctx, cart, nil)
	if err != nil {
		t.Fatalf("upsert cart: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatalf("expected server update time on saved cart")
	}

	loaded, err := repo.GetCart(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(loaded.Lines) != 1 || loaded.Lines[0].Item.Name != "Walnut cutting board" {
		t.Fatalf("unexpected cart lines: %+v", loaded.Lines)
	}

	// A stale update time must be rejected as a conflict.
	stale := saved.UpdatedAt.Add(-time.Hour)
	cart.ShippingAddress = &domain.ShippingAddress{Name: "Pat", Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62704"}
	_, err = repo.UpsertCart(ctx, cart, &stale)
	if err == nil {
		t.Fatalf("expected conflict for stale expected update time")
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict categorisation, got %v", err)
	}

	_, err = repo.UpsertCart(ctx, cart, &loaded.UpdatedAt)
	if err != nil {
		t.Fatalf("upsert with current update time: %v", err)
	}

	after, err := repo.RemoveLine(ctx, "buyer-1", "line-1")
	if err != nil {
		t.Fatalf("remove line: %v", err)
	}
	if len(after.Lines) != 0 {
		t.Fatalf("expected empty cart after removal, got %d lines", len(after.Lines))
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "order-test")

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		order := domain.Order{
			ID:            fmt.Sprintf("order-%d", i),
			OrderNumber:   fmt.Sprintf("ORD-%06d", i+1),
			UserID:        "buyer-1",
			SellerID:      "seller-1",
			Status:        domain.OrderStatusPendingPayment,
			PaymentChoice: domain.PaymentCard,
			Totals:        domain.Totals{SubtotalCents: 1000, TotalCents: 1000},
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			order.PaymentIntentID = "pi_test_123"
		}
		if _, err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
	}

	byIntent, err := repo.FindByPaymentIntent(ctx, "pi_test_123")
	if err != nil {
		t.Fatalf("find by payment intent: %v", err)
	}
	if len(byIntent) != 1 || byIntent[0].ID != "order-0" {
		t.Fatalf("unexpected intent lookup result: %+v", byIntent)
	}

	updated, err := repo.UpdateStatus(ctx, "order-0", domain.OrderStatusPaid, time.Now().UTC())
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid || updated.PaidAt == nil {
		t.Fatalf("expected paid order with timestamp, got %+v", updated)
	}

	page, err := repo.ListByUser(ctx, repositories.OrderListFilter{
		UserID: "buyer-1",
		Page:   domain.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected first page of 2 with next token, got %d items", len(page.Items))
	}
	if page.Items[0].ID != "order-2" {
		t.Fatalf("expected newest order first, got %s", page.Items[0].ID)
	}

	rest, err := repo.ListByUser(ctx, repositories.OrderListFilter{
		UserID: "buyer-1",
		Page:   domain.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(rest.Items) != 1 || rest.Items[0].ID != "order-0" {
		t.Fatalf("unexpected second page: %+v", rest.Items)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
