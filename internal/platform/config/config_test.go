package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"MARKET_FIREBASE_PROJECT_ID": "market-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "market-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "market-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventTopic != defaultOrderEventsTopic {
		t.Errorf("unexpected default order event topic: %s", cfg.PubSub.OrderEventTopic)
	}
	if cfg.Checkout.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Checkout.Currency)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("unexpected default idempotency header: %s", cfg.Idempotency.Header)
	}
	if !cfg.Features.EnableCashCheckout {
		t.Errorf("expected cash checkout enabled by default")
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"MARKET_SERVER_PORT":               "9090",
		"MARKET_SERVER_READ_TIMEOUT":       "20s",
		"MARKET_SERVER_WRITE_TIMEOUT":      "25s",
		"MARKET_SERVER_IDLE_TIMEOUT":       "2m",
		"MARKET_FIREBASE_PROJECT_ID":       "market-prod",
		"MARKET_FIRESTORE_PROJECT_ID":      "market-fire",
		"MARKET_STRIPE_API_KEY":            "secret://stripe/api",
		"MARKET_STRIPE_PUBLISHABLE_KEY":    "pk_live_123",
		"MARKET_STRIPE_WEBHOOK_SECRET":     "secret://stripe/webhook",
		"MARKET_PUBSUB_PROJECT_ID":         "market-events",
		"MARKET_PUBSUB_ORDER_EVENT_TOPIC":  "orders-prod",
		"MARKET_CHECKOUT_CURRENCY":         "eur",
		"MARKET_CHECKOUT_BASE_URL":         "https://market.example/",
		"MARKET_RATELIMIT_DEFAULT_PER_MIN": "150",
		"MARKET_RATELIMIT_AUTH_PER_MIN":    "300",
		"MARKET_RATELIMIT_WEBHOOK_BURST":   "80",
		"MARKET_FEATURE_CASH_CHECKOUT":     "false",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.ProjectID != "market-fire" {
		t.Errorf("explicit firestore project must win, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Stripe.APIKey != "stripe-key" {
		t.Errorf("stripe api key must resolve through the secret resolver, got %q", cfg.Stripe.APIKey)
	}
	if cfg.Stripe.WebhookSecret != "stripe-webhook" {
		t.Errorf("webhook secret must resolve, got %q", cfg.Stripe.WebhookSecret)
	}
	if cfg.Stripe.PublishableKey != "pk_live_123" {
		t.Errorf("unexpected publishable key: %q", cfg.Stripe.PublishableKey)
	}
	if cfg.PubSub.ProjectID != "market-events" {
		t.Errorf("explicit pubsub project must win, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Checkout.Currency != "EUR" {
		t.Errorf("currency must be upper-cased, got %s", cfg.Checkout.Currency)
	}
	if cfg.Checkout.SuccessURL != "https://market.example/checkout/success" {
		t.Errorf("success url must derive from the base url, got %s", cfg.Checkout.SuccessURL)
	}
	if cfg.Checkout.CancelURL != "https://market.example/checkout/cancel" {
		t.Errorf("cancel url must derive from the base url, got %s", cfg.Checkout.CancelURL)
	}
	if cfg.RateLimits.AuthenticatedPerMinute != 300 {
		t.Errorf("unexpected auth rate limit: %d", cfg.RateLimits.AuthenticatedPerMinute)
	}
	if cfg.Features.EnableCashCheckout {
		t.Errorf("cash checkout flag must honour the override")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) == 0 {
		t.Fatalf("expected missing fields reported")
	}
	found := false
	for _, field := range fields {
		if field == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Firebase.ProjectID in %v", fields)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"MARKET_FIREBASE_PROJECT_ID": "market-dev",
		"MARKET_STRIPE_API_KEY":      "sm://stripe/api",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("sm:// refs must normalise to secret://, got %q", secretErr.Ref)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	env := map[string]string{
		"MARKET_FIREBASE_PROJECT_ID": "market-dev",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithRequiredSecrets("Stripe.APIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Stripe.APIKey" {
		t.Fatalf("unexpected missing secrets %v", names)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "MARKET_FIREBASE_PROJECT_ID=market-local\nexport MARKET_SERVER_PORT=7070\n# comment\nMARKET_CHECKOUT_CURRENCY=\"gbp\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "market-local" {
		t.Errorf("unexpected project id %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("export-prefixed keys must load, got %s", cfg.Server.Port)
	}
	if cfg.Checkout.Currency != "GBP" {
		t.Errorf("quoted values must unquote, got %s", cfg.Checkout.Currency)
	}
}
