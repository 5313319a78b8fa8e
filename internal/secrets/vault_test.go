package secrets

import (
	"context"
	"os"
	"testing"
)

func TestGet_DisabledFallsBackToEnv(t *testing.T) {
	os.Setenv("BINANCE_API_KEY", "test-key")
	os.Setenv("BINANCE_API_SECRET", "test-secret")
	defer os.Unsetenv("BINANCE_API_KEY")
	defer os.Unsetenv("BINANCE_API_SECRET")

	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.APIKey != "test-key" || creds.SecretKey != "test-secret" {
		t.Fatalf("expected env-sourced credentials, got %+v", creds)
	}
}

func TestGet_CachesAfterFirstRead(t *testing.T) {
	os.Setenv("BINANCE_API_KEY", "first-key")
	defer os.Unsetenv("BINANCE_API_KEY")

	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, _ := store.Get(context.Background())
	os.Setenv("BINANCE_API_KEY", "second-key")
	second, _ := store.Get(context.Background())

	if first.APIKey != second.APIKey {
		t.Fatalf("expected cached credentials to be stable across calls: %v vs %v", first, second)
	}
}

func TestHealth_NilWhenDisabled(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Health(context.Background()); err != nil {
		t.Fatalf("expected nil health check when disabled, got %v", err)
	}
}
