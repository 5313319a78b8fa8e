// Package secrets resolves the single exchange credential pair the
// engine routes live orders with: a HashiCorp Vault read behind a
// cache-then-fetch shape, falling back to environment variables when
// Vault is disabled. The engine has exactly one exchange account, so
// there is one credential pair and no per-user keyspace.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Credentials is the exchange API key pair the REST egress client signs
// requests with.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Config is the Vault connection configuration. When Enabled is false,
// Store falls back to reading BINANCE_API_KEY/BINANCE_API_SECRET from
// the environment and never talks to Vault at all.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// Store resolves and caches the exchange credential pair.
type Store struct {
	client *api.Client
	cfg    Config

	mu    sync.RWMutex
	cache *Credentials
}

// NewStore builds a Store. When cfg.Enabled is false no Vault client is
// constructed at all; Get falls straight through to the environment.
func NewStore(cfg Config) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg}, nil
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Store{client: client, cfg: cfg}, nil
}

// Get returns the exchange credential pair, reading the Vault secret
// (cached after first read) when enabled, or BINANCE_API_KEY /
// BINANCE_API_SECRET from the environment otherwise.
func (s *Store) Get(ctx context.Context) (Credentials, error) {
	s.mu.RLock()
	if s.cache != nil {
		defer s.mu.RUnlock()
		return *s.cache, nil
	}
	s.mu.RUnlock()

	if !s.cfg.Enabled {
		creds := Credentials{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			SecretKey: os.Getenv("BINANCE_API_SECRET"),
		}
		s.setCache(creds)
		return creds, nil
	}

	path := fmt.Sprintf("%s/data/%s", s.cfg.MountPath, s.cfg.SecretPath)
	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading exchange credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("exchange credentials not found in vault")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("unexpected vault secret shape")
	}

	creds := Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	s.setCache(creds)
	return creds, nil
}

// Rotate stores a new credential pair in Vault and refreshes the cache.
// It is a no-op write (cache-only) when Vault is disabled.
func (s *Store) Rotate(ctx context.Context, creds Credentials) error {
	if s.cfg.Enabled {
		path := fmt.Sprintf("%s/data/%s", s.cfg.MountPath, s.cfg.SecretPath)
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":    creds.APIKey,
				"secret_key": creds.SecretKey,
			},
		}
		if _, err := s.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
			return fmt.Errorf("rotating exchange credentials in vault: %w", err)
		}
	}
	s.setCache(creds)
	return nil
}

func (s *Store) setCache(creds Credentials) {
	s.mu.Lock()
	s.cache = &creds
	s.mu.Unlock()
}

// Health reports whether the Vault connection is usable. Always nil when
// Vault is disabled.
func (s *Store) Health(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	health, err := s.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
