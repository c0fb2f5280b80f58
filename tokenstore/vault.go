package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chaincontext/teeattest/interfaces"
	"github.com/hashicorp/vault/api"
)

// VaultStore reads a token from a HashiCorp Vault KV v2 secret.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	field       string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault token store. An empty vaultToken keeps the
// token picked up from VAULT_TOKEN by the client.
func NewVaultStore(address, mountPath, dataPath, field, vaultToken string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if vaultToken != "" {
		client.SetToken(vaultToken)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		field:       field,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

// Fetch reads the configured field of the secret.
func (s *VaultStore) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	path := fmt.Sprintf("%s/data/%s", s.mountPath, s.dataPath)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}

	value, ok := data[s.field].(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q missing at %s", interfaces.ErrContentNotFound, s.field, path)
	}

	s.log.Debug("Fetched token from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return []byte(value), nil
}

// Available checks that Vault is initialized and unsealed.
func (s *VaultStore) Available(ctx context.Context) bool {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		s.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		s.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}

func (s *VaultStore) LocationURI() string {
	return s.locationURI
}
