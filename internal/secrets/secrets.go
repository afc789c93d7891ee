// Package secrets reads named secrets from Azure Key Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/rs/zerolog"

	"alertsync/internal/logging"
)

// ErrEmpty is returned when a secret exists but has no value.
var ErrEmpty = errors.New("secrets: secret has no value")

// Getter returns the current value of a named secret.
type Getter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type vaultAPI interface {
	latest(ctx context.Context, name string) (*string, error)
}

// KeyVault reads the latest version of each secret.
type KeyVault struct {
	api    vaultAPI
	logger zerolog.Logger
}

// NewKeyVault connects to the vault at vaultURL.
func NewKeyVault(vaultURL string, cred azcore.TokenCredential, logger zerolog.Logger) (*KeyVault, error) {
	if strings.TrimSpace(vaultURL) == "" {
		return nil, errors.New("key vault url required")
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create key vault client: %w", err)
	}
	return newKeyVault(&azureVault{client: client}, logger), nil
}

func newKeyVault(api vaultAPI, logger zerolog.Logger) *KeyVault {
	return &KeyVault{api: api, logger: logging.Component(logger, "keyvault")}
}

// GetSecret fetches the latest version of name.
func (k *KeyVault) GetSecret(ctx context.Context, name string) (string, error) {
	value, err := k.api.latest(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if value == nil || *value == "" {
		return "", fmt.Errorf("get secret %s: %w", name, ErrEmpty)
	}
	k.logger.Debug().Str("secret", name).Msg("secret retrieved")
	return *value, nil
}

type azureVault struct {
	client *azsecrets.Client
}

func (a *azureVault) latest(ctx context.Context, name string) (*string, error) {
	resp, err := a.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

var _ Getter = (*KeyVault)(nil)
