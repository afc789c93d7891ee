package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVault map[string]*string

func (f fakeVault) latest(_ context.Context, name string) (*string, error) {
	v, ok := f[name]
	if !ok {
		return nil, &azcore.ResponseError{ErrorCode: "SecretNotFound", StatusCode: 404}
	}
	return v, nil
}

func ptr(s string) *string { return &s }

func TestKeyVaultGetSecret(t *testing.T) {
	kv := newKeyVault(fakeVault{"google-sa": ptr(`{"type":"service_account"}`)}, zerolog.Nop())

	v, err := kv.GetSecret(context.Background(), "google-sa")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, v)
}

func TestKeyVaultMissingSecret(t *testing.T) {
	kv := newKeyVault(fakeVault{}, zerolog.Nop())

	_, err := kv.GetSecret(context.Background(), "google-user")
	require.Error(t, err)
	var respErr *azcore.ResponseError
	assert.True(t, errors.As(err, &respErr))
	assert.Contains(t, err.Error(), "google-user")
}

func TestKeyVaultEmptySecret(t *testing.T) {
	kv := newKeyVault(fakeVault{"a": ptr(""), "b": nil}, zerolog.Nop())

	_, err := kv.GetSecret(context.Background(), "a")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = kv.GetSecret(context.Background(), "b")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNewKeyVaultRequiresURL(t *testing.T) {
	_, err := NewKeyVault(" ", nil, zerolog.Nop())
	assert.Error(t, err)
}
