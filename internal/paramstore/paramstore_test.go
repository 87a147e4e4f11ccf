package paramstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poshub/orders-api/internal/config"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "POS_H_API_KEY", EnvName("/pos-h/api-key"))
	assert.Equal(t, "API_KEY", EnvName("api-key"))
	assert.Equal(t, "A_B_C", EnvName("/a.b/c/"))
}

func TestSecretName(t *testing.T) {
	assert.Equal(t, "pos-h-api-key", SecretName("/pos-h/api-key"))
	assert.Equal(t, "a-b-c", SecretName("a_b.c"))
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("POS_H_API_KEY", "s3cr3t")

	value, err := EnvProvider{}.GetParameter(context.Background(), "/pos-h/api-key")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)

	_, err = EnvProvider{}.GetParameter(context.Background(), "/pos-h/unknown")
	assert.True(t, errors.Is(err, ErrParameterNotFound))
}

func TestNoneProvider(t *testing.T) {
	_, err := NoneProvider{}.GetParameter(context.Background(), "/pos-h/api-key")
	assert.True(t, errors.Is(err, ErrParameterNotFound))
}

func TestNew(t *testing.T) {
	p, err := New(config.ParamStoreConfig{Provider: ProviderEnv})
	require.NoError(t, err)
	assert.Equal(t, ProviderEnv, p.Name())

	p, err = New(config.ParamStoreConfig{Provider: ProviderNone})
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, p.Name())

	_, err = New(config.ParamStoreConfig{Provider: ProviderAzureKeyVault})
	assert.Error(t, err)

	_, err = New(config.ParamStoreConfig{Provider: "ssm"})
	assert.Error(t, err)
}

type staticCredential struct{}

func (staticCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newVaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("api-version") != keyVaultAPIVersion {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/secrets/pos-h-api-key":
			_, _ = w.Write([]byte(`{"value":"vault-value","id":"https://vault/secrets/pos-h-api-key/1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"SecretNotFound","message":"not found"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVault(t *testing.T, srv *httptest.Server) *KeyVaultProvider {
	t.Helper()
	p, err := NewKeyVaultProvider(KeyVaultOptions{
		VaultURL:   srv.URL + "/",
		Credential: staticCredential{},
		ClientOptions: &policy.ClientOptions{
			Transport: srv.Client(),
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	})
	require.NoError(t, err)
	return p
}

func TestKeyVaultProvider_GetParameter(t *testing.T) {
	p := newTestVault(t, newVaultServer(t))

	value, err := p.GetParameter(context.Background(), "/pos-h/api-key")
	require.NoError(t, err)
	assert.Equal(t, "vault-value", value)
	assert.Equal(t, ProviderAzureKeyVault, p.Name())
}

func TestKeyVaultProvider_NotFound(t *testing.T) {
	p := newTestVault(t, newVaultServer(t))

	_, err := p.GetParameter(context.Background(), "/pos-h/other")
	assert.True(t, errors.Is(err, ErrParameterNotFound))
}

func TestNewKeyVaultProvider_RequiresURL(t *testing.T) {
	_, err := NewKeyVaultProvider(KeyVaultOptions{Credential: staticCredential{}})
	assert.Error(t, err)
}
