package paramstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	keyVaultScope      = "https://vault.azure.net/.default"
	keyVaultAPIVersion = "7.4"
	moduleName         = "orders-api/paramstore"
	moduleVersion      = "v1.0.0"
)

// KeyVaultOptions configures a KeyVaultProvider.
type KeyVaultOptions struct {
	VaultURL string
	// Credential defaults to azidentity.DefaultAzureCredential.
	Credential azcore.TokenCredential
	// ClientOptions tunes the azcore pipeline (transport, retries).
	ClientOptions *policy.ClientOptions
}

// KeyVaultProvider reads parameters as Azure Key Vault secrets.
// /pos-h/api-key is read from the secret pos-h-api-key.
type KeyVaultProvider struct {
	vaultURL string
	pipeline runtime.Pipeline
}

// NewKeyVaultProvider creates a provider for the vault at opts.VaultURL.
func NewKeyVaultProvider(opts KeyVaultOptions) (*KeyVaultProvider, error) {
	vaultURL := strings.TrimRight(strings.TrimSpace(opts.VaultURL), "/")
	if vaultURL == "" {
		return nil, fmt.Errorf("paramstore: key vault URL is required")
	}
	if _, err := url.Parse(vaultURL); err != nil {
		return nil, fmt.Errorf("paramstore: invalid key vault URL: %w", err)
	}

	cred := opts.Credential
	if cred == nil {
		defaultCred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("paramstore: create azure credential: %w", err)
		}
		cred = defaultCred
	}

	authPolicy := runtime.NewBearerTokenPolicy(cred, []string{keyVaultScope}, nil)
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{authPolicy},
	}, opts.ClientOptions)

	return &KeyVaultProvider{vaultURL: vaultURL, pipeline: pl}, nil
}

// Name implements Provider.
func (p *KeyVaultProvider) Name() string { return ProviderAzureKeyVault }

type secretBundle struct {
	Value string `json:"value"`
}

// GetParameter implements Provider.
func (p *KeyVaultProvider) GetParameter(ctx context.Context, name string) (string, error) {
	secret := SecretName(name)
	endpoint := p.vaultURL + "/secrets/" + url.PathEscape(secret)

	req, err := runtime.NewRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return "", fmt.Errorf("paramstore: build request: %w", err)
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", keyVaultAPIVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := p.pipeline.Do(req)
	if err != nil {
		return "", fmt.Errorf("paramstore: get secret %s: %w", secret, err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		respErr := runtime.NewResponseError(resp)
		var azErr *azcore.ResponseError
		if stderrors.As(respErr, &azErr) && azErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s (secret %s)", ErrParameterNotFound, name, secret)
		}
		return "", fmt.Errorf("paramstore: get secret %s: %w", secret, respErr)
	}

	var bundle secretBundle
	if err := runtime.UnmarshalAsJSON(resp, &bundle); err != nil {
		return "", fmt.Errorf("paramstore: decode secret %s: %w", secret, err)
	}
	if bundle.Value == "" {
		return "", fmt.Errorf("%w: %s (secret %s is empty)", ErrParameterNotFound, name, secret)
	}
	return bundle.Value, nil
}

// SecretName maps a parameter path to a Key Vault secret name.
// Key Vault names allow only alphanumerics and dashes.
func SecretName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.Trim(name, "/"))
}
