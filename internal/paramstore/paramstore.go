// Package paramstore reads configuration parameters such as API keys from an
// external store at startup.
package paramstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/poshub/orders-api/internal/config"
)

// Provider names accepted in configuration.
const (
	ProviderEnv           = "env"
	ProviderAzureKeyVault = "azure-keyvault"
	ProviderNone          = "none"
)

// ErrParameterNotFound is returned when the store has no value for a parameter.
var ErrParameterNotFound = stderrors.New("parameter not found")

// Provider fetches a parameter by its path, e.g. /pos-h/api-key.
type Provider interface {
	GetParameter(ctx context.Context, name string) (string, error)
	Name() string
}

// New returns the provider selected by cfg.
func New(cfg config.ParamStoreConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderEnv, "":
		return EnvProvider{}, nil
	case ProviderNone:
		return NoneProvider{}, nil
	case ProviderAzureKeyVault:
		return NewKeyVaultProvider(KeyVaultOptions{VaultURL: cfg.VaultURL})
	default:
		return nil, fmt.Errorf("paramstore: unknown provider %q", cfg.Provider)
	}
}

// EnvProvider reads parameters from the process environment.
// /pos-h/api-key is read from POS_H_API_KEY.
type EnvProvider struct{}

// Name implements Provider.
func (EnvProvider) Name() string { return ProviderEnv }

// GetParameter implements Provider.
func (EnvProvider) GetParameter(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrParameterNotFound, name, key)
	}
	return value, nil
}

// EnvName maps a parameter path to an environment variable name.
func EnvName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '/' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, strings.Trim(name, "/"))
	return strings.ToUpper(mapped)
}

// NoneProvider has no parameters.
type NoneProvider struct{}

// Name implements Provider.
func (NoneProvider) Name() string { return ProviderNone }

// GetParameter implements Provider.
func (NoneProvider) GetParameter(_ context.Context, name string) (string, error) {
	return "", fmt.Errorf("%w: %s (parameter store disabled)", ErrParameterNotFound, name)
}
