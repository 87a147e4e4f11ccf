package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/httputil"
	"github.com/poshub/orders-api/internal/logging"
	"github.com/poshub/orders-api/internal/metrics"
)

// Scope names.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Scopes  []string
}

// Verifier turns a bearer token into claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Policy maps a mux route name to the scopes a caller must hold.
// Routes absent from the policy are not guarded.
type Policy map[string][]string

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = logging.WithUserID(ctx, id.Subject)
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the guard.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Guard authenticates bearer tokens and enforces a Policy.
type Guard struct {
	verifier Verifier
	policy   Policy
	logger   *logging.Logger
}

// NewGuard creates a guard.
func NewGuard(verifier Verifier, policy Policy, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{verifier: verifier, policy: policy, logger: logger}
}

// Authenticate extracts and verifies the bearer token of r.
func (g *Guard) Authenticate(r *http.Request) (Identity, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Identity{}, errors.Authentication(errors.ReasonMissingCredentials, "Not authenticated")
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.UserID, Scopes: claims.Scopes}, nil
}

// Authorize checks that id holds every scope in required.
func (g *Guard) Authorize(id Identity, required []string) (Identity, error) {
	if !ScopesSatisfy(id.Scopes, required) {
		return Identity{}, errors.Authorization(errors.ReasonInsufficientScope,
			fmt.Sprintf("Insufficient scopes. Required: %v", required))
	}
	return id, nil
}

// Middleware guards every route named in the policy. It must run after route matching.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		if route == nil {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := g.policy[route.GetName()]
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		id, err := g.Authenticate(r)
		if err == nil {
			id, err = g.Authorize(id, required)
		}
		if err != nil {
			g.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason := errors.ReasonOf(err)
	metrics.RecordAuthFailure(reason)

	g.logger.WithContext(r.Context()).WithFields(logrus.Fields{
		"reason": reason,
		"path":   r.URL.Path,
		"method": r.Method,
	}).Warn("auth.rejected")

	httputil.WriteError(w, r, err)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
