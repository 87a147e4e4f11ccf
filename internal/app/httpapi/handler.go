// Package httpapi exposes the REST API over gorilla/mux.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/poshub/orders-api/internal/auth"
	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/httputil"
	"github.com/poshub/orders-api/internal/logging"
	"github.com/poshub/orders-api/internal/metrics"
	"github.com/poshub/orders-api/internal/middleware"
	"github.com/poshub/orders-api/internal/order"
)

// Route names referenced by the scope policy.
const (
	RouteHealth           = "health"
	RouteMetrics          = "metrics"
	RouteToken            = "auth.token"
	RouteOrdersWriteToken = "auth.token.orders-write"
	RouteOrdersCreate     = "orders.create"
	RouteOrdersGet        = "orders.get"
	RouteExternalDemo     = "external.demo"
)

// ordersWriteTokenTTL is the lifetime of tokens minted by the orders-write helper route.
const ordersWriteTokenTTL = time.Hour

// maxExpiresInMinutes caps expires_in_minutes at one year.
const maxExpiresInMinutes = 365 * 24 * 60

// DefaultPolicy is the scope requirement of every guarded route.
func DefaultPolicy() auth.Policy {
	return auth.Policy{
		RouteOrdersCreate: {auth.ScopeOrdersWrite},
		RouteOrdersGet:    {auth.ScopeOrdersRead},
	}
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	auth.Verifier
	Issue(subject string, scopes []string, ttl time.Duration) (string, error)
	DefaultTTL() time.Duration
}

// Fetcher performs the outbound demo call.
type Fetcher interface {
	SafeGet(ctx context.Context, url string, params map[string]string) (json.RawMessage, error)
}

// Deps are the collaborators of the handler.
type Deps struct {
	Tokens   TokenIssuer
	Orders   order.Store
	Outbound Fetcher
	Logger   *logging.Logger
	DemoURL  string
	// RateLimiter guards the token routes when set.
	RateLimiter *middleware.RateLimiter
}

type handler struct {
	tokens   TokenIssuer
	orders   order.Store
	outbound Fetcher
	logger   *logging.Logger
	demoURL  string
}

// NewRouter returns the API router with every route registered.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	h := &handler{
		tokens:   d.Tokens,
		orders:   d.Orders,
		outbound: d.Outbound,
		logger:   d.Logger,
		demoURL:  d.DemoURL,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = httputil.NotFoundHandler()
	r.MethodNotAllowedHandler = httputil.MethodNotAllowedHandler()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet).Name(RouteHealth)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet).Name(RouteMetrics)

	tokens := r.PathPrefix("/auth").Subrouter()
	if d.RateLimiter != nil {
		tokens.Use(d.RateLimiter.Handler)
	}
	tokens.HandleFunc("/token", h.issueToken).Methods(http.MethodPost).Name(RouteToken)
	tokens.HandleFunc("/token/orders-write", h.issueOrdersWriteToken).Methods(http.MethodPost).Name(RouteOrdersWriteToken)

	r.HandleFunc("/orders", h.createOrder).Methods(http.MethodPost).Name(RouteOrdersCreate)
	r.HandleFunc("/orders/{order_id}", h.getOrder).Methods(http.MethodGet).Name(RouteOrdersGet)

	r.HandleFunc("/external-demo", h.externalDemo).Methods(http.MethodGet).Name(RouteExternalDemo)

	guard := auth.NewGuard(d.Tokens, DefaultPolicy(), d.Logger)
	r.Use(middleware.Metrics, guard.Middleware)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tokenRequest struct {
	UserID           string   `json:"user_id"`
	Scopes           []string `json:"scopes"`
	ExpiresInMinutes *int     `json:"expires_in_minutes"`
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	Scopes      []string `json:"scopes"`
}

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, r, errors.Validation("body", "Request body must be valid JSON"))
		return
	}
	if req.UserID == "" {
		httputil.WriteError(w, r, errors.Validation("user_id", "Field required"))
		return
	}

	ttl := h.tokens.DefaultTTL()
	if req.ExpiresInMinutes != nil {
		if *req.ExpiresInMinutes <= 0 {
			httputil.WriteError(w, r, errors.Validation("expires_in_minutes", "expires_in_minutes must be greater than 0"))
			return
		}
		if *req.ExpiresInMinutes > maxExpiresInMinutes {
			httputil.WriteError(w, r, errors.Validation("expires_in_minutes",
				fmt.Sprintf("expires_in_minutes must be at most %d", maxExpiresInMinutes)))
			return
		}
		ttl = time.Duration(*req.ExpiresInMinutes) * time.Minute
	}
	if req.Scopes == nil {
		req.Scopes = []string{}
	}

	h.writeToken(w, r, req.UserID, req.Scopes, ttl)
}

func (h *handler) issueOrdersWriteToken(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "test-user"
	}
	h.writeToken(w, r, userID, []string{auth.ScopeOrdersWrite, auth.ScopeOrdersRead}, ordersWriteTokenTTL)
}

func (h *handler) writeToken(w http.ResponseWriter, r *http.Request, userID string, scopes []string, ttl time.Duration) {
	token, err := h.tokens.Issue(userID, scopes, ttl)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("token.issue_failed")
		httputil.WriteError(w, r, errors.Internal("Internal server error", err))
		return
	}
	metrics.RecordTokenIssued()

	h.logger.WithContext(r.Context()).
		WithField("subject", userID).
		WithField("scopes", scopes).
		Info("token.issued")

	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(ttl / time.Second),
		Scopes:      scopes,
	})
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in order.Input
	if err := httputil.DecodeJSON(r.Body, &in); err != nil {
		httputil.WriteError(w, r, errors.Validation("body", "Request body must be valid JSON"))
		return
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		in.CreatedBy = id.Subject
	}

	created, err := h.orders.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, order.ErrAlreadyExists) {
			err = errors.Conflict(err.Error(), err)
		}
		h.writeError(w, r, err)
		return
	}
	metrics.RecordOrderCreated()

	h.logger.WithContext(r.Context()).WithField("order_id", created.ID.String()).Info("order.created")
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["order_id"])
	if err != nil {
		httputil.WriteError(w, r, errors.BadRequest("Invalid UUID format"))
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *handler) externalDemo(w http.ResponseWriter, r *http.Request) {
	body, err := h.outbound.SafeGet(r.Context(), h.demoURL, map[string]string{"demo": "SMCP"})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteRawJSON(w, http.StatusOK, body)
}

// writeError logs unclassified failures before rendering them.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.GetServiceError(err) == nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("request.failed")
	}
	httputil.WriteError(w, r, err)
}
