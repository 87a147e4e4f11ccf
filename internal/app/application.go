package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/poshub/orders-api/internal/app/httpapi"
	"github.com/poshub/orders-api/internal/auth"
	"github.com/poshub/orders-api/internal/config"
	"github.com/poshub/orders-api/internal/logging"
	"github.com/poshub/orders-api/internal/middleware"
	"github.com/poshub/orders-api/internal/order"
	"github.com/poshub/orders-api/internal/outbound"
	"github.com/poshub/orders-api/internal/paramstore"
)

// Application ties the API components together and manages their lifecycle.
type Application struct {
	cfg *config.Config
	log *logging.Logger

	Tokens   *auth.TokenService
	Orders   order.Store
	Outbound *outbound.Client
	Params   paramstore.Provider

	limiter    *middleware.RateLimiter
	handler    http.Handler
	httpServer *http.Server

	mu     sync.RWMutex
	apiKey string

	closeOnce sync.Once
}

// New builds a fully wired application. Call Close when done, even if Run is never called.
func New(cfg *config.Config, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.New("orders-api", cfg.LogLevel, cfg.LogFormat)
	}

	tokens, err := auth.NewTokenService(cfg.JWT.SecretKey, cfg.JWT.Algorithm, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("configure token service: %w", err)
	}

	params, err := paramstore.New(cfg.ParamStore)
	if err != nil {
		log.WithError(err).WithField("provider", cfg.ParamStore.Provider).Warn("paramstore.unavailable")
		params = paramstore.NoneProvider{}
	}

	client := outbound.NewClient(outbound.Options{
		Timeout: cfg.External.Timeout,
		Policy: outbound.RetryPolicy{
			MaxAttempts: cfg.External.MaxAttempts,
			Multiplier:  cfg.External.BackoffMultiplier,
			MinWait:     cfg.External.BackoffMin,
			MaxWait:     cfg.External.BackoffMax,
		},
		Logger: log,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	store := order.NewMemoryStore()

	router := httpapi.NewRouter(httpapi.Deps{
		Tokens:      tokens,
		Orders:      store,
		Outbound:    client,
		Logger:      log,
		DemoURL:     cfg.External.DemoURL,
		RateLimiter: limiter,
	})

	var handler http.Handler = router
	handler = middleware.NewCORSMiddleware(cfg.CORS.Origins()).Handler(handler)
	handler = middleware.Recovery(log)(handler)
	handler = middleware.NewCorrelation(log).Handler(handler)

	return &Application{
		cfg:      cfg,
		log:      log,
		Tokens:   tokens,
		Orders:   store,
		Outbound: client,
		Params:   params,
		limiter:  limiter,
		handler:  handler,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Handler returns the full middleware chain and router.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// LoadAPIKey reads the configured API key parameter. Failures are logged and
// reported as false; the value itself is never logged.
func (a *Application) LoadAPIKey(ctx context.Context) bool {
	param := a.cfg.ParamStore.APIKeyParam
	entry := a.log.WithContext(ctx).WithFields(logrus.Fields{
		"parameter": param,
		"provider":  a.Params.Name(),
	})

	value, err := a.Params.GetParameter(ctx, param)
	if err != nil {
		if stderrors.Is(err, paramstore.ErrParameterNotFound) {
			entry.WithError(err).Warn("api_key.missing")
		} else {
			entry.WithError(err).Error("api_key.load_failed")
		}
		return false
	}

	a.mu.Lock()
	a.apiKey = value
	a.mu.Unlock()

	entry.Info("api_key.loaded")
	return true
}

// HasAPIKey reports whether an API key was loaded.
func (a *Application) HasAPIKey() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.apiKey != ""
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	a.LoadAPIKey(ctx)

	if err := a.limiter.StartCleanup(a.cfg.RateLimit.CleanupSchedule); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.httpServer.Addr).WithField("stage", a.cfg.Stage).Info("server.listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		a.limiter.Stop(ctx)
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown gracefully stops the HTTP server within the configured timeout.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.limiter.Stop(shutdownCtx)
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases resources owned by the application. Safe to call more than once.
func (a *Application) Close() {
	a.closeOnce.Do(func() {
		a.Outbound.Close()
	})
}
