// Package outbound wraps calls to external HTTP services with an explicit
// retry policy and failure classification.
package outbound

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/logging"
	"github.com/poshub/orders-api/internal/metrics"
)

// MaxResponseBytes caps the upstream body size.
const MaxResponseBytes = 8 << 20

var (
	errTimeout = stderrors.New("request timed out")
	errNetwork = stderrors.New("network failure")
)

// RetryPolicy decides how many attempts are made and how long to wait between them.
type RetryPolicy struct {
	MaxAttempts int
	Multiplier  time.Duration
	MinWait     time.Duration
	MaxWait     time.Duration
	// Retryable reports whether a failed attempt may be retried.
	// Nil means timeouts and network failures only.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used for the demo call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Multiplier:  time.Second,
		MinWait:     4 * time.Second,
		MaxWait:     10 * time.Second,
	}
}

// Backoff returns the wait after failed attempt n (1-based):
// Multiplier*2^(n-1) clamped to [MinWait, MaxWait]. MaxWait <= 0 means no upper bound.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.Multiplier
	for i := 1; i < attempt && (p.MaxWait <= 0 || wait < p.MaxWait); i++ {
		if wait > math.MaxInt64/2 {
			wait = math.MaxInt64
			break
		}
		wait *= 2
	}
	if wait < p.MinWait {
		wait = p.MinWait
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}
	return wait
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// IsRetryable reports whether err is a timeout or network failure.
func IsRetryable(err error) bool {
	return stderrors.Is(err, errTimeout) || stderrors.Is(err, errNetwork)
}

// StatusError is returned for upstream 4xx responses. It renders as a generic
// HTTP error carrying the upstream status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Policy  RetryPolicy
	Logger  *logging.Logger
	// Transport overrides the default transport. Used by tests.
	Transport http.RoundTripper
}

// Client performs outbound GET requests. It owns one *http.Client for its lifetime.
type Client struct {
	http    *http.Client
	timeout time.Duration
	policy  RetryPolicy
	logger  *logging.Logger
	sleep   func(time.Duration)
}

// NewClient creates a client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}

	return &Client{
		http:    &http.Client{Transport: transport},
		timeout: opts.Timeout,
		policy:  opts.Policy,
		logger:  opts.Logger,
		sleep:   time.Sleep,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// SafeGet fetches rawURL with params appended to its query and returns the JSON body.
// Cancellation of ctx does not abort the call; each attempt is bounded by the client timeout.
func (c *Client) SafeGet(ctx context.Context, rawURL string, params map[string]string) (json.RawMessage, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, errors.Internal("Invalid outbound URL", err)
	}

	base := context.WithoutCancel(ctx)
	log := c.logger.WithContext(ctx).WithField("url", target)

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		log.WithField("attempt", attempt).Info("external_request.start")

		body, err := c.attempt(base, target)
		if err == nil {
			metrics.RecordOutbound("success")
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"size":    len(body),
			}).Info("external_request.success")
			return body, nil
		}

		lastErr = err
		if !c.policy.retryable(err) || attempt == c.policy.MaxAttempts {
			break
		}

		wait := c.policy.Backoff(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		}).Warn("external_request.retry")
		c.sleep(wait)
	}

	return nil, c.classify(lastErr)
}

func (c *Client) attempt(ctx context.Context, target string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if id := logging.GetCorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			metrics.RecordOutbound("timeout")
			c.logger.WithContext(ctx).WithError(err).Warn("external_request.timeout")
			return nil, fmt.Errorf("%w: %v", errTimeout, err)
		}
		metrics.RecordOutbound("network_error")
		c.logger.WithContext(ctx).WithError(err).Warn("external_request.network_error")
		return nil, fmt.Errorf("%w: %v", errNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		metrics.RecordOutbound("server_error")
		c.logger.WithContext(ctx).WithField("status_code", resp.StatusCode).Error("external_request.server_error")
		return nil, errors.Server(fmt.Sprintf("External service error: %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		metrics.RecordOutbound("client_error")
		c.logger.WithContext(ctx).WithField("status_code", resp.StatusCode).Warn("external_request.client_error")
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		if isTimeout(err) {
			metrics.RecordOutbound("timeout")
			return nil, fmt.Errorf("%w: %v", errTimeout, err)
		}
		metrics.RecordOutbound("network_error")
		return nil, fmt.Errorf("%w: %v", errNetwork, err)
	}
	if len(body) > MaxResponseBytes {
		metrics.RecordOutbound("server_error")
		return nil, errors.Server("External service response too large", nil)
	}
	if !gjson.ValidBytes(body) {
		metrics.RecordOutbound("server_error")
		c.logger.WithContext(ctx).Error("external_request.invalid_json")
		return nil, errors.Server("External service returned invalid JSON", nil)
	}
	return json.RawMessage(body), nil
}

func (c *Client) classify(err error) error {
	switch {
	case stderrors.Is(err, errTimeout):
		return errors.Timeout("Request timed out", err)
	case stderrors.Is(err, errNetwork):
		return errors.Network("Network error occurred", err)
	default:
		return err
	}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func buildURL(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
