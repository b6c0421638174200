package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/store"
	"github.com/Aman-CERP/dirindex/pkg/version"
)

// DefaultHTTPTimeout bounds a single request to the authority.
const DefaultHTTPTimeout = 10 * time.Second

// maxCardSize limits the response body read from the authority.
const maxCardSize = 4 << 20

// HTTPProvider fetches business cards from GET {base}/businesscard/{participant}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	retry   errors.RetryConfig
	breaker *errors.CircuitBreaker
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithRetryConfig replaces the in-call retry policy.
func WithRetryConfig(cfg errors.RetryConfig) HTTPOption {
	return func(p *HTTPProvider) { p.retry = cfg }
}

// WithCircuitBreaker replaces the circuit breaker.
func WithCircuitBreaker(cb *errors.CircuitBreaker) HTTPOption {
	return func(p *HTTPProvider) { p.breaker = cb }
}

// NewHTTPProvider creates a provider for the authority at baseURL.
func NewHTTPProvider(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   errors.DefaultRetryConfig(),
		breaker: errors.NewCircuitBreaker("provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BaseURL returns the authority URL.
func (p *HTTPProvider) BaseURL() string {
	return p.baseURL
}

// Breaker returns the circuit breaker guarding the authority.
func (p *HTTPProvider) Breaker() *errors.CircuitBreaker {
	return p.breaker
}

// Fetch retrieves and decodes the card of key.
func (p *HTTPProvider) Fetch(ctx context.Context, key participant.Key) ([]store.Entity, error) {
	entities, err := errors.RetryWithResult(ctx, p.retry, func() ([]store.Entity, error) {
		var out []store.Entity
		err := p.breaker.Execute(func() error {
			var fetchErr error
			out, fetchErr = p.fetchOnce(ctx, key)
			return fetchErr
		}, errors.IsRetryable)
		if stderrors.Is(err, errors.ErrCircuitOpen) {
			open := errors.FetchFailure("authority unavailable", err).
				WithDetail("participant", key.URIEncoded())
			open.Retryable = false
			return nil, open
		}
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil && !stderrors.Is(err, errors.ErrNotFound) {
			return nil, errors.FetchFailure("fetch cancelled", err).
				WithDetail("participant", key.URIEncoded())
		}
		return nil, err
	}
	return entities, nil
}

func (p *HTTPProvider) fetchOnce(ctx context.Context, key participant.Key) ([]store.Entity, error) {
	url := p.baseURL + "/businesscard/" + key.PathEscaped()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.FetchFailure("failed to build request", err).WithDetail("url", url)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.FetchFailure("request to authority failed", err).WithDetail("url", url)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound(key.URIEncoded())
	case resp.StatusCode != http.StatusOK:
		fe := errors.FetchFailure(fmt.Sprintf("authority returned %s", resp.Status), nil).
			WithDetail("url", url)
		// Only server side failures are worth retrying.
		fe.Retryable = resp.StatusCode >= 500
		return nil, fe
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardSize))
	if err != nil {
		return nil, errors.FetchFailure("failed to read response", err).WithDetail("url", url)
	}
	var card BusinessCard
	if err := json.Unmarshal(body, &card); err != nil {
		fe := errors.FetchFailure("authority returned an invalid business card", err).WithDetail("url", url)
		fe.Retryable = false
		return nil, fe
	}
	if err := card.validate(key); err != nil {
		return nil, err
	}

	slog.Debug("business_card_fetched",
		slog.String("participant", key.URIEncoded()),
		slog.Int("entities", len(card.Entities)))
	return card.Entities, nil
}
