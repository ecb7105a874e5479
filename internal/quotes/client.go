// Package quotes fetches market prices for tracked assets and caches them on
// the asset rows. Quotes are display enrichment only; position derivation
// never depends on them.
package quotes

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"invest-ledger-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientInterface defines the interface for the quote client.
type ClientInterface interface {
	GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Client fetches quotes from the configured quote endpoint.
// It implements ClientInterface.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ ClientInterface = (*Client)(nil)

// quoteResponse is the quote endpoint's payload for a single symbol.
type quoteResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// NewClient creates a new quote client.
func NewClient(cfg *config.Quotes, logger *zap.Logger) *Client {
	return &Client{
		client:  resty.New().SetBaseURL(cfg.BaseURL),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

// GetQuote fetches the latest price for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result quoteResponse
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result)

	if _, err := c.doRequest(ctx, http.MethodGet, "/quote", req); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q for %s: %w", result.Price, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", price, symbol)
	}
	return price, nil
}

// doRequest executes the request with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err = req.Execute(method, url)
		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			// Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Quote request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
