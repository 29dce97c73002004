package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-journal-go/internal/config"
	"trade-journal-go/internal/models"
)

const defaultBaseURL = "https://api.marketdata.local/v1"

// Provider fetches intraday OHLC bars for a symbol over [start, end).
type Provider interface {
	Intraday(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error)
}

// Client is a REST client for the intraday bar endpoint.
// It implements the Provider interface.
type Client struct {
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
	limiter *rate.Limiter
	// backoff returns the wait before retry attempt i (0-based).
	backoff func(i int) time.Duration
}

// ensure Client implements the interface
var _ Provider = (*Client)(nil)

// NewClient creates a new market data client.
func NewClient(cfg config.MarketData, logger *zap.Logger) *Client {
	url := cfg.BaseURL
	if url == "" {
		url = defaultBaseURL
		logger.Warn("No market data base URL configured, using default", zap.String("url", url))
	}

	client := resty.New().SetBaseURL(url)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	// rate.Limit is requests per second.
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		client:  client,
		apiKey:  cfg.ApiKey,
		logger:  logger.Named("marketdata"),
		limiter: rate.NewLimiter(limit, burst),
		backoff: exponentialBackoff,
	}
}

// Exponential backoff: 1s, 2s, 4s
func exponentialBackoff(i int) time.Duration {
	return time.Duration(math.Pow(2, float64(i))) * time.Second
}

type barResponse struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

type intradayResponse struct {
	Bars []barResponse `json:"bars"`
}

// Intraday fetches bars whose start time lies in [start, end), sorted by time.
func (c *Client) Intraday(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error) {
	if !end.After(start) {
		return []models.Bar{}, nil
	}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"start":    start.UTC().Format(time.RFC3339),
			"end":      end.UTC().Format(time.RFC3339),
			"interval": interval,
		}).
		SetHeader("Accept", "application/json").
		SetResult(&intradayResponse{})
	if c.apiKey != "" {
		req.SetHeader("X-API-KEY", c.apiKey)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/intraday", req)
	if err != nil {
		c.logger.Error("Failed to get intraday bars", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("failed to get intraday bars for %s: %w", symbol, err)
	}

	result := resp.Result().(*intradayResponse)
	bars := make([]models.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		if b.Time.Before(start) || !b.Time.Before(end) {
			continue
		}
		bars = append(bars, models.Bar{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			if !shouldRetry {
				return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			}
			err = fmt.Errorf("status %s", resp.Status())
		} else {
			// Network or other client-side errors
			shouldRetry = true
		}

		if i == maxRetries-1 {
			break
		}
		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
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
