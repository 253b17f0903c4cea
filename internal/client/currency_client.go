package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/config"
)

// CurrencyClient fetches exchange rates from an external rate API and
// converts amounts between currencies. Rates are cached per base currency
// and outbound calls are rate limited.
type CurrencyClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cacheTTL   time.Duration
	log        zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedRates
}

type cachedRates struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// NewCurrencyClient creates a currency client from configuration.
func NewCurrencyClient(cfg config.CurrencyConfig, log zerolog.Logger) *CurrencyClient {
	return &CurrencyClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cacheTTL:   cfg.CacheTTL,
		log:        log,
		cache:      make(map[string]cachedRates),
	}
}

// Convert converts amount from one currency to another using the latest
// fetched rate.
func (c *CurrencyClient) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	r, err := c.getRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(r), nil
}

func (c *CurrencyClient) getRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	c.mu.Lock()
	cached, ok := c.cache[from]
	c.mu.Unlock()

	if ok && time.Since(cached.fetchedAt) < c.cacheTTL {
		if r, found := cached.rates[to]; found {
			return r, nil
		}
		return decimal.Zero, apperrors.New(apperrors.CodeInternal,
			fmt.Sprintf("no exchange rate from %s to %s", from, to))
	}

	rates, err := c.fetchRates(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.cache[from] = cachedRates{rates: rates, fetchedAt: time.Now()}
	c.mu.Unlock()

	r, found := rates[to]
	if !found {
		return decimal.Zero, apperrors.New(apperrors.CodeInternal,
			fmt.Sprintf("no exchange rate from %s to %s", from, to))
	}
	return r, nil
}

func (c *CurrencyClient) fetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "rate limiter interrupted")
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to build exchange rate request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "exchange rate request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeInternal,
			fmt.Sprintf("exchange rate API returned status %d", resp.StatusCode))
	}

	var parsed ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to decode exchange rate response")
	}
	if len(parsed.Rates) == 0 {
		return nil, apperrors.New(apperrors.CodeInternal, "exchange rate response contained no rates")
	}

	c.log.Debug().Str("base", base).Int("rates", len(parsed.Rates)).Msg("Exchange rates fetched")
	return parsed.Rates, nil
}
