package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

const (
	defaultBaseURL = "https://api.binance.com"
	defaultQuote   = "USDT"
	defaultTimeout = 5 * time.Second
	tickerPath     = "/api/v3/ticker/price"
	cachePrefix    = "price:"
	maxBodyBytes   = 64 << 10
)

// Cache stores JSON values with a TTL. A miss returns errors.ErrNotFound.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Config configures the Binance-compatible price oracle
type Config struct {
	BaseURL    string
	Quote      string
	Timeout    time.Duration
	CacheTTL   time.Duration
	RatePerSec float64

	HTTPClient *http.Client
}

type cachedPrice struct {
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Oracle resolves the last traded price of a ticker against the quote asset
type Oracle struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	log        *logger.Logger
}

var _ signal.PriceOracle = (*Oracle)(nil)

// NewOracle creates a new price oracle. cache may be nil.
func NewOracle(cfg Config, cache Cache, log *logger.Logger) *Oracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Quote == "" {
		cfg.Quote = defaultQuote
	}
	cfg.Quote = strings.ToUpper(cfg.Quote)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Oracle{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)+1),
		cache:      cache,
		log:        log.With("component", "price_oracle"),
	}
}

// Symbol maps a ticker to the exchange pair, e.g. BTC -> BTCUSDT
func (o *Oracle) Symbol(ticker string) string {
	t := signal.NormalizeTicker(ticker)
	if strings.HasSuffix(t, o.cfg.Quote) && len(t) > len(o.cfg.Quote) {
		return t
	}
	return t + o.cfg.Quote
}

// CurrentPrice returns the latest price. Every failure is reported as errors.ErrPriceUnavailable.
func (o *Oracle) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if signal.NormalizeTicker(ticker) == "" {
		return decimal.Zero, errors.Wrapf(errors.ErrPriceUnavailable, "empty ticker")
	}
	symbol := o.Symbol(ticker)

	if price, ok := o.cached(ctx, symbol); ok {
		metrics.PricingCalls.WithLabelValues("hit").Inc()
		return price, nil
	}

	price, err := o.fetch(ctx, symbol)
	if err != nil {
		metrics.PricingCalls.WithLabelValues("unavailable").Inc()
		o.log.Warnw("Price lookup failed", "symbol", symbol, "error", err)
		return decimal.Zero, errors.Wrapf(errors.ErrPriceUnavailable, "%s: %v", symbol, err)
	}
	metrics.PricingCalls.WithLabelValues("fetched").Inc()

	if o.cache != nil && o.cfg.CacheTTL > 0 {
		entry := cachedPrice{Price: price, FetchedAt: time.Now().UTC()}
		if err := o.cache.SetJSON(ctx, cachePrefix+symbol, entry, o.cfg.CacheTTL); err != nil {
			o.log.Warnw("Failed to cache price", "symbol", symbol, "error", err)
		}
	}
	return price, nil
}

func (o *Oracle) cached(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if o.cache == nil || o.cfg.CacheTTL <= 0 {
		return decimal.Zero, false
	}
	var entry cachedPrice
	if err := o.cache.GetJSON(ctx, cachePrefix+symbol, &entry); err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			o.log.Warnw("Price cache read failed", "symbol", symbol, "error", err)
		}
		return decimal.Zero, false
	}
	return entry.Price, entry.Price.IsPositive()
}

func (o *Oracle) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return decimal.Zero, errors.Wrap(err, "rate limiter error")
	}

	reqURL := o.cfg.BaseURL + tickerPath + "?" + url.Values{"symbol": []string{symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, err
	}

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	metrics.PricingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", res.Price)
	}
	return price, nil
}
