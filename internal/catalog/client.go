package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// API failure classes. Wrapped into returned errors so callers can branch
// with errors.Is.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrServer      = errors.New("server error")
)

// Config holds client tuning. Domain 1 is amazon.com.
type Config struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	DomainID        int           `yaml:"domain_id"`
	TokensPerMinute int           `yaml:"tokens_per_minute"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the standard plan tuning.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.keepa.com",
		DomainID:        1,
		TokensPerMinute: 200,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		RetryMaxDelay:   60 * time.Second,
		RequestTimeout:  120 * time.Second,
		CacheTTL:        time.Hour,
	}
}

// ProductQuery controls what one product fetch includes.
type ProductQuery struct {
	IncludeHistory bool
	HistoryDays    int
	IncludeBuyBox  bool
	IncludeOffers  bool
	AllowCached    bool
}

// SearchQuery is a product finder selection.
type SearchQuery struct {
	Keywords      string
	CategoryID    int64
	MinPriceCents int
	MaxPriceCents int
	MinReviews    int
	MinRating     int
	MaxResults    int
}

// Stats tracks client usage since start.
type Stats struct {
	TotalRequests       int64     `json:"total_requests"`
	TotalTokensConsumed int64     `json:"total_tokens_consumed"`
	TotalErrors         int64     `json:"total_errors"`
	LastRequestAt       time.Time `json:"last_request_at"`
}

// tokenBucket mirrors the provider side token balance: a fixed per-minute
// refill that the server periodically reconciles with its own view.
type tokenBucket struct {
	mu          sync.Mutex
	left        float64
	perMinute   int
	refillRate  float64
	lastRequest time.Time
}

func newTokenBucket(perMinute int) *tokenBucket {
	return &tokenBucket{
		left:       float64(perMinute),
		perMinute:  perMinute,
		refillRate: float64(perMinute) / 60.0,
	}
}

func (b *tokenBucket) refillLocked(now time.Time) {
	if b.lastRequest.IsZero() {
		b.left = float64(b.perMinute)
		return
	}
	b.left += now.Sub(b.lastRequest).Seconds() * b.refillRate
	if b.left > float64(b.perMinute) {
		b.left = float64(b.perMinute)
	}
}

// WaitTime returns how long to wait until enough tokens have refilled.
func (b *tokenBucket) WaitTime(needed int, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	deficit := float64(needed) - b.left
	if deficit <= 0 {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Minute
	}
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

func (b *tokenBucket) Consume(tokens int, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.left -= float64(tokens)
	if b.left < 0 {
		b.left = 0
	}
	b.lastRequest = now
}

// Reconcile overwrites the local balance with the server reported one.
func (b *tokenBucket) Reconcile(left int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = float64(left)
}

func (b *tokenBucket) TokensLeft(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return int(b.left)
}

// keepaError is the error object some responses carry.
type keepaError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// keepaResponse is the common response envelope.
type keepaResponse struct {
	Timestamp  int64        `json:"timestamp"`
	TokensLeft *int         `json:"tokensLeft"`
	RefillIn   int64        `json:"refillIn"`
	RefillRate int          `json:"refillRate"`
	Error      *keepaError  `json:"error"`
	Products   []rawProduct `json:"products"`
	ASINList   []string     `json:"asinList"`

	BestSellersList *struct {
		ASINList []string `json:"asinList"`
	} `json:"bestSellersList"`
}

// MetricsObserver receives cache outcome notifications. Implemented by the
// metrics registry.
type MetricsObserver interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// Client is the catalog API client. Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *resty.Client
	pacer    *rate.Limiter
	bucket   *tokenBucket
	breaker  *gobreaker.CircuitBreaker
	cache    *redis.Client
	observer MetricsObserver

	mu    sync.Mutex
	stats Stats

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a catalog client. The cache client is optional; pass nil
// to fetch straight from the API every time.
func NewClient(cfg Config, cache *redis.Client) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "Smartacus/1.0")

	settings := gobreaker.Settings{
		Name:    "catalog-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		pacer:   rate.NewLimiter(rate.Every(time.Second), 2),
		bucket:  newTokenBucket(cfg.TokensPerMinute),
		breaker: gobreaker.NewCircuitBreaker(settings),
		cache:   cache,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetMetricsObserver attaches a cache hit/miss observer.
func (c *Client) SetMetricsObserver(obs MetricsObserver) {
	c.observer = obs
}

func (c *Client) cacheHit() {
	if c.observer != nil {
		c.observer.RecordCacheHit("product")
	}
}

func (c *Client) cacheMiss() {
	if c.observer != nil {
		c.observer.RecordCacheMiss("product")
	}
}

// TokensLeft returns the current local view of the token balance.
func (c *Client) TokensLeft() int {
	return c.bucket.TokensLeft(c.now())
}

// GetStats returns usage counters.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	return s
}

func (c *Client) recordUsage(tokens int) {
	c.bucket.Consume(tokens, c.now())
	c.mu.Lock()
	c.stats.TotalRequests++
	c.stats.TotalTokensConsumed += int64(tokens)
	c.stats.LastRequestAt = c.now()
	c.mu.Unlock()
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.stats.TotalErrors++
	c.mu.Unlock()
}

// waitForTokens blocks until the bucket has refilled enough for the request.
func (c *Client) waitForTokens(ctx context.Context, needed int) error {
	if wait := c.bucket.WaitTime(needed, c.now()); wait > 0 {
		log.Info().Dur("wait", wait).Int("tokens", needed).Msg("Rate limit, waiting for token refill")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return c.pacer.Wait(ctx)
}

// estimateProductTokens is the per-batch token cost: one base token per
// ASIN, one more with history, one more with offers.
func estimateProductTokens(asinCount int, q ProductQuery) int {
	perASIN := 1
	if q.IncludeHistory {
		perASIN++
	}
	if q.IncludeOffers {
		perASIN++
	}
	return asinCount * perASIN
}

// execute runs one request through the breaker with retry and backoff.
// 429 waits and retries, authentication failures abort immediately, other
// errors retry up to the configured limit.
func (c *Client) execute(ctx context.Context, fn func() (*resty.Response, error)) (*keepaResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		raw, err := c.breaker.Execute(func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			lastErr = err
			if err := c.backoff(ctx, attempt, err); err != nil {
				return nil, err
			}
			continue
		}

		resp := raw.(*resty.Response)
		switch resp.StatusCode() {
		case http.StatusOK:
			var envelope keepaResponse
			if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
				c.recordError()
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			if envelope.TokensLeft != nil {
				c.bucket.Reconcile(*envelope.TokensLeft)
			}
			return &envelope, nil

		case http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: HTTP 429", ErrRateLimited)
			if err := c.backoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}

		case http.StatusUnauthorized, http.StatusForbidden:
			c.recordError()
			return nil, fmt.Errorf("%w: HTTP %d", ErrInvalidKey, resp.StatusCode())

		default:
			lastErr = fmt.Errorf("%w: HTTP %d: %s", ErrServer, resp.StatusCode(), resp.Status())
			if err := c.backoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}
	}

	c.recordError()
	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *Client) backoff(ctx context.Context, attempt int, cause error) error {
	if attempt >= c.cfg.MaxRetries {
		return nil
	}
	wait := c.cfg.RetryBaseDelay * (1 << attempt)
	if wait > c.cfg.RetryMaxDelay {
		wait = c.cfg.RetryMaxDelay
	}
	log.Warn().Err(cause).Int("attempt", attempt+1).Int("max_attempts", c.cfg.MaxRetries+1).
		Dur("wait", wait).Msg("Catalog API request failed, retrying")
	return c.sleep(ctx, wait)
}

// GetProducts fetches product data for the given ASINs, splitting requests
// into batches of 100.
func (c *Client) GetProducts(ctx context.Context, asins []string, q ProductQuery) ([]Product, error) {
	if len(asins) == 0 {
		return nil, nil
	}

	if len(asins) > 100 {
		log.Warn().Int("asins", len(asins)).Msg("ASIN list exceeds batch limit, splitting")
		var results []Product
		for start := 0; start < len(asins); start += 100 {
			end := start + 100
			if end > len(asins) {
				end = len(asins)
			}
			batch, err := c.GetProducts(ctx, asins[start:end], q)
			if err != nil {
				return nil, err
			}
			results = append(results, batch...)
		}
		return results, nil
	}

	remaining, cached := c.readCache(ctx, asins, q)
	if len(remaining) == 0 {
		return cached, nil
	}

	estimated := estimateProductTokens(len(remaining), q)
	if err := c.waitForTokens(ctx, estimated); err != nil {
		return nil, err
	}

	params := map[string]string{
		"key":    c.cfg.APIKey,
		"domain": strconv.Itoa(c.cfg.DomainID),
		"asin":   strings.Join(remaining, ","),
		"stats":  "30",
		"rating": "1",
	}
	if q.IncludeHistory {
		params["history"] = "1"
		days := q.HistoryDays
		if days <= 0 {
			days = 90
		}
		params["days"] = strconv.Itoa(days)
	} else {
		params["history"] = "0"
	}
	if q.IncludeBuyBox {
		params["buybox"] = "1"
	}
	if q.IncludeOffers {
		params["offers"] = "50"
	}

	envelope, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetQueryParams(params).Get("/product")
	})
	if err != nil {
		return nil, fmt.Errorf("product query failed: %w", err)
	}
	c.recordUsage(estimated)

	now := c.now().UTC()
	results := cached
	for i := range envelope.Products {
		product := transformProduct(&envelope.Products[i], now)
		if product.ASIN == "" {
			continue
		}
		c.writeCache(ctx, product)
		results = append(results, product)
	}

	log.Info().Int("requested", len(asins)).Int("fetched", len(results)-len(cached)).
		Int("cached", len(cached)).Msg("Product data retrieved")
	return results, nil
}

// GetCategoryASINs lists the ASINs under a browse node. Costs roughly one
// token per thousand ASINs returned.
func (c *Client) GetCategoryASINs(ctx context.Context, categoryID int64, includeChildren bool, maxResults int) ([]string, error) {
	if err := c.waitForTokens(ctx, 5); err != nil {
		return nil, err
	}

	params := map[string]string{
		"key":      c.cfg.APIKey,
		"domain":   strconv.Itoa(c.cfg.DomainID),
		"category": strconv.FormatInt(categoryID, 10),
	}
	if includeChildren {
		params["parents"] = "1"
	}

	envelope, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetQueryParams(params).Get("/category")
	})
	if err != nil {
		return nil, fmt.Errorf("category lookup failed: %w", err)
	}

	asins := envelope.ASINList
	consumed := len(asins) / 1000
	if consumed < 1 {
		consumed = 1
	}
	c.recordUsage(consumed)

	if maxResults > 0 && len(asins) > maxResults {
		asins = asins[:maxResults]
	}

	log.Info().Int64("category", categoryID).Int("asins", len(asins)).Msg("Category ASINs retrieved")
	return asins, nil
}

// SearchProducts runs a product finder selection and returns matching ASINs.
func (c *Client) SearchProducts(ctx context.Context, q SearchQuery) ([]string, error) {
	if err := c.waitForTokens(ctx, 10); err != nil {
		return nil, err
	}

	selection := map[string]interface{}{
		"title":       q.Keywords,
		"productType": []int{0},
		"sort":        [][]string{{"current_SALES", "asc"}},
	}
	if q.CategoryID > 0 {
		selection["rootCategory"] = q.CategoryID
	}
	if q.MinPriceCents > 0 {
		selection["current_AMAZON_gte"] = q.MinPriceCents
	}
	if q.MaxPriceCents > 0 {
		selection["current_AMAZON_lte"] = q.MaxPriceCents
	}
	if q.MinReviews > 0 {
		selection["current_COUNT_REVIEWS_gte"] = q.MinReviews
	}
	if q.MinRating > 0 {
		selection["current_RATING_gte"] = q.MinRating
	}

	envelope, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.cfg.APIKey,
				"domain": strconv.Itoa(c.cfg.DomainID),
			}).
			SetBody(map[string]interface{}{"selection": selection}).
			Post("/query")
	})
	if err != nil {
		return nil, fmt.Errorf("product search failed: %w", err)
	}
	c.recordUsage(10)

	asins := envelope.ASINList
	max := q.MaxResults
	if max <= 0 {
		max = 1000
	}
	if len(asins) > max {
		asins = asins[:max]
	}

	log.Info().Str("keywords", q.Keywords).Int("asins", len(asins)).Msg("Product search completed")
	return asins, nil
}

// GetBestSellers returns the top ranked ASINs in a category.
func (c *Client) GetBestSellers(ctx context.Context, categoryID int64, topN int) ([]string, error) {
	if err := c.waitForTokens(ctx, 5); err != nil {
		return nil, err
	}

	envelope, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":      c.cfg.APIKey,
				"domain":   strconv.Itoa(c.cfg.DomainID),
				"category": strconv.FormatInt(categoryID, 10),
			}).
			Get("/bestsellers")
	})
	if err != nil {
		return nil, fmt.Errorf("best sellers query failed: %w", err)
	}
	c.recordUsage(5)

	var asins []string
	if envelope.BestSellersList != nil {
		asins = envelope.BestSellersList.ASINList
	}
	if topN > 0 && len(asins) > topN {
		asins = asins[:topN]
	}

	log.Info().Int64("category", categoryID).Int("asins", len(asins)).Msg("Best sellers retrieved")
	return asins, nil
}

// HealthCheck reports token balance and usage counters.
func (c *Client) HealthCheck() map[string]interface{} {
	return map[string]interface{}{
		"status":            "healthy",
		"tokens_remaining":  c.TokensLeft(),
		"tokens_per_minute": c.cfg.TokensPerMinute,
		"stats":             c.GetStats(),
	}
}

func cacheKey(asin string) string {
	return "catalog:product:" + asin
}

// readCache splits the ASIN list into cache misses and cached products.
// Cache reads are best effort; a broken cache never fails a fetch.
func (c *Client) readCache(ctx context.Context, asins []string, q ProductQuery) ([]string, []Product) {
	if c.cache == nil || !q.AllowCached {
		return asins, nil
	}

	var remaining []string
	var cached []Product
	for _, asin := range asins {
		payload, err := c.cache.Get(ctx, cacheKey(asin)).Bytes()
		if err != nil {
			c.cacheMiss()
			remaining = append(remaining, asin)
			continue
		}
		var product Product
		if err := json.Unmarshal(payload, &product); err != nil {
			c.cacheMiss()
			remaining = append(remaining, asin)
			continue
		}
		c.cacheHit()
		cached = append(cached, product)
	}
	return remaining, cached
}

func (c *Client) writeCache(ctx context.Context, product Product) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(product.ASIN), payload, c.cfg.CacheTTL).Err(); err != nil {
		log.Debug().Err(err).Str("asin", product.ASIN).Msg("Product cache write failed")
	}
}
