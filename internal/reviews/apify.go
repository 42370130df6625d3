package reviews

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrInvalidToken is returned when the scrape provider rejects the API token.
var ErrInvalidToken = errors.New("invalid review API token")

// SourceConfig configures the Apify-backed review source.
type SourceConfig struct {
	Token          string        `yaml:"token"`
	BaseURL        string        `yaml:"base_url"`
	ActorID        string        `yaml:"actor_id"`
	Domain         string        `yaml:"domain"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxWait        time.Duration `yaml:"max_wait"`
	TargetNegative int           `yaml:"target_negative"`
	TargetPositive int           `yaml:"target_positive"`
	MaxReviews     int           `yaml:"max_reviews"`

	// TrustRatingFilter: the junglee actor honors filterByRating; set false
	// for providers that silently ignore it so the fetcher over-fetches and
	// partitions locally instead.
	TrustRatingFilter *bool `yaml:"trust_rating_filter"`
}

// DefaultSourceConfig returns the standard Apify actor tuning.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		BaseURL:        "https://api.apify.com/v2",
		ActorID:        "junglee~amazon-reviews-scraper",
		Domain:         "com",
		RequestTimeout: 30 * time.Second,
		PollInterval:   5 * time.Second,
		MaxWait:        120 * time.Second,
		TargetNegative: 10,
		TargetPositive: 5,
		MaxReviews:     15,
	}
}

// FetchConfig derives the fetcher tuning from the source settings.
func (c SourceConfig) FetchConfig() FetchConfig {
	cfg := FetchConfig{
		Domain:            c.Domain,
		TargetNegative:    c.TargetNegative,
		TargetPositive:    c.TargetPositive,
		MaxReviews:        c.MaxReviews,
		PollInterval:      c.PollInterval,
		MaxWait:           c.MaxWait,
		TrustRatingFilter: true,
	}
	if c.TrustRatingFilter != nil {
		cfg.TrustRatingFilter = *c.TrustRatingFilter
	}
	return cfg
}

// ApifyClient drives the amazon-reviews-scraper actor: one actor run per
// scrape job, dataset items collected once the run succeeds.
type ApifyClient struct {
	cfg  SourceConfig
	http *resty.Client
}

// NewApifyClient creates the client. The token is mandatory.
func NewApifyClient(cfg SourceConfig) (*ApifyClient, error) {
	def := DefaultSourceConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ActorID == "" {
		cfg.ActorID = def.ActorID
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("review source token not configured, set APIFY_TOKEN")
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "Smartacus/1.0")

	return &ApifyClient{cfg: cfg, http: httpClient}, nil
}

type actorRunInput struct {
	ProductURLs          []actorProductURL `json:"productUrls"`
	MaxReviewsPerProduct int               `json:"maxReviewsPerProduct"`
	FilterByRating       string            `json:"filterByRating,omitempty"`
	Sort                 string            `json:"sort"`
}

type actorProductURL struct {
	URL string `json:"url"`
}

type actorRunEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// rawReview is one dataset item from the junglee actor.
type rawReview struct {
	ReviewID          string      `json:"reviewId"`
	ReviewTitle       string      `json:"reviewTitle"`
	ReviewDescription string      `json:"reviewDescription"`
	RatingScore       float64     `json:"ratingScore"`
	UserID            string      `json:"userId"`
	Date              string      `json:"date"`
	ReviewedIn        string      `json:"reviewedIn"`
	ReviewReaction    interface{} `json:"reviewReaction"`
	IsVerified        bool        `json:"isVerified"`
}

// Submit starts one actor run and returns its run ID.
func (c *ApifyClient) Submit(ctx context.Context, req JobRequest) (string, error) {
	input := actorRunInput{
		ProductURLs: []actorProductURL{
			{URL: fmt.Sprintf("https://www.amazon.%s/dp/%s", req.Domain, req.ASIN)},
		},
		MaxReviewsPerProduct: req.Limit,
		Sort:                 "recent",
	}
	if req.Filter != "" && req.Filter != FilterAll {
		input.FilterByRating = string(req.Filter)
	}

	var envelope actorRunEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token", c.cfg.Token).
		SetBody(input).
		SetResult(&envelope).
		Post(fmt.Sprintf("/acts/%s/runs", c.cfg.ActorID))
	if err != nil {
		return "", fmt.Errorf("failed to submit review job: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: HTTP 401", ErrInvalidToken)
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("review job submit failed: HTTP %d", resp.StatusCode())
	}
	if envelope.Data.ID == "" {
		return "", fmt.Errorf("review job submit returned no run ID")
	}

	log.Debug().Str("run_id", envelope.Data.ID).Str("asin", req.ASIN).
		Str("filter", string(req.Filter)).Msg("review job submitted")
	return envelope.Data.ID, nil
}

// Poll reports the run state; on success it also collects the dataset items.
func (c *ApifyClient) Poll(ctx context.Context, jobID string) (JobStatus, []Review, error) {
	var envelope actorRunEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token", c.cfg.Token).
		SetResult(&envelope).
		Get(fmt.Sprintf("/actor-runs/%s", jobID))
	if err != nil {
		return JobPending, nil, fmt.Errorf("failed to poll run %s: %w", jobID, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return JobFailed, nil, fmt.Errorf("%w: HTTP 401", ErrInvalidToken)
	}
	if resp.StatusCode() != http.StatusOK {
		// Transient poll errors leave the job pending; the fetcher's
		// deadline bounds the retries.
		log.Warn().Str("run_id", jobID).Int("status", resp.StatusCode()).Msg("review job poll error")
		return JobPending, nil, nil
	}

	switch envelope.Data.Status {
	case "SUCCEEDED":
		if envelope.Data.DefaultDatasetID == "" {
			return JobSucceeded, nil, nil
		}
		fetched, err := c.datasetItems(ctx, envelope.Data.DefaultDatasetID)
		if err != nil {
			return JobFailed, nil, err
		}
		return JobSucceeded, fetched, nil
	case "FAILED", "ABORTED", "TIMED-OUT":
		return JobFailed, nil, nil
	default:
		return JobPending, nil, nil
	}
}

func (c *ApifyClient) datasetItems(ctx context.Context, datasetID string) ([]Review, error) {
	var items []rawReview
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token", c.cfg.Token).
		SetQueryParam("limit", "200").
		SetResult(&items).
		Get(fmt.Sprintf("/datasets/%s/items", datasetID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset %s: %w", datasetID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("dataset fetch failed: HTTP %d", resp.StatusCode())
	}

	parsed := make([]Review, 0, len(items))
	for _, raw := range items {
		parsed = append(parsed, parseRawReview(raw))
	}
	return parsed, nil
}

func parseRawReview(raw rawReview) Review {
	id := raw.ReviewID
	if id == "" {
		// Some items arrive without an ID; derive a stable one so the
		// dedupe step still works.
		sum := sha256.Sum256([]byte(raw.ReviewTitle + "|" + raw.UserID))
		id = "gen_" + hex.EncodeToString(sum[:5])
	}

	rating := raw.RatingScore
	if rating < 1 {
		rating = 1
	} else if rating > 5 {
		rating = 5
	}

	return Review{
		ReviewID:     id,
		Title:        raw.ReviewTitle,
		Body:         strings.TrimSpace(raw.ReviewDescription),
		Rating:       rating,
		HelpfulVotes: parseHelpfulVotes(raw.ReviewReaction),
		ReviewDate:   parseReviewDate(raw.Date),
	}
}

// parseHelpfulVotes tolerates the actor's mixed encodings: a number, a
// "12 people found this helpful" string, or nothing.
func parseHelpfulVotes(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return 0
		}
		var n int
		if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func parseReviewDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "January 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
