// Package catalog wraps the Keepa product data API behind a rate limited,
// token accounted client and decodes its compact wire format into the
// snapshot models the rest of the pipeline consumes.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock status values carried on snapshots.
const (
	StockInStock    = "in_stock"
	StockLowStock   = "low_stock"
	StockOutOfStock = "out_of_stock"
	StockUnknown    = "unknown"
)

// Fulfillment channel for the current buy box holder.
const (
	FulfillmentAmazon  = "amazon"
	FulfillmentFBA     = "fba"
	FulfillmentFBM     = "fbm"
	FulfillmentUnknown = "unknown"
)

// PricePoint is one entry of decoded price history.
type PricePoint struct {
	Timestamp  time.Time `json:"timestamp"`
	PriceCents int       `json:"price_cents"`
	IsDeal     bool      `json:"is_deal"`
}

// RankPoint is one entry of decoded sales rank history.
type RankPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	BSR          int       `json:"bsr"`
	CategoryName string    `json:"category_name,omitempty"`
}

// Snapshot is the current market state of one product. Zero valued prices
// and ranks mean the source had no data.
type Snapshot struct {
	ASIN            string          `json:"asin"`
	CapturedAt      time.Time       `json:"captured_at"`
	PriceCurrent    decimal.Decimal `json:"price_current"`
	PriceOriginal   decimal.Decimal `json:"price_original"`
	PriceLowestNew  decimal.Decimal `json:"price_lowest_new"`
	PriceLowestUsed decimal.Decimal `json:"price_lowest_used"`
	BSRPrimary      int             `json:"bsr_primary"`
	BSRCategoryName string          `json:"bsr_category_name,omitempty"`
	StockStatus     string          `json:"stock_status"`
	Fulfillment     string          `json:"fulfillment"`
	SellerCount     int             `json:"seller_count"`
	RatingAverage   decimal.Decimal `json:"rating_average"`
	ReviewCount     int             `json:"review_count"`
	DataSource      string          `json:"data_source"`
}

// Metadata is the slow-moving descriptive part of a product.
type Metadata struct {
	ASIN           string   `json:"asin"`
	Title          string   `json:"title"`
	Brand          string   `json:"brand,omitempty"`
	Manufacturer   string   `json:"manufacturer,omitempty"`
	ModelNumber    string   `json:"model_number,omitempty"`
	CategoryID     int64    `json:"category_id,omitempty"`
	CategoryPath   []string `json:"category_path,omitempty"`
	MainImageURL   string   `json:"main_image_url,omitempty"`
	IsAmazonChoice bool     `json:"is_amazon_choice"`
	IsBestSeller   bool     `json:"is_best_seller"`
}

// Product bundles metadata, the current snapshot and decoded histories.
type Product struct {
	ASIN         string       `json:"asin"`
	Metadata     Metadata     `json:"metadata"`
	Snapshot     Snapshot     `json:"snapshot"`
	PriceHistory []PricePoint `json:"price_history,omitempty"`
	BSRHistory   []RankPoint  `json:"bsr_history,omitempty"`
	FetchedAt    time.Time    `json:"fetched_at"`
}
