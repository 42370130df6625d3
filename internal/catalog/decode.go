package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The API encodes timestamps as minutes since 2011-01-01 UTC.
var keepaEpoch = time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)

// History series indices in the csv payload.
const (
	csvAmazon        = 0
	csvNew           = 1
	csvUsed          = 2
	csvSalesRank     = 3
	csvListing       = 4
	csvBuyBoxNew     = 5
	csvBuyBoxUsed    = 6
	csvNewFBM        = 7
	csvLightningDeal = 8
	csvWarehouseDeal = 9
	csvNewFBA        = 10
	csvCountNew      = 11
	csvCountUsed     = 12
	csvRating        = 16
	csvReviewCount   = 17
)

// rawCategory is one node of the category tree.
type rawCategory struct {
	CatID int64  `json:"catId"`
	Name  string `json:"name"`
}

// rawProduct is the wire shape of one product in the API response.
type rawProduct struct {
	ASIN               string        `json:"asin"`
	Title              string        `json:"title"`
	Brand              string        `json:"brand"`
	Manufacturer       string        `json:"manufacturer"`
	Model              string        `json:"model"`
	RootCategory       int64         `json:"rootCategory"`
	CategoryTree       []rawCategory `json:"categoryTree"`
	ImagesCSV          string        `json:"imagesCSV"`
	ListPrice          int           `json:"listPrice"`
	AvailabilityAmazon *int          `json:"availabilityAmazon"`
	IsAmazonChoice     bool          `json:"isAmazonChoice"`
	IsBestSeller       bool          `json:"isBestSeller"`
	CSV                [][]int       `json:"csv"`
}

func keepaTime(minutes int) time.Time {
	return keepaEpoch.Add(time.Duration(minutes) * time.Minute)
}

// series returns the history array at the given index, or nil when the
// payload does not carry it.
func (p *rawProduct) series(index int) []int {
	if index >= len(p.CSV) {
		return nil
	}
	return p.CSV[index]
}

// latestValue walks a [time, value, time, value, ...] array backwards and
// returns the newest value, skipping the -1 no-data sentinel.
func latestValue(series []int) (int, bool) {
	if len(series) < 2 {
		return 0, false
	}
	for i := len(series) - 1; i > 0; i -= 2 {
		if series[i] != -1 {
			return series[i], true
		}
	}
	return 0, false
}

// decodePricePoints expands a flat history array into price points.
func decodePricePoints(series []int, isDeal bool) []PricePoint {
	var points []PricePoint
	for i := 0; i+1 < len(series); i += 2 {
		minutes, cents := series[i], series[i+1]
		if minutes == -1 || cents == -1 {
			continue
		}
		points = append(points, PricePoint{
			Timestamp:  keepaTime(minutes),
			PriceCents: cents,
			IsDeal:     isDeal,
		})
	}
	return points
}

// decodeRankPoints expands a flat history array into rank points.
func decodeRankPoints(series []int, categoryName string) []RankPoint {
	var points []RankPoint
	for i := 0; i+1 < len(series); i += 2 {
		minutes, bsr := series[i], series[i+1]
		if minutes == -1 || bsr == -1 {
			continue
		}
		points = append(points, RankPoint{
			Timestamp:    keepaTime(minutes),
			BSR:          bsr,
			CategoryName: categoryName,
		})
	}
	return points
}

func centsToDecimal(cents int) decimal.Decimal {
	return decimal.New(int64(cents), -2)
}

// stockStatusFor derives stock status. The availability field wins when
// present; otherwise a live price or open offers imply stock.
func stockStatusFor(p *rawProduct) string {
	availability := -1
	if p.AvailabilityAmazon != nil {
		availability = *p.AvailabilityAmazon
	}
	switch availability {
	case 0:
		return StockInStock
	case -1:
		if p.AvailabilityAmazon != nil {
			return StockOutOfStock
		}
	}

	if price, ok := latestValue(p.series(csvAmazon)); ok && price > 0 {
		return StockInStock
	}
	if count, ok := latestValue(p.series(csvCountNew)); ok && count > 0 {
		return StockInStock
	}
	return StockUnknown
}

// fulfillmentFor derives the current fulfillment channel from which price
// series carries a live value.
func fulfillmentFor(p *rawProduct) string {
	if price, ok := latestValue(p.series(csvAmazon)); ok && price > 0 {
		return FulfillmentAmazon
	}
	if price, ok := latestValue(p.series(csvNewFBA)); ok && price > 0 {
		return FulfillmentFBA
	}
	if price, ok := latestValue(p.series(csvNewFBM)); ok && price > 0 {
		return FulfillmentFBM
	}
	return FulfillmentUnknown
}

// transformProduct decodes one raw product into the internal model.
func transformProduct(p *rawProduct, now time.Time) Product {
	priceAmazon, _ := latestValue(p.series(csvAmazon))
	priceNew, _ := latestValue(p.series(csvNew))
	priceUsed, _ := latestValue(p.series(csvUsed))
	priceBuyBox, _ := latestValue(p.series(csvBuyBoxNew))

	// Current price priority: buy box, then Amazon, then lowest new.
	currentCents := priceBuyBox
	if currentCents == 0 {
		currentCents = priceAmazon
	}
	if currentCents == 0 {
		currentCents = priceNew
	}

	bsr, _ := latestValue(p.series(csvSalesRank))

	var categoryName string
	var categoryPath []string
	for _, c := range p.CategoryTree {
		categoryPath = append(categoryPath, c.Name)
	}
	if len(p.CategoryTree) > 0 {
		categoryName = p.CategoryTree[len(p.CategoryTree)-1].Name
	}

	var rating decimal.Decimal
	if raw, ok := latestValue(p.series(csvRating)); ok && raw > 0 {
		// Stored as rating * 10.
		rating = decimal.New(int64(raw), -1)
	}
	reviewCount, _ := latestValue(p.series(csvReviewCount))
	sellerCount, _ := latestValue(p.series(csvCountNew))

	snapshot := Snapshot{
		ASIN:            p.ASIN,
		CapturedAt:      now,
		BSRPrimary:      bsr,
		BSRCategoryName: categoryName,
		StockStatus:     stockStatusFor(p),
		Fulfillment:     fulfillmentFor(p),
		SellerCount:     sellerCount,
		RatingAverage:   rating,
		ReviewCount:     reviewCount,
		DataSource:      "keepa",
	}
	if currentCents > 0 {
		snapshot.PriceCurrent = centsToDecimal(currentCents)
	}
	if p.ListPrice > 0 {
		snapshot.PriceOriginal = centsToDecimal(p.ListPrice)
	}
	if priceNew > 0 {
		snapshot.PriceLowestNew = centsToDecimal(priceNew)
	}
	if priceUsed > 0 {
		snapshot.PriceLowestUsed = centsToDecimal(priceUsed)
	}

	metadata := Metadata{
		ASIN:           p.ASIN,
		Title:          p.Title,
		Brand:          p.Brand,
		Manufacturer:   p.Manufacturer,
		ModelNumber:    p.Model,
		CategoryID:     p.RootCategory,
		CategoryPath:   categoryPath,
		IsAmazonChoice: p.IsAmazonChoice,
		IsBestSeller:   p.IsBestSeller,
	}
	if metadata.Title == "" {
		metadata.Title = "Unknown"
	}
	if p.ImagesCSV != "" {
		image := strings.SplitN(p.ImagesCSV, ",", 2)[0]
		metadata.MainImageURL = fmt.Sprintf("https://images-na.ssl-images-amazon.com/images/I/%s", image)
	}

	// Price history priority mirrors the current price: buy box, Amazon, new.
	var priceHistory []PricePoint
	if series := p.series(csvBuyBoxNew); len(series) > 0 {
		priceHistory = decodePricePoints(series, false)
	} else if series := p.series(csvAmazon); len(series) > 0 {
		priceHistory = decodePricePoints(series, false)
	} else if series := p.series(csvNew); len(series) > 0 {
		priceHistory = decodePricePoints(series, false)
	}

	var bsrHistory []RankPoint
	if series := p.series(csvSalesRank); len(series) > 0 {
		bsrHistory = decodeRankPoints(series, categoryName)
	}

	return Product{
		ASIN:         p.ASIN,
		Metadata:     metadata,
		Snapshot:     snapshot,
		PriceHistory: priceHistory,
		BSRHistory:   bsrHistory,
		FetchedAt:    now,
	}
}
