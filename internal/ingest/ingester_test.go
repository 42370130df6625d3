package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/persistence"
)

type fakeCatalog struct {
	categoryASINs []string
	products      map[string]catalog.Product
	failHistory   bool
	historyCalls  int
	filterCalls   int
}

func (f *fakeCatalog) GetProducts(_ context.Context, asins []string, q catalog.ProductQuery) ([]catalog.Product, error) {
	if q.IncludeHistory {
		f.historyCalls++
		if f.failHistory && f.historyCalls == 1 {
			return nil, errors.New("keepa unavailable")
		}
	} else {
		f.filterCalls++
	}

	var out []catalog.Product
	for _, asin := range asins {
		if p, ok := f.products[asin]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetCategoryASINs(_ context.Context, _ int64, _ bool, maxResults int) ([]string, error) {
	if len(f.categoryASINs) > maxResults {
		return f.categoryASINs[:maxResults], nil
	}
	return f.categoryASINs, nil
}

func (f *fakeCatalog) GetStats() catalog.Stats {
	return catalog.Stats{TotalTokensConsumed: 42}
}

func (f *fakeCatalog) TokensLeft() int { return 880 }

type fakeCatalogRepo struct {
	fresh     map[string]bool
	tracked   []persistence.TrackedASIN
	metadata  []catalog.Metadata
	snapshots []catalog.Snapshot
}

func (f *fakeCatalogRepo) UpsertMetadata(_ context.Context, meta catalog.Metadata, _ string) error {
	f.metadata = append(f.metadata, meta)
	return nil
}

func (f *fakeCatalogRepo) InsertSnapshots(_ context.Context, snapshots []catalog.Snapshot) (int, error) {
	f.snapshots = append(f.snapshots, snapshots...)
	return len(snapshots), nil
}

func (f *fakeCatalogRepo) LatestSnapshot(_ context.Context, _ string) (*catalog.Snapshot, error) {
	return nil, nil
}

func (f *fakeCatalogRepo) SnapshotWindow(_ context.Context, _ string, _ persistence.TimeRange) ([]catalog.Snapshot, error) {
	return nil, nil
}

func (f *fakeCatalogRepo) ActiveASINs(_ context.Context, _ int64, _ int) ([]persistence.TrackedASIN, error) {
	return f.tracked, nil
}

func (f *fakeCatalogRepo) FreshASINs(_ context.Context, _ []string, _ time.Duration) (map[string]bool, error) {
	if f.fresh == nil {
		return map[string]bool{}, nil
	}
	return f.fresh, nil
}

type fakeMaintenance struct {
	refreshed []string
}

func (f *fakeMaintenance) RefreshView(_ context.Context, name string) error {
	f.refreshed = append(f.refreshed, name)
	return nil
}

func viableProduct(asin string) catalog.Product {
	return catalog.Product{
		ASIN: asin,
		Metadata: catalog.Metadata{
			ASIN:         asin,
			Title:        "Test Product " + asin,
			CategoryPath: []string{"Electronics", "Car Mounts"},
		},
		Snapshot: catalog.Snapshot{
			ASIN:          asin,
			CapturedAt:    time.Now().UTC(),
			PriceCurrent:  decimal.NewFromFloat(24.99),
			RatingAverage: decimal.NewFromFloat(4.3),
			ReviewCount:   150,
			BSRPrimary:    12000,
			StockStatus:   catalog.StockInStock,
		},
	}
}

func TestMeetsCriteria(t *testing.T) {
	ing := NewIngester(DefaultConfig(), nil, nil, nil)

	base := viableProduct("B0CRITERIA1").Snapshot

	tests := []struct {
		name   string
		mutate func(*catalog.Snapshot)
		want   bool
	}{
		{"passes_all", func(s *catalog.Snapshot) {}, true},
		{"price_too_low", func(s *catalog.Snapshot) { s.PriceCurrent = decimal.NewFromFloat(3.99) }, false},
		{"price_too_high", func(s *catalog.Snapshot) { s.PriceCurrent = decimal.NewFromFloat(149.99) }, false},
		{"too_few_reviews", func(s *catalog.Snapshot) { s.ReviewCount = 4 }, false},
		{"rating_too_low", func(s *catalog.Snapshot) { s.RatingAverage = decimal.NewFromFloat(2.8) }, false},
		{"bsr_too_deep", func(s *catalog.Snapshot) { s.BSRPrimary = 600000 }, false},
		{"missing_price_passes", func(s *catalog.Snapshot) { s.PriceCurrent = decimal.Zero }, true},
		{"missing_rating_passes", func(s *catalog.Snapshot) { s.RatingAverage = decimal.Zero }, true},
		{"missing_bsr_passes", func(s *catalog.Snapshot) { s.BSRPrimary = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			assert.Equal(t, tt.want, ing.meetsCriteria(s))
		})
	}
}

func TestRunDailyFullFlow(t *testing.T) {
	client := &fakeCatalog{
		categoryASINs: []string{"B0INGEST001", "B0INGEST002", "B0INGEST003"},
		products: map[string]catalog.Product{
			"B0INGEST001": viableProduct("B0INGEST001"),
			"B0INGEST003": viableProduct("B0INGEST003"),
		},
	}
	// B0INGEST002 was snapshotted recently and is skipped.
	repo := &fakeCatalogRepo{fresh: map[string]bool{"B0INGEST002": true}}
	maint := &fakeMaintenance{}

	cfg := DefaultConfig()
	cfg.CategoryNodeID = 7072562011
	ing := NewIngester(cfg, client, repo, maint)

	result, err := ing.RunDaily(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ASINsDiscovered)
	assert.Equal(t, 2, result.ASINsRequested)
	assert.Equal(t, 2, result.ASINsProcessed)
	assert.Equal(t, 2, result.SnapshotsInserted)
	assert.Equal(t, 0, result.Failed())
	assert.Equal(t, int64(42), result.TokensConsumed)
	assert.Equal(t, 880, result.TokensRemaining)
	assert.NotEmpty(t, result.BatchID)
	assert.True(t, result.Duration() >= 0)

	assert.Len(t, repo.metadata, 2)
	assert.Equal(t, []string{"mv_latest_snapshots", "mv_asin_stats_7d", "mv_asin_stats_30d"}, maint.refreshed)
}

func TestRunDailyAllFresh(t *testing.T) {
	client := &fakeCatalog{categoryASINs: []string{"B0FRESH0001"}}
	repo := &fakeCatalogRepo{fresh: map[string]bool{"B0FRESH0001": true}}

	ing := NewIngester(DefaultConfig(), client, repo, nil)
	result, err := ing.RunDaily(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ASINsRequested)
	assert.Equal(t, 0, result.ASINsProcessed)
	assert.Equal(t, 0, client.historyCalls)
}

func TestRunDailyBatchFailureIsolated(t *testing.T) {
	products := make(map[string]catalog.Product)
	var asins []string
	for _, asin := range []string{"B0FAIL00001", "B0FAIL00002", "B0FAIL00003"} {
		products[asin] = viableProduct(asin)
		asins = append(asins, asin)
	}

	// Batch size 2 splits the run in two fetches; the first one fails.
	client := &fakeCatalog{products: products, failHistory: true}
	repo := &fakeCatalogRepo{}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	ing := NewIngester(cfg, client, repo, nil)

	result, err := ing.RunDaily(context.Background(), Options{ASINs: asins, SkipFiltering: true})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ASINsRequested)
	assert.Equal(t, 1, result.ASINsProcessed)
	assert.Equal(t, 2, result.Failed())
	for _, e := range result.Errors {
		assert.Equal(t, "fetch", e.Kind)
		assert.Contains(t, e.Message, "keepa unavailable")
	}
}

func TestRunDailyMaxASINs(t *testing.T) {
	products := make(map[string]catalog.Product)
	var asins []string
	for _, asin := range []string{"B0CAP000001", "B0CAP000002", "B0CAP000003"} {
		products[asin] = viableProduct(asin)
		asins = append(asins, asin)
	}
	client := &fakeCatalog{products: products}
	repo := &fakeCatalogRepo{}

	ing := NewIngester(DefaultConfig(), client, repo, nil)
	result, err := ing.RunDaily(context.Background(), Options{ASINs: asins, SkipFiltering: true, MaxASINs: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, result.ASINsRequested)
	assert.Equal(t, 2, result.ASINsProcessed)
}

func TestRunIncrementalSkipsFresh(t *testing.T) {
	client := &fakeCatalog{
		products: map[string]catalog.Product{"B0INC000001": viableProduct("B0INC000001")},
	}
	repo := &fakeCatalogRepo{fresh: map[string]bool{"B0INC000002": true}}

	ing := NewIngester(DefaultConfig(), client, repo, nil)
	result, err := ing.RunIncremental(context.Background(), []string{"B0INC000001", "B0INC000002"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ASINsProcessed)
	assert.Equal(t, 0, client.filterCalls)
}

func TestRunIncrementalForceRefetchesFresh(t *testing.T) {
	client := &fakeCatalog{
		products: map[string]catalog.Product{"B0INC000003": viableProduct("B0INC000003")},
	}
	// The ASIN is fresh; force must refetch it anyway.
	repo := &fakeCatalogRepo{fresh: map[string]bool{"B0INC000003": true}}

	ing := NewIngester(DefaultConfig(), client, repo, nil)
	result, err := ing.RunIncremental(context.Background(), []string{"B0INC000003"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ASINsProcessed)
	assert.Equal(t, 1, client.historyCalls)
}

func TestRunDailySkipDiscoveryUsesTracked(t *testing.T) {
	client := &fakeCatalog{
		products: map[string]catalog.Product{"B0TRACKED01": viableProduct("B0TRACKED01")},
	}
	repo := &fakeCatalogRepo{
		tracked: []persistence.TrackedASIN{{ASIN: "B0TRACKED01", IsActive: true}},
	}

	ing := NewIngester(DefaultConfig(), client, repo, nil)
	result, err := ing.RunDaily(context.Background(), Options{SkipDiscovery: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ASINsDiscovered)
	assert.Equal(t, 1, result.ASINsProcessed)
	assert.Equal(t, 1, client.filterCalls)
}
