package score

// Config holds every threshold and rate used by the deterministic scorer.
// All values are explicit so a scoring run can be reproduced from a config
// snapshot alone.
type Config struct {
	// Margin component (0-30)
	MarginThresholds []BandFloat `yaml:"margin_thresholds"`

	// Unit economics used for the net margin estimate
	FBAFeeRate      float64 `yaml:"fba_fee_rate"`       // 15% of price
	FBAFeeMinimum   float64 `yaml:"fba_fee_minimum"`    // $3.00 floor
	ReferralFeeRate float64 `yaml:"referral_fee_rate"`  // 15%
	ShippingPerUnit float64 `yaml:"shipping_per_unit"`  // $4.00 mid estimate
	ReturnRate      float64 `yaml:"return_rate"`        // 3% of price
	PPCRate         float64 `yaml:"ppc_rate"`           // 10% of price
	StoragePerMonth float64 `yaml:"storage_per_month"`  // $0.15
	StorageMonths   int     `yaml:"storage_months"`     // 2
	LandedCostAdder float64 `yaml:"landed_cost_adder"`  // +$3 on supplier price

	// Velocity component (0-25)
	BSRBands        []BandInt   `yaml:"bsr_bands"`
	BSRDelta7Bands  []BandFloat `yaml:"bsr_delta_7d_bands"`
	BSRDelta30Bands []BandFloat `yaml:"bsr_delta_30d_bands"`
	ReviewVelBands  []BandInt   `yaml:"review_velocity_bands"`
	StagnantPenalty int         `yaml:"stagnant_penalty"`

	// Competition component (0-20)
	SellerCountBands []BandInt   `yaml:"seller_count_bands"`
	BuyboxRotBands   []BandFloat `yaml:"buybox_rotation_bands"`
	ReviewGapBands   []BandFloat `yaml:"review_gap_bands"`
	NoDominanceBonus int         `yaml:"no_dominance_bonus"`
	HouseBrandMalus  int         `yaml:"house_brand_malus"`

	// Gap component (0-15)
	NegativePctBands  []BandFloat `yaml:"negative_pct_bands"`
	WishMentionBands  []BandFloat `yaml:"wish_mention_bands"`
	UnansweredBands   []BandInt   `yaml:"unanswered_bands"`
	RecurringMultiple float64     `yaml:"recurring_multiple"`

	// Time pressure component (0-10)
	StockoutBands   []BandInt   `yaml:"stockout_bands"`
	PriceTrendBands []BandFloat `yaml:"price_trend_bands"`
	ChurnBands      []BandInt   `yaml:"churn_bands"`
	AccelBands      []BandFloat `yaml:"accel_bands"`

	// Hard gate: below this time-pressure score there is no exploitable
	// window and the opportunity is invalid regardless of total score.
	MinimumTimePressure int `yaml:"minimum_time_pressure"`
}

// BandFloat awards Points when the observed value crosses Threshold.
// Direction depends on the component; see the score functions.
type BandFloat struct {
	Threshold float64 `yaml:"threshold"`
	Points    int     `yaml:"points"`
}

// BandInt is BandFloat for integer-valued inputs.
type BandInt struct {
	Threshold int `yaml:"threshold"`
	Points    int `yaml:"points"`
}

// Component maximums. The total is always out of 100.
const (
	MaxMargin       = 30
	MaxVelocity     = 25
	MaxCompetition  = 20
	MaxGap          = 15
	MaxTimePressure = 10
)

// DefaultConfig returns the calibrated production thresholds.
func DefaultConfig() Config {
	return Config{
		MarginThresholds: []BandFloat{
			{Threshold: 0.35, Points: 30},
			{Threshold: 0.25, Points: 20},
			{Threshold: 0.15, Points: 10},
			{Threshold: 0.00, Points: 0},
		},
		FBAFeeRate:      0.15,
		FBAFeeMinimum:   3.00,
		ReferralFeeRate: 0.15,
		ShippingPerUnit: 4.00,
		ReturnRate:      0.03,
		PPCRate:         0.10,
		StoragePerMonth: 0.15,
		StorageMonths:   2,
		LandedCostAdder: 3.00,

		BSRBands: []BandInt{
			{Threshold: 5000, Points: 10},
			{Threshold: 20000, Points: 7},
			{Threshold: 50000, Points: 4},
			{Threshold: 100000, Points: 2},
		},
		BSRDelta7Bands: []BandFloat{
			{Threshold: -0.30, Points: 8},
			{Threshold: -0.15, Points: 6},
			{Threshold: -0.05, Points: 4},
			{Threshold: 0.05, Points: 2},
			{Threshold: 0.15, Points: 1},
		},
		BSRDelta30Bands: []BandFloat{
			{Threshold: -0.20, Points: 4},
			{Threshold: -0.05, Points: 3},
			{Threshold: 0.10, Points: 2},
			{Threshold: 0.30, Points: 1},
		},
		ReviewVelBands: []BandInt{
			{Threshold: 50, Points: 3},
			{Threshold: 20, Points: 2},
			{Threshold: 5, Points: 1},
		},
		StagnantPenalty: -3,

		SellerCountBands: []BandInt{
			{Threshold: 3, Points: 8},
			{Threshold: 5, Points: 6},
			{Threshold: 10, Points: 4},
			{Threshold: 20, Points: 2},
		},
		BuyboxRotBands: []BandFloat{
			{Threshold: 0.40, Points: 6},
			{Threshold: 0.25, Points: 4},
			{Threshold: 0.10, Points: 2},
		},
		ReviewGapBands: []BandFloat{
			{Threshold: 0.30, Points: 6},
			{Threshold: 0.50, Points: 4},
			{Threshold: 0.70, Points: 2},
		},
		NoDominanceBonus: 2,
		HouseBrandMalus:  -4,

		NegativePctBands: []BandFloat{
			{Threshold: 0.25, Points: 6},
			{Threshold: 0.15, Points: 4},
			{Threshold: 0.08, Points: 2},
		},
		WishMentionBands: []BandFloat{
			{Threshold: 10, Points: 5},
			{Threshold: 5, Points: 3},
			{Threshold: 2, Points: 1},
		},
		UnansweredBands: []BandInt{
			{Threshold: 20, Points: 4},
			{Threshold: 10, Points: 3},
			{Threshold: 5, Points: 2},
			{Threshold: 2, Points: 1},
		},
		RecurringMultiple: 1.3,

		StockoutBands: []BandInt{
			{Threshold: 5, Points: 3},
			{Threshold: 3, Points: 2},
			{Threshold: 1, Points: 1},
		},
		PriceTrendBands: []BandFloat{
			{Threshold: 0.15, Points: 3},
			{Threshold: 0.05, Points: 2},
			{Threshold: 0.00, Points: 1},
			{Threshold: -0.10, Points: 0},
		},
		ChurnBands: []BandInt{
			{Threshold: 3, Points: 2},
			{Threshold: 1, Points: 1},
		},
		AccelBands: []BandFloat{
			{Threshold: 0.20, Points: 2},
			{Threshold: 0.05, Points: 1},
		},

		MinimumTimePressure: 3,
	}
}
