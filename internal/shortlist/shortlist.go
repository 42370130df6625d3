// Package shortlist filters ranked opportunities down to the few worth
// sourcing attention this cycle.
package shortlist

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartacus-io/smartacus/internal/econ"
)

// Selection criteria. An item must clear every floor to appear at all.
const (
	MaxItems      = 5
	MinFinalScore = 50
)

// MinRiskAdjustedValue is the annual risk-adjusted dollar floor.
var MinRiskAdjustedValue = decimal.NewFromInt(5000)

// Item is one shortlisted opportunity with its recommended next step.
type Item struct {
	Rank              int             `json:"rank"`
	ASIN              string          `json:"asin"`
	FinalScore        int             `json:"final_score"`
	UrgencyLabel      string          `json:"urgency_label"`
	WindowDays        int             `json:"window_days"`
	RiskAdjustedValue decimal.Decimal `json:"risk_adjusted_value"`
	RankScore         float64         `json:"rank_score"`
	Thesis            string          `json:"thesis"`
	RecommendedAction string          `json:"recommended_action"`
}

// Shortlist is the output of one generation pass.
type Shortlist struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Items       []Item          `json:"items"`
	Criteria    Criteria        `json:"criteria"`
	TotalValue  decimal.Decimal `json:"total_risk_adjusted_value"`
	Considered  int             `json:"opportunities_considered"`
}

// Criteria records the floors in effect when the shortlist was generated.
type Criteria struct {
	MaxItems      int             `json:"max_items"`
	MinFinalScore int             `json:"min_final_score"`
	MinValue      decimal.Decimal `json:"min_risk_adjusted_value"`
}

// Generator builds shortlists from scored opportunities.
type Generator struct {
	maxItems int
	minScore int
	minValue decimal.Decimal
}

// NewGenerator creates a generator with the production criteria.
func NewGenerator() *Generator {
	return &Generator{
		maxItems: MaxItems,
		minScore: MinFinalScore,
		minValue: MinRiskAdjustedValue,
	}
}

// Generate filters, ranks, and truncates opportunities into a shortlist.
// Ordering is by rank score descending; ties break on ASIN for stable output.
func (g *Generator) Generate(runID string, opps []econ.Opportunity) Shortlist {
	qualified := make([]econ.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.FinalScore < g.minScore {
			continue
		}
		if o.RiskAdjustedValue.LessThan(g.minValue) {
			continue
		}
		qualified = append(qualified, o)
	}

	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].RankScore != qualified[j].RankScore {
			return qualified[i].RankScore > qualified[j].RankScore
		}
		return qualified[i].ASIN < qualified[j].ASIN
	})

	if len(qualified) > g.maxItems {
		qualified = qualified[:g.maxItems]
	}

	total := decimal.Zero
	items := make([]Item, 0, len(qualified))
	for i, o := range qualified {
		total = total.Add(o.RiskAdjustedValue)
		items = append(items, Item{
			Rank:              i + 1,
			ASIN:              o.ASIN,
			FinalScore:        o.FinalScore,
			UrgencyLabel:      o.UrgencyLabel,
			WindowDays:        o.WindowDays,
			RiskAdjustedValue: o.RiskAdjustedValue,
			RankScore:         o.RankScore,
			Thesis:            o.Thesis,
			RecommendedAction: actionForWindow(o.WindowDays),
		})
	}

	return Shortlist{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Items:       items,
		Criteria: Criteria{
			MaxItems:      g.maxItems,
			MinFinalScore: g.minScore,
			MinValue:      g.minValue,
		},
		TotalValue: total,
		Considered: len(opps),
	}
}

func actionForWindow(days int) string {
	switch {
	case days <= 14:
		return "immediate: begin sourcing this week"
	case days <= 30:
		return "priority: complete supplier analysis within 7 days"
	case days <= 60:
		return "active: plan sourcing within 2 weeks"
	default:
		return "monitor: add to backlog, reassess in 30 days"
	}
}

// Render produces the console view of the shortlist.
func (s Shortlist) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "SHORTLIST %s (%s)\n", s.RunID, s.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "%d of %d opportunities qualified, total risk-adjusted value $%s/yr\n\n",
		len(s.Items), s.Considered, s.TotalValue.StringFixed(0))

	if len(s.Items) == 0 {
		b.WriteString("No opportunities cleared the selection floors.\n")
		return b.String()
	}

	for _, it := range s.Items {
		fmt.Fprintf(&b, "#%d %s  score %d  %s (%dd window)  $%s/yr\n",
			it.Rank, it.ASIN, it.FinalScore, it.UrgencyLabel, it.WindowDays,
			it.RiskAdjustedValue.StringFixed(0))
		fmt.Fprintf(&b, "   %s\n", it.Thesis)
		fmt.Fprintf(&b, "   -> %s\n\n", it.RecommendedAction)
	}

	return b.String()
}

// ExportJSON serializes the shortlist for downstream consumers.
func (s Shortlist) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
