// Package strategy decides how to split the token budget across niches:
// exploit proven categories, explore hypotheses, pause the low yielders.
package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// NicheStatus classifies a niche for resource allocation.
type NicheStatus string

const (
	StatusExploit NicheStatus = "EXPLOIT"
	StatusExplore NicheStatus = "EXPLORE"
	StatusPause   NicheStatus = "PAUSE"
)

// Allocation ratios and classification thresholds.
const (
	ExploitRatio = 0.70
	ExploreRatio = 0.20
	ReserveRatio = 0.10

	ExploitThreshold = 0.55
	ExploreThreshold = 0.25

	DensityGood = 0.05
	DensityBad  = 0.01

	StaleDays = 14

	MinRunsBeforePause = 2
	ColdStartTokens    = 200
	MinNicheTokens     = 50

	EventBoostMultiplier = 1.5
)

// NicheMetrics is the performance record of one category + domain pair,
// aggregated from past runs.
type NicheMetrics struct {
	NicheID int64  `json:"niche_id"`
	Name    string `json:"name"`
	Domain  string `json:"domain"`

	TotalRuns          int     `json:"total_runs"`
	TotalASINsScanned  int     `json:"total_asins_scanned"`
	TotalOpportunities int     `json:"total_opportunities"`
	HighValueOpps      int     `json:"high_value_opps"`
	TotalTokensUsed    int     `json:"total_tokens_used"`
	TotalValueDetected float64 `json:"total_value_detected"`

	Density          float64 `json:"density"`
	ValuePer1kTokens float64 `json:"value_per_1k_tokens"`
	AvgScore         float64 `json:"avg_score"`

	LastScannedAt time.Time `json:"last_scanned_at"`
	DaysSinceScan int       `json:"days_since_scan"`

	RecentCriticalEvents int `json:"recent_critical_events"`

	IsActive bool `json:"is_active"`
}

// Finalize computes the derived metrics. DaysSinceScan defaults to 999 when
// the niche was never scanned.
func (n *NicheMetrics) Finalize(now time.Time) {
	if n.TotalASINsScanned > 0 {
		n.Density = float64(n.TotalOpportunities) / float64(n.TotalASINsScanned)
	}
	if n.TotalTokensUsed > 0 {
		n.ValuePer1kTokens = n.TotalValueDetected / float64(n.TotalTokensUsed) * 1000
	}
	if n.LastScannedAt.IsZero() {
		n.DaysSinceScan = 999
	} else {
		n.DaysSinceScan = int(now.Sub(n.LastScannedAt).Hours() / 24)
	}
}

// Assessment is the outcome for a single niche.
type Assessment struct {
	NicheID       int64       `json:"niche_id"`
	Name          string      `json:"name"`
	Domain        string      `json:"domain"`
	Status        NicheStatus `json:"status"`
	Score         float64     `json:"score"`
	Tokens        int         `json:"tokens_allocated"`
	MaxASINs      int         `json:"max_asins"`
	Justification string      `json:"justification"`
}

// Decision is one complete allocation cycle.
type Decision struct {
	CycleID       string       `json:"cycle_id"`
	DecidedAt     time.Time    `json:"decided_at"`
	BudgetTotal   int          `json:"budget_total"`
	BudgetExploit int          `json:"budget_exploit"`
	BudgetExplore int          `json:"budget_explore"`
	BudgetReserve int          `json:"budget_reserve"`
	Assessments   []Assessment `json:"assessments"`
	RiskNotes     []string     `json:"risk_notes"`
	CacheKey      string       `json:"cache_key,omitempty"`
}

// ByStatus returns the niche IDs carrying the given status.
func (d Decision) ByStatus(status NicheStatus) []int64 {
	var ids []int64
	for _, a := range d.Assessments {
		if a.Status == status {
			ids = append(ids, a.NicheID)
		}
	}
	return ids
}

// Allocations maps niche ID to allocated tokens, zero entries omitted.
func (d Decision) Allocations() map[int64]int {
	out := make(map[int64]int)
	for _, a := range d.Assessments {
		if a.Tokens > 0 {
			out[a.NicheID] = a.Tokens
		}
	}
	return out
}

type scoredNiche struct {
	niche NicheMetrics
	score float64
}

// Agent makes deterministic allocation decisions.
type Agent struct {
	now     func() time.Time
	counter int
}

// NewAgent creates a strategy agent.
func NewAgent() *Agent {
	return &Agent{now: time.Now}
}

// Decide scores every niche, classifies it and splits the budget 70/20/10
// between exploits, explores and reserve. ForceInclude niches always land in
// the exploit bucket; niches below MinRunsBeforePause never pause.
func (a *Agent) Decide(budget int, niches []NicheMetrics, forceInclude []int64) Decision {
	a.counter++
	cycleID := a.cycleID()

	log.Info().
		Str("cycle", cycleID).
		Int("niches", len(niches)).
		Int("budget", budget).
		Msg("strategy cycle")

	forced := make(map[int64]bool, len(forceInclude))
	for _, id := range forceInclude {
		forced[id] = true
	}

	scored := make([]scoredNiche, 0, len(niches))
	for _, n := range niches {
		scored = append(scored, scoredNiche{niche: n, score: a.scoreNiche(n)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var exploits, explores, pauses []scoredNiche
	for _, sn := range scored {
		switch {
		case forced[sn.niche.NicheID]:
			exploits = append(exploits, sn)
		case sn.niche.TotalRuns < MinRunsBeforePause:
			explores = append(explores, sn)
		case sn.score > ExploitThreshold:
			exploits = append(exploits, sn)
		case sn.score > ExploreThreshold:
			explores = append(explores, sn)
		default:
			pauses = append(pauses, sn)
		}
	}

	budgetExploit := int(float64(budget) * ExploitRatio)
	budgetExplore := int(float64(budget) * ExploreRatio)
	budgetReserve := budget - budgetExploit - budgetExplore

	var assessments []Assessment
	assessments = append(assessments, a.allocate(exploits, budgetExploit, StatusExploit)...)
	assessments = append(assessments, a.allocate(explores, budgetExplore, StatusExplore)...)
	for _, sn := range pauses {
		assessments = append(assessments, Assessment{
			NicheID:       sn.niche.NicheID,
			Name:          sn.niche.Name,
			Domain:        sn.niche.Domain,
			Status:        StatusPause,
			Score:         sn.score,
			Justification: justifyPause(sn.niche, sn.score),
		})
	}

	return Decision{
		CycleID:       cycleID,
		DecidedAt:     a.now().UTC(),
		BudgetTotal:   budget,
		BudgetExploit: budgetExploit,
		BudgetExplore: budgetExplore,
		BudgetReserve: budgetReserve,
		Assessments:   assessments,
		RiskNotes:     riskNotes(exploits, explores, pauses, budget),
	}
}

// scoreNiche computes the 0-1 composite: value per token 40%, density 30%,
// freshness 20%, critical events 10%, plus a cold start bonus. Niches with
// critical events get the boost multiplier on top.
func (a *Agent) scoreNiche(n NicheMetrics) float64 {
	valueScore := minFloat(1.0, n.ValuePer1kTokens/100)
	densityScore := minFloat(1.0, n.Density/DensityGood)

	var freshnessScore float64
	switch {
	case n.DaysSinceScan >= StaleDays:
		freshnessScore = 0.8
	case n.DaysSinceScan >= 7:
		freshnessScore = 0.5
	default:
		freshnessScore = 0.3
	}

	eventScore := 0.0
	if n.RecentCriticalEvents > 0 {
		eventScore = 1.0
	}

	var coldStartBonus float64
	switch {
	case n.TotalRuns == 0:
		coldStartBonus = 0.3
	case n.TotalRuns < MinRunsBeforePause:
		coldStartBonus = 0.15
	}

	score := valueScore*0.40 + densityScore*0.30 + freshnessScore*0.20 + eventScore*0.10
	score = minFloat(1.0, score+coldStartBonus)

	if n.RecentCriticalEvents > 0 {
		score = minFloat(1.0, score*EventBoostMultiplier)
	}
	return score
}

// allocate splits the bucket budget proportionally to scores. Cold start
// niches get a 200 token floor, everything included gets at least 50.
func (a *Agent) allocate(niches []scoredNiche, budget int, status NicheStatus) []Assessment {
	if len(niches) == 0 || budget <= 0 {
		return nil
	}

	totalScore := 0.0
	for _, sn := range niches {
		totalScore += sn.score
	}

	assessments := make([]Assessment, 0, len(niches))
	for _, sn := range niches {
		var tokens int
		if totalScore == 0 {
			tokens = budget / len(niches)
		} else {
			tokens = int(float64(budget) * sn.score / totalScore)
			if sn.niche.TotalRuns < MinRunsBeforePause && tokens < ColdStartTokens {
				tokens = ColdStartTokens
			}
			if tokens < MinNicheTokens {
				tokens = MinNicheTokens
			}
		}

		assessments = append(assessments, Assessment{
			NicheID:       sn.niche.NicheID,
			Name:          sn.niche.Name,
			Domain:        sn.niche.Domain,
			Status:        status,
			Score:         sn.score,
			Tokens:        tokens,
			MaxASINs:      tokensToASINs(tokens),
			Justification: justify(sn.niche, sn.score, status),
		})
	}
	return assessments
}

// tokensToASINs converts a token allocation into a scan cap: 5 tokens for
// discovery, 2 per ASIN.
func tokensToASINs(tokens int) int {
	if tokens < 10 {
		return 0
	}
	n := (tokens - 5) / 2
	if n < 1 {
		n = 1
	}
	return n
}

func justify(n NicheMetrics, score float64, status NicheStatus) string {
	var parts []string

	switch status {
	case StatusExploit:
		parts = append(parts, fmt.Sprintf("high score (%.2f)", score))
		if n.Density >= DensityGood {
			parts = append(parts, fmt.Sprintf("excellent density (%.1f%%)", n.Density*100))
		}
		if n.ValuePer1kTokens > 50 {
			parts = append(parts, fmt.Sprintf("good value (%.0f EUR/1k tokens)", n.ValuePer1kTokens))
		}
	case StatusExplore:
		if n.TotalRuns < MinRunsBeforePause {
			parts = append(parts, fmt.Sprintf("cold start (%d runs)", n.TotalRuns))
		} else {
			parts = append(parts, fmt.Sprintf("testing hypothesis (score %.2f)", score))
		}
		if n.DaysSinceScan >= StaleDays {
			parts = append(parts, "needs refresh")
		}
	}

	if n.RecentCriticalEvents > 0 {
		parts = append(parts, fmt.Sprintf("%d critical events", n.RecentCriticalEvents))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("score %.2f", score)
	}
	return strings.Join(parts, "; ")
}

func justifyPause(n NicheMetrics, score float64) string {
	var parts []string

	if n.Density < DensityBad {
		parts = append(parts, fmt.Sprintf("low density (%.1f%%)", n.Density*100))
	}
	if n.ValuePer1kTokens < 10 {
		parts = append(parts, fmt.Sprintf("low value (%.0f EUR/1k tokens)", n.ValuePer1kTokens))
	}
	if score < ExploreThreshold {
		parts = append(parts, fmt.Sprintf("score below threshold (%.2f)", score))
	}

	if len(parts) == 0 {
		return "low priority"
	}
	return strings.Join(parts, "; ")
}

func riskNotes(exploits, explores, pauses []scoredNiche, budget int) []string {
	var notes []string

	if len(exploits) == 0 {
		notes = append(notes, "WARNING: no high-confidence niches to exploit, consider activating more categories")
	}
	if len(pauses) > 0 && len(exploits) == 0 && len(explores) == 0 {
		notes = append(notes, "CRITICAL: all niches paused, system may miss opportunities")
	}
	if budget < 100 {
		notes = append(notes, fmt.Sprintf("LOW BUDGET: only %d tokens available, limited scanning possible", budget))
	}

	staleCount := 0
	for _, sn := range append(append([]scoredNiche(nil), exploits...), explores...) {
		if sn.niche.DaysSinceScan >= StaleDays {
			staleCount++
		}
	}
	if staleCount > 0 {
		notes = append(notes, fmt.Sprintf("STALE DATA: %d niches not scanned in %d+ days", staleCount, StaleDays))
	}

	if len(exploits) == 1 && len(explores) == 0 {
		notes = append(notes, "CONCENTRATION RISK: all tokens allocated to a single niche")
	}

	for _, sn := range explores {
		if sn.niche.TotalRuns == 1 {
			notes = append(notes, fmt.Sprintf("HYPOTHESIS: %s (%s) needs validation (1 run)", sn.niche.Name, sn.niche.Domain))
		}
	}

	return notes
}

func (a *Agent) cycleID() string {
	ts := a.now().UTC().Format("20060102_150405")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", ts, a.counter)))
	return fmt.Sprintf("cycle_%s_%s", ts, hex.EncodeToString(sum[:3]))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
