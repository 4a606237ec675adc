package debrief

import (
	"fmt"
	"math"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
)

type TriggerType string

const (
	TriggerFirstCycle            TriggerType = "first_cycle"
	TriggerSafetyFocus           TriggerType = "safety_focus"
	TriggerSafetyNeglect         TriggerType = "safety_neglect"
	TriggerIncidentOccurred      TriggerType = "incident_occurred"
	TriggerNearMiss              TriggerType = "near_miss"
	TriggerEscalationImproved    TriggerType = "escalation_improved"
	TriggerDocumentationGap      TriggerType = "documentation_gap"
	TriggerEquityFocus           TriggerType = "equity_focus"
	TriggerEquityNeglect         TriggerType = "equity_neglect"
	TriggerAccessBarrier         TriggerType = "access_barrier"
	TriggerInterpreterUsed       TriggerType = "interpreter_used"
	TriggerTriageTightened       TriggerType = "triage_tightened"
	TriggerVulnerableGroupImpact TriggerType = "vulnerable_group_impact"
	TriggerStaffWellbeingFocus   TriggerType = "staff_wellbeing_focus"
	TriggerStaffNeglect          TriggerType = "staff_neglect"
	TriggerHighSickness          TriggerType = "high_sickness"
	TriggerBurnoutRisk           TriggerType = "burnout_risk"
	TriggerTrainingInvested      TriggerType = "training_invested"
	TriggerWorkloadPressure      TriggerType = "workload_pressure"
	TriggerResilienceFocus       TriggerType = "resilience_focus"
	TriggerResilienceNeglect     TriggerType = "resilience_neglect"
	TriggerGovernanceImproved    TriggerType = "governance_improved"
	TriggerCapacityStrain        TriggerType = "capacity_strain"
	TriggerBankStaffUsed         TriggerType = "bank_staff_used"
	TriggerSystemFragile         TriggerType = "system_fragile"
	TriggerBacklogGrowing        TriggerType = "backlog_growing"
	TriggerBacklogReduced        TriggerType = "backlog_reduced"
	TriggerDNARateHigh           TriggerType = "dna_rate_high"
	TriggerDNARateImproved       TriggerType = "dna_rate_improved"
	TriggerHighRiskProportion    TriggerType = "high_risk_proportion"
	TriggerNeonatalHigh          TriggerType = "neonatal_admissions_high"
	TriggerLeadingTeam           TriggerType = "leading_team"
	TriggerStrugglingTeam        TriggerType = "struggling_team"
	TriggerComeback              TriggerType = "comeback"
	TriggerEarlyLeadLost         TriggerType = "early_lead_lost"
	TriggerBalancedApproach      TriggerType = "balanced_approach"
	TriggerSingleFocus           TriggerType = "single_focus"
)

// TriggerResult is recomputed on every request and never stored.
type TriggerResult struct {
	Type      TriggerType `json:"type"`
	Fired     bool        `json:"fired"`
	Intensity float64     `json:"intensity"`
	Context   string      `json:"context"`
	Cycles    []int       `json:"cycles"`
}

// appliesTo reports whether the trigger concerns cycle. Triggers without
// cycles apply to every cycle.
func (t TriggerResult) appliesTo(cycle int) bool {
	if len(t.Cycles) == 0 {
		return true
	}
	for _, c := range t.Cycles {
		if c == cycle {
			return true
		}
	}
	return false
}

// DecisionHistory is a team's resolved selection for one cycle.
type DecisionHistory struct {
	Cycle     int
	Decisions []content.Decision
}

type TeamContext struct {
	TeamID       string
	TeamName     string
	CurrentCycle int
	Results      []models.CycleResult // ascending by cycle
	Decisions    []DecisionHistory
	Cumulative   models.ScoreBreakdown
}

type GameContext struct {
	TotalTeams    int
	CurrentCycle  int
	LeaderByCycle []string
	Teams         []TeamContext
}

// Detector turns team history into triggers.
type Detector struct {
	th Thresholds
}

func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th}
}

// Detect emits each trigger type at most once. With no results only the
// first_cycle trigger is returned.
func (d *Detector) Detect(team TeamContext, game GameContext) []TriggerResult {
	th := d.th
	cycle := team.CurrentCycle
	now := []int{cycle}

	triggers := []TriggerResult{{
		Type:      TriggerFirstCycle,
		Fired:     cycle <= 2,
		Intensity: pick(cycle == 1, 1, 0.5),
		Context:   pickText(cycle == 1, "First cycle of the game", "Early game phase"),
		Cycles:    now,
	}}

	results := team.Results
	if len(results) == 0 {
		return triggers
	}
	latest := results[len(results)-1]
	s, m := latest.Scores, latest.Metrics
	add := func(t TriggerResult) {
		t.Intensity = unit(t.Intensity)
		if t.Cycles == nil {
			t.Cycles = []int{}
		}
		triggers = append(triggers, t)
	}

	// safety
	add(focus(TriggerSafetyFocus, "Safety", s.Safety, th.HighSafety, cycle))
	add(neglect(TriggerSafetyNeglect, "Safety", s.Safety, th.LowSafety, cycle))

	totalIncidents, incidentCycles := 0, []int{}
	nearMisses, nearMissCycles := 0, []int{}
	for _, r := range results {
		totalIncidents += r.Metrics.Incidents
		if r.Metrics.Incidents > 0 {
			incidentCycles = append(incidentCycles, r.Cycle)
		}
		if gap := r.Metrics.Incidents - len(r.Incidents); gap > 0 {
			nearMisses += gap
			nearMissCycles = append(nearMissCycles, r.Cycle)
		}
	}
	add(TriggerResult{
		Type:      TriggerIncidentOccurred,
		Fired:     float64(totalIncidents) >= th.IncidentCount,
		Intensity: math.Min(1, float64(totalIncidents)/3),
		Context:   pickText(totalIncidents > 0, fmt.Sprintf("%d incident(s) occurred", totalIncidents), "No incidents"),
		Cycles:    incidentCycles,
	})
	add(TriggerResult{
		Type:      TriggerNearMiss,
		Fired:     nearMisses > 0,
		Intensity: math.Min(1, float64(nearMisses)/3),
		Context:   pickText(nearMisses > 0, fmt.Sprintf("%d reported event(s) without a recorded harm description", nearMisses), "No near misses"),
		Cycles:    nearMissCycles,
	})
	add(decisionPattern(team.Decisions, content.FlagEscalation, TriggerEscalationImproved, 3,
		"Invested in escalation/audit processes", "No escalation improvements"))
	add(incidentPattern(results, "documentation_gap", TriggerDocumentationGap, "Documentation gap"))

	// equity
	add(focus(TriggerEquityFocus, "Equity", s.Equity, th.HighEquity, cycle))
	add(neglect(TriggerEquityNeglect, "Equity", s.Equity, th.LowEquity, cycle))
	triage := decisionPattern(team.Decisions, content.FlagTriage, TriggerTriageTightened, 2,
		"Tightened triage criteria", "Standard triage")
	add(triage)
	add(decisionPattern(team.Decisions, content.FlagInterpreter, TriggerInterpreterUsed, 2,
		"Invested in language support", "No language support"))
	add(incidentPattern(results, "access_barrier", TriggerAccessBarrier, "Access barrier"))
	vulnerable := triage.Fired && s.Equity < th.LowEquity
	add(TriggerResult{
		Type:      TriggerVulnerableGroupImpact,
		Fired:     vulnerable,
		Intensity: pick(vulnerable, math.Min(1, 0.5+(th.LowEquity-s.Equity)/30), 0),
		Context:   pickText(vulnerable, fmt.Sprintf("Triage tightened while equity fell to %.0f", s.Equity), "No vulnerable group impact"),
		Cycles:    now,
	})

	// staff
	add(focus(TriggerStaffWellbeingFocus, "Staff", s.Staff, th.HighStaff, cycle))
	add(neglect(TriggerStaffNeglect, "Staff", s.Staff, th.LowStaff, cycle))
	maxSickness, highSicknessCycles := 0.0, []int{}
	for _, r := range results {
		maxSickness = math.Max(maxSickness, r.Metrics.StaffSickness)
		if r.Metrics.StaffSickness > th.HighSickness {
			highSicknessCycles = append(highSicknessCycles, r.Cycle)
		}
	}
	add(TriggerResult{
		Type:      TriggerHighSickness,
		Fired:     len(highSicknessCycles) > 0,
		Intensity: maxSickness / 40,
		Context:   pickText(len(highSicknessCycles) > 0, fmt.Sprintf("Staff sickness hit %g%%", maxSickness), "Staff sickness manageable"),
		Cycles:    highSicknessCycles,
	})
	burnout := m.StaffSickness > th.CriticalSickness
	add(TriggerResult{
		Type:      TriggerBurnoutRisk,
		Fired:     burnout,
		Intensity: m.StaffSickness / 40,
		Context:   pickText(burnout, fmt.Sprintf("Critical staff sickness at %g%%", m.StaffSickness), "Staff sickness under control"),
		Cycles:    now,
	})
	add(decisionPattern(team.Decisions, content.FlagStaffDevelopment, TriggerTrainingInvested, 3,
		"Invested in staff development", "No staff development investment"))
	add(decisionPattern(team.Decisions, content.FlagBankStaff, TriggerBankStaffUsed, 2,
		"Used bank/agency staff", "Core staff only"))
	add(incidentPattern(results, "handover_failure", TriggerWorkloadPressure, "Handover failure under workload pressure"))

	// resilience
	add(focus(TriggerResilienceFocus, "Resilience", s.Resilience, th.HighResilience, cycle))
	add(neglect(TriggerResilienceNeglect, "Resilience", s.Resilience, th.LowResilience, cycle))
	add(decisionPattern(team.Decisions, content.FlagGovernance, TriggerGovernanceImproved, 3,
		"Invested in governance/standards", "No governance investment"))
	low := 0
	for _, p := range []struct{ v, limit float64 }{
		{s.Safety, th.LowSafety}, {s.Equity, th.LowEquity}, {s.Staff, th.LowStaff}, {s.Resilience, th.LowResilience},
	} {
		if p.v < p.limit {
			low++
		}
	}
	add(TriggerResult{
		Type:      TriggerSystemFragile,
		Fired:     low >= 2,
		Intensity: float64(low) / 4,
		Context:   pickText(low >= 2, fmt.Sprintf("%d pillars below threshold", low), "System stable"),
		Cycles:    now,
	})

	// metrics
	backlogCycles, dnaCycles := []int{}, []int{}
	for _, r := range results {
		if r.Metrics.Backlog > th.HighBacklog {
			backlogCycles = append(backlogCycles, r.Cycle)
		}
		if r.Metrics.DNARate > th.HighDNARate {
			dnaCycles = append(dnaCycles, r.Cycle)
		}
	}
	add(TriggerResult{
		Type:      TriggerBacklogGrowing,
		Fired:     m.Backlog > th.HighBacklog,
		Intensity: math.Min(1, m.Backlog/100),
		Context:   fmt.Sprintf("Backlog at %.0f patients", m.Backlog),
		Cycles:    backlogCycles,
	})
	add(TriggerResult{
		Type:      TriggerBacklogReduced,
		Fired:     m.Backlog < th.LowBacklog,
		Intensity: 1 - m.Backlog/th.HighBacklog,
		Context:   fmt.Sprintf("Backlog reduced to %.0f patients", m.Backlog),
		Cycles:    now,
	})
	add(TriggerResult{
		Type:      TriggerDNARateHigh,
		Fired:     m.DNARate > th.HighDNARate,
		Intensity: math.Min(1, m.DNARate/30),
		Context:   fmt.Sprintf("DNA rate at %g%%", m.DNARate),
		Cycles:    dnaCycles,
	})
	add(TriggerResult{
		Type:      TriggerHighRiskProportion,
		Fired:     m.HighRiskShare > th.HighRiskProportion,
		Intensity: m.HighRiskShare / 50,
		Context:   fmt.Sprintf("High-risk proportion at %g%%", m.HighRiskShare),
		Cycles:    now,
	})
	add(TriggerResult{
		Type:      TriggerNeonatalHigh,
		Fired:     float64(m.NeonatalAdmissions) >= th.HighNeonatal,
		Intensity: math.Min(1, float64(m.NeonatalAdmissions)/8),
		Context:   fmt.Sprintf("%d neonatal admissions", m.NeonatalAdmissions),
		Cycles:    now,
	})
	if len(results) >= 2 {
		prev := results[len(results)-2].Metrics
		drop := prev.DNARate - m.DNARate
		add(TriggerResult{
			Type:      TriggerDNARateImproved,
			Fired:     drop >= th.DNAImprovement,
			Intensity: math.Min(1, drop/6),
			Context:   fmt.Sprintf("DNA rate moved from %g%% to %g%%", prev.DNARate, m.DNARate),
			Cycles:    now,
		})
		rise := m.Backlog - prev.Backlog
		add(TriggerResult{
			Type:      TriggerCapacityStrain,
			Fired:     rise > th.BacklogJump,
			Intensity: math.Min(1, rise/30),
			Context:   fmt.Sprintf("Backlog rose by %.0f in one cycle", rise),
			Cycles:    now,
		})
	}

	// position
	spread := s.Spread()
	add(TriggerResult{
		Type:      TriggerBalancedApproach,
		Fired:     spread < th.PillarImbalance,
		Intensity: 1 - spread/30,
		Context:   pickText(spread < th.PillarImbalance, "Balanced approach across pillars", "Focused approach"),
	})
	focused := spread >= th.PillarImbalance*1.5
	add(TriggerResult{
		Type:      TriggerSingleFocus,
		Fired:     focused,
		Intensity: math.Min(1, spread/30),
		Context:   pickText(focused, fmt.Sprintf("Strong focus on one pillar (%.0f point spread)", spread), "Relatively balanced"),
	})

	leaders := game.LeaderByCycle
	isLeader := len(leaders) > 0 && leaders[len(leaders)-1] == team.TeamID
	add(TriggerResult{
		Type:      TriggerLeadingTeam,
		Fired:     isLeader,
		Intensity: pick(isLeader, 1, 0),
		Context:   pickText(isLeader, "Currently leading", fmt.Sprintf("Total score: %.0f", team.Cumulative.Total)),
	})

	struggling := len(results) >= 2 && isLowestCumulative(team, game)
	add(TriggerResult{
		Type:      TriggerStrugglingTeam,
		Fired:     struggling,
		Intensity: pick(struggling, 0.7, 0),
		Context:   pickText(struggling, "Lowest cumulative score in the room", "Not bottom of the table"),
	})

	if len(results) >= 3 && len(leaders) >= 2 {
		early := contains(leaders[:2], team.TeamID)
		comeback := wasBottom(results) && isLeader
		lost := early && !isLeader
		add(TriggerResult{
			Type:      TriggerComeback,
			Fired:     comeback,
			Intensity: pick(comeback, 0.9, 0),
			Context:   pickText(comeback, "Staged a comeback to lead", "No major comeback"),
		})
		add(TriggerResult{
			Type:      TriggerEarlyLeadLost,
			Fired:     lost,
			Intensity: pick(lost, 0.9, 0),
			Context:   pickText(lost, "Led early but fell behind", "Maintained position"),
		})
	}

	return triggers
}

// Fired filters to triggers that fired, keeping order.
func Fired(triggers []TriggerResult) []TriggerResult {
	out := make([]TriggerResult, 0, len(triggers))
	for _, t := range triggers {
		if t.Fired {
			out = append(out, t)
		}
	}
	return out
}

func focus(typ TriggerType, label string, score, high float64, cycle int) TriggerResult {
	return TriggerResult{
		Type:      typ,
		Fired:     score >= high,
		Intensity: math.Min(1, (score-60)/40),
		Context:   fmt.Sprintf("%s score at %.0f", label, score),
		Cycles:    []int{cycle},
	}
}

func neglect(typ TriggerType, label string, score, low float64, cycle int) TriggerResult {
	return TriggerResult{
		Type:      typ,
		Fired:     score < low,
		Intensity: math.Min(1, (low-score)/30),
		Context:   fmt.Sprintf("%s score dropped to %.0f", label, score),
		Cycles:    []int{cycle},
	}
}

// decisionPattern counts cycles in which the team chose a decision
// carrying flag.
func decisionPattern(history []DecisionHistory, flag content.Flag, typ TriggerType, scale float64, yes, no string) TriggerResult {
	cycles := []int{}
	for _, h := range history {
		for _, d := range h.Decisions {
			if d.HasFlag(flag) {
				cycles = append(cycles, h.Cycle)
				break
			}
		}
	}
	n := float64(len(cycles))
	return TriggerResult{
		Type:      typ,
		Fired:     n > 0,
		Intensity: math.Min(1, n/scale),
		Context:   pickText(n > 0, yes, no),
		Cycles:    cycles,
	}
}

func incidentPattern(results []models.CycleResult, incidentType string, typ TriggerType, label string) TriggerResult {
	count, cycles := 0, []int{}
	for _, r := range results {
		hit := false
		for _, inc := range r.Incidents {
			if inc.Type == incidentType {
				count++
				hit = true
			}
		}
		if hit {
			cycles = append(cycles, r.Cycle)
		}
	}
	return TriggerResult{
		Type:      typ,
		Fired:     count > 0,
		Intensity: math.Min(1, float64(count)/2),
		Context:   pickText(count > 0, fmt.Sprintf("%s reported %d time(s)", label, count), "None reported"),
		Cycles:    cycles,
	}
}

// wasBottom compares the team against its own history: a dip below 80% of
// its average total counts.
func wasBottom(results []models.CycleResult) bool {
	if len(results) < 2 {
		return false
	}
	minTotal, sum := results[0].Scores.Total, 0.0
	for _, r := range results {
		minTotal = math.Min(minTotal, r.Scores.Total)
		sum += r.Scores.Total
	}
	return minTotal < 0.8*(sum/float64(len(results)))
}

func isLowestCumulative(team TeamContext, game GameContext) bool {
	if len(game.Teams) < 2 {
		return false
	}
	for _, other := range game.Teams {
		if other.TeamID != team.TeamID && other.Cumulative.Total <= team.Cumulative.Total {
			return false
		}
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

func pickText(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
