package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
)

var ErrCycleOutOfRange = errors.New("cycle out of range")

type baseline [models.TotalCycles]float64

// Baselines worsen through cycle 5 and ease slightly in cycle 6.
var (
	baseSafety        = baseline{75, 73, 70, 68, 65, 67}
	baseEquity        = baseline{70, 68, 65, 62, 60, 62}
	baseStaff         = baseline{80, 75, 70, 65, 60, 63}
	baseResilience    = baseline{75, 72, 68, 64, 60, 62}
	baseBacklog       = baseline{15, 25, 35, 45, 55, 50}
	baseDNARate       = baseline{12, 15, 18, 22, 25, 23}
	baseStaffSickness = baseline{5, 8, 12, 18, 25, 22}
	baseHighRiskShare = baseline{35, 40, 45, 50, 52, 50}
	baseIncidents     = [models.TotalCycles]int{0, 0, 1, 1, 2, 1}
)

const (
	pointsPerTag       = 4.0
	jitterLow          = 0.8
	jitterSpan         = 0.4
	delayedMultiplier  = 1.2
	extraIncidentCycle = 3
)

// Metric bounds shared with the event engine.
const (
	MaxDNARate       = 50.0
	MaxStaffSickness = 40.0
	MaxStaffMorale   = 100.0
	MaxPillarScore   = 100.0
)

// PriorSelection is what a team chose in an earlier cycle.
type PriorSelection struct {
	Cycle     int
	Decisions []content.Decision
}

type OutcomeInput struct {
	GameID       string
	TeamID       string
	Cycle        int
	ScenarioSeed int64
	Selected     []content.Decision
	History      []PriorSelection
}

type Outcome struct {
	Scores    models.ScoreBreakdown     `json:"scores"`
	Metrics   models.OperationalMetrics `json:"metrics"`
	Incidents []models.Incident         `json:"incidents"`
}

// Baseline returns the pillar scores a team gets with no decisions.
func Baseline(cycle int) (models.ScoreBreakdown, error) {
	if cycle < 1 || cycle > models.TotalCycles {
		return models.ScoreBreakdown{}, fmt.Errorf("%w: %d", ErrCycleOutOfRange, cycle)
	}
	i := cycle - 1
	s := models.ScoreBreakdown{
		Safety:     baseSafety[i],
		Equity:     baseEquity[i],
		Staff:      baseStaff[i],
		Resilience: baseResilience[i],
	}
	s.Total = s.Safety + s.Equity + s.Staff + s.Resilience
	return s, nil
}

// CalculateOutcome scores one team for one cycle. Budgets are validated by
// the caller; every draw comes from the stream seeded by OutcomeSeed.
func CalculateOutcome(in OutcomeInput) (Outcome, error) {
	scores, err := Baseline(in.Cycle)
	if err != nil {
		return Outcome{}, err
	}
	rng := NewStream(OutcomeSeed(in.ScenarioSeed, in.TeamID, in.Cycle))

	scores = applyDecisionEffects(scores, in, rng)
	scores = applyTradeoffs(scores, in.Selected, rng)
	for _, p := range models.Pillars {
		scores.SetPillar(p, clamp(scores.Pillar(p), 0, MaxPillarScore))
	}
	scores.Total = scores.Safety + scores.Equity + scores.Staff + scores.Resilience

	metrics := calculateMetrics(in, rng)
	incidents := generateIncidents(in.Cycle, scores, metrics, rng)

	return Outcome{Scores: scores, Metrics: metrics, Incidents: incidents}, nil
}

// effectValue is the un-jittered contribution of d to pillar p.
func effectValue(d content.Decision, p models.Pillar) float64 {
	matches := 0
	for _, tag := range d.EffectTags {
		if tag == string(p) || (p == models.PillarResilience && tag == "governance") {
			matches++
		}
	}
	v := float64(matches) * pointsPerTag
	for _, a := range d.PillarAdjustments {
		if a.Pillar == p {
			v += a.Delta
		}
	}
	return v
}

func applyDecisionEffects(scores models.ScoreBreakdown, in OutcomeInput, rng Stream) models.ScoreBreakdown {
	for _, d := range in.Selected {
		if !d.Immediate() {
			continue
		}
		for _, p := range models.Pillars {
			scores.SetPillar(p, scores.Pillar(p)+effectValue(d, p)*(jitterLow+rng()*jitterSpan))
		}
	}

	history := make([]PriorSelection, 0, len(in.History))
	for _, h := range in.History {
		if h.Cycle < in.Cycle {
			history = append(history, h)
		}
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].Cycle < history[j].Cycle })

	for _, h := range history {
		age := in.Cycle - h.Cycle
		for _, d := range h.Decisions {
			if !d.Delayed() || age > d.DelayWindow() {
				continue
			}
			for _, p := range models.Pillars {
				scores.SetPillar(p, scores.Pillar(p)+effectValue(d, p)*delayedMultiplier)
			}
		}
	}
	return scores
}

// applyTradeoffs runs every catalog tradeoff rule of the selection, pillar by
// pillar in evaluation order. Conditional rules consume one draw each.
func applyTradeoffs(scores models.ScoreBreakdown, selected []content.Decision, rng Stream) models.ScoreBreakdown {
	for _, p := range models.Pillars {
		v := scores.Pillar(p)
		for _, d := range selected {
			for _, t := range d.Tradeoffs {
				if t.Target != p {
					continue
				}
				if t.Conditional() && rng() >= t.Chance {
					continue
				}
				v += t.Delta
			}
		}
		scores.SetPillar(p, v)
	}
	return scores
}

func calculateMetrics(in OutcomeInput, rng Stream) models.OperationalMetrics {
	i := in.Cycle - 1
	backlog := baseBacklog[i]
	dna := baseDNARate[i]
	sickness := baseStaffSickness[i]
	highRisk := baseHighRiskShare[i]

	for _, d := range in.Selected {
		for _, m := range d.MetricEffects {
			switch m.Metric {
			case content.MetricBacklog:
				backlog += m.Delta
			case content.MetricDNARate:
				dna += m.Delta
			case content.MetricStaffSickness:
				sickness += m.Delta
			}
		}
	}

	backlog += math.Floor((rng() - 0.5) * 10)
	dna += (rng() - 0.5) * 3
	sickness += (rng() - 0.5) * 4

	backlog = math.Max(0, backlog)
	dna = clamp(dna, 0, MaxDNARate)
	sickness = clamp(sickness, 0, MaxStaffSickness)

	incidents := baseIncidents[i]
	if in.Cycle >= extraIncidentCycle && !hasFlag(in.Selected, content.FlagSafetyMechanism) {
		if rng() > 0.5 {
			incidents++
		}
	}
	neonatal := int(math.Floor(2 + float64(i) + rng()*3))

	return models.OperationalMetrics{
		Backlog:            backlog,
		DNARate:            round1(dna),
		StaffSickness:      round1(sickness),
		HighRiskShare:      round1(highRisk),
		Incidents:          incidents,
		NeonatalAdmissions: neonatal,
	}
}

type incidentRule struct {
	applies   func(cycle int, s models.ScoreBreakdown, m models.OperationalMetrics) bool
	threshold float64
	incident  models.Incident
}

var incidentRules = []incidentRule{
	{
		applies:   func(_ int, s models.ScoreBreakdown, _ models.OperationalMetrics) bool { return s.Safety < 65 },
		threshold: 0.5,
		incident: models.Incident{
			Type:        "documentation_gap",
			Severity:    "medium",
			Description: "Escalation pathway not followed for woman with deteriorating glucose control",
		},
	},
	{
		applies:   func(_ int, _ models.ScoreBreakdown, m models.OperationalMetrics) bool { return m.DNARate > 20 },
		threshold: 0.6,
		incident: models.Incident{
			Type:        "missed_appointment",
			Severity:    "medium",
			Description: "Woman missed consecutive appointments and presented in DKA at 34 weeks",
		},
	},
	{
		applies:   func(_ int, _ models.ScoreBreakdown, m models.OperationalMetrics) bool { return m.StaffSickness > 20 },
		threshold: 0.7,
		incident: models.Incident{
			Type:        "handover_failure",
			Severity:    "high",
			Description: "Critical information not handed over due to staff absence and workload pressure",
		},
	},
	{
		applies:   func(c int, s models.ScoreBreakdown, _ models.OperationalMetrics) bool { return c >= 4 && s.Equity < 60 },
		threshold: 0.7,
		incident: models.Incident{
			Type:        "access_barrier",
			Severity:    "medium",
			Description: "Language barrier resulted in misunderstanding about insulin administration",
		},
	},
}

// generateIncidents never returns more entries than the metric count; it may
// return fewer when no rule qualifies.
func generateIncidents(cycle int, s models.ScoreBreakdown, m models.OperationalMetrics, rng Stream) []models.Incident {
	out := []models.Incident{}
	if m.Incidents == 0 {
		return out
	}
	for _, r := range incidentRules {
		if r.applies(cycle, s, m) && rng() > r.threshold {
			out = append(out, r.incident)
		}
	}
	if len(out) > m.Incidents {
		out = out[:m.Incidents]
	}
	return out
}

func hasFlag(decisions []content.Decision, f content.Flag) bool {
	for _, d := range decisions {
		if d.HasFlag(f) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
