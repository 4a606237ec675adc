package content

import (
	"safe-by-design/server/internal/models"
)

type Timing string

const (
	TimingImmediate Timing = "immediate"
	TimingDelayed   Timing = "delayed"
	TimingBoth      Timing = "both"
)

type Category string

const (
	CategoryPathwayAccess      Category = "pathway_access"
	CategoryClinicalSafety     Category = "clinical_safety"
	CategoryDigitalMonitoring  Category = "digital_monitoring"
	CategoryWorkforceWellbeing Category = "workforce_wellbeing"
)

// Flag marks a decision for decision-pattern triggers and incident rules.
type Flag string

const (
	FlagEscalation       Flag = "escalation"
	FlagTriage           Flag = "triage"
	FlagInterpreter      Flag = "interpreter"
	FlagStaffDevelopment Flag = "staff_development"
	FlagBankStaff        Flag = "bank_staff"
	FlagGovernance       Flag = "governance"
	FlagSafetyMechanism  Flag = "safety_mechanism"
	FlagProtectedTime    Flag = "protected_time"
)

// Metric names accepted by metric_effects.
const (
	MetricBacklog       = "backlog"
	MetricDNARate       = "dna_rate"
	MetricStaffSickness = "staff_sickness"
)

type PillarAdjustment struct {
	Pillar models.Pillar `yaml:"pillar" json:"pillar"`
	Delta  float64       `yaml:"delta" json:"delta"`
}

// Tradeoff is a flat cross-pillar rule. Chance in (0,1) makes it conditional
// on one seeded draw; zero or one means always.
type Tradeoff struct {
	Target models.Pillar `yaml:"target" json:"target"`
	Delta  float64       `yaml:"delta" json:"delta"`
	Chance float64       `yaml:"chance" json:"chance,omitempty"`
}

func (t Tradeoff) Conditional() bool {
	return t.Chance > 0 && t.Chance < 1
}

type MetricEffect struct {
	Metric string  `yaml:"metric" json:"metric"`
	Delta  float64 `yaml:"delta" json:"delta"`
}

type Decision struct {
	ID                string             `yaml:"id" json:"id"`
	Name              string             `yaml:"name" json:"name"`
	Description       string             `yaml:"description" json:"description"`
	Category          Category           `yaml:"category" json:"category"`
	Costs             models.Budgets     `yaml:"costs" json:"costs"`
	EffectTags        []string           `yaml:"effect_tags" json:"effect_tags"`
	Timing            Timing             `yaml:"timing" json:"timing"`
	DelayCycles       int                `yaml:"delay_cycles" json:"delay_cycles,omitempty"`
	Flags             []Flag             `yaml:"flags" json:"flags,omitempty"`
	PillarAdjustments []PillarAdjustment `yaml:"pillar_adjustments" json:"pillar_adjustments,omitempty"`
	Tradeoffs         []Tradeoff         `yaml:"tradeoffs" json:"tradeoffs,omitempty"`
	MetricEffects     []MetricEffect     `yaml:"metric_effects" json:"metric_effects,omitempty"`
}

func (d Decision) HasFlag(f Flag) bool {
	for _, x := range d.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Immediate reports whether the decision acts in the cycle it is chosen.
func (d Decision) Immediate() bool {
	return d.Timing == TimingImmediate || d.Timing == TimingBoth
}

// Delayed reports whether the decision acts in later cycles.
func (d Decision) Delayed() bool {
	return d.Timing == TimingDelayed || d.Timing == TimingBoth
}

// DelayWindow is the number of cycles after selection that the delayed
// effect keeps applying.
func (d Decision) DelayWindow() int {
	if d.DelayCycles <= 0 {
		return 1
	}
	return d.DelayCycles
}

type CycleBrief struct {
	Cycle         int      `yaml:"cycle" json:"cycle"`
	Title         string   `yaml:"title" json:"title"`
	Description   string   `yaml:"description" json:"description"`
	Signals       []string `yaml:"signals" json:"signals"`
	PressureLevel int      `yaml:"pressure_level" json:"pressure_level"`
}

type Scope string

const (
	ScopeTeam Scope = "team"
	ScopeAll  Scope = "all"
)

// Themes is the fixed set of debrief question themes.
var Themes = []string{
	"story",
	"decision_quality",
	"systems_thinking",
	"team_dynamics",
	"strategy",
	"lessons",
	"safety_culture",
	"equity_access",
	"staff_wellbeing",
	"resilience",
}

type Question struct {
	ID       string   `yaml:"id" json:"id"`
	Text     string   `yaml:"text" json:"text"`
	Theme    string   `yaml:"theme" json:"theme"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Priority int      `yaml:"priority" json:"priority"`
	Scope    Scope    `yaml:"scope" json:"scope"`
	FollowUp string   `yaml:"follow_up" json:"follow_up,omitempty"`
	MinCycle int      `yaml:"min_cycle" json:"min_cycle,omitempty"`
	MaxCycle int      `yaml:"max_cycle" json:"max_cycle,omitempty"`
}

func (q Question) Lists(trigger string) bool {
	for _, t := range q.Triggers {
		if t == trigger {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventImpacts is sparse: nil fields leave the system state untouched.
type EventImpacts struct {
	Backlog          *float64 `yaml:"backlog" json:"backlog,omitempty"`
	DNARate          *float64 `yaml:"dna_rate" json:"dna_rate,omitempty"`
	StaffSickness    *float64 `yaml:"staff_sickness" json:"staff_sickness,omitempty"`
	StaffMorale      *float64 `yaml:"staff_morale" json:"staff_morale,omitempty"`
	SafetyRisk       *float64 `yaml:"safety_risk" json:"safety_risk,omitempty"`
	CapacityModifier *float64 `yaml:"capacity_modifier" json:"capacity_modifier,omitempty"`
}

type Event struct {
	ID          string       `yaml:"-" json:"id"`
	Title       string       `yaml:"title" json:"title"`
	Description string       `yaml:"description" json:"description"`
	Severity    Severity     `yaml:"severity" json:"severity"`
	Effect      string       `yaml:"effect" json:"effect"`
	Impacts     EventImpacts `yaml:"impacts" json:"impacts"`
	Cycle       int          `yaml:"cycle" json:"-"`
	MinCycle    int          `yaml:"min_cycle" json:"-"`
	MaxCycle    int          `yaml:"max_cycle" json:"-"`
}

// EligibleFor applies the cycle, min_cycle and max_cycle constraints.
func (e Event) EligibleFor(cycle int) bool {
	if e.Cycle != 0 && e.Cycle != cycle {
		return false
	}
	if e.MinCycle != 0 && cycle < e.MinCycle {
		return false
	}
	if e.MaxCycle != 0 && cycle > e.MaxCycle {
		return false
	}
	return true
}
