package models

type Pillar string

const (
	PillarSafety     Pillar = "safety"
	PillarEquity     Pillar = "equity"
	PillarStaff      Pillar = "staff"
	PillarResilience Pillar = "resilience"
)

// Pillars lists the scored dimensions in evaluation order.
var Pillars = []Pillar{PillarSafety, PillarEquity, PillarStaff, PillarResilience}

func (p Pillar) Valid() bool {
	switch p {
	case PillarSafety, PillarEquity, PillarStaff, PillarResilience:
		return true
	}
	return false
}

type ScoreBreakdown struct {
	Safety     float64 `json:"safety"`
	Equity     float64 `json:"equity"`
	Staff      float64 `json:"staff"`
	Resilience float64 `json:"resilience"`
	Total      float64 `json:"total"`
}

func (s ScoreBreakdown) Pillar(p Pillar) float64 {
	switch p {
	case PillarSafety:
		return s.Safety
	case PillarEquity:
		return s.Equity
	case PillarStaff:
		return s.Staff
	case PillarResilience:
		return s.Resilience
	}
	return 0
}

func (s *ScoreBreakdown) SetPillar(p Pillar, v float64) {
	switch p {
	case PillarSafety:
		s.Safety = v
	case PillarEquity:
		s.Equity = v
	case PillarStaff:
		s.Staff = v
	case PillarResilience:
		s.Resilience = v
	}
}

// Add returns the element-wise sum, total included.
func (s ScoreBreakdown) Add(o ScoreBreakdown) ScoreBreakdown {
	return ScoreBreakdown{
		Safety:     s.Safety + o.Safety,
		Equity:     s.Equity + o.Equity,
		Staff:      s.Staff + o.Staff,
		Resilience: s.Resilience + o.Resilience,
		Total:      s.Total + o.Total,
	}
}

// Spread is the gap between the highest and lowest pillar.
func (s ScoreBreakdown) Spread() float64 {
	lo, hi := s.Safety, s.Safety
	for _, p := range Pillars[1:] {
		v := s.Pillar(p)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

type Budgets struct {
	Capacity    int `yaml:"capacity" json:"capacity_points"`
	StaffEnergy int `yaml:"staff_energy" json:"staff_energy"`
	Cash        int `yaml:"cash" json:"cash_budget"`
}

func (b Budgets) Add(o Budgets) Budgets {
	return Budgets{
		Capacity:    b.Capacity + o.Capacity,
		StaffEnergy: b.StaffEnergy + o.StaffEnergy,
		Cash:        b.Cash + o.Cash,
	}
}

// Within reports whether every dimension of b fits inside limit.
func (b Budgets) Within(limit Budgets) bool {
	return b.Capacity <= limit.Capacity && b.StaffEnergy <= limit.StaffEnergy && b.Cash <= limit.Cash
}

type OperationalMetrics struct {
	Backlog            float64 `json:"backlog"`
	DNARate            float64 `json:"dna_rate"`
	StaffSickness      float64 `json:"staff_sickness"`
	HighRiskShare      float64 `json:"high_risk_share"`
	Incidents          int     `json:"incidents"`
	NeonatalAdmissions int     `json:"neonatal_admissions"`
}

type Incident struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"` // "low", "medium", "high"
	Description string `json:"description"`
}

// SystemState is the ambient pressure vector perturbed by random events.
type SystemState struct {
	Backlog          float64 `json:"backlog"`
	DNARate          float64 `json:"dna_rate"`
	StaffSickness    float64 `json:"staff_sickness"`
	StaffMorale      float64 `json:"staff_morale"`
	SafetyRisk       float64 `json:"safety_risk"`
	CapacityModifier float64 `json:"capacity_modifier"`
}

// DefaultSystemState is the cycle-1 starting point.
func DefaultSystemState() SystemState {
	return SystemState{
		Backlog:          35,
		DNARate:          8,
		StaffSickness:    12,
		StaffMorale:      72,
		SafetyRisk:       0,
		CapacityModifier: 1.0,
	}
}
