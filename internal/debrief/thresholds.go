package debrief

import (
	"fmt"
)

// Thresholds tune when triggers fire.
type Thresholds struct {
	LowSafety          float64
	HighSafety         float64
	IncidentCount      float64
	LowEquity          float64
	HighEquity         float64
	LowStaff           float64
	HighStaff          float64
	HighSickness       float64
	CriticalSickness   float64
	LowResilience      float64
	HighResilience     float64
	HighBacklog        float64
	LowBacklog         float64
	HighDNARate        float64
	HighRiskProportion float64
	HighNeonatal       float64
	PillarImbalance    float64
	DNAImprovement     float64
	BacklogJump        float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LowSafety:          55,
		HighSafety:         75,
		IncidentCount:      1,
		LowEquity:          55,
		HighEquity:         75,
		LowStaff:           55,
		HighStaff:          75,
		HighSickness:       15,
		CriticalSickness:   25,
		LowResilience:      55,
		HighResilience:     75,
		HighBacklog:        50,
		LowBacklog:         20,
		HighDNARate:        15,
		HighRiskProportion: 35,
		HighNeonatal:       5,
		PillarImbalance:    15,
		DNAImprovement:     2,
		BacklogJump:        10,
	}
}

func (t *Thresholds) fields() map[string]*float64 {
	return map[string]*float64{
		"low_safety":           &t.LowSafety,
		"high_safety":          &t.HighSafety,
		"incident_count":       &t.IncidentCount,
		"low_equity":           &t.LowEquity,
		"high_equity":          &t.HighEquity,
		"low_staff":            &t.LowStaff,
		"high_staff":           &t.HighStaff,
		"high_sickness":        &t.HighSickness,
		"critical_sickness":    &t.CriticalSickness,
		"low_resilience":       &t.LowResilience,
		"high_resilience":      &t.HighResilience,
		"high_backlog":         &t.HighBacklog,
		"low_backlog":          &t.LowBacklog,
		"high_dna_rate":        &t.HighDNARate,
		"high_risk_proportion": &t.HighRiskProportion,
		"high_neonatal":        &t.HighNeonatal,
		"pillar_imbalance":     &t.PillarImbalance,
		"dna_improvement":      &t.DNAImprovement,
		"backlog_jump":         &t.BacklogJump,
	}
}

// WithOverrides returns a copy with the named values replaced. Zero values
// are ignored; unknown names are an error.
func (t Thresholds) WithOverrides(overrides map[string]float64) (Thresholds, error) {
	out := t
	fields := out.fields()
	for name, v := range overrides {
		f, ok := fields[name]
		if !ok {
			return t, fmt.Errorf("unknown debrief threshold %q", name)
		}
		if v != 0 {
			*f = v
		}
	}
	return out, nil
}
