package debrief

import (
	"math"
	"testing"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
)

func result(cycle int, safety, equity, staff, resilience float64, m models.OperationalMetrics) models.CycleResult {
	s := models.ScoreBreakdown{Safety: safety, Equity: equity, Staff: staff, Resilience: resilience}
	s.Total = safety + equity + staff + resilience
	return models.CycleResult{Cycle: cycle, Scores: s, Metrics: m}
}

func calmMetrics() models.OperationalMetrics {
	return models.OperationalMetrics{Backlog: 30, DNARate: 10, StaffSickness: 5, HighRiskShare: 30, NeonatalAdmissions: 2}
}

func find(t *testing.T, triggers []TriggerResult, typ TriggerType) TriggerResult {
	t.Helper()
	for _, tr := range triggers {
		if tr.Type == typ {
			return tr
		}
	}
	t.Fatalf("trigger %s not emitted", typ)
	return TriggerResult{}
}

func library(t *testing.T) *content.Library {
	t.Helper()
	lib, err := content.Load()
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	return lib
}

func TestNoResultsFiresOnlyFirstCycle(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	team := TeamContext{TeamID: "t1", TeamName: "Alpha", CurrentCycle: 1}
	got := d.Detect(team, GameContext{CurrentCycle: 1, Teams: []TeamContext{team}})

	fired := Fired(got)
	if len(fired) != 1 || fired[0].Type != TriggerFirstCycle {
		t.Fatalf("want only first_cycle fired, got %+v", fired)
	}
	if fired[0].Intensity != 1 {
		t.Fatalf("intensity: want=1 got=%v", fired[0].Intensity)
	}
	if len(got) != 1 {
		t.Fatalf("want a single trigger entry, got %d", len(got))
	}
}

func TestFirstCycleLapsesAfterCycleTwo(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	got := d.Detect(TeamContext{CurrentCycle: 2}, GameContext{})
	if ft := find(t, got, TriggerFirstCycle); !ft.Fired || ft.Intensity != 0.5 {
		t.Fatalf("cycle 2: %+v", ft)
	}
	got = d.Detect(TeamContext{CurrentCycle: 3}, GameContext{})
	if len(Fired(got)) != 0 {
		t.Fatalf("cycle 3 with no results should fire nothing, got %+v", Fired(got))
	}
}

func TestPillarFocusAndNeglect(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	team := TeamContext{
		TeamID:       "t1",
		CurrentCycle: 2,
		Results:      []models.CycleResult{result(2, 80, 40, 70, 50, calmMetrics())},
	}
	got := d.Detect(team, GameContext{CurrentCycle: 2})

	sf := find(t, got, TriggerSafetyFocus)
	if !sf.Fired || math.Abs(sf.Intensity-0.5) > 1e-9 {
		t.Fatalf("safety_focus: %+v", sf)
	}
	en := find(t, got, TriggerEquityNeglect)
	if !en.Fired || math.Abs(en.Intensity-0.5) > 1e-9 {
		t.Fatalf("equity_neglect: %+v", en)
	}
	if find(t, got, TriggerStaffWellbeingFocus).Fired {
		t.Fatalf("staff_wellbeing_focus should not fire at 70")
	}
	if fr := find(t, got, TriggerSystemFragile); !fr.Fired || fr.Intensity != 0.5 {
		t.Fatalf("system_fragile: %+v", fr)
	}
	for _, tr := range got {
		if tr.Intensity < 0 || tr.Intensity > 1 {
			t.Fatalf("%s intensity out of range: %v", tr.Type, tr.Intensity)
		}
	}
}

func TestDecisionPatternsUseCatalogFlags(t *testing.T) {
	lib := library(t)
	d := NewDetector(DefaultThresholds())
	team := TeamContext{
		TeamID:       "t1",
		CurrentCycle: 3,
		Results: []models.CycleResult{
			result(1, 70, 70, 70, 70, calmMetrics()),
			result(2, 70, 70, 70, 70, calmMetrics()),
			result(3, 70, 50, 70, 70, calmMetrics()),
		},
		Decisions: []DecisionHistory{
			{Cycle: 1, Decisions: lib.Resolve([]string{"incident_review", "sms_reminders"})},
			{Cycle: 2, Decisions: lib.Resolve([]string{"escalation_audits"})},
			{Cycle: 3, Decisions: lib.Resolve([]string{"tighten_triage", "bank_agency"})},
		},
	}
	got := d.Detect(team, GameContext{CurrentCycle: 3})

	esc := find(t, got, TriggerEscalationImproved)
	if !esc.Fired || math.Abs(esc.Intensity-2.0/3) > 1e-9 || len(esc.Cycles) != 2 {
		t.Fatalf("escalation_improved: %+v", esc)
	}
	if gov := find(t, got, TriggerGovernanceImproved); gov.Fired {
		t.Fatalf("review and audit decisions are not governance: %+v", gov)
	}
	if tr := find(t, got, TriggerTriageTightened); !tr.Fired || tr.Intensity != 0.5 {
		t.Fatalf("triage_tightened: %+v", tr)
	}
	if bank := find(t, got, TriggerBankStaffUsed); !bank.Fired {
		t.Fatalf("bank_staff_used should fire")
	}
	if find(t, got, TriggerInterpreterUsed).Fired {
		t.Fatalf("interpreter_used should not fire")
	}
	if v := find(t, got, TriggerVulnerableGroupImpact); !v.Fired {
		t.Fatalf("vulnerable_group_impact should fire with triage and equity 50: %+v", v)
	}
}

func TestDecisionPatternTriggersPerCatalogDecision(t *testing.T) {
	patterns := []TriggerType{
		TriggerEscalationImproved, TriggerTriageTightened, TriggerInterpreterUsed,
		TriggerTrainingInvested, TriggerBankStaffUsed, TriggerGovernanceImproved,
	}
	cases := map[string][]TriggerType{
		"expand_diabetes_clinic":        nil,
		"group_education":               nil,
		"sms_reminders":                 nil,
		"interpreter_service":           {TriggerInterpreterUsed},
		"community_outreach":            nil,
		"tighten_triage":                {TriggerTriageTightened},
		"escalation_audits":             {TriggerEscalationImproved},
		"standardise_guidelines":        {TriggerGovernanceImproved},
		"incident_review":               {TriggerEscalationImproved},
		"senior_review_rota":            {TriggerEscalationImproved},
		"remote_monitoring":             nil,
		"continuous_glucose_monitoring": nil,
		"shared_care_record":            nil,
		"bank_agency":                   {TriggerBankStaffUsed},
		"wellbeing_support":             {TriggerTrainingInvested},
		"protected_learning":            {TriggerTrainingInvested},
		"simulation_training":           {TriggerTrainingInvested},
	}

	lib := library(t)
	if len(lib.Decisions()) != len(cases) {
		t.Fatalf("catalog has %d decisions, table covers %d", len(lib.Decisions()), len(cases))
	}
	d := NewDetector(DefaultThresholds())
	for _, dec := range lib.Decisions() {
		want, ok := cases[dec.ID]
		if !ok {
			t.Fatalf("no expectation for decision %s", dec.ID)
		}
		t.Run(dec.ID, func(t *testing.T) {
			team := TeamContext{
				TeamID:       "t1",
				CurrentCycle: 1,
				Results:      []models.CycleResult{result(1, 70, 70, 70, 70, calmMetrics())},
				Decisions:    []DecisionHistory{{Cycle: 1, Decisions: []content.Decision{dec}}},
			}
			got := d.Detect(team, GameContext{CurrentCycle: 1})
			for _, typ := range patterns {
				expected := false
				for _, w := range want {
					if w == typ {
						expected = true
					}
				}
				if fired := find(t, got, typ).Fired; fired != expected {
					t.Fatalf("%s: want fired=%v got=%v", typ, expected, fired)
				}
			}
		})
	}
}

func TestIncidentTriggersAggregateHistory(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	r1 := result(3, 70, 70, 70, 70, models.OperationalMetrics{Incidents: 1})
	r1.Incidents = []models.Incident{{Type: "handover_failure", Severity: "high"}}
	r2 := result(4, 70, 70, 70, 70, models.OperationalMetrics{Incidents: 2})
	r2.Incidents = []models.Incident{{Type: "documentation_gap", Severity: "medium"}}

	got := d.Detect(TeamContext{CurrentCycle: 4, Results: []models.CycleResult{r1, r2}}, GameContext{})

	inc := find(t, got, TriggerIncidentOccurred)
	if !inc.Fired || inc.Intensity != 1 || len(inc.Cycles) != 2 {
		t.Fatalf("incident_occurred: %+v", inc)
	}
	if nm := find(t, got, TriggerNearMiss); !nm.Fired || nm.Cycles[0] != 4 {
		t.Fatalf("near_miss: %+v", nm)
	}
	if wp := find(t, got, TriggerWorkloadPressure); !wp.Fired || wp.Cycles[0] != 3 {
		t.Fatalf("workload_pressure: %+v", wp)
	}
	if dg := find(t, got, TriggerDocumentationGap); !dg.Fired {
		t.Fatalf("documentation_gap should fire")
	}
	if find(t, got, TriggerAccessBarrier).Fired {
		t.Fatalf("access_barrier should not fire")
	}
}

func TestMetricTriggers(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	prev := result(3, 70, 70, 70, 70, models.OperationalMetrics{Backlog: 40, DNARate: 20, StaffSickness: 10})
	cur := result(4, 70, 70, 70, 70, models.OperationalMetrics{
		Backlog: 60, DNARate: 16, StaffSickness: 28, HighRiskShare: 50, NeonatalAdmissions: 6,
	})
	got := d.Detect(TeamContext{CurrentCycle: 4, Results: []models.CycleResult{prev, cur}}, GameContext{})

	for _, typ := range []TriggerType{
		TriggerBacklogGrowing, TriggerDNARateHigh, TriggerHighRiskProportion, TriggerNeonatalHigh,
		TriggerHighSickness, TriggerBurnoutRisk, TriggerCapacityStrain, TriggerDNARateImproved,
	} {
		if !find(t, got, typ).Fired {
			t.Fatalf("%s should fire", typ)
		}
	}
	if find(t, got, TriggerBacklogReduced).Fired {
		t.Fatalf("backlog_reduced should not fire at 60")
	}
	if hs := find(t, got, TriggerHighSickness); math.Abs(hs.Intensity-0.7) > 1e-9 {
		t.Fatalf("high_sickness intensity: want=0.7 got=%v", hs.Intensity)
	}
}

func TestBalanceAndFocus(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	balanced := d.Detect(TeamContext{CurrentCycle: 2, Results: []models.CycleResult{result(2, 70, 65, 72, 68, calmMetrics())}}, GameContext{})
	if !find(t, balanced, TriggerBalancedApproach).Fired || find(t, balanced, TriggerSingleFocus).Fired {
		t.Fatalf("expected balanced only")
	}
	focused := d.Detect(TeamContext{CurrentCycle: 2, Results: []models.CycleResult{result(2, 90, 60, 70, 65, calmMetrics())}}, GameContext{})
	if find(t, focused, TriggerBalancedApproach).Fired || !find(t, focused, TriggerSingleFocus).Fired {
		t.Fatalf("expected single focus only")
	}
}

func TestComebackAndEarlyLeadLost(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	results := []models.CycleResult{
		result(1, 75, 75, 75, 75, calmMetrics()),
		result(2, 50, 50, 50, 50, calmMetrics()),
		result(3, 75, 75, 75, 75, calmMetrics()),
	}
	game := GameContext{CurrentCycle: 3, LeaderByCycle: []string{"b", "b", "a"}}

	a := d.Detect(TeamContext{TeamID: "a", CurrentCycle: 3, Results: results}, game)
	if !find(t, a, TriggerComeback).Fired || !find(t, a, TriggerLeadingTeam).Fired {
		t.Fatalf("team a should have come back to lead")
	}
	if find(t, a, TriggerEarlyLeadLost).Fired {
		t.Fatalf("team a never led early")
	}

	b := d.Detect(TeamContext{TeamID: "b", CurrentCycle: 3, Results: results}, game)
	if lost := find(t, b, TriggerEarlyLeadLost); !lost.Fired || lost.Intensity != 0.9 {
		t.Fatalf("team b lost its early lead: %+v", lost)
	}

	short := d.Detect(TeamContext{TeamID: "a", CurrentCycle: 2, Results: results[:2]}, game)
	for _, tr := range short {
		if tr.Type == TriggerComeback || tr.Type == TriggerEarlyLeadLost {
			t.Fatalf("%s evaluated with fewer than 3 results", tr.Type)
		}
	}
}

func TestWasBottomIsSelfRelative(t *testing.T) {
	steady := []models.CycleResult{result(1, 60, 60, 60, 60, calmMetrics()), result(2, 58, 58, 58, 58, calmMetrics())}
	if wasBottom(steady) {
		t.Fatalf("steady team should not count as bottom")
	}
	dip := []models.CycleResult{
		result(1, 80, 80, 80, 80, calmMetrics()),
		result(2, 40, 40, 40, 40, calmMetrics()),
		result(3, 80, 80, 80, 80, calmMetrics()),
	}
	if !wasBottom(dip) {
		t.Fatalf("dip below 80%% of own average should count")
	}
}

func TestStrugglingTeam(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	results := []models.CycleResult{result(1, 60, 60, 60, 60, calmMetrics()), result(2, 60, 60, 60, 60, calmMetrics())}
	low := TeamContext{TeamID: "low", CurrentCycle: 2, Results: results, Cumulative: models.ScoreBreakdown{Total: 480}}
	high := TeamContext{TeamID: "high", CurrentCycle: 2, Results: results, Cumulative: models.ScoreBreakdown{Total: 560}}
	game := GameContext{CurrentCycle: 2, Teams: []TeamContext{low, high}}

	if !find(t, d.Detect(low, game), TriggerStrugglingTeam).Fired {
		t.Fatalf("lowest team should be struggling")
	}
	if find(t, d.Detect(high, game), TriggerStrugglingTeam).Fired {
		t.Fatalf("leading team should not be struggling")
	}
}

func TestThresholdOverrides(t *testing.T) {
	th, err := DefaultThresholds().WithOverrides(map[string]float64{"low_safety": 60, "high_safety": 0})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if th.LowSafety != 60 || th.HighSafety != 75 {
		t.Fatalf("want low=60 high=75 got low=%v high=%v", th.LowSafety, th.HighSafety)
	}
	if _, err := DefaultThresholds().WithOverrides(map[string]float64{"nope": 1}); err == nil {
		t.Fatalf("expected error for unknown threshold")
	}

	d := NewDetector(th)
	got := d.Detect(TeamContext{CurrentCycle: 2, Results: []models.CycleResult{result(2, 58, 70, 70, 70, calmMetrics())}}, GameContext{})
	if !find(t, got, TriggerSafetyNeglect).Fired {
		t.Fatalf("raised threshold should make 58 a neglect")
	}
}
