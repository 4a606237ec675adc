package debrief

import (
	"strings"
	"testing"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/prompts"
)

var allTriggerTypes = []TriggerType{
	TriggerFirstCycle, TriggerSafetyFocus, TriggerSafetyNeglect, TriggerIncidentOccurred, TriggerNearMiss,
	TriggerEscalationImproved, TriggerDocumentationGap, TriggerEquityFocus, TriggerEquityNeglect,
	TriggerAccessBarrier, TriggerInterpreterUsed, TriggerTriageTightened, TriggerVulnerableGroupImpact,
	TriggerStaffWellbeingFocus, TriggerStaffNeglect, TriggerHighSickness, TriggerBurnoutRisk,
	TriggerTrainingInvested, TriggerWorkloadPressure, TriggerResilienceFocus, TriggerResilienceNeglect,
	TriggerGovernanceImproved, TriggerCapacityStrain, TriggerBankStaffUsed, TriggerSystemFragile,
	TriggerBacklogGrowing, TriggerBacklogReduced, TriggerDNARateHigh, TriggerDNARateImproved,
	TriggerHighRiskProportion, TriggerNeonatalHigh, TriggerLeadingTeam, TriggerStrugglingTeam,
	TriggerComeback, TriggerEarlyLeadLost, TriggerBalancedApproach, TriggerSingleFocus,
}

func everyTrigger() []TriggerResult {
	out := make([]TriggerResult, 0, len(allTriggerTypes))
	for _, typ := range allTriggerTypes {
		out = append(out, TriggerResult{Type: typ, Fired: true, Intensity: 1})
	}
	return out
}

func TestThemeDiversity(t *testing.T) {
	questions := library(t).Questions()
	fired := everyTrigger()
	counts := aggregate([][]TriggerResult{fired, fired, fired})

	for cycle := 1; cycle <= models.TotalCycles; cycle++ {
		for _, end := range []bool{false, true} {
			team := selectForTeam(questions, fired, cycle, end)
			if len(team) > QuestionsPerTeam {
				t.Fatalf("cycle=%d end=%v: %d team questions", cycle, end, len(team))
			}
			perTheme := map[string]int{}
			for _, q := range team {
				perTheme[q.Theme]++
				if perTheme[q.Theme] > 2 {
					t.Fatalf("cycle=%d end=%v: theme %s used %d times", cycle, end, q.Theme, perTheme[q.Theme])
				}
				if q.Scope != content.ScopeTeam {
					t.Fatalf("room question %s selected for a team", q.ID)
				}
			}

			all := selectForAll(questions, counts, cycle, end)
			if len(all) > AllTeamsQuestions {
				t.Fatalf("cycle=%d end=%v: %d room questions", cycle, end, len(all))
			}
			used := map[string]bool{}
			for _, q := range all {
				if used[q.Theme] {
					t.Fatalf("cycle=%d end=%v: duplicate room theme %s", cycle, end, q.Theme)
				}
				used[q.Theme] = true
			}
		}
	}
}

func TestMaxCycleWaivedAtEnd(t *testing.T) {
	bank := []content.Question{
		{ID: "late", Text: "x", Theme: "strategy", Priority: 5, Scope: content.ScopeAll, MaxCycle: 3},
		{ID: "team-late", Text: "y", Theme: "strategy", Priority: 5, Scope: content.ScopeTeam, MaxCycle: 3},
	}

	if got := selectForAll(bank, nil, 5, false); len(got) != 0 {
		t.Fatalf("cycle mode at 5 selected %v", got)
	}
	if got := selectForTeam(bank, nil, 5, false); len(got) != 0 {
		t.Fatalf("team cycle mode at 5 selected %v", got)
	}
	if got := selectForAll(bank, nil, 6, true); len(got) != 1 || got[0].ID != "late" {
		t.Fatalf("end of game should waive max_cycle, got %v", got)
	}
}

func TestMinCycleAlwaysApplies(t *testing.T) {
	bank := []content.Question{{ID: "mid", Theme: "lessons", Priority: 3, Scope: content.ScopeAll, MinCycle: 3}}
	if got := selectForAll(bank, nil, 2, true); len(got) != 0 {
		t.Fatalf("min_cycle ignored: %v", got)
	}
}

func TestTeamScoring(t *testing.T) {
	bank := []content.Question{
		{ID: "generic", Theme: "lessons", Priority: 5, Scope: content.ScopeTeam},
		{ID: "safety", Theme: "safety_culture", Priority: 4, Scope: content.ScopeTeam, Triggers: []string{"safety_neglect"}},
		{ID: "early", Theme: "strategy", Priority: 1, Scope: content.ScopeTeam, Triggers: []string{"first_cycle"}},
		{ID: "unmatched", Theme: "resilience", Priority: 5, Scope: content.ScopeTeam, Triggers: []string{"comeback"}},
	}
	fired := []TriggerResult{{Type: TriggerSafetyNeglect, Fired: true, Intensity: 0.5}}

	// safety 4*0.5=2, early 0+2 bonus=2, generic 5*0.3=1.5; unmatched scores 0
	got := selectForTeam(bank, fired, 1, false)
	ids := make([]string, 0, len(got))
	for _, q := range got {
		ids = append(ids, q.ID)
	}
	if strings.Join(ids, ",") != "safety,early,generic" {
		t.Fatalf("order: got %v", ids)
	}

	got = selectForTeam(bank, fired, 4, false)
	for _, q := range got {
		if q.ID == "early" || q.ID == "unmatched" {
			t.Fatalf("%s should score zero at cycle 4", q.ID)
		}
	}
}

func TestRoomScoringFavoursSharedTriggers(t *testing.T) {
	bank := []content.Question{
		{ID: "shared", Theme: "staff_wellbeing", Priority: 2, Scope: content.ScopeAll, Triggers: []string{"burnout_risk"}},
		{ID: "plain", Theme: "lessons", Priority: 3, Scope: content.ScopeAll},
		{ID: "single", Theme: "safety_culture", Priority: 4, Scope: content.ScopeAll, Triggers: []string{"safety_neglect"}},
	}
	counts := map[TriggerType]float64{TriggerBurnoutRisk: 2.5, TriggerSafetyNeglect: 1}

	// shared 2+5=7, plain 3+2=5, single 4
	got := selectForAll(bank, counts, 4, false)
	if len(got) != 2 || got[0].ID != "shared" || got[1].ID != "plain" {
		t.Fatalf("got %v", got)
	}
}

func TestNarrative(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds(), prompts.NewTemplateEngine())

	alpha := TeamAnalysis{TeamID: "a", TeamName: "Alpha", Triggers: []TriggerResult{
		{Type: TriggerIncidentOccurred, Intensity: 0.67},
		{Type: TriggerBalancedApproach, Intensity: 0.6},
	}}
	beta := TeamAnalysis{TeamID: "b", TeamName: "Beta", Triggers: []TriggerResult{
		{Type: TriggerIncidentOccurred, Intensity: 0.34},
		{Type: TriggerBurnoutRisk, Intensity: 0.7},
		{Type: TriggerSingleFocus, Intensity: 1},
	}}

	got := e.narrative([]TeamAnalysis{alpha, beta}, []string{"a", "a", "a"})
	want := "Alpha maintained the lead throughout. " +
		"Alpha and Beta experienced significant safety incidents. " +
		"Beta faced significant staffing challenges. " +
		"Teams took contrasting approaches - some balanced, others focused on specific pillars."
	if got != want {
		t.Fatalf("narrative:\nwant=%q\ngot= %q", want, got)
	}

	churn := e.narrative([]TeamAnalysis{alpha, beta}, []string{"a", "b", "c"})
	if !strings.HasPrefix(churn, "Lead changed hands multiple times throughout the game.") {
		t.Fatalf("churn narrative: %q", churn)
	}

	if got := e.narrative(nil, nil); got != "A competitive game with varied strategies across teams." {
		t.Fatalf("fallback: %q", got)
	}
}
