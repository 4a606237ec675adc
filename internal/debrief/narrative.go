package debrief

import (
	"strings"

	"safe-by-design/server/internal/prompts"
)

const incidentNarrativeIntensity = 0.3

// narrative runs a fixed sequence of checks over the analyses and joins one
// sentence per check that holds.
func (e *Engine) narrative(analyses []TeamAnalysis, leaders []string) string {
	var parts []string
	render := e.templates.MustRender

	unique := map[string]bool{}
	for _, id := range leaders {
		unique[id] = true
	}
	switch {
	case len(unique) > 2:
		parts = append(parts, render(prompts.NarrativeLeadChanged, nil))
	case len(unique) == 1:
		for _, a := range analyses {
			if a.TeamID == leaders[0] {
				parts = append(parts, render(prompts.NarrativeLeadHeld, map[string]string{"team": a.TeamName}))
				break
			}
		}
	}

	teamsWith := func(match func(TriggerResult) bool) string {
		var names []string
		for _, a := range analyses {
			for _, t := range a.Triggers {
				if match(t) {
					names = append(names, a.TeamName)
					break
				}
			}
		}
		return strings.Join(names, " and ")
	}

	if names := teamsWith(func(t TriggerResult) bool {
		return t.Type == TriggerIncidentOccurred && t.Intensity > incidentNarrativeIntensity
	}); names != "" {
		parts = append(parts, render(prompts.NarrativeIncidents, map[string]string{"teams": names}))
	}
	if names := teamsWith(func(t TriggerResult) bool {
		return t.Type == TriggerHighSickness || t.Type == TriggerBurnoutRisk
	}); names != "" {
		parts = append(parts, render(prompts.NarrativeStaffing, map[string]string{"teams": names}))
	}
	if names := teamsWith(func(t TriggerResult) bool { return t.Type == TriggerComeback }); names != "" {
		parts = append(parts, render(prompts.NarrativeComebacks, map[string]string{"teams": names}))
	}
	balanced := teamsWith(func(t TriggerResult) bool { return t.Type == TriggerBalancedApproach })
	focused := teamsWith(func(t TriggerResult) bool { return t.Type == TriggerSingleFocus })
	if balanced != "" && focused != "" {
		parts = append(parts, render(prompts.NarrativeContrast, nil))
	}

	if len(parts) == 0 {
		return render(prompts.NarrativeFallback, nil)
	}
	return strings.Join(parts, " ")
}
