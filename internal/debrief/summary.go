package debrief

import (
	"fmt"
	"math"
	"strings"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/prompts"
)

const (
	maxSummaryLines    = 3
	pillarSwing        = 5.0
	backlogSwing       = 10.0
	dnaSwing           = 3.0
	sicknessSwing      = 5.0
	tradeoffSwing      = 5.0
	heavyTradeoffSwing = 8.0
	learningBacklog    = 30.0
)

var pillarLabels = map[models.Pillar]struct{ name, up, down string }{
	models.PillarSafety:     {"Safety", "improved", "declined"},
	models.PillarEquity:     {"Equity", "improved", "declined"},
	models.PillarStaff:      {"Staff wellbeing", "improved", "declined"},
	models.PillarResilience: {"System resilience", "increased", "decreased"},
}

// whatHappened describes the biggest movements of a team's cycle.
func (e *Engine) whatHappened(cur models.CycleResult, prev *models.CycleResult, chosen []content.Decision) []string {
	render := e.templates.MustRender
	var lines []string

	if prev != nil {
		for _, p := range models.Pillars {
			delta := cur.Scores.Pillar(p) - prev.Scores.Pillar(p)
			if math.Abs(delta) <= pillarSwing {
				continue
			}
			label := pillarLabels[p]
			dir := label.up
			if delta < 0 {
				dir = label.down
			}
			lines = append(lines, render(prompts.SummaryPillarMoved, map[string]string{
				"pillar":    label.name,
				"direction": dir,
				"delta":     fmt.Sprintf("%.0f", math.Abs(math.Round(delta))),
				"score":     fmt.Sprintf("%.0f", math.Round(cur.Scores.Pillar(p))),
			}))
		}
		if cur.Metrics.Backlog > prev.Metrics.Backlog+backlogSwing {
			lines = append(lines, render(prompts.SummaryBacklogJump, map[string]string{"backlog": fmt.Sprintf("%.0f", cur.Metrics.Backlog)}))
		}
		if cur.Metrics.DNARate > prev.Metrics.DNARate+dnaSwing {
			lines = append(lines, render(prompts.SummaryDNAJump, map[string]string{"dna_rate": fmt.Sprintf("%g", cur.Metrics.DNARate)}))
		}
		if cur.Metrics.StaffSickness > prev.Metrics.StaffSickness+sicknessSwing {
			lines = append(lines, render(prompts.SummarySicknessJump, map[string]string{"sickness": fmt.Sprintf("%g", cur.Metrics.StaffSickness)}))
		}
	}
	if n := len(cur.Incidents); n > 0 {
		lines = append(lines, render(prompts.SummaryIncidents, map[string]string{"count": fmt.Sprintf("%d", n)}))
	}

	var categories []string
	seen := map[content.Category]bool{}
	for _, d := range chosen {
		if !seen[d.Category] {
			seen[d.Category] = true
			categories = append(categories, strings.ReplaceAll(string(d.Category), "_", " "))
		}
	}
	if len(categories) > 0 {
		lines = append(lines, render(prompts.SummaryInvestments, map[string]string{"categories": strings.Join(categories, ", ")}))
	}

	if len(lines) > maxSummaryLines {
		lines = lines[:maxSummaryLines]
	}
	return lines
}

// notableTradeoffs spots cycles where one pillar was bought with another.
func (e *Engine) notableTradeoffs(cur models.CycleResult, prev *models.CycleResult, chosen []content.Decision) []string {
	if prev == nil {
		return []string{}
	}
	render := e.templates.MustRender
	lines := []string{}

	safety := cur.Scores.Safety - prev.Scores.Safety
	equity := cur.Scores.Equity - prev.Scores.Equity
	staff := cur.Scores.Staff - prev.Scores.Staff
	resilience := cur.Scores.Resilience - prev.Scores.Resilience

	switch {
	case safety > tradeoffSwing && equity < -tradeoffSwing:
		lines = append(lines, render(prompts.TradeoffSafetyOverEquity, nil))
	case equity > tradeoffSwing && safety < -tradeoffSwing:
		lines = append(lines, render(prompts.TradeoffEquityOverSafety, nil))
	}
	if staff < -heavyTradeoffSwing && cur.Metrics.Backlog < prev.Metrics.Backlog {
		lines = append(lines, render(prompts.TradeoffBacklogOverStaff, nil))
	}

	has := func(f content.Flag) bool {
		for _, d := range chosen {
			if d.HasFlag(f) {
				return true
			}
		}
		return false
	}
	if resilience < -heavyTradeoffSwing && has(content.FlagBankStaff) {
		lines = append(lines, render(prompts.TradeoffBankResilience, nil))
	}
	if has(content.FlagProtectedTime) && cur.Metrics.Backlog > learningBacklog {
		lines = append(lines, render(prompts.TradeoffLearningBacklog, nil))
	}
	if staff < -tradeoffSwing && hasDigitalRollout(chosen) {
		lines = append(lines, render(prompts.TradeoffRemoteStaff, nil))
	}
	return lines
}

// hasDigitalRollout reports a digital decision that costs staff score on
// introduction.
func hasDigitalRollout(chosen []content.Decision) bool {
	for _, d := range chosen {
		if d.Category != content.CategoryDigitalMonitoring {
			continue
		}
		for _, t := range d.Tradeoffs {
			if t.Target == models.PillarStaff && t.Delta < 0 {
				return true
			}
		}
	}
	return false
}
