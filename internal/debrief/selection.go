package debrief

import (
	"sort"

	"safe-by-design/server/internal/content"
)

const (
	QuestionsPerTeam      = 3
	AllTeamsQuestions     = 2
	CycleQuestionsPerTeam = 2
	maxPerThemePerTeam    = 2
	untriggeredWeight     = 0.3
	earlyTeamBonus        = 2.0
	earlyAllBonus         = 3.0
	alwaysRelevantBonus   = 2.0
	sharedTriggerFloor    = 2.0
	sharedTriggerWeight   = 2.0
	earlyCycleLimit       = 2
)

type scoredQuestion struct {
	question content.Question
	score    float64
}

// eligible applies min_cycle always and max_cycle only mid-game.
func eligible(questions []content.Question, cycle int, endOfGame bool) []content.Question {
	out := make([]content.Question, 0, len(questions))
	for _, q := range questions {
		if q.MinCycle != 0 && cycle < q.MinCycle {
			continue
		}
		if !endOfGame && q.MaxCycle != 0 && cycle > q.MaxCycle {
			continue
		}
		out = append(out, q)
	}
	return out
}

// selectForTeam ranks team questions by priority times trigger intensity and
// keeps at most two per theme.
func selectForTeam(questions []content.Question, fired []TriggerResult, cycle int, endOfGame bool) []content.Question {
	var scored []scoredQuestion
	for _, q := range eligible(questions, cycle, endOfGame) {
		if q.Scope != content.ScopeTeam {
			continue
		}
		score := 0.0
		for _, t := range fired {
			if q.Lists(string(t.Type)) {
				score += float64(q.Priority) * t.Intensity
			}
		}
		if len(q.Triggers) == 0 && score == 0 {
			score = float64(q.Priority) * untriggeredWeight
		}
		if cycle <= earlyCycleLimit && q.Lists(string(TriggerFirstCycle)) {
			score += earlyTeamBonus
		}
		if score > 0 {
			scored = append(scored, scoredQuestion{question: q, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	selected := []content.Question{}
	perTheme := map[string]int{}
	for _, sq := range scored {
		if len(selected) >= QuestionsPerTeam {
			break
		}
		if perTheme[sq.question.Theme] >= maxPerThemePerTeam {
			continue
		}
		selected = append(selected, sq.question)
		perTheme[sq.question.Theme]++
	}
	return selected
}

// aggregate sums intensities per trigger type across teams.
func aggregate(perTeam [][]TriggerResult) map[TriggerType]float64 {
	out := map[TriggerType]float64{}
	for _, triggers := range perTeam {
		for _, t := range triggers {
			out[t.Type] += t.Intensity
		}
	}
	return out
}

// selectForAll ranks room-wide questions and never repeats a theme.
func selectForAll(questions []content.Question, counts map[TriggerType]float64, cycle int, endOfGame bool) []content.Question {
	var scored []scoredQuestion
	for _, q := range eligible(questions, cycle, endOfGame) {
		if q.Scope != content.ScopeAll {
			continue
		}
		score := float64(q.Priority)
		for _, t := range q.Triggers {
			if c := counts[TriggerType(t)]; c >= sharedTriggerFloor {
				score += c * sharedTriggerWeight
			}
		}
		if len(q.Triggers) == 0 {
			score += alwaysRelevantBonus
		}
		if cycle <= earlyCycleLimit && q.Lists(string(TriggerFirstCycle)) {
			score += earlyAllBonus
		}
		scored = append(scored, scoredQuestion{question: q, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	selected := []content.Question{}
	used := map[string]bool{}
	for _, sq := range scored {
		if len(selected) >= AllTeamsQuestions {
			break
		}
		if used[sq.question.Theme] {
			continue
		}
		selected = append(selected, sq.question)
		used[sq.question.Theme] = true
	}
	return selected
}

// observations returns the contexts of the strongest triggers.
func observations(fired []TriggerResult, limit int) []string {
	sorted := make([]TriggerResult, len(fired))
	copy(sorted, fired)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Intensity > sorted[j].Intensity })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]string, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, t.Context)
	}
	return out
}
