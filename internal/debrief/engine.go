package debrief

import (
	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/prompts"
)

const (
	endObservations   = 4
	cycleObservations = 3
)

type TeamAnalysis struct {
	TeamID             string             `json:"team_id"`
	TeamName           string             `json:"team_name"`
	Triggers           []TriggerResult    `json:"triggers"`
	KeyObservations    []string           `json:"key_observations"`
	SuggestedQuestions []content.Question `json:"suggested_questions"`
}

type FacilitatorPrompts struct {
	GameNarrative string             `json:"game_narrative"`
	AllTeams      []content.Question `json:"all_teams"`
	PerTeam       []TeamAnalysis     `json:"per_team"`
}

type TeamCyclePrompts struct {
	TeamID             string             `json:"team_id"`
	TeamName           string             `json:"team_name"`
	KeyObservations    []string           `json:"key_observations"`
	SuggestedQuestions []content.Question `json:"suggested_questions"`
	WhatHappened       []string           `json:"what_happened"`
	NotableTradeoffs   []string           `json:"notable_tradeoffs"`
}

type CyclePrompts struct {
	Cycle    int                `json:"cycle"`
	PerTeam  []TeamCyclePrompts `json:"per_team"`
	AllTeams []content.Question `json:"all_teams"`
}

// Engine picks facilitator prompts from a question bank.
type Engine struct {
	questions []content.Question
	detector  *Detector
	templates *prompts.TemplateEngine
}

func NewEngine(questions []content.Question, th Thresholds, templates *prompts.TemplateEngine) *Engine {
	if templates == nil {
		templates = prompts.NewTemplateEngine()
	}
	return &Engine{
		questions: questions,
		detector:  NewDetector(th),
		templates: templates,
	}
}

// Triggers runs detection for one team.
func (e *Engine) Triggers(team TeamContext, game GameContext) []TriggerResult {
	return e.detector.Detect(team, game)
}

// EndOfGame builds the full debrief: per-team analyses, room questions and a
// narrative. max_cycle windows are waived only once the last cycle has been
// reached; a game ended early keeps them.
func (e *Engine) EndOfGame(game GameContext) FacilitatorPrompts {
	cycle := game.CurrentCycle
	final := cycle >= models.TotalCycles
	analyses := make([]TeamAnalysis, 0, len(game.Teams))
	fired := make([][]TriggerResult, 0, len(game.Teams))

	for _, team := range game.Teams {
		f := Fired(e.detector.Detect(team, game))
		fired = append(fired, f)
		analyses = append(analyses, TeamAnalysis{
			TeamID:             team.TeamID,
			TeamName:           team.TeamName,
			Triggers:           f,
			KeyObservations:    observations(f, endObservations),
			SuggestedQuestions: selectForTeam(e.questions, f, cycle, final),
		})
	}

	return FacilitatorPrompts{
		GameNarrative: e.narrative(analyses, game.LeaderByCycle),
		AllTeams:      selectForAll(e.questions, aggregate(fired), cycle, final),
		PerTeam:       analyses,
	}
}

// ForCycle builds the lighter mid-game prompts, limited to triggers that
// concern the current cycle.
func (e *Engine) ForCycle(game GameContext) CyclePrompts {
	cycle := game.CurrentCycle
	perTeam := make([]TeamCyclePrompts, 0, len(game.Teams))
	recent := make([][]TriggerResult, 0, len(game.Teams))

	for _, team := range game.Teams {
		var r []TriggerResult
		for _, t := range Fired(e.detector.Detect(team, game)) {
			if t.appliesTo(cycle) {
				r = append(r, t)
			}
		}
		recent = append(recent, r)

		questions := selectForTeam(e.questions, r, cycle, false)
		if len(questions) > CycleQuestionsPerTeam {
			questions = questions[:CycleQuestionsPerTeam]
		}

		tp := TeamCyclePrompts{
			TeamID:             team.TeamID,
			TeamName:           team.TeamName,
			KeyObservations:    observations(r, cycleObservations),
			SuggestedQuestions: questions,
			WhatHappened:       []string{},
			NotableTradeoffs:   []string{},
		}
		if cur, prev, ok := cycleResults(team.Results, cycle); ok {
			chosen := chosenIn(team.Decisions, cycle)
			tp.WhatHappened = e.whatHappened(cur, prev, chosen)
			tp.NotableTradeoffs = e.notableTradeoffs(cur, prev, chosen)
		}
		perTeam = append(perTeam, tp)
	}

	return CyclePrompts{
		Cycle:    cycle,
		PerTeam:  perTeam,
		AllTeams: selectForAll(e.questions, aggregate(recent), cycle, false),
	}
}

func cycleResults(results []models.CycleResult, cycle int) (models.CycleResult, *models.CycleResult, bool) {
	var cur *models.CycleResult
	var prev *models.CycleResult
	for i := range results {
		switch results[i].Cycle {
		case cycle:
			cur = &results[i]
		case cycle - 1:
			prev = &results[i]
		}
	}
	if cur == nil {
		return models.CycleResult{}, nil, false
	}
	return *cur, prev, true
}

func chosenIn(history []DecisionHistory, cycle int) []content.Decision {
	for _, h := range history {
		if h.Cycle == cycle {
			return h.Decisions
		}
	}
	return nil
}
