package session

import (
	"time"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/models"
)

// Outbound event names.
const (
	EventGameUpdated        = "game_updated"
	EventTeamJoined         = "team_joined"
	EventAllTeamsReady      = "all_teams_ready"
	EventCycleStarted       = "cycle_started"
	EventTeamSubmitted      = "team_submitted"
	EventSubmissionsClosed  = "submissions_closed"
	EventResultsReady       = "results_ready"
	EventDebriefPrompts     = "debrief_prompts"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventCycleAdvanced      = "cycle_advanced"
	EventGameEnded          = "game_ended"
	EventError              = "error"
)

type TeamJoined struct {
	Team   models.Team `json:"team"`
	Joined int         `json:"joined"`
	Total  int         `json:"total"`
}

type CycleStarted struct {
	Cycle       int                 `json:"cycle"`
	Brief       *content.CycleBrief `json:"brief"`
	Events      []content.Event     `json:"events"`
	SystemState models.SystemState  `json:"system_state"`
}

type TeamSubmitted struct {
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	Cycle     int    `json:"cycle"`
	Submitted int    `json:"submitted"`
	Total     int    `json:"total"`
}

type SubmissionsClosed struct {
	Cycle int `json:"cycle"`
	// Defaulted lists teams that received an empty submission.
	Defaulted []string `json:"defaulted"`
}

type ResultsReady struct {
	Cycle   int                  `json:"cycle"`
	Results []models.CycleResult `json:"results"`
}

type LeaderboardUpdated struct {
	Cycle       int                `json:"cycle"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type CycleAdvanced struct {
	Cycle int `json:"cycle"`
}

type GameEnded struct {
	Summary Summary                     `json:"summary"`
	Prompts *debrief.FacilitatorPrompts `json:"prompts,omitempty"`
}

func (s State) event(name string, audience interfaces.Audience, payload interface{}, now time.Time) interfaces.OutboundEvent {
	return interfaces.OutboundEvent{
		GameID:   s.Game.ID,
		Name:     name,
		Audience: audience,
		Payload:  payload,
		At:       now,
	}
}
