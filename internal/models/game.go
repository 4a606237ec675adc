package models

import (
	"time"
)

type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusInCycle GameStatus = "in_cycle"
	StatusResults GameStatus = "results"
	StatusEnded   GameStatus = "ended"
)

// TotalCycles is the fixed length of a game.
const TotalCycles = 6

// Game is one facilitated session
type Game struct {
	ID              string      `gorm:"primaryKey;size:64" json:"id"`
	Code            string      `gorm:"uniqueIndex;size:8" json:"game_code"`
	Status          GameStatus  `gorm:"size:16" json:"status"`
	NumberOfTeams   int         `json:"number_of_teams"`
	CurrentCycle    int         `json:"current_cycle"`
	ScenarioSeed    int64       `json:"scenario_seed"`
	FacilitatorName string      `gorm:"size:128" json:"facilitator_name,omitempty"`
	LeaderByCycle   []string    `gorm:"serializer:json;type:text" json:"leader_by_cycle"`
	SeenEvents      []string    `gorm:"serializer:json;type:text" json:"-"`
	SystemState     SystemState `gorm:"embedded;embeddedPrefix:state_" json:"system_state"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type RoleAssignments struct {
	DiabetesSpecialist string `json:"diabetes_specialist,omitempty"`
	ClinicalLead       string `json:"clinical_lead,omitempty"`
	WorkforceCapacity  string `json:"workforce_capacity,omitempty"`
	ServicePathway     string `json:"service_pathway,omitempty"`
}

// Team is a group of players inside a game
type Team struct {
	ID         string          `gorm:"primaryKey;size:64" json:"id"`
	GameID     string          `gorm:"index;size:64" json:"game_id"`
	Name       string          `gorm:"size:128" json:"name"`
	JoinOrder  int             `json:"join_order"`
	Roles      RoleAssignments `gorm:"serializer:json;type:text" json:"roles"`
	Cumulative ScoreBreakdown  `gorm:"embedded;embeddedPrefix:cum_" json:"cumulative_score"`
	JoinedAt   time.Time       `json:"joined_at"`
}

// DecisionSubmission is a team's choice for one cycle. A resubmission
// replaces the previous row for the same (team, cycle).
type DecisionSubmission struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	GameID      string    `gorm:"uniqueIndex:idx_submission_team_cycle;size:64" json:"game_id"`
	TeamID      string    `gorm:"uniqueIndex:idx_submission_team_cycle;size:64" json:"team_id"`
	Cycle       int       `gorm:"uniqueIndex:idx_submission_team_cycle" json:"cycle"`
	Decisions   []string  `gorm:"serializer:json;type:text" json:"decisions"`
	BudgetsUsed Budgets   `gorm:"embedded;embeddedPrefix:budget_" json:"budgets_used"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CycleResult is written once per (game, cycle, team).
type CycleResult struct {
	ID           string             `gorm:"primaryKey;size:64" json:"id"`
	GameID       string             `gorm:"uniqueIndex:idx_result_game_cycle_team;size:64" json:"game_id"`
	Cycle        int                `gorm:"uniqueIndex:idx_result_game_cycle_team" json:"cycle"`
	TeamID       string             `gorm:"uniqueIndex:idx_result_game_cycle_team;size:64" json:"team_id"`
	Scores       ScoreBreakdown     `gorm:"embedded;embeddedPrefix:score_" json:"scores"`
	Metrics      OperationalMetrics `gorm:"embedded;embeddedPrefix:metric_" json:"metrics"`
	Incidents    []Incident         `gorm:"serializer:json;type:text" json:"incidents"`
	CalculatedAt time.Time          `json:"calculated_at"`
}
