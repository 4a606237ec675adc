package interfaces

import (
	"context"
	"errors"

	"safe-by-design/server/internal/models"
)

// ErrNotFound is returned by repositories when a lookup misses.
var ErrNotFound = errors.New("record not found")

// GameRepository persists games and their append-only cycle history.
type GameRepository interface {
	CreateGame(ctx context.Context, game *models.Game) error
	UpdateGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, id string) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)

	// AddTeam writes a new team together with the updated game row; either
	// both are stored or neither is.
	AddTeam(ctx context.Context, game *models.Game, team *models.Team) error
	// ListTeams returns the teams of a game in join order.
	ListTeams(ctx context.Context, gameID string) ([]models.Team, error)

	// SaveSubmission replaces any earlier submission for the same (team, cycle).
	SaveSubmission(ctx context.Context, sub *models.DecisionSubmission) error
	// ListSubmissions returns a game's submissions; cycle 0 means every cycle.
	ListSubmissions(ctx context.Context, gameID string, cycle int) ([]models.DecisionSubmission, error)
	SubmittedTeamIDs(ctx context.Context, gameID string, cycle int) ([]string, error)

	// SaveResolution writes one cycle's results together with the teams'
	// new cumulative scores and the game row.
	SaveResolution(ctx context.Context, game *models.Game, teams []models.Team, results []models.CycleResult) error
	// ListResults returns a game's results; cycle 0 means every cycle.
	ListResults(ctx context.Context, gameID string, cycle int) ([]models.CycleResult, error)

	Close() error
}
