package session

import (
	"errors"

	"safe-by-design/server/internal/engine"
	"safe-by-design/server/internal/interfaces"
)

var (
	ErrGameNotFound       = errors.New("game not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrGameFull           = errors.New("game is full")
	ErrGameStarted        = errors.New("game has already started")
	ErrGameEnded          = errors.New("game has ended")
	ErrNotInDecisionPhase = errors.New("game is not accepting decisions")
	ErrBudgetExceeded     = errors.New("decisions exceed the cycle budget")
	ErrUnknownDecision    = errors.New("unknown decision")
	ErrInvalidTeamCount   = errors.New("invalid number of teams")
	ErrInvalidTeamName    = errors.New("team name is required")
	ErrInvalidTransition  = errors.New("invalid game transition")
	ErrNotEnoughTeams     = errors.New("not enough teams have joined")
	ErrMissingSubmissions = errors.New("not every team has submitted")
	ErrCycleOutOfRange    = engine.ErrCycleOutOfRange
)

var validation = []error{
	ErrGameFull,
	ErrGameStarted,
	ErrGameEnded,
	ErrNotInDecisionPhase,
	ErrBudgetExceeded,
	ErrUnknownDecision,
	ErrInvalidTeamCount,
	ErrInvalidTeamName,
	ErrInvalidTransition,
	ErrNotEnoughTeams,
	ErrMissingSubmissions,
	ErrCycleOutOfRange,
}

// IsValidation reports a user-correctable error. No state was changed.
func IsValidation(err error) bool {
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrGameNotFound) || errors.Is(err, ErrTeamNotFound) || errors.Is(err, interfaces.ErrNotFound)
}
