package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/engine"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/models"
)

type transition struct {
	state  State
	events []interfaces.OutboundEvent
}

// NewGame builds the lobby state for a fresh game.
func NewGame(rules Rules, numberOfTeams int, facilitator, code string, seed int64, now time.Time) (State, error) {
	if numberOfTeams < rules.MinTeams || numberOfTeams > rules.MaxTeams {
		return State{}, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidTeamCount, numberOfTeams, rules.MinTeams, rules.MaxTeams)
	}
	return NewState(models.Game{
		ID:              uuid.NewString(),
		Code:            code,
		Status:          models.StatusLobby,
		NumberOfTeams:   numberOfTeams,
		CurrentCycle:    1,
		ScenarioSeed:    seed,
		FacilitatorName: strings.TrimSpace(facilitator),
		LeaderByCycle:   []string{},
		SeenEvents:      []string{},
		SystemState:     models.DefaultSystemState(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}), nil
}

// AddTeam joins a team to a game still in its lobby.
func AddTeam(s State, name string, roles models.RoleAssignments, now time.Time) (State, models.Team, []interfaces.OutboundEvent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s, models.Team{}, nil, ErrInvalidTeamName
	}
	if s.Game.Status != models.StatusLobby {
		return s, models.Team{}, nil, ErrGameStarted
	}
	if len(s.Teams) >= s.Game.NumberOfTeams {
		return s, models.Team{}, nil, ErrGameFull
	}

	t := transition{state: s.Clone()}
	team := models.Team{
		ID:        uuid.NewString(),
		GameID:    s.Game.ID,
		Name:      name,
		JoinOrder: len(s.Teams),
		Roles:     roles,
		JoinedAt:  now,
	}
	t.state.Teams = append(t.state.Teams, team)
	t.state.Game.UpdatedAt = now

	joined := len(t.state.Teams)
	t.emit(EventTeamJoined, interfaces.AudienceGame, TeamJoined{Team: team, Joined: joined, Total: s.Game.NumberOfTeams}, now)
	t.emit(EventGameUpdated, interfaces.AudienceGame, t.state.Game, now)
	if joined == s.Game.NumberOfTeams {
		t.emit(EventAllTeamsReady, interfaces.AudienceGame, t.state.Game, now)
	}
	return t.state, team, t.events, nil
}

// StartCycle opens cycle 1 from the lobby.
func StartCycle(s State, lib *content.Library, rules Rules, now time.Time) (State, []interfaces.OutboundEvent, error) {
	if s.Game.Status != models.StatusLobby {
		return s, nil, fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.Game.Status)
	}
	if len(s.Teams) < rules.MinTeams {
		return s, nil, fmt.Errorf("%w: %d joined, need %d", ErrNotEnoughTeams, len(s.Teams), rules.MinTeams)
	}
	t := transition{state: s.Clone()}
	t.beginCycle(lib, 1, now)
	return t.state, t.events, nil
}

// Submit records a team's decisions for the current cycle, replacing any
// earlier submission. Budgets are checked here, before scoring.
func Submit(s State, lib *content.Library, rules Rules, teamID string, ids []string, now time.Time) (State, models.DecisionSubmission, []interfaces.OutboundEvent, error) {
	if s.Game.Status != models.StatusInCycle {
		return s, models.DecisionSubmission{}, nil, fmt.Errorf("%w: game is %s", ErrNotInDecisionPhase, s.Game.Status)
	}
	idx, ok := s.team(teamID)
	if !ok {
		return s, models.DecisionSubmission{}, nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}

	seen := make(map[string]bool, len(ids))
	chosen := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := lib.Decision(id); !ok {
			return s, models.DecisionSubmission{}, nil, fmt.Errorf("%w: %s", ErrUnknownDecision, id)
		}
		if !seen[id] {
			seen[id] = true
			chosen = append(chosen, id)
		}
	}
	cost := content.Cost(lib.Resolve(chosen))
	if !cost.Within(rules.Budget) {
		return s, models.DecisionSubmission{}, nil, fmt.Errorf("%w: used %d/%d/%d of %d/%d/%d",
			ErrBudgetExceeded, cost.Capacity, cost.StaffEnergy, cost.Cash,
			rules.Budget.Capacity, rules.Budget.StaffEnergy, rules.Budget.Cash)
	}

	cycle := s.Game.CurrentCycle
	t := transition{state: s.Clone()}
	sub := models.DecisionSubmission{
		ID:          uuid.NewString(),
		GameID:      s.Game.ID,
		TeamID:      teamID,
		Cycle:       cycle,
		Decisions:   chosen,
		BudgetsUsed: cost,
		SubmittedAt: now,
	}
	if prev, ok := s.Submissions[cycle][teamID]; ok {
		sub.ID = prev.ID
	}
	t.putSubmission(sub)

	t.emit(EventTeamSubmitted, interfaces.AudienceGame, TeamSubmitted{
		TeamID:    teamID,
		TeamName:  s.Teams[idx].Name,
		Cycle:     cycle,
		Submitted: t.state.SubmittedCount(),
		Total:     len(s.Teams),
	}, now)
	return t.state, sub, t.events, nil
}

// CloseSubmissions gives every team without a submission an empty one so the
// cycle can resolve.
func CloseSubmissions(s State, now time.Time) (State, []models.DecisionSubmission, []interfaces.OutboundEvent, error) {
	if s.Game.Status != models.StatusInCycle {
		return s, nil, nil, fmt.Errorf("%w: game is %s", ErrNotInDecisionPhase, s.Game.Status)
	}
	cycle := s.Game.CurrentCycle
	t := transition{state: s.Clone()}

	var created []models.DecisionSubmission
	defaulted := []string{}
	for _, team := range s.Teams {
		if _, ok := s.Submissions[cycle][team.ID]; ok {
			continue
		}
		sub := models.DecisionSubmission{
			ID:          uuid.NewString(),
			GameID:      s.Game.ID,
			TeamID:      team.ID,
			Cycle:       cycle,
			Decisions:   []string{},
			SubmittedAt: now,
		}
		t.putSubmission(sub)
		created = append(created, sub)
		defaulted = append(defaulted, team.ID)
	}
	t.emit(EventSubmissionsClosed, interfaces.AudienceGame, SubmissionsClosed{Cycle: cycle, Defaulted: defaulted}, now)
	return t.state, created, t.events, nil
}

// Resolve scores every team for the current cycle, adds the scores to the
// cumulative totals and moves the game to results. It fails without side
// effects if any team is missing a submission or any score cannot be computed.
func Resolve(s State, lib *content.Library, now time.Time) (State, []models.CycleResult, []interfaces.OutboundEvent, error) {
	if s.Game.Status != models.StatusInCycle {
		return s, nil, nil, fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, s.Game.Status)
	}
	if !s.AllSubmitted() {
		return s, nil, nil, fmt.Errorf("%w: %d of %d", ErrMissingSubmissions, s.SubmittedCount(), len(s.Teams))
	}

	cycle := s.Game.CurrentCycle
	t := transition{state: s.Clone()}
	results := make([]models.CycleResult, 0, len(s.Teams))

	for i, team := range s.Teams {
		sub := s.Submissions[cycle][team.ID]
		out, err := engine.CalculateOutcome(engine.OutcomeInput{
			GameID:       s.Game.ID,
			TeamID:       team.ID,
			Cycle:        cycle,
			ScenarioSeed: s.Game.ScenarioSeed,
			Selected:     lib.Resolve(sub.Decisions),
			History:      priorSelections(s, lib, team.ID, cycle),
		})
		if err != nil {
			return s, nil, nil, fmt.Errorf("failed to score team %s: %w", team.ID, err)
		}
		results = append(results, models.CycleResult{
			ID:           uuid.NewString(),
			GameID:       s.Game.ID,
			Cycle:        cycle,
			TeamID:       team.ID,
			Scores:       out.Scores,
			Metrics:      out.Metrics,
			Incidents:    out.Incidents,
			CalculatedAt: now,
		})
		t.state.Teams[i].Cumulative = t.state.Teams[i].Cumulative.Add(out.Scores)
	}

	t.state.Results[cycle] = results
	t.state.Resolved[cycle] = true
	t.state.Game.Status = models.StatusResults
	t.state.Game.UpdatedAt = now

	board := t.state.Leaderboard()
	if len(board) > 0 {
		t.state.Game.LeaderByCycle = append(t.state.Game.LeaderByCycle, board[0].TeamID)
	}

	t.emit(EventResultsReady, interfaces.AudienceGame, ResultsReady{Cycle: cycle, Results: results}, now)
	t.emit(EventLeaderboardUpdated, interfaces.AudienceGame, LeaderboardUpdated{Cycle: cycle, Leaderboard: board}, now)
	t.emit(EventGameUpdated, interfaces.AudienceGame, t.state.Game, now)
	return t.state, results, t.events, nil
}

// Advance moves from results to the next cycle, or ends the game after the
// last cycle.
func Advance(s State, lib *content.Library, now time.Time) (State, []interfaces.OutboundEvent, error) {
	if s.Game.Status != models.StatusResults {
		return s, nil, fmt.Errorf("%w: advance from %s", ErrInvalidTransition, s.Game.Status)
	}
	if s.Game.CurrentCycle >= models.TotalCycles {
		return End(s, nil, now)
	}
	t := transition{state: s.Clone()}
	next := s.Game.CurrentCycle + 1
	t.emit(EventCycleAdvanced, interfaces.AudienceGame, CycleAdvanced{Cycle: next}, now)
	t.beginCycle(lib, next, now)
	return t.state, t.events, nil
}

// End closes the game from any live status. prompts may be nil.
func End(s State, prompts *debrief.FacilitatorPrompts, now time.Time) (State, []interfaces.OutboundEvent, error) {
	if s.Game.Status == models.StatusEnded {
		return s, nil, ErrGameEnded
	}
	t := transition{state: s.Clone()}
	t.state.Game.Status = models.StatusEnded
	t.state.Game.UpdatedAt = now

	payload := GameEnded{Summary: t.state.Summary(), Prompts: prompts}
	t.emit(EventGameUpdated, interfaces.AudienceGame, t.state.Game, now)
	t.emit(EventGameEnded, interfaces.AudienceGame, payload, now)
	return t.state, t.events, nil
}

func (t *transition) emit(name string, audience interfaces.Audience, payload interface{}, now time.Time) {
	t.events = append(t.events, t.state.event(name, audience, payload, now))
}

func (t *transition) putSubmission(sub models.DecisionSubmission) {
	subs := t.state.Submissions[sub.Cycle]
	if subs == nil {
		subs = make(map[string]models.DecisionSubmission)
		t.state.Submissions[sub.Cycle] = subs
	}
	subs[sub.TeamID] = sub
}

// beginCycle carries the system state forward, rolls the cycle's events and
// opens the decision phase.
func (t *transition) beginCycle(lib *content.Library, cycle int, now time.Time) {
	g := &t.state.Game

	state := models.DefaultSystemState()
	if cycle > 1 {
		prev := t.state.Results[cycle-1]
		metrics := make([]models.OperationalMetrics, 0, len(prev))
		for _, r := range prev {
			metrics = append(metrics, r.Metrics)
		}
		state = engine.CarryOverState(g.SystemState, metrics)
	}

	events := engine.GenerateEvents(lib.Events(), cycle, g.ScenarioSeed, g.SeenEvents)
	state = engine.ApplyEventImpacts(state, events)
	for _, e := range events {
		g.SeenEvents = append(g.SeenEvents, e.Title)
	}

	g.SystemState = state
	g.CurrentCycle = cycle
	g.Status = models.StatusInCycle
	g.UpdatedAt = now

	t.state.Brief = nil
	if b, ok := lib.Brief(cycle); ok {
		t.state.Brief = &b
	}
	t.state.Events = events

	t.emit(EventCycleStarted, interfaces.AudienceGame, CycleStarted{
		Cycle:       cycle,
		Brief:       t.state.Brief,
		Events:      events,
		SystemState: state,
	}, now)
	t.emit(EventGameUpdated, interfaces.AudienceGame, t.state.Game, now)
}

// priorSelections lists what a team chose in the cycles before cycle.
func priorSelections(s State, lib *content.Library, teamID string, cycle int) []engine.PriorSelection {
	var out []engine.PriorSelection
	for c := 1; c < cycle; c++ {
		sub, ok := s.Submissions[c][teamID]
		if !ok {
			continue
		}
		out = append(out, engine.PriorSelection{Cycle: c, Decisions: lib.Resolve(sub.Decisions)})
	}
	return out
}
