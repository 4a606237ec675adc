package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/prompts"
)

const maxCodeAttempts = 10

// Manager owns the authoritative state of every live game. All mutations of
// one game run under that game's mutex and are written through to the
// repository before their events are published.
type Manager struct {
	repo       interfaces.GameRepository
	guard      interfaces.ResolutionGuard
	publisher  interfaces.Publisher
	content    *content.Store
	rules      Rules
	thresholds debrief.Thresholds
	templates  *prompts.TemplateEngine
	log        *logger.Logger
	now        func() time.Time

	mu    sync.Mutex
	games map[string]*State
	locks map[string]*sync.Mutex
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithThresholds(th debrief.Thresholds) Option {
	return func(m *Manager) { m.thresholds = th }
}

func WithTemplates(t *prompts.TemplateEngine) Option {
	return func(m *Manager) { m.templates = t }
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, interfaces.OutboundEvent) error { return nil }

func NewManager(
	repo interfaces.GameRepository,
	guard interfaces.ResolutionGuard,
	publisher interfaces.Publisher,
	store *content.Store,
	rules Rules,
	log *logger.Logger,
	opts ...Option,
) *Manager {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		repo:       repo,
		guard:      guard,
		publisher:  publisher,
		content:    store,
		rules:      rules,
		thresholds: debrief.DefaultThresholds(),
		log:        log.With("component", "session"),
		now:        time.Now,
		games:      make(map[string]*State),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.templates == nil {
		m.templates = prompts.NewTemplateEngine()
	}
	return m
}

func (m *Manager) Rules() Rules { return m.rules }

func (m *Manager) Library() *content.Library { return m.content.Current() }

func (m *Manager) lock(gameID string) func() {
	m.mu.Lock()
	l, ok := m.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[gameID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// load returns the cached state, rebuilding it from the repository after a
// restart. The caller holds the game lock.
func (m *Manager) load(ctx context.Context, gameID string) (*State, error) {
	m.mu.Lock()
	st, ok := m.games[gameID]
	m.mu.Unlock()
	if ok {
		return st, nil
	}

	g, err := m.repo.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
		}
		return nil, err
	}
	teams, err := m.repo.ListTeams(ctx, gameID)
	if err != nil {
		return nil, err
	}
	subs, err := m.repo.ListSubmissions(ctx, gameID, 0)
	if err != nil {
		return nil, err
	}
	results, err := m.repo.ListResults(ctx, gameID, 0)
	if err != nil {
		return nil, err
	}

	restored := NewState(*g)
	restored.Teams = append(restored.Teams, teams...)
	t := transition{state: restored}
	for _, sub := range subs {
		t.putSubmission(sub)
	}
	order := make(map[string]int, len(teams))
	for _, team := range teams {
		order[team.ID] = team.JoinOrder
	}
	for _, r := range results {
		t.state.Results[r.Cycle] = append(t.state.Results[r.Cycle], r)
		t.state.Resolved[r.Cycle] = true
	}
	for cycle, rs := range t.state.Results {
		sortByJoinOrder(rs, order)
		t.state.Results[cycle] = rs
	}
	if b, ok := m.content.Current().Brief(g.CurrentCycle); ok && g.Status != models.StatusLobby {
		t.state.Brief = &b
	}

	st = &t.state
	m.mu.Lock()
	m.games[gameID] = st
	m.mu.Unlock()
	m.log.Info("game state restored", "game_id", gameID, "teams", len(teams), "results", len(results))
	return st, nil
}

func sortByJoinOrder(rs []models.CycleResult, order map[string]int) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && order[rs[j].TeamID] < order[rs[j-1].TeamID]; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func (m *Manager) publish(ctx context.Context, events []interfaces.OutboundEvent) {
	for _, e := range events {
		if err := m.publisher.Publish(ctx, e); err != nil {
			m.log.Warn("failed to publish event", "game_id", e.GameID, "event", e.Name, "error", err)
		}
	}
}

// CreateGame opens a lobby with a fresh join code and scenario seed.
func (m *Manager) CreateGame(ctx context.Context, numberOfTeams int, facilitator string) (State, error) {
	if numberOfTeams < m.rules.MinTeams || numberOfTeams > m.rules.MaxTeams {
		return State{}, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidTeamCount, numberOfTeams, m.rules.MinTeams, m.rules.MaxTeams)
	}
	seed, err := NewScenarioSeed()
	if err != nil {
		return State{}, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewGameCode()
		if err != nil {
			return State{}, err
		}
		if _, err := m.repo.GetGameByCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return State{}, err
		}

		st, err := NewGame(m.rules, numberOfTeams, facilitator, code, seed, m.now())
		if err != nil {
			return State{}, err
		}
		if err := m.repo.CreateGame(ctx, &st.Game); err != nil {
			return State{}, err
		}

		m.mu.Lock()
		m.games[st.Game.ID] = &st
		m.mu.Unlock()
		m.log.Info("game created", "game_id", st.Game.ID, "code", code, "teams", numberOfTeams)
		return st.Clone(), nil
	}
	return State{}, fmt.Errorf("could not allocate a unique game code after %d attempts", maxCodeAttempts)
}

// GameByCode resolves a join code to a game id.
func (m *Manager) GameByCode(ctx context.Context, code string) (string, error) {
	g, err := m.repo.GetGameByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return "", fmt.Errorf("%w: code %s", ErrGameNotFound, code)
		}
		return "", err
	}
	return g.ID, nil
}

// Game returns a snapshot of a game.
func (m *Manager) Game(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()
	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	return st.Clone(), nil
}

func (m *Manager) JoinGame(ctx context.Context, code, teamName string, roles models.RoleAssignments) (State, models.Team, error) {
	gameID, err := m.GameByCode(ctx, code)
	if err != nil {
		return State{}, models.Team{}, err
	}
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, models.Team{}, err
	}
	next, team, events, err := AddTeam(*st, teamName, roles, m.now())
	if err != nil {
		return State{}, models.Team{}, err
	}
	if err := m.repo.AddTeam(ctx, &next.Game, &team); err != nil {
		return State{}, models.Team{}, err
	}
	*st = next
	m.publish(ctx, events)
	m.log.Info("team joined", "game_id", gameID, "team_id", team.ID, "team", team.Name)
	return st.Clone(), team, nil
}

func (m *Manager) StartCycle(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	next, events, err := StartCycle(*st, m.content.Current(), m.rules, m.now())
	if err != nil {
		return State{}, err
	}
	if err := m.repo.UpdateGame(ctx, &next.Game); err != nil {
		return State{}, err
	}
	*st = next
	m.publish(ctx, events)
	m.log.Info("cycle started", "game_id", gameID, "cycle", st.Game.CurrentCycle, "events", len(st.Events))
	return st.Clone(), nil
}

// SubmitDecisions stores a team's choice and resolves the cycle once every
// team has submitted. A failed resolution does not undo the submission; it is
// reported to the facilitator and can be retried with CloseSubmissions.
func (m *Manager) SubmitDecisions(ctx context.Context, gameID, teamID string, decisionIDs []string) (models.DecisionSubmission, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return models.DecisionSubmission{}, err
	}
	next, sub, events, err := Submit(*st, m.content.Current(), m.rules, teamID, decisionIDs, m.now())
	if err != nil {
		return models.DecisionSubmission{}, err
	}
	if err := m.repo.SaveSubmission(ctx, &sub); err != nil {
		return models.DecisionSubmission{}, err
	}
	*st = next
	m.publish(ctx, events)

	if st.AllSubmitted() {
		if err := m.resolveLocked(ctx, st); err != nil {
			m.log.Error("cycle resolution failed", "game_id", gameID, "cycle", st.Game.CurrentCycle, "error", err)
			m.publish(ctx, []interfaces.OutboundEvent{
				st.event(EventError, interfaces.AudienceFacilitator, map[string]string{"message": err.Error()}, m.now()),
			})
		}
	}
	return sub, nil
}

// CloseSubmissions defaults missing submissions and resolves the cycle.
func (m *Manager) CloseSubmissions(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	next, created, events, err := CloseSubmissions(*st, m.now())
	if err != nil {
		return State{}, err
	}
	for i := range created {
		if err := m.repo.SaveSubmission(ctx, &created[i]); err != nil {
			return State{}, err
		}
	}
	*st = next
	m.publish(ctx, events)

	if err := m.resolveLocked(ctx, st); err != nil {
		return st.Clone(), err
	}
	return st.Clone(), nil
}

// ResolveCycle resolves the current cycle if every team has submitted. A
// cycle that is already resolved is left untouched.
func (m *Manager) ResolveCycle(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	if err := m.resolveLocked(ctx, st); err != nil {
		return st.Clone(), err
	}
	return st.Clone(), nil
}

func (m *Manager) resolveLocked(ctx context.Context, st *State) error {
	gameID, cycle := st.Game.ID, st.Game.CurrentCycle
	if st.Resolved[cycle] {
		m.log.Debug("cycle already resolved", "game_id", gameID, "cycle", cycle)
		return nil
	}
	ok, err := m.guard.Acquire(ctx, gameID, cycle)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Warn("resolution already claimed", "game_id", gameID, "cycle", cycle)
		return nil
	}

	next, results, events, err := Resolve(*st, m.content.Current(), m.now())
	if err != nil {
		m.release(ctx, gameID, cycle)
		return err
	}
	if err := m.repo.SaveResolution(ctx, &next.Game, next.Teams, results); err != nil {
		m.release(ctx, gameID, cycle)
		return err
	}
	*st = next
	m.publish(ctx, events)

	if p, ok := m.cyclePrompts(*st, cycle); ok {
		m.publish(ctx, []interfaces.OutboundEvent{
			st.event(EventDebriefPrompts, interfaces.AudienceFacilitator, p, m.now()),
		})
	}
	m.log.Info("cycle resolved", "game_id", gameID, "cycle", cycle, "teams", len(results))
	return nil
}

func (m *Manager) release(ctx context.Context, gameID string, cycle int) {
	if err := m.guard.Release(ctx, gameID, cycle); err != nil {
		m.log.Error("failed to release resolution claim", "game_id", gameID, "cycle", cycle, "error", err)
	}
}

// AdvanceCycle opens the next cycle, or ends the game after the last one.
func (m *Manager) AdvanceCycle(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	if st.Game.Status == models.StatusResults && st.Game.CurrentCycle >= models.TotalCycles {
		return m.endLocked(ctx, st)
	}
	next, events, err := Advance(*st, m.content.Current(), m.now())
	if err != nil {
		return State{}, err
	}
	if err := m.repo.UpdateGame(ctx, &next.Game); err != nil {
		return State{}, err
	}
	*st = next
	m.publish(ctx, events)
	m.log.Info("cycle advanced", "game_id", gameID, "cycle", st.Game.CurrentCycle)
	return st.Clone(), nil
}

func (m *Manager) EndGame(ctx context.Context, gameID string) (State, error) {
	unlock := m.lock(gameID)
	defer unlock()

	st, err := m.load(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	return m.endLocked(ctx, st)
}

func (m *Manager) endLocked(ctx context.Context, st *State) (State, error) {
	var final *debrief.FacilitatorPrompts
	if p, ok := m.endPrompts(*st); ok {
		final = &p
	}
	next, events, err := End(*st, final, m.now())
	if err != nil {
		return State{}, err
	}
	if err := m.repo.UpdateGame(ctx, &next.Game); err != nil {
		return State{}, err
	}
	*st = next
	m.publish(ctx, events)
	m.log.Info("game ended", "game_id", st.Game.ID, "cycles", len(st.Results))
	return st.Clone(), nil
}

func (m *Manager) Leaderboard(ctx context.Context, gameID string) ([]LeaderboardEntry, error) {
	st, err := m.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.Leaderboard(), nil
}

// CyclePrompts rebuilds the facilitator prompts for a resolved cycle.
func (m *Manager) CyclePrompts(ctx context.Context, gameID string, cycle int) (debrief.CyclePrompts, error) {
	if cycle < 1 || cycle > models.TotalCycles {
		return debrief.CyclePrompts{}, fmt.Errorf("%w: %d", ErrCycleOutOfRange, cycle)
	}
	st, err := m.Game(ctx, gameID)
	if err != nil {
		return debrief.CyclePrompts{}, err
	}
	if !st.Resolved[cycle] {
		return debrief.CyclePrompts{}, fmt.Errorf("%w: cycle %d has no results yet", ErrInvalidTransition, cycle)
	}
	p, ok := m.cyclePrompts(st, cycle)
	if !ok {
		return debrief.CyclePrompts{}, fmt.Errorf("failed to build prompts for cycle %d", cycle)
	}
	return p, nil
}

// Debrief builds the end-of-game prompts from the results so far.
func (m *Manager) Debrief(ctx context.Context, gameID string) (debrief.FacilitatorPrompts, error) {
	st, err := m.Game(ctx, gameID)
	if err != nil {
		return debrief.FacilitatorPrompts{}, err
	}
	p, ok := m.endPrompts(st)
	if !ok {
		return debrief.FacilitatorPrompts{}, fmt.Errorf("failed to build debrief for game %s", gameID)
	}
	return p, nil
}

func (m *Manager) debriefEngine() *debrief.Engine {
	return debrief.NewEngine(m.content.Current().Questions(), m.thresholds, m.templates)
}

// cyclePrompts and endPrompts are best effort: a panic is logged and
// reported as !ok so scores are never held back by prompt generation.
func (m *Manager) cyclePrompts(s State, cycle int) (p debrief.CyclePrompts, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("cycle prompts panicked", "game_id", s.Game.ID, "cycle", cycle, "panic", r)
			ok = false
		}
	}()
	return m.debriefEngine().ForCycle(s.DebriefContext(m.content.Current(), cycle)), true
}

func (m *Manager) endPrompts(s State) (p debrief.FacilitatorPrompts, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("debrief prompts panicked", "game_id", s.Game.ID, "panic", r)
			ok = false
		}
	}()
	return m.debriefEngine().EndOfGame(s.DebriefContext(m.content.Current(), s.Game.CurrentCycle)), true
}
