package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/models"
)

// MemoryStore is a process-local GameRepository. Values are copied in and
// out so callers never share slices with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	games       map[string]models.Game
	codes       map[string]string
	teams       map[string][]models.Team
	submissions map[string][]models.DecisionSubmission
	results     map[string][]models.CycleResult
}

var _ interfaces.GameRepository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:       make(map[string]models.Game),
		codes:       make(map[string]string),
		teams:       make(map[string][]models.Team),
		submissions: make(map[string][]models.DecisionSubmission),
		results:     make(map[string][]models.CycleResult),
	}
}

func cloneGame(g models.Game) models.Game {
	g.LeaderByCycle = append([]string(nil), g.LeaderByCycle...)
	g.SeenEvents = append([]string(nil), g.SeenEvents...)
	return g
}

func cloneSubmission(s models.DecisionSubmission) models.DecisionSubmission {
	s.Decisions = append([]string(nil), s.Decisions...)
	return s
}

func cloneResult(r models.CycleResult) models.CycleResult {
	r.Incidents = append([]models.Incident(nil), r.Incidents...)
	return r
}

func (s *MemoryStore) CreateGame(_ context.Context, game *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; ok {
		return fmt.Errorf("game %s already exists", game.ID)
	}
	if _, ok := s.codes[game.Code]; ok {
		return fmt.Errorf("game code %s already in use", game.Code)
	}
	s.games[game.ID] = cloneGame(*game)
	s.codes[game.Code] = game.ID
	return nil
}

func (s *MemoryStore) UpdateGame(_ context.Context, game *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return fmt.Errorf("game %s: %w", game.ID, interfaces.ErrNotFound)
	}
	s.games[game.ID] = cloneGame(*game)
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, interfaces.ErrNotFound)
	}
	g = cloneGame(g)
	return &g, nil
}

func (s *MemoryStore) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("game code %s: %w", code, interfaces.ErrNotFound)
	}
	return s.GetGame(ctx, id)
}

func (s *MemoryStore) AddTeam(_ context.Context, game *models.Game, team *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return fmt.Errorf("game %s: %w", game.ID, interfaces.ErrNotFound)
	}
	if team.GameID != game.ID {
		return fmt.Errorf("team %s belongs to game %s, not %s", team.ID, team.GameID, game.ID)
	}
	for _, t := range s.teams[game.ID] {
		if t.ID == team.ID {
			return fmt.Errorf("team %s already exists", team.ID)
		}
	}
	s.teams[game.ID] = append(s.teams[game.ID], *team)
	s.games[game.ID] = cloneGame(*game)
	return nil
}

func (s *MemoryStore) ListTeams(_ context.Context, gameID string) ([]models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.Team(nil), s.teams[gameID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

func (s *MemoryStore) SaveSubmission(_ context.Context, sub *models.DecisionSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.submissions[sub.GameID]
	for i := range subs {
		if subs[i].TeamID == sub.TeamID && subs[i].Cycle == sub.Cycle {
			id := subs[i].ID
			subs[i] = cloneSubmission(*sub)
			subs[i].ID = id
			return nil
		}
	}
	s.submissions[sub.GameID] = append(subs, cloneSubmission(*sub))
	return nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, gameID string, cycle int) ([]models.DecisionSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DecisionSubmission
	for _, sub := range s.submissions[gameID] {
		if cycle == 0 || sub.Cycle == cycle {
			out = append(out, cloneSubmission(sub))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cycle < out[j].Cycle })
	return out, nil
}

func (s *MemoryStore) SubmittedTeamIDs(_ context.Context, gameID string, cycle int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var ids []string
	for _, sub := range s.submissions[gameID] {
		if sub.Cycle == cycle && !seen[sub.TeamID] {
			seen[sub.TeamID] = true
			ids = append(ids, sub.TeamID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) SaveResolution(_ context.Context, game *models.Game, teams []models.Team, results []models.CycleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return fmt.Errorf("game %s: %w", game.ID, interfaces.ErrNotFound)
	}

	existing := s.results[game.ID]
	for _, r := range results {
		for _, e := range existing {
			if e.Cycle == r.Cycle && e.TeamID == r.TeamID {
				return fmt.Errorf("result for team %s cycle %d already written", r.TeamID, r.Cycle)
			}
		}
	}

	stored := s.teams[game.ID]
	for _, t := range teams {
		for i := range stored {
			if stored[i].ID == t.ID {
				stored[i].Cumulative = t.Cumulative
			}
		}
	}
	for _, r := range results {
		s.results[game.ID] = append(s.results[game.ID], cloneResult(r))
	}
	s.games[game.ID] = cloneGame(*game)
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, gameID string, cycle int) ([]models.CycleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CycleResult
	for _, r := range s.results[gameID] {
		if cycle == 0 || r.Cycle == cycle {
			out = append(out, cloneResult(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cycle < out[j].Cycle })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// MemoryGuard is the in-process ResolutionGuard.
type MemoryGuard struct {
	mu       sync.Mutex
	resolved map[string]bool
}

var _ interfaces.ResolutionGuard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{resolved: make(map[string]bool)}
}

func (g *MemoryGuard) Acquire(_ context.Context, gameID string, cycle int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := resolvedKey(gameID, cycle)
	if g.resolved[key] {
		return false, nil
	}
	g.resolved[key] = true
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, gameID string, cycle int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.resolved, resolvedKey(gameID, cycle))
	return nil
}

// MemoryEventLog keeps the newest events per game in process memory.
type MemoryEventLog struct {
	mu     sync.Mutex
	size   int
	events map[string][]interfaces.LoggedEvent
}

var _ interfaces.EventLog = (*MemoryEventLog)(nil)

func NewMemoryEventLog(size int) *MemoryEventLog {
	if size <= 0 {
		size = defaultEventLogSize
	}
	return &MemoryEventLog{size: size, events: make(map[string][]interfaces.LoggedEvent)}
}

func (l *MemoryEventLog) Append(_ context.Context, event interfaces.OutboundEvent) error {
	logged, err := toLogged(event)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append([]interfaces.LoggedEvent{logged}, l.events[event.GameID]...)
	if len(list) > l.size {
		list = list[:l.size]
	}
	l.events[event.GameID] = list
	return nil
}

func (l *MemoryEventLog) Recent(_ context.Context, gameID string, limit int64) ([]interfaces.LoggedEvent, error) {
	limit = clampLimit(limit)
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.events[gameID]
	if int64(len(list)) > limit {
		list = list[:limit]
	}
	return append([]interfaces.LoggedEvent{}, list...), nil
}
