package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []interfaces.OutboundEvent
}

func (r *recorder) Publish(_ context.Context, e interfaces.OutboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) last(name string) (interfaces.OutboundEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return interfaces.OutboundEvent{}, false
}

// flakyRepo fails the next SaveResolution when failNext is set, and the
// next AddTeam when failJoin is set.
type flakyRepo struct {
	*storage.MemoryStore
	mu       sync.Mutex
	failNext bool
	failJoin bool
}

func (f *flakyRepo) AddTeam(ctx context.Context, g *models.Game, team *models.Team) error {
	f.mu.Lock()
	fail := f.failJoin
	f.failJoin = false
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.MemoryStore.AddTeam(ctx, g, team)
}

func (f *flakyRepo) SaveResolution(ctx context.Context, g *models.Game, teams []models.Team, results []models.CycleResult) error {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.SaveResolution(ctx, g, teams, results)
}

type harness struct {
	repo  *flakyRepo
	guard *storage.MemoryGuard
	pub   *recorder
	store *content.Store
	m     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:  &flakyRepo{MemoryStore: storage.NewMemoryStore()},
		guard: storage.NewMemoryGuard(),
		pub:   &recorder{},
		store: content.NewStore(library(t)),
	}
	h.m = h.manager()
	return h
}

func (h *harness) manager() *Manager {
	return NewManager(h.repo, h.guard, h.pub, h.store, DefaultRules(), logger.Nop(), WithClock(func() time.Time { return epoch }))
}

func setupGame(t *testing.T, h *harness, teams ...string) (State, []models.Team) {
	t.Helper()
	ctx := context.Background()
	st, err := h.m.CreateGame(ctx, len(teams), "Sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var joined []models.Team
	for _, n := range teams {
		_, team, err := h.m.JoinGame(ctx, st.Game.Code, n, models.RoleAssignments{})
		if err != nil {
			t.Fatalf("join %s: %v", n, err)
		}
		joined = append(joined, team)
	}
	st, err = h.m.StartCycle(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return st, joined
}

func TestCreateGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.m.CreateGame(ctx, 9, ""); !errors.Is(err, ErrInvalidTeamCount) || !IsValidation(err) {
		t.Fatalf("want ErrInvalidTeamCount, got %v", err)
	}
	st, err := h.m.CreateGame(ctx, 2, "Sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(st.Game.Code) != codeLength || st.Game.ScenarioSeed < 0 || st.Game.ScenarioSeed >= maxSeed {
		t.Fatalf("code=%q seed=%d", st.Game.Code, st.Game.ScenarioSeed)
	}
	if _, err := h.repo.GetGameByCode(ctx, st.Game.Code); err != nil {
		t.Fatalf("game not persisted: %v", err)
	}
	if _, _, err := h.m.JoinGame(ctx, "NOPE99", "Alpha", models.RoleAssignments{}); !IsNotFound(err) {
		t.Fatalf("want not found for unknown code, got %v", err)
	}
	if _, _, err := h.m.JoinGame(ctx, " "+st.Game.Code+" ", "Alpha", models.RoleAssignments{}); err != nil {
		t.Fatalf("join with padded code: %v", err)
	}
}

func TestFailedJoinLeavesNoTeam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, err := h.m.CreateGame(ctx, 2, "Sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.repo.failJoin = true
	if _, _, err := h.m.JoinGame(ctx, st.Game.Code, "Alpha", models.RoleAssignments{}); err == nil {
		t.Fatalf("join should fail when the store does")
	}
	if got, _ := h.m.Game(ctx, st.Game.ID); len(got.Teams) != 0 {
		t.Fatalf("failed join kept %d team(s) in memory", len(got.Teams))
	}
	if teams, _ := h.repo.ListTeams(ctx, st.Game.ID); len(teams) != 0 {
		t.Fatalf("failed join stored %d team(s)", len(teams))
	}

	_, team, err := h.m.JoinGame(ctx, st.Game.Code, "Alpha", models.RoleAssignments{})
	if err != nil {
		t.Fatalf("retry join: %v", err)
	}
	restarted := NewManager(h.repo, storage.NewMemoryGuard(), h.pub, h.store, DefaultRules(), logger.Nop())
	got, err := restarted.Game(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(got.Teams) != 1 || got.Teams[0].ID != team.ID || got.Teams[0].JoinOrder != 0 {
		t.Fatalf("restored teams: %+v", got.Teams)
	}
}

func TestBudgetRejectedBeforeScoring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta")

	_, err := h.m.SubmitDecisions(ctx, st.Game.ID, teams[0].ID, []string{"continuous_glucose_monitoring", "bank_agency", "sms_reminders"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("want ErrBudgetExceeded, got %v", err)
	}
	subs, _ := h.repo.ListSubmissions(ctx, st.Game.ID, 1)
	if len(subs) != 0 {
		t.Fatalf("rejected submission was stored: %+v", subs)
	}
	if h.pub.count(EventTeamSubmitted) != 0 {
		t.Fatalf("rejected submission was published")
	}
}

func TestFullGameKeepsCumulativeAdditive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta", "Gamma")
	gameID := st.Game.ID

	plans := [][]string{
		{"expand_diabetes_clinic", "tighten_triage"},
		{"wellbeing_support", "protected_learning", "incident_review"},
		{},
	}
	for cycle := 1; cycle <= models.TotalCycles; cycle++ {
		for i, team := range teams {
			if _, err := h.m.SubmitDecisions(ctx, gameID, team.ID, plans[i]); err != nil {
				t.Fatalf("cycle %d submit %s: %v", cycle, team.Name, err)
			}
		}
		snap, err := h.m.Game(ctx, gameID)
		if err != nil {
			t.Fatalf("game: %v", err)
		}
		if snap.Game.Status != models.StatusResults || !snap.Resolved[cycle] {
			t.Fatalf("cycle %d not resolved: %s", cycle, snap.Game.Status)
		}
		if _, err := h.m.AdvanceCycle(ctx, gameID); err != nil {
			t.Fatalf("advance after cycle %d: %v", cycle, err)
		}
	}

	final, err := h.m.Game(ctx, gameID)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	if final.Game.Status != models.StatusEnded {
		t.Fatalf("advancing past cycle 6 should end the game, got %s", final.Game.Status)
	}
	if len(final.Game.LeaderByCycle) != models.TotalCycles {
		t.Fatalf("leaders: %v", final.Game.LeaderByCycle)
	}

	stored, _ := h.repo.ListTeams(ctx, gameID)
	for _, team := range stored {
		results, _ := h.repo.ListResults(ctx, gameID, 0)
		var sum models.ScoreBreakdown
		n := 0
		for _, r := range results {
			if r.TeamID == team.ID {
				sum = sum.Add(r.Scores)
				n++
			}
		}
		if n != models.TotalCycles {
			t.Fatalf("%s has %d results", team.Name, n)
		}
		for _, p := range models.Pillars {
			if math.Abs(sum.Pillar(p)-team.Cumulative.Pillar(p)) > 1e-9 {
				t.Fatalf("%s %s: cumulative %v != sum %v", team.Name, p, team.Cumulative.Pillar(p), sum.Pillar(p))
			}
		}
	}

	if h.pub.count(EventResultsReady) != models.TotalCycles || h.pub.count(EventDebriefPrompts) != models.TotalCycles {
		t.Fatalf("results_ready=%d debrief_prompts=%d", h.pub.count(EventResultsReady), h.pub.count(EventDebriefPrompts))
	}
	ended, ok := h.pub.last(EventGameEnded)
	if !ok {
		t.Fatalf("game_ended not published")
	}
	payload := ended.Payload.(GameEnded)
	if payload.Prompts == nil || payload.Prompts.GameNarrative == "" {
		t.Fatalf("game_ended should carry end-of-game prompts")
	}
	if payload.Summary.CyclesPlayed != models.TotalCycles {
		t.Fatalf("cycles played: %d", payload.Summary.CyclesPlayed)
	}
	prompts, ok := h.pub.last(EventDebriefPrompts)
	if !ok || prompts.Audience != interfaces.AudienceFacilitator {
		t.Fatalf("debrief prompts must go to the facilitator room")
	}
}

func TestResolutionFiresOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta")

	for _, team := range teams {
		if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, team.ID, []string{"sms_reminders"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	before, _ := h.repo.ListTeams(ctx, st.Game.ID)

	for i := 0; i < 3; i++ {
		if _, err := h.m.ResolveCycle(ctx, st.Game.ID); err != nil {
			t.Fatalf("repeat resolve: %v", err)
		}
	}
	after, _ := h.repo.ListTeams(ctx, st.Game.ID)
	for i := range before {
		if before[i].Cumulative != after[i].Cumulative {
			t.Fatalf("repeat resolution changed cumulative: %+v -> %+v", before[i].Cumulative, after[i].Cumulative)
		}
	}
	if h.pub.count(EventResultsReady) != 1 {
		t.Fatalf("results_ready published %d times", h.pub.count(EventResultsReady))
	}

	// A fresh manager sharing the guard cannot resolve the same cycle again.
	other := h.manager()
	if _, err := other.ResolveCycle(ctx, st.Game.ID); err != nil {
		t.Fatalf("other manager: %v", err)
	}
	if results, _ := h.repo.ListResults(ctx, st.Game.ID, 1); len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
}

func TestConcurrentSubmissionsResolveOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	names := []string{"A", "B", "C", "D", "E", "F"}
	st, teams := setupGame(t, h, names...)

	var wg sync.WaitGroup
	for _, team := range teams {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, id, []string{"group_education"}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(team.ID)
	}
	wg.Wait()

	if h.pub.count(EventResultsReady) != 1 {
		t.Fatalf("results_ready published %d times", h.pub.count(EventResultsReady))
	}
	results, _ := h.repo.ListResults(ctx, st.Game.ID, 1)
	if len(results) != len(teams) {
		t.Fatalf("want %d results, got %d", len(teams), len(results))
	}
}

func TestFailedResolutionCanBeRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta")

	h.repo.failNext = true
	for _, team := range teams {
		if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, team.ID, nil); err != nil {
			t.Fatalf("submit should succeed even when resolution fails: %v", err)
		}
	}
	snap, _ := h.m.Game(ctx, st.Game.ID)
	if snap.Game.Status != models.StatusInCycle || snap.Resolved[1] {
		t.Fatalf("failed resolution must not change state: %s", snap.Game.Status)
	}
	errEvent, ok := h.pub.last(EventError)
	if !ok || errEvent.Audience != interfaces.AudienceFacilitator {
		t.Fatalf("failure should be reported to the facilitator")
	}
	if teamsNow, _ := h.repo.ListTeams(ctx, st.Game.ID); teamsNow[0].Cumulative.Total != 0 {
		t.Fatalf("failed resolution wrote cumulative scores")
	}

	snap, err := h.m.CloseSubmissions(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if snap.Game.Status != models.StatusResults {
		t.Fatalf("retry did not resolve: %s", snap.Game.Status)
	}
}

func TestCloseSubmissionsAndEndGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta", "Gamma")

	if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, teams[0].ID, []string{"senior_review_rota"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap, err := h.m.CloseSubmissions(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if snap.Game.Status != models.StatusResults || len(snap.Results[1]) != 3 {
		t.Fatalf("close should resolve all teams: %s %d", snap.Game.Status, len(snap.Results[1]))
	}
	if ids, _ := h.repo.SubmittedTeamIDs(ctx, st.Game.ID, 1); len(ids) != 3 {
		t.Fatalf("defaulted submissions not stored: %v", ids)
	}

	if _, err := h.m.CloseSubmissions(ctx, st.Game.ID); !errors.Is(err, ErrNotInDecisionPhase) {
		t.Fatalf("closing a resolved cycle: want ErrNotInDecisionPhase, got %v", err)
	}
	if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, teams[1].ID, nil); !errors.Is(err, ErrNotInDecisionPhase) {
		t.Fatalf("submitting during results: want ErrNotInDecisionPhase, got %v", err)
	}

	cp, err := h.m.CyclePrompts(ctx, st.Game.ID, 1)
	if err != nil || len(cp.PerTeam) != 3 {
		t.Fatalf("cycle prompts: %+v %v", cp, err)
	}
	if _, err := h.m.CyclePrompts(ctx, st.Game.ID, 2); !IsValidation(err) {
		t.Fatalf("unresolved cycle prompts: want validation error, got %v", err)
	}
	if _, err := h.m.CyclePrompts(ctx, st.Game.ID, 9); !errors.Is(err, ErrCycleOutOfRange) {
		t.Fatalf("want ErrCycleOutOfRange, got %v", err)
	}

	ended, err := h.m.EndGame(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Game.Status != models.StatusEnded {
		t.Fatalf("status: %s", ended.Game.Status)
	}
	if _, err := h.m.EndGame(ctx, st.Game.ID); !errors.Is(err, ErrGameEnded) {
		t.Fatalf("want ErrGameEnded, got %v", err)
	}
	stored, _ := h.repo.GetGame(ctx, st.Game.ID)
	if stored.Status != models.StatusEnded {
		t.Fatalf("end not persisted: %s", stored.Status)
	}
}

func TestStateRestoredFromRepository(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, teams := setupGame(t, h, "Alpha", "Beta")
	for _, team := range teams {
		if _, err := h.m.SubmitDecisions(ctx, st.Game.ID, team.ID, []string{"interpreter_service"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if _, err := h.m.AdvanceCycle(ctx, st.Game.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	want, _ := h.m.Game(ctx, st.Game.ID)

	restarted := NewManager(h.repo, storage.NewMemoryGuard(), h.pub, h.store, DefaultRules(), logger.Nop())
	got, err := restarted.Game(ctx, st.Game.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got.Game.CurrentCycle != 2 || got.Game.Status != models.StatusInCycle || !got.Resolved[1] {
		t.Fatalf("restored game: cycle=%d status=%s", got.Game.CurrentCycle, got.Game.Status)
	}
	for i := range want.Teams {
		if got.Teams[i].Cumulative != want.Teams[i].Cumulative {
			t.Fatalf("cumulative differs after restore")
		}
	}
	if got.Results[1][0].TeamID != teams[0].ID {
		t.Fatalf("restored results should be in join order")
	}
	if _, err := restarted.Game(ctx, "missing"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("want ErrGameNotFound, got %v", err)
	}
}
