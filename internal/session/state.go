package session

import (
	"sort"

	"safe-by-design/server/internal/config"
	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
)

// Rules are the per-deployment game limits.
type Rules struct {
	MinTeams int
	MaxTeams int
	Budget   models.Budgets
}

func DefaultRules() Rules {
	return RulesFromConfig(config.Default().Game)
}

func RulesFromConfig(cfg config.GameConfig) Rules {
	return Rules{
		MinTeams: cfg.MinTeams,
		MaxTeams: cfg.MaxTeams,
		Budget: models.Budgets{
			Capacity:    cfg.Budget.Capacity,
			StaffEnergy: cfg.Budget.StaffEnergy,
			Cash:        cfg.Budget.Cash,
		},
	}
}

// State is everything the orchestrator knows about one game. Transitions
// never modify their input; they work on a Clone.
type State struct {
	Game  models.Game   `json:"game"`
	Teams []models.Team `json:"teams"`
	// Submissions is keyed by cycle, then team id.
	Submissions map[int]map[string]models.DecisionSubmission `json:"submissions"`
	// Results holds each resolved cycle's results in join order.
	Results  map[int][]models.CycleResult `json:"results"`
	Resolved map[int]bool                 `json:"-"`
	// Brief and Events describe the current cycle only.
	Brief  *content.CycleBrief `json:"brief,omitempty"`
	Events []content.Event     `json:"events"`
}

func NewState(game models.Game) State {
	return State{
		Game:        game,
		Teams:       []models.Team{},
		Submissions: make(map[int]map[string]models.DecisionSubmission),
		Results:     make(map[int][]models.CycleResult),
		Resolved:    make(map[int]bool),
		Events:      []content.Event{},
	}
}

func (s State) Clone() State {
	c := s
	c.Game.LeaderByCycle = append([]string(nil), s.Game.LeaderByCycle...)
	c.Game.SeenEvents = append([]string(nil), s.Game.SeenEvents...)
	c.Teams = append([]models.Team{}, s.Teams...)

	c.Submissions = make(map[int]map[string]models.DecisionSubmission, len(s.Submissions))
	for cycle, subs := range s.Submissions {
		m := make(map[string]models.DecisionSubmission, len(subs))
		for id, sub := range subs {
			sub.Decisions = append([]string(nil), sub.Decisions...)
			m[id] = sub
		}
		c.Submissions[cycle] = m
	}

	c.Results = make(map[int][]models.CycleResult, len(s.Results))
	for cycle, rs := range s.Results {
		c.Results[cycle] = append([]models.CycleResult(nil), rs...)
	}

	c.Resolved = make(map[int]bool, len(s.Resolved))
	for cycle, ok := range s.Resolved {
		c.Resolved[cycle] = ok
	}

	if s.Brief != nil {
		b := *s.Brief
		c.Brief = &b
	}
	c.Events = append([]content.Event{}, s.Events...)
	return c
}

func (s State) team(id string) (int, bool) {
	for i, t := range s.Teams {
		if t.ID == id {
			return i, true
		}
	}
	return -1, false
}

// AllSubmitted reports whether every joined team has a submission for the
// current cycle.
func (s State) AllSubmitted() bool {
	if len(s.Teams) == 0 {
		return false
	}
	subs := s.Submissions[s.Game.CurrentCycle]
	for _, t := range s.Teams {
		if _, ok := subs[t.ID]; !ok {
			return false
		}
	}
	return true
}

// SubmittedCount is the number of distinct teams that submitted this cycle.
func (s State) SubmittedCount() int {
	return len(s.Submissions[s.Game.CurrentCycle])
}

// TeamResults returns a team's results in cycle order, up to and including
// maxCycle.
func (s State) TeamResults(teamID string, maxCycle int) []models.CycleResult {
	var out []models.CycleResult
	for cycle := 1; cycle <= maxCycle; cycle++ {
		for _, r := range s.Results[cycle] {
			if r.TeamID == teamID {
				out = append(out, r)
			}
		}
	}
	return out
}

type LeaderboardEntry struct {
	Rank       int                   `json:"rank"`
	TeamID     string                `json:"team_id"`
	TeamName   string                `json:"team_name"`
	Cumulative models.ScoreBreakdown `json:"cumulative_score"`
}

// Leaderboard ranks teams by cumulative total; ties keep join order.
func (s State) Leaderboard() []LeaderboardEntry {
	teams := append([]models.Team(nil), s.Teams...)
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].JoinOrder < teams[j].JoinOrder })
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Cumulative.Total > teams[j].Cumulative.Total })

	out := make([]LeaderboardEntry, 0, len(teams))
	for i, t := range teams {
		out = append(out, LeaderboardEntry{Rank: i + 1, TeamID: t.ID, TeamName: t.Name, Cumulative: t.Cumulative})
	}
	return out
}

type Summary struct {
	GameID         string                     `json:"game_id"`
	GameCode       string                     `json:"game_code"`
	CyclesPlayed   int                        `json:"cycles_played"`
	FinalScores    []LeaderboardEntry         `json:"final_scores"`
	PillarRankings map[models.Pillar][]string `json:"pillar_rankings"`
	IncidentTotals map[string]int             `json:"incident_totals"`
}

// Summary gathers the end-of-game figures. Pillar rankings list team ids
// from strongest to weakest cumulative pillar score.
func (s State) Summary() Summary {
	board := s.Leaderboard()
	sum := Summary{
		GameID:         s.Game.ID,
		GameCode:       s.Game.Code,
		CyclesPlayed:   len(s.Results),
		FinalScores:    board,
		PillarRankings: make(map[models.Pillar][]string, len(models.Pillars)),
		IncidentTotals: make(map[string]int, len(s.Teams)),
	}

	for _, p := range models.Pillars {
		ranked := append([]LeaderboardEntry(nil), board...)
		pillar := p
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Cumulative.Pillar(pillar) > ranked[j].Cumulative.Pillar(pillar)
		})
		ids := make([]string, 0, len(ranked))
		for _, e := range ranked {
			ids = append(ids, e.TeamID)
		}
		sum.PillarRankings[p] = ids
	}

	for _, t := range s.Teams {
		sum.IncidentTotals[t.ID] = 0
	}
	for _, rs := range s.Results {
		for _, r := range rs {
			sum.IncidentTotals[r.TeamID] += r.Metrics.Incidents
		}
	}
	return sum
}
