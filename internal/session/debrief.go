package session

import (
	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/models"
)

// DebriefContext views the game as it stood at the end of cycle. Cumulative
// scores are rebuilt from the results up to that cycle.
func (s State) DebriefContext(lib *content.Library, cycle int) debrief.GameContext {
	if cycle > s.Game.CurrentCycle {
		cycle = s.Game.CurrentCycle
	}
	leaders := s.Game.LeaderByCycle
	if len(leaders) > cycle {
		leaders = leaders[:cycle]
	}

	teams := make([]debrief.TeamContext, 0, len(s.Teams))
	for _, t := range s.Teams {
		results := s.TeamResults(t.ID, cycle)
		var cum models.ScoreBreakdown
		for _, r := range results {
			cum = cum.Add(r.Scores)
		}
		var history []debrief.DecisionHistory
		for c := 1; c <= cycle; c++ {
			if sub, ok := s.Submissions[c][t.ID]; ok {
				history = append(history, debrief.DecisionHistory{Cycle: c, Decisions: lib.Resolve(sub.Decisions)})
			}
		}
		teams = append(teams, debrief.TeamContext{
			TeamID:       t.ID,
			TeamName:     t.Name,
			CurrentCycle: cycle,
			Results:      results,
			Decisions:    history,
			Cumulative:   cum,
		})
	}

	return debrief.GameContext{
		TotalTeams:    len(s.Teams),
		CurrentCycle:  cycle,
		LeaderByCycle: leaders,
		Teams:         teams,
	}
}
