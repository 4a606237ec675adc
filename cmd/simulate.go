package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/prompts"
	"safe-by-design/server/internal/session"
)

const maxPicksPerCycle = 3

type simulation struct {
	State   session.State
	Prompts map[int]debrief.CyclePrompts
	Final   debrief.FacilitatorPrompts
}

// pickDecisions gives each team a different, repeatable plan: walk the
// catalog from an offset that depends on the team and cycle, taking whatever
// still fits the budget.
func pickDecisions(lib *content.Library, budget models.Budgets, team, cycle int) []string {
	catalog := lib.Decisions()
	if len(catalog) == 0 {
		return nil
	}
	var picked []content.Decision
	start := (team*5 + cycle*2) % len(catalog)
	for i := 0; i < len(catalog) && len(picked) < maxPicksPerCycle; i++ {
		d := catalog[(start+i)%len(catalog)]
		if content.Cost(append(picked, d)).Within(budget) {
			picked = append(picked, d)
		}
	}
	ids := make([]string, len(picked))
	for i, d := range picked {
		ids[i] = d.ID
	}
	return ids
}

// simulate plays a whole game through the session transitions with no
// storage or transport attached.
func simulate(lib *content.Library, rules session.Rules, th debrief.Thresholds, teamNames []string, seed int64) (simulation, error) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	st, err := session.NewGame(rules, len(teamNames), "simulator", "SIM234", seed, now)
	if err != nil {
		return simulation{}, err
	}
	for _, name := range teamNames {
		if st, _, _, err = session.AddTeam(st, name, models.RoleAssignments{}, now); err != nil {
			return simulation{}, err
		}
	}
	if st, _, err = session.StartCycle(st, lib, rules, now); err != nil {
		return simulation{}, err
	}

	engine := debrief.NewEngine(lib.Questions(), th, prompts.NewTemplateEngine())
	sim := simulation{Prompts: make(map[int]debrief.CyclePrompts)}
	for {
		cycle := st.Game.CurrentCycle
		for i, team := range st.Teams {
			ids := pickDecisions(lib, rules.Budget, i, cycle)
			if st, _, _, err = session.Submit(st, lib, rules, team.ID, ids, now); err != nil {
				return simulation{}, fmt.Errorf("cycle %d %s: %w", cycle, team.Name, err)
			}
		}
		if st, _, _, err = session.Resolve(st, lib, now); err != nil {
			return simulation{}, fmt.Errorf("resolve cycle %d: %w", cycle, err)
		}
		sim.Prompts[cycle] = engine.ForCycle(st.DebriefContext(lib, cycle))

		if cycle >= models.TotalCycles {
			break
		}
		if st, _, err = session.Advance(st, lib, now); err != nil {
			return simulation{}, err
		}
	}

	sim.Final = engine.EndOfGame(st.DebriefContext(lib, st.Game.CurrentCycle))
	if st, _, err = session.End(st, &sim.Final, now); err != nil {
		return simulation{}, err
	}
	sim.State = st
	return sim, nil
}

func teamName(st session.State, id string) string {
	for _, t := range st.Teams {
		if t.ID == id {
			return t.Name
		}
	}
	return id
}

func render(w io.Writer, sim simulation, showPrompts bool) {
	st := sim.State
	fmt.Fprintf(w, "Scenario seed %d, %d teams\n\n", st.Game.ScenarioSeed, len(st.Teams))

	for cycle := 1; cycle <= len(st.Results); cycle++ {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle(fmt.Sprintf("Cycle %d", cycle))
		tw.AppendHeader(table.Row{"Team", "Decisions", "Safety", "Equity", "Staff", "Resilience", "Total", "Incidents"})
		for _, r := range st.Results[cycle] {
			sub := st.Submissions[cycle][r.TeamID]
			tw.AppendRow(table.Row{
				teamName(st, r.TeamID),
				strings.Join(sub.Decisions, ", "),
				fmt.Sprintf("%.1f", r.Scores.Safety),
				fmt.Sprintf("%.1f", r.Scores.Equity),
				fmt.Sprintf("%.1f", r.Scores.Staff),
				fmt.Sprintf("%.1f", r.Scores.Resilience),
				fmt.Sprintf("%.1f", r.Scores.Total),
				r.Metrics.Incidents,
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, WidthMax: 48},
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
			{Number: 7, Align: text.AlignRight},
		})
		tw.Render()

		if showPrompts {
			for _, q := range sim.Prompts[cycle].AllTeams {
				fmt.Fprintf(w, "  [room] %s\n", q.Text)
			}
		}
		fmt.Fprintln(w)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Final leaderboard")
	tw.AppendHeader(table.Row{"#", "Team", "Safety", "Equity", "Staff", "Resilience", "Total"})
	for _, e := range st.Leaderboard() {
		c := e.Cumulative
		tw.AppendRow(table.Row{e.Rank, e.TeamName,
			fmt.Sprintf("%.1f", c.Safety), fmt.Sprintf("%.1f", c.Equity),
			fmt.Sprintf("%.1f", c.Staff), fmt.Sprintf("%.1f", c.Resilience),
			fmt.Sprintf("%.1f", c.Total)})
	}
	tw.Render()

	if showPrompts {
		fmt.Fprintf(w, "\n%s\n", sim.Final.GameNarrative)
		for _, q := range sim.Final.AllTeams {
			fmt.Fprintf(w, "  [room] %s\n", q.Text)
		}
		for _, team := range sim.Final.PerTeam {
			for _, q := range team.SuggestedQuestions {
				fmt.Fprintf(w, "  [%s] %s\n", team.TeamName, q.Text)
			}
		}
	}
}

func simulateCmd() *cobra.Command {
	var (
		teams       int
		seed        int64
		showPrompts bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a seeded game headlessly and print each cycle's scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lib, err := loadContent()
			if err != nil {
				return err
			}
			th, err := thresholds(cfg)
			if err != nil {
				return err
			}
			if seed < 0 {
				if seed, err = session.NewScenarioSeed(); err != nil {
					return err
				}
			}
			names := make([]string, teams)
			for i := range names {
				names[i] = fmt.Sprintf("Team %c", 'A'+i)
			}
			sim, err := simulate(lib, session.RulesFromConfig(cfg.Game), th, names, seed)
			if err != nil {
				return err
			}
			render(os.Stdout, sim, showPrompts)
			return nil
		},
	}
	cmd.Flags().IntVar(&teams, "teams", 3, "number of teams")
	cmd.Flags().Int64Var(&seed, "seed", -1, "scenario seed (random when negative)")
	cmd.Flags().BoolVar(&showPrompts, "prompts", false, "print facilitator prompts")
	return cmd
}
