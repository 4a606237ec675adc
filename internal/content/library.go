package content

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/atomic"
	"gopkg.in/yaml.v2"

	"safe-by-design/server/internal/models"
)

//go:embed data/*.yaml
var embedded embed.FS

// Library is the read-only reference data for a game. Never mutate a
// Library after Load returns it; reload into a new one and swap.
type Library struct {
	decisions []Decision
	byID      map[string]Decision
	briefs    map[int]CycleBrief
	questions []Question
	events    []Event
}

type decisionFile struct {
	Decisions []Decision `yaml:"decisions"`
}

type briefFile struct {
	Briefs []CycleBrief `yaml:"briefs"`
}

type questionFile struct {
	Questions []Question `yaml:"questions"`
}

type eventFile struct {
	Events []Event `yaml:"events"`
}

// Load reads the embedded content tables.
func Load() (*Library, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadDir reads content tables from a directory on disk.
func LoadDir(dir string) (*Library, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads decisions.yaml, briefs.yaml, questions.yaml and events.yaml.
func LoadFS(fsys fs.FS) (*Library, error) {
	var (
		df decisionFile
		bf briefFile
		qf questionFile
		ef eventFile
	)
	for name, out := range map[string]interface{}{
		"decisions.yaml": &df,
		"briefs.yaml":    &bf,
		"questions.yaml": &qf,
		"events.yaml":    &ef,
	} {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := yaml.UnmarshalStrict(data, out); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}

	lib := &Library{
		decisions: df.Decisions,
		byID:      make(map[string]Decision, len(df.Decisions)),
		briefs:    make(map[int]CycleBrief, len(bf.Briefs)),
		questions: qf.Questions,
		events:    ef.Events,
	}
	for _, d := range df.Decisions {
		lib.byID[d.ID] = d
	}
	for _, b := range bf.Briefs {
		lib.briefs[b.Cycle] = b
	}
	if err := lib.validate(len(df.Decisions), len(bf.Briefs)); err != nil {
		return nil, err
	}
	return lib, nil
}

func (l *Library) validate(decisionCount, briefCount int) error {
	if len(l.byID) != decisionCount {
		return fmt.Errorf("decision ids are not unique")
	}
	if len(l.briefs) != briefCount {
		return fmt.Errorf("cycle briefs are not unique per cycle")
	}
	for _, d := range l.decisions {
		switch d.Timing {
		case TimingImmediate, TimingDelayed, TimingBoth:
		default:
			return fmt.Errorf("decision %s: invalid timing %q", d.ID, d.Timing)
		}
		for _, a := range d.PillarAdjustments {
			if !a.Pillar.Valid() {
				return fmt.Errorf("decision %s: unknown pillar %q", d.ID, a.Pillar)
			}
		}
		for _, t := range d.Tradeoffs {
			if !t.Target.Valid() {
				return fmt.Errorf("decision %s: unknown tradeoff target %q", d.ID, t.Target)
			}
		}
		for _, m := range d.MetricEffects {
			switch m.Metric {
			case MetricBacklog, MetricDNARate, MetricStaffSickness:
			default:
				return fmt.Errorf("decision %s: unknown metric %q", d.ID, m.Metric)
			}
		}
	}

	themes := make(map[string]bool, len(Themes))
	for _, t := range Themes {
		themes[t] = true
	}
	seen := make(map[string]bool, len(l.questions))
	for _, q := range l.questions {
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
		if !themes[q.Theme] {
			return fmt.Errorf("question %s: unknown theme %q", q.ID, q.Theme)
		}
		if q.Priority < 1 || q.Priority > 5 {
			return fmt.Errorf("question %s: priority %d out of range", q.ID, q.Priority)
		}
		if q.Scope != ScopeTeam && q.Scope != ScopeAll {
			return fmt.Errorf("question %s: invalid scope %q", q.ID, q.Scope)
		}
	}
	for i, e := range l.events {
		switch e.Severity {
		case SeverityInfo, SeverityWarning, SeverityCritical:
		default:
			return fmt.Errorf("event %d (%s): invalid severity %q", i, e.Title, e.Severity)
		}
	}
	return nil
}

// Decisions returns the catalog in file order.
func (l *Library) Decisions() []Decision {
	out := make([]Decision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

func (l *Library) Decision(id string) (Decision, bool) {
	d, ok := l.byID[id]
	return d, ok
}

// Resolve maps ids to catalog entries, dropping unknown and repeated ids.
func (l *Library) Resolve(ids []string) []Decision {
	out := make([]Decision, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		d, ok := l.byID[id]
		if !ok {
			continue
		}
		seen[id] = true
		out = append(out, d)
	}
	return out
}

// Cost sums the costs of the given decisions.
func Cost(decisions []Decision) models.Budgets {
	var total models.Budgets
	for _, d := range decisions {
		total = total.Add(d.Costs)
	}
	return total
}

func (l *Library) Brief(cycle int) (CycleBrief, bool) {
	b, ok := l.briefs[cycle]
	return b, ok
}

func (l *Library) Questions() []Question {
	out := make([]Question, len(l.questions))
	copy(out, l.questions)
	return out
}

func (l *Library) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Store holds the current Library and swaps it atomically on reload.
type Store struct {
	current atomic.Pointer[Library]
}

func NewStore(lib *Library) *Store {
	s := &Store{}
	s.current.Store(lib)
	return s
}

func (s *Store) Current() *Library {
	return s.current.Load()
}

// Reload parses dir and replaces the current library. On error the
// previous library stays in place.
func (s *Store) Reload(dir string) error {
	lib, err := LoadDir(dir)
	if err != nil {
		return err
	}
	s.current.Store(lib)
	return nil
}
