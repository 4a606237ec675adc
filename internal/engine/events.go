package engine

import (
	"fmt"
	"math"

	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/models"
)

const eventSeedStride = 1000

// eventCount maps one draw to the number of events for a cycle.
func eventCount(cycle int, roll float64) int {
	if cycle == 1 {
		if roll < 0.7 {
			return 1
		}
		return 0
	}
	switch {
	case roll < 0.2:
		return 0
	case roll < 0.75:
		return 1
	case roll < 0.95:
		return 2
	default:
		return 3
	}
}

// GenerateEvents picks the random events for a cycle. Titles in seen are
// skipped rather than replaced, so fewer events than rolled may come back.
func GenerateEvents(library []content.Event, cycle int, scenarioSeed int64, seen []string) []content.Event {
	rng := NewIntStream(scenarioSeed + int64(cycle)*eventSeedStride)
	n := eventCount(cycle, rng())

	eligible := make([]content.Event, 0, len(library))
	for _, e := range library {
		if e.EligibleFor(cycle) {
			eligible = append(eligible, e)
		}
	}
	for i := len(eligible) - 1; i > 0; i-- {
		j := int(math.Floor(rng() * float64(i+1)))
		eligible[i], eligible[j] = eligible[j], eligible[i]
	}

	skip := make(map[string]bool, len(seen))
	for _, t := range seen {
		skip[t] = true
	}

	out := []content.Event{}
	for i := 0; i < n && i < len(eligible); i++ {
		e := eligible[i]
		if skip[e.Title] {
			continue
		}
		e.ID = fmt.Sprintf("%d-%d", cycle, i)
		out = append(out, e)
	}
	return out
}

// ApplyEventImpacts adds each event's impacts in order, clamping every field
// after each event. Order only matters when a clamp is hit.
func ApplyEventImpacts(state models.SystemState, events []content.Event) models.SystemState {
	for _, e := range events {
		im := e.Impacts
		if im.Backlog != nil {
			state.Backlog = math.Max(0, state.Backlog+*im.Backlog)
		}
		if im.DNARate != nil {
			state.DNARate = clamp(state.DNARate+*im.DNARate, 0, MaxDNARate)
		}
		if im.StaffSickness != nil {
			state.StaffSickness = clamp(state.StaffSickness+*im.StaffSickness, 0, MaxStaffSickness)
		}
		if im.StaffMorale != nil {
			state.StaffMorale = clamp(state.StaffMorale+*im.StaffMorale, 0, MaxStaffMorale)
		}
		if im.SafetyRisk != nil {
			state.SafetyRisk = math.Max(0, state.SafetyRisk+*im.SafetyRisk)
		}
		if im.CapacityModifier != nil {
			state.CapacityModifier += *im.CapacityModifier
		}
	}
	return state
}

// CarryOverState builds the next cycle's starting state from the previous
// state and the previous cycle's team metrics.
func CarryOverState(prev models.SystemState, metrics []models.OperationalMetrics) models.SystemState {
	if len(metrics) == 0 {
		return prev
	}
	next := prev
	var backlog, dna, sickness float64
	for _, m := range metrics {
		backlog += m.Backlog
		dna += m.DNARate
		sickness += m.StaffSickness
	}
	n := float64(len(metrics))
	next.Backlog = math.Round(backlog / n)
	next.DNARate = round1(dna / n)
	next.StaffSickness = round1(sickness / n)
	return next
}
