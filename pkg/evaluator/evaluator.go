// Package evaluator computes requirement progress and achievement predicates
// against a stats snapshot. Every function is pure.
package evaluator

import (
	"errors"
	"fmt"
	"math"

	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/stats"
)

// ErrPredicateResult is returned when a predicate does not produce a bool.
var ErrPredicateResult = errors.New("evaluator: predicate result is not a bool")

// RequirementProgress is the state of one requirement.
type RequirementProgress struct {
	Key        stats.Key          `json:"key"`
	Comparator catalog.Comparator `json:"comparator"`
	Threshold  any                `json:"threshold"`
	Current    any                `json:"current"`
	Percent    float64            `json:"progress_pct"`
	Satisfied  bool               `json:"satisfied"`
}

// MissionProgress is the state of every requirement of a mission.
// Percent is the minimum across requirements. Missing lists the stats a
// Preview could not read.
type MissionProgress struct {
	Percent      float64               `json:"progress_pct"`
	Satisfied    bool                  `json:"satisfied"`
	Requirements []RequirementProgress `json:"requirements"`
	Missing      []stats.Key           `json:"missing_stats,omitempty"`
}

// Requirement evaluates r against snap. A stat absent from the snapshot is
// reported as *stats.MissingStatError.
func Requirement(r catalog.Requirement, snap stats.Snapshot) (RequirementProgress, error) {
	out := RequirementProgress{Key: r.Key, Comparator: r.Comparator}

	if r.Comparator == catalog.BoolEqual {
		cur, err := snap.Bool(r.Key)
		if err != nil {
			return RequirementProgress{}, err
		}
		out.Threshold = threshold(r)
		out.Current = cur
		out.Satisfied = cur == r.Threshold.Bool
		if out.Satisfied {
			out.Percent = 100
		}
		return out, nil
	}

	cur, err := snap.Number(r.Key)
	if err != nil {
		return RequirementProgress{}, err
	}
	out.Threshold = threshold(r)
	out.Current = cur
	out.Percent = percent(cur, r.Threshold.Number)

	switch r.Comparator {
	case catalog.AtLeast:
		out.Satisfied = cur >= r.Threshold.Number
	case catalog.Equal:
		out.Satisfied = cur == r.Threshold.Number
	default:
		return RequirementProgress{}, fmt.Errorf("evaluator: unsupported comparator %s", r.Comparator)
	}
	return out, nil
}

func threshold(r catalog.Requirement) any {
	if r.Comparator == catalog.BoolEqual {
		return r.Threshold.Bool
	}
	return r.Threshold.Number
}

// percent is min(100, current/threshold*100), floored at 0. The catalog
// guarantees threshold > 0.
func percent(current, threshold float64) float64 {
	p := current * 100 / threshold
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Mission evaluates every requirement of m. A mission without requirements
// is complete.
func Mission(m catalog.Mission, snap stats.Snapshot) (MissionProgress, error) {
	out := MissionProgress{
		Percent:      100,
		Satisfied:    true,
		Requirements: make([]RequirementProgress, 0, len(m.Requirements)),
	}
	for _, r := range m.Requirements {
		rp, err := Requirement(r, snap)
		if err != nil {
			return MissionProgress{}, fmt.Errorf("mission %s: %w", m.ID, err)
		}
		out.Requirements = append(out.Requirements, rp)
		out.Percent = math.Min(out.Percent, rp.Percent)
		out.Satisfied = out.Satisfied && rp.Satisfied
	}
	return out, nil
}

// Preview is Mission for display: a requirement whose stat is missing counts
// as 0% and unsatisfied, and its key is listed in Missing. Other errors are
// returned as by Mission.
func Preview(m catalog.Mission, snap stats.Snapshot) (MissionProgress, error) {
	out := MissionProgress{
		Percent:      100,
		Satisfied:    true,
		Requirements: make([]RequirementProgress, 0, len(m.Requirements)),
	}
	for _, r := range m.Requirements {
		rp, err := Requirement(r, snap)
		switch {
		case errors.Is(err, stats.ErrMissingStat):
			rp = RequirementProgress{Key: r.Key, Comparator: r.Comparator, Threshold: threshold(r)}
			out.Missing = append(out.Missing, r.Key)
		case err != nil:
			return MissionProgress{}, fmt.Errorf("mission %s: %w", m.ID, err)
		}
		out.Requirements = append(out.Requirements, rp)
		out.Percent = math.Min(out.Percent, rp.Percent)
		out.Satisfied = out.Satisfied && rp.Satisfied
	}
	return out, nil
}

// Achievement evaluates a's predicate against snap.
func Achievement(a catalog.Achievement, snap stats.Snapshot) (bool, error) {
	for _, k := range a.References() {
		if !snap.Has(k) {
			return false, fmt.Errorf("achievement %s: %w", a.ID, &stats.MissingStatError{Key: k})
		}
	}
	prg := a.Program()
	if prg == nil {
		return false, fmt.Errorf("achievement %s: predicate not compiled", a.ID)
	}
	out, _, err := prg.Eval(snap.Activation())
	if err != nil {
		return false, fmt.Errorf("achievement %s: eval: %w", a.ID, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("achievement %s: %w", a.ID, ErrPredicateResult)
	}
	return val, nil
}
