package progression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/progression/pkg/evaluator"
)

var (
	// ErrStatsUnavailable means the stats provider failed, timed out or was
	// cancelled. It is retryable and never means requirements are unmet.
	ErrStatsUnavailable    = errors.New("progression: stats unavailable")
	ErrIncompleteStats     = errors.New("progression: incomplete stats")
	ErrCustomerNotFound    = errors.New("progression: customer not found")
	ErrMissionNotFound     = errors.New("progression: mission not found")
	ErrAchievementNotFound = errors.New("progression: achievement not found")
	ErrRequirementsNotMet  = errors.New("progression: requirements not met")
	ErrLockUnavailable     = errors.New("progression: customer lock unavailable")
)

// RequirementsNotMetError carries the progress that fell short.
type RequirementsNotMetError struct {
	MissionID string
	Progress  evaluator.MissionProgress
}

func (e *RequirementsNotMetError) Error() string {
	var unmet []string
	for _, r := range e.Progress.Requirements {
		if !r.Satisfied {
			unmet = append(unmet, fmt.Sprintf("%s %v/%v", r.Key, r.Current, r.Threshold))
		}
	}
	return fmt.Sprintf("mission %s requirements not met (%.0f%%): %s",
		e.MissionID, e.Progress.Percent, strings.Join(unmet, ", "))
}

func (e *RequirementsNotMetError) Is(target error) bool { return target == ErrRequirementsNotMet }
