// Package state holds a customer's progression state: which missions are
// started and completed, and which achievements are unlocked.
//
// State is a plain value. It changes only by applying Change records, which
// the store persists in the same transaction as the matching ledger entry.
package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownChange is returned by Apply for an unrecognised change kind.
var ErrUnknownChange = errors.New("state: unknown change kind")

// MissionStatus is the lifecycle of a mission for one customer.
type MissionStatus string

const (
	StatusNotVisible MissionStatus = "not_visible"
	StatusAvailable  MissionStatus = "available"
	StatusInProgress MissionStatus = "in_progress"
	StatusCompleted  MissionStatus = "completed"
	StatusExpired    MissionStatus = "expired"
)

// Completion records the most recent completion of a mission.
type Completion struct {
	At     time.Time `json:"at"`
	Window string    `json:"window,omitempty"` // reset window key, empty for one-shot missions
	Count  int       `json:"count"`
}

// Start records the most recent start of a mission.
type Start struct {
	At     time.Time `json:"at"`
	Window string    `json:"window,omitempty"`
}

// Customer is the progression state of one customer.
type Customer struct {
	CustomerID   string                `json:"customer_id"`
	Completed    map[string]Completion `json:"completed"`
	Started      map[string]Start      `json:"started"`
	Achievements map[string]time.Time  `json:"achievements"`
}

// New returns the empty state of a customer seen for the first time.
func New(customerID string) *Customer {
	return &Customer{
		CustomerID:   customerID,
		Completed:    make(map[string]Completion),
		Started:      make(map[string]Start),
		Achievements: make(map[string]time.Time),
	}
}

// HasCompleted reports whether the mission was ever completed.
func (c *Customer) HasCompleted(missionID string) bool {
	_, ok := c.Completed[missionID]
	return ok
}

// CompletedIn reports whether the mission was completed in the given window.
// For one-shot missions the window is empty and this equals HasCompleted.
func (c *Customer) CompletedIn(missionID, window string) bool {
	done, ok := c.Completed[missionID]
	return ok && done.Window == window
}

// StartedIn reports whether the mission was started in the given window.
func (c *Customer) StartedIn(missionID, window string) bool {
	s, ok := c.Started[missionID]
	return ok && s.Window == window
}

// HasAchievement reports whether the achievement is unlocked.
func (c *Customer) HasAchievement(id string) bool {
	_, ok := c.Achievements[id]
	return ok
}

// CompletedSet returns the ids of every mission ever completed.
func (c *Customer) CompletedSet() map[string]bool {
	out := make(map[string]bool, len(c.Completed))
	for id := range c.Completed {
		out[id] = true
	}
	return out
}

// Clone returns a deep copy.
func (c *Customer) Clone() *Customer {
	out := New(c.CustomerID)
	for k, v := range c.Completed {
		out.Completed[k] = v
	}
	for k, v := range c.Started {
		out.Started[k] = v
	}
	for k, v := range c.Achievements {
		out.Achievements[k] = v
	}
	return out
}

// ChangeKind identifies a state transition.
type ChangeKind string

const (
	MissionStarted      ChangeKind = "mission_started"
	MissionCompleted    ChangeKind = "mission_completed"
	AchievementUnlocked ChangeKind = "achievement_unlocked"
)

// Change is a single state transition.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	CustomerID string     `json:"customer_id"`
	RefID      string     `json:"ref_id"` // mission or achievement id
	Window     string     `json:"window,omitempty"`
	At         time.Time  `json:"at"`
}

// Apply mutates c with ch. Applying the same change twice is harmless.
func (c *Customer) Apply(ch Change) error {
	if ch.CustomerID != "" && ch.CustomerID != c.CustomerID {
		return fmt.Errorf("state: change for %s applied to %s", ch.CustomerID, c.CustomerID)
	}
	switch ch.Kind {
	case MissionStarted:
		if c.StartedIn(ch.RefID, ch.Window) {
			return nil
		}
		c.Started[ch.RefID] = Start{At: ch.At, Window: ch.Window}
	case MissionCompleted:
		prev, ok := c.Completed[ch.RefID]
		if ok && prev.Window == ch.Window {
			return nil
		}
		c.Completed[ch.RefID] = Completion{At: ch.At, Window: ch.Window, Count: prev.Count + 1}
	case AchievementUnlocked:
		if _, ok := c.Achievements[ch.RefID]; ok {
			return nil
		}
		c.Achievements[ch.RefID] = ch.At
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChange, ch.Kind)
	}
	return nil
}
