package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// Category groups missions for display and ordering.
type Category string

const (
	Onboarding Category = "onboarding"
	Daily      Category = "daily"
	Financial  Category = "financial"
	Travel     Category = "travel"
	Social     Category = "social"
)

// Priority orders categories: lower values are shown first.
func (c Category) Priority() int {
	switch c {
	case Onboarding:
		return 0
	case Financial:
		return 1
	case Travel:
		return 2
	case Social:
		return 3
	case Daily:
		return 4
	default:
		return 5
	}
}

func parseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(s)); c {
	case Onboarding, Daily, Financial, Travel, Social:
		return c, true
	}
	return "", false
}

// ResetPeriod is the window after which a repeatable mission can be earned again.
type ResetPeriod string

const (
	ResetNone    ResetPeriod = ""
	ResetDaily   ResetPeriod = "daily"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
)

// WindowKey identifies the reset window containing t, in UTC.
// Daily windows are keyed 2026-10-17, ISO weeks 2026-W42, months 2026-10.
// Non-repeating missions have a single, empty window key.
func (p ResetPeriod) WindowKey(t time.Time) string {
	t = t.UTC()
	switch p {
	case ResetDaily:
		return t.Format("2006-01-02")
	case ResetWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case ResetMonthly:
		return t.Format("2006-01")
	default:
		return ""
	}
}

// WindowStart returns the first instant of the window containing t, in UTC.
func (p ResetPeriod) WindowStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case ResetDaily:
		return day
	case ResetWeekly:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case ResetMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// NextReset returns the first instant of the window following the one containing t.
func (p ResetPeriod) NextReset(t time.Time) time.Time {
	start := p.WindowStart(t)
	switch p {
	case ResetDaily:
		return start.AddDate(0, 0, 1)
	case ResetWeekly:
		return start.AddDate(0, 0, 7)
	case ResetMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// Rank is an achievement rank. The numeric value is the order.
type Rank int

const (
	Bronze Rank = iota + 1
	Silver
	Gold
	Platinum
	Diamond
)

var rankNames = map[Rank]string{
	Bronze:   "bronze",
	Silver:   "silver",
	Gold:     "gold",
	Platinum: "platinum",
	Diamond:  "diamond",
}

func (r Rank) String() string {
	if s, ok := rankNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

// ParseRank resolves a rank name.
func ParseRank(s string) (Rank, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range rankNames {
		if name == s {
			return r, true
		}
	}
	return 0, false
}

// MarshalText encodes the rank by name.
func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Comparator is a requirement comparison.
type Comparator int

const (
	AtLeast   Comparator = iota + 1 // numeric current >= threshold
	Equal                           // numeric current == threshold
	BoolEqual                       // boolean current == threshold
)

func (c Comparator) String() string {
	switch c {
	case AtLeast:
		return ">="
	case Equal:
		return "="
	case BoolEqual:
		return "is"
	default:
		return "?"
	}
}

// MarshalText encodes the comparator symbol.
func (c Comparator) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Threshold is the target value of a requirement.
type Threshold struct {
	Kind   stats.Kind
	Number float64
	Bool   bool
}

func (t Threshold) String() string {
	if t.Kind == stats.KindBool {
		return fmt.Sprintf("%t", t.Bool)
	}
	return decimal.NewFromFloat(t.Number).String()
}

// Requirement is a parsed mission requirement.
type Requirement struct {
	Key        stats.Key
	Comparator Comparator
	Threshold  Threshold
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s %s %s", r.Key, r.Comparator, r.Threshold)
}

// Mission is an immutable mission definition.
// Slices are shared with the catalog and must not be modified.
type Mission struct {
	ID            string
	Title         string
	Description   string
	Category      Category
	EligibleTiers []tiers.Tier
	Prerequisites []string      // sorted
	Requirements  []Requirement // sorted by key
	Reward        decimal.Decimal
	Repeatable    bool
	ResetPeriod   ResetPeriod
}

// EligibleFor reports whether customers of tier t may see the mission.
func (m Mission) EligibleFor(t tiers.Tier) bool {
	for _, et := range m.EligibleTiers {
		if et == t {
			return true
		}
	}
	return false
}

// Requirement returns the requirement on key k.
func (m Mission) Requirement(k stats.Key) (Requirement, bool) {
	for _, r := range m.Requirements {
		if r.Key == k {
			return r, true
		}
	}
	return Requirement{}, false
}

// Achievement is an immutable achievement definition with its compiled predicate.
type Achievement struct {
	ID          string
	Name        string
	Description string
	Predicate   string // normalized CEL source
	Reward      decimal.Decimal
	Rank        Rank

	refs    []stats.Key
	program cel.Program
}

// Program returns the compiled predicate.
func (a Achievement) Program() cel.Program { return a.program }

// References returns the stat keys the predicate reads, sorted.
func (a Achievement) References() []stats.Key {
	out := make([]stats.Key, len(a.refs))
	copy(out, a.refs)
	return out
}
