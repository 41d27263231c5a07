// Package catalog loads and serves the immutable mission and achievement
// definitions.
//
// A catalog is validated completely at load time: schema, version, stat keys,
// comparators, thresholds, prerequisite references, prerequisite cycles and
// achievement predicates. A *Catalog returned by Load is read-only and safe
// for concurrent use without locking.
package catalog

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Catalog is a loaded, validated catalog.
type Catalog struct {
	version *semver.Version

	nodes []node
	index map[string]int
	order []int // topological

	achievements []Achievement // rank, then id
	achIndex     map[string]int
}

// Version returns the catalog's declared version.
func (c *Catalog) Version() string { return c.version.String() }

// Get returns the mission with the given id.
func (c *Catalog) Get(id string) (Mission, bool) {
	i, ok := c.index[normalizeID(id)]
	if !ok {
		return Mission{}, false
	}
	return c.nodes[i].mission, true
}

// Len returns the number of missions.
func (c *Catalog) Len() int { return len(c.nodes) }

// Missions returns every mission in topological order: each mission appears
// after all of its prerequisites.
func (c *Catalog) Missions() []Mission {
	out := make([]Mission, 0, len(c.order))
	for _, i := range c.order {
		out = append(out, c.nodes[i].mission)
	}
	return out
}

// Prerequisites returns the ids that must be completed before id.
func (c *Catalog) Prerequisites(id string) []string {
	i, ok := c.index[normalizeID(id)]
	if !ok {
		return nil
	}
	return c.ids(c.nodes[i].prereqs)
}

// Dependents returns the ids of missions that list id as a prerequisite.
func (c *Catalog) Dependents(id string) []string {
	i, ok := c.index[normalizeID(id)]
	if !ok {
		return nil
	}
	return c.ids(c.nodes[i].dependents)
}

func (c *Catalog) ids(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.nodes[i].mission.ID)
	}
	sort.Strings(out)
	return out
}

// Achievement returns the achievement with the given id.
func (c *Catalog) Achievement(id string) (Achievement, bool) {
	i, ok := c.achIndex[normalizeID(id)]
	if !ok {
		return Achievement{}, false
	}
	return c.achievements[i], true
}

// Achievements returns every achievement ordered by rank, then id.
func (c *Catalog) Achievements() []Achievement {
	out := make([]Achievement, len(c.achievements))
	copy(out, c.achievements)
	return out
}
