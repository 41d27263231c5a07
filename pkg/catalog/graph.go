package catalog

import (
	"sort"
	"strings"
)

// node is a mission in the arena. Edges are indices into Catalog.nodes.
type node struct {
	mission    Mission
	prereqs    []int // missions that must be completed first
	dependents []int // missions that list this one as a prerequisite
}

// linkGraph resolves prerequisite ids into index edges. It fails on the first
// prerequisite that names no mission.
func linkGraph(nodes []node, index map[string]int) error {
	for i := range nodes {
		m := &nodes[i].mission
		for _, pid := range m.Prerequisites {
			j, ok := index[pid]
			if !ok {
				return parseErr(KindDanglingPrerequisite, m.ID, "prerequisite %q is not a mission", pid)
			}
			nodes[i].prereqs = append(nodes[i].prereqs, j)
			nodes[j].dependents = append(nodes[j].dependents, i)
		}
	}
	for i := range nodes {
		sort.Ints(nodes[i].dependents)
	}
	return nil
}

// topoSort orders missions so that every prerequisite precedes its
// dependents (Kahn's algorithm, ties broken by id). A cycle is reported with
// the ids along it.
func topoSort(nodes []node) ([]int, error) {
	indegree := make([]int, len(nodes))
	for i := range nodes {
		indegree[i] = len(nodes[i].prereqs)
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	byID := func(s []int) {
		sort.Slice(s, func(a, b int) bool { return nodes[s[a]].mission.ID < nodes[s[b]].mission.ID })
	}
	byID(ready)

	order := make([]int, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var released []int
		for _, d := range nodes[n].dependents {
			indegree[d]--
			if indegree[d] == 0 {
				released = append(released, d)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			byID(ready)
		}
	}

	if len(order) == len(nodes) {
		return order, nil
	}
	path := findCycle(nodes, indegree)
	return nil, parseErr(KindCycle, nodes[path[0]].mission.ID, "prerequisite cycle %s", cyclePath(nodes, path))
}

// findCycle walks prerequisite edges among the unsorted nodes until it
// revisits one. Every unsorted node has an unsorted prerequisite, so the walk
// always closes.
func findCycle(nodes []node, indegree []int) []int {
	start := -1
	for i, d := range indegree {
		if d > 0 && (start < 0 || nodes[i].mission.ID < nodes[start].mission.ID) {
			start = i
		}
	}
	pos := make(map[int]int)
	var walk []int
	for n := start; ; {
		if at, seen := pos[n]; seen {
			return walk[at:]
		}
		pos[n] = len(walk)
		walk = append(walk, n)
		next := -1
		for _, p := range nodes[n].prereqs {
			if indegree[p] > 0 && (next < 0 || nodes[p].mission.ID < nodes[next].mission.ID) {
				next = p
			}
		}
		n = next
	}
}

func cyclePath(nodes []node, path []int) string {
	ids := make([]string, 0, len(path)+1)
	for _, n := range path {
		ids = append(ids, nodes[n].mission.ID)
	}
	ids = append(ids, nodes[path[0]].mission.ID)
	return strings.Join(ids, " -> ")
}
