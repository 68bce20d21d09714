package workflow

import "sort"

// TopologicalSort returns task IDs ordered so that every dependency
// precedes its dependents. Ties are broken by ID for determinism.
func (wf *Workflow) TopologicalSort() []string {
	indegree := make(map[string]int, len(wf.order))
	for _, id := range wf.order {
		indegree[id] = len(wf.adjBack[id])
	}

	var ready []string
	for _, id := range wf.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(wf.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		var next []string
		for _, dep := range wf.adjFwd[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	return result
}

// ExecutionLevels partitions the DAG into antichains: level i contains
// every task whose longest dependency chain from a root has length i, so
// all tasks in the same level can run in parallel.
func (wf *Workflow) ExecutionLevels() [][]string {
	level := make(map[string]int, len(wf.order))
	for _, id := range wf.TopologicalSort() {
		max := -1
		for _, dep := range wf.adjBack[id] {
			if level[dep] > max {
				max = level[dep]
			}
		}
		level[id] = max + 1
	}

	maxLevel := -1
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range wf.order {
		levels[level[id]] = append(levels[level[id]], id)
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return levels
}

// Roots returns tasks with no dependencies.
func (wf *Workflow) Roots() []string {
	var roots []string
	for _, id := range wf.order {
		if len(wf.adjBack[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns tasks with no dependents.
func (wf *Workflow) Leaves() []string {
	var leaves []string
	for _, id := range wf.order {
		if len(wf.adjFwd[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// CanRunParallel reports whether a and b may execute concurrently: true iff
// neither transitively depends on the other.
func (wf *Workflow) CanRunParallel(a, b string) bool {
	if a == b {
		return false
	}
	return !wf.transitivelyDependsOn(a, b) && !wf.transitivelyDependsOn(b, a)
}

// transitivelyDependsOn reports whether id transitively depends on target
// (i.e. target must complete before id can run).
func (wf *Workflow) transitivelyDependsOn(id, target string) bool {
	visited := make(map[string]bool)
	var walk func(string) bool
	walk = func(cur string) bool {
		if visited[cur] {
			return false
		}
		visited[cur] = true
		for _, dep := range wf.adjBack[cur] {
			if dep == target {
				return true
			}
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(id)
}
