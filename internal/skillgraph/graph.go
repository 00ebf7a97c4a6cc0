package skillgraph

import (
	"sort"
	"strconv"
	"sync"

	"github.com/skilltrace/backend/internal/models"
)

// Graph is an in-memory prerequisite DAG over skills. Edges run
// prerequisite → skill: a skill's prerequisite set holds the skills that
// must be learned first. Reads are safe to share; mutation takes the
// write lock.
type Graph struct {
	mu         sync.RWMutex
	skills     map[int64]models.Skill
	order      []int64 // insertion order, used for deterministic listings
	prereqs    map[int64]map[int64]bool
	dependents map[int64]map[int64]bool
}

func New() *Graph {
	return &Graph{
		skills:     make(map[int64]models.Skill),
		prereqs:    make(map[int64]map[int64]bool),
		dependents: make(map[int64]map[int64]bool),
	}
}

// Build constructs a graph from a curriculum snapshot. Edges whose
// endpoints are unknown are skipped; edges that would create a cycle are
// still inserted, because cycles already present in stored data must be
// observable (via FindCycles/Validate) rather than fatal.
func Build(skills []models.Skill, edges [][2]int64) *Graph {
	g := New()
	for _, s := range skills {
		g.AddSkill(s)
	}
	for _, e := range edges {
		prereqID, skillID := e[0], e[1]
		g.mu.Lock()
		if _, ok := g.skills[skillID]; ok {
			if _, ok := g.skills[prereqID]; ok {
				g.prereqs[skillID][prereqID] = true
				g.dependents[prereqID][skillID] = true
			}
		}
		g.mu.Unlock()
	}
	return g
}

// AddSkill registers a skill node. Re-adding an existing id updates its
// attributes and keeps its edges.
func (g *Graph) AddSkill(s models.Skill) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.skills[s.ID]; !ok {
		g.order = append(g.order, s.ID)
		g.prereqs[s.ID] = make(map[int64]bool)
		g.dependents[s.ID] = make(map[int64]bool)
	}
	g.skills[s.ID] = s
}

// AddPrerequisite inserts the edge prereqID → skillID. It fails with a
// CycleError when skillID is already a (transitive) prerequisite of
// prereqID, leaving the graph unchanged. Unknown ids fail with
// NotFoundError.
func (g *Graph) AddPrerequisite(skillID, prereqID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.skills[skillID]; !ok {
		return &models.NotFoundError{Kind: "skill", ID: skillID}
	}
	if _, ok := g.skills[prereqID]; !ok {
		return &models.NotFoundError{Kind: "skill", ID: prereqID}
	}
	if skillID == prereqID {
		return &models.CycleError{SkillID: skillID, PrerequisiteID: prereqID}
	}

	// Reachability check: if skillID is reachable from prereqID along
	// prerequisite edges, the new edge closes a cycle.
	if g.reachableLocked(prereqID, skillID) {
		return &models.CycleError{SkillID: skillID, PrerequisiteID: prereqID}
	}

	g.prereqs[skillID][prereqID] = true
	g.dependents[prereqID][skillID] = true
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following prerequisite edges. Caller holds at least the read lock.
func (g *Graph) reachableLocked(start, target int64) bool {
	visited := map[int64]bool{start: true}
	queue := []int64{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for p := range g.prereqs[current] {
			if p == target {
				return true
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false
}

// HasSkill reports whether id is a node of the graph.
func (g *Graph) HasSkill(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.skills[id]
	return ok
}

// Skill returns the stored skill attributes.
func (g *Graph) Skill(id int64) (models.Skill, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.skills[id]
	return s, ok
}

// SkillList returns every skill in insertion order with its
// Prerequisites field filled from the graph's edges.
func (g *Graph) SkillList() []models.Skill {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Skill, 0, len(g.order))
	for _, id := range g.order {
		s := g.skills[id]
		s.Prerequisites = sortedKeys(g.prereqs[id])
		out = append(out, s)
	}
	return out
}

// Skills returns all skill ids in insertion order.
func (g *Graph) Skills() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]int64, len(g.order))
	copy(out, g.order)
	return out
}

// PrerequisitesOf returns the direct prerequisites of a skill, sorted.
// Unknown ids yield an empty slice.
func (g *Graph) PrerequisitesOf(skillID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.prereqs[skillID])
}

// DependentsOf returns the skills that directly require skillID, sorted.
func (g *Graph) DependentsOf(skillID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[skillID])
}

// AllPrerequisitesOf returns the transitive closure of prerequisites via
// breadth-first traversal. Unknown ids yield an empty slice.
func (g *Graph) AllPrerequisitesOf(skillID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(skillID, g.prereqs)
}

// AllDependentsOf returns the transitive closure of dependents.
func (g *Graph) AllDependentsOf(skillID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(skillID, g.dependents)
}

func (g *Graph) closureLocked(start int64, adj map[int64]map[int64]bool) []int64 {
	if _, ok := g.skills[start]; !ok {
		return []int64{}
	}
	visited := make(map[int64]bool)
	queue := []int64{}
	for n := range adj[start] {
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for n := range adj[current] {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
	}
	return sortedKeys(visited)
}

// BaseSkills returns skills with no prerequisites or flagged is_base,
// in insertion order.
func (g *Graph) BaseSkills() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []int64
	for _, id := range g.order {
		if len(g.prereqs[id]) == 0 || g.skills[id].IsBase {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalOrder returns a linear extension of the prerequisite order
// over the given subset (nil means all skills). On a cycle it never
// fails: it returns the acyclic prefix followed by the remaining nodes in
// insertion order, and ok=false so the caller can observe the degraded
// ordering.
func (g *Graph) TopologicalOrder(subset []int64) (order []int64, ok bool) {
	g.mu.RLock()
	full, ok := g.fullOrderLocked()
	g.mu.RUnlock()

	if subset == nil {
		return full, ok
	}

	// Ordering the subset by position in the full order also honors
	// constraints running through excluded nodes.
	include := make(map[int64]bool, len(subset))
	for _, id := range subset {
		include[id] = true
	}
	for _, id := range full {
		if include[id] {
			order = append(order, id)
		}
	}
	return order, ok
}

// fullOrderLocked runs Kahn's algorithm over the whole graph. On a cycle
// the leftover nodes are appended in insertion order and ok is false.
func (g *Graph) fullOrderLocked() (order []int64, ok bool) {
	indegree := make(map[int64]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.prereqs[id])
	}

	var queue []int64
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	placed := make(map[int64]bool, len(g.order))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		placed[current] = true
		for d := range g.dependents[current] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) == len(g.order) {
		return order, true
	}
	for _, id := range g.order {
		if !placed[id] {
			order = append(order, id)
		}
	}
	return order, false
}

// maxCycles bounds FindCycles enumeration so a pathological stored graph
// cannot blow up a diagnostics call.
const maxCycles = 100

// FindCycles enumerates simple cycles along prerequisite edges for
// diagnostic reports. Each cycle is rotated so its smallest id comes
// first, and duplicates are dropped.
func (g *Graph) FindCycles() [][]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cycles [][]int64
	seen := make(map[string]bool)

	var path []int64
	onPath := make(map[int64]bool)

	var dfs func(start, current int64)
	dfs = func(start, current int64) {
		if len(cycles) >= maxCycles {
			return
		}
		path = append(path, current)
		onPath[current] = true
		for next := range g.prereqs[current] {
			if next == start {
				cycle := canonicalCycle(path)
				key := cycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			// Only explore ids greater than the start to avoid
			// re-finding the same cycle from every member.
			if next > start && !onPath[next] {
				dfs(start, next)
			}
		}
		path = path[:len(path)-1]
		onPath[current] = false
	}

	for _, id := range g.order {
		dfs(id, id)
	}
	return cycles
}

func canonicalCycle(path []int64) []int64 {
	out := make([]int64, len(path))
	copy(out, path)
	minIdx := 0
	for i, v := range out {
		if v < out[minIdx] {
			minIdx = i
		}
	}
	rotated := append(out[minIdx:], out[:minIdx]...)
	return rotated
}

func cycleKey(cycle []int64) string {
	key := ""
	for _, id := range cycle {
		key += "/" + strconv.FormatInt(id, 10)
	}
	return key
}

// ValidationReport summarizes the structural health of a loaded graph.
type ValidationReport struct {
	Valid      bool      `json:"valid"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	BaseSkills []int64   `json:"base_skills"`
	Isolated   []int64   `json:"isolated_skills,omitempty"`
	Cycles     [][]int64 `json:"cycles,omitempty"`
}

// Validate reports cycles and isolated nodes. Cycles make the report
// invalid but are never fatal here; curriculum data may be imperfect.
func (g *Graph) Validate() ValidationReport {
	report := ValidationReport{
		Valid:      true,
		BaseSkills: g.BaseSkills(),
		Cycles:     g.FindCycles(),
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	report.NodeCount = len(g.skills)
	for _, id := range g.order {
		report.EdgeCount += len(g.prereqs[id])
		if len(g.prereqs[id]) == 0 && len(g.dependents[id]) == 0 {
			report.Isolated = append(report.Isolated, id)
		}
	}
	if len(report.Cycles) > 0 {
		report.Valid = false
	}
	return report
}

// AdjacencyMatrix renders the prerequisite relation as a dense 0/1 matrix
// over the caller-supplied stable ordering: m[i][j] = 1 iff skill j is a
// direct prerequisite of skill i. Ids missing from the index are ignored.
func (g *Graph) AdjacencyMatrix(index map[int64]int) [][]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(index)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for skillID, i := range index {
		for p := range g.prereqs[skillID] {
			if j, ok := index[p]; ok {
				m[i][j] = 1.0
			}
		}
	}
	return m
}

// PrerequisiteMap returns a plain {skill → prerequisite ids} view, used
// by model snapshots.
func (g *Graph) PrerequisiteMap() map[int64][]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[int64][]int64, len(g.skills))
	for _, id := range g.order {
		out[id] = sortedKeys(g.prereqs[id])
	}
	return out
}

func sortedKeys(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
