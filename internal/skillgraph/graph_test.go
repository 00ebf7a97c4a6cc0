package skillgraph

import (
	"errors"
	"testing"

	"github.com/skilltrace/backend/internal/models"
)

func buildChain(t *testing.T, ids ...int64) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		g.AddSkill(models.Skill{ID: id})
	}
	for i := 1; i < len(ids); i++ {
		if err := g.AddPrerequisite(ids[i], ids[i-1]); err != nil {
			t.Fatalf("AddPrerequisite(%d, %d): %v", ids[i], ids[i-1], err)
		}
	}
	return g
}

func TestAddPrerequisiteRejectsCycle(t *testing.T) {
	// A → B → C, then C as prerequisite of A must fail.
	g := buildChain(t, 1, 2, 3)

	err := g.AddPrerequisite(1, 3)
	var cycleErr *models.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("AddPrerequisite(1, 3) = %v, want CycleError", err)
	}

	// Graph must be unchanged.
	if got := g.PrerequisitesOf(1); len(got) != 0 {
		t.Errorf("PrerequisitesOf(1) = %v after rejected edge, want empty", got)
	}
	if _, ok := g.TopologicalOrder(nil); !ok {
		t.Error("TopologicalOrder flagged a cycle after the edge was rejected")
	}
}

func TestAddPrerequisiteSelfEdge(t *testing.T) {
	g := New()
	g.AddSkill(models.Skill{ID: 7})

	err := g.AddPrerequisite(7, 7)
	var cycleErr *models.CycleError
	if !errors.As(err, &cycleErr) {
		t.Errorf("self edge = %v, want CycleError", err)
	}
}

func TestAddPrerequisiteUnknownSkill(t *testing.T) {
	g := New()
	g.AddSkill(models.Skill{ID: 1})

	err := g.AddPrerequisite(1, 99)
	var nfErr *models.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("unknown prerequisite = %v, want NotFoundError", err)
	}
}

func TestDirectNeighbors(t *testing.T) {
	g := New()
	for _, id := range []int64{1, 2, 3, 4} {
		g.AddSkill(models.Skill{ID: id})
	}
	// 1 and 2 are prerequisites of 3; 3 is a prerequisite of 4.
	mustAdd(t, g, 3, 1)
	mustAdd(t, g, 3, 2)
	mustAdd(t, g, 4, 3)

	if got := g.PrerequisitesOf(3); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("PrerequisitesOf(3) = %v, want [1 2]", got)
	}
	if got := g.DependentsOf(3); !equalIDs(got, []int64{4}) {
		t.Errorf("DependentsOf(3) = %v, want [4]", got)
	}
	if got := g.DependentsOf(1); !equalIDs(got, []int64{3}) {
		t.Errorf("DependentsOf(1) = %v, want [3]", got)
	}
}

func TestSkillListResolvesPrerequisites(t *testing.T) {
	g := buildChain(t, 1, 2, 3)
	list := g.SkillList()
	if len(list) != 3 {
		t.Fatalf("SkillList = %d skills, want 3", len(list))
	}
	if len(list[0].Prerequisites) != 0 {
		t.Errorf("skill 1 prerequisites = %v, want empty", list[0].Prerequisites)
	}
	if got := list[2].Prerequisites; len(got) != 1 || got[0] != 2 {
		t.Errorf("skill 3 prerequisites = %v, want [2]", got)
	}
}

func TestTransitiveClosure(t *testing.T) {
	g := buildChain(t, 1, 2, 3, 4)

	if got := g.AllPrerequisitesOf(4); !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("AllPrerequisitesOf(4) = %v, want [1 2 3]", got)
	}
	if got := g.AllDependentsOf(1); !equalIDs(got, []int64{2, 3, 4}) {
		t.Errorf("AllDependentsOf(1) = %v, want [2 3 4]", got)
	}
	if got := g.AllPrerequisitesOf(99); len(got) != 0 {
		t.Errorf("AllPrerequisitesOf(99) = %v, want empty", got)
	}
}

func TestTopologicalOrder(t *testing.T) {
	g := New()
	for _, id := range []int64{10, 20, 30, 40} {
		g.AddSkill(models.Skill{ID: id})
	}
	mustAdd(t, g, 20, 10)
	mustAdd(t, g, 30, 20)
	mustAdd(t, g, 40, 20)

	order, ok := g.TopologicalOrder(nil)
	if !ok {
		t.Fatal("TopologicalOrder reported a cycle on a DAG")
	}
	pos := make(map[int64]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, pair := range [][2]int64{{10, 20}, {20, 30}, {20, 40}} {
		if pos[pair[0]] > pos[pair[1]] {
			t.Errorf("order %v places %d after %d", order, pair[0], pair[1])
		}
	}
}

func TestTopologicalOrderSubset(t *testing.T) {
	g := buildChain(t, 1, 2, 3, 4)

	order, ok := g.TopologicalOrder([]int64{4, 2})
	if !ok {
		t.Fatal("subset order reported a cycle")
	}
	if !equalIDs(order, []int64{2, 4}) {
		t.Errorf("subset order = %v, want [2 4]", order)
	}
}

func TestTopologicalOrderWithStoredCycle(t *testing.T) {
	// Cycles in loaded data are observable, not fatal.
	g := Build(
		[]models.Skill{{ID: 1}, {ID: 2}, {ID: 3}},
		[][2]int64{{1, 2}, {2, 3}, {3, 1}},
	)

	order, ok := g.TopologicalOrder(nil)
	if ok {
		t.Error("TopologicalOrder did not flag the cycle")
	}
	if len(order) != 3 {
		t.Errorf("degraded order has %d nodes, want 3", len(order))
	}
}

func TestFindCycles(t *testing.T) {
	g := Build(
		[]models.Skill{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
		[][2]int64{{1, 2}, {2, 3}, {3, 1}, {1, 4}},
	)

	cycles := g.FindCycles()
	if len(cycles) != 1 {
		t.Fatalf("FindCycles = %v, want exactly one cycle", cycles)
	}
	if len(cycles[0]) != 3 {
		t.Errorf("cycle %v has length %d, want 3", cycles[0], len(cycles[0]))
	}

	report := g.Validate()
	if report.Valid {
		t.Error("Validate().Valid = true for a cyclic graph")
	}
}

func TestValidateCleanGraph(t *testing.T) {
	g := buildChain(t, 1, 2, 3)
	g.AddSkill(models.Skill{ID: 9}) // isolated

	report := g.Validate()
	if !report.Valid {
		t.Errorf("Valid = false, issues: %+v", report)
	}
	if report.NodeCount != 4 || report.EdgeCount != 2 {
		t.Errorf("counts = (%d nodes, %d edges), want (4, 2)", report.NodeCount, report.EdgeCount)
	}
	if !equalIDs(report.Isolated, []int64{9}) {
		t.Errorf("Isolated = %v, want [9]", report.Isolated)
	}
}

func TestBaseSkills(t *testing.T) {
	g := New()
	g.AddSkill(models.Skill{ID: 1})
	g.AddSkill(models.Skill{ID: 2})
	g.AddSkill(models.Skill{ID: 3, IsBase: true})
	mustAdd(t, g, 2, 1)
	mustAdd(t, g, 3, 2) // 3 has a prerequisite but is flagged base

	if got := g.BaseSkills(); !equalIDs(got, []int64{1, 3}) {
		t.Errorf("BaseSkills = %v, want [1 3]", got)
	}
}

func TestAdjacencyMatrix(t *testing.T) {
	g := New()
	for _, id := range []int64{5, 6, 7} {
		g.AddSkill(models.Skill{ID: id})
	}
	mustAdd(t, g, 6, 5)
	mustAdd(t, g, 7, 6)

	index := map[int64]int{5: 0, 6: 1, 7: 2}
	m := g.AdjacencyMatrix(index)

	want := [][]float64{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
	}
	for i := range want {
		for j := range want[i] {
			if m[i][j] != want[i][j] {
				t.Errorf("m[%d][%d] = %v, want %v", i, j, m[i][j], want[i][j])
			}
		}
	}
}

func mustAdd(t *testing.T, g *Graph, skillID, prereqID int64) {
	t.Helper()
	if err := g.AddPrerequisite(skillID, prereqID); err != nil {
		t.Fatalf("AddPrerequisite(%d, %d): %v", skillID, prereqID, err)
	}
}

func equalIDs(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
