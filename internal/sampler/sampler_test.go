package sampler

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"threatbench/internal/graph/investigation"
	"threatbench/pkg/models"
)

// ip - A1 - host - A2 - user
func scenarioGraph(t *testing.T) (*investigation.Graph, investigation.AlertID, investigation.AlertID, investigation.EntityID, investigation.EntityID) {
	t.Helper()
	g := investigation.New()
	a1 := g.AddAlert(models.AlertRecord{Name: "A1"})
	a2 := g.AddAlert(models.AlertRecord{Name: "A2"})
	ip := g.AddEntity(models.KindIP, "Address", "1.2.3.4")
	host := g.AddEntity(models.KindHost, "HostName", "ws1")
	user := g.AddEntity(models.KindAccount, "Name", "alice")
	g.Connect(a1, ip)
	g.Connect(a1, host)
	g.Connect(a2, host)
	g.Connect(a2, user)
	if _, err := g.PruneToLargestComponent(); err != nil {
		t.Fatalf("prune: %v", err)
	}
	return g, a1, a2, ip, user
}

func TestGeneratePathsScenario(t *testing.T) {
	g, a1, a2, ip, user := scenarioGraph(t)
	paths := New(g, Options{K: 3, Seed: 7}).GeneratePaths()

	var found *models.AlertPath
	for i := range paths {
		if paths[i].StartAlert == int64(a1) && paths[i].EndAlert == int64(a2) {
			found = &paths[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a path for (A1, A2), got %+v", paths)
	}
	if !reflect.DeepEqual(found.StartEntities, []int64{int64(ip)}) {
		t.Fatalf("expected start entities [ip], got %v", found.StartEntities)
	}
	if !reflect.DeepEqual(found.EndEntities, []int64{int64(user)}) {
		t.Fatalf("expected end entities [user], got %v", found.EndEntities)
	}
	if !reflect.DeepEqual(found.ShortestAlertPath, []int64{int64(a1), int64(a2)}) {
		t.Fatalf("expected alert path [A1 A2], got %v", found.ShortestAlertPath)
	}
	if found.Difficulty() != 2 {
		t.Fatalf("expected difficulty 2, got %d", found.Difficulty())
	}
}

func TestSelfPairUsesDistinctEntities(t *testing.T) {
	g, a1, _, ip, _ := scenarioGraph(t)
	paths := New(g, Options{Seed: 1}).GeneratePaths()
	for _, p := range paths {
		if p.StartAlert != int64(a1) || p.EndAlert != int64(a1) {
			continue
		}
		if !reflect.DeepEqual(p.EndEntities, []int64{int64(ip)}) {
			t.Fatalf("expected non-host end entity on self pair, got %v", p.EndEntities)
		}
		for _, s := range p.StartEntities {
			if s == p.EndEntities[0] {
				t.Fatalf("start entity reused as answer: %+v", p)
			}
		}
		if len(p.ShortestAlertPath) != 1 {
			t.Fatalf("expected single-alert path, got %v", p.ShortestAlertPath)
		}
		return
	}
	t.Fatalf("expected a self pair for A1")
}

func TestSelfPairSkippedWithSingleEntity(t *testing.T) {
	g := investigation.New()
	a := g.AddAlert(models.AlertRecord{Name: "A"})
	g.Connect(a, g.AddEntity(models.KindIP, "Address", "1.1.1.1"))
	if paths := New(g, Options{}).GeneratePaths(); len(paths) != 0 {
		t.Fatalf("expected no paths, got %+v", paths)
	}
}

func TestLeakingStartEntitiesAreDropped(t *testing.T) {
	g := investigation.New()
	a1 := g.AddAlert(models.AlertRecord{Name: "A1"})
	a2 := g.AddAlert(models.AlertRecord{Name: "A2"})
	leak := g.AddEntity(models.KindAccount, "Name", "ALICE")
	host := g.AddEntity(models.KindHost, "HostName", "ws1")
	answer := g.AddEntity(models.KindMailbox, "MailboxPrimaryAddress", "alice@corp.example")
	g.Connect(a1, leak)
	g.Connect(a1, host)
	g.Connect(a2, host)
	g.Connect(a2, answer)

	for _, p := range New(g, Options{}).GeneratePaths() {
		if p.StartAlert == int64(a1) && p.EndAlert == int64(a2) {
			t.Fatalf("expected pair to be discarded after leakage filter, got %+v", p)
		}
	}
}

func TestGeneratePathsIsMinimalAndReproducible(t *testing.T) {
	g := chainGraph(t, 6)
	first := New(g, Options{K: 2, Seed: 42}).GeneratePaths()
	second := New(g, Options{K: 2, Seed: 42}).GeneratePaths()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output for identical seeds")
	}
	for _, p := range first {
		d := g.Distance(investigation.NodeID(p.StartAlert), investigation.NodeID(p.EndAlert))
		if len(p.Path)-1 != d {
			t.Fatalf("path %v is not minimal (distance %d)", p.Path, d)
		}
		if p.Difficulty() != d/2+1 {
			t.Fatalf("difficulty %d does not match distance %d", p.Difficulty(), d)
		}
	}
}

// chainGraph links n alerts through shared hosts and gives each alert two
// private entities.
func chainGraph(t *testing.T, n int) *investigation.Graph {
	t.Helper()
	g := investigation.New()
	var prev investigation.AlertID
	for i := 0; i < n; i++ {
		a := g.AddAlert(models.AlertRecord{Name: fmt.Sprintf("A%d", i)})
		g.Connect(a, g.AddEntity(models.KindIP, "Address", fmt.Sprintf("10.0.0.%d", i)))
		g.Connect(a, g.AddEntity(models.KindURL, "Url", fmt.Sprintf("https://site%d.example", i)))
		if i > 0 {
			h := g.AddEntity(models.KindHost, "HostName", fmt.Sprintf("hop-%d", i))
			g.Connect(prev, h)
			g.Connect(a, h)
		}
		prev = a
	}
	if _, err := g.PruneToLargestComponent(); err != nil {
		t.Fatalf("prune: %v", err)
	}
	return g
}

func pathsWithDifficulties(counts map[int]int) []models.AlertPath {
	var out []models.AlertPath
	id := int64(0)
	for d, c := range counts {
		for i := 0; i < c; i++ {
			id++
			p := models.AlertPath{StartAlert: id}
			for j := 0; j < d; j++ {
				p.ShortestAlertPath = append(p.ShortestAlertPath, int64(j))
			}
			out = append(out, p)
		}
	}
	return out
}

func TestSelectByDifficultyConservesCount(t *testing.T) {
	counts := map[int]int{1: 40, 2: 25, 3: 6, 4: 2}
	paths := pathsWithDifficulties(counts)
	for _, m := range []int{1, 5, 10, 33, 72, 73, 100} {
		got := SelectByDifficulty(paths, m, rand.New(rand.NewSource(3)))
		want := m
		if want > len(paths) {
			want = len(paths)
		}
		if len(got) != want {
			t.Fatalf("m=%d: expected %d paths, got %d", m, want, len(got))
		}
		per := map[int]int{}
		for _, p := range got {
			per[p.Difficulty()]++
		}
		for d, n := range per {
			if n > counts[d] {
				t.Fatalf("m=%d: bucket %d over-allocated (%d > %d)", m, d, n, counts[d])
			}
		}
	}
}

func TestSelectByDifficultyFlattensDistribution(t *testing.T) {
	paths := pathsWithDifficulties(map[int]int{2: 90, 5: 10})
	got := SelectByDifficulty(paths, 21, rand.New(rand.NewSource(1)))
	hard := 0
	for _, p := range got {
		if p.Difficulty() == 5 {
			hard++
		}
	}
	// Natural share is 10%; sqrt smoothing raises it to 25%, so floor(5.25)
	// plus the single leftover slot.
	if hard != 6 {
		t.Fatalf("expected 6 hard paths, got %d", hard)
	}
	if got[0].Difficulty() != 2 || got[len(got)-1].Difficulty() != 5 {
		t.Fatalf("expected ascending difficulty order")
	}
}

func TestSelectByDifficultyLeftoversPreferHardBuckets(t *testing.T) {
	// Equal buckets: floor(1/3*4) = 1 each, one leftover goes to difficulty 3.
	paths := pathsWithDifficulties(map[int]int{1: 5, 2: 5, 3: 5})
	got := SelectByDifficulty(paths, 4, rand.New(rand.NewSource(9)))
	per := map[int]int{}
	for _, p := range got {
		per[p.Difficulty()]++
	}
	if per[1] != 1 || per[2] != 1 || per[3] != 2 {
		t.Fatalf("unexpected allocation %v", per)
	}
}

func TestGeneratePathsAppliesTarget(t *testing.T) {
	g := chainGraph(t, 5)
	all := New(g, Options{Seed: 5}).GeneratePaths()
	capped := New(g, Options{Seed: 5, M: 7}).GeneratePaths()
	if len(all) <= 7 {
		t.Fatalf("fixture too small: %d paths", len(all))
	}
	if len(capped) != 7 {
		t.Fatalf("expected 7 paths, got %d", len(capped))
	}
}
