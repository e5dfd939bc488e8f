// Package sampler draws start/end alert pairs from an investigation graph and
// stratifies them by difficulty.
package sampler

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"threatbench/internal/graph/investigation"
	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

// DefaultLowInfoKinds are entity kinds that make poor answers.
var DefaultLowInfoKinds = []models.EntityKind{models.KindHost, models.KindProcess}

// Options controls sampling.
type Options struct {
	// K caps the number of start entities per path.
	K int
	// M is the target number of paths. Zero keeps every candidate.
	M            int
	LowInfoKinds []models.EntityKind
	Seed         int64
}

// Sampler generates AlertPaths from a pruned graph. It is not safe for
// concurrent use; the graph it reads may be shared.
type Sampler struct {
	g       *investigation.Graph
	k       int
	m       int
	lowInfo map[models.EntityKind]struct{}
	rng     *rand.Rand
}

// New creates a sampler seeded with opts.Seed.
func New(g *investigation.Graph, opts Options) *Sampler {
	if opts.K <= 0 {
		opts.K = 3
	}
	kinds := opts.LowInfoKinds
	if kinds == nil {
		kinds = DefaultLowInfoKinds
	}
	low := make(map[models.EntityKind]struct{}, len(kinds))
	for _, k := range kinds {
		low[k] = struct{}{}
	}
	return &Sampler{
		g:       g,
		k:       opts.K,
		m:       opts.M,
		lowInfo: low,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// GeneratePaths builds one candidate per usable ordered alert pair, self
// pairs included, then stratifies down to M when M is smaller than the
// candidate count.
func (s *Sampler) GeneratePaths() []models.AlertPath {
	alerts := s.g.Alerts()
	var out []models.AlertPath
	skipped := 0
	for _, a1 := range alerts {
		for _, a2 := range alerts {
			p, ok := s.pathFor(a1, a2)
			if !ok {
				skipped++
				continue
			}
			out = append(out, p)
		}
	}
	logger.Infof("Generated %d candidate paths from %d alerts (%d pairs skipped)", len(out), len(alerts), skipped)

	if s.m > 0 && s.m < len(out) {
		out = SelectByDifficulty(out, s.m, s.rng)
		logger.Infof("Selected %d paths by difficulty", len(out))
	}
	return out
}

func (s *Sampler) pathFor(a1, a2 investigation.AlertID) (models.AlertPath, bool) {
	var starts []investigation.EntityID
	var end investigation.EntityID

	if a1 == a2 {
		cands := s.g.FarthestEntities(a1, a2)
		if len(cands) < 2 {
			return models.AlertPath{}, false
		}
		end = s.pickEnd(cands)
		starts = s.sample(without(cands, end))
	} else {
		startCands := s.g.FarthestEntities(a1, a2)
		endCands := s.g.FarthestEntities(a2, a1)
		if len(startCands) == 0 || len(endCands) == 0 {
			return models.AlertPath{}, false
		}
		starts = s.sample(startCands)
		end = s.pickEnd(endCands)
	}

	starts = s.dropOverlapping(starts, end)
	if len(starts) == 0 {
		return models.AlertPath{}, false
	}

	nodes := s.g.ShortestPath(investigation.NodeID(a1), investigation.NodeID(a2))
	p := models.AlertPath{
		StartAlert:    int64(a1),
		EndAlert:      int64(a2),
		StartEntities: entityInts(starts),
		EndEntities:   []int64{int64(end)},
		Path:          make([]int64, len(nodes)),
	}
	for i, n := range nodes {
		p.Path[i] = int64(n)
	}
	for _, a := range s.g.AlertsOnPath(nodes) {
		p.ShortestAlertPath = append(p.ShortestAlertPath, int64(a))
	}
	return p, true
}

// pickEnd chooses one entity, preferring kinds outside the low-info set.
func (s *Sampler) pickEnd(cands []investigation.EntityID) investigation.EntityID {
	var preferred []investigation.EntityID
	for _, id := range cands {
		n, _ := s.g.Entity(id)
		if _, low := s.lowInfo[n.Kind]; !low {
			preferred = append(preferred, id)
		}
	}
	if len(preferred) == 0 {
		preferred = cands
	}
	return preferred[s.rng.Intn(len(preferred))]
}

// sample draws up to k entities without replacement, returned in id order.
func (s *Sampler) sample(cands []investigation.EntityID) []investigation.EntityID {
	if len(cands) <= s.k {
		return append([]investigation.EntityID(nil), cands...)
	}
	perm := s.rng.Perm(len(cands))[:s.k]
	out := make([]investigation.EntityID, 0, s.k)
	for _, i := range perm {
		out = append(out, cands[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// dropOverlapping removes start entities whose value contains, or is
// contained in, the end entity's value.
func (s *Sampler) dropOverlapping(starts []investigation.EntityID, end investigation.EntityID) []investigation.EntityID {
	endNode, _ := s.g.Entity(end)
	endVal := strings.ToLower(endNode.Value)
	kept := starts[:0]
	for _, id := range starts {
		n, _ := s.g.Entity(id)
		v := strings.ToLower(n.Value)
		if strings.Contains(v, endVal) || strings.Contains(endVal, v) {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}

// SelectByDifficulty picks min(m, len(paths)) paths stratified by
// difficulty. Bucket shares follow the square root of their natural
// frequency; leftover slots go to the hardest buckets first. The result is
// ordered by ascending difficulty.
func SelectByDifficulty(paths []models.AlertPath, m int, rng *rand.Rand) []models.AlertPath {
	if m <= 0 || len(paths) == 0 {
		return nil
	}
	if m >= len(paths) {
		return append([]models.AlertPath(nil), paths...)
	}

	buckets := make(map[int][]models.AlertPath)
	for _, p := range paths {
		buckets[p.Difficulty()] = append(buckets[p.Difficulty()], p)
	}
	levels := make([]int, 0, len(buckets))
	for d := range buckets {
		levels = append(levels, d)
	}
	sort.Ints(levels)

	alloc := allocate(levels, buckets, len(paths), m)

	out := make([]models.AlertPath, 0, m)
	for _, d := range levels {
		b := append([]models.AlertPath(nil), buckets[d]...)
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		out = append(out, b[:alloc[d]]...)
	}
	return out
}

func allocate(levels []int, buckets map[int][]models.AlertPath, total, m int) map[int]int {
	weights := make(map[int]float64, len(levels))
	var sum float64
	for _, d := range levels {
		w := math.Sqrt(float64(len(buckets[d])) / float64(total))
		weights[d] = w
		sum += w
	}

	alloc := make(map[int]int, len(levels))
	given := 0
	for _, d := range levels {
		n := int(math.Floor(weights[d] / sum * float64(m)))
		if n > len(buckets[d]) {
			n = len(buckets[d])
		}
		alloc[d] = n
		given += n
	}

	for given < m {
		progressed := false
		for i := len(levels) - 1; i >= 0 && given < m; i-- {
			d := levels[i]
			if alloc[d] < len(buckets[d]) {
				alloc[d]++
				given++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return alloc
}

func without(ids []investigation.EntityID, drop investigation.EntityID) []investigation.EntityID {
	out := make([]investigation.EntityID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func entityInts(ids []investigation.EntityID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
