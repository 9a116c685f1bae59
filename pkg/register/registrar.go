// Package register computes refined 2-D translations for the tiles of one
// patch. Pairwise offsets between overlapping tiles are measured by phase
// correlation and reconciled into a single consistent translation per tile
// by an anchored weighted least-squares fit.
package register

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"mosaicstitch/internal/models"
)

// ErrRegistrationFailed is returned only for a patch with zero tiles.
// A non-empty patch always yields a best-effort transform set.
var ErrRegistrationFailed = errors.New("register: patch contains no tiles")

// Params configures pairwise correlation and its acceptance policy.
type Params struct {
	// Subpixel enables parabolic refinement of the correlation peak.
	Subpixel bool

	// QualityThreshold is the minimum normalized cross-correlation score
	// for a pairwise measurement to constrain the global fit.
	QualityThreshold float64

	// PeakCandidates is the number of correlation peaks examined per pair.
	PeakCandidates int

	// MinOverlapPixels is the smallest overlap area scored per candidate.
	MinOverlapPixels int
}

// Metrics summarizes the registration of one patch.
type Metrics struct {
	// Pairs is the number of overlapping tile pairs that were correlated.
	Pairs int

	// Accepted is how many pairs met the quality threshold.
	Accepted int

	// MeanQuality is the average correlation score across all pairs.
	MeanQuality float64
}

// Register computes one refined translation per tile of the patch. Nominal
// positions seed the estimate; tiles whose every pairwise measurement fails
// the quality threshold keep their nominal position unchanged. The result
// is deterministic for identical pixel data and positions.
func Register(patch *models.Patch, images map[int]*models.TileImage, params Params) (map[int]models.Transform, Metrics, error) {
	var metrics Metrics

	ids := patch.IDs()
	if len(ids) == 0 {
		return nil, metrics, ErrRegistrationFailed
	}

	// A single tile registers to its nominal position.
	if len(ids) == 1 {
		pos := patch.Elements[ids[0]]
		return map[int]models.Transform{
			pos.ID: {ID: pos.ID, DX: pos.X, DY: pos.Y},
		}, metrics, nil
	}

	pairs := overlappingPairs(patch, images, ids)
	results := correlatePairs(patch, images, pairs, params)

	var accepted []PairResult
	qualitySum := 0.0
	for _, r := range results {
		qualitySum += r.Quality
		if r.Accepted {
			accepted = append(accepted, r)
		}
	}
	metrics.Pairs = len(results)
	metrics.Accepted = len(accepted)
	if len(results) > 0 {
		metrics.MeanQuality = qualitySum / float64(len(results))
	}

	corrections := solveCorrections(ids, patch.Elements, accepted)

	transforms := make(map[int]models.Transform, len(ids))
	for _, id := range ids {
		pos := patch.Elements[id]
		c := corrections[id]
		transforms[id] = models.Transform{ID: id, DX: pos.X + c[0], DY: pos.Y + c[1]}
	}
	return transforms, metrics, nil
}

// overlappingPairs lists the tile pairs whose nominal footprints overlap.
// Footprints are padded by a tenth of the tile size so pairs stay eligible
// when stage error pushes a true overlap slightly apart nominally.
func overlappingPairs(patch *models.Patch, images map[int]*models.TileImage, ids []int) [][2]int {
	var pairs [][2]int
	for i := 0; i < len(ids); i++ {
		a, okA := images[ids[i]]
		if !okA {
			continue
		}
		posA := patch.Elements[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			b, okB := images[ids[j]]
			if !okB {
				continue
			}
			posB := patch.Elements[ids[j]]

			padX := float64(a.Width) * 0.1
			padY := float64(a.Height) * 0.1
			overlapX := math.Min(posA.X+float64(a.Width), posB.X+float64(b.Width)) - math.Max(posA.X, posB.X)
			overlapY := math.Min(posA.Y+float64(a.Height), posB.Y+float64(b.Height)) - math.Max(posA.Y, posB.Y)
			if overlapX > -padX && overlapY > -padY {
				pairs = append(pairs, [2]int{ids[i], ids[j]})
			}
		}
	}
	return pairs
}

// correlatePairs measures every pair concurrently. Pairwise correlations
// are independent; results are collected into a slice indexed by pair so
// the outcome does not depend on goroutine completion order.
func correlatePairs(patch *models.Patch, images map[int]*models.TileImage, pairs [][2]int, params Params) []PairResult {
	results := make([]PairResult, len(pairs))

	type indexed struct {
		idx int
		res PairResult
	}
	resultChan := make(chan indexed)

	for k, pair := range pairs {
		a := images[pair[0]]
		b := images[pair[1]]
		posA := patch.Elements[pair[0]]
		posB := patch.Elements[pair[1]]

		go func(idx int, a, b *models.TileImage, nomDX, nomDY float64) {
			resultChan <- indexed{idx: idx, res: correlatePair(a, b, nomDX, nomDY, params)}
		}(k, a, b, posB.X-posA.X, posB.Y-posA.Y)
	}

	for range pairs {
		r := <-resultChan
		results[r.idx] = r.res
	}
	return results
}

// solveCorrections reconciles accepted pairwise offsets into one correction
// per tile by weighted least squares. Each pair contributes the equation
// c_b - c_a = measured - nominal, weighted by its correlation quality. The
// lowest-id tile of every connected measurement component is anchored at
// zero correction to remove the translation gauge freedom, so pairwise
// inconsistency is distributed instead of accumulating into drift. Tiles
// without any accepted measurement keep a zero correction.
func solveCorrections(ids []int, positions map[int]models.TilePosition, accepted []PairResult) map[int][2]float64 {
	corrections := make(map[int][2]float64, len(ids))
	for _, id := range ids {
		corrections[id] = [2]float64{0, 0}
	}
	if len(accepted) == 0 {
		return corrections
	}

	adj := make(map[int][]int)
	for _, p := range accepted {
		adj[p.A] = append(adj[p.A], p.B)
		adj[p.B] = append(adj[p.B], p.A)
	}

	visited := make(map[int]bool)
	for _, start := range ids {
		if visited[start] || adj[start] == nil {
			continue
		}

		// Collect the connected component, lowest id first.
		var comp []int
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, next := range adj[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Ints(comp)
		if len(comp) < 2 {
			continue
		}

		solveComponent(comp, positions, accepted, corrections)
	}

	return corrections
}

// solveComponent solves one connected component. The first (lowest) id is
// the anchor: its column is eliminated, fixing its correction at zero.
func solveComponent(comp []int, positions map[int]models.TilePosition, accepted []PairResult, corrections map[int][2]float64) {
	inComp := make(map[int]bool, len(comp))
	for _, id := range comp {
		inComp[id] = true
	}

	anchor := comp[0]
	col := make(map[int]int, len(comp)-1)
	for _, id := range comp[1:] {
		col[id] = len(col)
	}
	n := len(col)

	var rows []PairResult
	for _, p := range accepted {
		if inComp[p.A] && inComp[p.B] {
			rows = append(rows, p)
		}
	}
	if len(rows) == 0 {
		return
	}

	a := mat.NewDense(len(rows), n, nil)
	bx := mat.NewVecDense(len(rows), nil)
	by := mat.NewVecDense(len(rows), nil)

	for r, p := range rows {
		posA := positions[p.A]
		posB := positions[p.B]
		residX := p.DX - (posB.X - posA.X)
		residY := p.DY - (posB.Y - posA.Y)

		w := p.Quality
		if w < 0.1 {
			w = 0.1
		}

		if p.A != anchor {
			a.Set(r, col[p.A], -w)
		}
		if p.B != anchor {
			a.Set(r, col[p.B], w)
		}
		bx.SetVec(r, w*residX)
		by.SetVec(r, w*residY)
	}

	var cx, cy mat.VecDense
	if err := cx.SolveVec(a, bx); err != nil {
		return
	}
	if err := cy.SolveVec(a, by); err != nil {
		return
	}

	for id, c := range col {
		corrections[id] = [2]float64{cx.AtVec(c), cy.AtVec(c)}
	}
}
