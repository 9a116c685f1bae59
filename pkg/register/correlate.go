package register

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"

	"mosaicstitch/internal/models"
)

// PairResult is the measured translation between two overlapping tiles.
// DX/DY place tile B at tile A's position plus the offset, in mosaic pixel
// coordinates. When the correlation quality stays below the configured
// threshold the pair keeps its nominal offset and Accepted is false.
type PairResult struct {
	A, B     int
	DX, DY   float64
	Quality  float64
	Accepted bool
}

// peak is one candidate cell of the correlation surface.
type peak struct {
	x, y int
	mag  float64
}

// phaseCorrelationSurface computes the normalized cross-power spectrum of
// two equally sized planes and returns its inverse transform. A shift
// between the planes shows up as a sharp peak in the surface.
func phaseCorrelationSurface(a, b []float64, width, height int) []float64 {
	fa := fft2D(a, width, height)
	fb := fft2D(b, width, height)

	const eps = 1e-12
	cross := make([]complex128, len(fa))
	for i := range fa {
		c := fa[i] * cmplx.Conj(fb[i])
		m := cmplx.Abs(c)
		if m < eps {
			cross[i] = 0
		} else {
			cross[i] = c / complex(m, 0)
		}
	}

	return ifft2D(cross, width, height)
}

// topPeaks returns the k cells of largest magnitude, in descending order.
func topPeaks(surface []float64, width, height, k int) []peak {
	if k < 1 {
		k = 1
	}
	best := make([]peak, 0, k)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mag := math.Abs(surface[y*width+x])
			if len(best) == k && mag <= best[len(best)-1].mag {
				continue
			}
			p := peak{x: x, y: y, mag: mag}
			// Insertion keeps the slice sorted by descending magnitude.
			pos := len(best)
			for pos > 0 && best[pos-1].mag < mag {
				pos--
			}
			if len(best) < k {
				best = append(best, peak{})
			}
			copy(best[pos+1:], best[pos:len(best)-1])
			best[pos] = p
		}
	}

	return best
}

// scoreOffset computes the normalized cross-correlation of the overlap
// implied by placing tile b at tile a's position plus (dx, dy). Returns
// -Inf when the overlap is smaller than minOverlap pixels or has no
// variance to correlate.
func scoreOffset(a, b *models.TileImage, dx, dy, minOverlap int) float64 {
	x0 := maxInt(0, dx)
	x1 := minInt(a.Width, dx+b.Width)
	y0 := maxInt(0, dy)
	y1 := minInt(a.Height, dy+b.Height)

	if x1-x0 <= 0 || y1-y0 <= 0 || (x1-x0)*(y1-y0) < minOverlap {
		return math.Inf(-1)
	}

	n := (x1 - x0) * (y1 - y0)
	sa := make([]float64, 0, n)
	sb := make([]float64, 0, n)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sa = append(sa, a.Channels[0][y*a.Width+x])
			sb = append(sb, b.Channels[0][(y-dy)*b.Width+(x-dx)])
		}
	}

	r := stat.Correlation(sa, sb, nil)
	if math.IsNaN(r) {
		return math.Inf(-1)
	}
	return r
}

// wrapShift maps a surface index to its two signed interpretations.
// An index px in [0, n) can mean a shift of px or of px-n.
func wrapShift(p, n int) [2]int {
	if p == 0 {
		return [2]int{0, 0}
	}
	return [2]int{p, p - n}
}

// parabolicDelta refines a peak coordinate by fitting a parabola through
// the peak cell and its two neighbors along one axis of the surface.
// The returned correction lies in [-0.5, 0.5].
func parabolicDelta(surface []float64, width, height, px, py int, horizontal bool) float64 {
	var mPrev, mMid, mNext float64
	mMid = math.Abs(surface[py*width+px])
	if horizontal {
		mPrev = math.Abs(surface[py*width+(px-1+width)%width])
		mNext = math.Abs(surface[py*width+(px+1)%width])
	} else {
		mPrev = math.Abs(surface[((py-1+height)%height)*width+px])
		mNext = math.Abs(surface[((py+1)%height)*width+px])
	}

	denom := mPrev - 2*mMid + mNext
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	delta := 0.5 * (mPrev - mNext) / denom
	if delta > 0.5 {
		delta = 0.5
	} else if delta < -0.5 {
		delta = -0.5
	}
	return delta
}

// correlatePair measures the translation between two tiles of equal
// footprint. The top peaks of the phase correlation surface are expanded
// into their wraparound and sign interpretations; each candidate offset is
// scored by normalized cross-correlation over the overlap it implies, and
// the best-scoring candidate wins, with proximity to the nominal offset as
// the tie-break. Pairs whose best score stays below the quality threshold
// keep the nominal offset.
func correlatePair(a, b *models.TileImage, nominalDX, nominalDY float64, params Params) PairResult {
	res := PairResult{A: a.ID, B: b.ID, DX: nominalDX, DY: nominalDY}

	if a.Width != b.Width || a.Height != b.Height ||
		len(a.Channels) == 0 || len(b.Channels) == 0 {
		return res
	}

	surface := phaseCorrelationSurface(a.Channels[0], b.Channels[0], a.Width, a.Height)
	peaks := topPeaks(surface, a.Width, a.Height, params.PeakCandidates)

	type candidate struct {
		dx, dy int
		px, py int
		neg    bool
	}

	bestScore := math.Inf(-1)
	var best candidate
	found := false
	seen := make(map[[2]int]bool)

	better := func(score float64, c candidate) bool {
		if score > bestScore {
			return true
		}
		if score < bestScore {
			return false
		}
		// Equal scores: prefer the candidate closest to the nominal layout.
		dBest := sq(float64(best.dx)-nominalDX) + sq(float64(best.dy)-nominalDY)
		dNew := sq(float64(c.dx)-nominalDX) + sq(float64(c.dy)-nominalDY)
		return dNew < dBest
	}

	for _, p := range peaks {
		for _, wx := range wrapShift(p.x, a.Width) {
			for _, wy := range wrapShift(p.y, a.Height) {
				for _, neg := range [2]bool{false, true} {
					dx, dy := wx, wy
					if neg {
						dx, dy = -dx, -dy
					}
					key := [2]int{dx, dy}
					if seen[key] {
						continue
					}
					seen[key] = true

					score := scoreOffset(a, b, dx, dy, params.MinOverlapPixels)
					if math.IsInf(score, -1) {
						continue
					}
					c := candidate{dx: dx, dy: dy, px: p.x, py: p.y, neg: neg}
					if !found || better(score, c) {
						bestScore = score
						best = c
						found = true
					}
				}
			}
		}
	}

	if !found {
		return res
	}

	dx := float64(best.dx)
	dy := float64(best.dy)
	if params.Subpixel {
		ddx := parabolicDelta(surface, a.Width, a.Height, best.px, best.py, true)
		ddy := parabolicDelta(surface, a.Width, a.Height, best.px, best.py, false)
		if best.neg {
			ddx, ddy = -ddx, -ddy
		}
		dx += ddx
		dy += ddy
	}

	res.DX = dx
	res.DY = dy
	res.Quality = bestScore
	res.Accepted = bestScore >= params.QualityThreshold
	if !res.Accepted {
		// Below-threshold pairs degrade to the nominal layout.
		res.DX = nominalDX
		res.DY = nominalDY
	}
	return res
}

func sq(v float64) float64 { return v * v }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
