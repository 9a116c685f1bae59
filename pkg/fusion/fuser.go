// Package fusion composites the registered tiles of one patch into a single
// image. Overlaps are resolved either by distance-weighted linear blending
// or by nearest-tile-wins selection.
package fusion

import (
	"errors"
	"fmt"
	"math"

	"mosaicstitch/internal/models"
)

// ErrIncompatiblePixelType is returned when the tiles of a patch disagree
// on sample bit depth or channel count.
var ErrIncompatiblePixelType = errors.New("fusion: tiles have incompatible pixel types")

// Mode selects the blending policy.
type Mode int

const (
	// LinearBlend weights each contributing tile by its distance to its
	// own boundary, so blends are continuous and seams vanish at ideal
	// alignment.
	LinearBlend Mode = iota

	// Nearest copies each output pixel from the tile whose center is
	// closest, with the lowest tile id winning ties.
	Nearest
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "linear_blend":
		return LinearBlend, nil
	case "nearest":
		return Nearest, nil
	}
	return LinearBlend, fmt.Errorf("fusion: unknown mode %q", name)
}

// Fuse blends the patch's tiles, placed at their registered translations,
// into one image spanning the union of all tile footprints. Channels are
// fused independently with the same spatial weights. Input tile buffers are
// never mutated. Registered translations are rounded to the pixel grid for
// placement, which keeps non-overlap regions exact copies of their source.
func Fuse(patch *models.Patch, transforms map[int]models.Transform, images map[int]*models.TileImage, mode Mode) (*models.FusedImage, error) {
	ids := patch.IDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("fusion: patch contains no tiles")
	}

	first := images[ids[0]]
	if first == nil {
		return nil, fmt.Errorf("fusion: missing pixel buffer for tile %d", ids[0])
	}
	numChannels := len(first.Channels)
	for _, id := range ids {
		img := images[id]
		if img == nil {
			return nil, fmt.Errorf("fusion: missing pixel buffer for tile %d", id)
		}
		if img.BitDepth != first.BitDepth || len(img.Channels) != numChannels {
			return nil, fmt.Errorf("%w: tile %d has depth %d with %d channels, tile %d has depth %d with %d channels",
				ErrIncompatiblePixelType, first.ID, first.BitDepth, numChannels, id, img.BitDepth, len(img.Channels))
		}
	}

	// Integer placement per tile and the union extent.
	offsets := make(map[int][2]int, len(ids))
	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := math.MinInt32, math.MinInt32
	for _, id := range ids {
		t := transforms[id]
		img := images[id]
		ox := int(math.Round(t.DX))
		oy := int(math.Round(t.DY))
		offsets[id] = [2]int{ox, oy}
		minX = minInt(minX, ox)
		minY = minInt(minY, oy)
		maxX = maxInt(maxX, ox+img.Width)
		maxY = maxInt(maxY, oy+img.Height)
	}
	outW := maxX - minX
	outH := maxY - minY

	fused := &models.FusedImage{
		Width:       outW,
		Height:      outH,
		Channels:    make([][]float64, numChannels),
		Calibration: first.Calibration,
	}
	for c := range fused.Channels {
		fused.Channels[c] = make([]float64, outW*outH)
	}

	switch mode {
	case LinearBlend:
		fuseLinear(fused, ids, offsets, images, minX, minY)
	case Nearest:
		fuseNearest(fused, ids, offsets, images, minX, minY)
	default:
		return nil, fmt.Errorf("fusion: unknown mode %d", mode)
	}

	return fused, nil
}

// blendWeight is the separable linear ramp used by LinearBlend: largest at
// the tile center, decaying to one pixel's worth at the tile boundary.
func blendWeight(x, y, width, height int) float64 {
	wx := float64(minInt(x+1, width-x))
	wy := float64(minInt(y+1, height-y))
	return wx * wy
}

func fuseLinear(fused *models.FusedImage, ids []int, offsets map[int][2]int, images map[int]*models.TileImage, minX, minY int) {
	outW := fused.Width

	// First pass counts contributors so that pixels covered by a single
	// tile can be copied verbatim instead of going through the weighted
	// average, which would perturb them by floating-point rounding.
	counts := make([]int32, outW*fused.Height)
	for _, id := range ids {
		img := images[id]
		off := offsets[id]
		for y := 0; y < img.Height; y++ {
			row := (off[1] - minY + y) * outW
			for x := 0; x < img.Width; x++ {
				counts[row+off[0]-minX+x]++
			}
		}
	}

	weightSum := make([]float64, outW*fused.Height)
	for _, id := range ids {
		img := images[id]
		off := offsets[id]
		for y := 0; y < img.Height; y++ {
			outRow := (off[1] - minY + y) * outW
			inRow := y * img.Width
			for x := 0; x < img.Width; x++ {
				outIdx := outRow + off[0] - minX + x
				if counts[outIdx] == 1 {
					for c := range fused.Channels {
						fused.Channels[c][outIdx] = img.Channels[c][inRow+x]
					}
					continue
				}
				w := blendWeight(x, y, img.Width, img.Height)
				weightSum[outIdx] += w
				for c := range fused.Channels {
					fused.Channels[c][outIdx] += w * img.Channels[c][inRow+x]
				}
			}
		}
	}

	for idx, w := range weightSum {
		if w > 0 && counts[idx] > 1 {
			for c := range fused.Channels {
				fused.Channels[c][idx] /= w
			}
		}
	}
}

func fuseNearest(fused *models.FusedImage, ids []int, offsets map[int][2]int, images map[int]*models.TileImage, minX, minY int) {
	outW := fused.Width
	bestDist := make([]float64, outW*fused.Height)
	for i := range bestDist {
		bestDist[i] = math.Inf(1)
	}

	// Ascending id order plus strict improvement keeps the lowest id on ties.
	for _, id := range ids {
		img := images[id]
		off := offsets[id]
		cx := float64(img.Width-1) / 2
		cy := float64(img.Height-1) / 2
		for y := 0; y < img.Height; y++ {
			outRow := (off[1] - minY + y) * outW
			inRow := y * img.Width
			dy := float64(y) - cy
			for x := 0; x < img.Width; x++ {
				outIdx := outRow + off[0] - minX + x
				dx := float64(x) - cx
				d := dx*dx + dy*dy
				if d < bestDist[outIdx] {
					bestDist[outIdx] = d
					for c := range fused.Channels {
						fused.Channels[c][outIdx] = img.Channels[c][inRow+x]
					}
				}
			}
		}
	}
}

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
