package models

import (
	"image"
	"image/color"
	"math"
	"sort"
)

// TilePosition is the nominal position of one tile in mosaic pixel space,
// relative to the reference tile of its well. Positions are produced by the
// coordinate normalizer and are immutable afterwards.
type TilePosition struct {
	// ID is the stable tile index. It matches the index used to key the
	// tile's pixel buffer, so position bookkeeping and image data can live
	// in separate containers.
	ID int

	// X and Y are the nominal pixel coordinates of the tile's top-left
	// corner, relative to tile 0 of the same well.
	X float64
	Y float64
}

// Patch is a connected group of tile positions discovered by clustering.
// The bounding box is the tight box over all member positions; every member
// position lies inside it. A tile belongs to exactly one patch.
type Patch struct {
	// Elements maps tile id to its nominal position.
	Elements map[int]TilePosition

	// Tight bounding box over the member positions.
	MinX, MaxX float64
	MinY, MaxY float64
}

// NewPatch creates a patch seeded with a single tile position.
func NewPatch(pos TilePosition) *Patch {
	return &Patch{
		Elements: map[int]TilePosition{pos.ID: pos},
		MinX:     pos.X,
		MaxX:     pos.X,
		MinY:     pos.Y,
		MaxY:     pos.Y,
	}
}

// Add inserts a tile position and grows the bounding box to include it.
func (p *Patch) Add(pos TilePosition) {
	p.Elements[pos.ID] = pos
	p.MinX = math.Min(p.MinX, pos.X)
	p.MaxX = math.Max(p.MaxX, pos.X)
	p.MinY = math.Min(p.MinY, pos.Y)
	p.MaxY = math.Max(p.MaxY, pos.Y)
}

// ContainsExpanded reports whether pos lies inside the patch bounding box
// after expanding it by marginX/marginY in each direction. This is the
// greedy clustering membership test: the box grows by one tile footprint
// (scaled by the configured margin) on every side.
func (p *Patch) ContainsExpanded(pos TilePosition, marginX, marginY float64) bool {
	return pos.X >= p.MinX-marginX && pos.X <= p.MaxX+marginX &&
		pos.Y >= p.MinY-marginY && pos.Y <= p.MaxY+marginY
}

// IDs returns the member tile ids in ascending order.
func (p *Patch) IDs() []int {
	ids := make([]int, 0, len(p.Elements))
	for id := range p.Elements {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Size returns the number of tiles in the patch.
func (p *Patch) Size() int { return len(p.Elements) }

// TileImage holds the projected, merged pixel data for one tile as one
// float plane per channel in row-major order, values in [0, 1]. The core
// never mutates plane contents; it only associates transforms with them.
type TileImage struct {
	// ID matches the TilePosition of the same tile.
	ID int

	// Width and Height are the plane dimensions in pixels.
	Width  int
	Height int

	// Channels holds one plane per acquisition channel.
	Channels [][]float64

	// Calibration is the physical size of one pixel (e.g. microns/pixel).
	Calibration float64

	// BitDepth is the sample depth of the originating data. Tiles fused
	// together must agree on it.
	BitDepth int
}

// Transform is the registered 2-D translation of one tile, in pixels,
// relative to the mosaic origin of its patch. One per tile, valid for a
// single patch's fusion run.
type Transform struct {
	ID int
	DX float64
	DY float64
}

// FusedImage is the blended output for one patch: one float plane per
// channel spanning the union of all translated tile footprints.
type FusedImage struct {
	PatchID int

	Width  int
	Height int

	// Channels holds the fused planes, channel order matching the inputs.
	Channels [][]float64

	// Calibration is copied from an input tile.
	Calibration float64

	// Title identifies the originating well, patch and channel composition.
	Title string
}

// ChannelImage renders one fused channel as a 16-bit grayscale image,
// clamping values to [0, 1].
func (f *FusedImage) ChannelImage(channel int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	plane := f.Channels[channel]
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := plane[y*f.Width+x]
			value := uint16(math.Max(0, math.Min(65535, v*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// PlaneFromImage converts an image to a float plane in [0, 1], using the
// red channel of the 16-bit representation as intensity. Microscopy tiles
// are single-channel, so any of R/G/B carries the sample value.
func PlaneFromImage(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y*width+x] = float64(r) / 65535.0
		}
	}

	return plane
}

// PlaneToImage converts a float plane back to a 16-bit grayscale image.
func PlaneToImage(plane []float64, width, height int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if idx < len(plane) {
				value := uint16(math.Max(0, math.Min(65535, plane[idx]*65535)))
				img.SetGray16(x, y, color.Gray16{Y: value})
			}
		}
	}
	return img
}
