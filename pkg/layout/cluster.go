package layout

import (
	"sort"

	"mosaicstitch/internal/models"
)

// ClusterParams controls the greedy patch clustering.
type ClusterParams struct {
	// FootprintWidth and FootprintHeight are the tile field-of-view
	// dimensions in pixels.
	FootprintWidth  float64
	FootprintHeight float64

	// Margin is the multiple of the footprint by which a patch bounding
	// box is expanded during the membership test. 1.0 means a tile joins a
	// patch when it lies within one footprint of the patch's box.
	Margin float64
}

// Cluster partitions tile positions into disjoint patches. Tiles are
// visited in ascending id order; each tile joins the first existing patch
// whose bounding box, expanded by Margin times the footprint in every
// direction, contains its position, and starts a new patch otherwise.
//
// This is a single-pass greedy scan, not a fixed-point connected-components
// closure: when a tile is geometrically ambiguous between two patches the
// outcome depends on patch creation order. The membership test uses the
// patch's running bounding box rather than each member's own footprint,
// which in pathological layouts can join tiles whose image content never
// overlaps. Both behaviors are deliberate: re-running on the same input
// always yields the same partition.
func Cluster(positions []models.TilePosition, params ClusterParams) []*models.Patch {
	ordered := make([]models.TilePosition, len(positions))
	copy(ordered, positions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	marginX := params.Margin * params.FootprintWidth
	marginY := params.Margin * params.FootprintHeight

	var patches []*models.Patch
	for _, pos := range ordered {
		assigned := false
		for _, patch := range patches {
			if patch.ContainsExpanded(pos, marginX, marginY) {
				patch.Add(pos)
				assigned = true
				break
			}
		}
		if !assigned {
			patches = append(patches, models.NewPatch(pos))
		}
	}

	return patches
}
