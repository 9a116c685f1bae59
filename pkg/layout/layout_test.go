package layout

import (
	"errors"
	"math"
	"testing"

	"mosaicstitch/internal/models"
)

// makeStage builds stage positions with sequential ids from coordinate pairs
func makeStage(coords [][2]float64) []StagePosition {
	stage := make([]StagePosition, len(coords))
	for i, c := range coords {
		stage[i] = StagePosition{ID: i, X: c[0], Y: c[1]}
	}
	return stage
}

func TestNormalizeReferenceTile(t *testing.T) {
	stage := makeStage([][2]float64{
		{100.0, 200.0},
		{150.0, 260.0},
	})

	positions, err := Normalize(stage, 2.0)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// The reference tile always lands on the origin
	if positions[0].X != 0 || positions[0].Y != 0 {
		t.Errorf("Expected reference tile at (0,0), got (%g,%g)", positions[0].X, positions[0].Y)
	}

	// X is sign-inverted, Y is not: (150-100)/2 = 25 -> -25
	if positions[1].X != -25 {
		t.Errorf("Expected x=-25, got %g", positions[1].X)
	}
	if positions[1].Y != 30 {
		t.Errorf("Expected y=30, got %g", positions[1].Y)
	}
}

func TestNormalizeSingleTile(t *testing.T) {
	positions, err := Normalize(makeStage([][2]float64{{42.0, -17.0}}), 0.65)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	if positions[0].X != 0 || positions[0].Y != 0 {
		t.Errorf("Single tile must normalize to (0,0), got (%g,%g)", positions[0].X, positions[0].Y)
	}
}

// TestNormalizeInversionRoundTrip checks that negating the input X deltas is
// exactly undone by a second inversion.
func TestNormalizeInversionRoundTrip(t *testing.T) {
	stage := makeStage([][2]float64{
		{0, 0},
		{13.5, 7.25},
		{-91.25, 44.0},
	})

	positions, err := Normalize(stage, 1.0)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// Feed the normalized X back in with inverted sign; two inversions
	// must reproduce the original deltas bit for bit.
	mirrored := make([]StagePosition, len(positions))
	for i, p := range positions {
		mirrored[i] = StagePosition{ID: p.ID, X: -p.X, Y: p.Y}
	}
	again, err := Normalize(mirrored, 1.0)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for i := range stage {
		wantX := stage[i].X - stage[0].X
		if again[i].X != wantX {
			t.Errorf("Tile %d: round-trip x=%g, want %g", i, again[i].X, wantX)
		}
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Normalize(nil, 1.0); !errors.Is(err, ErrEmptyTileSet) {
		t.Errorf("Expected ErrEmptyTileSet, got %v", err)
	}

	stage := makeStage([][2]float64{{0, 0}})
	for _, cal := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := Normalize(stage, cal); !errors.Is(err, ErrMissingCalibration) {
			t.Errorf("Calibration %g: expected ErrMissingCalibration, got %v", cal, err)
		}
	}
}

func makePositions(coords [][2]float64) []models.TilePosition {
	positions := make([]models.TilePosition, len(coords))
	for i, c := range coords {
		positions[i] = models.TilePosition{ID: i, X: c[0], Y: c[1]}
	}
	return positions
}

func defaultParams() ClusterParams {
	return ClusterParams{FootprintWidth: 2048, FootprintHeight: 2048, Margin: 1.0}
}

// TestClusterPartition verifies that every tile lands in exactly one patch
// and that each patch's bounding box contains its members.
func TestClusterPartition(t *testing.T) {
	positions := makePositions([][2]float64{
		{0, 0}, {1500, 0}, {0, 1500}, {9000, 9000}, {10500, 9000}, {-8000, 4000},
	})

	patches := Cluster(positions, defaultParams())

	seen := make(map[int]int)
	for pi, patch := range patches {
		if patch.Size() == 0 {
			t.Errorf("Patch %d is empty", pi)
		}
		for id, pos := range patch.Elements {
			if prev, dup := seen[id]; dup {
				t.Errorf("Tile %d in patches %d and %d", id, prev, pi)
			}
			seen[id] = pi

			if pos.X < patch.MinX || pos.X > patch.MaxX || pos.Y < patch.MinY || pos.Y > patch.MaxY {
				t.Errorf("Tile %d at (%g,%g) outside patch %d bbox [%g,%g]x[%g,%g]",
					id, pos.X, pos.Y, pi, patch.MinX, patch.MaxX, patch.MinY, patch.MaxY)
			}
		}
	}
	if len(seen) != len(positions) {
		t.Errorf("Expected %d clustered tiles, got %d", len(positions), len(seen))
	}
}

// TestClusterSeparation uses the footprint-distance examples: tiles a whole
// expanded footprint apart split, near neighbors join.
func TestClusterSeparation(t *testing.T) {
	t.Run("FarTilesSplit", func(t *testing.T) {
		patches := Cluster(makePositions([][2]float64{{0, 0}, {6000, 6000}}), defaultParams())
		if len(patches) != 2 {
			t.Fatalf("Expected 2 patches for tiles at (0,0) and (6000,6000), got %d", len(patches))
		}
	})

	t.Run("NearTilesJoin", func(t *testing.T) {
		patches := Cluster(makePositions([][2]float64{{0, 0}, {1500, 0}}), defaultParams())
		if len(patches) != 1 {
			t.Fatalf("Expected 1 patch for tiles at (0,0) and (1500,0), got %d", len(patches))
		}
	})
}

func TestClusterDeterminism(t *testing.T) {
	coords := [][2]float64{
		{0, 0}, {1800, 100}, {3600, 150}, {-100, 1900}, {12000, 0}, {12100, 1800}, {30000, 30000},
	}

	first := Cluster(makePositions(coords), defaultParams())
	for run := 0; run < 5; run++ {
		again := Cluster(makePositions(coords), defaultParams())
		if len(again) != len(first) {
			t.Fatalf("Run %d: %d patches, first run had %d", run, len(again), len(first))
		}
		for pi := range first {
			if len(again[pi].Elements) != len(first[pi].Elements) {
				t.Fatalf("Run %d: patch %d size differs", run, pi)
			}
			for id := range first[pi].Elements {
				if _, ok := again[pi].Elements[id]; !ok {
					t.Errorf("Run %d: tile %d moved out of patch %d", run, id, pi)
				}
			}
		}
	}
}

func TestClusterIdenticalPositions(t *testing.T) {
	positions := makePositions([][2]float64{{5, 5}, {5, 5}, {5, 5}, {5, 5}})
	patches := Cluster(positions, defaultParams())
	if len(patches) != 1 {
		t.Fatalf("Expected 1 patch for identical positions, got %d", len(patches))
	}
	if patches[0].Size() != 4 {
		t.Errorf("Expected 4 tiles in the patch, got %d", patches[0].Size())
	}
}

func TestClusterMarginZero(t *testing.T) {
	// With margin 0 only tiles inside the tight bbox join; distant tiles split.
	params := ClusterParams{FootprintWidth: 100, FootprintHeight: 100, Margin: 0}
	patches := Cluster(makePositions([][2]float64{{0, 0}, {50, 0}}), params)
	if len(patches) != 2 {
		t.Fatalf("Expected 2 patches with zero margin, got %d", len(patches))
	}
}
