// Package layout converts raw stage coordinates into mosaic pixel space and
// groups tiles into spatially coherent patches.
package layout

import (
	"errors"
	"math"

	"mosaicstitch/internal/models"
)

// Errors reported during coordinate normalization. Both are fatal for the
// affected well only; the caller logs them and moves on to the next well.
var (
	// ErrEmptyTileSet is returned when a well declares no tiles.
	ErrEmptyTileSet = errors.New("layout: empty tile set")

	// ErrMissingCalibration is returned when the pixel calibration is
	// absent or unusable.
	ErrMissingCalibration = errors.New("layout: missing or invalid pixel calibration")
)

// StagePosition is one tile's absolute stage position in physical units,
// as reported by the acquisition stage.
type StagePosition struct {
	ID int
	X  float64
	Y  float64
}

// Normalize converts absolute stage positions to pixel coordinates relative
// to the first tile. The X axis is sign-inverted: on the stage, increasing
// physical X moves the field of view so that mosaic X decreases. Y is left
// unchanged. The reference tile always normalizes to (0, 0).
func Normalize(stage []StagePosition, calibration float64) ([]models.TilePosition, error) {
	if len(stage) == 0 {
		return nil, ErrEmptyTileSet
	}
	if calibration <= 0 || math.IsNaN(calibration) || math.IsInf(calibration, 0) {
		return nil, ErrMissingCalibration
	}

	ref := stage[0]
	positions := make([]models.TilePosition, len(stage))
	for i, s := range stage {
		positions[i] = models.TilePosition{
			ID: s.ID,
			X:  -((s.X - ref.X) / calibration),
			Y:  (s.Y - ref.Y) / calibration,
		}
	}

	return positions, nil
}
