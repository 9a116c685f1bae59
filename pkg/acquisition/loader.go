// Package acquisition reads a tile layout manifest and the tile images it
// references, presenting them to the pipeline as a TileSource.
package acquisition

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	_ "golang.org/x/image/tiff"

	"mosaicstitch/internal/models"
	"mosaicstitch/pkg/layout"
	"mosaicstitch/pkg/pipeline"
)

// TileEntry describes one tile in the manifest: its id, absolute stage
// position in physical units, and one image file per channel.
type TileEntry struct {
	ID    int      `yaml:"id"`
	X     float64  `yaml:"x"`
	Y     float64  `yaml:"y"`
	Files []string `yaml:"files"`
}

// WellEntry groups the tiles of one acquisition well.
type WellEntry struct {
	Name  string      `yaml:"name"`
	Tiles []TileEntry `yaml:"tiles"`
}

// Manifest is the YAML layout description produced by the acquisition side:
// a shared pixel calibration and tile footprint, the channel names, and the
// per-well tile positions with their image files.
type Manifest struct {
	Calibration float64 `yaml:"calibration"`
	Footprint   struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"footprint"`
	Channels []string    `yaml:"channels"`
	WellList []WellEntry `yaml:"wells"`
}

// LoadManifest reads and validates a layout manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}

	if m.Footprint.Width <= 0 || m.Footprint.Height <= 0 {
		return nil, fmt.Errorf("manifest footprint must be positive, got %dx%d", m.Footprint.Width, m.Footprint.Height)
	}
	if len(m.WellList) == 0 {
		return nil, fmt.Errorf("manifest declares no wells")
	}

	return m, nil
}

// Wells converts the manifest into pipeline well descriptions, tiles in
// ascending id order.
func (m *Manifest) Wells() []pipeline.Well {
	wells := make([]pipeline.Well, 0, len(m.WellList))
	for _, w := range m.WellList {
		tiles := make([]TileEntry, len(w.Tiles))
		copy(tiles, w.Tiles)
		sort.Slice(tiles, func(i, j int) bool { return tiles[i].ID < tiles[j].ID })

		stage := make([]layout.StagePosition, len(tiles))
		for i, t := range tiles {
			stage[i] = layout.StagePosition{ID: t.ID, X: t.X, Y: t.Y}
		}

		wells = append(wells, pipeline.Well{
			Name:            w.Name,
			Stage:           stage,
			Calibration:     m.Calibration,
			FootprintWidth:  m.Footprint.Width,
			FootprintHeight: m.Footprint.Height,
			Channels:        m.Channels,
		})
	}
	return wells
}

// Source loads tile images on demand. It implements pipeline.TileSource.
type Source struct {
	root     string
	manifest *Manifest

	// tiles indexes the manifest entries by well name and tile id.
	tiles map[string]map[int]TileEntry
}

// NewSource builds a Source reading image files relative to root.
func NewSource(root string, m *Manifest) *Source {
	tiles := make(map[string]map[int]TileEntry, len(m.WellList))
	for _, w := range m.WellList {
		byID := make(map[int]TileEntry, len(w.Tiles))
		for _, t := range w.Tiles {
			byID[t.ID] = t
		}
		tiles[w.Name] = byID
	}
	return &Source{root: root, manifest: m, tiles: tiles}
}

// TileImage decodes the per-channel files of one tile into float planes.
// A tile with fewer files than the declared channel count is a manifest
// error; the pipeline reports it and skips the well.
func (s *Source) TileImage(well string, id int) (*models.TileImage, error) {
	byID, ok := s.tiles[well]
	if !ok {
		return nil, fmt.Errorf("acquisition: unknown well %q", well)
	}
	entry, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("acquisition: well %q has no tile %d", well, id)
	}
	if len(entry.Files) < len(s.manifest.Channels) {
		return nil, fmt.Errorf("acquisition: tile %d has %d files for %d channels",
			id, len(entry.Files), len(s.manifest.Channels))
	}

	tile := &models.TileImage{
		ID:          id,
		Calibration: s.manifest.Calibration,
	}

	for c, name := range entry.Files {
		img, err := decodeImage(filepath.Join(s.root, name))
		if err != nil {
			return nil, fmt.Errorf("acquisition: tile %d channel %d: %w", id, c, err)
		}

		bounds := img.Bounds()
		if c == 0 {
			tile.Width = bounds.Dx()
			tile.Height = bounds.Dy()
			tile.BitDepth = sampleDepth(img)
		} else if bounds.Dx() != tile.Width || bounds.Dy() != tile.Height {
			return nil, fmt.Errorf("acquisition: tile %d channel %d is %dx%d, expected %dx%d",
				id, c, bounds.Dx(), bounds.Dy(), tile.Width, tile.Height)
		}

		tile.Channels = append(tile.Channels, models.PlaneFromImage(img))
	}

	return tile, nil
}

// decodeImage opens and decodes one image file. PNG, JPEG and TIFF decoders
// are registered via blank imports.
func decodeImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// sampleDepth reports the bit depth of the decoded image's sample type.
func sampleDepth(img image.Image) int {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return 16
	default:
		return 8
	}
}
