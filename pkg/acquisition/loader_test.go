package acquisition

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// writeTestImage saves a Gray16 test pattern as PNG
func writeTestImage(t *testing.T, path string, width, height int, seed uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: seed + uint16(y*width+x)})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

func writeManifest(t *testing.T, dir string, m *Manifest) string {
	t.Helper()
	data, err := yaml.Marshal(m)
	if err != nil {
		t.Fatalf("Failed to marshal manifest: %v", err)
	}
	path := filepath.Join(dir, "layout.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

func testManifest() *Manifest {
	m := &Manifest{
		Calibration: 0.65,
		Channels:    []string{"DAPI", "GFP"},
		WellList: []WellEntry{
			{
				Name: "A1",
				Tiles: []TileEntry{
					{ID: 1, X: 100, Y: 0, Files: []string{"a1_t1_dapi.png", "a1_t1_gfp.png"}},
					{ID: 0, X: 0, Y: 0, Files: []string{"a1_t0_dapi.png", "a1_t0_gfp.png"}},
				},
			},
		},
	}
	m.Footprint.Width = 8
	m.Footprint.Height = 8
	return m
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, testManifest())

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.Calibration != 0.65 {
		t.Errorf("Expected calibration 0.65, got %g", m.Calibration)
	}
	if len(m.WellList) != 1 || len(m.WellList[0].Tiles) != 2 {
		t.Fatalf("Manifest shape wrong: %+v", m.WellList)
	}
}

func TestLoadManifestRejectsBadFootprint(t *testing.T) {
	dir := t.TempDir()
	m := testManifest()
	m.Footprint.Width = 0
	path := writeManifest(t, dir, m)

	if _, err := LoadManifest(path); err == nil {
		t.Error("Expected error for zero footprint")
	}
}

func TestManifestWellsSortedByID(t *testing.T) {
	wells := testManifest().Wells()
	if len(wells) != 1 {
		t.Fatalf("Expected 1 well, got %d", len(wells))
	}

	w := wells[0]
	if w.Name != "A1" {
		t.Errorf("Expected well A1, got %q", w.Name)
	}
	if w.Stage[0].ID != 0 || w.Stage[1].ID != 1 {
		t.Errorf("Tiles not sorted by id: %+v", w.Stage)
	}
	if len(w.Channels) != 2 {
		t.Errorf("Expected 2 channels, got %d", len(w.Channels))
	}
}

func TestSourceTileImage(t *testing.T) {
	dir := t.TempDir()
	m := testManifest()

	for _, well := range m.WellList {
		for _, tile := range well.Tiles {
			for c, name := range tile.Files {
				writeTestImage(t, filepath.Join(dir, name), 8, 8, uint16(1000*tile.ID+100*c))
			}
		}
	}

	src := NewSource(dir, m)
	tile, err := src.TileImage("A1", 0)
	if err != nil {
		t.Fatalf("TileImage failed: %v", err)
	}

	if tile.Width != 8 || tile.Height != 8 {
		t.Errorf("Expected 8x8 tile, got %dx%d", tile.Width, tile.Height)
	}
	if len(tile.Channels) != 2 {
		t.Errorf("Expected 2 channel planes, got %d", len(tile.Channels))
	}
	if tile.BitDepth != 16 {
		t.Errorf("Expected 16-bit samples, got %d", tile.BitDepth)
	}
	if tile.Calibration != 0.65 {
		t.Errorf("Expected calibration 0.65, got %g", tile.Calibration)
	}

	// First pixel of channel 1 carries the channel seed
	want := float64(100) / 65535.0
	if got := tile.Channels[1][0]; got != want {
		t.Errorf("Channel 1 pixel 0 = %g, want %g", got, want)
	}
}

func TestSourceMissingChannelFile(t *testing.T) {
	dir := t.TempDir()
	m := testManifest()
	// Declare two channels but list only one file for tile 0
	m.WellList[0].Tiles[1].Files = m.WellList[0].Tiles[1].Files[:1]

	writeTestImage(t, filepath.Join(dir, "a1_t0_dapi.png"), 8, 8, 0)

	src := NewSource(dir, m)
	if _, err := src.TileImage("A1", 0); err == nil {
		t.Error("Expected error for tile with fewer files than channels")
	}
}

func TestSourceUnknownWellAndTile(t *testing.T) {
	src := NewSource(t.TempDir(), testManifest())

	if _, err := src.TileImage("B9", 0); err == nil {
		t.Error("Expected error for unknown well")
	}
	if _, err := src.TileImage("A1", 99); err == nil {
		t.Error("Expected error for unknown tile id")
	}
}
