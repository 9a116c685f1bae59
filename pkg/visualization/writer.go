// Package visualization persists fused mosaic images to disk.
package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"mosaicstitch/internal/models"
)

// Writer saves fused patch images into an output directory, one 16-bit
// grayscale PNG per channel.
type Writer struct {
	outputDir string
}

// NewWriter creates a writer rooted at outputDir.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// SaveFused writes every channel of the fused image. Files are named after
// the image title plus the channel name, so repeated runs on the same input
// produce the same file set.
func (w *Writer) SaveFused(fused *models.FusedImage, channels []string) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	for c := range fused.Channels {
		name := fmt.Sprintf("%s_ch%d.png", fused.Title, c)
		if c < len(channels) {
			name = fmt.Sprintf("%s_%s.png", fused.Title, channels[c])
		}

		img := fused.ChannelImage(c)
		if err := w.saveImage(img, filepath.Join(w.outputDir, name)); err != nil {
			return err
		}
	}

	return nil
}

// saveImage writes a single image as PNG. PNG keeps the full 16-bit sample
// range that microscopy data needs.
func (w *Writer) saveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
