// Package pipeline sequences the stitching stages for each acquisition
// well: coordinate normalization, patch clustering, per-patch registration
// and fusion. Wells are independent and may be processed concurrently;
// within a well the stages run strictly in order.
package pipeline

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"mosaicstitch/internal/models"
	"mosaicstitch/pkg/config"
	"mosaicstitch/pkg/fusion"
	"mosaicstitch/pkg/layout"
	"mosaicstitch/pkg/register"
)

// TileSource supplies the projected, merged pixel data for one tile of a
// well. Implementations own the buffers until they hand them over; the
// pipeline releases its references as soon as the owning patch is fused.
type TileSource interface {
	TileImage(well string, id int) (*models.TileImage, error)
}

// Well describes one acquisition unit: its tiles' absolute stage positions
// plus the shared calibration and tile footprint.
type Well struct {
	// Name identifies the well and prefixes its patch titles.
	Name string

	// Stage holds the absolute stage position per tile, in physical units.
	Stage []layout.StagePosition

	// Calibration is the physical size of one pixel.
	Calibration float64

	// FootprintWidth and FootprintHeight are the tile dimensions in pixels.
	FootprintWidth  int
	FootprintHeight int

	// Channels names the acquisition channels, in plane order.
	Channels []string
}

// PatchResult is one fused patch together with its registration summary.
type PatchResult struct {
	Well         string
	PatchID      int
	Fused        *models.FusedImage
	Registration register.Metrics
	TileCount    int
}

// WellResult collects the outcome for one well. Err is set when the well
// was skipped; processing of other wells continues regardless.
type WellResult struct {
	Well    string
	Patches []PatchResult
	Err     error
}

// Stitcher runs the stitching pipeline with a fixed configuration.
type Stitcher struct {
	cfg        *config.Config
	fusionMode fusion.Mode
	regParams  register.Params
}

// New builds a Stitcher from a validated configuration.
func New(cfg *config.Config) (*Stitcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := fusion.ParseMode(cfg.Fusion.Mode)
	if err != nil {
		return nil, err
	}
	return &Stitcher{
		cfg:        cfg,
		fusionMode: mode,
		regParams: register.Params{
			Subpixel:         cfg.Registration.Subpixel,
			QualityThreshold: cfg.Registration.QualityThreshold,
			PeakCandidates:   cfg.Registration.PeakCandidates,
			MinOverlapPixels: cfg.Registration.MinOverlapPixels,
		},
	}, nil
}

// ProcessWell stitches one well: normalize stage coordinates, cluster tiles
// into patches, then register and fuse each patch. Pixel buffers for a
// patch are gathered right before its registration and dropped right after
// its fusion, so at most one patch's working set is held at a time.
func (s *Stitcher) ProcessWell(well Well, src TileSource) ([]PatchResult, error) {
	positions, err := layout.Normalize(well.Stage, well.Calibration)
	if err != nil {
		return nil, fmt.Errorf("well %s: %w", well.Name, err)
	}

	patches := layout.Cluster(positions, layout.ClusterParams{
		FootprintWidth:  float64(well.FootprintWidth),
		FootprintHeight: float64(well.FootprintHeight),
		Margin:          s.cfg.Clustering.FootprintMargin,
	})

	if s.cfg.Processing.Verbose {
		fmt.Printf("Well %s: %d tiles in %d patches\n", well.Name, len(positions), len(patches))
	}

	results := make([]PatchResult, 0, len(patches))
	for patchID, patch := range patches {
		ids := patch.IDs()

		// Gather this patch's pixel buffers only now; they are the bulk
		// of the working set and must not outlive the patch.
		images := make(map[int]*models.TileImage, len(ids))
		for _, id := range ids {
			img, err := src.TileImage(well.Name, id)
			if err != nil {
				return nil, fmt.Errorf("well %s: tile %d: %w", well.Name, id, err)
			}
			images[id] = img
		}

		transforms, metrics, err := register.Register(patch, images, s.regParams)
		if err != nil {
			return nil, fmt.Errorf("well %s: patch %d: %w", well.Name, patchID, err)
		}

		fused, err := fusion.Fuse(patch, transforms, images, s.fusionMode)
		if err != nil {
			return nil, fmt.Errorf("well %s: patch %d: %w", well.Name, patchID, err)
		}

		// Drop buffer references before moving to the next patch.
		for id := range images {
			delete(images, id)
		}

		fused.PatchID = patchID
		fused.Title = patchTitle(well, patchID)

		if s.cfg.Processing.Verbose {
			fmt.Printf("Well %s: patch %d fused: %d tiles, %dx%d px, %d/%d pairs accepted (mean quality %.3f)\n",
				well.Name, patchID, patch.Size(), fused.Width, fused.Height,
				metrics.Accepted, metrics.Pairs, metrics.MeanQuality)
		}

		results = append(results, PatchResult{
			Well:         well.Name,
			PatchID:      patchID,
			Fused:        fused,
			Registration: metrics,
			TileCount:    patch.Size(),
		})
	}

	return results, nil
}

// ProcessWells stitches several wells with a bounded pool of workers.
// A failed well is reported in its result and skipped; the remaining wells
// still run. Result order matches input order.
func (s *Stitcher) ProcessWells(wells []Well, src TileSource) []WellResult {
	results := make([]WellResult, len(wells))

	numWorkers := s.cfg.Processing.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	sem := make(chan struct{}, numWorkers)
	var wg sync.WaitGroup

	for i := range wells {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			well := wells[idx]
			patches, err := s.ProcessWell(well, src)
			if err != nil {
				log.Printf("skipping well %s: %v", well.Name, err)
			}
			results[idx] = WellResult{Well: well.Name, Patches: patches, Err: err}
		}(i)
	}

	wg.Wait()
	return results
}

// patchTitle derives the deterministic output title for one patch from the
// well identity and its channel composition.
func patchTitle(well Well, patchID int) string {
	if len(well.Channels) == 0 {
		return fmt.Sprintf("%s_patch%02d", well.Name, patchID)
	}
	return fmt.Sprintf("%s_patch%02d_%s", well.Name, patchID, strings.Join(well.Channels, "-"))
}
