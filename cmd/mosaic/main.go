package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"mosaicstitch/pkg/acquisition"
	"mosaicstitch/pkg/config"
	"mosaicstitch/pkg/pipeline"
	"mosaicstitch/pkg/visualization"
)

func main() {
	// Parse command line arguments
	manifestPath := flag.String("layout", "", "YAML layout manifest describing wells, tiles and stage positions")
	configPath := flag.String("config", "mosaic.yaml", "Configuration file (defaults are used if absent)")
	imageDir := flag.String("images", "", "Directory containing tile images (default: manifest directory)")
	outputDir := flag.String("output", "", "Directory for fused patch images (overrides config)")
	workers := flag.Int("workers", 0, "Number of wells processed concurrently (overrides config)")
	flag.Parse()

	// Validate inputs
	if *manifestPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}

	manifest, err := acquisition.LoadManifest(*manifestPath)
	if err != nil {
		log.Fatalf("Failed to load layout manifest: %v", err)
	}

	root := *imageDir
	if root == "" {
		root = filepath.Dir(*manifestPath)
	}
	source := acquisition.NewSource(root, manifest)

	stitcher, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	wells := manifest.Wells()
	fmt.Printf("Stitching %d wells (%d workers, fusion mode %q)...\n",
		len(wells), cfg.Processing.NumWorkers, cfg.Fusion.Mode)

	startTime := time.Now()
	results := stitcher.ProcessWells(wells, source)
	processingTime := time.Since(startTime)

	writer := visualization.NewWriter(cfg.Output.Directory)

	totalPatches := 0
	skippedWells := 0
	for _, res := range results {
		if res.Err != nil {
			skippedWells++
			continue
		}
		for _, patch := range res.Patches {
			if err := writer.SaveFused(patch.Fused, manifest.Channels); err != nil {
				log.Fatalf("Failed to save patch %s: %v", patch.Fused.Title, err)
			}
			totalPatches++
		}
	}

	fmt.Printf("\nStitching completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Fused images saved to: %s\n\n", cfg.Output.Directory)

	fmt.Printf("Per-well summary:\n")
	fmt.Printf("=================\n")
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("%s: skipped (%v)\n", res.Well, res.Err)
			continue
		}
		for _, patch := range res.Patches {
			fmt.Printf("%s: patch %d: %d tiles, %dx%d px, %d/%d pairs accepted, mean quality %.3f\n",
				res.Well, patch.PatchID, patch.TileCount,
				patch.Fused.Width, patch.Fused.Height,
				patch.Registration.Accepted, patch.Registration.Pairs,
				patch.Registration.MeanQuality)
		}
	}

	fmt.Printf("\nTotals: %d patches fused, %d wells skipped\n", totalPatches, skippedWells)
	if skippedWells > 0 {
		os.Exit(1)
	}
}
