package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"sewernet/pkg/cascade"
	"sewernet/pkg/config"
	"sewernet/pkg/network"
	"sewernet/pkg/topology"
)

func main() {
	input := flag.String("input", "", "Path to network GeoJSON file")
	output := flag.String("output", "", "Output GeoJSON path (empty = input with .depths.geojson suffix)")
	cfgPath := flag.String("config", "", "Path to YAML config (empty = defaults)")
	validateOnly := flag.Bool("validate", false, "Validate topology and exit without computing depths")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: depthcalc --input <network.geojson> [--output out.geojson] [--config config.yaml] [--validate]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			logger.Fatal("config load failed", "err", err)
		}
	}

	start := time.Now()

	logger.Info("reading network", "path", *input)
	data, err := os.ReadFile(*input)
	if err != nil {
		logger.Fatal("read input failed", "err", err)
	}
	loaded, err := network.UnmarshalNetwork(data, cfg.Fields)
	if err != nil {
		logger.Fatal("parse network failed", "err", err)
	}
	logger.Info("network parsed", "segments", len(loaded.Segments), "skipped", loaded.Skipped)

	store := network.NewMemStore()
	store.Replace(loaded.Segments)

	logger.Info("building topology")
	snap := topology.Build(store.Segments(), cfg.Tolerances.NodeKeyPrecision)
	stats := snap.Stats()
	logger.Info("topology built",
		"nodes", stats.Nodes, "roots", stats.Roots, "outlets", stats.Outlets,
		"convergent", stats.ConvergentNodes, "components", stats.Components)

	report := topology.Validate(snap, cfg.Tolerances.MovementM)
	for _, warning := range report.Warnings {
		logger.Warn(warning)
	}
	if *validateOnly {
		logger.Info("validation finished", "warnings", len(report.Warnings),
			"took", time.Since(start).Round(time.Millisecond))
		if len(report.Warnings) > 0 {
			os.Exit(2)
		}
		return
	}

	engine := &cascade.Engine{
		Params:               cfg.Params(),
		DepthTolerance:       cfg.Tolerances.DepthM,
		InitialDepthOverride: cfg.InitialDepthM,
		Store:                store,
		Logger:               logger,
	}

	res, err := engine.ComputeNetwork(snap)
	if err != nil {
		logger.Fatal("depth calculation failed", "err", err)
	}
	for _, warning := range res.Warnings {
		logger.Warn(warning)
	}

	outPath := *output
	if outPath == "" {
		outPath = *input + ".depths.geojson"
	}
	out, err := network.MarshalNetwork(store.Segments(), cfg.Fields)
	if err != nil {
		logger.Fatal("serialize network failed", "err", err)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		logger.Fatal("write output failed", "err", err)
	}

	logger.Info("done",
		"recalculated", len(res.Recalculated),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
		"output", outPath,
		"took", time.Since(start).Round(time.Millisecond))
}
