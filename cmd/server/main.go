package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"sewernet/pkg/api"
	"sewernet/pkg/config"
)

func main() {
	port := flag.Int("port", 8080, "HTTP port")
	cfgPath := flag.String("config", "", "Path to YAML config (empty = defaults)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (empty = same-origin)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			logger.Fatal("config load failed", "err", err)
		}
	}
	logger.Info("configuration loaded",
		"min_cover_m", cfg.Hydraulics.MinCoverM,
		"diameter_m", cfg.Hydraulics.DiameterM,
		"slope_m_per_m", cfg.Hydraulics.SlopeMPerM,
		"minimum_depth_m", cfg.Params().MinimumDepth())

	srvCfg := api.DefaultConfig(fmt.Sprintf(":%d", *port))
	srvCfg.CORSOrigin = *corsOrigin
	srvCfg.Logger = logger

	handlers := api.NewHandlers(cfg, logger)
	srv := api.NewServer(srvCfg, handlers)

	if err := api.ListenAndServe(srv, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
