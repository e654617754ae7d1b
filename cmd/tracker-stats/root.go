package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tracker-stats/internal/app"
	"tracker-stats/internal/config"
	"tracker-stats/internal/fetcher"
	"tracker-stats/internal/observability"
)

var (
	configPath string
	debug      bool
	jsonOutput bool
)

// env: то, что собирается один раз на запуск команды
type env struct {
	cfg        *config.Config
	logger     *observability.Logger
	browser    *fetcher.Browser
	aggregator *app.Aggregator
	ctx        context.Context
	cancel     context.CancelFunc
}

var rootCmd = &cobra.Command{
	Use:           "tracker-stats",
	Short:         "tracker-stats collects account statistics and search results from private trackers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// setup загружает конфиг и собирает сайты; вызывается командами, которым нужна сеть
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)
	if debug {
		logger.SetDebug()
	}

	client := fetcher.NewClient(cfg, logger)

	var browser *fetcher.Browser
	if cfg.Rod.Enabled {
		browser, err = client.NewBrowser()
		if err != nil {
			_ = logger.Close()
			return nil, err
		}
	}

	sites, err := app.BuildSites(cfg, client, browser, logger)
	if err != nil {
		if browser != nil {
			_ = browser.Close()
		}
		_ = logger.Close()
		return nil, err
	}
	if len(sites) == 0 {
		logger.Warn("No enabled sites in config", "config", configPath)
	}

	ctx, cancel := app.GracefulShutdown(cmd.Context(), logger, 0)
	return &env{
		cfg:        cfg,
		logger:     logger,
		browser:    browser,
		aggregator: app.NewAggregator(cfg, logger, sites),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (e *env) close() {
	e.cancel()
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			e.logger.Warn("Failed to close browser", "error", err)
		}
	}
	_ = e.logger.Close()
}
