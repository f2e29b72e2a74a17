package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"hf-fetch/config"
	"hf-fetch/downloader"
	"hf-fetch/hub"
	"hf-fetch/logging"
	"hf-fetch/storage"
)

// app holds the long-lived components shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	cache    *hub.Cache
	client   *hub.Client
	transfer *hub.Transfer
	metadata *storage.MetadataStore
	history  *storage.History
}

func newApp(cfg *config.Config, levelOverride string) (*app, error) {
	level := cfg.LogLevel
	if levelOverride != "" {
		level = levelOverride
	}
	logger, err := logging.New(level, level == "DEBUG")
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.cache, err = hub.OpenCache(cfg.CacheDB, cfg.CacheTTL)
	if err != nil {
		// The cache only saves API round trips
		logger.Warn("response cache unavailable", zap.String("path", cfg.CacheDB), zap.Error(err))
		a.cache = nil
	}

	clientOpts := []hub.ClientOption{
		hub.WithEndpoint(cfg.Endpoint),
		hub.WithToken(cfg.Token),
		hub.WithClientLogger(logger),
	}
	if a.cache != nil {
		clientOpts = append(clientOpts, hub.WithCache(a.cache))
	}
	a.client = hub.NewClient(clientOpts...)
	a.transfer = hub.NewTransfer(a.client, logger)

	a.metadata, err = storage.OpenMetadataStore(cfg.MetadataFile, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.history, err = storage.OpenHistory(cfg.HistoryDB, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open download history: %w", err)
	}

	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.logger.Sync()
}

// modelDir maps "namespace/name" to <models dir>/namespace/name
func (a *app) modelDir(repoID string) string {
	return filepath.Join(a.cfg.ModelsDir, filepath.FromSlash(repoID))
}

// newOrchestrator builds an orchestrator from the configuration. Each
// concurrent download needs its own.
func (a *app) newOrchestrator() *downloader.Orchestrator {
	opts := downloader.Options{
		Step: downloader.StepOptions{
			MaxAttempts:       a.cfg.MaxRetries,
			RetryBaseDelay:    a.cfg.RetryBaseDelay,
			PollInterval:      a.cfg.PollInterval,
			HeartbeatInterval: a.cfg.HeartbeatInterval,
			SearchWarnAfter:   a.cfg.SearchWarnAfter,
			StagingPath:       hub.StagingPath,
		},
		SpeedWindow:    a.cfg.SpeedWindow,
		DiskHeadroom:   1 + a.cfg.DiskHeadroom,
		GlobalCacheDir: a.cfg.GlobalCacheDir,
	}
	if opts.GlobalCacheDir == "" {
		opts.GlobalCacheDir = downloader.DefaultGlobalCacheDir()
	}

	return downloader.NewOrchestrator(a.client, a.transfer, a.metadata, a.modelDir,
		downloader.WithLogger(a.logger),
		downloader.WithHistory(a.history),
		downloader.WithOptions(opts))
}
