package cli

import (
	"fmt"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/logger"
	"github.com/harun/mnemo/pkg/cache"
	"github.com/harun/mnemo/pkg/memstore"
	"github.com/rs/zerolog"
)

// loadConfig reads configuration and applies CLI overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger from configuration
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
}

// openStore opens the versioned store from configuration
func openStore(cfg *config.Config, log zerolog.Logger) (*memstore.Store, error) {
	return memstore.New(memstore.Config{
		DBPath:    cfg.Store.DBPath,
		AuditPath: cfg.Store.AuditPath,
		Logger:    log,
	})
}

// openBackend selects the durable document backend from configuration
func openBackend(cfg *config.Config, log zerolog.Logger) (cache.Backend, func() error, error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		b, err := cache.NewSQLiteBackend(cfg.Cache.BackendPath, log)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "file":
		b, err := cache.NewFileBackend(cfg.Cache.BackendPath, log)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "memory":
		return cache.NewMemoryBackend(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
