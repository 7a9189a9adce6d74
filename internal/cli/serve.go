package cli

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/pkg/cache"
	"github.com/harun/mnemo/pkg/maintenance"
	"github.com/harun/mnemo/pkg/snapshot"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory service in the foreground",
	Long: `Run the memory service: opens the versioned store and the durable
document backend, starts scheduled cache maintenance, and optionally
exposes Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	instanceID, err := gonanoid.New(8)
	if err != nil {
		return err
	}
	log := lg.Zerolog().With().Str("instance", instanceID).Logger()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, closeBackend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	indexed, err := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.DefaultTTL,
		Backend:    backend,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	// File-backed deployments invalidate cached owners when another
	// process rewrites a document file.
	if fb, ok := backend.(*cache.FileBackend); ok {
		if err := fb.WatchChanges(indexed.InvalidateOwner); err != nil {
			return err
		}
	}

	snapCache, err := snapshot.New(snapshot.Config{
		Backend:       backend,
		Logger:        log,
		MaxRoutes:     cfg.Snapshot.MaxRoutes,
		EvictionBatch: cfg.Snapshot.EvictionBatch,
		CacheTTL:      cfg.Snapshot.CacheTTL,
	})
	if err != nil {
		return err
	}

	// Warm the snapshot so a missing or corrupt row is repaired at startup
	if result, err := snapCache.GetSnapshot(cmd.Context(), false); err != nil {
		log.Warn().Err(err).Msg("Snapshot warmup failed")
	} else {
		log.Info().
			Str("loaded_from", string(result.LoadedFrom)).
			Int("routes", len(result.Snapshot.RouteState)).
			Msg("Route snapshot ready")
	}

	var sched *maintenance.Scheduler
	if cfg.Maintenance.CompactionSchedule != "" {
		sched, err = maintenance.New(maintenance.Config{
			CompactionSchedule: cfg.Maintenance.CompactionSchedule,
			Cache:              indexed,
			Store:              store,
			Logger:             log,
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.MetricsHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint enabled")
	}

	log.Info().Msg("Memory service running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	return nil
}
