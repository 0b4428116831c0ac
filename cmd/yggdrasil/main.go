// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwhector/yggdrasil/internal/audio"
	"github.com/jwhector/yggdrasil/internal/backup"
	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/daw"
	"github.com/jwhector/yggdrasil/internal/engine"
	ylog "github.com/jwhector/yggdrasil/internal/log"
	"github.com/jwhector/yggdrasil/internal/persistence"
	"github.com/jwhector/yggdrasil/internal/show"
	"github.com/jwhector/yggdrasil/internal/timing"
	"github.com/jwhector/yggdrasil/internal/transport"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to show config file (YAML)")
	restorePath := flag.String("restore", "", "restore state from a backup file instead of the database")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ylog.Configure(ylog.Config{
		Level:   config.ParseString("YGG_LOG_LEVEL", "info"),
		Service: "yggdrasil",
		Version: version,
	})
	logger := ylog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with precedence: ENV > file > defaults.
	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	logger = ylog.WithShow("main", cfg.ShowID)
	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting yggdrasil")

	// Persistence first: a crashed show resumes where it stopped.
	store, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "persistence.open_failed").
			Str("db_path", cfg.Persistence.DBPath).
			Msg("failed to open state store")
	}
	defer func() { _ = store.Close() }()

	state := recoverState(ctx, cfg, store, *restorePath, logger)

	// DAW bridge: real OSC when enabled, a logging stub otherwise.
	var bridge daw.Bridge
	if cfg.DAW.Enabled {
		bridge = daw.NewOSCBridge(cfg.DAW.Host, cfg.DAW.SendPort, cfg.DAW.RecvPort, ylog.WithComponent("daw"))
	} else {
		bridge = daw.NewNullBridge(ylog.WithComponent("daw"))
	}
	if err := bridge.Start(); err != nil {
		logger.Fatal().Err(err).Str("event", "daw.start_failed").Msg("failed to start DAW bridge")
	}
	if cfg.DAW.Enabled {
		daw.Probe(bridge, len(cfg.Rows)*config.OptionsPerRow, ylog.WithComponent("daw"))
	}

	backups := backup.NewWriter(cfg.Backup.Dir, cfg.Backup.Prefix, cfg.Backup.MaxFiles, ylog.WithComponent("backup"))
	router := audio.NewRouter(bridge, ylog.WithComponent("audio"))

	var eng *engine.Engine
	scheduler := timing.NewScheduler(cfg.Timing, timing.SubmitterFunc(func(v int) {
		eng.SubmitAdvance(v)
	}), ylog.WithComponent("timing"))
	scheduler.BindBridge(bridge)

	hub := transport.NewHub(func(cmd conductor.Command) error {
		return eng.Submit(cmd)
	}, cfg.Heartbeat, ylog.WithComponent("transport"))

	eng = engine.New(conductor.New(), state, engine.Options{
		Broadcaster: hub,
		Persister:   store,
		Backups:     backups,
		Observer:    scheduler,
		Audio:       router,
	}, ylog.WithComponent("engine"))

	// A recovered show may sit mid-window; re-arm its timer.
	scheduler.Observe(state)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.With(httprate.LimitByIP(30, time.Minute)).Get("/ws", hub.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"version":%d,"clients":%d}`, eng.Version(), hub.ClientCount())
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Timing overrides in the config file apply without a restart.
	watcher := config.NewWatcher(*configPath, func(t config.TimingConfig) {
		override := overrideFrom(t)
		if err := eng.Submit(conductor.Command{Type: conductor.CmdSetTiming, Timing: &override}); err != nil {
			logger.Warn().Err(err).Str("event", "config.timing_apply_failed").Msg("reloaded timing rejected")
		}
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "config.watch_failed").Msg("config watcher unavailable")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("event", "http.listening").Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if interval := cfg.Backup.Interval.Std(); interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					eng.BackupNow()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	err = g.Wait()

	// Shutdown order: stop timers and take the final recovery point, then
	// silence the DAW, then release the socket and the store.
	eng.Shutdown()
	router.Reset()
	if cerr := bridge.Close(); cerr != nil {
		logger.Warn().Err(cerr).Str("event", "daw.close_failed").Msg("DAW bridge close failed")
	}

	if err != nil {
		logger.Fatal().Err(err).Str("event", "shutdown.error").Msg("server exited with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("server exiting")
}

// recoverState picks the boot state: an explicit backup file wins, then the
// database snapshot, then a fresh lobby.
func recoverState(ctx context.Context, cfg config.ShowConfig, store *persistence.Store, restorePath string, logger zerolog.Logger) *show.ShowState {
	if restorePath != "" {
		state, err := backup.Load(restorePath)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "restore.failed").
				Str("path", restorePath).
				Msg("failed to restore from backup")
		}
		logger.Info().
			Str("event", "restore.from_backup").
			Str("path", restorePath).
			Int("restored_version", state.Version).
			Msg("state restored from backup file")
		return state
	}

	state, err := store.LoadSnapshot(ctx, show.ShowID(cfg.ShowID))
	switch {
	case err == nil:
		logger.Info().
			Str("event", "restore.from_snapshot").
			Int("restored_version", state.Version).
			Str("phase", string(state.Phase)).
			Msg("state recovered from database")
		return state
	case errors.Is(err, persistence.ErrNoSnapshot):
		logger.Info().Str("event", "restore.fresh").Msg("no stored state, starting a fresh show")
		return show.New(cfg, time.Now())
	default:
		logger.Fatal().
			Err(err).
			Str("event", "restore.failed").
			Msg("failed to load stored state")
		return nil
	}
}

// overrideFrom lifts a full timing section into an override that replaces
// every field.
func overrideFrom(t config.TimingConfig) config.TimingOverride {
	return config.TimingOverride{
		AuditionPerOption:   &t.AuditionPerOption,
		AuditionLoopsPerRow: &t.AuditionLoopsPerRow,
		VotingWindow:        &t.VotingWindow,
		RevealDuration:      &t.RevealDuration,
		CoupWindow:          &t.CoupWindow,
		MasterLoopBeats:     &t.MasterLoopBeats,
		UseExternalClock:    &t.UseExternalClock,
	}
}
