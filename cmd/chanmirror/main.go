// Copyright 2024-2026 Aiku AI

// Command chanmirror mirrors a source channel to a target platform
// account: posts, edits, deletions and pins, in order, exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/chanmirror/pkg/mastodon"
	"github.com/aiku/chanmirror/pkg/mirror"
	"github.com/aiku/chanmirror/pkg/mirror/database"
	"github.com/aiku/chanmirror/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	exitConfigError    = 2
	exitWatchdogExpiry = 3
)

// errWatchdog distinguishes a liveness restart request from an ordinary
// shutdown so the process can exit with a code the supervisor restarts.
var errWatchdog = errors.New("watchdog deadline expired")

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	writeExample := flag.Bool("write-example-config", false, "write the example config to stdout and exit")
	version := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("chanmirror %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if *writeExample {
		fmt.Print(mirror.ExampleConfig)
		return
	}

	cfg, err := mirror.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	log, err := makeLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	log.Info().Str("version", Tag).Msg("Starting chanmirror")

	if err = run(cfg, log); err != nil {
		if errors.Is(err, errWatchdog) {
			log.Error().Msg("Exiting for restart after watchdog expiry")
			os.Exit(exitWatchdogExpiry)
		}
		log.Fatal().Err(err).Msg("Fatal error")
	}
	log.Info().Msg("Shutdown complete")
}

func makeLogger(cfg *mirror.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.TimeFormat = time.StampMilli
		}))
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.With().Timestamp().Logger().Level(level), nil
}

func run(cfg *mirror.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rawDB, err := dbutil.NewWithDialect(cfg.Database.URI, "sqlite3")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.Log = dbutil.ZeroLogger(log.With().Str("component", "database").Logger())
	db := database.New(rawDB)
	if err = db.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	defer db.Close()

	composer, err := mirror.NewComposer(&cfg.Formatting)
	if err != nil {
		return fmt.Errorf("failed to build composer: %w", err)
	}

	source := telegram.NewClient(cfg.Source.GatewayURL, cfg.Source.Channel, log)
	target := mastodon.NewClient(cfg.Target.Instance, cfg.Target.AccessToken, log)

	bus := mirror.NewBus(log)
	writerSub := bus.Subscribe("writer")
	watchdogSub := bus.Subscribe("watchdog")

	assembler := mirror.NewAssembler(source, db, bus, cfg.Pipeline.GroupFlushDelay.D(), log)
	writer := mirror.NewWriter(db, source, target, composer, &cfg.Pipeline, log)

	var watchdogFired bool
	var watchdogMu sync.Mutex
	watchdog := mirror.NewWatchdog(cfg.Pipeline.WatchdogThreshold.D(), func() {
		watchdogMu.Lock()
		watchdogFired = true
		watchdogMu.Unlock()
		cancel()
	}, log)

	metricsServer := startMetrics(cfg.Metrics.Listen, log)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := assembler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("assembler: %w", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := writer.Run(ctx, writerSub); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("writer: %w", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		watchdog.Run(ctx, watchdogSub)
	}()

	wg.Wait()
	watchdog.Stop()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	watchdogMu.Lock()
	fired := watchdogFired
	watchdogMu.Unlock()
	if fired {
		return errWatchdog
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func startMetrics(listen string, log zerolog.Logger) *http.Server {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listen, Handler: mux}
	go func() {
		log.Info().Str("listen", listen).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
	return server
}
