package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/quizhub/adminview/internal/config"
	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/metrics"
	"github.com/quizhub/adminview/internal/server"
	"github.com/quizhub/adminview/internal/sweep"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	configDebounce  = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sweep":
			runSweep(os.Args[2:])
			return
		case "seed":
			runSeed(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("adminview %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`adminview %s - admin back-office API for the quiz platform

Serves dashboard KPIs, leaderboards, the profile listing and the
stale game-session sweep as JSON over HTTP.

Usage:
  adminview [flags]          Start the server (default command)
  adminview serve [flags]    Start the server (explicit)
  adminview sweep [flags]    Delete game sessions stuck in waiting
  adminview seed -file PATH  Load fixture rows from a YAML file
  adminview version          Show version information
  adminview help             Show this help

Server flags:
  -host string          Host to bind to (default "127.0.0.1")
  -port int             Port to listen on (default 8080)
  -data-dir string      Data directory (database, config)
  -database-url string  Postgres URL; SQLite under data dir when empty
  -log-level string     debug, info, warn or error
  -top-n int            Leaderboard length

Sweep flags:
  -older-than duration  Waiting sessions at least this old (default: config stale_after)
  -dry-run              Show what would be swept without deleting
  -yes                  Skip confirmation prompt

Environment variables:
  ADMINVIEW_DATA_DIR      Data directory
  ADMINVIEW_CONFIG        Config file (default <data dir>/config.yaml)
  ADMINVIEW_DATABASE_URL  Postgres connection URL
  ADMINVIEW_<KEY>         Any config key, e.g. ADMINVIEW_TOP_N

Data is stored in ~/.adminview/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	lg := logger.Named("main")

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	store := mustOpenStore(ctx, cfg)
	defer store.Close()

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		lg.Warn(ctx, "port in use",
			logger.Int("requested", cfg.Port), logger.Int("using", port))
	}
	cfg.Port = port

	m := metrics.Default()
	sweeper := sweep.New(store,
		sweep.WithThreshold(cfg.StaleAfter),
		sweep.WithMetrics(m),
	)
	srv := server.New(cfg, store,
		server.WithVersion(server.VersionInfo{
			Version:       version,
			Commit:        commit,
			BuildDate:     buildDate,
			SchemaVersion: db.SchemaVersion,
		}),
		server.WithMetrics(m),
		server.WithSweeper(sweeper),
	)

	stopWatcher := startConfigWatcher(ctx, cfg, srv, m)
	defer stopWatcher()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	lg.Info(ctx, "adminview listening",
		logger.String("version", version),
		logger.String("url", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)),
		logger.Bool("postgres", cfg.UsesPostgres()),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error(ctx, "server error", logger.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		lg.Info(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error(shutdownCtx, "shutdown", logger.Error(err))
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("adminview", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: adminview [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

// openStore opens Postgres when a database URL is configured,
// else the SQLite file under the data dir.
func openStore(ctx context.Context, cfg config.Config) (db.Store, error) {
	if cfg.UsesPostgres() {
		pg, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	d, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func mustOpenStore(ctx context.Context, cfg config.Config) db.Store {
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return store
}

// startConfigWatcher applies log level and sweep threshold changes
// from the config file without a restart.
func startConfigWatcher(
	ctx context.Context, cfg config.Config,
	srv *server.Server, m *metrics.Manager,
) func() {
	lg := logger.Named("config")
	w, err := config.NewWatcher(cfg.ConfigFile, configDebounce,
		config.LoadMinimal,
		func(next config.Config) {
			applyReload(ctx, next, srv, m)
		},
	)
	if err != nil {
		lg.Warn(ctx, "config watcher unavailable", logger.Error(err))
		return func() {}
	}
	w.OnError(func(err error) {
		m.RecordConfigReload("error")
		lg.Error(ctx, "config reload failed", logger.Error(err))
	})
	w.Start()
	return w.Stop
}

func applyReload(
	ctx context.Context, next config.Config,
	srv *server.Server, m *metrics.Manager,
) {
	if err := logger.SetLevelString(next.LogLevel); err != nil {
		m.RecordConfigReload("error")
		logger.Named("config").Error(ctx, "config reload rejected",
			logger.Error(err))
		return
	}
	srv.Reload(next)
	m.RecordConfigReload("ok")
	logger.Named("config").Info(ctx, "config reloaded",
		logger.String("log_level", next.LogLevel),
		logger.Duration("stale_after", next.StaleAfter),
	)
}
