package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"ldapsink/checkpoint"
	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/engine"
	"ldapsink/metrics"
)

var (
	configPath string
	envFile    string
	logLevel   string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "ldapsink",
	Short: "Stream identity records from stdin into an LDAP directory",
	Long: "ldapsink consumes line-delimited SCHEMA/RECORD/STATE messages on stdin,\n" +
		"transforms records into directory entries and writes them in dependency\n" +
		"order, re-emitting state on stdout as batches commit.",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a sync from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and the directory connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file with connection overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Write to an in-memory directory instead of the server")
	rootCmd.AddCommand(runCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes structured JSON to stderr; stdout is reserved for state
// messages.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.DryRun = true
	}
	return cfg, nil
}

func connConfig(cfg *config.Config) directory.ConnConfig {
	return directory.ConnConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		BindDN:   cfg.BindDN,
		Password: cfg.Password,
		UseTLS:   cfg.UseTLS,
		Timeout:  cfg.Timeout(),
	}
}

func runSync() error {
	log := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var client directory.Client
	if cfg.DryRun {
		log.Info("dry run: writes go to an in-memory directory")
		client = directory.NewFake(log)
	} else {
		client, err = directory.Connect(connConfig(cfg), log)
		if err != nil {
			return err
		}
	}
	defer client.Close()

	var store checkpoint.Store
	if cfg.StateDSN != "" {
		pg, err := checkpoint.NewPostgresStore(ctx, cfg.StateDSN, log)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	}

	tracker := checkpoint.NewTracker(os.Stdout, store, log)
	if err := tracker.Restore(ctx); err != nil {
		return err
	}

	var m *metrics.Metrics
	var reg *prometheus.Registry
	if cfg.MetricsListen != "" {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
	}

	eng := engine.New(cfg, client, tracker, m, log)

	var srv *metrics.Server
	if reg != nil {
		srv = metrics.NewServer(cfg.MetricsListen, reg, eng.Stats, log)
		srv.Start()
	}

	// First signal drains: stop consuming, flush what is buffered, commit
	// bookmarks. A second signal aborts hard.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Warn("signal received, draining; send again to abort")
		eng.RequestDrain()
		<-sigs
		log.Error("second signal received, aborting")
		cancel()
	}()

	report, runErr := eng.Run(ctx, os.Stdin)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", "error", err)
		}
	}

	// The report goes to stderr so it never interleaves with state output.
	if encoded, err := json.MarshalIndent(report, "", "  "); err == nil {
		fmt.Fprintln(os.Stderr, string(encoded))
	}

	if runErr != nil {
		return runErr
	}
	if !report.Success() {
		return fmt.Errorf("run failed: %d permanently rejected, %d entries pending replay",
			report.TotalRejected(), report.PendingEntries)
	}
	return nil
}

func runCheck() error {
	log := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration valid", "base_dn", cfg.BaseDN, "streams", len(cfg.Streams))

	if cfg.DryRun {
		log.Info("dry run: skipping directory connection check")
		return nil
	}

	client, err := directory.Connect(connConfig(cfg), log)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("directory connection and bind succeeded", "host", cfg.Host, "port", cfg.Port)

	if cfg.StateDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := checkpoint.NewPostgresStore(ctx, cfg.StateDSN, log)
		if err != nil {
			return err
		}
		defer store.Close()
		bookmarks, err := store.Load(ctx)
		if err != nil {
			return err
		}
		log.Info("state store reachable", "bookmarks", len(bookmarks))
	}
	return nil
}
