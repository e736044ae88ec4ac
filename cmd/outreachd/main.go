package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/build"
	"github.com/roasbeef/outreach/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	haltPath   string
	adminAddr  string
	logLevel   string
	noLogFile  bool
	once       bool
)

var rootCmd = &cobra.Command{
	Use:   "outreachd",
	Short: "Outreach scheduler daemon",
	Long: `outreachd runs the outreach scheduler: it paces actions across the
account pool, honours every rate limit and stops on the emergency halt.

Producers submit targets through the local admin API. Use the outreach
CLI to inspect status, halt and resume.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "",
		"Path to the configuration file (default: ~/.outreach/config.yaml)")
	flags.StringVar(&dbPath, "db", "",
		"Path to SQLite database (overrides db_path)")
	flags.StringVar(&haltPath, "halt", "",
		"Halt sentinel location (overrides halt_sentinel_path)")
	flags.StringVar(&adminAddr, "admin", "",
		"Admin API address (overrides admin_addr, \"off\" disables)")
	flags.StringVar(&logLevel, "log-level", "",
		"Log level (overrides log.level)")
	flags.BoolVar(&noLogFile, "no-log-file", false,
		"Log to the console only")
	flags.BoolVar(&once, "once", false,
		"Run a single cycle and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		code := 1
		if errors.Is(err, config.ErrInvalid) {
			code = 3
		}
		os.Exit(code)
	}
}

// configFile is the configuration path in effect.
func configFile() string {
	if configPath != "" {
		return configPath
	}

	return config.DefaultPath()
}

// loadConfig reads the configuration and applies the flag overrides. The
// config watcher calls it again on every change.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, err
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if haltPath != "" {
		cfg.HaltSentinelPath = haltPath
	}
	switch adminAddr {
	case "":
	case "off":
		cfg.AdminAddr = ""
	default:
		cfg.AdminAddr = adminAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logging, err := setupLogging(cfg, os.Stderr, noLogFile)
	if err != nil {
		return err
	}
	defer logging.Close()

	// Set up signal handling for graceful shutdown. An in-flight action
	// always finishes first.
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	log.InfoS(ctx, "Starting outreachd",
		"version", build.Version(),
		"commit", build.CommitHash(),
		"platform", cfg.Platform,
		"driver", cfg.Driver.Kind,
		"timezone", cfg.Timezone)

	d, err := newDaemon(cfg, clock.NewDefaultClock(),
		logging.Slog(dbSubsystem))
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			log.ErrorS(ctx, "Shutdown cleanup failed", err)
		}
	}()

	if once {
		_, err := d.runOnce(ctx)
		return err
	}

	if err := d.watchConfig(configFile(), loadConfig); err != nil {
		return err
	}

	if err := d.run(ctx); err != nil {
		return err
	}

	log.InfoS(ctx, "outreachd stopped")

	return nil
}
