// Command speechcoach runs the speech analysis server and the terminal
// practice client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speechcoach/internal/app"
	"github.com/MrWong99/speechcoach/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	level      *slog.LevelVar
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "speechcoach",
		Short:         "Practice speaking and get AI coaching feedback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newPracticeCmd(opts))
	root.AddCommand(newStatsCmd(opts))
	root.AddCommand(newCulturesCmd())
	return root
}

// loadConfig reads the configured file, or the defaults when no path was
// given, and installs the process logger.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", o.configPath)
			}
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		lvl := config.LogLevel(o.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}

	o.level.Set(app.LevelOf(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.level})))
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
