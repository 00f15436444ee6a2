package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/cbegin/stepcue/internal/config"
	"github.com/cbegin/stepcue/internal/midiout"
)

var (
	logger     = slog.Default()
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "stepcue",
	Short:        "Step-accurate score playback",
	Long:         `stepcue plays MML and YAML scores step by step, with a moving cursor, seeking, looping over a step range and live tempo changes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger(debug)
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for i, name := range midiout.Ports() {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default is stepcue/config.yaml in the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(portsCmd)
}

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			logger.Debug("no user config dir", "err", err)
			return config.Default(), nil
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", "path", path, "backend", cfg.Backend)
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
