package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbegin/stepcue"
	"github.com/cbegin/stepcue/internal/score"
)

var renderFlags struct {
	output     string
	sampleRate int
	maxSeconds float64
	instrument string
	loop       bool
}

var renderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Render a score to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc, err := score.Load(args[0], nil)
		if err != nil {
			return err
		}

		opts := stepcue.DefaultRenderOptions()
		opts.SampleRate = cfg.SampleRate
		opts.Instrument = cfg.Instrument
		opts.Looping = cfg.Looping
		opts.Engine = cfg.EngineOptions()
		opts.Logger = logger
		f := cmd.Flags()
		if f.Changed("sample-rate") {
			opts.SampleRate = renderFlags.sampleRate
		}
		if f.Changed("instrument") {
			opts.Instrument = renderFlags.instrument
		}
		if f.Changed("loop") {
			opts.Looping = renderFlags.loop
		}
		opts.MaxSeconds = renderFlags.maxSeconds

		samples, err := stepcue.Render(cmd.Context(), sc, opts)
		if err != nil {
			return err
		}
		out := renderFlags.output
		if out == "" {
			out = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + ".wav"
		}
		if err := os.WriteFile(out, stepcue.EncodeWAVFloat32LE(samples, opts.SampleRate, 2), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		logger.Info("rendered", "file", out, "seconds", float64(len(samples)/2)/float64(opts.SampleRate))
		return nil
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderFlags.output, "output", "o", "", "output WAV file (default: <score>.wav)")
	f.IntVar(&renderFlags.sampleRate, "sample-rate", 48000, "output sample rate")
	f.Float64Var(&renderFlags.maxSeconds, "max-seconds", 600, "stop rendering after this many seconds")
	f.StringVar(&renderFlags.instrument, "instrument", "", "default instrument")
	f.BoolVar(&renderFlags.loop, "loop", false, "loop until --max-seconds")
	rootCmd.AddCommand(renderCmd)
}
