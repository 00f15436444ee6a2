package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/stepcue"
	"github.com/cbegin/stepcue/internal/config"
	"github.com/cbegin/stepcue/internal/remote"
	"github.com/cbegin/stepcue/internal/tui"
)

var playFlags struct {
	tui        bool
	listen     string
	origins    []string
	backend    string
	port       string
	instrument string
	tempo      float64
	loop       bool
	loops      int
	from, to   int
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a score",
	Long: `Play a score on the audio device or a MIDI port.

Without --tui playback runs until the score ends, or until interrupted when
looping. With --listen the player can also be driven over HTTP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyPlayFlags(cmd, cfg)
		return play(cmd.Context(), cfg, args[0])
	},
}

func init() {
	f := playCmd.Flags()
	f.BoolVar(&playFlags.tui, "tui", false, "show the terminal UI")
	f.StringVar(&playFlags.listen, "listen", "", "serve the HTTP remote on this address, e.g. :8080")
	f.StringSliceVar(&playFlags.origins, "allow-origin", nil, "origins allowed to call the HTTP remote (default: any)")
	f.StringVar(&playFlags.backend, "backend", "", "output backend: audio|midi")
	f.StringVar(&playFlags.port, "port", "", "MIDI output port name (default: first port)")
	f.StringVar(&playFlags.instrument, "instrument", "", "default instrument")
	f.Float64Var(&playFlags.tempo, "tempo", 0, "override the score tempo in BPM")
	f.BoolVar(&playFlags.loop, "loop", false, "loop playback")
	f.IntVar(&playFlags.loops, "loops", 0, "when looping, stop after N loops (0 = loop forever)")
	f.IntVar(&playFlags.from, "from", 0, "first step of the range")
	f.IntVar(&playFlags.to, "to", 0, "end of the range, exclusive (0 = end of score)")
	rootCmd.AddCommand(playCmd)
}

func applyPlayFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = playFlags.listen
	}
	if f.Changed("backend") {
		cfg.Backend = playFlags.backend
	}
	if f.Changed("port") {
		cfg.MIDIPort = playFlags.port
	}
	if f.Changed("instrument") {
		cfg.Instrument = playFlags.instrument
	}
	if f.Changed("loop") {
		cfg.Looping = playFlags.loop
	}
}

func play(ctx context.Context, cfg *config.Config, path string) error {
	opts := []stepcue.PlayerOption{stepcue.WithConfig(cfg), stepcue.WithLogger(logger)}
	var cursor *tui.Cursor
	if playFlags.tui {
		cursor = tui.NewCursor()
		opts = append(opts, stepcue.WithCursor(cursor))
	}
	pl, err := stepcue.NewPlayer(opts...)
	if err != nil {
		return err
	}
	defer pl.Close()

	if err := pl.LoadFile(path); err != nil {
		return err
	}
	if playFlags.tempo > 0 {
		if err := pl.SetTempo(playFlags.tempo); err != nil {
			return err
		}
	}
	if playFlags.from > 0 || playFlags.to > 0 {
		end := playFlags.to
		if end <= 0 {
			end = pl.Status().Steps
		}
		if err := pl.SetRange(playFlags.from, end); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Listen != "" {
		h := remote.NewHandler(pl, playFlags.origins, logger)
		g.Go(func() error { return remote.Serve(ctx, cfg.Listen, h, logger) })
	}

	if playFlags.tui {
		g.Go(func() error {
			defer cancel()
			defer cursor.Close()
			_, err := tea.NewProgram(tui.New(pl, cursor), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
		return g.Wait()
	}

	events := pl.Watch()
	if err := pl.Play(ctx); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	g.Go(func() error {
		return follow(ctx, pl, events, cfg.Listen != "", cancel)
	})
	return g.Wait()
}

// follow logs playback events until playback ends. With keepAlive it keeps
// going so the remote can start playback again.
func follow(ctx context.Context, pl *stepcue.Player, events <-chan stepcue.PlaybackEvent, keepAlive bool, done func()) error {
	loops := 0
	for {
		select {
		case <-ctx.Done():
			return pl.Stop()
		case ev := <-events:
			switch ev.Kind {
			case stepcue.EventStep:
				logger.Debug("step", "step", ev.Step)
			case stepcue.EventLoopCompleted:
				loops++
				logger.Info(fmt.Sprintf("loop %d completed", loops))
				if playFlags.loops > 0 && loops >= playFlags.loops {
					if err := pl.Stop(); err != nil {
						return err
					}
				}
			case stepcue.EventPlaybackEnded:
				logger.Info("playback ended")
				loops = 0
				if !keepAlive {
					done()
					return nil
				}
			}
		}
	}
}
