package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/internal/tui"
	"github.com/dshills/playback-go/playback"
	"github.com/dshills/playback-go/playback/store"
)

func unknownAlgorithm(name string) error {
	return fmt.Errorf("unknown algorithm %q (try: playback algorithms)", name)
}

func algorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "algorithms",
		Aliases: []string{"list"},
		Short:   "List the algorithms that can be played",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range algo.Names() {
				a, _ := algo.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\n", a.Name, a.Description)
			}
			return w.Flush()
		},
	}
}

func playCmd(g *globalFlags) *cobra.Command {
	var (
		size   int
		seed   int64
		delay  time.Duration
		record bool
	)
	cmd := &cobra.Command{
		Use:   "play [algorithm]",
		Short: "Play an algorithm in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, ok := algo.Lookup(args[0])
			if !ok {
				return unknownAlgorithm(args[0])
			}
			if cmd.Flags().Changed("size") && size < 2 {
				return fmt.Errorf("size must be at least 2, got %d", size)
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("size") {
				cfg.Size = size
			}
			if cmd.Flags().Changed("delay") {
				cfg.Playback.Delay = delay
			}

			rng := rand.New(rand.NewSource(seed))
			factory := func() (playback.Source[algo.Frame], error) {
				return playback.FromSeq(alg.Run(algo.RandomInput(cfg.Size, rng))), nil
			}

			opts := cfg.Playback.Options()
			if record {
				st, err := openStore(cfg.Store)
				if err != nil {
					return err
				}
				defer st.Close()

				rec := playback.NewRecorder(st).WithContext(cmd.Context())
				opts = append(opts, playback.WithRenderer[algo.Frame](rec))
				defer func() {
					if err := rec.Err(); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "recording: %v\n", err)
					}
				}()
			}
			return runPlayer(alg.Name, factory, opts)
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "number of values to sort (0 = use config)")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().DurationVar(&delay, "delay", 0, "initial step delay (0 = use config)")
	cmd.Flags().BoolVar(&record, "record", false, "record runs to the history store")
	return cmd
}

func replayCmd(g *globalFlags) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "replay [run_id]",
		Short: "Replay a recorded run in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("delay") {
				cfg.Playback.Delay = delay
			}

			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			run, err := st.LoadRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load run %s: %w", args[0], err)
			}
			if run.Steps == 0 {
				return fmt.Errorf("%w: %s", playback.ErrEmptyRun, run.ID)
			}

			factory := func() (playback.Source[algo.Frame], error) {
				return playback.ReplaySource(ctx, st, run.ID)
			}
			return runPlayer("replay "+run.ID, factory, cfg.Playback.Options())
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "initial step delay (0 = use config)")
	return cmd
}

// runPlayer drives a Controller from the terminal UI until the user quits.
func runPlayer(title string, factory playback.SourceFactory[algo.Frame], opts []playback.Option) error {
	bridge := tui.NewBridge()
	opts = append(opts,
		playback.WithRenderer[algo.Frame](bridge),
		playback.WithSourceFactory(factory),
	)
	ctrl, err := playback.New[algo.Frame](opts...)
	if err != nil {
		return err
	}
	defer ctrl.Cancel()

	_, err = tea.NewProgram(tui.New(title, ctrl, bridge), tea.WithAltScreen()).Run()
	return err
}

func runsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			return formatRuns(cmd.OutOrStdout(), runs)
		},
	}
}

// formatRuns writes one row per run, oldest first.
func formatRuns(out io.Writer, runs []store.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.Finished() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Steps, r.StartedAt.Format(time.DateTime), duration, r.Error)
	}
	return w.Flush()
}

func deleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run_id]",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
