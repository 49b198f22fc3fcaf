package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"memscope/internal/allocindex"
	"memscope/internal/observ"
	"memscope/internal/replay"
	"memscope/internal/shim"
	"memscope/internal/ui"
	"memscope/internal/uniqtype"
)

// The replay arena models a heap segment; traces are synthetic, so any
// fixed span works as long as it outsizes the trace's live set.
const (
	replayArenaBase = uint64(0x7f0000000000)
	replayArenaSize = uint64(1) << 32
)

var replayCmd = &cobra.Command{
	Use:   "replay [flags] trace.mp",
	Short: "Replay an allocation trace against the allocation index",
	Long:  `Replay drives a recorded malloc/free/bind/query trace through the allocator shim and prints the run summary. With --tables, bind events resolve their type symbols against real typetables`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().String("tables", "", "typetable directory for resolving bind symbols")
	replayCmd.Flags().Bool("map", false, "print the live address-space map after the replay")
}

func runReplay(cmd *cobra.Command, args []string) error {
	tracePath := args[0]
	settings, err := readRunSettings(cmd, filepath.Dir(tracePath))
	if err != nil {
		return err
	}
	tablesDir, err := cmd.Flags().GetString("tables")
	if err != nil {
		return fmt.Errorf("failed to get tables flag: %w", err)
	}
	showMap, err := cmd.Flags().GetBool("map")
	if err != nil {
		return fmt.Errorf("failed to get map flag: %w", err)
	}
	timer := observ.NewTimer()

	f, err := os.Open(tracePath)
	if err != nil {
		return err
	}
	tr, err := replay.Decode(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	var resolve replay.ResolveFunc
	if tablesDir != "" {
		phase := timer.Begin("load")
		_, c, mods, err := loadWorld(cmd.Context(), tablesDir, settings.jobs, settings.targetTriple())
		if err != nil {
			return err
		}
		timer.End(phase, fmt.Sprintf("%d modules", len(mods)))
		resolve = func(sym string) (*uniqtype.Descriptor, error) {
			return c.Canonicalize(sym)
		}
	}

	s := shim.New(shim.NewArena(replayArenaBase, replayArenaSize), allocindex.New(settings.indexDegree()))

	phase := timer.Begin("replay")
	res, err := replay.Run(tr, s, resolve)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "replay aborted: %v\n", err)
		return err
	}
	timer.End(phase, fmt.Sprintf("%d events", len(tr.Events)))

	out := cmd.OutOrStdout()
	if !settings.quiet {
		fmt.Fprint(out, observ.Summary(res.Stats))
	}
	if showMap {
		fmt.Fprint(out, ui.RenderAddressMap(res.Live, settings.colored))
	}
	if settings.timings {
		fmt.Fprint(os.Stderr, timer.Summary())
	}
	return nil
}
