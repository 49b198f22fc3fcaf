package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"memscope/internal/canon"
	"memscope/internal/observ"
	"memscope/internal/ui"
	"memscope/internal/uniqtype"
)

var typesCmd = &cobra.Command{
	Use:   "types [flags] dir",
	Short: "Canonicalize and list every type descriptor in a set of typetables",
	Long:  `Types loads all typetable images under a directory, unifies same-named descriptors across modules, and lists the canonical view. Structural conflicts between modules are hard errors`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTypes,
}

func runTypes(cmd *cobra.Command, args []string) error {
	dir := args[0]
	settings, err := readRunSettings(cmd, dir)
	if err != nil {
		return err
	}
	timer := observ.NewTimer()

	phase := timer.Begin("load")
	_, c, mods, err := loadWorld(cmd.Context(), dir, settings.jobs, settings.targetTriple())
	if err != nil {
		return err
	}
	timer.End(phase, fmt.Sprintf("%d modules", len(mods)))

	// The union of every module's symbols, sorted for stable output.
	symSet := make(map[string]struct{}, 64)
	for _, m := range mods {
		m.Symbols(func(sym string, _ *uniqtype.Descriptor) bool {
			symSet[sym] = struct{}{}
			return true
		})
	}
	syms := make([]string, 0, len(symSet))
	for sym := range symSet {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	phase = timer.Begin("canonicalize")
	rows := make([]ui.TypeRow, 0, len(syms))
	errColor := color.New(color.FgRed, color.Bold)
	conflicts := 0
	for _, sym := range syms {
		d, err := c.Canonicalize(sym)
		if err != nil {
			var conflict *canon.ConflictError
			if errors.As(err, &conflict) {
				conflicts++
				errColor.Fprintf(os.Stderr, "conflict: %v\n", conflict)
				continue
			}
			return err
		}
		rows = append(rows, ui.TypeRow{
			Symbol: sym,
			Kind:   d.Kind.String(),
			Size:   sizeLabel(d.Size),
			Owner:  ownerLabel(c, d),
		})
	}
	timer.End(phase, fmt.Sprintf("%d symbols", len(syms)))

	if !settings.quiet {
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderTypeTable(rows, settings.colored))
	}
	if settings.timings {
		fmt.Fprint(os.Stderr, timer.Summary())
	}
	if conflicts > 0 {
		return fmt.Errorf("%d type identity conflict(s)", conflicts)
	}
	return nil
}

func sizeLabel(size int64) string {
	if size == uniqtype.SizeUnbounded {
		return "?"
	}
	return strconv.FormatInt(size, 10)
}

func ownerLabel(c *canon.Canonicalizer, d *uniqtype.Descriptor) string {
	if m, ok := c.Owner(d); ok {
		return m.Name()
	}
	return "?"
}
