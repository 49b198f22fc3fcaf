package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"memscope/internal/module"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [flags] dir module symbol",
	Short: "Resolve a descriptor symbol through one specific module",
	Long:  `Resolve probes exactly one module's typetable for a symbol — no global fallback — then reports the canonical instance the probe forwards to`,
	Args:  cobra.ExactArgs(3),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	dir, modName, sym := args[0], args[1], args[2]
	settings, err := readRunSettings(cmd, dir)
	if err != nil {
		return err
	}

	reg, c, _, err := loadWorld(cmd.Context(), dir, settings.jobs, settings.targetTriple())
	if err != nil {
		return err
	}
	m, ok := reg.Lookup(modName)
	if !ok {
		return fmt.Errorf("%s: %w", modName, module.ErrUnknownModule)
	}

	local, err := m.Resolve(sym)
	if errors.Is(err, module.ErrNotFound) {
		// Expected outcome, reported distinctly from failure.
		fmt.Fprintf(cmd.OutOrStdout(), "%s: not defined in %s\n", sym, modName)
		return nil
	}
	if err != nil {
		return err
	}
	canonical, err := c.Resolve(m, sym)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "symbol:    %s\n", sym)
	fmt.Fprintf(out, "kind:      %s\n", canonical.Kind)
	fmt.Fprintf(out, "size:      %s\n", sizeLabel(canonical.Size))
	fmt.Fprintf(out, "canonical: %s\n", ownerLabel(c, canonical))
	if canonical != local {
		fmt.Fprintf(out, "note:      %s's local copy forwards to the canonical instance\n", modName)
	}
	return nil
}
