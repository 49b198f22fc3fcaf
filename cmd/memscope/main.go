package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"memscope/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "memscope",
	Short: "Run-time type and allocation introspection toolkit",
	Long:  `memscope inspects typetable images emitted by instrumented builds, canonicalizes type descriptors across modules, and replays allocation traces against the allocation index`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().Int("jobs", 0, "parallel typetable decode workers (0 = all CPUs)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
