package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"memscope/internal/canon"
	"memscope/internal/module"
	"memscope/internal/typetable"
)

type runSettings struct {
	colored  bool
	quiet    bool
	timings  bool
	jobs     int
	manifest *toolManifest
}

// readRunSettings merges persistent flags with the nearest manifest. Flags
// win over the manifest; the manifest wins over defaults.
func readRunSettings(cmd *cobra.Command, startDir string) (*runSettings, error) {
	flags := cmd.Root().PersistentFlags()
	colorFlag, err := flags.GetString("color")
	if err != nil {
		return nil, fmt.Errorf("failed to get color flag: %w", err)
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	timings, err := flags.GetBool("timings")
	if err != nil {
		return nil, fmt.Errorf("failed to get timings flag: %w", err)
	}
	jobs, err := flags.GetInt("jobs")
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs flag: %w", err)
	}

	manifest, _, err := loadToolManifest(startDir)
	if err != nil {
		return nil, err
	}
	if colorFlag == "" && manifest != nil {
		colorFlag = manifest.Config.Output.Color
	}
	colored, err := colorEnabled(colorFlag)
	if err != nil {
		return nil, err
	}
	return &runSettings{
		colored:  colored,
		quiet:    quiet,
		timings:  timings,
		jobs:     jobs,
		manifest: manifest,
	}, nil
}

// colorEnabled decides styled output from a --color / manifest value:
// "on" and "off" are forced, "auto" (or empty) asks the terminal.
func colorEnabled(value string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return isTerminal(os.Stdout), nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid color value %q (expected auto|on|off)", value)
}

func (s *runSettings) indexDegree() int {
	if s.manifest != nil {
		return s.manifest.Config.Index.Degree
	}
	return 0
}

func (s *runSettings) targetTriple() string {
	if s.manifest != nil {
		return s.manifest.Config.Target.Triple
	}
	return ""
}

// loadWorld loads every typetable image under dir into a fresh registry and
// wires a canonicalizer over it. A non-empty triple rejects images emitted
// for a different ABI.
func loadWorld(ctx context.Context, dir string, jobs int, triple string) (*module.Registry, *canon.Canonicalizer, []*module.Module, error) {
	reg := module.NewRegistry()
	mods, err := typetable.LoadDir(ctx, reg, dir, jobs, triple)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(mods) == 0 {
		return nil, nil, nil, fmt.Errorf("no typetable images (*.mp, *.mp.gz) under %s", dir)
	}
	return reg, canon.New(reg), mods, nil
}
