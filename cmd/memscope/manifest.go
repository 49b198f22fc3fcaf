package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type toolManifest struct {
	Path   string
	Root   string
	Config toolConfig
}

type toolConfig struct {
	Target targetConfig `toml:"target"`
	Index  indexConfig  `toml:"index"`
	Output outputConfig `toml:"output"`
}

type targetConfig struct {
	Triple string `toml:"triple"`
}

type indexConfig struct {
	Degree int `toml:"degree"`
}

type outputConfig struct {
	Color string `toml:"color"`
}

// findMemscopeToml walks up from startDir looking for memscope.toml.
func findMemscopeToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "memscope.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadToolManifest reads the nearest manifest; absence is not an error, the
// zero config applies.
func loadToolManifest(startDir string) (*toolManifest, bool, error) {
	manifestPath, ok, err := findMemscopeToml(startDir)
	if err != nil || !ok {
		return nil, false, err
	}
	var cfg toolConfig
	if _, err := toml.DecodeFile(manifestPath, &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to parse %s: %w", manifestPath, err)
	}
	return &toolManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}
