package typetable

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"memscope/internal/module"
)

// listImageFiles returns the sorted list of typetable images under dir.
func listImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".mp") || strings.HasSuffix(path, ".mp.gz") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Sorted so the registry's load order is deterministic.
	sort.Strings(files)
	return files, nil
}

// LoadDir decodes and materializes every image under dir with up to jobs
// workers, then loads the modules into the registry in path order. A
// non-empty wantTriple must match every image's recorded target triple;
// mixing descriptor tables from different ABIs is a hard error. Loading
// stays deterministic regardless of which worker finished first.
func LoadDir(ctx context.Context, reg *module.Registry, dir string, jobs int, wantTriple string) ([]*module.Module, error) {
	files, err := listImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	mods := make([]*module.Module, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := ReadFile(path)
			if err != nil {
				return err
			}
			if wantTriple != "" && img.Triple != wantTriple {
				return fmt.Errorf("%s: image built for %s, want %s", path, img.Triple, wantTriple)
			}
			m, err := img.Materialize()
			if err != nil {
				return err
			}
			mods[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, m := range mods {
		if err := reg.Load(m); err != nil {
			return nil, err
		}
	}
	return mods, nil
}
