package recon

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/colmap-zup/internal/fsutil"
	"github.com/banshee-data/colmap-zup/internal/imaging"
)

// layout copies input/ into images/ and folds every reconstruction the
// mapper wrote under sparse/ into sparse/0.
func (p *Pipeline) layout(ctx context.Context) error {
	imagesDir := p.path(ImagesDir)
	if err := p.fs.MkdirAll(imagesDir, 0755); err != nil {
		return err
	}
	names, err := p.regularFiles(p.path(InputDir))
	if err != nil {
		return fmt.Errorf("list input images: %w", err)
	}
	if err := p.forEachFile(ctx, names, func(ctx context.Context, name string) error {
		tracef("copy %s -> %s", name, imagesDir)
		return fsutil.CopyFile(p.fs, p.path(InputDir, name), filepath.Join(imagesDir, name))
	}); err != nil {
		return err
	}
	diagf("copied %d input images", len(names))

	sparseDir := p.path(SparseDir)
	entries, err := p.fs.ReadDir(sparseDir)
	if err != nil {
		return fmt.Errorf("list reconstructions: %w", err)
	}
	canonical := filepath.Join(sparseDir, CanonicalDir)
	if err := p.fs.MkdirAll(canonical, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == CanonicalDir {
			continue
		}
		dst := filepath.Join(canonical, e.Name())
		diagf("moving %s into %s", e.Name(), canonical)
		if err := p.fs.Rename(filepath.Join(sparseDir, e.Name()), dst); err != nil {
			return fmt.Errorf("relocate %s: %w", e.Name(), err)
		}
	}
	return nil
}

// resize copies every file of images/ into each pyramid directory and
// scales the copy. Files are processed in parallel; the first failure
// cancels the rest and is returned.
func (p *Pipeline) resize(ctx context.Context) error {
	p.say("Copying and resizing...")
	for _, level := range imaging.Pyramid {
		if err := p.fs.MkdirAll(p.path(level.Dir), 0755); err != nil {
			return err
		}
	}
	names, err := p.regularFiles(p.path(ImagesDir))
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	return p.forEachFile(ctx, names, func(ctx context.Context, name string) error {
		src := p.path(ImagesDir, name)
		for _, level := range imaging.Pyramid {
			dst := p.path(level.Dir, name)
			if err := fsutil.CopyFile(p.fs, src, dst); err != nil {
				return err
			}
			tracef("resize %s to %s", dst, imaging.FormatPercent(level.Percent))
			if err := p.resizer.Resize(ctx, dst, level.Percent); err != nil {
				return fmt.Errorf("%s: %w", dst, err)
			}
		}
		return nil
	})
}

func (p *Pipeline) forEachFile(ctx context.Context, names []string, fn func(ctx context.Context, name string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		name := name // per-iteration copy; go.mod targets go 1.21 loop semantics
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// regularFiles lists the names of non-directory entries of dir.
// Subdirectories are skipped.
func (p *Pipeline) regularFiles(dir string) ([]string, error) {
	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			diagf("skipping directory %s in %s", e.Name(), dir)
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
