// Package recon sequences a reconstruction run: matching, layout
// normalisation, text export, the optional Z-up rewrite, previews and the
// resized image pyramid. Stages run in a fixed order and the first failure
// ends the run.
package recon

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/banshee-data/colmap-zup/internal/colmap"
	"github.com/banshee-data/colmap-zup/internal/frame"
	"github.com/banshee-data/colmap-zup/internal/fsutil"
	"github.com/banshee-data/colmap-zup/internal/sparse"
	"github.com/banshee-data/colmap-zup/internal/timeutil"
)

// Stage names as reported to observers and in failure lines.
const (
	StageFeatureExtraction = "feature_extraction"
	StageFeatureMatching   = "feature_matching"
	StageBundleAdjustment  = "bundle_adjustment"
	StageLayout            = "layout"
	StageExport            = "export"
	StageTransform         = "transform"
	StagePreview           = "preview"
	StageResize            = "resize"
)

// Directory and file names inside the source path.
const (
	InputDir     = "input"
	ImagesDir    = "images"
	SparseDir    = "sparse"
	CanonicalDir = "0"
	PreviewDir   = "preview"
	DatabaseFile = "database.db"
)

// Reconstructor is the structure-from-motion tool. *colmap.Tool
// implements it.
type Reconstructor interface {
	ExtractFeatures(ctx context.Context, o colmap.ExtractOptions) error
	MatchFeatures(ctx context.Context, o colmap.MatchOptions) error
	BundleAdjust(ctx context.Context, o colmap.MapperOptions) error
	ConvertModel(ctx context.Context, input, output string, format colmap.ModelFormat) error
}

// Resizer scales an image file in place.
type Resizer interface {
	Resize(ctx context.Context, path string, percent float64) error
}

// Renderer writes diagnostic views of a model into dir and returns the
// paths it wrote.
type Renderer interface {
	Render(ctx context.Context, m *sparse.Model, dir string) ([]string, error)
}

// Options selects what a run does.
type Options struct {
	SourcePath   string
	SkipMatching bool
	ZUp          bool
	Resize       bool
	Preview      bool

	UseGPU            bool
	CameraModel       string
	SingleCamera      bool
	FunctionTolerance float64

	// Workers bounds per-file copy and resize concurrency. Zero means
	// runtime.NumCPU().
	Workers int
}

// Pipeline runs the stages for one source directory.
type Pipeline struct {
	opts     Options
	tool     Reconstructor
	resizer  Resizer
	renderer Renderer

	fs       fsutil.FileSystem
	store    *sparse.Store
	clock    timeutil.Clock
	observer Observer
	console  io.Writer
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithFileSystem replaces the OS filesystem.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(p *Pipeline) { p.fs = fsys }
}

// WithClock replaces the real clock used for stage timings.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithObserver registers an observer for stage events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithConsole sets where progress is narrated. Defaults to io.Discard.
func WithConsole(w io.Writer) Option {
	return func(p *Pipeline) { p.console = w }
}

// WithRenderer sets the preview renderer used when Options.Preview is set.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// New creates a Pipeline. resizer may be nil when Options.Resize is false.
func New(opts Options, tool Reconstructor, resizer Resizer, options ...Option) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.CameraModel == "" {
		opts.CameraModel = "PINHOLE"
	}
	p := &Pipeline{
		opts:     opts,
		tool:     tool,
		resizer:  resizer,
		fs:       fsutil.OSFileSystem{},
		clock:    timeutil.RealClock{},
		observer: nopObserver{},
		console:  io.Discard,
	}
	for _, o := range options {
		o(p)
	}
	p.store = sparse.NewStore(p.fs)
	return p
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// Stages returns the names of the stages Run will execute, in order.
func (p *Pipeline) Stages() []string {
	plan := p.plan()
	names := make([]string, len(plan))
	for i, s := range plan {
		names[i] = s.name
	}
	return names
}

func (p *Pipeline) plan() []stage {
	var stages []stage
	if !p.opts.SkipMatching {
		stages = append(stages,
			stage{StageFeatureExtraction, p.extract},
			stage{StageFeatureMatching, p.match},
			stage{StageBundleAdjustment, p.bundleAdjust},
		)
	}
	stages = append(stages,
		stage{StageLayout, p.layout},
		stage{StageExport, p.export},
	)
	if p.opts.ZUp {
		stages = append(stages, stage{StageTransform, p.transform})
	}
	if p.opts.Preview {
		stages = append(stages, stage{StagePreview, p.preview})
	}
	if p.opts.Resize {
		stages = append(stages, stage{StageResize, p.resize})
	}
	return stages
}

// Run executes every planned stage in order. The first failure stops the
// run and is returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.opts.SourcePath == "" {
		return fmt.Errorf("source path is required")
	}
	if err := p.validate(); err != nil {
		return err
	}

	runStart := p.clock.Now()
	opsf("run started: source=%s stages=%v", p.opts.SourcePath, p.Stages())

	for _, s := range p.plan() {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s.name, Err: err}
		}

		start := p.clock.Now()
		p.observer.StageStarted(ctx, s.name, start)
		err := s.run(ctx)
		elapsed := p.clock.Since(start)
		p.observer.StageFinished(ctx, StageResult{Stage: s.name, Started: start, Duration: elapsed, Err: err})

		if err != nil {
			opsf("stage %s failed after %v: %v", s.name, elapsed, err)
			return &StageError{Stage: s.name, Err: err}
		}
		diagf("stage %s finished in %v", s.name, elapsed)
	}

	p.say("\nDone! COLMAP reconstruction complete.")
	if p.opts.ZUp {
		p.say("   Z-up coordinate system has been enforced.")
	}
	opsf("run finished in %v", p.clock.Since(runStart))
	return nil
}

func (p *Pipeline) validate() error {
	if p.tool == nil {
		return fmt.Errorf("no reconstruction tool configured")
	}
	if p.opts.Resize && p.resizer == nil {
		return fmt.Errorf("resize requested without an image resizer")
	}
	if p.opts.Preview && p.renderer == nil {
		return fmt.Errorf("preview requested without a renderer")
	}
	return nil
}

func (p *Pipeline) path(elem ...string) string {
	return filepath.Join(append([]string{p.opts.SourcePath}, elem...)...)
}

func (p *Pipeline) say(format string, args ...interface{}) {
	fmt.Fprintf(p.console, format+"\n", args...)
}

func (p *Pipeline) gpuLabel() string {
	if p.opts.UseGPU {
		return "ON"
	}
	return "OFF"
}

func (p *Pipeline) extract(ctx context.Context) error {
	if err := p.fs.MkdirAll(p.path(SparseDir), 0755); err != nil {
		return err
	}
	p.say("Feature extraction (GPU: %s)...", p.gpuLabel())
	return p.tool.ExtractFeatures(ctx, colmap.ExtractOptions{
		DatabasePath: p.path(DatabaseFile),
		ImagePath:    p.path(InputDir),
		CameraModel:  p.opts.CameraModel,
		SingleCamera: p.opts.SingleCamera,
		UseGPU:       p.opts.UseGPU,
	})
}

func (p *Pipeline) match(ctx context.Context) error {
	p.say("Feature matching (GPU: %s)...", p.gpuLabel())
	return p.tool.MatchFeatures(ctx, colmap.MatchOptions{
		DatabasePath: p.path(DatabaseFile),
		UseGPU:       p.opts.UseGPU,
	})
}

func (p *Pipeline) bundleAdjust(ctx context.Context) error {
	p.say("Bundle adjustment (GPU: %s)...", p.gpuLabel())
	return p.tool.BundleAdjust(ctx, colmap.MapperOptions{
		DatabasePath:      p.path(DatabaseFile),
		ImagePath:         p.path(InputDir),
		OutputPath:        p.path(SparseDir),
		FunctionTolerance: p.opts.FunctionTolerance,
		UseGPU:            p.opts.UseGPU,
	})
}

func (p *Pipeline) export(ctx context.Context) error {
	dir := p.path(SparseDir, CanonicalDir)
	p.say("Converting COLMAP binary files to text format...")
	if err := p.tool.ConvertModel(ctx, dir, dir, colmap.FormatText); err != nil {
		return err
	}
	p.say("COLMAP files converted to text format.")
	return nil
}

func (p *Pipeline) transform(ctx context.Context) error {
	dir := p.path(SparseDir, CanonicalDir)
	p.say("\n=== Applying automatic Z-up correction ===")

	m, err := p.store.Load(dir)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	rep := frame.YUpToZUp.ApplyModel(m)
	if err := p.store.Save(dir, m); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	if m.Points == nil && m.Images == nil {
		opsf("no points3D.txt or images.txt in %s; nothing transformed", dir)
	}
	if rep.SkippedPoints > 0 || rep.SkippedPoses > 0 {
		diagf("passed through %d malformed points and %d malformed poses", rep.SkippedPoints, rep.SkippedPoses)
	}
	p.say("Y-Z swap applied: %d points, %d poses", rep.Points, rep.Poses)
	return nil
}

func (p *Pipeline) preview(ctx context.Context) error {
	m, err := p.store.Load(p.path(SparseDir, CanonicalDir))
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	dir := p.path(PreviewDir)
	if err := p.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	written, err := p.renderer.Render(ctx, m, dir)
	if err != nil {
		return err
	}
	for _, w := range written {
		p.say("Preview written to %s", w)
	}
	return nil
}

