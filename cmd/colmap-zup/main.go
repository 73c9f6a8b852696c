// Command colmap-zup runs a COLMAP reconstruction over <source>/input,
// normalises the output layout, exports the model as text and optionally
// rewrites it from Y-up to Z-up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/colmap-zup/internal/colmap"
	"github.com/banshee-data/colmap-zup/internal/command"
	"github.com/banshee-data/colmap-zup/internal/config"
	"github.com/banshee-data/colmap-zup/internal/imaging"
	"github.com/banshee-data/colmap-zup/internal/preview"
	"github.com/banshee-data/colmap-zup/internal/recon"
	"github.com/banshee-data/colmap-zup/internal/runlog"
	"github.com/banshee-data/colmap-zup/internal/sparse"
	"github.com/banshee-data/colmap-zup/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, command.NewRealBuilder())
	stop()
	os.Exit(code)
}

type cliFlags struct {
	useGPU       bool
	skipMatching bool
	sourcePath   string
	camera       string
	colmapExe    string
	magickExe    string
	resize       bool
	autoZUp      bool
	configPath   string
	workers      int
	resizer      string
	preview      bool
	historyDB    string
	showHistory  bool
	verbose      bool
	debug        bool
	version      bool
}

func newFlagSet(f *cliFlags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("colmap-zup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&f.useGPU, "use_gpu", false, "Enable GPU acceleration (default: CPU only)")
	fs.BoolVar(&f.skipMatching, "skip_matching", false, "Skip feature extraction, matching and bundle adjustment")
	fs.StringVar(&f.sourcePath, "source_path", "", "Scene directory containing input/ (required)")
	fs.StringVar(&f.sourcePath, "s", "", "Shorthand for -source_path")
	fs.StringVar(&f.camera, "camera", "PINHOLE", "COLMAP camera model")
	fs.StringVar(&f.colmapExe, "colmap_executable", "", "Path to the colmap binary")
	fs.StringVar(&f.magickExe, "magick_executable", "", "Path to the ImageMagick binary")
	fs.BoolVar(&f.resize, "resize", false, "Write images_2, images_4 and images_8")
	fs.BoolVar(&f.autoZUp, "auto_z_up", false, "Rewrite the reconstruction from Y-up to Z-up")
	fs.StringVar(&f.configPath, "config", "", "Pipeline config JSON file")
	fs.IntVar(&f.workers, "workers", 0, "Parallel file copies and resizes (0 = one per CPU)")
	fs.StringVar(&f.resizer, "resizer", "", `Image resizer: "magick" or "native"`)
	fs.BoolVar(&f.preview, "preview", false, "Render point cloud previews into preview/")
	fs.StringVar(&f.historyDB, "history_db", "", "SQLite file recording runs and stage results")
	fs.BoolVar(&f.showHistory, "show_history", false, "Print recent runs from -history_db and exit")
	fs.BoolVar(&f.verbose, "verbose", false, "Log diagnostics")
	fs.BoolVar(&f.debug, "debug", false, "Log per-file detail and tool command lines")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: colmap-zup -s <source_path> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	return fs
}

// resolve merges the config file with the flags that were set explicitly.
func resolve(fs *flag.FlagSet, f *cliFlags) (*config.PipelineConfig, error) {
	cfg := config.EmptyPipelineConfig()
	if f.configPath != "" {
		loaded, err := config.LoadPipelineConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "use_gpu":
			cfg.UseGPU = &f.useGPU
		case "camera":
			cfg.CameraModel = &f.camera
		case "colmap_executable":
			cfg.ColmapExecutable = &f.colmapExe
		case "magick_executable":
			cfg.MagickExecutable = &f.magickExe
		case "workers":
			cfg.Workers = &f.workers
		case "resizer":
			cfg.Resizer = &f.resizer
		case "preview":
			cfg.Preview = &f.preview
		case "history_db":
			cfg.HistoryDB = &f.historyDB
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setLogWriters(stderr io.Writer, verbose, debug bool) {
	var diag, trace io.Writer
	if verbose || debug {
		diag = stderr
	}
	if debug {
		trace = stderr
	}
	sparse.SetLogWriters(stderr, diag, trace)
	recon.SetLogWriters(stderr, diag, trace)
	runlog.SetLogWriters(stderr, diag, trace)
	preview.SetLogWriters(stderr, diag, trace)
}

// debugLogger adapts a *log.Logger to colmap.Logger.
type debugLogger struct{ l *log.Logger }

func (d debugLogger) Debugf(format string, args ...interface{}) { d.l.Printf(format, args...) }

func run(ctx context.Context, args []string, stdout, stderr io.Writer, builder command.Builder) int {
	var f cliFlags
	fs := newFlagSet(&f, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if f.version {
		fmt.Fprintf(stdout, "colmap-zup %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return 0
	}

	setLogWriters(stderr, f.verbose, f.debug)

	cfg, err := resolve(fs, &f)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if f.showHistory {
		return showHistory(ctx, cfg.GetHistoryDB(), stdout, stderr)
	}

	if f.sourcePath == "" {
		fmt.Fprintln(stderr, "ERROR: -source_path is required")
		fs.Usage()
		return 1
	}

	tool := colmap.NewTool(cfg.GetColmapExecutable(), builder, stdout)
	if f.debug {
		tool.SetLogger(debugLogger{log.New(stderr, "[colmap] ", log.LstdFlags|log.Lmicroseconds)})
	}

	var resizer recon.Resizer
	switch cfg.GetResizer() {
	case config.ResizerNative:
		resizer = imaging.NewNativeResizer(nil)
	default:
		resizer = imaging.NewMagickResizer(cfg.GetMagickExecutable(), builder, stdout)
	}

	opts := recon.Options{
		SourcePath:        f.sourcePath,
		SkipMatching:      f.skipMatching,
		ZUp:               f.autoZUp,
		Resize:            f.resize,
		Preview:           cfg.GetPreview(),
		UseGPU:            cfg.GetUseGPU(),
		CameraModel:       cfg.GetCameraModel(),
		SingleCamera:      cfg.GetSingleCamera(),
		FunctionTolerance: cfg.GetBAGlobalFunctionTolerance(),
		Workers:           cfg.GetWorkers(),
	}

	pipelineOpts := []recon.Option{
		recon.WithConsole(stdout),
		recon.WithRenderer(preview.NewRenderer(nil)),
	}

	var ledgerRun *runlog.Run
	if path := cfg.GetHistoryDB(); path != "" {
		ledger, err := runlog.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: open run history: %v\n", err)
			return 1
		}
		defer ledger.Close()
		ledgerRun, err = ledger.StartRun(ctx, f.sourcePath, opts)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		pipelineOpts = append(pipelineOpts, recon.WithObserver(ledgerRun))
	}

	runErr := recon.New(opts, tool, resizer, pipelineOpts...).Run(ctx)

	if ledgerRun != nil {
		if err := ledgerRun.Finish(ctx, runErr); err != nil {
			fmt.Fprintf(stderr, "WARNING: %v\n", err)
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", recon.FailureLine(runErr))
		return recon.ExitCode(runErr)
	}
	return 0
}

func showHistory(ctx context.Context, path string, stdout, stderr io.Writer) int {
	if path == "" {
		fmt.Fprintln(stderr, "ERROR: -show_history needs -history_db")
		return 1
	}
	ledger, err := runlog.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: open run history: %v\n", err)
		return 1
	}
	defer ledger.Close()

	runs, err := ledger.Recent(ctx, 20)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tCODE\tSTAGE\tSOURCE\tRUN")
	for _, r := range runs {
		stage := r.FailedStage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Status, r.ExitCode, stage, r.SourcePath, r.ID)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}
