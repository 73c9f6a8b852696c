// Package colmap drives the COLMAP command-line tool. Each reconstruction
// step is a typed method that returns nil or a *command.ExitError carrying
// the process completion code.
package colmap

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/colmap-zup/internal/command"
)

// DefaultExecutable is the program name used when no override is given.
const DefaultExecutable = "colmap"

// DefaultFunctionTolerance is the mapper's global bundle adjustment
// function tolerance.
const DefaultFunctionTolerance = 0.000001

// ModelFormat is an output type accepted by model_converter.
type ModelFormat string

const (
	FormatText   ModelFormat = "TXT"
	FormatBinary ModelFormat = "BIN"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}

// ExtractOptions configures feature_extractor.
type ExtractOptions struct {
	DatabasePath string
	ImagePath    string
	CameraModel  string
	SingleCamera bool
	UseGPU       bool
}

// MatchOptions configures exhaustive_matcher.
type MatchOptions struct {
	DatabasePath string
	UseGPU       bool
}

// MapperOptions configures mapper.
type MapperOptions struct {
	DatabasePath      string
	ImagePath         string
	OutputPath        string
	FunctionTolerance float64
	UseGPU            bool
}

// Tool runs COLMAP subcommands.
type Tool struct {
	Executable string
	Builder    command.Builder
	// Output receives the tool's stdout and stderr. When nil, output is
	// captured and attached to errors.
	Output io.Writer
	Logger Logger
}

// NewTool creates a Tool. An empty executable selects DefaultExecutable.
func NewTool(executable string, builder command.Builder, output io.Writer) *Tool {
	if executable == "" {
		executable = DefaultExecutable
	}
	if builder == nil {
		builder = command.NewRealBuilder()
	}
	return &Tool{Executable: executable, Builder: builder, Output: output, Logger: nopLogger{}}
}

// SetLogger sets the debug logger.
func (t *Tool) SetLogger(logger Logger) {
	if logger != nil {
		t.Logger = logger
	}
}

// ExtractFeatures runs feature_extractor over the input images.
func (t *Tool) ExtractFeatures(ctx context.Context, o ExtractOptions) error {
	return t.run(ctx, "feature_extractor",
		"--database_path", o.DatabasePath,
		"--image_path", o.ImagePath,
		"--ImageReader.single_camera", flagInt(o.SingleCamera),
		"--ImageReader.camera_model", o.CameraModel,
		"--SiftExtraction.use_gpu", flagInt(o.UseGPU),
	)
}

// MatchFeatures runs exhaustive_matcher on the feature database.
func (t *Tool) MatchFeatures(ctx context.Context, o MatchOptions) error {
	return t.run(ctx, "exhaustive_matcher",
		"--database_path", o.DatabasePath,
		"--SiftMatching.use_gpu", flagInt(o.UseGPU),
	)
}

// BundleAdjust runs the incremental mapper, which writes one numbered
// reconstruction per connected model under OutputPath.
func (t *Tool) BundleAdjust(ctx context.Context, o MapperOptions) error {
	tol := o.FunctionTolerance
	if tol <= 0 {
		tol = DefaultFunctionTolerance
	}
	return t.run(ctx, "mapper",
		"--database_path", o.DatabasePath,
		"--image_path", o.ImagePath,
		"--output_path", o.OutputPath,
		"--Mapper.ba_global_function_tolerance="+strconv.FormatFloat(tol, 'f', -1, 64),
		"--Mapper.ba_global_use_pba", flagInt(o.UseGPU),
	)
}

// ConvertModel converts the model at input into format, writing to output.
func (t *Tool) ConvertModel(ctx context.Context, input, output string, format ModelFormat) error {
	return t.run(ctx, "model_converter",
		"--input_path", input,
		"--output_path", output,
		"--output_type", string(format),
	)
}

func (t *Tool) run(ctx context.Context, op string, args ...string) error {
	argv := append([]string{op}, args...)
	t.Logger.Debugf("Executing: %s %s", t.Executable, strings.Join(argv, " "))

	cmd := t.Builder.BuildCommand(ctx, t.Executable, argv...)
	if t.Output != nil {
		cmd.SetOutput(t.Output)
	}
	out, err := cmd.Run()
	if err != nil {
		t.Logger.Debugf("Command failed: %v, output: %s", err, out)
		return command.NewExitError(op, out, err)
	}
	return nil
}

func flagInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
