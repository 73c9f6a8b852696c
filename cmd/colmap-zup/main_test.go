package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colmap-zup/internal/command"
)

const testCameras = "# Number of cameras: 1\n1 PINHOLE 640 480 500 500 320 240\n"

const testImages = `# Number of images: 1, mean observations per image: 0
1 1 0 0 0 1 2 3 1 a.jpg

`

const testPoints = "1 1.0 2.0 3.0 255 255 255 0.1\n"

func argValue(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

// fakeColmap returns a builder whose colmap commands produce the files the
// real tool would. failOp makes that subcommand exit with failCode.
func fakeColmap(t *testing.T, failOp string, failCode int) *command.MockBuilder {
	t.Helper()
	b := command.NewMockBuilder()
	b.ExecutorFactory = func(name string, args []string) *command.MockExecutor {
		exec := &command.MockExecutor{}
		if len(args) == 0 {
			return exec
		}
		if args[0] == failOp {
			exec.Err = command.StatusError(failCode)
			return exec
		}
		switch args[0] {
		case "mapper":
			out := argValue(args, "--output_path")
			exec.OnRun = func() error {
				if err := os.MkdirAll(filepath.Join(out, "0"), 0755); err != nil {
					return err
				}
				return os.WriteFile(filepath.Join(out, "0", "points3D.bin"), []byte("bin"), 0644)
			}
		case "model_converter":
			out := argValue(args, "--output_path")
			exec.OnRun = func() error {
				for name, data := range map[string]string{
					"cameras.txt":  testCameras,
					"images.txt":   testImages,
					"points3D.txt": testPoints,
				} {
					if err := os.WriteFile(filepath.Join(out, name), []byte(data), 0644); err != nil {
						return err
					}
				}
				return nil
			}
		}
		return exec
	}
	return b
}

func newSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "input"), 0755))
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "input", name), []byte(name), 0644))
	}
	return dir
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &stdout, &stderr, command.NewMockBuilder())

	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "colmap-zup dev"))
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing source", []string{"-auto_z_up"}, "-source_path is required"},
		{"unknown flag", []string{"-bogus"}, "flag provided but not defined"},
		{"bad resizer", []string{"-s", "/x", "-resizer", "gimp"}, "resizer must be"},
		{"history without db", []string{"-show_history"}, "needs -history_db"},
		{"missing config", []string{"-s", "/x", "-config", "/nonexistent.json"}, "failed to stat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr, command.NewMockBuilder())
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestRun_EndToEndZUp(t *testing.T) {
	src := newSource(t)
	history := filepath.Join(t.TempDir(), "history.db")
	builder := fakeColmap(t, "", 0)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(),
		[]string{"-s", src, "-auto_z_up", "-history_db", history, "-colmap_executable", "/opt/colmap"},
		&stdout, &stderr, builder)
	require.Equal(t, 0, code, stderr.String())

	var ops []string
	for _, c := range builder.Commands {
		assert.Equal(t, "/opt/colmap", c.Name)
		ops = append(ops, c.Args[0])
	}
	assert.Equal(t, []string{"feature_extractor", "exhaustive_matcher", "mapper", "model_converter"}, ops)
	assert.Contains(t, builder.Commands[0].Args, "PINHOLE")

	points, err := os.ReadFile(filepath.Join(src, "sparse", "0", "points3D.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1 1.0 3.0 2.0 255 255 255 0.1\n", string(points))

	images, err := os.ReadFile(filepath.Join(src, "sparse", "0", "images.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(images), "1 1 0 0 0 1 3 2 1 a.jpg\n")

	cameras, err := os.ReadFile(filepath.Join(src, "sparse", "0", "cameras.txt"))
	require.NoError(t, err)
	assert.Equal(t, testCameras, string(cameras))

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.FileExists(t, filepath.Join(src, "images", name))
	}
	for _, dir := range []string{"images_2", "images_4", "images_8"} {
		assert.NoDirExists(t, filepath.Join(src, dir))
	}
	assert.Contains(t, stdout.String(), "Z-up coordinate system has been enforced.")

	// The run is visible in the history.
	stdout.Reset()
	code = run(context.Background(), []string{"-show_history", "-history_db", history}, &stdout, &stderr, command.NewMockBuilder())
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "succeeded")
	assert.Contains(t, stdout.String(), src)
}

func TestRun_CollaboratorFailureExitCode(t *testing.T) {
	src := newSource(t)
	history := filepath.Join(t.TempDir(), "history.db")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(),
		[]string{"-s", src, "-auto_z_up", "-resize", "-history_db", history},
		&stdout, &stderr, fakeColmap(t, "exhaustive_matcher", 2))

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "ERROR: feature_matching failed with code 2")
	assert.NoDirExists(t, filepath.Join(src, "images"))

	stdout.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-show_history", "-history_db", history}, &stdout, &stderr, command.NewMockBuilder()))
	assert.Contains(t, stdout.String(), "failed")
	assert.Contains(t, stdout.String(), "feature_matching")
}

func TestRun_ResizeWithMagick(t *testing.T) {
	src := newSource(t)
	builder := fakeColmap(t, "", 0)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(),
		[]string{"-s", src, "-resize", "-workers", "2", "-magick_executable", "/usr/bin/magick"},
		&stdout, &stderr, builder)
	require.Equal(t, 0, code, stderr.String())

	var resizes int
	for _, c := range builder.Commands {
		if c.Name == "/usr/bin/magick" {
			resizes++
			assert.Equal(t, "mogrify", c.Args[0])
		}
	}
	assert.Equal(t, 9, resizes)
	for _, dir := range []string{"images_2", "images_4", "images_8"} {
		assert.FileExists(t, filepath.Join(src, dir, "b.jpg"))
	}
}

func TestRun_ConfigFileAndOverride(t *testing.T) {
	src := newSource(t)
	cfgPath := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"camera_model": "SIMPLE_RADIAL", "use_gpu": true}`), 0644))
	builder := fakeColmap(t, "", 0)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(),
		[]string{"-s", src, "-config", cfgPath, "-camera", "OPENCV", "-skip_matching"},
		&stdout, &stderr, builder)

	// Nothing produced sparse/, so layout fails without a collaborator code.
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "layout failed with code 1")
	assert.Empty(t, builder.Commands)

	builder = fakeColmap(t, "", 0)
	code = run(context.Background(), []string{"-s", src, "-config", cfgPath, "-camera", "OPENCV"}, &stdout, &stderr, builder)
	require.Equal(t, 0, code, stderr.String())
	extract := builder.Commands[0].Args
	assert.Equal(t, "OPENCV", argValue(extract, "--ImageReader.camera_model"))
	assert.Equal(t, "1", argValue(extract, "--SiftExtraction.use_gpu"))
}
