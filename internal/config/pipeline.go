// Package config loads pipeline settings from JSON. Every field is a
// pointer so a partial file only overrides what it names; the Get*
// accessors fill in defaults for the rest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the checked-in defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Resizer backends.
const (
	ResizerMagick = "magick"
	ResizerNative = "native"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig holds the settings a run can take from a file. Command-line
// flags override these values.
type PipelineConfig struct {
	// Collaborators
	ColmapExecutable *string `json:"colmap_executable,omitempty"`
	MagickExecutable *string `json:"magick_executable,omitempty"`
	Resizer          *string `json:"resizer,omitempty"` // "magick" or "native"

	// Reconstruction
	CameraModel               *string  `json:"camera_model,omitempty"`
	UseGPU                    *bool    `json:"use_gpu,omitempty"`
	SingleCamera              *bool    `json:"single_camera,omitempty"`
	BAGlobalFunctionTolerance *float64 `json:"ba_global_function_tolerance,omitempty"`

	// Execution
	Workers   *int    `json:"workers,omitempty"`
	HistoryDB *string `json:"history_db,omitempty"`
	Preview   *bool   `json:"preview,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field set to its
// default. It matches the contents of DefaultConfigPath.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ColmapExecutable:          ptrString("colmap"),
		MagickExecutable:          ptrString("magick"),
		Resizer:                   ptrString(ResizerMagick),
		CameraModel:               ptrString("PINHOLE"),
		UseGPU:                    ptrBool(false),
		SingleCamera:              ptrBool(true),
		BAGlobalFunctionTolerance: ptrFloat64(0.000001),
		Workers:                   ptrInt(0),
		HistoryDB:                 ptrString(""),
		Preview:                   ptrBool(false),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.Resizer != nil {
		switch *c.Resizer {
		case ResizerMagick, ResizerNative:
		default:
			return fmt.Errorf("resizer must be %q or %q, got %q", ResizerMagick, ResizerNative, *c.Resizer)
		}
	}
	if c.CameraModel != nil && *c.CameraModel == "" {
		return fmt.Errorf("camera_model must not be empty")
	}
	if c.BAGlobalFunctionTolerance != nil && *c.BAGlobalFunctionTolerance <= 0 {
		return fmt.Errorf("ba_global_function_tolerance must be positive, got %g", *c.BAGlobalFunctionTolerance)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetColmapExecutable returns the colmap_executable value or the default.
func (c *PipelineConfig) GetColmapExecutable() string {
	if c.ColmapExecutable == nil || *c.ColmapExecutable == "" {
		return "colmap"
	}
	return *c.ColmapExecutable
}

// GetMagickExecutable returns the magick_executable value or the default.
func (c *PipelineConfig) GetMagickExecutable() string {
	if c.MagickExecutable == nil || *c.MagickExecutable == "" {
		return "magick"
	}
	return *c.MagickExecutable
}

// GetResizer returns the resizer backend or the default.
func (c *PipelineConfig) GetResizer() string {
	if c.Resizer == nil {
		return ResizerMagick
	}
	return *c.Resizer
}

// GetCameraModel returns the camera_model value or the default.
func (c *PipelineConfig) GetCameraModel() string {
	if c.CameraModel == nil || *c.CameraModel == "" {
		return "PINHOLE"
	}
	return *c.CameraModel
}

// GetUseGPU returns the use_gpu value or the default.
func (c *PipelineConfig) GetUseGPU() bool {
	if c.UseGPU == nil {
		return false // CPU only unless asked
	}
	return *c.UseGPU
}

// GetSingleCamera returns the single_camera value or the default.
func (c *PipelineConfig) GetSingleCamera() bool {
	if c.SingleCamera == nil {
		return true
	}
	return *c.SingleCamera
}

// GetBAGlobalFunctionTolerance returns the mapper tolerance or the default.
func (c *PipelineConfig) GetBAGlobalFunctionTolerance() float64 {
	if c.BAGlobalFunctionTolerance == nil {
		return 0.000001
	}
	return *c.BAGlobalFunctionTolerance
}

// GetWorkers returns the worker count. Zero or unset means one per CPU.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetHistoryDB returns the run ledger path. Empty disables the ledger.
func (c *PipelineConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}

// GetPreview returns the preview value or the default.
func (c *PipelineConfig) GetPreview() bool {
	if c.Preview == nil {
		return false
	}
	return *c.Preview
}
