package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical ground filter defaults file.
const DefaultConfigPath = "config/ground.defaults.json"

// Defaults used when a field is omitted from the configuration.
const (
	DefaultGlobalSlopeMaxAngleDeg       = 8.0
	DefaultLocalSlopeMaxAngleDeg        = 6.0
	DefaultRadialDividerAngleDeg        = 1.0
	DefaultSplitPointsDistanceTolerance = 0.2
	DefaultSplitHeightDistance          = 0.2
	DefaultUseVirtualGroundPoint        = true
	DefaultSectorWorkers                = 1

	// MaxSectorWorkers bounds sector_workers.
	MaxSectorWorkers = 64

	// MinRadialDividerAngleDeg bounds radial_divider_angle_deg from below,
	// capping a pass at 36000 sectors.
	MinRadialDividerAngleDeg = 0.01
)

// GroundConfig holds the tunable parameters of the scan ground filter.
// Angles are in degrees, distances in metres. Every field is optional:
// startup files and runtime updates share this schema, and a runtime update
// changes only the fields it sets.
type GroundConfig struct {
	GlobalSlopeMaxAngleDeg       *float64 `json:"global_slope_max_angle_deg,omitempty"`
	LocalSlopeMaxAngleDeg        *float64 `json:"local_slope_max_angle_deg,omitempty"`
	RadialDividerAngleDeg        *float64 `json:"radial_divider_angle_deg,omitempty"`
	SplitPointsDistanceTolerance *float64 `json:"split_points_distance_tolerance,omitempty"`
	SplitHeightDistance          *float64 `json:"split_height_distance,omitempty"`
	UseVirtualGroundPoint        *bool    `json:"use_virtual_ground_point,omitempty"`

	// SectorWorkers is the number of sectors swept concurrently (1 = sequential).
	SectorWorkers *int `json:"sector_workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyGroundConfig returns a GroundConfig with all fields set to nil.
func EmptyGroundConfig() *GroundConfig {
	return &GroundConfig{}
}

// DefaultGroundConfig returns a GroundConfig with every field set to its
// built-in default.
func DefaultGroundConfig() *GroundConfig {
	return &GroundConfig{
		GlobalSlopeMaxAngleDeg:       ptrFloat64(DefaultGlobalSlopeMaxAngleDeg),
		LocalSlopeMaxAngleDeg:        ptrFloat64(DefaultLocalSlopeMaxAngleDeg),
		RadialDividerAngleDeg:        ptrFloat64(DefaultRadialDividerAngleDeg),
		SplitPointsDistanceTolerance: ptrFloat64(DefaultSplitPointsDistanceTolerance),
		SplitHeightDistance:          ptrFloat64(DefaultSplitHeightDistance),
		UseVirtualGroundPoint:        ptrBool(DefaultUseVirtualGroundPoint),
		SectorWorkers:                ptrInt(DefaultSectorWorkers),
	}
}

// LoadGroundConfig loads a GroundConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file stay nil and fall back to defaults through the Get* methods.
func LoadGroundConfig(path string) (*GroundConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseGroundConfig(data)
}

// ParseGroundConfig decodes and validates a JSON document. Unknown keys
// are rejected so a misspelt option cannot be silently ignored.
func ParseGroundConfig(data []byte) (*GroundConfig, error) {
	cfg := EmptyGroundConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *GroundConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/l4perception/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadGroundConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate checks every field that is set. It reports the first invalid
// field; a caller applying the config must treat any error as a rejection
// of the whole document.
func (c *GroundConfig) Validate() error {
	if err := validateSlope("global_slope_max_angle_deg", c.GlobalSlopeMaxAngleDeg); err != nil {
		return err
	}
	if err := validateSlope("local_slope_max_angle_deg", c.LocalSlopeMaxAngleDeg); err != nil {
		return err
	}
	if v := c.RadialDividerAngleDeg; v != nil {
		if !finite(*v) || *v < MinRadialDividerAngleDeg || *v > 360 {
			return fmt.Errorf("radial_divider_angle_deg must be in [%g, 360], got %g", MinRadialDividerAngleDeg, *v)
		}
	}
	if err := validateDistance("split_points_distance_tolerance", c.SplitPointsDistanceTolerance); err != nil {
		return err
	}
	if err := validateDistance("split_height_distance", c.SplitHeightDistance); err != nil {
		return err
	}
	if v := c.SectorWorkers; v != nil {
		if *v < 1 || *v > MaxSectorWorkers {
			return fmt.Errorf("sector_workers must be between 1 and %d, got %d", MaxSectorWorkers, *v)
		}
	}
	return nil
}

func validateSlope(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if !finite(*v) || *v <= 0 || *v > 90 {
		return fmt.Errorf("%s must be in (0, 90], got %g", name, *v)
	}
	return nil
}

func validateDistance(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if !finite(*v) || *v < 0 {
		return fmt.Errorf("%s must be a non-negative distance, got %g", name, *v)
	}
	return nil
}

// GetGlobalSlopeMaxAngleDeg returns the global_slope_max_angle_deg value or the default.
func (c *GroundConfig) GetGlobalSlopeMaxAngleDeg() float64 {
	if c.GlobalSlopeMaxAngleDeg == nil {
		return DefaultGlobalSlopeMaxAngleDeg
	}
	return *c.GlobalSlopeMaxAngleDeg
}

// GetLocalSlopeMaxAngleDeg returns the local_slope_max_angle_deg value or the default.
func (c *GroundConfig) GetLocalSlopeMaxAngleDeg() float64 {
	if c.LocalSlopeMaxAngleDeg == nil {
		return DefaultLocalSlopeMaxAngleDeg
	}
	return *c.LocalSlopeMaxAngleDeg
}

// GetRadialDividerAngleDeg returns the radial_divider_angle_deg value or the default.
func (c *GroundConfig) GetRadialDividerAngleDeg() float64 {
	if c.RadialDividerAngleDeg == nil {
		return DefaultRadialDividerAngleDeg
	}
	return *c.RadialDividerAngleDeg
}

// GetSplitPointsDistanceTolerance returns the split_points_distance_tolerance value or the default.
func (c *GroundConfig) GetSplitPointsDistanceTolerance() float64 {
	if c.SplitPointsDistanceTolerance == nil {
		return DefaultSplitPointsDistanceTolerance
	}
	return *c.SplitPointsDistanceTolerance
}

// GetSplitHeightDistance returns the split_height_distance value or the default.
func (c *GroundConfig) GetSplitHeightDistance() float64 {
	if c.SplitHeightDistance == nil {
		return DefaultSplitHeightDistance
	}
	return *c.SplitHeightDistance
}

// GetUseVirtualGroundPoint returns the use_virtual_ground_point value or the default.
func (c *GroundConfig) GetUseVirtualGroundPoint() bool {
	if c.UseVirtualGroundPoint == nil {
		return DefaultUseVirtualGroundPoint
	}
	return *c.UseVirtualGroundPoint
}

// GetSectorWorkers returns the sector_workers value or the default.
func (c *GroundConfig) GetSectorWorkers() int {
	if c.SectorWorkers == nil {
		return DefaultSectorWorkers
	}
	return *c.SectorWorkers
}
