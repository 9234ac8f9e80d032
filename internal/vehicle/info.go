// Package vehicle loads the vehicle geometry consumed by the perception
// layer.
package vehicle

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultInfoPath is the path to the canonical vehicle geometry file.
const DefaultInfoPath = "config/vehicle.defaults.yaml"

// Info describes the vehicle body. Distances in metres, measured from the
// rear axle centre.
type Info struct {
	WheelRadiusM   float64 `yaml:"wheel_radius"`
	WheelWidthM    float64 `yaml:"wheel_width"`
	WheelBaseM     float64 `yaml:"wheel_base"`
	WheelTreadM    float64 `yaml:"wheel_tread"`
	FrontOverhangM float64 `yaml:"front_overhang"`
	RearOverhangM  float64 `yaml:"rear_overhang"`
	LeftOverhangM  float64 `yaml:"left_overhang"`
	RightOverhangM float64 `yaml:"right_overhang"`
	VehicleHeightM float64 `yaml:"vehicle_height"`
}

type infoFile struct {
	VehicleInfo *Info `yaml:"vehicle_info"`
}

// LoadInfo loads vehicle geometry from a YAML file with a top-level
// vehicle_info mapping.
func LoadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, fmt.Errorf("vehicle info file not found: %s", path)
		}
		return Info{}, fmt.Errorf("reading vehicle info file: %w", err)
	}
	return ParseInfo(data)
}

// ParseInfo decodes and validates a vehicle info YAML document.
func ParseInfo(data []byte) (Info, error) {
	var f infoFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Info{}, fmt.Errorf("parsing vehicle info YAML: %w", err)
	}
	if f.VehicleInfo == nil {
		return Info{}, fmt.Errorf("vehicle_info is required")
	}
	if err := f.VehicleInfo.Validate(); err != nil {
		return Info{}, err
	}
	return *f.VehicleInfo, nil
}

// Validate checks that every dimension is finite and non-negative.
func (i Info) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"wheel_radius", i.WheelRadiusM},
		{"wheel_width", i.WheelWidthM},
		{"wheel_base", i.WheelBaseM},
		{"wheel_tread", i.WheelTreadM},
		{"front_overhang", i.FrontOverhangM},
		{"rear_overhang", i.RearOverhangM},
		{"left_overhang", i.LeftOverhangM},
		{"right_overhang", i.RightOverhangM},
		{"vehicle_height", i.VehicleHeightM},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("vehicle_info.%s must be a finite non-negative distance, got %g", f.name, f.v)
		}
	}
	return nil
}

// Store holds the current vehicle geometry and lets an external runtime
// refresh it.
type Store struct {
	mu   sync.RWMutex
	info Info
	path string
}

// NewStore returns a Store seeded with info. path, if non-empty, is the
// file re-read by Reload.
func NewStore(info Info, path string) *Store {
	return &Store{info: info, path: path}
}

// Path returns the file Reload reads, or "" if there is none.
func (s *Store) Path() string { return s.path }

// Get returns the current geometry.
func (s *Store) Get() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Set replaces the geometry after validating it.
func (s *Store) Set(info Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return nil
}

// Reload re-reads the backing file. On error the previous geometry stays.
func (s *Store) Reload() (Info, error) {
	if s.path == "" {
		return s.Get(), fmt.Errorf("vehicle info store has no backing file")
	}
	info, err := LoadInfo(s.path)
	if err != nil {
		return s.Get(), err
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return info, nil
}
