package l4perception

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/scanground/internal/config"
	"github.com/banshee-data/scanground/internal/timeutil"
	"github.com/banshee-data/scanground/internal/vehicle"
)

// ScanGroundFilter removes ground returns from a frame by sweeping radial
// sectors near to far. Parameters may be replaced between passes; each
// pass reads one snapshot taken at entry.
type ScanGroundFilter struct {
	mu    sync.RWMutex
	snap  filterSnapshot
	clock timeutil.Clock

	statsMu sync.Mutex
	stats   FilterStats
}

// FilterStats accumulates per-pass counters for monitoring and tuning.
type FilterStats struct {
	Passes           int64
	Rejected         int64 // passes failed on invalid input
	PointsIn         int64
	PointsNonGround  int64
	LastPassDuration time.Duration
}

// Option configures a ScanGroundFilter.
type Option func(*ScanGroundFilter)

// WithClock sets the clock used to time passes.
func WithClock(c timeutil.Clock) Option {
	return func(f *ScanGroundFilter) { f.clock = c }
}

// NewScanGroundFilter validates params and the vehicle geometry and
// returns a ready filter.
func NewScanGroundFilter(params ScanGroundParams, info vehicle.Info, opts ...Option) (*ScanGroundFilter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	f := &ScanGroundFilter{
		snap: filterSnapshot{
			params:    params,
			wheelBase: info.WheelBaseM,
			dividers:  params.RadialDividersNum(),
		},
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	diagf("scan ground filter ready: dividers=%d wheel_base=%.3f", f.snap.dividers, f.snap.wheelBase)
	return f, nil
}

func (f *ScanGroundFilter) snapshot() filterSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Params returns the current parameters.
func (f *ScanGroundFilter) Params() ScanGroundParams {
	return f.snapshot().params
}

// RadialDividersNum returns the sector count the next pass will use.
func (f *ScanGroundFilter) RadialDividersNum() int {
	return f.snapshot().dividers
}

// WheelBase returns the wheel base used to place the virtual ground point.
func (f *ScanGroundFilter) WheelBase() float64 {
	return f.snapshot().wheelBase
}

// SetParams replaces all parameters. Invalid parameters are rejected and
// the current snapshot stays in force.
func (f *ScanGroundFilter) SetParams(params ScanGroundParams) error {
	if err := params.Validate(); err != nil {
		opsf("rejected parameter update: %v", err)
		return err
	}
	f.mu.Lock()
	f.snap.params = params
	f.snap.dividers = params.RadialDividersNum()
	dividers := f.snap.dividers
	f.mu.Unlock()
	diagf("parameters replaced: radial_dividers_num=%d", dividers)
	return nil
}

// ApplyConfig applies a partial runtime update expressed in degrees. Every
// set field is validated and the merged result re-validated; on any error
// the whole update is rejected.
func (f *ScanGroundFilter) ApplyConfig(cfg *config.GroundConfig) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		opsf("rejected configuration update: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	f.mu.Lock()
	merged := f.snap.params.WithConfig(cfg)
	if err := merged.Validate(); err != nil {
		f.mu.Unlock()
		opsf("rejected configuration update: %v", err)
		return err
	}
	f.snap.params = merged
	f.snap.dividers = merged.RadialDividersNum()
	dividers := f.snap.dividers
	f.mu.Unlock()

	logAppliedConfig(cfg, dividers)
	return nil
}

func logAppliedConfig(cfg *config.GroundConfig, dividers int) {
	if cfg.GlobalSlopeMaxAngleDeg != nil {
		diagf("setting global_slope_max_angle_deg to: %f", *cfg.GlobalSlopeMaxAngleDeg)
	}
	if cfg.LocalSlopeMaxAngleDeg != nil {
		diagf("setting local_slope_max_angle_deg to: %f", *cfg.LocalSlopeMaxAngleDeg)
	}
	if cfg.RadialDividerAngleDeg != nil {
		diagf("setting radial_divider_angle_deg to: %f", *cfg.RadialDividerAngleDeg)
		diagf("setting radial_dividers_num to: %d", dividers)
	}
	if cfg.SplitPointsDistanceTolerance != nil {
		diagf("setting split_points_distance_tolerance to: %f", *cfg.SplitPointsDistanceTolerance)
	}
	if cfg.SplitHeightDistance != nil {
		diagf("setting split_height_distance to: %f", *cfg.SplitHeightDistance)
	}
	if cfg.UseVirtualGroundPoint != nil {
		diagf("setting use_virtual_ground_point to: %t", *cfg.UseVirtualGroundPoint)
	}
	if cfg.SectorWorkers != nil {
		diagf("setting sector_workers to: %d", *cfg.SectorWorkers)
	}
}

// SetVehicleInfo refreshes the vehicle geometry.
func (f *ScanGroundFilter) SetVehicleInfo(info vehicle.Info) error {
	if err := info.Validate(); err != nil {
		opsf("rejected vehicle info update: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	f.mu.Lock()
	f.snap.wheelBase = info.WheelBaseM
	f.mu.Unlock()
	diagf("setting wheel_base to: %f", info.WheelBaseM)
	return nil
}

// validatePoints rejects clouds containing non-finite coordinates. A NaN
// or Inf would otherwise fall through every comparison in the cascade and
// be labelled ground.
func validatePoints(points []Point3D) error {
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: point %d has non-finite coordinates (%g, %g, %g)", ErrInvalidInput, i, p.X, p.Y, p.Z)
		}
	}
	return nil
}

// ClassifyIndices returns the indices of the non-ground points, in sweep
// order: sector by sector, near to far within a sector.
func (f *ScanGroundFilter) ClassifyIndices(points []Point3D) ([]int, error) {
	snap := f.snapshot()
	return f.classify(snap, points)
}

func (f *ScanGroundFilter) classify(snap filterSnapshot, points []Point3D) ([]int, error) {
	start := f.clock.Now()
	if err := validatePoints(points); err != nil {
		f.recordRejected()
		opsf("rejected pass: %v", err)
		return nil, err
	}
	sectors := BucketizePoints(points, snap.params.RadialDividerAngleRad)
	indices := classifyPointCloud(snap, sectors, points)
	elapsed := f.clock.Since(start)

	f.recordPass(len(points), len(indices), elapsed)
	tracef("pass: points=%d non_ground=%d sectors=%d elapsed=%s", len(points), len(indices), len(sectors), elapsed)
	return indices, nil
}

// Filter returns the non-ground points of cloud with the same header.
func (f *ScanGroundFilter) Filter(cloud PointCloud) (PointCloud, error) {
	snap := f.snapshot()
	indices, err := f.classify(snap, cloud.Points)
	if err != nil {
		return PointCloud{}, fmt.Errorf("frame %q seq %d: %w", cloud.Header.FrameID, cloud.Header.Seq, err)
	}
	return PointCloud{
		Header: cloud.Header,
		Points: ExtractObjectPoints(cloud.Points, indices),
	}, nil
}

func (f *ScanGroundFilter) recordPass(in, nonGround int, elapsed time.Duration) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.Passes++
	f.stats.PointsIn += int64(in)
	f.stats.PointsNonGround += int64(nonGround)
	f.stats.LastPassDuration = elapsed
}

func (f *ScanGroundFilter) recordRejected() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.Rejected++
}

// Stats returns the accumulated counters.
func (f *ScanGroundFilter) Stats() FilterStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

// ResetStats clears accumulated counters.
func (f *ScanGroundFilter) ResetStats() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats = FilterStats{}
}

// NonGroundFraction returns the share of points that were labelled
// non-ground across all passes, or 0 before the first pass.
func (s FilterStats) NonGroundFraction() float64 {
	if s.PointsIn == 0 {
		return 0
	}
	return math.Min(1, float64(s.PointsNonGround)/float64(s.PointsIn))
}

// Verify at compile time that *ScanGroundFilter implements GroundRemover.
var _ GroundRemover = (*ScanGroundFilter)(nil)
