package l4perception

import (
	"fmt"
	"math"

	"github.com/banshee-data/scanground/internal/config"
)

// ScanGroundParams holds the classifier thresholds. Angles are radians.
type ScanGroundParams struct {
	GlobalSlopeMaxAngleRad       float64 // absolute ground cutoff seen from the sensor origin
	LocalSlopeMaxAngleRad        float64 // cutoff relative to the last ground reference
	RadialDividerAngleRad        float64 // sector width
	SplitPointsDistanceTolerance float64 // metres added to the adjacency threshold
	SplitHeightDistance          float64 // metres
	UseVirtualGroundPoint        bool
	SectorWorkers                int // sectors swept concurrently; 1 = sequential
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// DefaultScanGroundParams returns the production defaults.
func DefaultScanGroundParams() ScanGroundParams {
	return ScanGroundParamsFromConfig(config.EmptyGroundConfig())
}

// ScanGroundParamsFromConfig converts a configuration, filling omitted
// fields with defaults.
func ScanGroundParamsFromConfig(cfg *config.GroundConfig) ScanGroundParams {
	return ScanGroundParams{
		GlobalSlopeMaxAngleRad:       deg2rad(cfg.GetGlobalSlopeMaxAngleDeg()),
		LocalSlopeMaxAngleRad:        deg2rad(cfg.GetLocalSlopeMaxAngleDeg()),
		RadialDividerAngleRad:        deg2rad(cfg.GetRadialDividerAngleDeg()),
		SplitPointsDistanceTolerance: cfg.GetSplitPointsDistanceTolerance(),
		SplitHeightDistance:          cfg.GetSplitHeightDistance(),
		UseVirtualGroundPoint:        cfg.GetUseVirtualGroundPoint(),
		SectorWorkers:                cfg.GetSectorWorkers(),
	}
}

// WithConfig returns a copy of p with the fields set in cfg overlaid.
// Fields cfg leaves nil keep their current value.
func (p ScanGroundParams) WithConfig(cfg *config.GroundConfig) ScanGroundParams {
	if cfg.GlobalSlopeMaxAngleDeg != nil {
		p.GlobalSlopeMaxAngleRad = deg2rad(*cfg.GlobalSlopeMaxAngleDeg)
	}
	if cfg.LocalSlopeMaxAngleDeg != nil {
		p.LocalSlopeMaxAngleRad = deg2rad(*cfg.LocalSlopeMaxAngleDeg)
	}
	if cfg.RadialDividerAngleDeg != nil {
		p.RadialDividerAngleRad = deg2rad(*cfg.RadialDividerAngleDeg)
	}
	if cfg.SplitPointsDistanceTolerance != nil {
		p.SplitPointsDistanceTolerance = *cfg.SplitPointsDistanceTolerance
	}
	if cfg.SplitHeightDistance != nil {
		p.SplitHeightDistance = *cfg.SplitHeightDistance
	}
	if cfg.UseVirtualGroundPoint != nil {
		p.UseVirtualGroundPoint = *cfg.UseVirtualGroundPoint
	}
	if cfg.SectorWorkers != nil {
		p.SectorWorkers = *cfg.SectorWorkers
	}
	return p
}

// ToConfig returns the parameters in the boundary units (degrees).
func (p ScanGroundParams) ToConfig() *config.GroundConfig {
	global := rad2deg(p.GlobalSlopeMaxAngleRad)
	local := rad2deg(p.LocalSlopeMaxAngleRad)
	divider := rad2deg(p.RadialDividerAngleRad)
	tolerance := p.SplitPointsDistanceTolerance
	height := p.SplitHeightDistance
	virtual := p.UseVirtualGroundPoint
	workers := p.SectorWorkers
	return &config.GroundConfig{
		GlobalSlopeMaxAngleDeg:       &global,
		LocalSlopeMaxAngleDeg:        &local,
		RadialDividerAngleDeg:        &divider,
		SplitPointsDistanceTolerance: &tolerance,
		SplitHeightDistance:          &height,
		UseVirtualGroundPoint:        &virtual,
		SectorWorkers:                &workers,
	}
}

// RadialDividersNum returns the sector count implied by the divider angle.
func (p ScanGroundParams) RadialDividersNum() int {
	return RadialDividersNum(p.RadialDividerAngleRad)
}

// angleEpsilon absorbs degree-to-radian rounding at the inclusive bounds.
const angleEpsilon = 1e-12

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate rejects parameters that would make a pass undefined. Errors
// wrap ErrInvalidConfig.
func (p ScanGroundParams) Validate() error {
	if !finite(p.GlobalSlopeMaxAngleRad) || p.GlobalSlopeMaxAngleRad <= 0 || p.GlobalSlopeMaxAngleRad > math.Pi/2+angleEpsilon {
		return fmt.Errorf("%w: global slope max angle must be in (0, 90] degrees, got %g", ErrInvalidConfig, rad2deg(p.GlobalSlopeMaxAngleRad))
	}
	if !finite(p.LocalSlopeMaxAngleRad) || p.LocalSlopeMaxAngleRad <= 0 || p.LocalSlopeMaxAngleRad > math.Pi/2+angleEpsilon {
		return fmt.Errorf("%w: local slope max angle must be in (0, 90] degrees, got %g", ErrInvalidConfig, rad2deg(p.LocalSlopeMaxAngleRad))
	}
	minDivider := deg2rad(config.MinRadialDividerAngleDeg)
	if !finite(p.RadialDividerAngleRad) || p.RadialDividerAngleRad < minDivider-angleEpsilon || p.RadialDividerAngleRad > 2*math.Pi+angleEpsilon {
		return fmt.Errorf("%w: radial divider angle must be in [%g, 360] degrees, got %g", ErrInvalidConfig, config.MinRadialDividerAngleDeg, rad2deg(p.RadialDividerAngleRad))
	}
	if !finite(p.SplitPointsDistanceTolerance) || p.SplitPointsDistanceTolerance < 0 {
		return fmt.Errorf("%w: split points distance tolerance must be >= 0, got %g", ErrInvalidConfig, p.SplitPointsDistanceTolerance)
	}
	if !finite(p.SplitHeightDistance) || p.SplitHeightDistance < 0 {
		return fmt.Errorf("%w: split height distance must be >= 0, got %g", ErrInvalidConfig, p.SplitHeightDistance)
	}
	if p.SectorWorkers < 1 || p.SectorWorkers > config.MaxSectorWorkers {
		return fmt.Errorf("%w: sector workers must be between 1 and %d, got %d", ErrInvalidConfig, config.MaxSectorWorkers, p.SectorWorkers)
	}
	return nil
}

// filterSnapshot is everything a pass reads, captured once at entry.
type filterSnapshot struct {
	params    ScanGroundParams
	wheelBase float64
	dividers  int
}
