package l4perception

import (
	"math"
	"sort"
)

// PointRef is the per-pass view of one input point. OrigIndex refers back
// into the caller's point slice and is only meaningful for the pass that
// produced it.
type PointRef struct {
	Radius    float64 // horizontal range, hypot(x, y)
	Theta     float64 // azimuth atan2(x, y) wrapped to [0, 2π]; note the x, y argument order
	RadialDiv int     // sector index
	State     PointLabel
	OrigIndex int
}

// RadialDividersNum returns the number of sectors for a divider angle.
func RadialDividersNum(dividerAngleRad float64) int {
	return int(math.Ceil(2 * math.Pi / dividerAngleRad))
}

// normalizeRadian wraps rad into [minRad, minRad+2π).
func normalizeRadian(rad, minRad float64) float64 {
	maxRad := minRad + 2*math.Pi
	value := math.Mod(rad, 2*math.Pi)
	if minRad <= value && value < maxRad {
		return value
	}
	return value - math.Copysign(2*math.Pi, value)
}

// sectorIndex maps an azimuth in [0, 2π] to a sector in [0, dividers).
// An azimuth that rounds onto the 2π seam lands in sector 0.
func sectorIndex(theta, dividerAngleRad float64, dividers int) int {
	div := int(math.Floor(theta/dividerAngleRad)) % dividers
	if div < 0 {
		div += dividers
	}
	return div
}

// newPointRef computes the polar view of p.
func newPointRef(p Point3D, index int, dividerAngleRad float64, dividers int) PointRef {
	theta := normalizeRadian(math.Atan2(p.X, p.Y), 0)
	div := sectorIndex(theta, dividerAngleRad, dividers)
	return PointRef{
		Radius:    math.Hypot(p.X, p.Y),
		Theta:     theta,
		RadialDiv: div,
		State:     LabelInit,
		OrigIndex: index,
	}
}

// BucketizePoints assigns every point to exactly one radial sector and
// returns the sectors, each ordered by ascending radius. Points with equal
// radius keep their input order.
//
// All sectors share one backing array: points are counted per sector
// first, then written once at precomputed offsets.
func BucketizePoints(points []Point3D, dividerAngleRad float64) [][]PointRef {
	dividers := RadialDividersNum(dividerAngleRad)
	refs := make([]PointRef, len(points))
	counts := make([]int, dividers)
	for i, p := range points {
		refs[i] = newPointRef(p, i, dividerAngleRad, dividers)
		counts[refs[i].RadialDiv]++
	}

	offsets := make([]int, dividers+1)
	for d := 0; d < dividers; d++ {
		offsets[d+1] = offsets[d] + counts[d]
	}

	arena := make([]PointRef, len(points))
	cursor := make([]int, dividers)
	copy(cursor, offsets[:dividers])
	for _, ref := range refs {
		arena[cursor[ref.RadialDiv]] = ref
		cursor[ref.RadialDiv]++
	}

	sectors := make([][]PointRef, dividers)
	for d := 0; d < dividers; d++ {
		sector := arena[offsets[d]:offsets[d+1]:offsets[d+1]]
		sort.SliceStable(sector, func(a, b int) bool {
			return sector[a].Radius < sector[b].Radius
		})
		sectors[d] = sector
	}
	return sectors
}
