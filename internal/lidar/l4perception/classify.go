package l4perception

import (
	"math"

	"golang.org/x/sync/errgroup"
)

// sweepState is the running state carried from one point to the next
// within a single sector. It never crosses a sector boundary.
type sweepState struct {
	prevGndRadius    float64
	prevGndSlope     float64
	prevGndPoint     Point3D
	prevLabel        PointLabel
	groundCluster    CentroidTracker
	nonGroundCluster CentroidTracker
}

// seedSweep returns the state for the first point of a sector. The
// previous ground reference is the virtual ground point ahead of the rear
// axle when enabled and the point lies beyond it, otherwise the origin.
func seedSweep(snap filterSnapshot, first Point3D) sweepState {
	var seed Point3D
	if snap.params.UseVirtualGroundPoint && first.X > snap.wheelBase {
		seed = Point3D{X: snap.wheelBase}
	}
	return sweepState{
		prevGndRadius: math.Hypot(seed.X, seed.Y),
		prevGndPoint:  seed,
		prevLabel:     LabelInit,
	}
}

// classifyPoint labels one point given the running sector state and the
// 3D distance to its predecessor (or to the seed for the first point). It
// returns the updated state, the resolved label, and whether the point's
// index must be recorded as non-ground.
func classifyPoint(p ScanGroundParams, st sweepState, cur Point3D, radius, pointsDistance float64) (sweepState, PointLabel, bool) {
	radiusDistanceFromGnd := radius - st.prevGndRadius
	heightFromGnd := cur.Z - st.prevGndPoint.Z
	heightFromObj := cur.Z - st.nonGroundCluster.AverageHeight()
	closeToPrev := pointsDistance < radius*p.RadialDividerAngleRad+p.SplitPointsDistanceTolerance
	globalSlope := math.Atan2(cur.Z, radius)

	label := LabelInit
	calculateSlope := false
	switch {
	case globalSlope > p.GlobalSlopeMaxAngleRad:
		label = LabelNonGround
	case st.prevLabel == LabelNonGround && math.Abs(heightFromObj) >= p.SplitHeightDistance:
		calculateSlope = true
	case closeToPrev && math.Abs(heightFromGnd) < p.SplitHeightDistance:
		label = LabelPointFollow
	default:
		calculateSlope = true
	}

	// Dense neighbourhoods compare against the ground cluster rather than a
	// single ground point.
	if closeToPrev {
		heightFromGnd = cur.Z - st.groundCluster.AverageHeight()
		radiusDistanceFromGnd = radius - st.groundCluster.AverageRadius()
	}
	if calculateSlope {
		localSlope := math.Atan2(heightFromGnd, radiusDistanceFromGnd)
		if localSlope-st.prevGndSlope > p.LocalSlopeMaxAngleRad {
			label = LabelNonGround
		} else {
			label = LabelGround
		}
	}

	if label == LabelGround {
		st.groundCluster.Initialize()
		st.nonGroundCluster.Initialize()
	}

	record := false
	switch {
	case label == LabelNonGround:
		record = true
	case st.prevLabel == LabelNonGround && label == LabelPointFollow:
		label = LabelNonGround
		record = true
	case st.prevLabel == LabelGround && label == LabelPointFollow:
		label = LabelGround
	}

	st.prevLabel = label
	switch label {
	case LabelGround:
		st.prevGndRadius = radius
		st.prevGndPoint = cur
		st.groundCluster.AddPoint(radius, cur.Z)
		st.prevGndSlope = st.groundCluster.AverageSlope()
	case LabelNonGround:
		st.nonGroundCluster.AddPoint(radius, cur.Z)
	}
	return st, label, record
}

// classifySector sweeps one radius-ordered sector, writing the resolved
// label into each PointRef and appending non-ground indices to out.
func classifySector(snap filterSnapshot, sector []PointRef, points []Point3D, out []int) []int {
	var st sweepState
	for j := range sector {
		ref := &sector[j]
		cur := points[ref.OrigIndex]

		var pointsDistance float64
		if j == 0 {
			st = seedSweep(snap, cur)
			pointsDistance = distance3D(cur, st.prevGndPoint)
		} else {
			pointsDistance = distance3D(cur, points[sector[j-1].OrigIndex])
		}

		var label PointLabel
		var record bool
		st, label, record = classifyPoint(snap.params, st, cur, ref.Radius, pointsDistance)
		ref.State = label
		if record {
			out = append(out, ref.OrigIndex)
		}
	}
	return out
}

// classifyPointCloud sweeps every sector and returns the non-ground
// indices in sector order, then sweep order within a sector. With more
// than one worker the sectors are swept concurrently; the result is
// identical to the sequential sweep.
func classifyPointCloud(snap filterSnapshot, sectors [][]PointRef, points []Point3D) []int {
	workers := snap.params.SectorWorkers
	if workers <= 1 {
		out := make([]int, 0, len(points)/4)
		for _, sector := range sectors {
			out = classifySector(snap, sector, points, out)
		}
		return out
	}

	perSector := make([][]int, len(sectors))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range sectors {
		if len(sectors[i]) == 0 {
			continue
		}
		g.Go(func() error {
			perSector[i] = classifySector(snap, sectors[i], points, nil)
			return nil
		})
	}
	_ = g.Wait() // sector sweeps cannot fail

	total := 0
	for _, idx := range perSector {
		total += len(idx)
	}
	out := make([]int, 0, total)
	for _, idx := range perSector {
		out = append(out, idx...)
	}
	return out
}

// ClassifyPointCloud labels radius-ordered sectors produced by
// BucketizePoints and returns the indices of non-ground points.
func ClassifyPointCloud(params ScanGroundParams, wheelBase float64, sectors [][]PointRef, points []Point3D) []int {
	snap := filterSnapshot{
		params:    params,
		wheelBase: wheelBase,
		dividers:  len(sectors),
	}
	return classifyPointCloud(snap, sectors, points)
}
