package l4perception

import "math"

// CentroidTracker keeps running averages of the points added to a cluster.
// The zero value is an empty tracker.
type CentroidTracker struct {
	count     int
	heightSum float64
	radiusSum float64
	slope     float64
}

// Initialize empties the tracker.
func (c *CentroidTracker) Initialize() {
	*c = CentroidTracker{}
}

// AddPoint accumulates a point and refreshes the average slope. The slope
// is the angle of the averaged point, not a fitted regression.
func (c *CentroidTracker) AddPoint(radius, height float64) {
	c.count++
	c.heightSum += height
	c.radiusSum += radius
	c.slope = math.Atan2(c.AverageHeight(), c.AverageRadius())
}

// Count returns the number of points added since the last Initialize.
func (c *CentroidTracker) Count() int { return c.count }

// AverageHeight returns the mean height, or 0 for an empty tracker.
func (c *CentroidTracker) AverageHeight() float64 {
	if c.count == 0 {
		return 0
	}
	return c.heightSum / float64(c.count)
}

// AverageRadius returns the mean radius, or 0 for an empty tracker.
func (c *CentroidTracker) AverageRadius() float64 {
	if c.count == 0 {
		return 0
	}
	return c.radiusSum / float64(c.count)
}

// AverageSlope returns atan2(AverageHeight, AverageRadius), or 0 for an
// empty tracker.
func (c *CentroidTracker) AverageSlope() float64 {
	if c.count == 0 {
		return 0
	}
	return c.slope
}
