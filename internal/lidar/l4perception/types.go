package l4perception

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point3D is a single Cartesian return in the sensor frame (metres).
// X points forward, Y left, Z up.
type Point3D struct {
	X, Y, Z float64
}

func (p Point3D) vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

// distance3D returns the Euclidean distance between a and b.
func distance3D(a, b Point3D) float64 {
	return r3.Norm(r3.Sub(a.vec(), b.vec()))
}

// FrameHeader identifies the frame a cloud belongs to. It is opaque to the
// filter and copied unchanged onto the output cloud.
type FrameHeader struct {
	FrameID string    // e.g. "sensor/hesai-01"
	Stamp   time.Time // acquisition time of the frame
	Seq     uint64    // monotonically increasing frame counter
}

// PointCloud is an ordered set of points plus the header of the frame they
// came from.
type PointCloud struct {
	Header FrameHeader
	Points []Point3D
}

// PointLabel is the classification state of a point during a sweep.
type PointLabel uint8

const (
	LabelInit PointLabel = iota
	LabelGround
	LabelNonGround
	// LabelPointFollow marks a point too close to its predecessor to judge
	// on its own; it inherits the predecessor's final label.
	LabelPointFollow
)

func (l PointLabel) String() string {
	switch l {
	case LabelInit:
		return "init"
	case LabelGround:
		return "ground"
	case LabelNonGround:
		return "non_ground"
	case LabelPointFollow:
		return "point_follow"
	default:
		return "unknown"
	}
}

// GroundRemover defines the interface for ground-plane filtering of a frame.
type GroundRemover interface {
	// Filter returns the object (non-ground) points of cloud, carrying the
	// same header.
	Filter(cloud PointCloud) (PointCloud, error)
}

var (
	// ErrInvalidConfig is returned when parameters are rejected.
	ErrInvalidConfig = errors.New("invalid ground filter configuration")
	// ErrInvalidInput is returned when a point cloud cannot be classified.
	ErrInvalidInput = errors.New("invalid point cloud")
)
