// Package pgo is the factor-graph optimizer: the merged pose-graph's
// vertex/edge bookkeeping, on-disk factor_graph.fg format, and the
// incremental smoother that replays factors into optimized poses.
package pgo

import (
	"github.com/golang/geo/r3"

	"github.com/viam-labs/map-stitch/spatialmath"
)

// Kind tags a Factor's edge type.
type Kind int

// The four factor kinds the merged pose-graph ever carries.
const (
	Prior Kind = iota
	Between
	Loop
	Gps
)

// Vector6 is a flattened 6-DoF pose, (x, y, z, roll, pitch, yaw), the shape
// both noise and pose-difference values are carried in.
type Vector6 [6]float64

// FromPose flattens p into a Vector6.
func FromPose(p spatialmath.Pose) Vector6 {
	pt := p.Point()
	rpy := p.Orientation().EulerAngles()
	return Vector6{pt.X, pt.Y, pt.Z, rpy.Roll, rpy.Pitch, rpy.Yaw}
}

// ToPose expands v back into a Pose.
func (v Vector6) ToPose() spatialmath.Pose {
	return spatialmath.NewPoseFromEuler(v[0], v[1], v[2], v[3], v[4], v[5])
}

// Factor is a priority entry in the factor queue (spec §3): a typed,
// tagged-variant edge between one or two vertex ids.
type Factor struct {
	Kind   Kind
	FromID int
	ToID   int
	Value  Vector6  // for Gps, only the first 3 components (translation) are meaningful
	Noise  []float64 // length 6 for pose factors, length 3 for Gps
}

// NewPriorFactor anchors vertex id at value with the given noise.
func NewPriorFactor(id int, value spatialmath.Pose, noise Vector6) Factor {
	return Factor{Kind: Prior, FromID: id, ToID: id, Value: FromPose(value), Noise: noise[:]}
}

// NewBetweenFactor relates fromID to toID by an odometry-derived pose delta.
func NewBetweenFactor(fromID, toID int, value spatialmath.Pose, noise Vector6) Factor {
	return Factor{Kind: Between, FromID: fromID, ToID: toID, Value: FromPose(value), Noise: noise[:]}
}

// NewLoopFactor relates fromID to toID by a loop-closure-derived pose delta.
func NewLoopFactor(fromID, toID int, value spatialmath.Pose, noise Vector6) Factor {
	return Factor{Kind: Loop, FromID: fromID, ToID: toID, Value: FromPose(value), Noise: noise[:]}
}

// NewGPSFactor anchors id's translation to an ECEF fix.
func NewGPSFactor(id int, ecef r3.Vector, noise r3.Vector) Factor {
	return Factor{
		Kind:   Gps,
		FromID: id,
		ToID:   id,
		Value:  Vector6{ecef.X, ecef.Y, ecef.Z, 0, 0, 0},
		Noise:  []float64{noise.X, noise.Y, noise.Z},
	}
}

// maxMin returns the pair (max(from,to), min(from,to)) used by the
// ordering comparator.
func (f Factor) maxMin() (int, int) {
	if f.FromID >= f.ToID {
		return f.FromID, f.ToID
	}
	return f.ToID, f.FromID
}

// Less implements the priority-queue ordering of spec §3: lexicographic
// (max(from_id, to_id), min(from_id, to_id), kind) ascending, so a factor
// becomes eligible exactly when both endpoints exist in the optimizer.
func Less(a, b Factor) bool {
	aMax, aMin := a.maxMin()
	bMax, bMin := b.maxMin()
	if aMax != bMax {
		return aMax < bMax
	}
	if aMin != bMin {
		return aMin < bMin
	}
	return a.Kind < b.Kind
}
