// Package keyframe is the keyframe store: per-session ordered keyframes
// (downsampled cloud, pose, timestamp, place descriptor) in a single global
// id space, plus their on-disk persistence (spec §4.1, §6).
package keyframe

import (
	"github.com/pkg/errors"

	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/scancontext"
	"github.com/viam-labs/map-stitch/spatialmath"
)

// Sentinels for the LoadError family (spec §7).
var (
	ErrTrajectoryMissing = errors.New("keyframe: fewer than 10 poses in trajectory")
	ErrDescriptorMissing = errors.New("keyframe: descriptor directory missing")
	ErrMismatch          = errors.New("keyframe: descriptor count does not match pose count")
)

// Pose6D is a keyframe pose: translation, orientation, session-relative
// timestamp, and the explicit id that the source's pose-cloud format
// smuggled through an overloaded "intensity" field (SPEC_FULL §3).
type Pose6D struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
	Time             float64
	ID               int
}

// Pose returns p's rigid-body pose, discarding time and id.
func (p Pose6D) Pose() spatialmath.Pose {
	return spatialmath.NewPoseFromEuler(p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

// FromPose builds a Pose6D at the given id and timestamp from a pose.
func FromPose(id int, t float64, pose spatialmath.Pose) Pose6D {
	pt := pose.Point()
	rpy := pose.Orientation().EulerAngles()
	return Pose6D{X: pt.X, Y: pt.Y, Z: pt.Z, Roll: rpy.Roll, Pitch: rpy.Pitch, Yaw: rpy.Yaw, Time: t, ID: id}
}

// WithPose returns p with its translation/orientation replaced by pose,
// time and id unchanged.
func (p Pose6D) WithPose(pose spatialmath.Pose) Pose6D {
	pt := pose.Point()
	rpy := pose.Orientation().EulerAngles()
	p.X, p.Y, p.Z = pt.X, pt.Y, pt.Z
	p.Roll, p.Pitch, p.Yaw = rpy.Roll, rpy.Pitch, rpy.Yaw
	return p
}

// LocalPose is a Pose6D renumbered to its local, session-relative id
// (spec §4.6 "Output": intensity fields are renumbered to local ids on
// write-back).
type LocalPose struct {
	Pose6D
	LocalID int
}

// Local renumbers p's global id to a local id relative to np: ids below np
// are prior-session local ids unchanged; ids at or above np are
// stitch-session local ids offset back down by np.
func (p Pose6D) Local(np int) *LocalPose {
	local := p.ID
	if p.ID >= np {
		local = p.ID - np
	}
	return &LocalPose{Pose6D: p, LocalID: local}
}

// Keyframe is one pose-graph vertex: its pose, its downsampled cloud in the
// keyframe's own LiDAR frame, and its place descriptor. The three are
// always index-aligned by ID (spec §3's invariant).
type Keyframe struct {
	ID         int
	Pose       Pose6D
	Cloud      pointcloud.PointCloud
	Descriptor *scancontext.Descriptor
}
