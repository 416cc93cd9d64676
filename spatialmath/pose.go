// Package spatialmath provides 6-DoF pose and orientation primitives used
// throughout the map-stitching core: composition, inversion, and the
// "between" operator pose-graph factors are built from.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Epsilon is the default tolerance used by the AlmostEqual family of checks.
const Epsilon = 1e-6

// Orientation represents a 3-D rotation, convertible to any of the
// concrete representations used by this package.
type Orientation interface {
	Quaternion() mgl64.Quat
	EulerAngles() *EulerAngles
}

// EulerAngles is a roll-pitch-yaw orientation in radians, applied in
// the Rz * Ry * Rx convention (matching the teacher's RPY pose6d field).
type EulerAngles struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// NewEulerAngles constructs an EulerAngles orientation from radians.
func NewEulerAngles(roll, pitch, yaw float64) *EulerAngles {
	return &EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// Quaternion converts the Euler angles to a unit quaternion.
func (e *EulerAngles) Quaternion() mgl64.Quat {
	return mgl64.AnglesToQuat(e.Yaw, e.Pitch, e.Roll, mgl64.ZYX)
}

// EulerAngles returns e unchanged; it already is one.
func (e *EulerAngles) EulerAngles() *EulerAngles { return e }

// Quaternion is a unit-quaternion orientation.
type Quaternion mgl64.Quat

// Quaternion returns q as an mgl64.Quat.
func (q Quaternion) Quaternion() mgl64.Quat { return mgl64.Quat(q) }

// EulerAngles converts the quaternion to roll/pitch/yaw radians using the
// standard Rz*Ry*Rx (ZYX) decomposition.
func (q Quaternion) EulerAngles() *EulerAngles {
	w, x, y, z := q.W, q.V[0], q.V[1], q.V[2]

	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	var pitch float64
	sinp := 2 * (w*y - z*x)
	if sinp >= 1 {
		pitch = math.Pi / 2
	} else if sinp <= -1 {
		pitch = -math.Pi / 2
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	return &EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// NewZeroOrientation returns the identity orientation.
func NewZeroOrientation() Orientation {
	return Quaternion(mgl64.QuatIdent())
}

// Pose is a rigid transform: a translation plus an orientation, both
// expressed in the parent frame.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type pose struct {
	point  r3.Vector
	orient Orientation
}

func (p *pose) Point() r3.Vector      { return p.point }
func (p *pose) Orientation() Orientation { return p.orient }

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return &pose{point: r3.Vector{}, orient: NewZeroOrientation()}
}

// NewPoseFromPoint returns a pose with identity orientation at point.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &pose{point: point, orient: NewZeroOrientation()}
}

// NewPose constructs a pose from a point and an orientation.
func NewPose(point r3.Vector, orientation Orientation) Pose {
	if orientation == nil {
		orientation = NewZeroOrientation()
	}
	return &pose{point: point, orient: orientation}
}

// NewPoseFromOrientation is an alias of NewPose kept for parity with the
// teacher's two constructor spellings (raw-point vs. orientation-first call
// sites read better with one name or the other).
func NewPoseFromOrientation(point r3.Vector, orientation Orientation) Pose {
	return NewPose(point, orientation)
}

// NewPoseFromEuler builds a pose directly from x,y,z,roll,pitch,yaw, the
// shape a keyframe.Pose6D is read from and written to.
func NewPoseFromEuler(x, y, z, roll, pitch, yaw float64) Pose {
	return NewPose(r3.Vector{X: x, Y: y, Z: z}, NewEulerAngles(roll, pitch, yaw))
}

// Rz returns a pure yaw rotation about the world z axis, used to apply a
// scan-context yaw offset to a candidate pose (spec §4.4 Detector 2).
func Rz(yawRad float64) Pose {
	return NewPose(r3.Vector{}, NewEulerAngles(0, 0, yawRad))
}

// quatRotate rotates v by q.
func quatRotate(q mgl64.Quat, v r3.Vector) r3.Vector {
	rotated := q.Rotate(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: rotated[0], Y: rotated[1], Z: rotated[2]}
}

// Compose returns the rigid transform a followed by b, i.e. a*b in the
// usual homogeneous-transform sense: points in b's frame are first placed
// by b, then carried by a.
func Compose(a, b Pose) Pose {
	aq := a.Orientation().Quaternion()
	bq := b.Orientation().Quaternion()
	point := a.Point().Add(quatRotate(aq, b.Point()))
	orient := aq.Mul(bq)
	return NewPose(point, Quaternion(orient))
}

// PoseInverse returns the pose such that Compose(p, PoseInverse(p)) is the
// identity pose.
func PoseInverse(p Pose) Pose {
	q := p.Orientation().Quaternion()
	qInv := q.Inverse()
	point := quatRotate(qInv, p.Point()).Mul(-1)
	return NewPose(point, Quaternion(qInv))
}

// PoseDelta returns the relative pose carrying `from` onto `to`, i.e. the
// gtsam-style `from.between(to)` operator used to build Between/Loop
// factors: PoseDelta(from, to) == Compose(PoseInverse(from), to).
func PoseDelta(from, to Pose) Pose {
	return Compose(PoseInverse(from), to)
}

// R3VectorAlmostEqual reports whether a and b differ by no more than eps
// in each axis.
func R3VectorAlmostEqual(a, b r3.Vector, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

// PoseAlmostEqualEps reports whether a and b are within eps in both
// translation (meters) and orientation (measured as the angle of the
// relative rotation, radians).
func PoseAlmostEqualEps(a, b Pose, eps float64) bool {
	if !R3VectorAlmostEqual(a.Point(), b.Point(), eps) {
		return false
	}
	delta := PoseDelta(a, b)
	rpy := delta.Orientation().EulerAngles()
	angle := math.Sqrt(rpy.Roll*rpy.Roll + rpy.Pitch*rpy.Pitch + rpy.Yaw*rpy.Yaw)
	return angle <= eps
}

// PoseAlmostEqual uses the package Epsilon tolerance.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, Epsilon)
}
