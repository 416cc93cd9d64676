// Package pointcloud implements the point-cloud primitives the map-stitching
// core is built on: a sparse point store, PCD file I/O, a KD-tree for
// nearest-neighbor search, voxel downsampling, and ICP/GICP registration.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// minPreciseFloat64 and maxPreciseFloat64 bound the coordinate range Set
// accepts; points with a coordinate outside it are rejected.
const (
	minPreciseFloat64 = -1 << 52
	maxPreciseFloat64 = 1 << 52
)

// Data is the payload attached to a point distinct from its coordinates. The
// map-stitching core only ever carries a scalar value (LiDAR intensity, or a
// keyframe ID stamped on a trajectory vertex); it never needs color.
type Data interface {
	Value() int
	HasValue() bool
	SetValue(v int) Data
}

type basicData struct {
	value    int
	hasValue bool
}

// NewBasicData returns a Data with no value set.
func NewBasicData() Data {
	return &basicData{}
}

// NewValueData returns a Data carrying v.
func NewValueData(v int) Data {
	return &basicData{value: v, hasValue: true}
}

func (d *basicData) Value() int     { return d.value }
func (d *basicData) HasValue() bool { return d.hasValue }
func (d *basicData) SetValue(v int) Data {
	d.value = v
	d.hasValue = true
	return d
}

// NewVector is a convenience constructor matching the teacher's call sites.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

func validateCoord(v r3.Vector) error {
	if v.X < minPreciseFloat64 || v.X > maxPreciseFloat64 {
		return errors.Errorf("x component of point %v out of precise float64 range", v)
	}
	if v.Y < minPreciseFloat64 || v.Y > maxPreciseFloat64 {
		return errors.Errorf("y component of point %v out of precise float64 range", v)
	}
	if v.Z < minPreciseFloat64 || v.Z > maxPreciseFloat64 {
		return errors.Errorf("z component of point %v out of precise float64 range", v)
	}
	return nil
}

// PointCloud is a set of 3-D points, each with an optional Data payload,
// addressable by exact coordinate.
type PointCloud interface {
	Size() int
	Set(p r3.Vector, d Data) error
	At(x, y, z float64) (Data, bool)
	Iterate(numBatches, batchIdx int, fn func(p r3.Vector, d Data) bool)
}

type basicPointCloud struct {
	points map[r3.Vector]Data
	order  []r3.Vector
}

// New returns an empty PointCloud.
func New() PointCloud {
	return &basicPointCloud{points: map[r3.Vector]Data{}}
}

// NewWithPrealloc returns an empty PointCloud with its backing map
// preallocated for n points, avoiding rehashing while loading a PCD file of
// known size.
func NewWithPrealloc(n int) PointCloud {
	return &basicPointCloud{points: make(map[r3.Vector]Data, n)}
}

func (pc *basicPointCloud) Size() int { return len(pc.points) }

func (pc *basicPointCloud) Set(p r3.Vector, d Data) error {
	if err := validateCoord(p); err != nil {
		return err
	}
	if _, exists := pc.points[p]; !exists {
		pc.order = append(pc.order, p)
	}
	pc.points[p] = d
	return nil
}

func (pc *basicPointCloud) At(x, y, z float64) (Data, bool) {
	d, ok := pc.points[r3.Vector{X: x, Y: y, Z: z}]
	return d, ok
}

// Iterate walks the cloud in insertion order. numBatches/batchIdx split the
// walk for data-parallel callers (0, 0 visits everything).
func (pc *basicPointCloud) Iterate(numBatches, batchIdx int, fn func(p r3.Vector, d Data) bool) {
	n := len(pc.order)
	if n == 0 {
		return
	}
	start, end := 0, n
	if numBatches > 0 {
		batchSize := (n + numBatches - 1) / numBatches
		start = batchIdx * batchSize
		end = start + batchSize
		if start > n {
			start = n
		}
		if end > n {
			end = n
		}
	}
	for _, p := range pc.order[start:end] {
		if !fn(p, pc.points[p]) {
			return
		}
	}
}

// CloudContains reports whether the cloud has a point at exactly (x, y, z).
func CloudContains(pc PointCloud, x, y, z float64) bool {
	_, ok := pc.At(x, y, z)
	return ok
}

// CloudCentroid returns the arithmetic mean of every point in pc, or the
// zero vector for an empty cloud.
func CloudCentroid(pc PointCloud) r3.Vector {
	var sum r3.Vector
	n := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		sum = sum.Add(p)
		n++
		return true
	})
	if n == 0 {
		return r3.Vector{}
	}
	return sum.Mul(1.0 / float64(n))
}

// ToSlice materializes pc's points in iteration order, the shape needed to
// build a KD-tree or a Jacobian over a fixed point ordering.
func ToSlice(pc PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}

// MergePointClouds concatenates clouds into one, later clouds' points
// overwriting earlier ones at colliding coordinates.
func MergePointClouds(clouds []PointCloud) (PointCloud, error) {
	merged := New()
	for _, pc := range clouds {
		var setErr error
		pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
			if err := merged.Set(p, d); err != nil {
				setErr = err
				return false
			}
			return true
		})
		if setErr != nil {
			return nil, setErr
		}
	}
	return merged, nil
}

// BoundingBoxFromPointCloud returns the axis-aligned min/max corners of pc's
// points; ok is false for an empty cloud.
func BoundingBoxFromPointCloud(pc PointCloud) (min, max r3.Vector, ok bool) {
	first := true
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if first {
			min, max = p, p
			first = false
			return true
		}
		min = r3.Vector{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = r3.Vector{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
		return true
	})
	return min, max, !first
}
