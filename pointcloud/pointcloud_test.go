package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()

	p0 := NewVector(0, 0, 0)
	d0 := NewValueData(5)

	test.That(t, pc.Set(p0, d0), test.ShouldBeNil)
	d, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d0)

	_, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeFalse)

	p1 := NewVector(1, 0, 1)
	d1 := NewValueData(17)
	test.That(t, pc.Set(p1, d1), test.ShouldBeNil)

	d, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d1)
	test.That(t, d, test.ShouldNotResemble, d0)

	p2 := NewVector(-1, -2, 1)
	d2 := NewValueData(81)
	test.That(t, pc.Set(p2, d2), test.ShouldBeNil)
	d, got = pc.At(-1, -2, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d2)

	count := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 3)

	test.That(t, CloudContains(pc, 1, 1, 1), test.ShouldBeFalse)
	test.That(t, CloudContains(pc, 1, 0, 1), test.ShouldBeTrue)

	pBad := NewVector(minPreciseFloat64-1, 0, 0)
	err := pc.Set(pBad, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "x component")
}

func TestPointCloudCentroid(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{})

	test.That(t, pc.Set(NewVector(10, 100, 1000), NewValueData(1)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 10, Y: 100, Z: 1000})

	test.That(t, pc.Set(NewVector(20, 200, 2000), NewValueData(2)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 15, Y: 150, Z: 1500})
}

func TestMergeAndBoundingBox(t *testing.T) {
	a := New()
	test.That(t, a.Set(NewVector(0, 0, 0), nil), test.ShouldBeNil)
	test.That(t, a.Set(NewVector(1, 1, 1), nil), test.ShouldBeNil)
	b := New()
	test.That(t, b.Set(NewVector(30, 0, 0), nil), test.ShouldBeNil)

	merged, err := MergePointClouds([]PointCloud{a, b})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, merged.Size(), test.ShouldEqual, 3)

	min, max, ok := BoundingBoxFromPointCloud(merged)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, min, test.ShouldResemble, r3.Vector{})
	test.That(t, max, test.ShouldResemble, r3.Vector{X: 30, Y: 1, Z: 1})

	_, _, ok = BoundingBoxFromPointCloud(New())
	test.That(t, ok, test.ShouldBeFalse)
}
