package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makePointCloud(t *testing.T) PointCloud {
	t.Helper()
	cloud := New()
	for _, p := range []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: 2, Z: 2},
		{X: 3, Y: 3, Z: 3},
		{X: -1.1, Y: -1.1, Z: -1.1},
		{X: -2.2, Y: -2.2, Z: -2.2},
		{X: -3.2, Y: -3.2, Z: -3.2},
		{X: 2000, Y: 2000, Z: 2000},
	} {
		test.That(t, cloud.Set(p, nil), test.ShouldBeNil)
	}
	return cloud
}

func TestNearestNeighbor(t *testing.T) {
	cloud := makePointCloud(t)
	kd := NewKDTree(cloud)

	nn, _, dist, ok := kd.NearestNeighbor(r3.Vector{X: 3, Y: 3, Z: 3})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nn, test.ShouldResemble, r3.Vector{X: 3, Y: 3, Z: 3})
	test.That(t, dist, test.ShouldEqual, 0)

	nn, _, dist, ok = kd.NearestNeighbor(r3.Vector{X: 0.5, Y: 0, Z: 0})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nn, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, dist, test.ShouldEqual, 0.25)
}

func TestKNearestNeighbors(t *testing.T) {
	cloud := makePointCloud(t)
	kd := NewKDTree(cloud)

	nns := kd.KNearestNeighbors(r3.Vector{}, 3, true)
	test.That(t, nns, test.ShouldHaveLength, 3)
	test.That(t, nns[0].P, test.ShouldResemble, r3.Vector{})

	nns = kd.KNearestNeighbors(r3.Vector{}, 100, true)
	test.That(t, nns, test.ShouldHaveLength, 8)
}

func TestRadiusNearestNeighbors(t *testing.T) {
	cloud := makePointCloud(t)
	kd := NewKDTree(cloud)

	nns := kd.RadiusNearestNeighbors(r3.Vector{}, math.Sqrt(3), true)
	test.That(t, nns, test.ShouldHaveLength, 2)

	nns = kd.RadiusNearestNeighbors(r3.Vector{X: 5, Y: 5, Z: 5}, math.Sqrt(3), true)
	test.That(t, nns, test.ShouldHaveLength, 0)
}

func TestEmptyKDTree(t *testing.T) {
	pc := New()
	kd := NewKDTree(pc)
	_, _, d, ok := kd.NearestNeighbor(r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, d, test.ShouldEqual, 0.)
	test.That(t, kd.KNearestNeighbors(r3.Vector{}, 5, false), test.ShouldResemble, []*PointAndData{})
	test.That(t, kd.RadiusNearestNeighbors(r3.Vector{}, 3.2, false), test.ShouldResemble, []*PointAndData{})
}

func TestStatisticalOutlierFilter(t *testing.T) {
	_, err := StatisticalOutlierFilter(-1, 2.0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = StatisticalOutlierFilter(4, 0.0)
	test.That(t, err, test.ShouldNotBeNil)

	filter, err := StatisticalOutlierFilter(3, 1.5)
	test.That(t, err, test.ShouldBeNil)

	cloud := makePointCloud(t)
	filtered, err := filter(cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CloudContains(filtered, 0, 0, 0), test.ShouldBeTrue)
	test.That(t, CloudContains(filtered, 2000, 2000, 2000), test.ShouldBeFalse)
}
