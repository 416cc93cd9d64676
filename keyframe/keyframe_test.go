package keyframe

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/map-stitch/pgo"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/scancontext"
	"github.com/viam-labs/map-stitch/spatialmath"
)

func straightLineCloud(offset float64) pointcloud.PointCloud {
	pc := pointcloud.New()
	for i := 0; i < 20; i++ {
		_ = pc.Set(pointcloud.NewVector(float64(i)*0.1+offset, 0, 0), nil)
	}
	return pc
}

func syntheticSession(n int, xStart float64) *Store {
	store := NewStore()
	for i := 0; i < n; i++ {
		cloud := straightLineCloud(float64(i))
		store.Add(Keyframe{
			Pose:       Pose6D{X: xStart + float64(i), Time: float64(i)},
			Cloud:      cloud,
			Descriptor: scancontext.Build(cloud),
		})
	}
	return store
}

func TestTrajectoryRoundTrip(t *testing.T) {
	poses := []Pose6D{
		{X: 1, Y: 2, Z: 3, Roll: 0.1, Pitch: 0.2, Yaw: 0.3, Time: 1.5, ID: 0},
		{X: 4, Y: 5, Z: 6, Roll: 0.4, Pitch: 0.5, Yaw: 0.6, Time: 2.5, ID: 1},
	}
	var buf bytes.Buffer
	test.That(t, writeTrajectory(poses, &buf), test.ShouldBeNil)

	got, err := readTrajectory(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 2)
	test.That(t, got[1].X, test.ShouldAlmostEqual, 4.0, 1e-4)
	test.That(t, got[1].ID, test.ShouldEqual, 1)
}

func TestSaveLoadPriorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := syntheticSession(12, 0)
	store.SealPrior()

	noise := pgo.Vector6{1, 1, 1, 1, 1, 1}
	factors := []pgo.Factor{
		pgo.NewPriorFactor(0, spatialmath.NewZeroPose(), noise),
		pgo.NewBetweenFactor(0, 1, spatialmath.NewPoseFromPoint(r3.Vector{X: 1}), noise),
	}

	test.That(t, Save(dir, store, factors), test.ShouldBeNil)

	loaded, loadedFactors, err := LoadPrior(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Np, test.ShouldEqual, 12)
	test.That(t, loaded.Len(), test.ShouldEqual, 12)
	test.That(t, len(loadedFactors), test.ShouldEqual, 2)
	test.That(t, loaded.Keyframes[1].Pose.X, test.ShouldAlmostEqual, 1.0, 1e-4)
}

func TestLoadPriorTooFewPosesFails(t *testing.T) {
	dir := t.TempDir()
	store := syntheticSession(3, 0)
	store.SealPrior()
	test.That(t, Save(dir, store, nil), test.ShouldBeNil)

	_, _, err := LoadPrior(dir)
	test.That(t, err, test.ShouldEqual, ErrTrajectoryMissing)
}

func TestLoadPriorMissingDescriptorDirFails(t *testing.T) {
	dir := t.TempDir()
	store := syntheticSession(12, 0)
	store.SealPrior()
	test.That(t, Save(dir, store, nil), test.ShouldBeNil)
	test.That(t, os.RemoveAll(filepath.Join(dir, "scancontext")), test.ShouldBeNil)

	_, _, err := LoadPrior(dir)
	test.That(t, err, test.ShouldEqual, ErrDescriptorMissing)
}

func TestLoadAndAppendStitchRebasesIDs(t *testing.T) {
	priorDir := t.TempDir()
	stitchDir := t.TempDir()

	prior := syntheticSession(12, 0)
	prior.SealPrior()
	test.That(t, Save(priorDir, prior, nil), test.ShouldBeNil)

	stitch := syntheticSession(5, 100)
	noise := pgo.Vector6{1, 1, 1, 1, 1, 1}
	stitchFactors := []pgo.Factor{
		pgo.NewPriorFactor(0, spatialmath.NewZeroPose(), noise),    // dropped on stitch load
		pgo.NewBetweenFactor(0, 1, spatialmath.NewZeroPose(), noise), // local ids 0,1
		pgo.NewLoopFactor(2, 3, spatialmath.NewZeroPose(), noise),
	}
	test.That(t, Save(stitchDir, stitch, stitchFactors), test.ShouldBeNil)

	store, _, err := LoadPrior(priorDir)
	test.That(t, err, test.ShouldBeNil)

	factors, err := LoadAndAppendStitch(store, stitchDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.Ns(), test.ShouldEqual, 5)
	test.That(t, store.Len(), test.ShouldEqual, 17)

	// Prior factor must be dropped; only Between and Loop survive, rebased by +12.
	test.That(t, len(factors), test.ShouldEqual, 2)
	for _, f := range factors {
		test.That(t, f.Kind, test.ShouldNotEqual, pgo.Prior)
		test.That(t, f.FromID, test.ShouldBeGreaterThanOrEqualTo, 12)
	}
	test.That(t, store.StitchLoops[14], test.ShouldEqual, 15)
}

func TestSealPriorClosesIndexToStitchDescriptors(t *testing.T) {
	store := syntheticSession(12, 0)
	store.SealPrior()
	test.That(t, store.Index.Len(), test.ShouldEqual, 12)

	cloud := straightLineCloud(100)
	store.Add(Keyframe{
		Pose:       Pose6D{X: 100, Time: 100},
		Cloud:      cloud,
		Descriptor: scancontext.Build(cloud),
	})
	test.That(t, store.Len(), test.ShouldEqual, 13)
	// Adding a stitch keyframe after SealPrior must not grow Index.
	test.That(t, store.Index.Len(), test.ShouldEqual, 12)
}

func TestPoseLocalRenumbering(t *testing.T) {
	np := 10
	stitchPose := Pose6D{ID: 13}
	local := stitchPose.Local(np)
	test.That(t, local.LocalID, test.ShouldEqual, 3)

	priorPose := Pose6D{ID: 4}
	local = priorPose.Local(np)
	test.That(t, local.LocalID, test.ShouldEqual, 4)
}
