package stitch

import (
	"context"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/map-stitch/config"
	"github.com/viam-labs/map-stitch/keyframe"
	"github.com/viam-labs/map-stitch/logging"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/relocalization"
	"github.com/viam-labs/map-stitch/scancontext"
)

// planeCloud builds a dense ground patch offset along x, dense enough to
// clear every minimum-point-count gate in the pipeline (relocalization's
// submap target, loopclosure's aligner submap and source).
func planeCloud(xOffset float64) pointcloud.PointCloud {
	pc := pointcloud.New()
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			x := xOffset + float64(i)*0.05
			y := float64(j) * 0.05
			_ = pc.Set(pointcloud.NewVector(x, y, 0), nil)
		}
	}
	return pc
}

// writeSession persists n keyframes spaced 2m apart along x as a bare
// session directory (no factor graph), suitable as either a prior map or
// a stitch session fixture.
func writeSession(t *testing.T, dir string, n int, sealPrior bool) {
	t.Helper()
	store := keyframe.NewStore()
	for i := 0; i < n; i++ {
		cloud := planeCloud(float64(i) * 2)
		store.Add(keyframe.Keyframe{
			Pose:       keyframe.Pose6D{X: float64(i) * 2, Time: float64(i)},
			Cloud:      cloud,
			Descriptor: scancontext.Build(cloud),
		})
	}
	if sealPrior {
		store.SealPrior()
	}
	test.That(t, keyframe.Save(dir, store, nil), test.ShouldBeNil)
}

func testConfig() *config.StitchConfig {
	cfg := config.Defaults()
	cfg.LoopKeyframeNumThld = 1
	cfg.SCDistThres = 1.0
	cfg.LoopClosureFitnessScoreThld = 10.0
	cfg.KeyframeSearchNum = 2
	cfg.ICPDownsampSize = 0.05
	cfg.Validate(logging.NewTestLogger())
	return &cfg
}

func TestRunTrivialIdentityStitchConverges(t *testing.T) {
	root := t.TempDir()
	priorDir := filepath.Join(root, "prior")
	stitchDir := filepath.Join(root, "stitch")
	outDir := filepath.Join(root, "out")

	writeSession(t, priorDir, 10, true)
	writeSession(t, stitchDir, 10, false)

	rc, err := LoadPrior(priorDir, testConfig(), logging.NewTestLogger())
	test.That(t, err, test.ShouldBeNil)
	// The fixture's prior session is far smaller than the descriptor
	// index's default exclusion window; lower it so relocalization's
	// descriptor match can actually fire against these ten keyframes.
	rc.Store.Index.NumExcludeRecent = 0

	err = rc.Run(context.Background(), stitchDir, outDir)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, rc.Store.Len(), test.ShouldEqual, 20)
	for k := 0; k < 10; k++ {
		stitchPose := rc.Store.At(10 + k).Pose.Pose().Point()
		priorPose := rc.Store.At(k).Pose.Pose().Point()
		test.That(t, stitchPose.X, test.ShouldAlmostEqual, priorPose.X, 0.2)
		test.That(t, stitchPose.Y, test.ShouldAlmostEqual, priorPose.Y, 0.2)
	}

	reloaded, _, err := keyframe.LoadPrior(outDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reloaded.Len(), test.ShouldEqual, 20)
}

func TestRunNoLoopDegenerateFailsAtRelocalization(t *testing.T) {
	root := t.TempDir()
	priorDir := filepath.Join(root, "prior")
	stitchDir := filepath.Join(root, "stitch-far")
	outDir := filepath.Join(root, "out")

	writeSession(t, priorDir, 10, true)

	store := keyframe.NewStore()
	for i := 0; i < 5; i++ {
		cloud := planeCloud(1000 + float64(i)*2)
		store.Add(keyframe.Keyframe{
			Pose:       keyframe.Pose6D{X: 1000 + float64(i)*2, Time: float64(i)},
			Cloud:      cloud,
			Descriptor: scancontext.Build(cloud),
		})
	}
	test.That(t, keyframe.Save(stitchDir, store, nil), test.ShouldBeNil)

	cfg := testConfig()
	cfg.LoopKeyframeNumThld = 1000 // never enough candidates, forces ErrNoCandidate
	rc, err := LoadPrior(priorDir, cfg, logging.NewTestLogger())
	test.That(t, err, test.ShouldBeNil)

	err = rc.Run(context.Background(), stitchDir, outDir)
	test.That(t, err, test.ShouldEqual, relocalization.ErrAllAttemptsFailed)
}

func TestSubmapSnapshotAggregatesNearbyKeyframes(t *testing.T) {
	root := t.TempDir()
	priorDir := filepath.Join(root, "prior")
	writeSession(t, priorDir, 10, true)

	rc, err := LoadPrior(priorDir, testConfig(), logging.NewTestLogger())
	test.That(t, err, test.ShouldBeNil)

	snapshot := rc.SubmapSnapshot(5, 1, 0.1)
	test.That(t, snapshot.Size(), test.ShouldBeGreaterThan, 0)
}

func TestAddGNSSFixEnqueuesFactor(t *testing.T) {
	root := t.TempDir()
	priorDir := filepath.Join(root, "prior")
	writeSession(t, priorDir, 10, true)

	rc, err := LoadPrior(priorDir, testConfig(), logging.NewTestLogger())
	test.That(t, err, test.ShouldBeNil)

	before := rc.Replayer.Queue.Len()
	rc.AddGNSSFix(0, pointcloud.NewVector(1, 2, 3), pointcloud.NewVector(0.1, 0.1, 0.1))
	test.That(t, rc.Replayer.Queue.Len(), test.ShouldEqual, before+1)
}
