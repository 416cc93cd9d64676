package pgo

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/map-stitch/spatialmath"
)

func identityFactorValue() spatialmath.Pose { return spatialmath.NewZeroPose() }

// TestReplayDefersStitchOptimizationUntilLoop mirrors the "multiple loops
// late" scenario: five prior keyframes (np=5) chained by Between factors,
// then five stitch keyframes (ids 5-9) chained the same way with no
// optimization until a Loop factor ties a stitch vertex back into the prior
// trajectory. The loop-bearing vertex gets six smoother updates; no
// updates happen on stitch vertices before it.
func TestReplayDefersStitchOptimizationUntilLoop(t *testing.T) {
	np := 5
	noise := Vector6{1, 1, 1, 1, 1, 1}

	r := NewReplayer()
	for i := 1; i < np; i++ {
		r.AddFactor(NewBetweenFactor(i-1, i, identityFactorValue(), noise))
	}
	for i := np + 1; i < np+5; i++ {
		r.AddFactor(NewBetweenFactor(i-1, i, identityFactorValue(), noise))
	}
	// Loop factor closes at stitch vertex np+2 back to prior vertex 1.
	r.AddFactor(NewLoopFactor(1, np+2, identityFactorValue(), noise))

	initial := map[int]Vector6{}
	for i := 0; i < np+5; i++ {
		initial[i] = Vector6{float64(i), 0, 0, 0, 0, 0}
	}

	orderedIDs := make([]int, 0, np+5)
	for i := 0; i < np+5; i++ {
		orderedIDs = append(orderedIDs, i)
	}

	updatesAtEachStitchVertex := map[int]int{}
	r.OnVertex = func(id int, updates int) {
		if id >= np {
			updatesAtEachStitchVertex[id] = updates
		}
	}
	test.That(t, r.Replay(orderedIDs, initial, np), test.ShouldBeNil)

	// Every prior-session vertex (id < np) always gets a batch update plus
	// one relinearization update, two update() calls per id.
	// No stitch vertex before the loop-bearing one (np+2) gets any update.
	test.That(t, updatesAtEachStitchVertex[np], test.ShouldEqual, 0)
	test.That(t, updatesAtEachStitchVertex[np+1], test.ShouldEqual, 0)
	test.That(t, updatesAtEachStitchVertex[np+2], test.ShouldEqual, 6)
	test.That(t, updatesAtEachStitchVertex[np+3], test.ShouldEqual, 2)
	test.That(t, updatesAtEachStitchVertex[np+4], test.ShouldEqual, 2)
}

func TestReplaySolvesPriorChainToInitialGuess(t *testing.T) {
	noise := Vector6{0.01, 0.01, 0.01, 0.01, 0.01, 0.01}
	r := NewReplayer()
	r.AddFactor(NewPriorFactor(0, spatialmath.NewZeroPose(), noise))
	r.AddFactor(NewBetweenFactor(0, 1, spatialmath.NewPoseFromPoint(r3.Vector{X: 1}), noise))

	initial := map[int]Vector6{
		0: {0, 0, 0, 0, 0, 0},
		1: {1, 0, 0, 0, 0, 0},
	}
	test.That(t, r.Replay([]int{0, 1}, initial, 2), test.ShouldBeNil)

	v1, ok := r.Smoother.Value(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v1[0], test.ShouldAlmostEqual, 1.0, 0.01)
}
