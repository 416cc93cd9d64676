package pgo

import (
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/map-stitch/spatialmath"
)

func TestFactorOrdering(t *testing.T) {
	identity := spatialmath.NewZeroPose()
	noise := Vector6{1, 1, 1, 1, 1, 1}

	a := NewPriorFactor(3, identity, noise)
	b := NewBetweenFactor(1, 5, identity, noise)
	c := NewBetweenFactor(5, 6, identity, noise)
	d := NewLoopFactor(2, 5, identity, noise)

	test.That(t, Less(a, b), test.ShouldBeTrue)  // max 3 < max 5
	test.That(t, Less(b, d), test.ShouldBeTrue)  // same max 5, min 1 < min 2
	test.That(t, Less(d, c), test.ShouldBeTrue)  // max 5 < max 6
	test.That(t, Less(b, c), test.ShouldBeTrue)
}

func TestQueueOrdersByEligibility(t *testing.T) {
	q := NewQueue()
	identity := spatialmath.NewZeroPose()
	noise := Vector6{1, 1, 1, 1, 1, 1}

	q.Push(NewBetweenFactor(5, 6, identity, noise))
	q.Push(NewPriorFactor(1, identity, noise))
	q.Push(NewBetweenFactor(1, 2, identity, noise))

	first, ok := q.Pop()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first.FromID, test.ShouldEqual, 1)
	test.That(t, first.ToID, test.ShouldEqual, 1)

	second, ok := q.Pop()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, second.ToID, test.ShouldEqual, 2)

	third, ok := q.Pop()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, third.ToID, test.ShouldEqual, 6)

	_, ok = q.Pop()
	test.That(t, ok, test.ShouldBeFalse)
}
