package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// PointAndData pairs a point with its payload, returned from every KDTree
// search so callers never have to re-query the backing cloud.
type PointAndData struct {
	P r3.Vector
	D Data
}

// kdPoint adapts r3.Vector to gonum's kdtree.Comparable.
type kdPoint struct {
	v r3.Vector
	d Data
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	switch d {
	case 0:
		return p.v.X - q.v.X
	case 1:
		return p.v.Y - q.v.Y
	default:
		return p.v.Z - q.v.Z
	}
}

func (p kdPoint) Dims() int { return 3 }

func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	return p.v.Sub(q.v).Norm2()
}

type kdPoints []kdPoint

func (ps kdPoints) Index(i int) kdtree.Comparable { return ps[i] }
func (ps kdPoints) Len() int                      { return len(ps) }

// Pivot sorts ps along dimension d and returns the index of its median,
// the simplest correct partition a median-split KD-tree needs.
func (ps kdPoints) Pivot(d kdtree.Dim) int {
	sort.Sort(byDim{ps, d})
	return ps.Len() / 2
}

func (ps kdPoints) Slice(start, end int) kdtree.Interface { return ps[start:end] }
func (ps kdPoints) Swap(i, j int)                         { ps[i], ps[j] = ps[j], ps[i] }

type byDim struct {
	ps kdPoints
	d  kdtree.Dim
}

func (b byDim) Len() int      { return b.ps.Len() }
func (b byDim) Swap(i, j int) { b.ps.Swap(i, j) }
func (b byDim) Less(i, j int) bool {
	return b.ps[i].Compare(b.ps[j], b.d) < 0
}

// KDTree is a PointCloud additionally indexed for nearest-neighbor queries.
// It is the structure used for the prior-map radius search (loop detector 1);
// the place-descriptor index keeps its own ring-key tree in scancontext.
type KDTree struct {
	PointCloud
	tree *kdtree.Tree
}

// NewKDTree builds a KDTree over pc's current contents. Later calls to Set
// go to the backing cloud only; the tree is not incrementally updated, the
// same fixed-snapshot contract the teacher's own KD-tree wrapper holds.
func NewKDTree(pc PointCloud) *KDTree {
	pts := make(kdPoints, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, kdPoint{v: p, d: d})
		return true
	})
	kd := &KDTree{PointCloud: pc}
	if len(pts) > 0 {
		kd.tree = kdtree.New(pts, false)
	}
	return kd
}

// ToKDTree is an alias of NewKDTree kept for parity with call sites that
// read better naming the conversion rather than the constructor.
func ToKDTree(pc PointCloud) *KDTree { return NewKDTree(pc) }

// NearestNeighbor returns the closest point to p, its data, the squared
// Euclidean distance, and whether the tree holds any points at all.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (r3.Vector, Data, float64, bool) {
	if kd.tree == nil {
		return r3.Vector{}, nil, 0, false
	}
	nearest, dist := kd.tree.Nearest(kdPoint{v: p})
	kp := nearest.(kdPoint)
	return kp.v, kp.d, dist, true
}

// KNearestNeighbors returns up to k closest points to p. If sorted, results
// are ordered nearest-first.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int, sorted bool) []*PointAndData {
	if kd.tree == nil {
		return []*PointAndData{}
	}
	keep := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keep, kdPoint{v: p})
	heap := keep.Heap
	if sorted {
		sort.Sort(sort.Reverse(&heap))
	}
	out := make([]*PointAndData, 0, len(heap))
	for _, c := range heap {
		kp := c.Comparable.(kdPoint)
		out = append(out, &PointAndData{P: kp.v, D: kp.d})
	}
	return out
}

// RadiusNearestNeighbors returns every point within radius of p. If sorted,
// results are ordered nearest-first.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, radius float64, sorted bool) []*PointAndData {
	if kd.tree == nil {
		return []*PointAndData{}
	}
	keep := kdtree.NewDistKeeper(math.Nextafter(radius*radius, math.Inf(1)))
	kd.tree.NearestSet(keep, kdPoint{v: p})
	heap := keep.Heap
	if sorted {
		sort.Sort(sort.Reverse(&heap))
	}
	out := make([]*PointAndData, 0, len(heap))
	for _, c := range heap {
		kp := c.Comparable.(kdPoint)
		out = append(out, &PointAndData{P: kp.v, D: kp.d})
	}
	return out
}

// OutlierFilter takes a queryable cloud and removes statistical outliers.
type OutlierFilter func(pc PointCloud) (PointCloud, error)

// StatisticalOutlierFilter returns a filter that discards any point whose
// mean distance to its meanK nearest neighbors is more than stdDevThresh
// standard deviations from the cloud-wide mean of that statistic.
func StatisticalOutlierFilter(meanK int, stdDevThresh float64) (OutlierFilter, error) {
	if meanK <= 0 {
		return nil, errors.Errorf("argument meanK must be a positive int, got %d", meanK)
	}
	if stdDevThresh <= 0 {
		return nil, errors.Errorf("argument stdDevThresh must be a positive float, got %.2f", stdDevThresh)
	}
	return func(pc PointCloud) (PointCloud, error) {
		kd, ok := interface{}(pc).(*KDTree)
		if !ok {
			kd = NewKDTree(pc)
		}
		pts := ToSlice(pc)
		means := make([]float64, len(pts))
		var sum, sumSq float64
		for i, p := range pts {
			neighbors := kd.KNearestNeighbors(p, meanK+1, false)
			var dsum float64
			for _, n := range neighbors {
				if n.P == p {
					continue
				}
				dsum += p.Sub(n.P).Norm()
			}
			mean := dsum / float64(meanK)
			means[i] = mean
			sum += mean
			sumSq += mean * mean
		}
		n := float64(len(pts))
		if n == 0 {
			return New(), nil
		}
		avg := sum / n
		variance := sumSq/n - avg*avg
		if variance < 0 {
			variance = 0
		}
		stddev := math.Sqrt(variance)
		thresh := avg + stdDevThresh*stddev
		out := New()
		for i, p := range pts {
			if means[i] <= thresh {
				d, _ := pc.At(p.X, p.Y, p.Z)
				if err := out.Set(p, d); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	}, nil
}
