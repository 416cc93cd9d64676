// Package scancontext builds and queries the rotation-invariant polar
// descriptor ("scan-context style") the place-descriptor index uses for
// cross-session loop candidate lookup.
package scancontext

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/viam-labs/map-stitch/pointcloud"
)

// Default grid dimensions and radius, the standard scan-context parameters.
const (
	NumRing   = 20
	NumSector = 60
	MaxRadius = 80.0
	// NumExcludeRecent keeps the most recently added descriptors out of
	// candidate search, matching the place-descriptor index's "at least a
	// configurable number of keyframes away" gate.
	NumExcludeRecent = 30
	// NumCandidates bounds the ring-key nearest-neighbor fan-out per query.
	NumCandidates = 10
)

// Descriptor is one keyframe's polar ring x sector matrix plus its ring-key
// (row-mean vector), kept index-aligned with the owning keyframe id.
type Descriptor struct {
	Matrix  *mat.Dense
	RingKey []float64
}

// Build computes the polar descriptor of cloud around the origin of its own
// LiDAR frame.
func Build(cloud pointcloud.PointCloud) *Descriptor {
	grid := mat.NewDense(NumRing, NumSector, nil)
	maxZ := make([][]float64, NumRing)
	for i := range maxZ {
		maxZ[i] = make([]float64, NumSector)
		for j := range maxZ[i] {
			maxZ[i][j] = math.Inf(-1)
		}
	}

	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		radius := math.Hypot(p.X, p.Y)
		if radius > MaxRadius {
			return true
		}
		theta := xy2theta(p.X, p.Y)
		ringIdx := int(math.Min(radius/MaxRadius*NumRing, NumRing-1))
		sectorIdx := int(math.Min(theta/360.0*NumSector, NumSector-1))
		if p.Z > maxZ[ringIdx][sectorIdx] {
			maxZ[ringIdx][sectorIdx] = p.Z
			grid.Set(ringIdx, sectorIdx, p.Z+1)
		}
		return true
	})

	ringKey := make([]float64, NumRing)
	for i := 0; i < NumRing; i++ {
		row := mat.Row(nil, i, grid)
		var sum float64
		for _, v := range row {
			sum += v
		}
		ringKey[i] = sum / float64(NumSector)
	}

	return &Descriptor{Matrix: grid, RingKey: ringKey}
}

// xy2theta returns the angle of (x, y) in degrees, in [0, 360).
func xy2theta(x, y float64) float64 {
	theta := math.Atan2(y, x) * 180 / math.Pi
	if theta < 0 {
		theta += 360
	}
	return theta
}

// columnShiftDistance returns the minimum cosine distance between a and b
// over every cyclic column shift, and the shift (in sectors) that achieves
// it. Column shift corresponds to a yaw rotation of the descriptor's owning
// scan.
func columnShiftDistance(a, b *mat.Dense) (float64, int) {
	rows, cols := a.Dims()
	best := math.Inf(1)
	bestShift := 0
	for shift := 0; shift < cols; shift++ {
		var sumSim float64
		validCols := 0
		for c := 0; c < cols; c++ {
			shifted := (c + shift) % cols
			var dot, normA, normB float64
			for r := 0; r < rows; r++ {
				av := a.At(r, c)
				bv := b.At(r, shifted)
				dot += av * bv
				normA += av * av
				normB += bv * bv
			}
			if normA == 0 || normB == 0 {
				continue
			}
			sumSim += dot / (math.Sqrt(normA) * math.Sqrt(normB))
			validCols++
		}
		if validCols == 0 {
			continue
		}
		dist := 1 - sumSim/float64(validCols)
		if dist < best {
			best = dist
			bestShift = shift
		}
	}
	return best, bestShift
}

// shiftToYawOffsetRad converts a column shift into the radian yaw offset
// that, applied to the query's LiDAR frame, aligns it with the candidate.
func shiftToYawOffsetRad(shift int) float64 {
	return float64(shift) / NumSector * 2 * math.Pi
}

// kdRingKey adapts a ring-key vector to gonum's kdtree.Comparable.
type kdRingKey struct {
	id  int
	key []float64
}

func (k kdRingKey) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return k.key[d] - c.(kdRingKey).key[d]
}
func (k kdRingKey) Dims() int { return NumRing }
func (k kdRingKey) Distance(c kdtree.Comparable) float64 {
	o := c.(kdRingKey)
	var sum float64
	for i := range k.key {
		diff := k.key[i] - o.key[i]
		sum += diff * diff
	}
	return sum
}

type kdRingKeys []kdRingKey

func (ks kdRingKeys) Index(i int) kdtree.Comparable { return ks[i] }
func (ks kdRingKeys) Len() int                      { return len(ks) }
func (ks kdRingKeys) Pivot(d kdtree.Dim) int {
	sortByDim(ks, d)
	return ks.Len() / 2
}
func (ks kdRingKeys) Slice(start, end int) kdtree.Interface { return ks[start:end] }
func (ks kdRingKeys) Swap(i, j int)                         { ks[i], ks[j] = ks[j], ks[i] }

func sortByDim(ks kdRingKeys, d kdtree.Dim) {
	// insertion sort: NumRing-dimensional keys and small candidate pools
	// make an O(n^2) sort perfectly adequate and keeps this file dependency-free.
	for i := 1; i < len(ks); i++ {
		for j := i; j > 0 && ks[j].Compare(ks[j-1], d) < 0; j-- {
			ks.Swap(j, j-1)
		}
	}
}

// Index is the place-descriptor store: every keyframe's descriptor, indexed
// for ring-key nearest-candidate lookup.
type Index struct {
	descriptors []*Descriptor

	// NumExcludeRecent keeps the most recently added NumExcludeRecent
	// descriptors out of every DetectClosest search, the same gate as the
	// package-level NumExcludeRecent default. Exposed so a small prior
	// session (e.g. a test fixture) can lower it and still exercise the
	// descriptor detector's accept path.
	NumExcludeRecent int
}

// NewIndex returns an empty descriptor index with the default exclusion
// window.
func NewIndex() *Index {
	return &Index{NumExcludeRecent: NumExcludeRecent}
}

// Add appends d as the next keyframe's descriptor; keyframe ids are dense
// and match insertion order.
func (idx *Index) Add(d *Descriptor) {
	idx.descriptors = append(idx.descriptors, d)
}

// Len returns the number of descriptors held.
func (idx *Index) Len() int { return len(idx.descriptors) }

// At returns the descriptor for keyframe id.
func (idx *Index) At(id int) *Descriptor { return idx.descriptors[id] }

// Candidate is a nearest-descriptor match: the matched keyframe id, the
// column-shift distance, and the yaw offset to align the query onto it.
type Candidate struct {
	ID            int
	Distance      float64
	YawOffsetRad  float64
}

// DetectClosest implements the place-descriptor index's detect_closest
// operation (spec §4.2): it skips until at least loopKeyframeNumThld
// candidates are held and the query is at least NumExcludeRecent keyframes
// away from the most recent candidate, finds a small ring-key candidate
// set, refines by column-shift distance, and accepts iff the minimum
// distance is below distThreshold.
func (idx *Index) DetectClosest(query *Descriptor, loopKeyframeNumThld int, distThreshold float64) (*Candidate, bool) {
	n := idx.Len()
	if n < loopKeyframeNumThld {
		return nil, false
	}
	searchable := n - idx.NumExcludeRecent
	if searchable <= 0 {
		return nil, false
	}

	keys := make(kdRingKeys, searchable)
	for i := 0; i < searchable; i++ {
		keys[i] = kdRingKey{id: i, key: idx.descriptors[i].RingKey}
	}
	tree := kdtree.New(keys, false)

	keep := kdtree.NewNKeeper(NumCandidates)
	tree.NearestSet(keep, kdRingKey{key: query.RingKey})

	best := math.Inf(1)
	bestID := -1
	bestShift := 0
	for _, c := range keep.Heap {
		cand := c.Comparable.(kdRingKey)
		dist, shift := columnShiftDistance(idx.descriptors[cand.id].Matrix, query.Matrix)
		if dist < best {
			best = dist
			bestID = cand.id
			bestShift = shift
		}
	}
	if bestID < 0 || best >= distThreshold {
		return nil, false
	}
	return &Candidate{ID: bestID, Distance: best, YawOffsetRad: shiftToYawOffsetRad(bestShift)}, true
}
