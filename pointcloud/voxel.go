package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// VoxelDownsample reduces pc to at most one representative point per
// leafSize cube, the simplified stand-in this module uses in place of the
// full octree-based downsampling primitive the original pipeline calls out
// to (see design notes for why). Cell ownership is first-write-wins, so the
// result is deterministic for a given iteration order.
func VoxelDownsample(pc PointCloud, leafSize float64) PointCloud {
	if leafSize <= 0 {
		return pc
	}
	type cellKey struct{ i, j, k int64 }
	seen := map[cellKey]bool{}
	out := New()
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		key := cellKey{
			i: int64(math.Floor(p.X / leafSize)),
			j: int64(math.Floor(p.Y / leafSize)),
			k: int64(math.Floor(p.Z / leafSize)),
		}
		if seen[key] {
			return true
		}
		seen[key] = true
		_ = out.Set(p, d)
		return true
	})
	return out
}
