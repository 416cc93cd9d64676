package pointcloud

import (
	"context"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"

	"github.com/viam-labs/map-stitch/spatialmath"
)

// TransformToWorld applies pose to every point of local, splitting the work
// across numWorkers goroutines. This is the data-parallel transform a
// submap aggregation step runs once per contributing keyframe.
func TransformToWorld(ctx context.Context, local PointCloud, pose spatialmath.Pose, numWorkers int) (PointCloud, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	n := local.Size()
	if n == 0 {
		return New(), nil
	}

	results := make([][]r3.Vector, numWorkers)
	datas := make([][]Data, numWorkers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error {
			var pts []r3.Vector
			var ds []Data
			local.Iterate(numWorkers, w, func(p r3.Vector, d Data) bool {
				select {
				case <-ctx.Done():
					return false
				default:
				}
				world := spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(p)).Point()
				pts = append(pts, world)
				ds = append(ds, d)
				return true
			})
			results[w] = pts
			datas[w] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := NewWithPrealloc(n)
	for w := range results {
		for i, p := range results[w] {
			if err := out.Set(p, datas[w][i]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
