package keyframe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/viam-labs/map-stitch/pgo"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/scancontext"
	"github.com/viam-labs/map-stitch/spatialmath"
)

const minPriorPoses = 10

func keyframePath(dir string, id int) string {
	return filepath.Join(dir, "keyframe", fmt.Sprintf("%06d.pcd", id))
}

func scdPath(dir string, id int) string {
	return filepath.Join(dir, "scancontext", fmt.Sprintf("%06d.scd", id))
}

// LoadPrior reads a session directory as the prior map (spec §4.1):
// trajectory.pcd, per-keyframe clouds, per-keyframe descriptors, and
// factor_graph.fg with ids unchanged. Np is sealed at the loaded pose
// count.
func LoadPrior(dir string) (*Store, []pgo.Factor, error) {
	poses, err := loadTrajectory(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(poses) < minPriorPoses {
		return nil, nil, ErrTrajectoryMissing
	}

	scdEntries, err := os.ReadDir(filepath.Join(dir, "scancontext"))
	if err != nil {
		return nil, nil, ErrDescriptorMissing
	}
	if len(scdEntries) != len(poses) {
		return nil, nil, ErrMismatch
	}

	store := NewStore()
	for i, p := range poses {
		cloud, err := loadKeyframeCloud(dir, i)
		if err != nil {
			return nil, nil, err
		}
		desc, err := loadDescriptor(dir, i)
		if err != nil {
			return nil, nil, err
		}
		store.Add(Keyframe{Pose: p, Cloud: cloud, Descriptor: desc})
	}
	store.SealPrior()

	factors, priorLoops, err := loadFactorGraph(dir, 0)
	if err != nil {
		return nil, nil, err
	}
	store.PriorLoops = priorLoops
	return store, factors, nil
}

// LoadAndAppendStitch reads dir as the stitch session and appends its
// keyframes to store, rebasing every persisted vertex/edge id by +store.Np
// (spec §4.1 "Id-offset semantics on append"). Prior factors from the
// stitch session's own factor graph are dropped; Loop factors are recorded
// into store.StitchLoops.
func LoadAndAppendStitch(store *Store, dir string) ([]pgo.Factor, error) {
	poses, err := loadTrajectory(dir)
	if err != nil {
		return nil, err
	}

	np := store.Np
	for i, p := range poses {
		cloud, err := loadKeyframeCloud(dir, i)
		if err != nil {
			return nil, err
		}
		desc, err := loadDescriptor(dir, i)
		if err != nil {
			return nil, err
		}
		p.ID = np + i
		store.Add(Keyframe{Pose: p, Cloud: cloud, Descriptor: desc})
	}

	factors, stitchLoops, err := loadFactorGraph(dir, np)
	if err != nil {
		return nil, err
	}
	store.StitchLoops = stitchLoops
	return factors, nil
}

func loadTrajectory(dir string) ([]Pose6D, error) {
	f, err := os.Open(filepath.Join(dir, "trajectory.pcd"))
	if err != nil {
		return nil, errors.Wrap(err, "opening trajectory.pcd")
	}
	defer f.Close()
	return readTrajectory(f)
}

func loadKeyframeCloud(dir string, localID int) (pointcloud.PointCloud, error) {
	f, err := os.Open(keyframePath(dir, localID))
	if err != nil {
		return nil, errors.Wrapf(err, "opening keyframe %d", localID)
	}
	defer f.Close()
	return pointcloud.ReadPCD(f)
}

func loadDescriptor(dir string, localID int) (*scancontext.Descriptor, error) {
	f, err := os.Open(scdPath(dir, localID))
	if err != nil {
		return nil, errors.Wrapf(err, "opening descriptor %d", localID)
	}
	defer f.Close()
	return scancontext.LoadSCD(f)
}

// loadFactorGraph loads factor_graph.fg, rebasing every id by +offset. When
// offset is 0 (loading the prior session), every factor including Prior is
// kept and Loop factors are recorded by from-id into the prior-internal
// map. When offset > 0 (loading a stitch session), Prior factors are
// dropped and Loop factors are recorded into the stitch-internal map —
// this mirrors the source's load_factor_graph(path, index_offset) exactly.
func loadFactorGraph(dir string, offset int) ([]pgo.Factor, map[int]int, error) {
	f, err := os.Open(filepath.Join(dir, "factor_graph.fg"))
	if os.IsNotExist(err) {
		return nil, map[int]int{}, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening factor_graph.fg")
	}
	defer f.Close()

	g, err := pgo.ReadFG(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing factor_graph.fg")
	}

	loops := map[int]int{}
	var out []pgo.Factor
	for _, e := range g.Edges {
		e.FromID += offset
		e.ToID += offset
		if e.Kind == pgo.Prior && offset > 0 {
			continue
		}
		if e.Kind == pgo.Loop {
			loops[e.FromID] = e.ToID
		}
		out = append(out, e)
	}
	return out, loops, nil
}

// Save persists store and factors under dir, per the on-disk layout of
// spec §6. The files are written one after another directly under dir; a
// failure part-way returns the error and leaves the files already written
// in place.
func Save(dir string, store *Store, factors []pgo.Factor) error {
	if err := os.MkdirAll(filepath.Join(dir, "keyframe"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "scancontext"), 0o755); err != nil {
		return err
	}

	poses := make([]Pose6D, len(store.Keyframes))
	for i, k := range store.Keyframes {
		poses[i] = k.Pose
	}
	if err := saveTrajectory(dir, poses); err != nil {
		return err
	}

	for i, k := range store.Keyframes {
		if err := saveKeyframeCloud(dir, i, k.Cloud); err != nil {
			return err
		}
		if err := saveDescriptor(dir, i, k.Descriptor); err != nil {
			return err
		}
	}

	return saveFactorGraph(dir, store, factors)
}

func saveTrajectory(dir string, poses []Pose6D) error {
	f, err := os.Create(filepath.Join(dir, "trajectory.pcd"))
	if err != nil {
		return errors.Wrap(err, "creating trajectory.pcd")
	}
	defer f.Close()
	return writeTrajectory(poses, f)
}

func saveKeyframeCloud(dir string, id int, cloud pointcloud.PointCloud) error {
	f, err := os.Create(keyframePath(dir, id))
	if err != nil {
		return errors.Wrapf(err, "creating keyframe %d", id)
	}
	defer f.Close()
	return pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary)
}

func saveDescriptor(dir string, id int, desc *scancontext.Descriptor) error {
	f, err := os.Create(scdPath(dir, id))
	if err != nil {
		return errors.Wrapf(err, "creating descriptor %d", id)
	}
	defer f.Close()
	return scancontext.SaveSCD(desc, f)
}

func saveFactorGraph(dir string, store *Store, factors []pgo.Factor) error {
	vertices := make(map[int]spatialmath.Pose, len(store.Keyframes))
	for _, k := range store.Keyframes {
		vertices[k.ID] = k.Pose.Pose()
	}
	graph := &pgo.Graph{Vertices: vertices, Edges: factors}

	f, err := os.Create(filepath.Join(dir, "factor_graph.fg"))
	if err != nil {
		return errors.Wrap(err, "creating factor_graph.fg")
	}
	defer f.Close()
	return pgo.WriteFG(graph, f)
}
