// Package stitch orchestrates one stitch session end to end: load a prior
// map, ingest a stitch session, re-localize it into the prior frame,
// rigidly pre-align its trajectory, detect cross-session loops, replay
// every factor through the optimizer, and persist the merged result
// (spec §4.5 / §4.6, the pipeline's top level).
package stitch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-labs/map-stitch/config"
	"github.com/viam-labs/map-stitch/keyframe"
	"github.com/viam-labs/map-stitch/logging"
	"github.com/viam-labs/map-stitch/loopclosure"
	"github.com/viam-labs/map-stitch/pgo"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/relocalization"
	"github.com/viam-labs/map-stitch/spatialmath"
)

// RelocalizeTimeout bounds each stitch-keyframe re-localization attempt
// (spec §4.3's per-attempt timeout budget).
const RelocalizeTimeout = 5 * time.Second

// RunContext owns one stitch invocation's mutable state: the merged
// keyframe store and the factor replayer it feeds. Store mutation (during
// Run) and read access (via SubmapSnapshot, from a visualization poller)
// are serialized through mu, per the concurrency model of spec §5.
type RunContext struct {
	RunID  uuid.UUID
	Config *config.StitchConfig
	Logger *logging.Logger

	Store    *keyframe.Store
	Replayer *pgo.Replayer

	mu           sync.RWMutex
	priorFactors []pgo.Factor

	visualOnce sync.Once
	visualStop chan struct{}
}

// LoadPrior opens priorDir as the prior map and seeds the optimizer with
// its persisted factors, returning a RunContext ready to ingest a stitch
// session via Run.
func LoadPrior(priorDir string, cfg *config.StitchConfig, logger *logging.Logger) (*RunContext, error) {
	store, factors, err := keyframe.LoadPrior(priorDir)
	if err != nil {
		return nil, err
	}
	rc := &RunContext{
		RunID:        uuid.New(),
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Replayer:     pgo.NewReplayer(),
		priorFactors: factors,
	}
	for _, f := range factors {
		rc.Replayer.AddFactor(f)
	}
	return rc, nil
}

// Run ingests stitchDir as the stitch session and runs the full pipeline:
// re-localization, rigid pre-alignment, loop detection, optimizer replay,
// and persistence of the merged map to outDir.
func (rc *RunContext) Run(ctx context.Context, stitchDir, outDir string) error {
	rc.mu.Lock()
	stitchFactors, err := keyframe.LoadAndAppendStitch(rc.Store, stitchDir)
	rc.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "loading stitch session")
	}

	j0, err := rc.relocalizeAndPrealign()
	if err != nil {
		return err
	}
	if rc.Logger != nil {
		rc.Logger.Infow("re-localized stitch session", "j0", j0)
	}

	rc.mu.RLock()
	loopFactors, err := loopclosure.DetectAll(ctx, rc.Store, rc.stitchClocks(), rc.Config, rc.Logger, nil)
	rc.mu.RUnlock()
	if err != nil {
		return err
	}

	rc.mu.Lock()
	for _, f := range loopFactors {
		if f.Kind == pgo.Loop {
			rc.Store.NewLoops[f.FromID] = f.ToID
		}
	}
	for _, f := range stitchFactors {
		rc.Replayer.AddFactor(f)
	}
	for _, f := range loopFactors {
		rc.Replayer.AddFactor(f)
	}
	err = rc.replayAndWriteBack()
	rc.mu.Unlock()
	if err != nil {
		return err
	}

	rc.mu.RLock()
	allFactors := make([]pgo.Factor, 0, len(rc.priorFactors)+len(stitchFactors)+len(loopFactors))
	allFactors = append(allFactors, rc.priorFactors...)
	allFactors = append(allFactors, stitchFactors...)
	allFactors = append(allFactors, loopFactors...)
	store := rc.Store
	rc.mu.RUnlock()

	if err := keyframe.Save(outDir, store, allFactors); err != nil {
		return err
	}
	if rc.Config.SaveGlobalmapEn {
		return rc.saveGlobalMap(outDir)
	}
	return nil
}

// saveGlobalMap writes outDir/globalmap.pcd, every keyframe cloud merged
// into the prior frame and voxel-downsampled at the configured save
// resolution (spec §6's optional globalmap.pcd output).
func (rc *RunContext) saveGlobalMap(outDir string) error {
	rc.mu.RLock()
	store := rc.Store
	clouds := make([]pointcloud.PointCloud, 0, store.Len())
	for _, kf := range store.Keyframes {
		world, err := pointcloud.TransformToWorld(context.Background(), kf.Cloud, kf.Pose.Pose(), 1)
		if err != nil {
			rc.mu.RUnlock()
			return errors.Wrapf(err, "transforming keyframe %d into world frame for globalmap.pcd", kf.ID)
		}
		clouds = append(clouds, world)
	}
	resolution := rc.Config.SaveResolution
	rc.mu.RUnlock()

	merged, err := pointcloud.MergePointClouds(clouds)
	if err != nil {
		return errors.Wrap(err, "merging globalmap.pcd")
	}
	downsampled := pointcloud.VoxelDownsample(merged, resolution)

	f, err := os.Create(filepath.Join(outDir, "globalmap.pcd"))
	if err != nil {
		return errors.Wrap(err, "creating globalmap.pcd")
	}
	defer f.Close()
	return pointcloud.ToPCD(downsampled, f, pointcloud.PCDBinary)
}

// relocalizeAndPrealign retries re-localization over every stitch keyframe
// in order and, on the first success at global id j0, rewrites every
// stitch keyframe's pose by the single rigid transform
// P_reloc . P_ref^-1 . T_stitch[k] (spec §4.5), where P_ref is j0's own
// ingested pose. It returns j0.
func (rc *RunContext) relocalizeAndPrealign() (int, error) {
	rc.mu.RLock()
	store := rc.Store
	attempts := make([]relocalization.Attempt, 0, store.Ns())
	for _, id := range store.StitchIDs() {
		attempts = append(attempts, relocalization.Attempt{Index: id, Cloud: store.At(id).Cloud})
	}
	params := relocalization.Params{
		LoopKeyframeNumThld: rc.Config.LoopKeyframeNumThld,
		SCDistThres:         rc.Config.SCDistThres,
		FitnessThld:         rc.Config.LoopClosureFitnessScoreThld,
		ICPParams:           pointcloud.DefaultICPParams(rc.Config.LoopClosureSearchRadius),
	}
	reloc := relocalization.New(store, params, rc.Logger)
	rc.mu.RUnlock()

	pReloc, j0, err := reloc.TryAll(attempts, RelocalizeTimeout)
	if err != nil {
		return -1, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	pRef := store.At(j0).Pose.Pose()
	transform := spatialmath.Compose(pReloc, spatialmath.PoseInverse(pRef))

	for _, id := range store.StitchIDs() {
		kf := store.At(id)
		rewritten := spatialmath.Compose(transform, kf.Pose.Pose())
		store.SetPose(id, kf.Pose.WithPose(rewritten))
	}
	return j0, nil
}

// stitchClocks returns every stitch keyframe's session-relative timestamp,
// the "clock" loopclosure.DetectAll gates its time-windowed detectors on.
// Must be called with mu held (any lock).
func (rc *RunContext) stitchClocks() map[int]float64 {
	store := rc.Store
	clocks := make(map[int]float64, store.Ns())
	for _, id := range store.StitchIDs() {
		clocks[id] = store.At(id).Pose.Time
	}
	return clocks
}

// replayAndWriteBack feeds every keyframe's current pose through the
// optimizer in ascending id order and writes the smoothed result back into
// the store (spec §4.6). Must be called with mu held for writing.
func (rc *RunContext) replayAndWriteBack() error {
	store := rc.Store
	ordered := make([]int, store.Len())
	initial := make(map[int]pgo.Vector6, store.Len())
	for id := 0; id < store.Len(); id++ {
		ordered[id] = id
		initial[id] = pgo.FromPose(store.At(id).Pose.Pose())
	}
	if err := rc.Replayer.Replay(ordered, initial, store.Np); err != nil {
		return errors.Wrap(err, "optimizing merged pose graph")
	}
	for id, v := range rc.Replayer.Smoother.Values() {
		kf := store.At(id)
		store.SetPose(id, kf.Pose.WithPose(v.ToPose()))
	}
	return nil
}

// AddGNSSFix enqueues a Gps factor anchoring id's translation to an ECEF
// fix with the given per-axis sigma (SPEC_FULL §4.7's GNSS expansion); the
// factor's noise is the per-axis variance sigma². The factor is only
// applied on the next Run's optimizer replay.
func (rc *RunContext) AddGNSSFix(id int, ecef, sigma r3.Vector) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Replayer.AddFactor(pgo.NewGPSFactor(id, ecef, r3.Vector{X: sigma.X * sigma.X, Y: sigma.Y * sigma.Y, Z: sigma.Z * sigma.Z}))
}

// SubmapSnapshot returns a downsampled aggregate of every keyframe cloud
// within radius meters of the most recently added keyframe's pose: its
// poses are first voxel-downsampled at poseDensity to pick a sparse set of
// contributing keyframes, whose world-frame clouds are then merged and
// voxel-downsampled at leafSize (SPEC_FULL §4.7's visualization
// expansion). Safe to call concurrently with Run.
func (rc *RunContext) SubmapSnapshot(radius, poseDensity, leafSize float64) pointcloud.PointCloud {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	store := rc.Store
	if store.Len() == 0 {
		return pointcloud.New()
	}
	center := store.At(store.Len() - 1).Pose.Pose().Point()

	poseCloud := pointcloud.New()
	for _, kf := range store.Keyframes {
		pt := kf.Pose.Pose().Point()
		if pt.Sub(center).Norm() > radius {
			continue
		}
		_ = poseCloud.Set(pt, pointcloud.NewValueData(kf.ID))
	}
	if poseCloud.Size() == 0 {
		return pointcloud.New()
	}
	sparse := pointcloud.VoxelDownsample(poseCloud, poseDensity)

	var clouds []pointcloud.PointCloud
	sparse.Iterate(0, 0, func(_ r3.Vector, d pointcloud.Data) bool {
		kf := store.At(d.Value())
		world, err := pointcloud.TransformToWorld(context.Background(), kf.Cloud, kf.Pose.Pose(), 1)
		if err == nil {
			clouds = append(clouds, world)
		}
		return true
	})

	merged, err := pointcloud.MergePointClouds(clouds)
	if err != nil {
		return pointcloud.New()
	}
	return pointcloud.VoxelDownsample(merged, leafSize)
}

// StartVisualizationSampler launches, exactly once per RunContext, a
// background goroutine that calls SubmapSnapshot every interval and
// passes the result to onSnapshot, until Close is called (spec §5's
// concurrency model: one dedicated sampler goroutine per run, launched
// with the panic-capturing idiom so a sampler crash doesn't take down the
// stitching pipeline with it).
func (rc *RunContext) StartVisualizationSampler(interval time.Duration, radius, poseDensity, leafSize float64, onSnapshot func(pointcloud.PointCloud)) {
	rc.visualOnce.Do(func() {
		rc.visualStop = make(chan struct{})
		stop := rc.visualStop
		utils.PanicCapturingGo(func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					onSnapshot(rc.SubmapSnapshot(radius, poseDensity, leafSize))
				}
			}
		})
	})
}

// Close stops the visualization sampler, if one was started. Safe to call
// more than once or without a sampler ever having been started.
func (rc *RunContext) Close() {
	if rc.visualStop != nil {
		select {
		case <-rc.visualStop:
		default:
			close(rc.visualStop)
		}
	}
}
