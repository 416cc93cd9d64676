// Package relocalization implements the re-localizer: given a query
// keyframe cloud, it recovers a 6-DoF pose in the prior map's frame using
// the place-descriptor index plus cloud-to-map ICP/GICP refinement.
package relocalization

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-labs/map-stitch/keyframe"
	"github.com/viam-labs/map-stitch/logging"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/scancontext"
	"github.com/viam-labs/map-stitch/spatialmath"
)

// Failure modes, returned wrapped from Run.
var (
	ErrNoCandidate     = errors.New("relocalization: no descriptor candidate above threshold")
	ErrDidNotConverge  = errors.New("relocalization: refinement did not converge")
	ErrFitnessExceeded = errors.New("relocalization: refinement fitness exceeded threshold")
	ErrTimeout         = errors.New("relocalization: exceeded timeout budget")

	// ErrAllAttemptsFailed is TryAll's terminal error: every stitch keyframe
	// offered was tried and none re-localized (spec §7's RelocalizeError).
	ErrAllAttemptsFailed = errors.New("relocalization: all stitch keyframe attempts failed")
)

// Attempt is one candidate stitch keyframe to try re-localizing, in the
// order TryAll should attempt them.
type Attempt struct {
	Index int
	Cloud pointcloud.PointCloud
	Guess spatialmath.Pose
}

// TryAll retries Run over attempts in order and returns the first success,
// along with the index of the attempt that succeeded — mirroring the
// source's "for first_index := 0; first_index < n; first_index++ { if
// run(...) break }" retry loop (spec §4.3's "caller retries ... the first
// success determines a single rigid transform"). Per-attempt failures are
// accumulated via multierr and logged once, not returned individually;
// ErrAllAttemptsFailed is returned only if every attempt failed.
func (r *Relocalizer) TryAll(attempts []Attempt, timeoutPerAttempt time.Duration) (spatialmath.Pose, int, error) {
	var combined error
	for _, a := range attempts {
		pose, err := r.Run(a.Cloud, a.Guess, timeoutPerAttempt)
		if err == nil {
			return pose, a.Index, nil
		}
		combined = multierr.Append(combined, errors.Wrapf(err, "attempt at stitch keyframe %d", a.Index))
	}
	if r.Logger != nil && combined != nil {
		r.Logger.Warnw("every relocalization attempt failed", "err", combined)
	}
	return nil, -1, ErrAllAttemptsFailed
}

// Params configures a Relocalizer's descriptor gate and refinement
// acceptance thresholds (spec §4.2 / §4.3).
type Params struct {
	LoopKeyframeNumThld int
	SCDistThres         float64
	FitnessThld         float64
	ICPParams           pointcloud.ICPParams
}

// Relocalizer recovers a query cloud's pose in the prior map's frame,
// against a fixed prior keyframe store and descriptor index.
type Relocalizer struct {
	Store  *keyframe.Store
	Params Params
	Logger *logging.Logger
}

// New returns a Relocalizer over store's prior-session keyframes and
// descriptor index.
func New(store *keyframe.Store, params Params, logger *logging.Logger) *Relocalizer {
	return &Relocalizer{Store: store, Params: params, Logger: logger}
}

// Run attempts to re-localize queryCloud within timeout, optionally seeded
// by guess (an externally supplied initial pose estimate; pass nil for
// none). It returns the recovered pose in the prior map's frame on success.
//
// Procedure (spec §4.3): descriptor-based coarse match against the prior
// descriptor index, optional guess seeding, then cloud-to-prior-map
// ICP/GICP refinement. The caller is expected to retry Run against the
// next stitch keyframe in order on failure; TryAll is that loop.
func (r *Relocalizer) Run(queryCloud pointcloud.PointCloud, guess spatialmath.Pose, timeout time.Duration) (spatialmath.Pose, error) {
	deadline := time.Now().Add(timeout)

	query := scancontext.Build(queryCloud)
	candidate, ok := r.Store.Index.DetectClosest(query, r.Params.LoopKeyframeNumThld, r.Params.SCDistThres)
	if !ok {
		return nil, ErrNoCandidate
	}
	if time.Now().After(deadline) {
		return nil, ErrTimeout
	}

	candidatePose := r.Store.At(candidate.ID).Pose.Pose()
	seed := candidatePose
	if guess != nil {
		seed = guess
	}

	clouds, err := r.submapAround(candidate.ID)
	if err != nil {
		return nil, errors.Wrap(err, "building relocalization target submap")
	}
	targetCloud, err := pointcloud.MergePointClouds(clouds)
	if err != nil {
		return nil, errors.Wrap(err, "building relocalization target submap")
	}
	targetKD := pointcloud.NewKDTree(targetCloud)

	if time.Now().After(deadline) {
		return nil, ErrTimeout
	}

	_, info, err := pointcloud.RegisterPointCloudGICP(queryCloud, targetKD, seed, true, r.Params.ICPParams)
	if err != nil {
		return nil, errors.Wrap(ErrDidNotConverge, err.Error())
	}
	if info.OptResult.F > r.Params.FitnessThld {
		return nil, ErrFitnessExceeded
	}
	if time.Now().After(deadline) {
		return nil, ErrTimeout
	}
	return info.Pose, nil
}

// submapAround returns every prior keyframe cloud within one keyframe of
// candidateID, each transformed into the prior map's frame by its own pose.
// The window is narrower than the loop aligner's 2*keyframe_search_num+1
// keyframe submap.
func (r *Relocalizer) submapAround(candidateID int) ([]pointcloud.PointCloud, error) {
	lo := candidateID - 1
	hi := candidateID + 1
	if lo < 0 {
		lo = 0
	}
	if hi >= r.Store.Np {
		hi = r.Store.Np - 1
	}
	clouds := make([]pointcloud.PointCloud, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		kf := r.Store.At(id)
		world, err := pointcloud.TransformToWorld(context.Background(), kf.Cloud, kf.Pose.Pose(), 1)
		if err != nil {
			return nil, err
		}
		clouds = append(clouds, world)
	}
	return clouds, nil
}
