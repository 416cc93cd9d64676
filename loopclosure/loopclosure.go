// Package loopclosure implements the loop detector and aligner: for each
// stitch keyframe it proposes prior-keyframe matches via two independent
// detectors, validates each with GICP against a locally aggregated submap,
// and emits between-pose loop constraints with fitness-derived noise.
package loopclosure

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-labs/map-stitch/config"
	"github.com/viam-labs/map-stitch/keyframe"
	"github.com/viam-labs/map-stitch/logging"
	"github.com/viam-labs/map-stitch/pgo"
	"github.com/viam-labs/map-stitch/pointcloud"
	"github.com/viam-labs/map-stitch/scancontext"
	"github.com/viam-labs/map-stitch/spatialmath"
)

// ErrNoLoopsFound is returned once every stitch keyframe has been tried and
// not a single loop constraint was accepted (spec §7's LoopError::NoLoopsFound).
var ErrNoLoopsFound = errors.New("loopclosure: all keyframe loop detection attempts failed")

const (
	minTargetPoints = 1000
	minSourcePoints = 300
)

// Detector is a source tag a loop candidate was proposed by, used for the
// time-window gate (spec §4.4's "configurable map period_name -> windows").
type Detector string

const (
	DetectorRadius     Detector = "odom"
	DetectorDescriptor Detector = "scancontext"
)

// Detect runs both detectors for one stitch keyframe (global id i = Np+k)
// against the prior session held in store, returning every accepted loop
// factor (zero, one, or two — one per detector that fired and aligned).
func Detect(
	ctx context.Context,
	store *keyframe.Store,
	i int,
	stitchPose spatialmath.Pose,
	stitchCloud pointcloud.PointCloud,
	clock float64,
	cfg *config.StitchConfig,
	logger *logging.Logger,
	noiseStrategy NoiseStrategy,
) []pgo.Factor {
	if noiseStrategy == nil {
		noiseStrategy = DefaultNoiseStrategy
	}
	var factors []pgo.Factor

	if windowOpen(cfg, DetectorRadius, clock) {
		if candID, ok := radiusCandidate(store, stitchPose, cfg.LoopClosureSearchRadius); ok {
			if f, ok := align(ctx, store, i, candID, stitchPose, stitchCloud, nil, cfg, logger, noiseStrategy); ok {
				factors = append(factors, f)
			}
		}
	}

	if windowOpen(cfg, DetectorDescriptor, clock) {
		query := scancontext.Build(stitchCloud)
		if cand, ok := store.Index.DetectClosest(query, cfg.LoopKeyframeNumThld, cfg.SCDistThres); ok {
			guess := descriptorGuess(store, cand)
			if f, ok := align(ctx, store, i, cand.ID, stitchPose, stitchCloud, guess, cfg, logger, noiseStrategy); ok {
				factors = append(factors, f)
			}
		}
	}

	return factors
}

// DetectAll runs Detect across every stitch keyframe in order, returning
// the accumulated loop factors. It returns ErrNoLoopsFound iff nothing was
// accepted across the whole run — the terminal condition the caller aborts
// on (spec §7, scenario 5's "no-loop degenerate").
func DetectAll(
	ctx context.Context,
	store *keyframe.Store,
	stitchTimes map[int]float64,
	cfg *config.StitchConfig,
	logger *logging.Logger,
	noiseStrategy NoiseStrategy,
) ([]pgo.Factor, error) {
	var all []pgo.Factor
	for _, i := range store.StitchIDs() {
		kf := store.At(i)
		all = append(all, Detect(ctx, store, i, kf.Pose.Pose(), kf.Cloud, stitchTimes[i], cfg, logger, noiseStrategy)...)
	}
	if len(all) == 0 {
		return nil, ErrNoLoopsFound
	}
	warnConstraintSet(logger, all)
	return all, nil
}

// windowOpen reports whether source is gated on for clock seconds into the
// stitch session, per cfg's resolved periods (spec §4.4's time-window gate;
// an empty or malformed period list means always-on).
func windowOpen(cfg *config.StitchConfig, source Detector, clock float64) bool {
	windows := cfg.PeriodsFor(string(source))
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if clock >= w.Start && clock < w.End {
			return true
		}
	}
	return false
}

// radiusCandidate returns the nearest prior keyframe id within radius of
// stitchPose, or false if none is within range (spec §4.4 detector 1).
func radiusCandidate(store *keyframe.Store, stitchPose spatialmath.Pose, radius float64) (int, bool) {
	priorCloud := pointcloud.New()
	for _, id := range store.PriorIDs() {
		pt := store.At(id).Pose.Pose().Point()
		_ = priorCloud.Set(pt, pointcloud.NewValueData(id))
	}
	if priorCloud.Size() == 0 {
		return 0, false
	}
	kd := pointcloud.NewKDTree(priorCloud)
	_, data, dist, ok := kd.NearestNeighbor(stitchPose.Point())
	if !ok || dist > radius*radius {
		return 0, false
	}
	return data.Value(), true
}

// descriptorGuess builds the initial alignment guess for detector 2: the
// candidate's prior-frame pose, yaw-rotated by the descriptor match's
// column-shift offset (spec §4.4 detector 2's "T_prior_pose(candidate) .
// Rz(yaw_offset)"). This is already a world-frame pose hypothesis for the
// stitch cloud, the same shape RegisterPointCloudGICP's guess parameter
// composes directly onto the raw source points.
func descriptorGuess(store *keyframe.Store, cand *scancontext.Candidate) spatialmath.Pose {
	candidatePose := store.At(cand.ID).Pose.Pose()
	return spatialmath.Compose(candidatePose, spatialmath.Rz(cand.YawOffsetRad))
}

// align builds the target submap around candidateID, runs GICP, and on
// acceptance returns the Between loop factor it implies (spec §4.4
// "Aligner" and "Constraint generation").
func align(
	ctx context.Context,
	store *keyframe.Store,
	i, candidateID int,
	stitchPose spatialmath.Pose,
	stitchCloud pointcloud.PointCloud,
	guess spatialmath.Pose,
	cfg *config.StitchConfig,
	logger *logging.Logger,
	noiseStrategy NoiseStrategy,
) (pgo.Factor, bool) {
	target, err := buildSubmap(ctx, store, candidateID, cfg.KeyframeSearchNum, cfg.ICPDownsampSize)
	if err != nil {
		if logger != nil {
			logger.Warnw("failed to build loop closure submap", "candidate", candidateID, "err", err)
		}
		return pgo.Factor{}, false
	}

	source := pointcloud.VoxelDownsample(stitchCloud, cfg.ICPDownsampSize)
	if target.Size() < minTargetPoints || source.Size() < minSourcePoints {
		return pgo.Factor{}, false
	}

	targetKD := pointcloud.NewKDTree(target)
	params := pointcloud.DefaultICPParams(cfg.LoopClosureSearchRadius)
	useGuess := guess != nil

	_, info, err := pointcloud.RegisterPointCloudGICP(source, targetKD, guess, useGuess, params)
	if err != nil {
		return pgo.Factor{}, false
	}
	fitness := info.OptResult.F
	if fitness > cfg.LoopClosureFitnessScoreThld {
		return pgo.Factor{}, false
	}

	value := spatialmath.PoseDelta(info.Pose, store.At(candidateID).Pose.Pose())
	noise := noiseStrategy(fitness)
	return pgo.NewLoopFactor(i, candidateID, value, noise), true
}

// buildSubmap concatenates 2*searchNum+1 consecutive prior keyframes
// centered on candidateID, each transformed into the prior world frame by
// its own pose, then voxel-downsamples the result (spec §4.4 "Aligner").
func buildSubmap(ctx context.Context, store *keyframe.Store, candidateID, searchNum int, leafSize float64) (pointcloud.PointCloud, error) {
	lo := candidateID - searchNum
	hi := candidateID + searchNum
	if lo < 0 {
		lo = 0
	}
	if hi >= store.Np {
		hi = store.Np - 1
	}

	clouds := make([]pointcloud.PointCloud, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		kf := store.At(id)
		world, err := pointcloud.TransformToWorld(ctx, kf.Cloud, kf.Pose.Pose(), 1)
		if err != nil {
			return nil, errors.Wrapf(err, "transforming keyframe %d into world frame", id)
		}
		clouds = append(clouds, world)
	}
	merged, err := pointcloud.MergePointClouds(clouds)
	if err != nil {
		return nil, err
	}
	return pointcloud.VoxelDownsample(merged, leafSize), nil
}

// IsotropicNoise derives the Between/Loop factor's isotropic noise variance
// from a GICP fitness score, an intentional coarse heuristic carried
// unchanged from the original pipeline (spec §4.4 / §9 open question).
func IsotropicNoise(fitness float64) pgo.Vector6 {
	return pgo.Vector6{fitness, fitness, fitness, fitness, fitness, fitness}
}

// NoiseStrategy derives a factor's noise vector from a GICP fitness score.
// DefaultNoiseStrategy is IsotropicNoise; a caller may substitute a
// per-axis strategy without changing this package's exported surface
// (spec §9's noise-from-fitness open question — the default must not
// silently change).
type NoiseStrategy func(fitness float64) pgo.Vector6

// DefaultNoiseStrategy is the noise strategy align uses unless overridden.
var DefaultNoiseStrategy NoiseStrategy = IsotropicNoise

// warnConstraintSet logs the two non-fatal loop-constraint health warnings
// the original pipeline emits once, at the end of the run, over every
// accepted loop factor's stitch-side keyframe id: fewer than two loops
// across the whole session, or the loop-bearing keyframes spanning too
// narrow a range to be informative (MapStitch.hpp's run-level gate, not a
// per-keyframe check).
func warnConstraintSet(logger *logging.Logger, all []pgo.Factor) {
	if logger == nil || len(all) == 0 {
		return
	}
	stitchIDs := make([]int, len(all))
	for i, f := range all {
		stitchIDs[i] = f.FromID
	}
	if len(stitchIDs) < 2 {
		logger.Warnw("loop constraint num less than 2", "candidates", stitchIDs)
		return
	}
	front, back := stitchIDs[0], stitchIDs[len(stitchIDs)-1]
	diff := front - back
	if diff < 0 {
		diff = -diff
	}
	if diff < 10 {
		logger.Warnw("keyframe distance too close", "candidates", stitchIDs)
	}
}
