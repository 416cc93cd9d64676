package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"github.com/viam-labs/map-stitch/spatialmath"
)

// ICPInfo carries the optimizer result behind a registration call, so a
// caller can read the final fitness score off OptResult.F the way isotropic
// loop-closure noise is derived from it (see loopclosure.IsotropicNoise).
type ICPInfo struct {
	OptResult  *optimize.Result
	Iterations int
	Pose       spatialmath.Pose
}

// ICPParams configures RegisterPointCloudGICP (RegisterPointCloudICP always
// uses DefaultICPParams(1)). The defaults below mirror the
// fixed GICP parameters the stitching pipeline's loop aligner always uses.
type ICPParams struct {
	MaxCorrespondenceDistance float64
	MaxIterations             int
	TransformationEpsilon     float64
	EuclideanFitnessEpsilon   float64
}

// DefaultICPParams matches perform_loop_closure's fixed GICP configuration.
func DefaultICPParams(searchRadius float64) ICPParams {
	return ICPParams{
		MaxCorrespondenceDistance: searchRadius * 2,
		MaxIterations:             100,
		TransformationEpsilon:     1e-6,
		EuclideanFitnessEpsilon:   1e-6,
	}
}

func poseFromParams(x []float64) spatialmath.Pose {
	return spatialmath.NewPoseFromEuler(x[0], x[1], x[2], x[3], x[4], x[5])
}

func paramsFromPose(p spatialmath.Pose) []float64 {
	pt := p.Point()
	rpy := p.Orientation().EulerAngles()
	return []float64{pt.X, pt.Y, pt.Z, rpy.Roll, rpy.Pitch, rpy.Yaw}
}

// fitness is the mean squared nearest-neighbor distance of source
// transformed by the pose encoded in x, against targetKD, capped at
// maxCorrespondence so far outliers don't dominate the cost.
func fitness(sourcePts []r3.Vector, targetKD *KDTree, maxCorrespondence float64, x []float64) float64 {
	pose := poseFromParams(x)
	var sum float64
	n := 0
	for _, p := range sourcePts {
		world := spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(p)).Point()
		_, _, dist, ok := targetKD.NearestNeighbor(world)
		if !ok {
			continue
		}
		if dist > maxCorrespondence*maxCorrespondence {
			dist = maxCorrespondence * maxCorrespondence
		}
		sum += dist
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// RegisterPointCloudICP rigidly aligns source onto targetKD, starting from
// guess when useGuess is set (identity otherwise), and returns the
// transformed source cloud plus the optimizer diagnostics.
func RegisterPointCloudICP(
	source PointCloud,
	targetKD *KDTree,
	guess spatialmath.Pose,
	useGuess bool,
) (PointCloud, *ICPInfo, error) {
	return RegisterPointCloudGICP(source, targetKD, guess, useGuess, DefaultICPParams(1))
}

// RegisterPointCloudGICP is RegisterPointCloudICP with explicit parameters,
// the entry point the loop aligner calls with the fixed GICP configuration
// grounded in the original pipeline's perform_loop_closure.
func RegisterPointCloudGICP(
	source PointCloud,
	targetKD *KDTree,
	guess spatialmath.Pose,
	useGuess bool,
	params ICPParams,
) (PointCloud, *ICPInfo, error) {
	if source.Size() == 0 {
		return nil, nil, errors.New("cannot register an empty source cloud")
	}
	if targetKD.Size() == 0 {
		return nil, nil, errors.New("cannot register against an empty target cloud")
	}

	start := spatialmath.NewZeroPose()
	if useGuess && guess != nil {
		start = guess
	}

	sourcePts := ToSlice(source)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return fitness(sourcePts, targetKD, params.MaxCorrespondenceDistance, x)
		},
	}

	settings := &optimize.Settings{
		MajorIterations: params.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   params.EuclideanFitnessEpsilon,
			Relative:   params.TransformationEpsilon,
			Iterations: 10,
		},
	}

	result, err := optimize.Minimize(problem, paramsFromPose(start), settings, &optimize.NelderMead{})
	if result == nil {
		return nil, nil, errors.Wrap(err, "icp optimize")
	}
	if statusErr := result.Status.Err(); statusErr != nil {
		return nil, nil, errors.Wrap(statusErr, "icp did not converge")
	}

	finalPose := poseFromParams(result.X)
	registered := New()
	for _, p := range sourcePts {
		d, _ := source.At(p.X, p.Y, p.Z)
		world := spatialmath.Compose(finalPose, spatialmath.NewPoseFromPoint(p)).Point()
		if err := registered.Set(world, d); err != nil {
			return nil, nil, err
		}
	}

	return registered, &ICPInfo{OptResult: result, Iterations: result.Stats.MajorIterations, Pose: finalPose}, nil
}
