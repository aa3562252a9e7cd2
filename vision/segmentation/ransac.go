package segmentation

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"go.viam.com/upright/utils"
)

// RANSACConfig holds the parameters of a single RANSAC plane fit.
type RANSACConfig struct {
	// DistanceThreshold is the maximum distance to the plane for a point to be an inlier.
	DistanceThreshold float64
	// MaxIterations is the number of hypotheses tried.
	// nIter = log(1-p)/log(1-(1-e)^s), where p is prob of success, e is outlier ratio, s is subset size (3 for plane).
	MaxIterations int
	// MinSampleSize is the fewest points a fit is attempted on. Values below 3 are treated as 3.
	MinSampleSize int
}

func (cfg RANSACConfig) minSampleSize() int {
	return utils.MaxInt(cfg.MinSampleSize, 3)
}

// FitPlaneRANSAC segments the biggest plane among the given points. indices selects the working set;
// nil means every point. Inliers of the returned plane are indices into points.
//
// It fails with an InsufficientDataError when the working set has fewer than MinSampleSize points and
// with a DegenerateGeometryError when every sampled triple was collinear. The result only depends on
// the inputs and the state of rng.
func FitPlaneRANSAC(points []r3.Vector, indices []int, cfg RANSACConfig, rng *rand.Rand) (*PlaneCandidate, error) {
	if indices == nil {
		indices = make([]int, len(points))
		for i := range indices {
			indices[i] = i
		}
	}
	if need := cfg.minSampleSize(); len(indices) < need {
		return nil, utils.NewInsufficientDataError("plane fit", len(indices), need)
	}
	threshold := cfg.DistanceThreshold

	var (
		bestNormal  r3.Vector
		bestOffset  float64
		bestInliers = -1
	)
	for i := 0; i < cfg.MaxIterations; i++ {
		// sample 3 distinct points from the working set
		sample := utils.SampleIndices(len(indices), 3, rng)
		p1, p2, p3 := points[indices[sample[0]]], points[indices[sample[1]]], points[indices[sample[2]]]

		// cross product of 2 vectors in the plane gives its normal
		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		norm := cross.Norm()
		if norm < minNormalNorm {
			continue
		}
		vec := cross.Mul(1 / norm)
		// pick a point and deduce d from the plane equation
		d := -vec.Dot(p1)

		currentInliers := 0
		for _, idx := range indices {
			if math.Abs(vec.Dot(points[idx])+d) < threshold {
				currentInliers++
			}
		}
		// if the current plane contains more points than the previously stored one, save this one as the biggest plane
		if currentInliers > bestInliers {
			bestNormal, bestOffset = vec, d
			bestInliers = currentInliers
		}
	}
	if bestInliers < 0 {
		return nil, utils.NewDegenerateGeometryError(
			"no non collinear sample found among %d points in %d iterations", len(indices), cfg.MaxIterations)
	}

	inliers := make([]int, 0, bestInliers)
	for _, idx := range indices {
		if math.Abs(bestNormal.Dot(points[idx])+bestOffset) < threshold {
			inliers = append(inliers, idx)
		}
	}
	return NewPlaneCandidate(bestNormal, bestOffset, inliers)
}
