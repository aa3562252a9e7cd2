package upright

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/upright/utils"
	"go.viam.com/upright/vision/segmentation"
)

// CandidateEvaluation is everything learned about one plane candidate.
type CandidateEvaluation struct {
	// Index is the order in which the candidate was extracted.
	Index          int
	Plane          segmentation.PlaneCandidate
	Above          SideStats
	Below          SideStats
	Classification ClassifierResult
	// Valid is false when the candidate could not be classified.
	Valid bool
	// Extent is the size of the bounding box of the sample rotated into the plane frame.
	Extent r3.Vector
	Score  float64
}

// Ranker scores a candidate plane. Higher is better; only positive scores are usable.
type Ranker interface {
	Name() string
	Score(eval CandidateEvaluation) float64
}

// InlierRanker prefers the plane supported by the most points.
type InlierRanker struct{}

// Name returns the ranker name.
func (InlierRanker) Name() string { return string(RankerInliers) }

// Score is the inlier count of a valid candidate.
func (InlierRanker) Score(eval CandidateEvaluation) float64 {
	if !eval.Valid {
		return 0
	}
	return float64(eval.Plane.InlierCount)
}

// aspectEpsilon keeps the aspect ratio finite for a perfectly flat scene.
const aspectEpsilon = 1e-6

// AspectRanker prefers planes that make the scene wide and flat, weighted by the log of their support.
// Walls of a room are large planes too, but standing on one makes the scene tall and narrow.
type AspectRanker struct{}

// Name returns the ranker name.
func (AspectRanker) Name() string { return string(RankerAspect) }

// Score is (dx + dy) / dz of the scene in the plane frame times log10 of the inlier count.
func (AspectRanker) Score(eval CandidateEvaluation) float64 {
	if !eval.Valid || eval.Plane.InlierCount == 0 {
		return 0
	}
	aspect := (eval.Extent.X + eval.Extent.Y) / (eval.Extent.Z + aspectEpsilon)
	return aspect * math.Log10(float64(eval.Plane.InlierCount))
}

// SelectBest scores every candidate in place and returns the index of the best one. Ties keep the earlier
// candidate. It fails with a NoUsablePlaneError when no candidate scores above 0.
func SelectBest(evals []CandidateEvaluation, ranker Ranker) (int, error) {
	for i := range evals {
		evals[i].Score = ranker.Score(evals[i])
	}
	best := lo.Reduce(evals, func(best int, eval CandidateEvaluation, i int) int {
		if best < 0 || eval.Score > evals[best].Score {
			return i
		}
		return best
	}, -1)
	if best < 0 || !(evals[best].Score > 0) {
		return -1, utils.NewNoUsablePlaneError(len(evals))
	}
	return best, nil
}
