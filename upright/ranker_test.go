package upright

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/upright/utils"
	"go.viam.com/upright/vision/segmentation"
)

func candidate(inliers int, valid bool, extent r3.Vector) CandidateEvaluation {
	return CandidateEvaluation{
		Plane:  segmentation.PlaneCandidate{Normal: r3.Vector{Z: 1}, InlierCount: inliers},
		Valid:  valid,
		Extent: extent,
	}
}

func TestInlierRanker(t *testing.T) {
	r := InlierRanker{}
	test.That(t, r.Score(candidate(500, true, r3.Vector{})), test.ShouldEqual, 500.)
	test.That(t, r.Score(candidate(500, false, r3.Vector{})), test.ShouldEqual, 0.)
}

func TestAspectRanker(t *testing.T) {
	r := AspectRanker{}
	floor := candidate(1000, true, r3.Vector{X: 4, Y: 4, Z: 1})
	test.That(t, r.Score(floor), test.ShouldAlmostEqual, 8/(1+aspectEpsilon)*3, 1e-9)

	// a wall holds more points but stands the scene on its side
	wall := candidate(10000, true, r3.Vector{X: 1, Y: 4, Z: 4})
	test.That(t, r.Score(wall), test.ShouldBeLessThan, r.Score(floor))

	test.That(t, r.Score(candidate(1000, false, r3.Vector{X: 1, Y: 1, Z: 1})), test.ShouldEqual, 0.)
	test.That(t, r.Score(candidate(1, true, r3.Vector{X: 1, Y: 1, Z: 1})), test.ShouldEqual, 0.)
	flat := r.Score(candidate(10, true, r3.Vector{X: 1, Y: 1}))
	test.That(t, math.IsInf(flat, 0), test.ShouldBeFalse)
	test.That(t, flat, test.ShouldAlmostEqual, 2e6, 1e-3)
}

func TestSelectBest(t *testing.T) {
	evals := []CandidateEvaluation{
		candidate(300, true, r3.Vector{}),
		candidate(900, false, r3.Vector{}),
		candidate(500, true, r3.Vector{}),
		candidate(500, true, r3.Vector{}),
	}
	best, err := SelectBest(evals, InlierRanker{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, best, test.ShouldEqual, 2)
	test.That(t, evals[0].Score, test.ShouldEqual, 300.)
	test.That(t, evals[1].Score, test.ShouldEqual, 0.)

	_, err = SelectBest(evals[1:2], InlierRanker{})
	test.That(t, utils.IsNoUsablePlane(err), test.ShouldBeTrue)
	_, err = SelectBest(nil, InlierRanker{})
	test.That(t, utils.IsNoUsablePlane(err), test.ShouldBeTrue)
}
