// Package upright finds the ground of a reconstructed scene and computes the rigid transform that stands the
// scene upright on it: ground at Z = 0 with the objects above.
package upright

import (
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/upright/logging"
	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/spatialmath"
	"go.viam.com/upright/utils"
	"go.viam.com/upright/vision/segmentation"
)

// minCloudSize is the fewest points a plane can be fitted to.
const minCloudSize = 3

// lowInlierFraction is the share of the sample below which the chosen ground is reported as suspicious.
const lowInlierFraction = 0.05

// Decision is the outcome of analyzing a cloud: which plane is the ground, which way is up and the
// transform that follows.
type Decision struct {
	// Plane is the chosen ground. Its inliers index into the full cloud.
	Plane      segmentation.PlaneCandidate
	Invert     bool
	Rotation   *spatialmath.RotationMatrix
	Quaternion quat.Number
	ZOffset    float64
	Rationale  string
	// Candidates holds the evaluation of every plane considered, inliers indexing into the sample.
	Candidates []CandidateEvaluation
}

// Transform returns the transform described by the decision.
func (d *Decision) Transform() *Transform {
	return &Transform{Rotation: d.Rotation, Quaternion: d.Quaternion, ZOffset: d.ZOffset}
}

// Result is an aligned cloud along with the decision that produced it.
type Result struct {
	Decision *Decision
	Cloud    *pointcloud.PointCloud
}

// Engine aligns point clouds. It holds no state between calls.
type Engine struct {
	cfg    Config
	logger logging.Logger
}

// NewEngine returns an engine using cfg, whose zero valued fields are derived per cloud.
func NewEngine(cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Global().Sublogger("upright")
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Align computes the decision for the cloud and applies it to a copy, leaving the input untouched.
func (e *Engine) Align(cloud *pointcloud.PointCloud) (*Result, error) {
	decision, err := e.Decide(cloud)
	if err != nil {
		return nil, err
	}
	return &Result{Decision: decision, Cloud: decision.Transform().Apply(cloud)}, nil
}

// Decide finds the ground plane of the cloud and which way is up. Candidates are extracted and scored on a
// random sample of the cloud; the ground height is estimated on the whole cloud.
func (e *Engine) Decide(cloud *pointcloud.PointCloud) (*Decision, error) {
	if err := cloud.Validate(); err != nil {
		return nil, err
	}
	if cloud.Size() < minCloudSize {
		return nil, utils.NewInsufficientDataError("alignment", cloud.Size(), minCloudSize)
	}
	cfg := e.cfg.Resolve(cloud)
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	policy, err := NewDecisionPolicy(cfg)
	if err != nil {
		return nil, err
	}
	ranker, err := NewRanker(cfg)
	if err != nil {
		return nil, err
	}
	floor, err := NewFloorEstimator(cfg)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec
	sampleIdx := utils.SampleIndices(cloud.Size(), cfg.SampleSize, rng)
	sort.Ints(sampleIdx)
	sample := Sample{Positions: lo.Map(sampleIdx, func(i, _ int) r3.Vector { return cloud.Positions[i] })}
	if cloud.Normals != nil {
		sample.Normals = lo.Map(sampleIdx, func(i, _ int) r3.Vector { return cloud.Normals[i] })
	}

	planes, err := segmentation.ExtractPlaneCandidates(sample.Positions, cfg.extractionConfig(), rng)
	if err != nil {
		return nil, errors.Wrap(err, "cannot extract plane candidates")
	}

	evals := make([]CandidateEvaluation, 0, len(planes))
	for i := range planes {
		eval, err := evaluateCandidate(i, &planes[i], sample, cfg.sideConfig(), policy)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	best, selectErr := SelectBest(evals, ranker)
	for _, eval := range evals {
		e.logger.Debugw("plane candidate",
			"index", eval.Index,
			"normal", eval.Plane.Normal,
			"inliers", eval.Plane.InlierCount,
			"valid", eval.Valid,
			"upside_down", eval.Classification.UpsideDown,
			"score", eval.Score,
			"rationale", eval.Classification.Rationale)
	}
	if selectErr != nil {
		return nil, selectErr
	}

	chosen := evals[best]
	if float64(chosen.Plane.InlierCount) < lowInlierFraction*float64(len(sampleIdx)) {
		e.logger.Warnw("ground plane has few inliers, alignment may be unreliable",
			"inliers", chosen.Plane.InlierCount, "sample_size", len(sampleIdx))
	}

	plane := chosen.Plane
	plane.Inliers = lo.Map(chosen.Plane.Inliers, func(i, _ int) int { return sampleIdx[i] })
	invert := chosen.Classification.UpsideDown
	transform, err := BuildTransform(plane.Normal, invert, cloud.Positions, floor)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Plane:      plane,
		Invert:     invert,
		Rotation:   transform.Rotation,
		Quaternion: transform.Quaternion,
		ZOffset:    transform.ZOffset,
		Rationale:  chosen.Classification.Rationale,
		Candidates: evals,
	}
	e.logger.Infow("alignment decided",
		"candidate", chosen.Index,
		"normal", plane.Normal,
		"inliers", plane.InlierCount,
		"invert", invert,
		"z_offset", decision.ZOffset,
		"ranker", ranker.Name(),
		"rationale", decision.Rationale)
	return decision, nil
}

func evaluateCandidate(
	index int,
	plane *segmentation.PlaneCandidate,
	sample Sample,
	cfg SideConfig,
	policy DecisionPolicy,
) (CandidateEvaluation, error) {
	eval := CandidateEvaluation{Index: index, Plane: *plane}
	report, err := ComputeSideStats(plane, sample, cfg)
	if err != nil {
		return eval, errors.Wrapf(err, "cannot evaluate plane candidate %d", index)
	}
	eval.Above, eval.Below, eval.Extent = report.Above, report.Below, report.Extent

	cls, err := Classify(report.Above, report.Below, policy)
	switch {
	case errors.Is(err, ErrEmptySides):
		eval.Classification.Rationale = err.Error()
		return eval, nil
	case err != nil:
		return eval, err
	}
	eval.Classification = cls
	eval.Valid = true
	return eval, nil
}
