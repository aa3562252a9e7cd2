package upright

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
)

// Verdict is the answer of a DecisionPolicy. When Abstain is set the policy found no evidence either way
// and the other fields are meaningless.
type Verdict struct {
	UpsideDown bool
	// Confidence is in [0, 1].
	Confidence float64
	Rationale  string
	Abstain    bool
}

// DecisionPolicy decides, given what lies on both sides of a ground plane, whether the objects are below
// it, i.e. whether the scene is upside down with respect to the plane normal.
type DecisionPolicy interface {
	Name() string
	Decide(above, below SideStats) Verdict
}

func abstain(format string, args ...interface{}) Verdict {
	return Verdict{Abstain: true, Rationale: fmt.Sprintf(format, args...)}
}

// relativeDifference is |a-b| / max(a, b), 0 when both are 0.
func relativeDifference(a, b float64) float64 {
	m := math.Max(math.Abs(a), math.Abs(b))
	if m == 0 {
		return 0
	}
	return math.Abs(a-b) / m
}

// ConnectivityPolicy puts the objects on the side holding the largest connected cluster, so that a single
// object outweighs the same mass of scattered debris.
type ConnectivityPolicy struct{}

// Name returns the policy name.
func (ConnectivityPolicy) Name() string { return string(PolicyConnectivity) }

// Decide compares the largest clusters of both sides. Equal sizes abstain.
func (ConnectivityPolicy) Decide(above, below SideStats) Verdict {
	a, b := above.LargestComponentSize, below.LargestComponentSize
	if a == b {
		return abstain("largest clusters above and below both have %d points", a)
	}
	return Verdict{
		UpsideDown: b > a,
		Confidence: relativeDifference(float64(a), float64(b)),
		Rationale:  fmt.Sprintf("largest cluster above has %d points, below has %d", a, b),
	}
}

// CompactnessPolicy puts the objects on the side whose largest cluster has the smaller footprint, since
// floor debris tends to spread out while objects stand compact.
type CompactnessPolicy struct{}

// Name returns the policy name.
func (CompactnessPolicy) Name() string { return string(PolicyCompactness) }

// Decide compares the in plane diagonals of the largest clusters. A side without a cluster loses.
func (CompactnessPolicy) Decide(above, below SideStats) Verdict {
	hasA, hasB := above.LargestComponentSize > 0, below.LargestComponentSize > 0
	switch {
	case !hasA && !hasB:
		return abstain("no cluster on either side")
	case !hasA:
		return Verdict{UpsideDown: true, Confidence: 1, Rationale: "only the side below has a cluster"}
	case !hasB:
		return Verdict{UpsideDown: false, Confidence: 1, Rationale: "only the side above has a cluster"}
	}
	a, b := above.XYDiagonal, below.XYDiagonal
	if a == b {
		return abstain("largest clusters above and below both span %.4g", a)
	}
	return Verdict{
		UpsideDown: b < a,
		Confidence: relativeDifference(a, b),
		Rationale:  fmt.Sprintf("largest cluster above spans %.4g, below spans %.4g", a, b),
	}
}

// DensityRatioPolicy puts the objects on the side holding most of the points, unless the band right next
// to the plane is much denser on one side, which then wins.
type DensityRatioPolicy struct {
	Threshold float64
}

// Name returns the policy name.
func (DensityRatioPolicy) Name() string { return string(PolicyDensityRatio) }

// Decide applies the local density override before falling back to the side with more points.
func (p DensityRatioPolicy) Decide(above, below SideStats) Verdict {
	switch {
	case above.LocalDensityRatio > p.Threshold:
		return Verdict{
			UpsideDown: false,
			Confidence: 1 - p.Threshold/above.LocalDensityRatio,
			Rationale:  fmt.Sprintf("local density above is %.3g times the one below", above.LocalDensityRatio),
		}
	case below.LocalDensityRatio > p.Threshold:
		return Verdict{
			UpsideDown: true,
			Confidence: 1 - p.Threshold/below.LocalDensityRatio,
			Rationale:  fmt.Sprintf("local density below is %.3g times the one above", below.LocalDensityRatio),
		}
	}
	a, b := above.PointCount, below.PointCount
	if a == b {
		return abstain("%d points on each side", a)
	}
	return Verdict{
		UpsideDown: b > a,
		Confidence: relativeDifference(float64(a), float64(b)),
		Rationale:  fmt.Sprintf("%d points above, %d below", a, b),
	}
}

// NormalConsensusPolicy trusts the normals of the ground inliers: surfaces of a reconstructed ground face
// the cameras, which look at the objects.
type NormalConsensusPolicy struct {
	MinConsensus float64
}

// Name returns the policy name.
func (NormalConsensusPolicy) Name() string { return string(PolicyNormalConsensus) }

// Decide abstains when the cloud has no normals or the normals do not agree strongly enough.
func (p NormalConsensusPolicy) Decide(above, below SideStats) Verdict {
	if !above.HasNormals {
		return abstain("cloud has no normals")
	}
	c := above.MeanNormalAlignment
	// NaN agrees with nothing
	if !(math.Abs(c) > p.MinConsensus) {
		return abstain("ground normals disagree, consensus %.3f", c)
	}
	return Verdict{
		UpsideDown: c < 0,
		Confidence: math.Min(1, math.Abs(c)),
		Rationale:  fmt.Sprintf("ground normals consensus %.3f", c),
	}
}

// CompositePolicy asks its members in order and returns the first verdict that is not an abstention.
type CompositePolicy struct {
	Policies []DecisionPolicy
}

// Name returns the member names joined by "+".
func (p CompositePolicy) Name() string {
	return strings.Join(lo.Map(p.Policies, func(m DecisionPolicy, _ int) string { return m.Name() }), "+")
}

// Decide returns the first non abstaining verdict, prefixed by the member that gave it.
func (p CompositePolicy) Decide(above, below SideStats) Verdict {
	reasons := make([]string, 0, len(p.Policies))
	for _, m := range p.Policies {
		v := m.Decide(above, below)
		if !v.Abstain {
			v.Rationale = m.Name() + ": " + v.Rationale
			return v
		}
		reasons = append(reasons, m.Name()+": "+v.Rationale)
	}
	return abstain("%s", strings.Join(reasons, "; "))
}
