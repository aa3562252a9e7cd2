package upright

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/upright/vision/segmentation"
)

func TestConnectivityPolicy(t *testing.T) {
	p := ConnectivityPolicy{}
	test.That(t, p.Name(), test.ShouldEqual, "connectivity")

	v := p.Decide(SideStats{LargestComponentSize: 1000}, SideStats{LargestComponentSize: 120})
	test.That(t, v.Abstain, test.ShouldBeFalse)
	test.That(t, v.UpsideDown, test.ShouldBeFalse)
	test.That(t, v.Confidence, test.ShouldAlmostEqual, 0.88)

	v = p.Decide(SideStats{LargestComponentSize: 10}, SideStats{LargestComponentSize: 40})
	test.That(t, v.UpsideDown, test.ShouldBeTrue)
	test.That(t, v.Confidence, test.ShouldAlmostEqual, 0.75)

	test.That(t, p.Decide(SideStats{LargestComponentSize: 5}, SideStats{LargestComponentSize: 5}).Abstain, test.ShouldBeTrue)
	test.That(t, p.Decide(SideStats{}, SideStats{}).Abstain, test.ShouldBeTrue)
}

func TestCompactnessPolicy(t *testing.T) {
	p := CompactnessPolicy{}
	test.That(t, p.Name(), test.ShouldEqual, "compactness")

	compact := SideStats{LargestComponentSize: 100, XYDiagonal: 0.2}
	spread := SideStats{LargestComponentSize: 500, XYDiagonal: 2}
	v := p.Decide(compact, spread)
	test.That(t, v.UpsideDown, test.ShouldBeFalse)
	test.That(t, v.Confidence, test.ShouldAlmostEqual, 0.9)
	test.That(t, p.Decide(spread, compact).UpsideDown, test.ShouldBeTrue)

	v = p.Decide(SideStats{}, spread)
	test.That(t, v.Abstain, test.ShouldBeFalse)
	test.That(t, v.UpsideDown, test.ShouldBeTrue)
	test.That(t, p.Decide(spread, SideStats{}).UpsideDown, test.ShouldBeFalse)
	test.That(t, p.Decide(SideStats{}, SideStats{}).Abstain, test.ShouldBeTrue)
	test.That(t, p.Decide(compact, compact).Abstain, test.ShouldBeTrue)
}

func TestDensityRatioPolicy(t *testing.T) {
	p := DensityRatioPolicy{Threshold: 2}
	test.That(t, p.Name(), test.ShouldEqual, "density_ratio")

	// more points below, nothing dense near the plane
	v := p.Decide(SideStats{PointCount: 100, LocalDensityRatio: 1}, SideStats{PointCount: 300, LocalDensityRatio: 1})
	test.That(t, v.Abstain, test.ShouldBeFalse)
	test.That(t, v.UpsideDown, test.ShouldBeTrue)

	// a dense band above overrides the point counts
	v = p.Decide(SideStats{PointCount: 100, LocalDensityRatio: 8}, SideStats{PointCount: 300, LocalDensityRatio: 0.1})
	test.That(t, v.UpsideDown, test.ShouldBeFalse)
	test.That(t, v.Confidence, test.ShouldAlmostEqual, 0.75)

	// and symmetrically below
	v = p.Decide(SideStats{PointCount: 300, LocalDensityRatio: 0.1}, SideStats{PointCount: 100, LocalDensityRatio: 8})
	test.That(t, v.UpsideDown, test.ShouldBeTrue)

	test.That(t, p.Decide(SideStats{PointCount: 7}, SideStats{PointCount: 7}).Abstain, test.ShouldBeTrue)
}

func TestNormalConsensusPolicy(t *testing.T) {
	p := NormalConsensusPolicy{MinConsensus: 0.2}
	test.That(t, p.Name(), test.ShouldEqual, "normal_consensus")

	test.That(t, p.Decide(SideStats{}, SideStats{}).Abstain, test.ShouldBeTrue)

	up := SideStats{HasNormals: true, MeanNormalAlignment: 0.9}
	down := SideStats{HasNormals: true, MeanNormalAlignment: -0.9}
	v := p.Decide(up, down)
	test.That(t, v.UpsideDown, test.ShouldBeFalse)
	test.That(t, v.Confidence, test.ShouldAlmostEqual, 0.9)
	test.That(t, p.Decide(down, up).UpsideDown, test.ShouldBeTrue)

	weak := SideStats{HasNormals: true, MeanNormalAlignment: 0.2}
	test.That(t, p.Decide(weak, SideStats{HasNormals: true, MeanNormalAlignment: -0.2}).Abstain, test.ShouldBeTrue)

	broken := SideStats{HasNormals: true, MeanNormalAlignment: math.NaN()}
	test.That(t, p.Decide(broken, broken).Abstain, test.ShouldBeTrue)
}

func TestCompositePolicy(t *testing.T) {
	p := CompositePolicy{Policies: []DecisionPolicy{NormalConsensusPolicy{MinConsensus: 0.2}, ConnectivityPolicy{}}}
	test.That(t, p.Name(), test.ShouldEqual, "normal_consensus+connectivity")

	// without normals connectivity decides
	v := p.Decide(SideStats{LargestComponentSize: 10}, SideStats{LargestComponentSize: 50})
	test.That(t, v.Abstain, test.ShouldBeFalse)
	test.That(t, v.UpsideDown, test.ShouldBeTrue)
	test.That(t, v.Rationale, test.ShouldStartWith, "connectivity: ")

	// normals take precedence
	v = p.Decide(
		SideStats{HasNormals: true, MeanNormalAlignment: 0.8, LargestComponentSize: 10},
		SideStats{HasNormals: true, MeanNormalAlignment: -0.8, LargestComponentSize: 50},
	)
	test.That(t, v.UpsideDown, test.ShouldBeFalse)
	test.That(t, v.Rationale, test.ShouldStartWith, "normal_consensus: ")

	v = p.Decide(SideStats{}, SideStats{})
	test.That(t, v.Abstain, test.ShouldBeTrue)
	test.That(t, v.Rationale, test.ShouldContainSubstring, "connectivity")
}

func TestClassify(t *testing.T) {
	policy := ConnectivityPolicy{}

	_, err := Classify(SideStats{}, SideStats{}, policy)
	test.That(t, err, test.ShouldEqual, ErrEmptySides)

	// a lone populated side wins whatever the policy says
	res, err := Classify(SideStats{}, SideStats{WindowCount: 3}, policy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeTrue)
	test.That(t, res.Policy, test.ShouldBeEmpty)
	res, err = Classify(SideStats{WindowCount: 3}, SideStats{}, CompactnessPolicy{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeFalse)

	// the policy decides when both sides are populated
	res, err = Classify(
		SideStats{WindowCount: 1000, LargestComponentSize: 1000},
		SideStats{WindowCount: 1200, LargestComponentSize: 120},
		policy,
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeFalse)
	test.That(t, res.Policy, test.ShouldEqual, "connectivity")

	// an abstention falls back to the window counts
	res, err = Classify(SideStats{WindowCount: 10}, SideStats{WindowCount: 30}, policy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeTrue)
	test.That(t, res.Policy, test.ShouldBeEmpty)
	test.That(t, res.Rationale, test.ShouldContainSubstring, "abstained")
	res, err = Classify(SideStats{WindowCount: 30}, SideStats{WindowCount: 30}, policy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeFalse)
}

// makeBlob returns n points uniformly inside a cube of the given size centered at center.
func makeBlob(r *rand.Rand, n int, center r3.Vector, size float64) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = center.Add(r3.Vector{X: r.Float64() - 0.5, Y: r.Float64() - 0.5, Z: r.Float64() - 0.5}.Mul(size))
	}
	return pts
}

func TestComputeSideStats(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	var positions []r3.Vector
	for i := 0; i < 2000; i++ {
		positions = append(positions, r3.Vector{X: 8*r.Float64() - 4, Y: 8*r.Float64() - 4, Z: 0.5})
	}
	ground := make([]int, len(positions))
	for i := range ground {
		ground[i] = i
	}
	// one object above the ground and the same kind of mass spread over ten fragments below
	positions = append(positions, makeBlob(r, 1000, r3.Vector{Z: 0.7}, 0.2)...)
	for c := 0; c < 10; c++ {
		positions = append(positions, makeBlob(r, 120, r3.Vector{X: 1.5*float64(c) - 3, Y: 2, Z: 0.3}, 0.1)...)
	}
	// a far away point, outside the window
	positions = append(positions, r3.Vector{Z: -10})

	plane, err := segmentation.NewPlaneCandidate(r3.Vector{Z: 1}, -0.5, ground)
	test.That(t, err, test.ShouldBeNil)
	cfg := SideConfig{Margin: 0.02, Range: 1, ClusterEps: 0.05, ClusterMinPoints: 10}

	report, err := ComputeSideStats(plane, Sample{Positions: positions}, cfg)
	test.That(t, err, test.ShouldBeNil)
	above, below := report.Above, report.Below
	test.That(t, report.ZPlane, test.ShouldAlmostEqual, 0.5)
	test.That(t, report.Extent.Z, test.ShouldAlmostEqual, 10.8, 0.01)

	test.That(t, above.PointCount, test.ShouldEqual, 1000)
	test.That(t, above.WindowCount, test.ShouldEqual, 1000)
	test.That(t, below.PointCount, test.ShouldEqual, 1201)
	test.That(t, below.WindowCount, test.ShouldEqual, 1200)
	test.That(t, above.LocalDensityRatio, test.ShouldAlmostEqual, 1000./1201)
	test.That(t, below.LocalDensityRatio, test.ShouldAlmostEqual, 1200./1001)

	test.That(t, above.ComponentCount, test.ShouldEqual, 1)
	test.That(t, above.LargestComponentSize, test.ShouldBeGreaterThanOrEqualTo, 990)
	test.That(t, below.ComponentCount, test.ShouldEqual, 10)
	test.That(t, below.LargestComponentSize, test.ShouldBeLessThanOrEqualTo, 120)
	test.That(t, above.XYDiagonal, test.ShouldBeBetween, 0.2, 0.3)
	test.That(t, below.XYDiagonal, test.ShouldBeLessThan, 0.15)
	test.That(t, above.HasNormals, test.ShouldBeFalse)

	// the single object wins over the larger fragmented mass
	res, err := Classify(above, below, ConnectivityPolicy{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeFalse)
	// while counting points alone gets it wrong
	res, err = Classify(above, below, DensityRatioPolicy{Threshold: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UpsideDown, test.ShouldBeTrue)
}

func TestComputeSideStatsNormals(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	plane, err := segmentation.NewPlaneCandidate(r3.Vector{X: 1, Z: 1}, 0, []int{0, 1, 2, 3})
	test.That(t, err, test.ShouldBeNil)
	n := plane.Normal
	positions := []r3.Vector{{}, {Y: 1}, {X: 1, Z: -1}, {Y: -1}}
	// the ground normals point away from the positive side of the plane
	normals := []r3.Vector{n.Mul(-1), n.Mul(-1), n.Mul(-1), n}
	positions = append(positions, makeBlob(r, 50, n.Mul(0.5), 0.1)...)
	for range positions[4:] {
		normals = append(normals, n)
	}

	cfg := SideConfig{Margin: 0.01, Range: 1, ClusterEps: 0.05, ClusterMinPoints: 5}
	report, err := ComputeSideStats(plane, Sample{Positions: positions, Normals: normals}, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.ZPlane, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, report.Above.WindowCount, test.ShouldEqual, 50)
	test.That(t, report.Below.WindowCount, test.ShouldEqual, 0)
	test.That(t, report.Above.HasNormals, test.ShouldBeTrue)
	test.That(t, report.Above.MeanNormalAlignment, test.ShouldAlmostEqual, -0.5, 1e-9)
	test.That(t, report.Below.MeanNormalAlignment, test.ShouldAlmostEqual, 0.5, 1e-9)

	bad := *plane
	bad.Inliers = []int{100}
	_, err = ComputeSideStats(&bad, Sample{Positions: positions}, cfg)
	test.That(t, err, test.ShouldNotBeNil)
}
