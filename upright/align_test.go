package upright

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/upright/logging"
	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/spatialmath"
	"go.viam.com/upright/utils"
)

const (
	groundPoints = 10000
	cubePoints   = 2000
)

// makeScene returns a flat 2x2 ground at z = 0 holding a 0.1 wide cube floating between z = 0.05 and 0.15.
// The ground points come first.
func makeScene(r *rand.Rand) *pointcloud.PointCloud {
	positions := make([]r3.Vector, 0, groundPoints+cubePoints)
	for i := 0; i < groundPoints; i++ {
		positions = append(positions, r3.Vector{X: 2*r.Float64() - 1, Y: 2*r.Float64() - 1})
	}
	for i := 0; i < cubePoints; i++ {
		positions = append(positions, r3.Vector{
			X: 0.1*r.Float64() - 0.05,
			Y: 0.1*r.Float64() - 0.05,
			Z: 0.05 + 0.1*r.Float64(),
		})
	}
	return pointcloud.New(positions)
}

// withNormals gives the ground normals close to +Z and the cube random normals.
func withNormals(r *rand.Rand, cloud *pointcloud.PointCloud) *pointcloud.PointCloud {
	cloud.Normals = make([]r3.Vector, cloud.Size())
	for i := range cloud.Normals {
		if i < groundPoints {
			cloud.Normals[i] = r3.Vector{X: 0.1 * r.NormFloat64(), Y: 0.1 * r.NormFloat64(), Z: 1}.Normalize()
			continue
		}
		cloud.Normals[i] = randomUnitVector(r)
	}
	return cloud
}

func withOrientations(r *rand.Rand, cloud *pointcloud.PointCloud) *pointcloud.PointCloud {
	cloud.Orientations = make([]quat.Number, cloud.Size())
	for i := range cloud.Orientations {
		cloud.Orientations[i] = spatialmath.Normalize(quat.Number{
			Real: r.NormFloat64(), Imag: r.NormFloat64(), Jmag: r.NormFloat64(), Kmag: r.NormFloat64(),
		})
	}
	return cloud
}

func randomUnitVector(r *rand.Rand) r3.Vector {
	for {
		v := r3.Vector{X: r.NormFloat64(), Y: r.NormFloat64(), Z: r.NormFloat64()}
		if v.Norm() > 1e-3 {
			return v.Normalize()
		}
	}
}

// turnOver applies a half turn about X to a copy of the cloud.
func turnOver(cloud *pointcloud.PointCloud) *pointcloud.PointCloud {
	return halfTurn(cloud, flipX)
}

func halfTurn(cloud *pointcloud.PointCloud, q quat.Number) *pointcloud.PointCloud {
	t := &Transform{Rotation: spatialmath.QuatToRotationMatrix(q), Quaternion: q}
	return t.Apply(cloud)
}

func TestAlignScene(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := makeScene(rand.New(rand.NewSource(1)))
	input := cloud.Clone()

	res, err := NewEngine(DefaultConfig(), logger).Align(cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Positions, test.ShouldResemble, input.Positions)

	d := res.Decision
	test.That(t, d.Invert, test.ShouldBeFalse)
	test.That(t, d.Plane.InlierCount, test.ShouldEqual, groundPoints)
	test.That(t, d.Plane.Normal.Z, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, d.Rationale, test.ShouldNotBeEmpty)
	test.That(t, len(d.Candidates), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, spatialmath.QuaternionAlmostEqual(d.Quaternion, spatialmath.NewZeroQuaternion(), 1e-9), test.ShouldBeTrue)

	out := res.Cloud
	test.That(t, out.Size(), test.ShouldEqual, cloud.Size())
	threshold := DeriveDefaults(cloud).DistanceThreshold
	var groundZ []float64
	for _, idx := range d.Plane.Inliers {
		test.That(t, idx, test.ShouldBeLessThan, groundPoints)
		groundZ = append(groundZ, out.Positions[idx].Z)
	}
	median, err := PercentileFloor{Percentile: 50}.Floor(groundZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(median), test.ShouldBeLessThan, threshold)
	for _, p := range out.Positions[groundPoints:] {
		test.That(t, p.Z, test.ShouldBeGreaterThanOrEqualTo, 0.)
	}
}

func TestAlignInvertedScene(t *testing.T) {
	logger := logging.NewTestLogger(t)
	upright := makeScene(rand.New(rand.NewSource(1)))
	inverted := turnOver(upright)
	for _, p := range inverted.Positions[groundPoints:] {
		test.That(t, p.Z, test.ShouldBeLessThan, 0.)
	}

	engine := NewEngine(DefaultConfig(), logger)
	want, err := engine.Align(upright)
	test.That(t, err, test.ShouldBeNil)
	got, err := engine.Align(inverted)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, got.Decision.Invert, test.ShouldBeTrue)
	test.That(t, got.Decision.ZOffset, test.ShouldAlmostEqual, want.Decision.ZOffset, 1e-9)
	for i := range want.Cloud.Positions {
		test.That(t, spatialmath.R3VectorAlmostEqual(got.Cloud.Positions[i], want.Cloud.Positions[i], 1e-9), test.ShouldBeTrue)
	}
}

func TestAlignSceneTurnedOverY(t *testing.T) {
	logger := logging.NewTestLogger(t)
	upright := makeScene(rand.New(rand.NewSource(1)))
	inverted := halfTurn(upright, quat.Number{Jmag: 1})
	for _, p := range inverted.Positions[groundPoints:] {
		test.That(t, p.Z, test.ShouldBeLessThan, 0.)
	}

	engine := NewEngine(DefaultConfig(), logger)
	want, err := engine.Align(upright)
	test.That(t, err, test.ShouldBeNil)
	got, err := engine.Align(inverted)
	test.That(t, err, test.ShouldBeNil)

	// the ground fit reports +Z, so the fix is the X half turn and the result is the upright scene
	// turned half way about Z
	test.That(t, got.Decision.Invert, test.ShouldBeTrue)
	test.That(t, got.Decision.ZOffset, test.ShouldAlmostEqual, want.Decision.ZOffset, 1e-9)
	for i, p := range want.Cloud.Positions {
		turned := r3.Vector{X: -p.X, Y: -p.Y, Z: p.Z}
		test.That(t, spatialmath.R3VectorAlmostEqual(got.Cloud.Positions[i], turned, 1e-9), test.ShouldBeTrue)
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	engine := NewEngine(DefaultConfig(), logger)
	first, err := engine.Align(makeScene(rand.New(rand.NewSource(2))))
	test.That(t, err, test.ShouldBeNil)

	second, err := engine.Align(first.Cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Decision.Invert, test.ShouldBeFalse)
	test.That(t, spatialmath.QuaternionAlmostEqual(second.Decision.Quaternion, spatialmath.NewZeroQuaternion(), 1e-6),
		test.ShouldBeTrue)
	test.That(t, second.Decision.ZOffset, test.ShouldAlmostEqual, 0, 1e-3)
	for i, p := range first.Cloud.Positions {
		test.That(t, spatialmath.R3VectorAlmostEqual(second.Cloud.Positions[i], p, 1e-3), test.ShouldBeTrue)
	}
}

func TestAlignTransformsNormalsAndOrientations(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := rand.New(rand.NewSource(3))
	cloud := withOrientations(r, withNormals(r, makeScene(r)))
	// tilt the scene and turn it over so the transform is far from the identity
	tilt := &Transform{Quaternion: spatialmath.NewR4AAFromAxis(2.5, r3.Vector{X: 1, Y: 0.3}).ToQuat()}
	tilt.Rotation = spatialmath.QuatToRotationMatrix(tilt.Quaternion)
	cloud = tilt.Apply(cloud)

	res, err := NewEngine(DefaultConfig(), logger).Align(cloud)
	test.That(t, err, test.ShouldBeNil)
	d := res.Decision
	test.That(t, d.Invert, test.ShouldBeTrue)

	axes := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, {X: 0.3, Y: -2, Z: 0.5}}
	for i := range cloud.Positions {
		n := res.Cloud.Normals[i]
		test.That(t, n.Norm(), test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, spatialmath.R3VectorAlmostEqual(n, d.Rotation.Mul(cloud.Normals[i]), 1e-6), test.ShouldBeTrue)

		q := res.Cloud.Orientations[i]
		test.That(t, spatialmath.QuaternionAlmostEqual(q, spatialmath.Compose(d.Quaternion, cloud.Orientations[i]), 1e-9),
			test.ShouldBeTrue)
		for _, v := range axes {
			want := d.Rotation.Mul(spatialmath.RotateVector(cloud.Orientations[i], v))
			test.That(t, spatialmath.R3VectorAlmostEqual(spatialmath.RotateVector(q, v), want, 1e-6), test.ShouldBeTrue)
		}
	}

	// the ground ends up level with its normals up and the cube on top of it
	for _, idx := range d.Plane.Inliers {
		test.That(t, res.Cloud.Normals[idx].Z, test.ShouldBeGreaterThan, 0.5)
	}
	for _, p := range res.Cloud.Positions[groundPoints:] {
		test.That(t, p.Z, test.ShouldBeGreaterThan, 0.)
	}
}

func TestAlignKeepsAttributes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := makeScene(rand.New(rand.NewSource(4)))
	opacity := make([]float64, cloud.Size())
	for i := range opacity {
		opacity[i] = float64(i%7) / 7
	}
	test.That(t, cloud.AddAttribute("opacity", pointcloud.Float32, opacity), test.ShouldBeNil)

	res, err := NewEngine(DefaultConfig(), logger).Align(turnOver(cloud))
	test.That(t, err, test.ShouldBeNil)
	attr, ok := res.Cloud.Attribute("opacity")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, attr.Values, test.ShouldResemble, opacity)
	test.That(t, res.Cloud.Normals, test.ShouldBeNil)
	test.That(t, res.Cloud.Orientations, test.ShouldBeNil)
}

func TestAlignDegenerateInput(t *testing.T) {
	logger := logging.NewTestLogger(t)
	engine := NewEngine(DefaultConfig(), logger)

	for _, positions := range [][]r3.Vector{nil, {{X: 1}}, {{X: 1}, {Y: 1}}} {
		res, err := engine.Align(pointcloud.New(positions))
		test.That(t, res, test.ShouldBeNil)
		test.That(t, utils.IsInsufficientData(err), test.ShouldBeTrue)
	}

	_, err := engine.Align(pointcloud.New([]r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}}))
	test.That(t, utils.IsDegenerateGeometry(err), test.ShouldBeTrue)

	// a bare plane has nothing on either side to tell up from down
	r := rand.New(rand.NewSource(5))
	flat := make([]r3.Vector, 2000)
	for i := range flat {
		flat[i] = r3.Vector{X: r.Float64(), Y: r.Float64()}
	}
	_, err = engine.Align(pointcloud.New(flat))
	test.That(t, utils.IsNoUsablePlane(err), test.ShouldBeTrue)

	bad := makeScene(r)
	bad.Normals = []r3.Vector{{Z: 1}}
	_, err = engine.Align(bad)
	test.That(t, err, test.ShouldNotBeNil)

	// one broken normal must not silently decide the orientation
	broken := withNormals(r, turnOver(makeScene(r)))
	broken.Normals[0] = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	res, err := engine.Align(broken)
	test.That(t, res, test.ShouldBeNil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non finite normal")

	cfg := DefaultConfig()
	cfg.DecisionPolicy = "majority"
	_, err = NewEngine(cfg, logger).Align(makeScene(r))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "decision_policy")
}

func TestAlignIsDeterministic(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := makeScene(rand.New(rand.NewSource(6)))
	cfg := DefaultConfig()
	// force sampling
	cfg.SampleSize = 5000
	cfg.MinPointsToContinue = 200

	a, err := NewEngine(cfg, logger).Align(cloud)
	test.That(t, err, test.ShouldBeNil)
	b, err := NewEngine(cfg, logger).Align(cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Decision.Plane, test.ShouldResemble, a.Decision.Plane)
	test.That(t, b.Cloud.Positions, test.ShouldResemble, a.Cloud.Positions)
	test.That(t, a.Decision.Invert, test.ShouldBeFalse)
	for _, idx := range a.Decision.Plane.Inliers {
		test.That(t, idx, test.ShouldBeLessThan, groundPoints)
	}
}

func TestAlignLogsDecision(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	_, err := NewEngine(DefaultConfig(), logger).Align(makeScene(rand.New(rand.NewSource(7))))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("alignment decided").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("plane candidate").Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestNewEngineDefaultsToGlobalLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	prev := logging.Global()
	logging.ReplaceGlobal(logger)
	defer logging.ReplaceGlobal(prev)

	_, err := NewEngine(DefaultConfig(), nil).Align(makeScene(rand.New(rand.NewSource(3))))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("alignment decided").Len(), test.ShouldEqual, 1)
}
