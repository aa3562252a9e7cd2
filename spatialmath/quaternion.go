package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// NewZeroQuaternion returns the quaternion which signifies no rotation.
func NewZeroQuaternion() quat.Number {
	return quat.Number{Real: 1}
}

// Normalize scales a quaternion to unit length. The zero quaternion is returned unchanged.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return q
	}
	return quat.Scale(1/norm, q)
}

// Compose returns the rotation that applies b first and then a, i.e. the Hamilton product a*b.
func Compose(a, b quat.Number) quat.Number {
	return quat.Mul(a, b)
}

// RotateVector rotates v by the unit quaternion q (q * v * q^-1).
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// QuaternionAlmostEqual is an equality test for all the float components of a quaternion. Quaternions have double coverage, q == -q,
// so both signs are checked.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	within := func(a, b quat.Number) bool {
		return math.Abs(a.Real-b.Real) < tol &&
			math.Abs(a.Imag-b.Imag) < tol &&
			math.Abs(a.Jmag-b.Jmag) < tol &&
			math.Abs(a.Kmag-b.Kmag) < tol
	}
	return within(a, b) || within(a, quat.Scale(-1, b))
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon && math.Abs(a.Z-b.Z) < epsilon
}
