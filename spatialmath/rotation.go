package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/upright/utils"
)

const (
	// parallelEpsilon bounds |a x b| below which two unit vectors are treated as (anti)parallel.
	parallelEpsilon = 1e-8
	// zeroNormEpsilon bounds the length below which a vector has no usable direction.
	zeroNormEpsilon = 1e-12
)

// QuaternionBetween returns the minimal rotation mapping the direction of from onto the direction of to.
//
// When from and to are antiparallel the minimal rotation is not unique: any half turn about an axis
// orthogonal to from works. fallbackAxis picks that axis; it is projected onto the plane orthogonal to
// from, and a DegenerateGeometryError is returned if nothing is left of it. Zero length inputs are
// also degenerate.
func QuaternionBetween(from, to, fallbackAxis r3.Vector) (quat.Number, error) {
	fromNorm, toNorm := from.Norm(), to.Norm()
	if fromNorm < zeroNormEpsilon || toNorm < zeroNormEpsilon {
		return quat.Number{}, utils.NewDegenerateGeometryError(
			"cannot rotate between vectors of length %g and %g", fromNorm, toNorm)
	}
	a := from.Mul(1 / fromNorm)
	b := to.Mul(1 / toNorm)

	cross := a.Cross(b)
	crossNorm := cross.Norm()
	dot := a.Dot(b)

	if crossNorm < parallelEpsilon {
		if dot > 0 {
			return NewZeroQuaternion(), nil
		}
		axis := fallbackAxis.Sub(a.Mul(fallbackAxis.Dot(a)))
		if axis.Norm() < parallelEpsilon {
			return quat.Number{}, utils.NewDegenerateGeometryError(
				"antiparallel vectors %v and %v with unusable fallback axis %v", a, b, fallbackAxis)
		}
		return NewR4AAFromAxis(math.Pi, axis).ToQuat(), nil
	}

	theta := math.Atan2(crossNorm, dot)
	return NewR4AAFromAxis(theta, cross).ToQuat(), nil
}

// RotationBetween is QuaternionBetween expressed as a rotation matrix.
func RotationBetween(from, to, fallbackAxis r3.Vector) (*RotationMatrix, error) {
	q, err := QuaternionBetween(from, to, fallbackAxis)
	if err != nil {
		return nil, err
	}
	return QuatToRotationMatrix(q), nil
}
