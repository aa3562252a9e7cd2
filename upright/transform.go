package upright

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/spatialmath"
	"go.viam.com/upright/utils"
)

// flipX is a half turn about the X axis.
var flipX = quat.Number{Imag: 1}

// Transform is a rigid rotation followed by a vertical translation that levels a cloud on its ground.
type Transform struct {
	Rotation   *spatialmath.RotationMatrix
	Quaternion quat.Number
	// ZOffset is the ground height after rotation; it is subtracted from every rotated position.
	ZOffset float64
}

// LevelingRotation returns the rotation taking normal onto +Z, followed by a half turn about X when invert
// is set so that the other side of the plane ends up on top.
func LevelingRotation(normal r3.Vector, invert bool) (quat.Number, error) {
	q, err := spatialmath.QuaternionBetween(normal, zAxis, xAxis)
	if err != nil {
		return quat.Number{}, err
	}
	if invert {
		q = spatialmath.Compose(flipX, q)
	}
	return q, nil
}

// BuildTransform levels the cloud on the plane with the given normal and puts the ground at Z = 0, the
// ground height being estimated by floor among the rotated positions.
func BuildTransform(normal r3.Vector, invert bool, positions []r3.Vector, floor FloorEstimator) (*Transform, error) {
	q, err := LevelingRotation(normal, invert)
	if err != nil {
		return nil, errors.Wrap(err, "cannot level the ground plane")
	}
	rot := spatialmath.QuatToRotationMatrix(q)
	if !rot.IsFinite() {
		return nil, utils.NewDegenerateGeometryError("leveling rotation for normal %v is not finite", normal)
	}

	z := make([]float64, len(positions))
	row := rot.Row(2)
	for i, p := range positions {
		z[i] = row.Dot(p)
	}
	offset, err := floor.Floor(z)
	if err != nil {
		return nil, err
	}
	return &Transform{Rotation: rot, Quaternion: q, ZOffset: offset}, nil
}

// Apply returns a transformed copy of the cloud. Positions are rotated then lowered by ZOffset, normals are
// rotated and kept unit length, and per point orientations are composed with the rotation. Attributes are
// carried over untouched.
func (t *Transform) Apply(cloud *pointcloud.PointCloud) *pointcloud.PointCloud {
	out := cloud.Clone()
	for i, p := range out.Positions {
		p = t.Rotation.Mul(p)
		p.Z -= t.ZOffset
		out.Positions[i] = p
	}
	for i, n := range out.Normals {
		n = t.Rotation.Mul(n)
		if norm := n.Norm(); norm > 0 {
			n = n.Mul(1 / norm)
		}
		out.Normals[i] = n
	}
	for i, o := range out.Orientations {
		out.Orientations[i] = spatialmath.Compose(t.Quaternion, o)
	}
	return out
}
