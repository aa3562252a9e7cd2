// Package segmentation implements the plane and cluster segmentation used to find the ground of a scene.
package segmentation

import (
	"github.com/golang/geo/r3"

	"go.viam.com/upright/utils"
)

// minNormalNorm is the length below which a fitted normal is treated as degenerate.
const minNormalNorm = 1e-12

// PlaneCandidate defines a plane found in a point set: Normal.X*x + Normal.Y*y + Normal.Z*z + Offset = 0.
// Normal is unit length and oriented so that Normal.Z >= 0. Inliers are indices into the point set the
// plane was fitted to.
type PlaneCandidate struct {
	Normal      r3.Vector
	Offset      float64
	Inliers     []int
	InlierCount int
}

// NewPlaneCandidate normalizes and orients the plane equation and attaches its inliers.
func NewPlaneCandidate(normal r3.Vector, offset float64, inliers []int) (*PlaneCandidate, error) {
	norm := normal.Norm()
	if norm < minNormalNorm {
		return nil, utils.NewDegenerateGeometryError("plane normal %v has near zero magnitude", normal)
	}
	normal = normal.Mul(1 / norm)
	offset /= norm
	if normal.Z < 0 {
		normal = normal.Mul(-1)
		offset = -offset
	}
	return &PlaneCandidate{Normal: normal, Offset: offset, Inliers: inliers, InlierCount: len(inliers)}, nil
}

// Distance calculates the signed distance from the plane to the input point. Points on the side the
// normal points to are positive.
func (p *PlaneCandidate) Distance(pt r3.Vector) float64 {
	return p.Normal.Dot(pt) + p.Offset
}
