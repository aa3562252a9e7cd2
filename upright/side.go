package upright

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/spatialmath"
	"go.viam.com/upright/vision/segmentation"
)

// SideStats summarizes what lies on one side of a candidate ground plane.
type SideStats struct {
	// PointCount is the number of points strictly on this side of the plane, at any distance.
	PointCount int
	// WindowCount is the number of points whose height above the plane on this side lies in (margin, range).
	WindowCount int
	// LargestComponentSize and ComponentCount describe the clusters found among the window points.
	LargestComponentSize int
	ComponentCount       int
	// XYDiagonal is the diagonal of the in plane bounding box of the largest cluster, 0 when there is none.
	XYDiagonal float64
	// LocalDensityRatio is WindowCount / (other side WindowCount + 1).
	LocalDensityRatio float64
	// MeanNormalAlignment is the mean component of the plane inliers' normals pointing towards this side.
	MeanNormalAlignment float64
	HasNormals          bool
}

// IsEmpty returns whether nothing was found near the plane on this side.
func (s SideStats) IsEmpty() bool {
	return s.WindowCount == 0
}

// SideConfig bounds the band around a plane where objects are looked for.
type SideConfig struct {
	Margin           float64
	Range            float64
	ClusterEps       float64
	ClusterMinPoints int
}

// Sample is the subset of a cloud the engine scores candidates on. Normals is nil when the cloud has none.
type Sample struct {
	Positions []r3.Vector
	Normals   []r3.Vector
}

// SideReport is the result of looking at both sides of a plane candidate.
type SideReport struct {
	Above SideStats
	Below SideStats
	// ZPlane is the height of the plane once the sample is rotated so that its normal is +Z.
	ZPlane float64
	// Extent is the size of the bounding box of the rotated sample.
	Extent r3.Vector
}

var (
	xAxis = r3.Vector{X: 1}
	zAxis = r3.Vector{Z: 1}
)

// ComputeSideStats rotates the sample so that the plane normal points along +Z and measures the points above
// and below the plane. Plane inliers must index into the sample.
func ComputeSideStats(plane *segmentation.PlaneCandidate, sample Sample, cfg SideConfig) (*SideReport, error) {
	rot, err := spatialmath.RotationBetween(plane.Normal, zAxis, xAxis)
	if err != nil {
		return nil, errors.Wrap(err, "cannot rotate plane into test frame")
	}

	rotated := make([]r3.Vector, len(sample.Positions))
	extent := pointcloud.NewMetaData()
	for i, p := range sample.Positions {
		rotated[i] = rot.Mul(p)
		extent.Merge(rotated[i])
	}

	zPlane, err := planeHeight(plane, rotated)
	if err != nil {
		return nil, err
	}

	var (
		above, below             SideStats
		aboveWindow, belowWindow []r3.Vector
	)
	for _, p := range rotated {
		h := p.Z - zPlane
		switch {
		case h > 0:
			above.PointCount++
			if h > cfg.Margin && h < cfg.Range {
				aboveWindow = append(aboveWindow, p)
			}
		case h < 0:
			below.PointCount++
			if -h > cfg.Margin && -h < cfg.Range {
				belowWindow = append(belowWindow, p)
			}
		}
	}
	above.WindowCount, below.WindowCount = len(aboveWindow), len(belowWindow)
	above.LocalDensityRatio = float64(above.WindowCount) / float64(below.WindowCount+1)
	below.LocalDensityRatio = float64(below.WindowCount) / float64(above.WindowCount+1)
	clusterSide(&above, aboveWindow, cfg)
	clusterSide(&below, belowWindow, cfg)

	if sample.Normals != nil && len(plane.Inliers) > 0 {
		var sum float64
		for _, idx := range plane.Inliers {
			sum += rot.Mul(sample.Normals[idx]).Z
		}
		c := sum / float64(len(plane.Inliers))
		above.HasNormals, below.HasNormals = true, true
		above.MeanNormalAlignment, below.MeanNormalAlignment = c, -c
	}

	return &SideReport{Above: above, Below: below, ZPlane: zPlane, Extent: extentOf(extent)}, nil
}

// planeHeight is the median rotated height of the plane inliers. A plane without inliers falls back to
// the height given by its equation.
func planeHeight(plane *segmentation.PlaneCandidate, rotated []r3.Vector) (float64, error) {
	if len(plane.Inliers) == 0 {
		return -plane.Offset, nil
	}
	z := make([]float64, len(plane.Inliers))
	for i, idx := range plane.Inliers {
		if idx < 0 || idx >= len(rotated) {
			return 0, errors.Errorf("plane inlier %d out of range of %d sample points", idx, len(rotated))
		}
		z[i] = rotated[idx].Z
	}
	median, err := stats.Median(z)
	if err != nil {
		return 0, errors.Wrap(err, "cannot compute plane height")
	}
	return median, nil
}

func clusterSide(side *SideStats, window []r3.Vector, cfg SideConfig) {
	res := segmentation.LargestConnectedComponent(window, cfg.ClusterEps, cfg.ClusterMinPoints)
	side.LargestComponentSize = res.Size
	side.ComponentCount = res.Count
	if res.Size == 0 {
		return
	}
	meta := pointcloud.NewMetaData()
	for _, idx := range res.Members {
		meta.Merge(window[idx])
	}
	size := extentOf(meta)
	side.XYDiagonal = math.Hypot(size.X, size.Y)
}

// extentOf is the size of the bounding box described by meta, zero for an empty one.
func extentOf(meta pointcloud.MetaData) r3.Vector {
	if meta.Diagonal() == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: meta.MaxX - meta.MinX, Y: meta.MaxY - meta.MinY, Z: meta.MaxZ - meta.MinZ}
}
