package segmentation

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// NoiseLabel marks points that belong to no cluster.
const NoiseLabel = -1

const unvisited = -2

// ClusterResult describes the largest density based cluster of a point set.
type ClusterResult struct {
	// Size is the number of points in the largest cluster, 0 when there is none.
	Size int
	// Count is the number of clusters found.
	Count int
	// Members are the indices of the points of the largest cluster in ascending order, nil when there is none.
	Members []int
}

// LargestConnectedComponent groups points with DBSCAN and reports the largest cluster. A point is a core point
// when at least minPoints points, itself included, lie within eps of it. Clusters are the maximal sets of points
// reachable through core points; anything else is noise. Fewer than minPoints points yield no cluster.
func LargestConnectedComponent(points []r3.Vector, eps float64, minPoints int) ClusterResult {
	labels, count := DBSCAN(points, eps, minPoints)
	if count == 0 {
		return ClusterResult{}
	}

	sizes := make([]int, count)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	largest := 0
	for c, size := range sizes {
		// ties keep the cluster found first
		if size > sizes[largest] {
			largest = c
		}
	}
	members := make([]int, 0, sizes[largest])
	for i, l := range labels {
		if l == largest {
			members = append(members, i)
		}
	}
	return ClusterResult{Size: sizes[largest], Count: count, Members: members}
}

// DBSCAN labels every point with its cluster, numbered from 0 in the order clusters are discovered, or with
// NoiseLabel. Border points join the first cluster that reaches them. It returns the labels and the number
// of clusters.
func DBSCAN(points []r3.Vector, eps float64, minPoints int) ([]int, int) {
	labels := make([]int, len(points))
	if len(points) == 0 || len(points) < minPoints || eps <= 0 {
		for i := range labels {
			labels[i] = NoiseLabel
		}
		return labels, 0
	}
	for i := range labels {
		labels[i] = unvisited
	}

	tree := newPointTree(points)
	count := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := tree.neighborsInRadius(points[i], eps)
		if len(neighbors) < minPoints {
			labels[i] = NoiseLabel
			continue
		}

		c := count
		count++
		labels[i] = c
		// points are labeled as they are queued so each one is expanded at most once
		var queue []int
		join := func(neighbors []int) {
			for _, k := range neighbors {
				switch labels[k] {
				case NoiseLabel:
					labels[k] = c
				case unvisited:
					labels[k] = c
					queue = append(queue, k)
				}
			}
		}
		join(neighbors)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if next := tree.neighborsInRadius(points[j], eps); len(next) >= minPoints {
				join(next)
			}
		}
	}
	return labels, count
}

// pointTree is a k-d tree over a point set that remembers the index of each point.
type pointTree struct {
	tree *kdtree.Tree
}

func newPointTree(points []r3.Vector) *pointTree {
	pts := make(indexedPoints, len(points))
	for i, p := range points {
		pts[i] = indexedPoint{Vector: p, index: i}
	}
	return &pointTree{tree: kdtree.New(pts, false)}
}

// neighborsInRadius returns the indices of every point within radius of q, including q itself when it is
// part of the tree.
func (t *pointTree) neighborsInRadius(q r3.Vector, radius float64) []int {
	keep := kdtree.NewDistKeeper(radius * radius)
	t.tree.NearestSet(keep, indexedPoint{Vector: q, index: -1})
	out := make([]int, 0, keep.Len())
	for _, c := range keep.Heap {
		// the keeper's distance sentinel has no Comparable
		if c.Comparable == nil {
			continue
		}
		out = append(out, c.Comparable.(indexedPoint).index)
	}
	return out
}

// indexedPoint is a kdtree.Comparable position carrying its index in the source slice, since building a tree
// reorders its input.
type indexedPoint struct {
	r3.Vector
	index int
}

// Compare satisfies the axis comparisons method of the kdtree.Comparable interface.
// The dimensions are:
//
//	0 = X
//	1 = Y
//	2 = Z
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions to be considered.
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared distance between the receiver and c.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.Vector.Sub(q.Vector).Norm2()
}

// indexedPoints is a collection of indexedPoint that satisfies kdtree.Interface.
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return pointPlane{indexedPoints: p, Dim: d}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// pointPlane is required to help indexedPoints.
type pointPlane struct {
	kdtree.Dim
	indexedPoints
}

func (p pointPlane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}

func (p pointPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
