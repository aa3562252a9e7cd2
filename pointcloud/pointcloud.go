// Package pointcloud defines an ordered point cloud with optional per point normals, orientations
// and passthrough attributes, along with readers and writers for the PLY, PCD and LAS formats.
//
// Unlike a spatially keyed cloud, points are addressed by index and never reordered, so every
// column of the cloud stays aligned with its positions through any transformation.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"
)

const (
	// maxPreciseFloat64 is the largest magnitude at which every integer is still exactly representable.
	maxPreciseFloat64 = float64(1 << 53)
	minPreciseFloat64 = -maxPreciseFloat64
)

// PointCloud is an ordered collection of points. Positions is required; Normals and Orientations are
// nil when the source had none. Orientations are unit quaternions with Real, Imag, Jmag, Kmag holding
// w, x, y, z.
type PointCloud struct {
	Positions    []r3.Vector
	Normals      []r3.Vector
	Orientations []quat.Number
	Attributes   []Attribute

	// Layout is the property order the cloud was read with, if any. Writers that support it
	// reproduce this order and these scalar types.
	Layout []Property
}

// New returns a cloud holding the given positions.
func New(positions []r3.Vector) *PointCloud {
	return &PointCloud{Positions: positions}
}

// NewWithPrealloc returns an empty cloud with room for size positions.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{Positions: make([]r3.Vector, 0, size)}
}

// maxPreallocPoints bounds how many points a reader reserves up front from a count declared in a file
// header. Larger clouds grow as their rows are read.
const maxPreallocPoints = 1 << 20

func preallocSize(declared uint64) int {
	if declared > maxPreallocPoints {
		return maxPreallocPoints
	}
	return int(declared)
}

// grow appends a zeroed point to every column of the cloud and returns its index.
func (pc *PointCloud) grow() int {
	pc.Positions = append(pc.Positions, r3.Vector{})
	if pc.Normals != nil {
		pc.Normals = append(pc.Normals, r3.Vector{})
	}
	if pc.Orientations != nil {
		pc.Orientations = append(pc.Orientations, quat.Number{})
	}
	for k := range pc.Attributes {
		pc.Attributes[k].Values = append(pc.Attributes[k].Values, 0)
	}
	return len(pc.Positions) - 1
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return len(pc.Positions)
}

// Validate checks that every present column has exactly one entry per point.
func (pc *PointCloud) Validate() error {
	n := len(pc.Positions)
	if pc.Normals != nil && len(pc.Normals) != n {
		return errors.Errorf("point cloud has %d normals for %d points", len(pc.Normals), n)
	}
	if pc.Orientations != nil && len(pc.Orientations) != n {
		return errors.Errorf("point cloud has %d orientations for %d points", len(pc.Orientations), n)
	}
	seen := make(map[string]bool, len(pc.Attributes))
	for _, a := range pc.Attributes {
		if len(a.Values) != n {
			return errors.Errorf("attribute %q has %d values for %d points", a.Name, len(a.Values), n)
		}
		if seen[a.Name] {
			return errors.Errorf("duplicate attribute %q", a.Name)
		}
		if reservedPropertyNames[a.Name] {
			return errors.Errorf("attribute name %q is reserved", a.Name)
		}
		seen[a.Name] = true
	}
	for i, p := range pc.Positions {
		if !isFinite(p) {
			return errors.Errorf("point %d has a non finite position %v", i, p)
		}
	}
	for i, n := range pc.Normals {
		if !isFinite(n) {
			return errors.Errorf("point %d has a non finite normal %v", i, n)
		}
	}
	for i, q := range pc.Orientations {
		if norm := quat.Abs(q); math.IsNaN(norm) || math.IsInf(norm, 0) {
			return errors.Errorf("point %d has a non finite orientation %v", i, q)
		}
	}
	return nil
}

// Attribute returns the passthrough attribute with the given name.
func (pc *PointCloud) Attribute(name string) (*Attribute, bool) {
	_, idx, ok := lo.FindIndexOf(pc.Attributes, func(a Attribute) bool { return a.Name == name })
	if !ok {
		return nil, false
	}
	return &pc.Attributes[idx], true
}

// AddAttribute appends a passthrough attribute column.
func (pc *PointCloud) AddAttribute(name string, typ ScalarType, values []float64) error {
	if _, ok := pc.Attribute(name); ok {
		return errors.Errorf("attribute %q already exists", name)
	}
	if reservedPropertyNames[name] {
		return errors.Errorf("attribute name %q is reserved", name)
	}
	if len(values) != pc.Size() {
		return errors.Errorf("attribute %q has %d values for %d points", name, len(values), pc.Size())
	}
	pc.Attributes = append(pc.Attributes, Attribute{Name: name, Type: typ, Values: values})
	return nil
}

// Clone returns a deep copy of the cloud.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{
		Positions: append([]r3.Vector(nil), pc.Positions...),
		Layout:    append([]Property(nil), pc.Layout...),
	}
	if pc.Normals != nil {
		out.Normals = append([]r3.Vector(nil), pc.Normals...)
	}
	if pc.Orientations != nil {
		out.Orientations = append([]quat.Number(nil), pc.Orientations...)
	}
	if pc.Attributes != nil {
		out.Attributes = lo.Map(pc.Attributes, func(a Attribute, _ int) Attribute {
			return Attribute{Name: a.Name, Type: a.Type, Values: append([]float64(nil), a.Values...)}
		})
	}
	return out
}

// MetaData returns the bounds of the cloud and which optional columns it carries.
func (pc *PointCloud) MetaData() MetaData {
	meta := NewMetaData()
	for _, p := range pc.Positions {
		meta.Merge(p)
	}
	meta.HasNormals = pc.Normals != nil
	meta.HasOrientations = pc.Orientations != nil
	meta.HasColor = pc.hasColor()
	return meta
}

func (pc *PointCloud) hasColor() bool {
	for _, name := range colorAttributeNames {
		if _, ok := pc.Attribute(name); !ok {
			return false
		}
	}
	return true
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasNormals      bool
	HasOrientations bool
	HasColor        bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalPoints int
}

// NewMetaData returns an empty MetaData whose bounds are ready to be merged into.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge grows the bounds to include v.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.totalPoints++
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Diagonal returns the length of the bounding box diagonal, or 0 for an empty cloud.
func (meta MetaData) Diagonal() float64 {
	if meta.totalPoints == 0 {
		return 0
	}
	return r3.Vector{X: meta.MaxX - meta.MinX, Y: meta.MaxY - meta.MinY, Z: meta.MaxZ - meta.MinZ}.Norm()
}

func isFinite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
