package pointcloud

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ScalarType is the storage type of a single point property.
type ScalarType int

// The scalar types a point property may be stored as.
const (
	Int8 ScalarType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

var scalarTypeNames = map[ScalarType][]string{
	Int8:    {"char", "int8"},
	Uint8:   {"uchar", "uint8"},
	Int16:   {"short", "int16"},
	Uint16:  {"ushort", "uint16"},
	Int32:   {"int", "int32"},
	Uint32:  {"uint", "uint32"},
	Float32: {"float", "float32"},
	Float64: {"double", "float64"},
}

// ParseScalarType returns the type named by a PLY type keyword, either the classic or the sized spelling.
func ParseScalarType(name string) (ScalarType, error) {
	for t, names := range scalarTypeNames {
		for _, n := range names {
			if n == name {
				return t, nil
			}
		}
	}
	return 0, errors.Errorf("unknown scalar type %q", name)
}

// String returns the classic PLY keyword of the type.
func (t ScalarType) String() string {
	if names, ok := scalarTypeNames[t]; ok {
		return names[0]
	}
	return "ScalarType(" + strconv.Itoa(int(t)) + ")"
}

// Size returns the number of bytes one value occupies in a binary file.
func (t ScalarType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	default:
		return 8
	}
}

func (t ScalarType) isFloat() bool {
	return t == Float32 || t == Float64
}

func (t ScalarType) decode(order binary.ByteOrder, b []byte) float64 {
	switch t {
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Uint16:
		return float64(order.Uint16(b))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Uint32:
		return float64(order.Uint32(b))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

func (t ScalarType) encode(order binary.ByteOrder, b []byte, v float64) {
	if !t.isFloat() {
		v = math.Round(v)
	}
	switch t {
	case Int8:
		b[0] = byte(int8(v))
	case Uint8:
		b[0] = uint8(v)
	case Int16:
		order.PutUint16(b, uint16(int16(v)))
	case Uint16:
		order.PutUint16(b, uint16(v))
	case Int32:
		order.PutUint32(b, uint32(int32(v)))
	case Uint32:
		order.PutUint32(b, uint32(v))
	case Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	default:
		order.PutUint64(b, math.Float64bits(v))
	}
}

func (t ScalarType) format(v float64) string {
	switch t {
	case Float32:
		return strconv.FormatFloat(v, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
}

// Attribute is a named per point column that alignment passes through untouched, such as color,
// opacity, scale or spherical harmonic features. Values are held as float64, which represents every
// supported scalar type exactly.
type Attribute struct {
	Name   string
	Type   ScalarType
	Values []float64
}

// Property is one named, typed column of a point record.
type Property struct {
	Name string
	Type ScalarType
}

// Names of the properties that map onto the first class columns of a cloud.
var (
	positionPropertyNames    = []string{"x", "y", "z"}
	normalPropertyNames      = []string{"nx", "ny", "nz"}
	orientationPropertyNames = []string{"rot_0", "rot_1", "rot_2", "rot_3"}
	colorAttributeNames      = []string{"red", "green", "blue"}

	reservedPropertyNames = func() map[string]bool {
		m := map[string]bool{}
		for _, names := range [][]string{positionPropertyNames, normalPropertyNames, orientationPropertyNames} {
			for _, n := range names {
				m[n] = true
			}
		}
		return m
	}()
)
