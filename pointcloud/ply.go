package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"
)

// PLYFormat is the encoding of the body of a PLY file.
type PLYFormat int

const (
	// PLYBinaryLittleEndian is the binary_little_endian format, the default for writing.
	PLYBinaryLittleEndian PLYFormat = iota
	// PLYBinaryBigEndian is the binary_big_endian format.
	PLYBinaryBigEndian
	// PLYAscii is the ascii format.
	PLYAscii
)

func (f PLYFormat) String() string {
	switch f {
	case PLYBinaryLittleEndian:
		return "binary_little_endian"
	case PLYBinaryBigEndian:
		return "binary_big_endian"
	default:
		return "ascii"
	}
}

func (f PLYFormat) byteOrder() binary.ByteOrder {
	if f == PLYBinaryBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type plyHeader struct {
	format     PLYFormat
	vertices   int
	properties []Property
}

func parsePLYHeader(in *bufio.Reader) (plyHeader, error) {
	var header plyHeader
	line, err := in.ReadString('\n')
	if err != nil {
		return header, errors.Wrap(err, "error reading ply magic")
	}
	if strings.TrimSpace(line) != "ply" {
		return header, errors.New("not a ply file")
	}

	var (
		sawFormat   bool
		sawVertex   bool
		element     string
		lineNumber  = 1
		elementSeen = false
	)
	for {
		line, err = in.ReadString('\n')
		lineNumber++
		if err != nil {
			return header, errors.Wrapf(err, "error reading ply header line %d", lineNumber)
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "comment", "obj_info":
		case "format":
			if len(tokens) != 3 {
				return header, errors.Errorf("malformed format line %q", strings.TrimSpace(line))
			}
			switch tokens[1] {
			case "ascii":
				header.format = PLYAscii
			case "binary_little_endian":
				header.format = PLYBinaryLittleEndian
			case "binary_big_endian":
				header.format = PLYBinaryBigEndian
			default:
				return header, errors.Errorf("unsupported ply format %q", tokens[1])
			}
			sawFormat = true
		case "element":
			if len(tokens) != 3 {
				return header, errors.Errorf("malformed element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(tokens[2])
			if err != nil || count < 0 {
				return header, errors.Errorf("invalid element count %q", tokens[2])
			}
			element = tokens[1]
			if element == "vertex" {
				if sawVertex {
					return header, errors.New("duplicate vertex element")
				}
				sawVertex = true
				header.vertices = count
			} else if !sawVertex && count > 0 {
				// the body is read up to the end of the vertex element only
				return header, errors.Errorf("element %q before the vertex element is not supported", element)
			}
			elementSeen = true
		case "property":
			if !elementSeen {
				return header, errors.New("property declared outside of an element")
			}
			if element != "vertex" {
				continue
			}
			if len(tokens) != 3 {
				if len(tokens) > 1 && tokens[1] == "list" {
					return header, errors.New("list properties on vertices are not supported")
				}
				return header, errors.Errorf("malformed property line %q", strings.TrimSpace(line))
			}
			typ, err := ParseScalarType(tokens[1])
			if err != nil {
				return header, err
			}
			header.properties = append(header.properties, Property{Name: tokens[2], Type: typ})
		case "end_header":
			if !sawFormat {
				return header, errors.New("ply header has no format line")
			}
			if !sawVertex {
				return header, errors.New("ply header has no vertex element")
			}
			return header, nil
		default:
			return header, errors.Errorf("unexpected ply header line %q", strings.TrimSpace(line))
		}
	}
}

// ReadPLY reads the vertex element of a PLY file. Positions, normals (nx ny nz) and orientations
// (rot_0..rot_3, w first) become first class columns; every other property is kept as a passthrough
// attribute, and the original property order is recorded in Layout.
func ReadPLY(inRaw io.Reader) (*PointCloud, error) {
	in := bufio.NewReader(inRaw)
	header, err := parsePLYHeader(in)
	if err != nil {
		return nil, err
	}

	pc, setters, err := newCloudForProperties(header.properties, header.vertices)
	if err != nil {
		return nil, err
	}

	row := make([]float64, len(header.properties))
	switch header.format {
	case PLYAscii:
		for i := 0; i < header.vertices; i++ {
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, errors.Wrapf(err, "error reading vertex %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != len(header.properties) {
				return nil, errors.Errorf("vertex %d has %d values, expected %d", i, len(tokens), len(header.properties))
			}
			for j, token := range tokens {
				row[j], err = strconv.ParseFloat(token, 64)
				if err != nil {
					return nil, errors.Errorf("invalid vertex %d value %q", i, token)
				}
			}
			idx := pc.grow()
			for j, set := range setters {
				set(idx, row[j])
			}
		}
	default:
		order := header.format.byteOrder()
		stride := lo.SumBy(header.properties, func(p Property) int { return p.Type.Size() })
		buf := make([]byte, stride)
		for i := 0; i < header.vertices; i++ {
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "error reading vertex %d", i)
			}
			offset := 0
			for j, p := range header.properties {
				row[j] = p.Type.decode(order, buf[offset:])
				offset += p.Type.Size()
			}
			idx := pc.grow()
			for j, set := range setters {
				set(idx, row[j])
			}
		}
	}
	return pc, nil
}

// newCloudForProperties returns an empty cloud with the columns the properties describe, with room for
// up to n points, and one setter per property. Rows must be added with grow before they are set.
func newCloudForProperties(props []Property, n int) (*PointCloud, []func(int, float64), error) {
	has := func(names []string) (bool, error) {
		count := 0
		for _, name := range names {
			if lo.ContainsBy(props, func(p Property) bool { return p.Name == name }) {
				count++
			}
		}
		if count != 0 && count != len(names) {
			return false, errors.Errorf("incomplete property group %v", names)
		}
		return count == len(names), nil
	}
	hasPositions, err := has(positionPropertyNames)
	if err != nil {
		return nil, nil, err
	}
	if !hasPositions {
		return nil, nil, errors.New("vertex element has no x y z properties")
	}
	hasNormals, err := has(normalPropertyNames)
	if err != nil {
		return nil, nil, err
	}
	hasOrientations, err := has(orientationPropertyNames)
	if err != nil {
		return nil, nil, err
	}

	pc := NewWithPrealloc(preallocSize(uint64(n)))
	pc.Layout = append([]Property(nil), props...)
	if hasNormals {
		pc.Normals = make([]r3.Vector, 0, cap(pc.Positions))
	}
	if hasOrientations {
		pc.Orientations = make([]quat.Number, 0, cap(pc.Positions))
	}

	setters := make([]func(int, float64), 0, len(props))
	for _, p := range props {
		switch p.Name {
		case "x":
			setters = append(setters, func(i int, v float64) { pc.Positions[i].X = v })
		case "y":
			setters = append(setters, func(i int, v float64) { pc.Positions[i].Y = v })
		case "z":
			setters = append(setters, func(i int, v float64) { pc.Positions[i].Z = v })
		case "nx":
			setters = append(setters, func(i int, v float64) { pc.Normals[i].X = v })
		case "ny":
			setters = append(setters, func(i int, v float64) { pc.Normals[i].Y = v })
		case "nz":
			setters = append(setters, func(i int, v float64) { pc.Normals[i].Z = v })
		case "rot_0":
			setters = append(setters, func(i int, v float64) { pc.Orientations[i].Real = v })
		case "rot_1":
			setters = append(setters, func(i int, v float64) { pc.Orientations[i].Imag = v })
		case "rot_2":
			setters = append(setters, func(i int, v float64) { pc.Orientations[i].Jmag = v })
		case "rot_3":
			setters = append(setters, func(i int, v float64) { pc.Orientations[i].Kmag = v })
		default:
			if _, ok := pc.Attribute(p.Name); ok {
				return nil, nil, errors.Errorf("duplicate property %q", p.Name)
			}
			k := len(pc.Attributes)
			pc.Attributes = append(pc.Attributes, Attribute{Name: p.Name, Type: p.Type, Values: make([]float64, 0, cap(pc.Positions))})
			setters = append(setters, func(i int, v float64) { pc.Attributes[k].Values[i] = v })
		}
	}
	return pc, setters, nil
}

// writeLayout returns the recorded Layout when it still describes exactly the columns of the cloud,
// otherwise a default layout of float positions, normals, attributes and orientations, in that order.
func (pc *PointCloud) writeLayout() []Property {
	var want []string
	want = append(want, positionPropertyNames...)
	if pc.Normals != nil {
		want = append(want, normalPropertyNames...)
	}
	for _, a := range pc.Attributes {
		want = append(want, a.Name)
	}
	if pc.Orientations != nil {
		want = append(want, orientationPropertyNames...)
	}

	if len(pc.Layout) == len(want) {
		names := lo.Map(pc.Layout, func(p Property, _ int) string { return p.Name })
		if len(lo.Uniq(names)) == len(names) && lo.Every(names, want) {
			return pc.Layout
		}
	}

	layout := make([]Property, 0, len(want))
	for _, name := range want {
		typ := Float32
		if a, ok := pc.Attribute(name); ok {
			typ = a.Type
		}
		layout = append(layout, Property{Name: name, Type: typ})
	}
	return layout
}

func (pc *PointCloud) getter(name string) func(int) float64 {
	switch name {
	case "x":
		return func(i int) float64 { return pc.Positions[i].X }
	case "y":
		return func(i int) float64 { return pc.Positions[i].Y }
	case "z":
		return func(i int) float64 { return pc.Positions[i].Z }
	case "nx":
		return func(i int) float64 { return pc.Normals[i].X }
	case "ny":
		return func(i int) float64 { return pc.Normals[i].Y }
	case "nz":
		return func(i int) float64 { return pc.Normals[i].Z }
	case "rot_0":
		return func(i int) float64 { return pc.Orientations[i].Real }
	case "rot_1":
		return func(i int) float64 { return pc.Orientations[i].Imag }
	case "rot_2":
		return func(i int) float64 { return pc.Orientations[i].Jmag }
	case "rot_3":
		return func(i int) float64 { return pc.Orientations[i].Kmag }
	}
	a, _ := pc.Attribute(name)
	values := a.Values
	return func(i int) float64 { return values[i] }
}

// ToPLY writes the cloud as a PLY vertex element in the given format.
func ToPLY(cloud *PointCloud, outRaw io.Writer, format PLYFormat) error {
	if err := cloud.Validate(); err != nil {
		return err
	}
	layout := cloud.writeLayout()
	getters := lo.Map(layout, func(p Property, _ int) func(int) float64 { return cloud.getter(p.Name) })

	out := bufio.NewWriter(outRaw)
	if _, err := fmt.Fprintf(out, "ply\nformat %s 1.0\nelement vertex %d\n", format, cloud.Size()); err != nil {
		return err
	}
	for _, p := range layout {
		if _, err := fmt.Fprintf(out, "property %s %s\n", p.Type, p.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(out, "end_header\n"); err != nil {
		return err
	}

	switch format {
	case PLYAscii:
		tokens := make([]string, len(layout))
		for i := 0; i < cloud.Size(); i++ {
			for j, p := range layout {
				tokens[j] = p.Type.format(getters[j](i))
			}
			if _, err := fmt.Fprintln(out, strings.Join(tokens, " ")); err != nil {
				return err
			}
		}
	default:
		order := format.byteOrder()
		stride := lo.SumBy(layout, func(p Property) int { return p.Type.Size() })
		buf := make([]byte, stride)
		for i := 0; i < cloud.Size(); i++ {
			offset := 0
			for j, p := range layout {
				p.Type.encode(order, buf[offset:], getters[j](i))
				offset += p.Type.Size()
			}
			if _, err := out.Write(buf); err != nil {
				return err
			}
		}
	}
	return out.Flush()
}
