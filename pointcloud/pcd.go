package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed is the binary_compressed format: columns stored one after the other and LZF compressed.
	PCDCompressed PCDType = 2
)

func colorToPCDInt(pc *PointCloud, i int) uint32 {
	if !pc.hasColor() {
		return 255 << 16
	}
	r, _ := pc.Attribute("red")
	g, _ := pc.Attribute("green")
	b, _ := pc.Attribute("blue")
	var x uint32
	x |= uint32(clampByte(r.Values[i])) << 16
	x |= uint32(clampByte(g.Values[i])) << 8
	x |= uint32(clampByte(b.Values[i])) << 0
	return x
}

func pcdIntToColor(c uint32) (uint8, uint8, uint8) {
	return uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & (c >> 0))
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// ToPCD writes the positions, and color when the cloud has red green blue attributes, as a PCD file.
// Every other column is dropped since PCD has no place for it.
func ToPCD(cloud *PointCloud, outRaw io.Writer, outputType PCDType) error {
	if err := cloud.Validate(); err != nil {
		return err
	}
	out := bufio.NewWriter(outRaw)
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	hasColor := cloud.hasColor()
	switch hasColor {
	case true:
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F U\n"+
			"COUNT 1 1 1 1\n")
	case false:
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	case PCDCompressed:
		_, err = fmt.Fprintf(out, "DATA binary_compressed\n")
	default:
		return errors.Errorf("unknown pcd output type %d", outputType)
	}
	if err != nil {
		return err
	}
	if err := writePCDData(cloud, out, outputType, hasColor); err != nil {
		return err
	}
	return out.Flush()
}

func writePCDData(cloud *PointCloud, out io.Writer, pcdtype PCDType, hasColor bool) error {
	if pcdtype == PCDCompressed {
		return writePCDCompressed(cloud, out, hasColor)
	}
	buf := make([]byte, 16)
	for i, pos := range cloud.Positions {
		var err error
		switch pcdtype {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(cloud, i))
				_, err = out.Write(buf)
			} else {
				_, err = out.Write(buf[:12])
			}
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(cloud, i))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	typ    []pcdValType
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch strings.Join(tokens, " ") {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil || header.size[i] != 4 {
				return errors.Errorf("unsupported SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.typ = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.typ[i] = t
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid COUNT field %s: %s", token, err)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err = strconv.ParseFloat(token, 64); err != nil {
				return errors.Errorf("invalid VIEWPOINT field %s: %s", token, err)
			}
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported DATA field %s", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary PCD file with x y z and optional rgb fields. Color is kept as
// uchar red green blue attributes.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	var (
		pc  *PointCloud
		err error
	)
	switch header.data {
	case PCDAscii:
		pc, err = readPCDAscii(in, header)
	case PCDBinary:
		pc, err = readPCDBinary(in, header)
	case PCDCompressed:
		pc, err = readPCDCompressed(in, header)
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func newPCDCloud(header pcdHeader) *PointCloud {
	pc := NewWithPrealloc(preallocSize(header.points))
	if header.fields == pcdPointColor {
		for _, name := range colorAttributeNames {
			pc.Attributes = append(pc.Attributes, Attribute{Name: name, Type: Uint8, Values: make([]float64, 0, cap(pc.Positions))})
		}
	}
	return pc
}

func appendPCDPoint(pc *PointCloud, slice []float64, header pcdHeader) {
	i := pc.grow()
	pc.Positions[i] = r3.Vector{X: slice[0], Y: slice[1], Z: slice[2]}
	if header.fields == pcdPointColor {
		r, g, b := pcdIntToColor(uint32(slice[3]))
		pc.Attributes[0].Values[i] = float64(r)
		pc.Attributes[1].Values[i] = float64(g)
		pc.Attributes[2].Values[i] = float64(b)
	}
}

// decodePCDField converts the 4 bytes of field j. A packed rgb is kept as its raw bits whatever its
// declared type, since PCL writes it as a float.
func decodePCDField(header pcdHeader, j int, bits uint32) float64 {
	if j == 3 {
		return float64(bits)
	}
	switch header.typ[j] {
	case pcdValInt:
		return float64(int32(bits))
	case pcdValUInt:
		return float64(bits)
	default:
		return float64(math.Float32frombits(bits))
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := newPCDCloud(header)
	point := make([]float64, int(header.fields))
	for i := uint64(0); i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "error reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %s", i, token, err)
			}
		}
		appendPCDPoint(pc, point, header)
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := newPCDCloud(header)
	point := make([]float64, int(header.fields))
	buf := make([]byte, 4*int(header.fields))
	for i := uint64(0); i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "error reading point %d", i)
		}
		for j := range point {
			point[j] = decodePCDField(header, j, binary.LittleEndian.Uint32(buf[4*j:]))
		}
		appendPCDPoint(pc, point, header)
	}
	return pc, nil
}

// maxLZFExpansion bounds the ratio of decompressed to compressed size. A single LZF back reference of
// 2 bytes expands to at most 264.
const maxLZFExpansion = 132

// readPCDCompressed reads a binary_compressed body: the compressed and uncompressed sizes as little
// endian uint32s, then the LZF compressed columns, each holding every point's value for one field.
func readPCDCompressed(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(in, sizes[:]); err != nil {
		return nil, errors.Wrap(err, "error reading compressed pcd sizes")
	}
	compressedSize := uint64(binary.LittleEndian.Uint32(sizes[:4]))
	rawSize := uint64(binary.LittleEndian.Uint32(sizes[4:]))
	stride := 4 * uint64(header.fields)
	if header.points > math.MaxUint32/stride || header.points*stride != rawSize {
		return nil, errors.Errorf("compressed pcd holds %d bytes which does not fit %d points", rawSize, header.points)
	}
	if rawSize > compressedSize*maxLZFExpansion {
		return nil, errors.Errorf("compressed pcd claims %d bytes from only %d compressed", rawSize, compressedSize)
	}

	pc := newPCDCloud(header)
	if rawSize == 0 {
		return pc, nil
	}
	compressed, err := io.ReadAll(io.LimitReader(in, int64(compressedSize)))
	if err != nil {
		return nil, errors.Wrap(err, "error reading compressed pcd data")
	}
	if uint64(len(compressed)) != compressedSize {
		return nil, errors.Errorf("compressed pcd data truncated at %d of %d bytes", len(compressed), compressedSize)
	}
	raw := make([]byte, rawSize)
	n, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decompress pcd data")
	}
	if uint64(n) != rawSize {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", n, rawSize)
	}

	point := make([]float64, int(header.fields))
	for i := uint64(0); i < header.points; i++ {
		for j := range point {
			offset := 4 * (uint64(j)*header.points + i)
			point[j] = decodePCDField(header, j, binary.LittleEndian.Uint32(raw[offset:]))
		}
		appendPCDPoint(pc, point, header)
	}
	return pc, nil
}

func writePCDCompressed(cloud *PointCloud, out io.Writer, hasColor bool) error {
	fields := 3
	if hasColor {
		fields = 4
	}
	n := cloud.Size()
	raw := make([]byte, 4*fields*n)
	for i, pos := range cloud.Positions {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(pos.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(pos.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(pos.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], colorToPCDInt(cloud, i))
		}
	}

	var compressed []byte
	if len(raw) > 0 {
		// incompressible input grows by one control byte per 32 literals
		compressed = make([]byte, len(raw)+len(raw)/16+16)
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "cannot compress pcd data")
		}
		compressed = compressed[:size]
	}

	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[:4], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := out.Write(sizes[:]); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}
