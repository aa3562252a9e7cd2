package pointcloud

import (
	"fmt"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/upright/logging"
)

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error. Point format 2 colors become uchar red green blue attributes.
func NewFromLASFile(fn string, logger logging.Logger) (*PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(lf.Close)

	n := lf.Header.NumberPoints
	pc := &PointCloud{Positions: make([]r3.Vector, 0, n)}
	hasColor := lf.Header.PointFormatID == 2
	var red, green, blue []float64
	if hasColor {
		red, green, blue = make([]float64, 0, n), make([]float64, 0, n), make([]float64, 0, n)
	}
	for i := 0; i < n; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64 {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", data, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}
		pc.Positions = append(pc.Positions, r3.Vector{X: x, Y: y, Z: z})

		if hasColor {
			var r, g, b uint16
			if rgb := p.RgbData(); rgb != nil {
				r, g, b = rgb.Red, rgb.Green, rgb.Blue
			}
			red = append(red, float64(r/256))
			green = append(green, float64(g/256))
			blue = append(blue, float64(b/256))
		}
	}
	if hasColor {
		pc.Attributes = []Attribute{
			{Name: "red", Type: Uint8, Values: red},
			{Name: "green", Type: Uint8, Values: green},
			{Name: "blue", Type: Uint8, Values: blue},
		}
	}
	return pc, nil
}

// WriteToLASFile writes the positions, and color when the cloud has red green blue attributes, out to
// a LAS file. Every other column is dropped since LAS has no place for it.
func WriteToLASFile(cloud *PointCloud, fn string) (err error) {
	if err = cloud.Validate(); err != nil {
		return
	}
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	hasColor := cloud.hasColor()
	pointFormatID := 0
	if hasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var red, green, blue *Attribute
	if hasColor {
		red, _ = cloud.Attribute("red")
		green, _ = cloud.Attribute("green")
		blue, _ = cloud.Attribute("blue")
	}
	for i, pos := range cloud.Positions {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			// floating point lossiness validated/warned from set/load
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if hasColor {
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(clampByte(red.Values[i])) * 256,
					Green: uint16(clampByte(green.Values[i])) * 256,
					Blue:  uint16(clampByte(blue.Values[i])) * 256,
				},
			}
		}
		if err = lf.AddLasPoint(lp); err != nil {
			return
		}
	}

	// nolint:nakedret
	return
}
