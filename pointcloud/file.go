package pointcloud

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/upright/logging"
)

// SupportedExtensions are the file extensions NewFromFile and WriteToFile understand.
var SupportedExtensions = []string{".ply", ".pcd", ".las"}

// IsSupportedFile reports whether the file extension names a readable point cloud format.
func IsSupportedFile(fn string) bool {
	ext := strings.ToLower(filepath.Ext(fn))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger logging.Logger) (*PointCloud, error) {
	var (
		pc  *PointCloud
		err error
	)
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		pc, err = NewFromLASFile(fn, logger)
	case ".ply", ".pcd":
		pc, err = readFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %q", fn)
	}
	if err := pc.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid point cloud in %q", fn)
	}
	logger.Debugw("read point cloud", "file", fn, "points", pc.Size(),
		"normals", pc.Normals != nil, "orientations", pc.Orientations != nil, "attributes", len(pc.Attributes))
	return pc, nil
}

func readFile(fn string) (*PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if strings.ToLower(filepath.Ext(fn)) == ".pcd" {
		return ReadPCD(f)
	}
	return ReadPLY(f)
}

// WriteToFile writes the cloud to fn in the format its extension names. PLY files are written
// binary little endian.
func WriteToFile(cloud *PointCloud, fn string) (err error) {
	ext := strings.ToLower(filepath.Ext(fn))
	if ext == ".las" {
		return WriteToLASFile(cloud, fn)
	}
	if ext != ".ply" && ext != ".pcd" {
		return errors.Errorf("do not know how to write file %q", fn)
	}

	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if ext == ".pcd" {
		return ToPCD(cloud, f, PCDBinary)
	}
	return ToPLY(cloud, f, PLYBinaryLittleEndian)
}
