package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// InsufficientDataError is returned when a stage receives fewer points than it needs to produce a
// meaningful result. Callers can usually recover by passing the cloud through unmodified.
type InsufficientDataError struct {
	Stage string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data, have %d points but need at least %d", e.Stage, e.Have, e.Need)
}

// NewInsufficientDataError is used when an operation has too few points to work with.
func NewInsufficientDataError(stage string, have, need int) error {
	return errors.WithStack(&InsufficientDataError{Stage: stage, Have: have, Need: need})
}

// IsInsufficientData returns whether err is, or wraps, an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// NoUsablePlaneError is returned when every plane candidate was rejected.
type NoUsablePlaneError struct {
	Candidates int
}

func (e *NoUsablePlaneError) Error() string {
	return fmt.Sprintf("no usable plane among %d candidates", e.Candidates)
}

// NewNoUsablePlaneError is used when no plane candidate earned a positive score.
func NewNoUsablePlaneError(candidates int) error {
	return errors.WithStack(&NoUsablePlaneError{Candidates: candidates})
}

// IsNoUsablePlane returns whether err is, or wraps, a NoUsablePlaneError.
func IsNoUsablePlane(err error) bool {
	var target *NoUsablePlaneError
	return errors.As(err, &target)
}

// DegenerateGeometryError is returned when a geometric construction has no unique or finite answer,
// e.g. a zero length normal or an antiparallel rotation without a usable fallback axis.
type DegenerateGeometryError struct {
	Reason string
}

func (e *DegenerateGeometryError) Error() string {
	return "degenerate geometry: " + e.Reason
}

// NewDegenerateGeometryError is used when a geometric input has no well defined result.
func NewDegenerateGeometryError(format string, args ...interface{}) error {
	return errors.WithStack(&DegenerateGeometryError{Reason: fmt.Sprintf(format, args...)})
}

// IsDegenerateGeometry returns whether err is, or wraps, a DegenerateGeometryError.
func IsDegenerateGeometry(err error) bool {
	var target *DegenerateGeometryError
	return errors.As(err, &target)
}
