package upright

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/upright/utils"
)

// FloorEstimator finds the ground height among the heights of an aligned cloud.
type FloorEstimator interface {
	Floor(z []float64) (float64, error)
}

const (
	defaultHistogramBins  = 200
	histogramLowQuantile  = 0.05
	histogramHighQuantile = 0.95
)

// HistogramFloor takes the ground to be the most populated height. Heights outside the 5th to 95th
// percentile range are ignored so that stray points do not stretch the bins.
type HistogramFloor struct {
	Bins int
}

// Floor returns the center of the tallest histogram bin. Ties keep the lowest bin.
func (h HistogramFloor) Floor(z []float64) (float64, error) {
	if len(z) == 0 {
		return 0, utils.NewInsufficientDataError("z floor", 0, 1)
	}
	bins := h.Bins
	if bins <= 0 {
		bins = defaultHistogramBins
	}
	sorted := append([]float64(nil), z...)
	sort.Float64s(sorted)
	lo := stat.Quantile(histogramLowQuantile, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(histogramHighQuantile, stat.LinInterp, sorted, nil)
	if !(hi > lo) {
		return lo, nil
	}

	first := sort.SearchFloat64s(sorted, lo)
	last := sort.Search(len(sorted), func(i int) bool { return sorted[i] > hi })
	inRange := sorted[first:last]

	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	// the last bin is closed
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, inRange, nil)

	tallest := floats.MaxIdx(counts)
	return (dividers[tallest] + math.Min(dividers[tallest+1], hi)) / 2, nil
}

// PercentileFloor takes the ground to be a low percentile of the heights.
type PercentileFloor struct {
	Percentile float64
}

// Floor returns the configured percentile, or the minimum when there are too few heights for it.
func (p PercentileFloor) Floor(z []float64) (float64, error) {
	if len(z) == 0 {
		return 0, utils.NewInsufficientDataError("z floor", 0, 1)
	}
	v, err := stats.Percentile(z, p.Percentile)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, stats.ErrBounds) {
		return 0, errors.Wrap(err, "cannot compute z floor percentile")
	}
	v, err = stats.Min(z)
	if err != nil {
		return 0, errors.Wrap(err, "cannot compute z floor")
	}
	return v, nil
}
