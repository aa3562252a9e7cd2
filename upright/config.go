package upright

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/vision/segmentation"
)

// PolicyName selects the DecisionPolicy used to resolve which side of the ground is the object side.
type PolicyName string

// The known decision policies.
const (
	PolicyAuto            PolicyName = "auto"
	PolicyConnectivity    PolicyName = "connectivity"
	PolicyCompactness     PolicyName = "compactness"
	PolicyDensityRatio    PolicyName = "density_ratio"
	PolicyNormalConsensus PolicyName = "normal_consensus"
)

// RankerName selects how plane candidates are scored against each other.
type RankerName string

// The known rankers.
const (
	RankerInliers RankerName = "inliers"
	RankerAspect  RankerName = "aspect"
)

// FloorMethod selects how the ground height of the rotated cloud is estimated.
type FloorMethod string

// The known floor estimators.
const (
	FloorHistogram  FloorMethod = "histogram"
	FloorPercentile FloorMethod = "percentile"
)

// Config holds every tunable of the alignment engine. Scale dependent fields left at zero are derived from
// the size of the cloud, see DeriveDefaults.
type Config struct {
	// plane extraction
	DistanceThreshold   float64 `json:"distance_threshold,omitempty"`
	RANSACIterations    int     `json:"ransac_iterations,omitempty"`
	MaxPlaneCandidates  int     `json:"max_plane_candidates,omitempty"`
	MinPointsToContinue int     `json:"min_points_to_continue,omitempty"`
	SampleSize          int     `json:"sample_size,omitempty"`

	// side classification
	SideMargin       float64 `json:"side_margin,omitempty"`
	SideRange        float64 `json:"side_range,omitempty"`
	ClusterEps       float64 `json:"cluster_eps,omitempty"`
	ClusterMinPoints int     `json:"cluster_min_points,omitempty"`

	DecisionPolicy           PolicyName `json:"decision_policy,omitempty"`
	DensityRatioThreshold    float64    `json:"density_ratio_threshold,omitempty"`
	NormalConsensusThreshold float64    `json:"normal_consensus_threshold,omitempty"`

	Ranker RankerName `json:"ranker,omitempty"`

	// ground height
	ZFloorMethod     FloorMethod `json:"z_floor_method,omitempty"`
	ZFloorPercentile float64     `json:"z_floor_percentile,omitempty"`
	HistogramBins    int         `json:"histogram_bins,omitempty"`

	// Seed drives every random choice of the engine. 0 means the default seed.
	Seed int64 `json:"seed,omitempty"`
}

// DefaultConfig returns a Config with the scale independent defaults set. The scale dependent fields are
// left at zero and get derived per cloud by Resolve.
func DefaultConfig() Config {
	return Config{
		RANSACIterations:         1000,
		MaxPlaneCandidates:       3,
		MinPointsToContinue:      1000,
		SampleSize:               50000,
		ClusterMinPoints:         10,
		DecisionPolicy:           PolicyAuto,
		DensityRatioThreshold:    2.0,
		NormalConsensusThreshold: 0.2,
		Ranker:                   RankerInliers,
		ZFloorMethod:             FloorHistogram,
		ZFloorPercentile:         2,
		HistogramBins:            200,
		Seed:                     1,
	}
}

// DeriveDefaults returns DefaultConfig with the distance parameters scaled to the bounding box diagonal of
// the cloud.
func DeriveDefaults(cloud *pointcloud.PointCloud) Config {
	cfg := DefaultConfig()
	s := cloud.MetaData().Diagonal()
	cfg.DistanceThreshold = math.Max(0.001, 0.01*s)
	cfg.SideMargin = math.Max(0.005, 0.01*s)
	// the band must stay open on very small scenes
	cfg.SideRange = math.Max(0.3*s, 2*cfg.SideMargin)
	cfg.ClusterEps = math.Max(0.002, 0.02*s)
	return cfg
}

// Resolve returns a copy of cfg where every zero valued field is taken from DeriveDefaults(cloud).
func (cfg Config) Resolve(cloud *pointcloud.PointCloud) Config {
	def := DeriveDefaults(cloud)
	out := cfg
	setFloat := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	setInt := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	setFloat(&out.DistanceThreshold, def.DistanceThreshold)
	setInt(&out.RANSACIterations, def.RANSACIterations)
	setInt(&out.MaxPlaneCandidates, def.MaxPlaneCandidates)
	setInt(&out.MinPointsToContinue, def.MinPointsToContinue)
	setInt(&out.SampleSize, def.SampleSize)
	setFloat(&out.SideMargin, def.SideMargin)
	// a derived band starts past the margin actually in use
	setFloat(&out.SideRange, math.Max(def.SideRange, 2*out.SideMargin))
	setFloat(&out.ClusterEps, def.ClusterEps)
	setInt(&out.ClusterMinPoints, def.ClusterMinPoints)
	setFloat(&out.DensityRatioThreshold, def.DensityRatioThreshold)
	setFloat(&out.NormalConsensusThreshold, def.NormalConsensusThreshold)
	setFloat(&out.ZFloorPercentile, def.ZFloorPercentile)
	setInt(&out.HistogramBins, def.HistogramBins)
	if out.DecisionPolicy == "" {
		out.DecisionPolicy = def.DecisionPolicy
	}
	if out.Ranker == "" {
		out.Ranker = def.Ranker
	}
	if out.ZFloorMethod == "" {
		out.ZFloorMethod = def.ZFloorMethod
	}
	if out.Seed == 0 {
		out.Seed = def.Seed
	}
	return out
}

// Validate ensures all parts of the config are valid. Zero values are accepted since Resolve fills them in.
func (cfg *Config) Validate(path string) error {
	var err error
	nonNegative := func(field string, v float64) {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			err = multierr.Append(err, newConfigFieldError(path, field, "must be a finite number >= 0, got %v", v))
		}
	}
	nonNegativeInt := func(field string, v int) {
		if v < 0 {
			err = multierr.Append(err, newConfigFieldError(path, field, "must be >= 0, got %d", v))
		}
	}
	nonNegative("distance_threshold", cfg.DistanceThreshold)
	nonNegativeInt("ransac_iterations", cfg.RANSACIterations)
	nonNegativeInt("max_plane_candidates", cfg.MaxPlaneCandidates)
	nonNegativeInt("min_points_to_continue", cfg.MinPointsToContinue)
	nonNegativeInt("sample_size", cfg.SampleSize)
	nonNegative("side_margin", cfg.SideMargin)
	nonNegative("side_range", cfg.SideRange)
	nonNegative("cluster_eps", cfg.ClusterEps)
	nonNegativeInt("cluster_min_points", cfg.ClusterMinPoints)
	nonNegative("density_ratio_threshold", cfg.DensityRatioThreshold)
	nonNegative("normal_consensus_threshold", cfg.NormalConsensusThreshold)
	nonNegativeInt("histogram_bins", cfg.HistogramBins)

	if cfg.SideRange != 0 && cfg.SideRange <= cfg.SideMargin {
		err = multierr.Append(err, newConfigFieldError(path, "side_range",
			"must be larger than side_margin (%v), got %v", cfg.SideMargin, cfg.SideRange))
	}
	if cfg.NormalConsensusThreshold > 1 {
		err = multierr.Append(err, newConfigFieldError(path, "normal_consensus_threshold",
			"must be at most 1, got %v", cfg.NormalConsensusThreshold))
	}
	if p := cfg.ZFloorPercentile; p < 0 || p > 100 || math.IsNaN(p) {
		err = multierr.Append(err, newConfigFieldError(path, "z_floor_percentile",
			"must be in [0, 100] with 0 selecting the default, got %v", p))
	}

	switch cfg.DecisionPolicy {
	case "", PolicyAuto, PolicyConnectivity, PolicyCompactness, PolicyDensityRatio, PolicyNormalConsensus:
	default:
		err = multierr.Append(err, newConfigFieldError(path, "decision_policy", "unknown policy %q", cfg.DecisionPolicy))
	}
	switch cfg.Ranker {
	case "", RankerInliers, RankerAspect:
	default:
		err = multierr.Append(err, newConfigFieldError(path, "ranker", "unknown ranker %q", cfg.Ranker))
	}
	switch cfg.ZFloorMethod {
	case "", FloorHistogram, FloorPercentile:
	default:
		err = multierr.Append(err, newConfigFieldError(path, "z_floor_method", "unknown method %q", cfg.ZFloorMethod))
	}
	return err
}

func newConfigFieldError(path, field, format string, args ...interface{}) error {
	if path != "" {
		field = path + "." + field
	}
	return errors.Wrapf(errors.Errorf(format, args...), "invalid config field %q", field)
}

// extractionConfig is the plane search configuration of a resolved Config.
func (cfg *Config) extractionConfig() segmentation.ExtractionConfig {
	return segmentation.ExtractionConfig{
		RANSAC: segmentation.RANSACConfig{
			DistanceThreshold: cfg.DistanceThreshold,
			MaxIterations:     cfg.RANSACIterations,
			MinSampleSize:     3,
		},
		MaxCandidates:       cfg.MaxPlaneCandidates,
		MinPointsToContinue: cfg.MinPointsToContinue,
	}
}

// sideConfig is the side classification configuration of a resolved Config.
func (cfg *Config) sideConfig() SideConfig {
	return SideConfig{
		Margin:           cfg.SideMargin,
		Range:            cfg.SideRange,
		ClusterEps:       cfg.ClusterEps,
		ClusterMinPoints: cfg.ClusterMinPoints,
	}
}

// ReadConfigFile reads a JSON config. Fields absent from the file keep their DefaultConfig value; unknown
// fields are an error.
func ReadConfigFile(path string) (cfg Config, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "cannot open config file")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	cfg = DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "cannot parse config file %q", path)
	}
	if err := cfg.Validate(""); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewDecisionPolicy builds the policy named by the config.
func NewDecisionPolicy(cfg Config) (DecisionPolicy, error) {
	connectivity := ConnectivityPolicy{}
	normals := NormalConsensusPolicy{MinConsensus: cfg.NormalConsensusThreshold}
	switch cfg.DecisionPolicy {
	case PolicyAuto, "":
		return CompositePolicy{Policies: []DecisionPolicy{normals, connectivity}}, nil
	case PolicyConnectivity:
		return connectivity, nil
	case PolicyCompactness:
		return CompactnessPolicy{}, nil
	case PolicyDensityRatio:
		return DensityRatioPolicy{Threshold: cfg.DensityRatioThreshold}, nil
	case PolicyNormalConsensus:
		return normals, nil
	default:
		return nil, errors.Errorf("unknown decision policy %q", cfg.DecisionPolicy)
	}
}

// NewRanker builds the ranker named by the config.
func NewRanker(cfg Config) (Ranker, error) {
	switch cfg.Ranker {
	case RankerInliers, "":
		return InlierRanker{}, nil
	case RankerAspect:
		return AspectRanker{}, nil
	default:
		return nil, errors.Errorf("unknown ranker %q", cfg.Ranker)
	}
}

// NewFloorEstimator builds the ground height estimator named by the config.
func NewFloorEstimator(cfg Config) (FloorEstimator, error) {
	switch cfg.ZFloorMethod {
	case FloorHistogram, "":
		return HistogramFloor{Bins: cfg.HistogramBins}, nil
	case FloorPercentile:
		return PercentileFloor{Percentile: cfg.ZFloorPercentile}, nil
	default:
		return nil, errors.Errorf("unknown z floor method %q", cfg.ZFloorMethod)
	}
}
