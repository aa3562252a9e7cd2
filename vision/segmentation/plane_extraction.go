package segmentation

import (
	"math/rand"

	"github.com/golang/geo/r3"

	"go.viam.com/upright/utils"
)

// ExtractionConfig controls the greedy search for the dominant planes of a scene.
type ExtractionConfig struct {
	RANSAC RANSACConfig
	// MaxCandidates is the maximum number of planes extracted.
	MaxCandidates int
	// MinPointsToContinue stops the search once fewer points remain after removing the planes found so far.
	MinPointsToContinue int
}

// ExtractPlaneCandidates repeatedly fits the biggest plane in the remaining points and removes its inliers,
// returning up to MaxCandidates planes in the order they were found. Inliers are indices into points.
//
// Planes are found in decreasing order of support within what is left, not within the whole cloud, so a later
// plane may have lost points to an earlier one. No global re-evaluation is done.
func ExtractPlaneCandidates(points []r3.Vector, cfg ExtractionConfig, rng *rand.Rand) ([]PlaneCandidate, error) {
	working := make([]int, len(points))
	for i := range working {
		working[i] = i
	}

	candidates := make([]PlaneCandidate, 0, cfg.MaxCandidates)
	for round := 0; round < cfg.MaxCandidates; round++ {
		if round > 0 && len(working) < cfg.MinPointsToContinue {
			break
		}
		plane, err := FitPlaneRANSAC(points, working, cfg.RANSAC, rng)
		if err != nil {
			if round == 0 {
				return nil, err
			}
			// the planes already found are still usable
			if utils.IsInsufficientData(err) || utils.IsDegenerateGeometry(err) {
				break
			}
			return nil, err
		}
		candidates = append(candidates, *plane)
		working = removeIndices(working, plane.Inliers)
	}
	return candidates, nil
}

// removeIndices returns the members of from not in remove. Both are in ascending order.
func removeIndices(from, remove []int) []int {
	out := make([]int, 0, len(from)-len(remove))
	j := 0
	for _, idx := range from {
		for j < len(remove) && remove[j] < idx {
			j++
		}
		if j < len(remove) && remove[j] == idx {
			continue
		}
		out = append(out, idx)
	}
	return out
}
