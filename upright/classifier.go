package upright

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptySides is returned by Classify when nothing lies near the plane on either side.
var ErrEmptySides = errors.New("no points near the plane on either side")

// ClassifierResult tells on which side of a plane the objects are.
type ClassifierResult struct {
	UpsideDown bool
	Confidence float64
	Rationale  string
	// Policy is the name of the policy that decided, empty when it was not consulted.
	Policy string
}

// Classify decides whether the objects lie below the plane. A side with nothing near the plane cannot be
// the object side, so the policy is only consulted when both sides are populated. If it abstains the side
// with more points near the plane wins, and a tie keeps the plane normal.
func Classify(above, below SideStats, policy DecisionPolicy) (ClassifierResult, error) {
	switch {
	case above.IsEmpty() && below.IsEmpty():
		return ClassifierResult{}, ErrEmptySides
	case below.IsEmpty():
		return ClassifierResult{
			UpsideDown: false,
			Confidence: 1,
			Rationale:  fmt.Sprintf("only the side above is populated (%d points)", above.WindowCount),
		}, nil
	case above.IsEmpty():
		return ClassifierResult{
			UpsideDown: true,
			Confidence: 1,
			Rationale:  fmt.Sprintf("only the side below is populated (%d points)", below.WindowCount),
		}, nil
	}

	v := policy.Decide(above, below)
	if !v.Abstain {
		return ClassifierResult{UpsideDown: v.UpsideDown, Confidence: v.Confidence, Rationale: v.Rationale, Policy: policy.Name()}, nil
	}
	return ClassifierResult{
		UpsideDown: below.WindowCount > above.WindowCount,
		Confidence: relativeDifference(float64(above.WindowCount), float64(below.WindowCount)),
		Rationale: fmt.Sprintf("%s abstained (%s); %d points near the plane above, %d below",
			policy.Name(), v.Rationale, above.WindowCount, below.WindowCount),
	}, nil
}
