// Package confidence combines matching score, agreement score, and
// consistency outcome into one final, fully traceable confidence value.
package confidence

import "github.com/phytokb/canopy/internal/core/model"

// Aggregate computes final = base × (1 − penalty), clipped to [0,1], where
// base is the match score for single-stage resolutions or the agreement
// score for consensus ones. The components ride along so the value is
// re-derivable.
func Aggregate(matchScore, agreementScore, penalty float64) model.ConfidenceScore {
	base := matchScore
	if agreementScore > 0 {
		base = agreementScore
	}

	final := clip(base * (1 - clip(penalty)))
	return model.ConfidenceScore{
		MatchScore:         matchScore,
		AgreementScore:     agreementScore,
		ConsistencyPenalty: penalty,
		Final:              final,
	}
}

// Penalize applies a consistency penalty to an already-aggregated score,
// preserving its components. The result never exceeds the input.
func Penalize(score model.ConfidenceScore, penalty float64) model.ConfidenceScore {
	score.ConsistencyPenalty = clip(score.ConsistencyPenalty + penalty)
	score.Final = clip(score.Final * (1 - clip(penalty)))
	return score
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
