package pipeline

// ConfidenceFromScores turns the ordered similarity scores of one retrieval
// batch into a single confidence value in [0,1].
//
// The best match dominates while the next few matches reward corroboration:
// a lone lucky hit scores lower than a genuine topical cluster. With no
// scores confidence is zero; with one score there is no support term.
func ConfidenceFromScores(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	top := scores[0]

	support := 0.0
	if len(scores) > 1 {
		n := len(scores) - 1
		if n > 3 {
			n = 3
		}
		sum := 0.0
		for _, s := range scores[1 : 1+n] {
			sum += s
		}
		support = sum / float64(n)
	}

	return clamp01(0.8*top + 0.2*support)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
