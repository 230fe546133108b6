package pipeline

import "sort"

// RankFollowups extracts follow-up candidates from the retrieved passages
// and returns them ranked. Each normalized follow-up string inherits the
// retrieval score of the passage that carried it. Candidates below the
// threshold are dropped, the rest are sorted by score descending with the
// original passage order breaking ties, duplicates keep their
// highest-scoring occurrence, and the result is truncated to maxFollowups.
func RankFollowups(passages []ScoredPassage, threshold float64, maxFollowups int) []FollowupCandidate {
	candidates := make([]FollowupCandidate, 0, len(passages))
	for _, sp := range passages {
		for _, text := range sp.Passage.Followups.Values() {
			if sp.Score < threshold {
				continue
			}
			candidates = append(candidates, FollowupCandidate{Text: text, Score: sp.Score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	seen := make(map[string]struct{}, len(candidates))
	deduped := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c.Text]; ok {
			continue
		}
		seen[c.Text] = struct{}{}
		deduped = append(deduped, c)
	}

	if maxFollowups >= 0 && len(deduped) > maxFollowups {
		deduped = deduped[:maxFollowups]
	}
	return deduped
}
