package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chattyhq/chat-engine/pipeline"
)

func scoredPassage(score float64, followups ...string) pipeline.ScoredPassage {
	return pipeline.ScoredPassage{
		Passage: pipeline.RetrievedPassage{
			Text:      "passage text",
			Followups: pipeline.NewFollowupField(followups...),
		},
		Score: score,
	}
}

func TestRankFollowupsSortsByScoreDescending(t *testing.T) {
	passages := []pipeline.ScoredPassage{
		scoredPassage(0.4, "low question"),
		scoredPassage(0.9, "high question"),
		scoredPassage(0.6, "mid question"),
	}

	got := pipeline.RankFollowups(passages, 0.3, 3)

	require.Len(t, got, 3)
	require.Equal(t, "high question", got[0].Text)
	require.Equal(t, "mid question", got[1].Text)
	require.Equal(t, "low question", got[2].Text)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i].Score, got[i-1].Score)
	}
}

func TestRankFollowupsFiltersBelowThreshold(t *testing.T) {
	passages := []pipeline.ScoredPassage{
		scoredPassage(0.9, "keep"),
		scoredPassage(0.2, "drop"),
	}

	got := pipeline.RankFollowups(passages, 0.5, 3)

	require.Len(t, got, 1)
	require.Equal(t, "keep", got[0].Text)
}

func TestRankFollowupsDeduplicatesKeepingHighestScore(t *testing.T) {
	passages := []pipeline.ScoredPassage{
		scoredPassage(0.5, "what about pricing?"),
		scoredPassage(0.8, "what about pricing?"),
	}

	got := pipeline.RankFollowups(passages, 0.3, 3)

	require.Len(t, got, 1)
	require.Equal(t, 0.8, got[0].Score)
}

func TestRankFollowupsTruncates(t *testing.T) {
	passages := []pipeline.ScoredPassage{
		scoredPassage(0.9, "a", "b"),
		scoredPassage(0.8, "c", "d"),
	}

	got := pipeline.RankFollowups(passages, 0.3, 3)
	require.Len(t, got, 3)
}

func TestRankFollowupsStableTieBreak(t *testing.T) {
	passages := []pipeline.ScoredPassage{
		scoredPassage(0.7, "first"),
		scoredPassage(0.7, "second"),
	}

	got := pipeline.RankFollowups(passages, 0.3, 3)

	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].Text)
	require.Equal(t, "second", got[1].Text)
}

func TestRankFollowupsEmptyInputs(t *testing.T) {
	require.Empty(t, pipeline.RankFollowups(nil, 0.3, 3))
	require.Empty(t, pipeline.RankFollowups([]pipeline.ScoredPassage{scoredPassage(0.9)}, 0.3, 3))
}
