package ranker

import (
	"sort"

	"vehirec/internal/pipeline"
)

// Scored is one candidate with its ranker score.
type Scored struct {
	ItemIdx int
	Score   float64
}

// TopN scores the query and returns at most n items ordered by score descending.
// Equal scores are ordered by ascending item index.
func TopN(r Ranker, q pipeline.Query, n int) ([]Scored, error) {
	scores, err := r.Predict(q)
	if err != nil {
		return nil, err
	}
	return Rank(q.Items, scores, n), nil
}

// Rank orders items by score with the TopN tie-break and truncates to n.
func Rank(items []int, scores []float64, n int) []Scored {
	out := make([]Scored, len(items))
	for i, item := range items {
		out[i] = Scored{ItemIdx: item, Score: scores[i]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ItemIdx < out[b].ItemIdx
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
