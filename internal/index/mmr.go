package index

import (
	"math"

	"dgchat/internal/vecmath"
)

// Candidate is a hit together with the vector it was scored on.
type Candidate struct {
	Hit    Hit
	Vector []float32
}

// SelectMMR picks up to k candidates, starting from the most relevant and
// then repeatedly taking the one maximizing
// lambda*sim(query) - (1-lambda)*max sim(selected). Hit scores remain the
// similarity to the query.
func SelectMMR(query []float32, cands []Candidate, k int, lambda float64) []Hit {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))

	rel := make([]float64, len(cands))
	first := 0
	for i, c := range cands {
		rel[i] = vecmath.Cosine(query, c.Vector)
		if rel[i] > rel[first] {
			first = i
		}
	}

	selected := []int{first}
	used := make([]bool, len(cands))
	used[first] = true

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range cands {
			if used[i] {
				continue
			}
			redundancy := math.Inf(-1)
			for _, s := range selected {
				redundancy = math.Max(redundancy, vecmath.Cosine(c.Vector, cands[s].Vector))
			}
			score := lambda*rel[i] - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		selected = append(selected, best)
		used[best] = true
	}

	hits := make([]Hit, len(selected))
	for i, s := range selected {
		hits[i] = Hit{Chunk: cands[s].Hit.Chunk, Score: rel[s]}
	}
	return hits
}
