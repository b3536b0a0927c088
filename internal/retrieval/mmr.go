package retrieval

import "math"

// cosineSimilarity computes cosine similarity between two vectors. Returns 0
// for mismatched or zero-length vectors rather than NaN.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// selectMMR picks up to k candidate indexes by maximal marginal relevance:
// each step takes the candidate maximizing
//
//	lambda*relevance - (1-lambda)*max-similarity-to-already-selected
//
// which bounds near-duplicate chunks in the result. Candidates are expected
// sorted by relevance so the first pick is the plain best match.
func selectMMR(relevance []float64, embeddings [][]float32, k int, lambda float64) []int {
	n := len(relevance)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	selected := make([]int, 0, k)
	remaining := make([]bool, n)
	for i := range remaining {
		remaining[i] = true
	}

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			if !remaining[i] {
				continue
			}
			redundancy := 0.0
			for _, j := range selected {
				if sim := cosineSimilarity(embeddings[i], embeddings[j]); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		remaining[best] = false
		selected = append(selected, best)
	}
	return selected
}
