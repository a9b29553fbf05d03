package word2vec

// LearningRate computes the linearly decayed learning
// rate after seen words out of an estimated total,
// clamped below by minAlpha.
func LearningRate(alpha, minAlpha float64, seen, total int64) float64 {
	if total <= 0 {
		return max(minAlpha, alpha)
	}
	return max(minAlpha, alpha*(1-float64(seen)/float64(total)))
}
