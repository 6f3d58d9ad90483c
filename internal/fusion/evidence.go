package fusion

// Evidence is one retrieved content fragment as handed to generation.
// Similarity is always in [0,1]. OrdinalInContext is the dense 1-based
// position the generator cites; it is assigned last, after fusion.
type Evidence struct {
	ID               string
	Content          string
	Similarity       float64
	VectorScore      float64
	TextScore        float64
	SourceLabel      string
	OrdinalInContext int
	// IdentifierMatch marks evidence found by literal identifier lookup
	// rather than vector search; such items carry no similarity score.
	IdentifierMatch bool
}

// AvgSimilarity returns the mean similarity of the set, zero when empty.
func AvgSimilarity(items []Evidence) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Similarity
	}
	return sum / float64(len(items))
}

// VectorAvgSimilarity returns the mean similarity over vector-derived items
// only. Identifier matches are unscored and would drag the mean toward zero,
// misreporting retrieval quality.
func VectorAvgSimilarity(items []Evidence) float64 {
	var sum float64
	count := 0
	for _, it := range items {
		if it.IdentifierMatch {
			continue
		}
		sum += it.Similarity
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
