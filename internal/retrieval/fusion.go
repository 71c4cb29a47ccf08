package retrieval

import "sort"

// RRFConstant is the k of reciprocal rank fusion.
const RRFConstant = 60

// ReciprocalRankFusion merges per-source result lists. Each document scores
// the sum over sources of 1/(k + rank), with 1-based ranks in each list's
// order. Documents are deduplicated by index and id and keep the first-seen
// metadata.
func ReciprocalRankFusion(lists ...[]SearchResult) []SearchResult {
	return fuse(lists, func(_ SearchResult, rank int) float64 {
		return 1.0 / float64(RRFConstant+rank)
	})
}

// WeightedFusion merges per-source result lists by summing each source score
// times the weight of its source. Sources missing from weights count 1.0.
func WeightedFusion(weights map[SourceType]float64, lists ...[]SearchResult) []SearchResult {
	return fuse(lists, func(r SearchResult, _ int) float64 {
		w, ok := weights[r.SourceType]
		if !ok {
			w = 1
		}
		return r.Score * w
	})
}

func fuse(lists [][]SearchResult, score func(r SearchResult, rank int) float64) []SearchResult {
	var merged []SearchResult
	pos := make(map[string]int)
	byID := make(map[string][]int)
	for _, list := range lists {
		for i, r := range list {
			s := score(r, i+1)
			if at, ok := match(merged, pos, byID, r); ok {
				merged[at].Score += s
				if merged[at].Index == "" && r.Index != "" {
					merged[at].Index = r.Index
					pos[docKey(r.Index, r.ID)] = at
				}
				continue
			}
			at := len(merged)
			pos[docKey(r.Index, r.ID)] = at
			byID[r.ID] = append(byID[r.ID], at)
			r.Score = s
			merged = append(merged, r)
		}
	}
	// stable: ties keep first-seen order
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// match finds the merged entry for r. Documents are the same when index and
// id both match; a result without an index matches any index.
func match(merged []SearchResult, pos map[string]int, byID map[string][]int, r SearchResult) (int, bool) {
	if at, ok := pos[docKey(r.Index, r.ID)]; ok {
		return at, true
	}
	for _, at := range byID[r.ID] {
		if r.Index == "" || merged[at].Index == "" {
			return at, true
		}
	}
	return 0, false
}

func docKey(index, id string) string {
	return index + "\x00" + id
}

// rank truncates results to topK and assigns ranks 1..n.
func rank(results []SearchResult, topK int) []SearchResult {
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
