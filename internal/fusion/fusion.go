// Package fusion merges ranked candidate lists from independent retrieval
// strategies into one ranked list using Reciprocal Rank Fusion.
//
// Fuse is a pure function of its inputs: no hidden state, deterministic
// output, and commutative in its two lists.
package fusion

import (
	"sort"

	"github.com/brieflens/brieflens/pkg/types"
)

// DefaultK is the RRF damping constant. Higher values flatten the score
// difference between top and bottom ranks; 60 is the commonly used default.
const DefaultK = 60.0

// Fuse merges two ranked candidate lists via Reciprocal Rank Fusion.
//
// Each candidate accumulates 1/(k + rank) per list it appears in, ranks
// being 1-based. Candidates present in only one list still accumulate a
// partial score. The fused list is ordered by descending combined score,
// ties broken by recency (newest first) and then by ID so the ordering is
// total. The result is truncated to topK.
//
// Swapping listA and listB yields the same output.
func Fuse(listA, listB []types.LongTermRecord, k float64, topK int) []types.LongTermRecord {
	if k <= 0 {
		k = DefaultK
	}
	if topK < 1 {
		topK = 10
	}

	scores := make(map[string]float64, len(listA)+len(listB))
	records := make(map[string]types.LongTermRecord, len(listA)+len(listB))

	accumulate := func(list []types.LongTermRecord) {
		for rank, record := range list {
			scores[record.ID] += 1.0 / (k + float64(rank+1))
			if _, seen := records[record.ID]; !seen {
				records[record.ID] = record
			}
		}
	}
	accumulate(listA)
	accumulate(listB)

	fused := make([]types.LongTermRecord, 0, len(records))
	for id := range records {
		fused = append(fused, records[id])
	}

	sort.Slice(fused, func(i, j int) bool {
		si, sj := scores[fused[i].ID], scores[fused[j].ID]
		if si != sj {
			return si > sj
		}
		if !fused[i].CreatedAt.Equal(fused[j].CreatedAt) {
			return fused[i].CreatedAt.After(fused[j].CreatedAt)
		}
		return fused[i].ID < fused[j].ID
	})

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// Score returns the RRF score a candidate would receive at the given 1-based
// ranks in two lists. A rank of 0 means the candidate is absent from that
// list. Exposed for tests and score introspection.
func Score(k float64, rankA, rankB int) float64 {
	if k <= 0 {
		k = DefaultK
	}
	var score float64
	if rankA > 0 {
		score += 1.0 / (k + float64(rankA))
	}
	if rankB > 0 {
		score += 1.0 / (k + float64(rankB))
	}
	return score
}
