package cutplan

import (
	"sort"
	"strings"

	"github.com/forPelevin/reelplan/internal/types"
)

// Normalize clamps ranges to [0, durationUs], sorts them by start and
// coalesces overlapping or touching ranges. Merged ranges carry the union of
// reasons (comma-joined, first-seen order) and the highest confidence.
func Normalize(ranges []types.CutRange, durationUs int64) []types.CutRange {
	clamped := make([]types.CutRange, 0, len(ranges))
	for _, r := range ranges {
		if r.StartUs < 0 {
			r.StartUs = 0
		}
		if durationUs > 0 && r.EndUs > durationUs {
			r.EndUs = durationUs
		}
		if r.EndUs <= r.StartUs {
			continue
		}
		r.Reason = joinReasons(r.Reasons())
		clamped = append(clamped, r)
	}
	sort.SliceStable(clamped, func(i, j int) bool {
		if clamped[i].StartUs == clamped[j].StartUs {
			return clamped[i].EndUs < clamped[j].EndUs
		}
		return clamped[i].StartUs < clamped[j].StartUs
	})

	out := make([]types.CutRange, 0, len(clamped))
	for _, r := range clamped {
		if n := len(out); n > 0 && r.StartUs <= out[n-1].EndUs {
			cur := &out[n-1]
			if r.EndUs > cur.EndUs {
				cur.EndUs = r.EndUs
			}
			if r.Confidence > cur.Confidence {
				cur.Confidence = r.Confidence
			}
			cur.Reason = joinReasons(append(cur.Reasons(), r.Reasons()...))
			continue
		}
		out = append(out, r)
	}
	return out
}

func joinReasons(reasons []string) string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return strings.Join(out, ",")
}
