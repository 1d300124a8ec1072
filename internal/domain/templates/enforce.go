package templates

import (
	"fmt"
	"sort"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

// Warning codes emitted by Enforce.
const (
	CodeOverlapAdjusted    = "template_overlap_adjusted"
	CodeSkippedOutOfBounds = "template_skipped_out_of_bounds"
	CodeStartClamped       = "template_start_clamped"
	CodeDurationClamped    = "template_duration_clamped"
	CodeHeadlineTruncated  = "template_headline_truncated"
	CodeSublineTruncated   = "template_subline_truncated"
)

func DefaultConstraints() types.PlacementConstraints {
	return types.PlacementConstraints{
		MinDurationUs:    450_000,
		MaxDurationUs:    2_400_000,
		MinGapUs:         120_000,
		HeadlineMaxWords: 8,
		SublineMaxChars:  52,
	}
}

// Enforce sweeps a single cursor forward over the placements sorted by start.
// Earlier placements always win: a placement whose clamped duration no longer
// fits before durationUs is dropped, never shortened and never shifted past
// anything before it.
func Enforce(in []types.TemplatePlacement, durationUs int64, c types.PlacementConstraints) ([]types.TemplatePlacement, []types.Warning) {
	sorted := append([]types.TemplatePlacement(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartUs < sorted[j].StartUs })

	out := make([]types.TemplatePlacement, 0, len(sorted))
	var warnings []types.Warning
	warn := func(level, code string, p types.TemplatePlacement, format string, args ...any) {
		warnings = append(warnings, types.Warning{
			Code:        code,
			Level:       level,
			PlacementID: p.ID,
			Message:     fmt.Sprintf(format, args...),
		})
	}

	maxStart := durationUs - c.MinDurationUs
	if maxStart < 0 {
		maxStart = 0
	}
	var cursor int64
	for _, p := range sorted {
		desired := p.EndUs - p.StartUs

		start := p.StartUs
		if start < 0 || start > maxStart {
			start = clampInt(start, 0, maxStart)
			warn(types.LevelInfo, CodeStartClamped, p, "start moved from %dus to %dus", p.StartUs, start)
		}
		if start < cursor {
			warn(types.LevelWarn, CodeOverlapAdjusted, p, "start moved from %dus to %dus to keep a %dus gap", start, cursor, c.MinGapUs)
			start = cursor
		}

		clamped := clampInt(desired, c.MinDurationUs, c.MaxDurationUs)
		if clamped != desired {
			warn(types.LevelInfo, CodeDurationClamped, p, "duration clamped from %dus to %dus", desired, clamped)
		}
		end := start + clamped
		if end > durationUs {
			warn(types.LevelWarn, CodeSkippedOutOfBounds, p, "%dus placement at %dus does not fit before %dus", clamped, start, durationUs)
			continue
		}

		if h, cut := textnorm.TruncateWords(p.Content.Headline, c.HeadlineMaxWords); cut {
			warn(types.LevelInfo, CodeHeadlineTruncated, p, "headline truncated to %d words", c.HeadlineMaxWords)
			p.Content.Headline = h
		}
		if s, cut := textnorm.TruncateRunes(p.Content.Subline, c.SublineMaxChars); cut {
			warn(types.LevelInfo, CodeSublineTruncated, p, "subline truncated to %d characters", c.SublineMaxChars)
			p.Content.Subline = s
		}

		p.StartUs, p.EndUs = start, end
		p.Constraints = c
		out = append(out, p)
		cursor = end + c.MinGapUs
	}
	return out, warnings
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
