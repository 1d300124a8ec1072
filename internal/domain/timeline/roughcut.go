package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/forPelevin/reelplan/internal/types"
)

// Span is a half-open [StartUs, EndUs) interval of the source media.
type Span struct {
	StartUs int64 `json:"startUs"`
	EndUs   int64 `json:"endUs"`
}

type RoughCutInput struct {
	ProjectID    string
	SourceRef    string
	FPS          int
	DurationUs   int64
	RemoveRanges []types.CutRange
	Now          time.Time
}

// RemoveSpans clamps ranges to [0, durationUs], drops empty ones and unions
// those that overlap or touch. The result is sorted.
func RemoveSpans(ranges []types.CutRange, durationUs int64) []Span {
	spans := make([]Span, 0, len(ranges))
	for _, r := range ranges {
		s := Span{StartUs: clamp(r.StartUs, durationUs), EndUs: clamp(r.EndUs, durationUs)}
		if s.EndUs > s.StartUs {
			spans = append(spans, s)
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].StartUs < spans[j].StartUs })

	var merged []Span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.StartUs <= merged[n-1].EndUs {
			if s.EndUs > merged[n-1].EndUs {
				merged[n-1].EndUs = s.EndUs
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// KeepSpans is the complement of remove within [0, durationUs]. remove must
// be sorted, as RemoveSpans returns it.
func KeepSpans(remove []Span, durationUs int64) []Span {
	if durationUs <= 0 {
		return nil
	}
	var (
		keep   []Span
		cursor int64
	)
	for _, r := range remove {
		if r.StartUs > cursor {
			keep = append(keep, Span{StartUs: cursor, EndUs: r.StartUs})
		}
		if r.EndUs > cursor {
			cursor = r.EndUs
		}
	}
	if cursor < durationUs {
		keep = append(keep, Span{StartUs: cursor, EndUs: durationUs})
	}
	return keep
}

// RoughCut lays the kept parts of the source back to back on the video track.
// Clips from an earlier rough cut are replaced; every other clip is kept.
func RoughCut(existing []byte, in RoughCutInput) (Result, error) {
	now := nowOr(in.Now)
	doc, _, err := open(existing, in.ProjectID, in.FPS, now)
	if err != nil {
		return Result{}, err
	}

	var res Result
	clips, replaced := keepClips(doc, RoughCutGeneratedBy)
	res.Replaced = replaced

	removed := RemoveSpans(in.RemoveRanges, in.DurationUs)
	var compacted int64
	for _, c := range sourceClips(in.SourceRef, KeepSpans(removed, in.DurationUs), removed) {
		ec, err := encodeClip(c)
		if err != nil {
			return Result{}, err
		}
		clips = append(clips, ec)
		compacted = c.EndUs
		res.SourceClips++
	}

	return assemble(doc, clips, res, assembly{
		status:     StatusRoughCut,
		durationUs: compacted,
		fps:        in.FPS,
		forceFPS:   true,
		projectID:  in.ProjectID,
		now:        now,
	})
}

// sourceClips places keep spans contiguously from timeline zero.
func sourceClips(sourceRef string, keep, removed []Span) []types.TimelineClip {
	if removed == nil {
		removed = []Span{}
	}
	var (
		out    []types.TimelineClip
		cursor int64
	)
	for _, k := range keep {
		d := k.EndUs - k.StartUs
		if d <= 0 {
			continue
		}
		out = append(out, types.TimelineClip{
			ClipID:        fmt.Sprintf("clip-%d", len(out)+1),
			TrackID:       TrackVideo,
			ClipType:      types.ClipSource,
			StartUs:       cursor,
			EndUs:         cursor + d,
			SourceStartUs: k.StartUs,
			SourceEndUs:   k.EndUs,
			SourceRef:     sourceRef,
			Meta: map[string]any{
				"generatedBy":         RoughCutGeneratedBy,
				"removeRangesApplied": removed,
			},
		})
		cursor += d
	}
	return out
}

func clamp(v, hi int64) int64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
