// Package transcript builds the canonical, microsecond-based transcript from
// whatever a transcription backend returned.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const defaultWordConfidence = 0.8

type Meta struct {
	SourcePath string
	DurationUs int64
	Adapter    types.AdapterInfo
	Language   string
	Now        time.Time
}

// Synthesize orders, clamps and de-overlaps raw segments and assigns every
// word to exactly one segment. Segments without word timings get evenly
// spaced synthetic words so word-level heuristics still apply.
func Synthesize(raw types.RawTranscript, meta Meta) types.CanonicalTranscript {
	segs := append([]types.RawSegment(nil), raw.Segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	lang := meta.Language
	if lang == "" {
		lang = raw.Language
	}
	tr := types.CanonicalTranscript{
		TranscriptID: uuid.NewString(),
		Language:     lang,
		CreatedAt:    nowOr(meta.Now),
		Source:       types.TranscriptSource{Path: meta.SourcePath, DurationUs: meta.DurationUs},
		Adapter:      meta.Adapter,
		Words:        []types.Word{},
		Segments:     []types.TranscriptSegment{},
	}

	var cursor int64
	for _, rs := range segs {
		text := strings.TrimSpace(rs.Text)
		if text == "" {
			continue
		}
		start, end := secToUs(rs.Start), secToUs(rs.End)
		start, end = clamp(start, end, meta.DurationUs)
		if start < cursor {
			start = cursor
		}
		if end <= start {
			continue
		}

		seg := types.TranscriptSegment{
			ID:      fmt.Sprintf("seg-%04d", len(tr.Segments)+1),
			StartUs: start,
			EndUs:   end,
			Text:    text,
			WordIDs: []string{},
		}
		words := timedWords(rs, start, end)
		if len(words) == 0 {
			words = spreadWords(text, start, end)
		}
		var confSum float64
		for _, w := range words {
			w.ID = fmt.Sprintf("w-%06d", len(tr.Words)+1)
			tr.Words = append(tr.Words, w)
			seg.WordIDs = append(seg.WordIDs, w.ID)
			confSum += w.Confidence
		}
		if len(words) > 0 {
			seg.Confidence = round3(confSum / float64(len(words)))
		}
		tr.Segments = append(tr.Segments, seg)
		cursor = end
	}
	return tr
}

func timedWords(rs types.RawSegment, segStart, segEnd int64) []types.Word {
	out := make([]types.Word, 0, len(rs.Words))
	for _, rw := range rs.Words {
		text := strings.TrimSpace(rw.Word)
		if text == "" {
			continue
		}
		ws, we := secToUs(rw.Start), secToUs(rw.End)
		if ws < segStart {
			ws = segStart
		}
		if we > segEnd {
			we = segEnd
		}
		if we <= ws {
			continue
		}
		conf := rw.Probability
		if conf <= 0 || conf > 1 {
			conf = defaultWordConfidence
		}
		out = append(out, types.Word{
			Text:           text,
			NormalizedText: textnorm.Token(text),
			StartUs:        ws,
			EndUs:          we,
			Confidence:     round3(conf),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartUs < out[j].StartUs })
	return out
}

func spreadWords(text string, start, end int64) []types.Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	step := (end - start) / int64(len(fields))
	if step <= 0 {
		return nil
	}
	out := make([]types.Word, 0, len(fields))
	for i, f := range fields {
		ws := start + int64(i)*step
		we := ws + step
		if i == len(fields)-1 {
			we = end
		}
		out = append(out, types.Word{
			Text:           f,
			NormalizedText: textnorm.Token(f),
			StartUs:        ws,
			EndUs:          we,
			Confidence:     0.5,
		})
	}
	return out
}

func clamp(start, end, durationUs int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if durationUs > 0 {
		if end > durationUs {
			end = durationUs
		}
		if start > durationUs {
			start = durationUs
		}
	}
	return start, end
}

func secToUs(sec float64) int64 {
	return int64(sec*1_000_000 + 0.5)
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
