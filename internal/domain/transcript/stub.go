package transcript

import (
	"fmt"

	"github.com/forPelevin/reelplan/internal/types"
)

const (
	// StubSpeechStartUs is where placeholder speech begins in a stub transcript.
	StubSpeechStartUs int64 = 1_050_000
	stubSegmentUs     int64 = 3_000_000
)

// Stub synthesizes a placeholder transcript for runs without any usable
// transcription backend, so downstream planning still has segments to work with.
func Stub(meta Meta) types.CanonicalTranscript {
	meta.Adapter.Kind = types.AdapterKindStub
	if meta.Adapter.Runtime == "" {
		meta.Adapter.Runtime = "none"
	}
	raw := types.RawTranscript{}
	duration := meta.DurationUs
	if duration <= 0 {
		return Synthesize(raw, meta)
	}

	start := StubSpeechStartUs
	if duration <= start {
		start = 0
	}
	for i := 0; start < duration; i++ {
		end := start + stubSegmentUs
		if end > duration {
			end = duration
		}
		raw.Segments = append(raw.Segments, types.RawSegment{
			Start: usToSec(start),
			End:   usToSec(end),
			Text:  fmt.Sprintf("Placeholder segment %d", i+1),
		})
		start = end
	}
	return Synthesize(raw, meta)
}

func usToSec(us int64) float64 { return float64(us) / 1_000_000 }
