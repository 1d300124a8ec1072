package cutplan

import (
	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	FillerPadUs       int64 = 120_000
	PauseThresholdUs  int64 = 450_000
	PauseWindowUs     int64 = 280_000
	RepetitionMinUs   int64 = 300_000
	IntroStartUs      int64 = 400_000
	IntroEndUs        int64 = 1_050_000
	fingerprintTokens       = 8

	fillerConfidence     = 0.75
	pauseConfidence      = 0.6
	repetitionConfidence = 0.7
	introConfidence      = 0.5
)

var fillerVocabulary = map[string]struct{}{
	"um":   {},
	"uh":   {},
	"erm":  {},
	"hmm":  {},
	"like": {},
}

// Heuristic collects every heuristic candidate range and the analysis counts.
func Heuristic(in Input) ([]types.CutRange, types.CutAnalysis) {
	var (
		out      []types.CutRange
		analysis types.CutAnalysis
	)

	fillers := fillerRanges(in.Transcript)
	analysis.FillerWordCount = len(fillers)
	out = append(out, fillers...)

	out = append(out, pauseRanges(in.Transcript)...)

	analysis.SilenceRangeCount = len(in.Silences)
	out = append(out, in.Silences...)

	reps := repetitionRanges(in.Transcript)
	analysis.RepetitionCount = len(reps)
	out = append(out, reps...)

	if len(out) == 0 && in.Transcript.Adapter.Kind == types.AdapterKindStub && in.DurationUs >= IntroEndUs {
		out = append(out, types.CutRange{
			StartUs:    IntroStartUs,
			EndUs:      IntroEndUs,
			Reason:     types.ReasonIntroSilence,
			Confidence: introConfidence,
		})
	}
	return out, analysis
}

func fillerRanges(tr types.CanonicalTranscript) []types.CutRange {
	var out []types.CutRange
	for _, w := range tr.Words {
		tok := w.NormalizedText
		if tok == "" {
			tok = textnorm.Token(w.Text)
		}
		if _, ok := fillerVocabulary[tok]; !ok {
			continue
		}
		out = append(out, types.CutRange{
			StartUs:    w.StartUs - FillerPadUs,
			EndUs:      w.EndUs + FillerPadUs,
			Reason:     types.ReasonFillerWord,
			Confidence: fillerConfidence,
		})
	}
	return out
}

func pauseRanges(tr types.CanonicalTranscript) []types.CutRange {
	var out []types.CutRange
	for i := 1; i < len(tr.Segments); i++ {
		prevEnd := tr.Segments[i-1].EndUs
		nextStart := tr.Segments[i].StartUs
		if nextStart-prevEnd < PauseThresholdUs {
			continue
		}
		center := prevEnd + (nextStart-prevEnd)/2
		out = append(out, types.CutRange{
			StartUs:    center - PauseWindowUs/2,
			EndUs:      center + PauseWindowUs/2,
			Reason:     types.ReasonLongPause,
			Confidence: pauseConfidence,
		})
	}
	return out
}

func repetitionRanges(tr types.CanonicalTranscript) []types.CutRange {
	var out []types.CutRange
	seen := make(map[string]struct{}, len(tr.Segments))
	for _, s := range tr.Segments {
		fp := textnorm.Fingerprint(s.Text, fingerprintTokens)
		if fp == "" {
			continue
		}
		if _, dup := seen[fp]; !dup {
			seen[fp] = struct{}{}
			continue
		}
		if s.EndUs-s.StartUs < RepetitionMinUs {
			continue
		}
		out = append(out, types.CutRange{
			StartUs:    s.StartUs,
			EndUs:      s.EndUs,
			Reason:     types.ReasonRepetition,
			Confidence: repetitionConfidence,
		})
	}
	return out
}
