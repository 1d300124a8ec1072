package silencelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forPelevin/reelplan/internal/types"
)

func parseFixture(t *testing.T, name string, durationUs int64) []types.CutRange {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	return Parse(f, durationUs)
}

func TestParse_PairedMarkers(t *testing.T) {
	got := parseFixture(t, "paired.log", 10_000_000)
	want := []types.CutRange{
		{StartUs: 0, EndUs: 812_000, Reason: types.ReasonSilence, Confidence: Confidence},
		{StartUs: 5_250_000, EndUs: 6_750_000, Reason: types.ReasonSilence, Confidence: Confidence},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestParse_UnterminatedStartClosesAtDuration(t *testing.T) {
	got := parseFixture(t, "unterminated.log", 10_000_000)
	if len(got) != 2 {
		t.Fatalf("expected 2 ranges, got %+v", got)
	}
	last := got[1]
	if last.StartUs != 8_900_000 || last.EndUs != 10_000_000 {
		t.Fatalf("expected synthesized closing range [8.9s,10s], got %+v", last)
	}
}

func TestParse_ShortRangesDropped(t *testing.T) {
	log := "silence_start: 2\nsilence_end: 2.219 | silence_duration: 0.219\n"
	if got := Parse(strings.NewReader(log), 5_000_000); len(got) != 0 {
		t.Fatalf("expected sub-220ms range to be dropped, got %+v", got)
	}
	log = "silence_start: 2\nsilence_end: 2.22 | silence_duration: 0.22\n"
	if got := Parse(strings.NewReader(log), 5_000_000); len(got) != 1 {
		t.Fatalf("expected 220ms range to be kept, got %+v", got)
	}
}

func TestParse_IgnoresNoise(t *testing.T) {
	log := "ffmpeg version 6.1\nsilence_end: 1.0 | silence_duration: 1.0\ngarbage silence_start: abc\n"
	if got := Parse(strings.NewReader(log), 5_000_000); len(got) != 0 {
		t.Fatalf("expected no ranges from noise, got %+v", got)
	}
}

func TestParse_ClampsToDuration(t *testing.T) {
	log := "silence_start: 4\nsilence_end: 7 | silence_duration: 3\n"
	got := Parse(strings.NewReader(log), 5_000_000)
	if len(got) != 1 || got[0].EndUs != 5_000_000 {
		t.Fatalf("expected clamp to 5s, got %+v", got)
	}
}
