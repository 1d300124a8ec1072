package subtitles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/forPelevin/reelplan/internal/types"
)

// RenderSRT emits one cue per transcript segment.
func RenderSRT(tr types.CanonicalTranscript) string {
	var b strings.Builder
	for i, s := range tr.Segments {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(srtTime(s.StartUs))
		b.WriteString(" --> ")
		b.WriteString(srtTime(s.EndUs))
		b.WriteString("\n")
		b.WriteString(cueText(s.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// RenderVTT emits a WebVTT document with one cue per transcript segment.
func RenderVTT(tr types.CanonicalTranscript) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range tr.Segments {
		b.WriteString(s.ID)
		b.WriteString("\n")
		b.WriteString(vttTime(s.StartUs))
		b.WriteString(" --> ")
		b.WriteString(vttTime(s.EndUs))
		b.WriteString("\n")
		b.WriteString(strings.ReplaceAll(cueText(s.Text), "-->", "->"))
		b.WriteString("\n\n")
	}
	return b.String()
}

func srtTime(us int64) string { return clock(us, ",") }

func vttTime(us int64) string { return clock(us, ".") }

func clock(us int64, sep string) string {
	if us < 0 {
		us = 0
	}
	ms := us / 1000
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// Blank lines terminate cues in both formats.
func cueText(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "\n")
}
