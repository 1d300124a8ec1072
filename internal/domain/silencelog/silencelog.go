// Package silencelog parses the textual log of ffmpeg's silencedetect filter.
// The log format is not a documented interface, so parsing is lenient: any
// line that is not a silence marker is ignored.
package silencelog

import (
	"bufio"
	"io"
	"regexp"
	"strconv"

	"github.com/forPelevin/reelplan/internal/types"
)

const (
	// MinRangeUs drops detections shorter than this.
	MinRangeUs int64 = 220_000
	Confidence       = 0.9
)

var (
	reStart = regexp.MustCompile(`silence_start:\s*(-?[0-9]+(?:\.[0-9]+)?(?:e-?[0-9]+)?)`)
	reEnd   = regexp.MustCompile(`silence_end:\s*(-?[0-9]+(?:\.[0-9]+)?(?:e-?[0-9]+)?)`)
)

// Parse converts start/end marker pairs into silence ranges in
// microseconds. A start that is never closed produces a range ending at
// durationUs. Ranges are clamped to [0, durationUs] when durationUs > 0.
func Parse(r io.Reader, durationUs int64) []types.CutRange {
	var (
		out     []types.CutRange
		pending bool
		startUs int64
	)
	emit := func(s, e int64) {
		if s < 0 {
			s = 0
		}
		if durationUs > 0 && e > durationUs {
			e = durationUs
		}
		if e-s < MinRangeUs {
			return
		}
		out = append(out, types.CutRange{StartUs: s, EndUs: e, Reason: types.ReasonSilence, Confidence: Confidence})
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := reStart.FindStringSubmatch(line); m != nil {
			if v, ok := secondsToUs(m[1]); ok && !pending {
				startUs = v
				pending = true
			}
			continue
		}
		if m := reEnd.FindStringSubmatch(line); m != nil {
			v, ok := secondsToUs(m[1])
			if !ok || !pending {
				continue
			}
			emit(startUs, v)
			pending = false
		}
	}
	if pending && durationUs > 0 {
		emit(startUs, durationUs)
	}
	return out
}

func secondsToUs(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f*1_000_000 + 0.5*sign(f)), true
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}
