package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/domain/silencelog"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/types"
)

// DefaultDurationUs is used whenever probing fails.
const DefaultDurationUs int64 = 10_000_000

const (
	silenceNoise    = "-35dB"
	silenceMinSec   = "0.3"
	probeTimeout    = 30 * time.Second
	analysisTimeout = 10 * time.Minute
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
	log     logrus.FieldLogger
	run     runner
}

// runner executes a command and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func New(ffmpegPath, ffprobePath string, log logrus.FieldLogger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: log.WithField("component", "ffmpeg"), run: execCombined}
}

func execCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, inPath, outWav string) error {
	b, err := a.run(ctx, a.ffmpeg,
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, string(b))
	}
	return nil
}

// ProbeDurationUs never fails: a missing or broken ffprobe yields DefaultDurationUs.
func (a *Adapter) ProbeDurationUs(ctx context.Context, path string) int64 {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	b, err := a.run(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		a.log.WithError(err).WithField("default_us", DefaultDurationUs).Warn("ffprobe duration failed, using default")
		return DefaultDurationUs
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil || sec <= 0 {
		a.log.WithField("output", s).WithField("default_us", DefaultDurationUs).Warn("unparseable ffprobe duration, using default")
		return DefaultDurationUs
	}
	return int64(sec * 1_000_000)
}

// DetectSilenceRanges runs silencedetect and parses whatever log it produced.
// ffmpeg reports through stderr and may exit non-zero after printing usable
// markers, so the exit status alone does not discard the output.
func (a *Adapter) DetectSilenceRanges(ctx context.Context, path string, durationUs int64) []types.CutRange {
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	b, err := a.run(ctx, a.ffmpeg,
		"-hide_banner",
		"-nostats",
		"-i", path,
		"-af", "silencedetect=noise="+silenceNoise+":d="+silenceMinSec,
		"-f", "null",
		"-",
	)
	ranges := silencelog.Parse(bytes.NewReader(b), durationUs)
	if err != nil {
		a.log.WithError(err).WithField("ranges", len(ranges)).Warn("silencedetect exited with error")
	}
	return ranges
}
