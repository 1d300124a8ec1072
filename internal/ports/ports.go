package ports

import (
	"context"
	"errors"

	"github.com/forPelevin/reelplan/internal/types"
)

type AudioExtractor interface {
	ExtractAudioMono16k(ctx context.Context, inPath, outWav string) error
}

// MediaAnalyzer never fails a run: probing falls back to a default duration
// and silence detection degrades to an empty result.
type MediaAnalyzer interface {
	ProbeDurationUs(ctx context.Context, path string) int64
	DetectSilenceRanges(ctx context.Context, path string, durationUs int64) []types.CutRange
}

type TranscribeRequest struct {
	AudioPath string
	WorkDir   string
	Language  string
	Model     string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (types.RawTranscript, error)
}

// Completer is a JSON-only chat completion backend.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNoResults is returned by an AssetProvider when a search matched nothing.
// It is not retried.
var ErrNoResults = errors.New("no results")

type AssetProvider interface {
	Name() string
	Search(ctx context.Context, apiKey string, kind types.AssetKind, query string) (types.AssetCandidate, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}
