package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/forPelevin/reelplan/internal/domain/asrselect"
	"github.com/forPelevin/reelplan/internal/domain/assets"
	"github.com/forPelevin/reelplan/internal/domain/timeline"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/telemetry"
	"github.com/forPelevin/reelplan/internal/types"
)

func TestRoughCut_StubScenario(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	uc := env.usecase(apiWithoutKey)

	res, err := uc.RoughCut(context.Background(), env.roughCutInput())
	if err != nil {
		t.Fatalf("rough-cut: %v", err)
	}
	if res.Transcript.Adapter.Kind != types.AdapterKindStub {
		t.Fatalf("expected stub transcript, got %+v", res.Transcript.Adapter)
	}
	want := []types.CutRange{{StartUs: 400_000, EndUs: 1_050_000, Reason: types.ReasonIntroSilence, Confidence: 0.5}}
	if len(res.CutPlan.RemoveRanges) != 1 || res.CutPlan.RemoveRanges[0] != want[0] {
		t.Fatalf("expected only the intro window, got %+v", res.CutPlan.RemoveRanges)
	}
	if env.audio.calls != 0 {
		t.Fatalf("stub path must not extract audio")
	}
	if res.Timeline.Version != 1 || res.Timeline.SourceClips != 2 || res.Timeline.DurationUs != 10_000_000-650_000 {
		t.Fatalf("expected a compacted rough-cut timeline, got %+v", res.Timeline)
	}

	for _, name := range []string{TranscriptFile, CutPlanFile, TimelineFile, filepath.Join(SubtitlesDir, SRTFile), filepath.Join(SubtitlesDir, VTTFile)} {
		if _, err := os.Stat(filepath.Join(env.dir, name)); err != nil {
			t.Fatalf("expected artifact %s: %v", name, err)
		}
	}

	statuses := env.jobs.statuses()
	if len(statuses) != 2 || statuses[0] != types.StatusTranscriptionInProgress || statuses[1] != types.StatusRoughCutPlanReady {
		t.Fatalf("unexpected job transitions: %v", statuses)
	}
	last := env.jobs.last()
	if last.CompletedAt == nil || last.FinishedAt != nil || last.Error != "" {
		t.Fatalf("unexpected final record: %+v", last)
	}
	for _, stage := range []string{StageSelectAdapter, StageProbeDuration, StageTranscribe, StagePlanCuts, StageBuildTimeline, StageWriteArtifacts} {
		if _, ok := last.StageDurationsMs[stage]; !ok {
			t.Fatalf("missing stage %s in %v", stage, last.StageDurationsMs)
		}
	}
	if runs := env.runs.all(); len(runs) != 1 || runs[0].Outcome != telemetry.OutcomeSuccess || runs[0].RunID != last.RunID {
		t.Fatalf("unexpected telemetry: %+v", runs)
	}
}

func TestRoughCut_LocalTranscriberAndLLMFallback(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.llm = fakeCompleter{err: errors.New("model unavailable")}
	env.media.silences = []types.CutRange{{StartUs: 8_000_000, EndUs: 8_500_000, Reason: types.ReasonSilence, Confidence: 0.9}}
	env.transcriber = &fakeTranscriber{raw: types.RawTranscript{Segments: []types.RawSegment{
		{Start: 0.2, End: 1.5, Text: "um welcome back", Words: []types.RawWord{
			{Start: 0.2, End: 0.4, Word: "um"},
			{Start: 0.5, End: 1.0, Word: "welcome"},
			{Start: 1.0, End: 1.5, Word: "back"},
		}},
		{Start: 1.6, End: 4, Text: "today we cook pasta"},
	}}}
	uc := env.usecase(localRuntime)

	in := env.roughCutInput()
	in.CutPlannerModel = "some/model"
	res, err := uc.RoughCut(context.Background(), in)
	if err != nil {
		t.Fatalf("rough-cut: %v", err)
	}
	if res.CutPlan.Planner.Strategy != types.StrategyHeuristicFallback {
		t.Fatalf("expected heuristic fallback, got %+v", res.CutPlan.Planner)
	}
	if len(res.CutPlan.RemoveRanges) < 2 {
		t.Fatalf("expected filler and silence ranges, got %+v", res.CutPlan.RemoveRanges)
	}
	if env.audio.calls != 1 || filepath.Dir(env.audio.out) != filepath.Join(env.dir, WorkDir) {
		t.Fatalf("expected audio extracted into work dir, got %q", env.audio.out)
	}
	if env.transcriber.req.AudioPath != env.audio.out || env.transcriber.req.Language != "en" {
		t.Fatalf("unexpected transcribe request: %+v", env.transcriber.req)
	}
	if got := env.jobs.last().RetryEvents; len(got) != 1 || got[0].Step != "transcribe-api" {
		t.Fatalf("expected transcriber retry events on the job record, got %+v", got)
	}
}

func TestRoughCut_FailureIsPersistedAndReturned(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	uc := env.usecase(func(asrselect.Request) (asrselect.Selection, error) {
		return asrselect.Selection{}, &asrselect.NoLocalRuntimeError{Mode: asrselect.ModeLocal}
	})

	_, err := uc.RoughCut(context.Background(), env.roughCutInput())
	var noLocal *asrselect.NoLocalRuntimeError
	if !errors.As(err, &noLocal) {
		t.Fatalf("expected NoLocalRuntimeError, got %v", err)
	}
	last := env.jobs.last()
	if last.Status != types.StatusRoughCutFailed || last.FinishedAt == nil || last.Error == "" {
		t.Fatalf("unexpected failure record: %+v", last)
	}
	if runs := env.runs.all(); len(runs) != 1 || runs[0].Outcome != telemetry.OutcomeFailure {
		t.Fatalf("expected failure telemetry, got %+v", runs)
	}
}

func TestRoughCut_FailureWriteErrorsDoNotMaskCause(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.jobs.failAfter = 1
	env.runs.err = errors.New("disk full")
	boom := errors.New("transcriber crashed")
	env.transcriber = &fakeTranscriber{err: boom}
	uc := env.usecase(localRuntime)

	_, err := uc.RoughCut(context.Background(), env.roughCutInput())
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
}

func TestRoughCut_FinalWriteFailureIsNotRecordedAsSuccess(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.jobs.failAfter = 1
	uc := env.usecase(apiWithoutKey)

	if _, err := uc.RoughCut(context.Background(), env.roughCutInput()); err == nil {
		t.Fatalf("expected the final job record write to fail")
	}
	if got := env.jobs.statuses(); len(got) != 1 || got[0] != types.StatusTranscriptionInProgress {
		t.Fatalf("unexpected job transitions: %v", got)
	}
	runs := env.runs.all()
	if len(runs) != 1 || runs[0].Outcome != telemetry.OutcomeFailure || runs[0].Error == "" {
		t.Fatalf("run history must not claim success, got %+v", runs)
	}
}

func TestEnrich_RequiresTranscript(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	_, err := env.usecase(apiWithoutKey).Enrich(context.Background(), env.enrichInput())
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if got := env.jobs.last().Status; got != types.StatusEnrichmentFailed {
		t.Fatalf("expected failed enrich record, got %s", got)
	}
}

func TestEnrich_AfterStubRoughCut(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.llm = fakeCompleter{err: errors.New("timeout")}
	uc := env.usecase(apiWithoutKey)
	if _, err := uc.RoughCut(context.Background(), env.roughCutInput()); err != nil {
		t.Fatalf("rough-cut: %v", err)
	}

	in := env.enrichInput()
	in.TemplatePlannerModel = "some/model"
	res, err := uc.Enrich(context.Background(), in)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res.Plan.Planner.Strategy != types.StrategyHeuristicFallback || len(res.Plan.Placements) == 0 {
		t.Fatalf("expected non-empty heuristic fallback plan, got %+v", res.Plan.Planner)
	}
	if len(res.Plan.Assets) == 0 {
		t.Fatalf("expected asset suggestions")
	}
	for _, a := range res.Plan.Assets {
		if a.Media.Status != types.MediaSkipped {
			t.Fatalf("expected skipped asset with fetchExternal=false, got %+v", a.Media)
		}
	}
	if len(res.Plan.RetryEvents) == 0 {
		t.Fatalf("expected planner retry events to be carried into the plan")
	}

	b, err := os.ReadFile(filepath.Join(env.dir, TimelineFile))
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	doc := gjson.ParseBytes(b)
	if doc.Get("status").String() != timeline.StatusEnriched || doc.Get("version").Int() != 2 {
		t.Fatalf("unexpected timeline header: %s", b)
	}
	if n := doc.Get(`clips.#(trackId=="overlay-templates")#`).Array(); len(n) != len(res.Plan.Placements) {
		t.Fatalf("expected %d template clips, got %d", len(res.Plan.Placements), len(n))
	}
	if res.Timeline.AssetClips != 0 {
		t.Fatalf("skipped assets must not reach the timeline")
	}
	if _, err := os.Stat(filepath.Join(env.dir, TemplatePlanFile)); err != nil {
		t.Fatalf("expected template plan: %v", err)
	}
	if got := env.jobs.last().Status; got != types.StatusEnrichedTimelineReady {
		t.Fatalf("unexpected final status %s", got)
	}

	again, err := uc.Enrich(context.Background(), in)
	if err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if n := doc.Get(`clips.#(clipType=="source_clip")#`).Array(); len(n) != 2 {
		t.Fatalf("enrich must keep the rough-cut source clips, got %d", len(n))
	}
	if again.Timeline.Version != 3 || again.Timeline.Replaced != len(res.Plan.Placements) {
		t.Fatalf("re-run must replace generated clips, got %+v", again.Timeline)
	}
}

// --- fakes ---

type env struct {
	dir         string
	media       *fakeMedia
	audio       *fakeAudio
	transcriber *fakeTranscriber
	llm         ports.Completer
	jobs        *fakeJobs
	runs        *fakeRuns
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		dir:         filepath.Join(t.TempDir(), "demo"),
		media:       &fakeMedia{durationUs: 10_000_000},
		audio:       &fakeAudio{},
		transcriber: &fakeTranscriber{},
		jobs:        &fakeJobs{},
		runs:        &fakeRuns{},
	}
}

func (e *env) usecase(sel func(asrselect.Request) (asrselect.Selection, error)) Usecase {
	return New(Deps{
		Media:     e.media,
		Audio:     e.audio,
		SelectASR: sel,
		NewTranscriber: func(asrselect.Selection) (ports.Transcriber, error) {
			return e.transcriber, nil
		},
		LLM:    e.llm,
		Assets: assets.NewResolver(assets.ResolverConfig{CacheDir: filepath.Join(e.dir, StockCacheDir)}),
		Jobs:   e.jobs,
		Runs:   e.runs,
		Now:    func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) },
	})
}

func (e *env) roughCutInput() RoughCutInput {
	return RoughCutInput{ProjectID: "demo", ProjectDir: e.dir, SourcePath: "/media/in.mp4", FPS: 30, Language: "en"}
}

func (e *env) enrichInput() EnrichInput {
	return EnrichInput{ProjectID: "demo", ProjectDir: e.dir, FPS: 30}
}

func apiWithoutKey(asrselect.Request) (asrselect.Selection, error) {
	return asrselect.Selection{Kind: asrselect.KindAPI, Runtime: asrselect.RuntimeAPI, Model: "whisper-1"}, nil
}

func localRuntime(asrselect.Request) (asrselect.Selection, error) {
	return asrselect.Selection{Kind: asrselect.KindLocal, Runtime: asrselect.RuntimeWhisperCpp, Binary: "whisper-cli", Model: "ggml-base.en.bin"}, nil
}

type fakeMedia struct {
	durationUs int64
	silences   []types.CutRange
}

func (f *fakeMedia) ProbeDurationUs(context.Context, string) int64 { return f.durationUs }

func (f *fakeMedia) DetectSilenceRanges(context.Context, string, int64) []types.CutRange {
	return f.silences
}

type fakeAudio struct {
	calls int
	out   string
}

func (f *fakeAudio) ExtractAudioMono16k(_ context.Context, _, out string) error {
	f.calls++
	f.out = out
	return nil
}

type fakeTranscriber struct {
	raw types.RawTranscript
	err error
	req ports.TranscribeRequest
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req ports.TranscribeRequest) (types.RawTranscript, error) {
	f.req = req
	return f.raw, f.err
}

func (f *fakeTranscriber) RetryEvents() []types.RetryEvent {
	return []types.RetryEvent{{Step: "transcribe-api", Attempt: 1, DelayMs: 500, Error: "502"}}
}

type fakeCompleter struct {
	out string
	err error
}

func (f fakeCompleter) CompleteJSON(context.Context, string, string) (string, error) {
	return f.out, f.err
}

type fakeJobs struct {
	mu        sync.Mutex
	records   []types.JobRecord
	failAfter int
}

func (f *fakeJobs) Write(rec types.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.records) >= f.failAfter {
		return errors.New("read-only filesystem")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeJobs) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Status)
	}
	return out
}

func (f *fakeJobs) last() types.JobRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[len(f.records)-1]
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []telemetry.Summary
	err  error
}

func (f *fakeRuns) Record(_ context.Context, s telemetry.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, s)
	return nil
}

func (f *fakeRuns) all() []telemetry.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telemetry.Summary(nil), f.runs...)
}
