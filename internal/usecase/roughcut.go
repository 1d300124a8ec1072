package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/domain/asrselect"
	"github.com/forPelevin/reelplan/internal/domain/cutplan"
	"github.com/forPelevin/reelplan/internal/domain/subtitles"
	"github.com/forPelevin/reelplan/internal/domain/timeline"
	"github.com/forPelevin/reelplan/internal/domain/transcript"
	"github.com/forPelevin/reelplan/internal/domain/validate"
	"github.com/forPelevin/reelplan/internal/jobs"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/telemetry"
	"github.com/forPelevin/reelplan/internal/types"
)

type RoughCutInput struct {
	ProjectID  string
	ProjectDir string
	SourcePath string
	FPS        int
	ASR        asrselect.Request
	Language   string
	// CutPlannerModel enables the LLM cut planner when set.
	CutPlannerModel string
}

type RoughCutResult struct {
	Job        types.JobRecord
	Selection  asrselect.Selection
	Transcript types.CanonicalTranscript
	CutPlan    types.CutPlan
	Timeline   TimelineSummary
	Artifacts  map[string]string
}

type transcribed struct {
	tr      types.CanonicalTranscript
	retries []types.RetryEvent
}

func (u Usecase) RoughCut(ctx context.Context, in RoughCutInput) (RoughCutResult, error) {
	r, err := u.start(in.ProjectID, types.FlowRoughCut, types.StatusTranscriptionInProgress)
	if err != nil {
		return RoughCutResult{}, fmt.Errorf("write rough-cut job record: %w", err)
	}
	res, err := u.roughCut(ctx, r, in)
	if err != nil {
		return RoughCutResult{}, r.fail(ctx, types.StatusRoughCutFailed, err)
	}
	if res.Job, err = r.finish(ctx, types.StatusRoughCutPlanReady); err != nil {
		return res, fmt.Errorf("write rough-cut job record: %w", err)
	}
	return res, nil
}

func (u Usecase) roughCut(ctx context.Context, r *run, in RoughCutInput) (RoughCutResult, error) {
	var res RoughCutResult
	sel, err := telemetry.Stage(r.tracker, StageSelectAdapter, func() (asrselect.Selection, error) {
		return u.d.SelectASR(in.ASR)
	})
	if err != nil {
		return res, err
	}
	res.Selection = sel
	for _, w := range sel.Warnings {
		r.log.Warn(w)
	}
	r.log.WithFields(logrus.Fields{"kind": sel.Kind, "runtime": sel.Runtime, "model": sel.Model}).Info("transcription adapter selected")

	var durationUs int64
	_ = r.tracker.Track(StageProbeDuration, func() error {
		durationUs = u.d.Media.ProbeDurationUs(ctx, in.SourcePath)
		return nil
	})
	var silences []types.CutRange
	_ = r.tracker.Track(StageDetectSilence, func() error {
		silences = u.d.Media.DetectSilenceRanges(ctx, in.SourcePath, durationUs)
		return nil
	})

	out, err := telemetry.Stage(r.tracker, StageTranscribe, func() (transcribed, error) {
		return u.transcribe(ctx, in, sel, durationUs)
	})
	if err != nil {
		return res, err
	}
	r.addRetries(out.retries)
	res.Transcript = out.tr

	_ = r.tracker.Track(StagePlanCuts, func() error {
		planner := cutplan.New(u.d.LLM, in.CutPlannerModel, r.log)
		res.CutPlan = planner.Plan(ctx, cutplan.Input{Transcript: res.Transcript, DurationUs: durationUs, Silences: silences})
		return nil
	})

	err = r.tracker.Track(StageValidate, func() error {
		return errors.Join(validate.Transcript(res.Transcript), validate.CutPlan(res.CutPlan))
	})
	if err != nil {
		return res, err
	}

	tlPath := filepath.Join(in.ProjectDir, TimelineFile)
	cut, err := telemetry.Stage(r.tracker, StageBuildTimeline, func() (timeline.Result, error) {
		existing, err := readTimeline(tlPath)
		if err != nil {
			return timeline.Result{}, err
		}
		return timeline.RoughCut(existing, timeline.RoughCutInput{
			ProjectID:    in.ProjectID,
			SourceRef:    in.SourcePath,
			FPS:          in.FPS,
			DurationUs:   res.CutPlan.DurationUs,
			RemoveRanges: res.CutPlan.RemoveRanges,
			Now:          u.d.Now(),
		})
	})
	if err != nil {
		return res, err
	}
	res.Timeline = summarize(cut)

	res.Artifacts, err = telemetry.Stage(r.tracker, StageWriteArtifacts, func() (map[string]string, error) {
		paths, err := u.writeRoughCutArtifacts(in, res.Transcript, res.CutPlan)
		if err != nil {
			return nil, err
		}
		paths["timeline"] = tlPath
		return paths, jobs.WriteFile(tlPath, cut.Document)
	})
	return res, err
}

func (u Usecase) transcribe(ctx context.Context, in RoughCutInput, sel asrselect.Selection, durationUs int64) (transcribed, error) {
	meta := transcript.Meta{
		SourcePath: in.SourcePath,
		DurationUs: durationUs,
		Adapter:    types.AdapterInfo{Kind: sel.Kind, Runtime: sel.Runtime, Model: sel.Model},
		Language:   in.Language,
		Now:        u.d.Now(),
	}
	if sel.Kind == asrselect.KindAPI && !sel.HasCredentials {
		return transcribed{tr: transcript.Stub(meta)}, nil
	}

	tx, err := u.d.NewTranscriber(sel)
	if err != nil {
		return transcribed{}, fmt.Errorf("transcriber: %w", err)
	}
	work := filepath.Join(in.ProjectDir, WorkDir)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return transcribed{}, err
	}
	wav := filepath.Join(work, "audio.wav")
	if err := u.d.Audio.ExtractAudioMono16k(ctx, in.SourcePath, wav); err != nil {
		return transcribed{}, err
	}
	raw, err := tx.Transcribe(ctx, ports.TranscribeRequest{AudioPath: wav, WorkDir: work, Language: in.Language, Model: sel.Model})
	out := transcribed{}
	if rr, ok := tx.(RetryReporter); ok {
		out.retries = rr.RetryEvents()
	}
	if err != nil {
		return out, fmt.Errorf("transcribe: %w", err)
	}
	out.tr = transcript.Synthesize(raw, meta)
	return out, nil
}

func (u Usecase) writeRoughCutArtifacts(in RoughCutInput, tr types.CanonicalTranscript, plan types.CutPlan) (map[string]string, error) {
	dir := in.ProjectDir
	paths := map[string]string{
		"transcript": filepath.Join(dir, TranscriptFile),
		"srt":        filepath.Join(dir, SubtitlesDir, SRTFile),
		"vtt":        filepath.Join(dir, SubtitlesDir, VTTFile),
		"cutPlan":    filepath.Join(dir, CutPlanFile),
	}
	if err := jobs.WriteJSON(paths["transcript"], tr); err != nil {
		return nil, err
	}
	if err := jobs.WriteFile(paths["srt"], []byte(subtitles.RenderSRT(tr))); err != nil {
		return nil, err
	}
	if err := jobs.WriteFile(paths["vtt"], []byte(subtitles.RenderVTT(tr))); err != nil {
		return nil, err
	}
	if err := jobs.WriteJSON(paths["cutPlan"], plan); err != nil {
		return nil, err
	}
	return paths, nil
}
