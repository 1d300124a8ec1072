// Package usecase drives the rough-cut and enrich flows over the ports.
// Each flow persists its job record before work starts and again when it
// finishes, successfully or not.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/domain/asrselect"
	"github.com/forPelevin/reelplan/internal/domain/assets"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/telemetry"
	"github.com/forPelevin/reelplan/internal/types"
)

// Artifact file names inside a project directory.
const (
	TranscriptFile   = "transcript.json"
	SubtitlesDir     = "subtitles"
	SRTFile          = "transcript.srt"
	VTTFile          = "transcript.vtt"
	CutPlanFile      = "cut-plan.json"
	TemplatePlanFile = "template-plan.json"
	TimelineFile     = "timeline.json"
	StockCacheDir    = "stock-cache"
	WorkDir          = "work"
)

// Stage names recorded in stageDurationsMs.
const (
	StageSelectAdapter  = "select-adapter"
	StageProbeDuration  = "probe-duration"
	StageDetectSilence  = "detect-silence"
	StageTranscribe     = "transcribe"
	StagePlanCuts       = "plan-cuts"
	StageLoadTranscript = "load-transcript"
	StageDiscover       = "discover-templates"
	StagePlanPlacements = "plan-placements"
	StageEnforce        = "enforce-constraints"
	StageResolveAssets  = "resolve-assets"
	StageBuildTimeline  = "build-timeline"
	StageMergeTimeline  = "merge-timeline"
	StageValidate       = "validate"
	StageWriteArtifacts = "write-artifacts"
)

type JobStore interface {
	Write(rec types.JobRecord) error
}

type RunRecorder interface {
	Record(ctx context.Context, sum telemetry.Summary) error
}

type AssetResolver interface {
	Resolve(ctx context.Context, suggestions []types.AssetSuggestion, fetchExternal bool) assets.Batch
}

// RetryReporter is implemented by transcribers that retry internally.
type RetryReporter interface {
	RetryEvents() []types.RetryEvent
}

type Deps struct {
	Media ports.MediaAnalyzer
	Audio ports.AudioExtractor
	// SelectASR picks the transcription backend; NewTranscriber builds it.
	SelectASR      func(req asrselect.Request) (asrselect.Selection, error)
	NewTranscriber func(sel asrselect.Selection) (ports.Transcriber, error)
	// LLM is optional; planners fall back to heuristics without it.
	LLM    ports.Completer
	Assets AssetResolver
	Jobs   JobStore
	// Runs is optional.
	Runs RunRecorder
	Log  logrus.FieldLogger
	Now  func() time.Time
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return Usecase{d: d}
}

// run is the bookkeeping shared by both flows.
type run struct {
	u       Usecase
	rec     types.JobRecord
	tracker *telemetry.Tracker
	retries []types.RetryEvent
	log     logrus.FieldLogger
}

func (u Usecase) start(projectID, flow, status string) (*run, error) {
	r := &run{
		u: u,
		rec: types.JobRecord{
			ProjectID:        projectID,
			Flow:             flow,
			RunID:            uuid.NewString(),
			Status:           status,
			StartedAt:        u.d.Now(),
			StageDurationsMs: map[string]int64{},
			RetryEvents:      []types.RetryEvent{},
		},
		tracker: telemetry.NewTracker(),
	}
	r.log = u.d.Log.WithFields(logrus.Fields{"flow": flow, "project": projectID, "run": r.rec.RunID})
	if err := u.d.Jobs.Write(r.rec); err != nil {
		return nil, err
	}
	r.log.WithField("status", status).Info("job started")
	return r, nil
}

func (r *run) addRetries(events []types.RetryEvent) {
	r.retries = append(r.retries, events...)
}

func (r *run) finish(ctx context.Context, status string) (types.JobRecord, error) {
	now := r.u.d.Now()
	r.rec.Status = status
	r.rec.CompletedAt = &now
	r.rec.StageDurationsMs = r.tracker.Durations()
	r.rec.RetryEvents = r.retryEvents()
	// Run history follows the job file: a run whose final record was not
	// written is not a success.
	if err := r.u.d.Jobs.Write(r.rec); err != nil {
		r.rec.Error = "write job record: " + err.Error()
		r.record(ctx, telemetry.OutcomeFailure, now)
		return r.rec, err
	}
	r.record(ctx, telemetry.OutcomeSuccess, now)
	r.log.WithFields(logrus.Fields{"status": status, "retries": len(r.rec.RetryEvents)}).Info("job finished")
	return r.rec, nil
}

// fail persists the failure best-effort and returns cause unchanged.
func (r *run) fail(ctx context.Context, status string, cause error) error {
	now := r.u.d.Now()
	r.rec.Status = status
	r.rec.FinishedAt = &now
	r.rec.StageDurationsMs = r.tracker.Durations()
	r.rec.RetryEvents = r.retryEvents()
	r.rec.Error = cause.Error()
	r.record(ctx, telemetry.OutcomeFailure, now)
	if err := r.u.d.Jobs.Write(r.rec); err != nil {
		r.log.WithError(err).Warn("failure job record not written")
	}
	r.log.WithError(cause).WithField("status", status).Error("job failed")
	return cause
}

func (r *run) record(ctx context.Context, outcome string, at time.Time) {
	if r.u.d.Runs == nil {
		return
	}
	err := r.u.d.Runs.Record(context.WithoutCancel(ctx), telemetry.Summary{
		RunID:            r.rec.RunID,
		ProjectID:        r.rec.ProjectID,
		Flow:             r.rec.Flow,
		Outcome:          outcome,
		StartedAt:        r.rec.StartedAt,
		FinishedAt:       at,
		StageDurationsMs: r.rec.StageDurationsMs,
		RetryEvents:      r.rec.RetryEvents,
		Error:            r.rec.Error,
	})
	if err != nil {
		r.log.WithError(err).Warn("telemetry not recorded")
	}
}

func (r *run) retryEvents() []types.RetryEvent {
	if r.retries == nil {
		return []types.RetryEvent{}
	}
	return append([]types.RetryEvent(nil), r.retries...)
}
