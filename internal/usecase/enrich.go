package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/forPelevin/reelplan/internal/domain/assets"
	"github.com/forPelevin/reelplan/internal/domain/templates"
	"github.com/forPelevin/reelplan/internal/domain/timeline"
	"github.com/forPelevin/reelplan/internal/domain/validate"
	"github.com/forPelevin/reelplan/internal/jobs"
	"github.com/forPelevin/reelplan/internal/telemetry"
	"github.com/forPelevin/reelplan/internal/types"
)

// ErrNoTranscript means enrich ran before a successful rough-cut.
var ErrNoTranscript = errors.New("no transcript: run rough-cut first")

type EnrichInput struct {
	ProjectID    string
	ProjectDir   string
	FPS          int
	TemplatesDir string
	// TemplatePlannerModel enables the LLM placement planner when set.
	TemplatePlannerModel string
	FetchExternal        bool
	Suggest              assets.SuggestOptions
}

type EnrichResult struct {
	Job       types.JobRecord
	Plan      types.TemplatePlan
	Timeline  TimelineSummary
	Artifacts map[string]string
}

type TimelineSummary struct {
	Version       int64 `json:"version"`
	DurationUs    int64 `json:"durationUs"`
	Clips         int   `json:"clips"`
	SourceClips   int   `json:"sourceClips"`
	TemplateClips int   `json:"templateClips"`
	AssetClips    int   `json:"assetClips"`
	Replaced      int   `json:"replaced"`
}

func (u Usecase) Enrich(ctx context.Context, in EnrichInput) (EnrichResult, error) {
	r, err := u.start(in.ProjectID, types.FlowEnrich, types.StatusTemplatePlanningInProgress)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("write enrich job record: %w", err)
	}
	res, err := u.enrich(ctx, r, in)
	if err != nil {
		return EnrichResult{}, r.fail(ctx, types.StatusEnrichmentFailed, err)
	}
	if res.Job, err = r.finish(ctx, types.StatusEnrichedTimelineReady); err != nil {
		return res, fmt.Errorf("write enrich job record: %w", err)
	}
	return res, nil
}

func (u Usecase) enrich(ctx context.Context, r *run, in EnrichInput) (EnrichResult, error) {
	var res EnrichResult
	tr, err := telemetry.Stage(r.tracker, StageLoadTranscript, func() (types.CanonicalTranscript, error) {
		return loadTranscript(filepath.Join(in.ProjectDir, TranscriptFile))
	})
	if err != nil {
		return res, err
	}
	duration := tr.Source.DurationUs

	catalog, err := telemetry.Stage(r.tracker, StageDiscover, func() ([]types.TemplateDescriptor, error) {
		return templates.Discover(in.TemplatesDir)
	})
	if err != nil {
		r.log.WithError(err).Warn("some template registrations were skipped")
	}

	var proposal templates.Proposal
	_ = r.tracker.Track(StagePlanPlacements, func() error {
		planner := templates.NewPlanner(u.d.LLM, in.TemplatePlannerModel, r.log)
		proposal = planner.Plan(ctx, templates.PlanInput{Transcript: tr, Catalog: catalog, DurationUs: duration})
		return nil
	})
	r.addRetries(proposal.RetryEvents)

	constraints := templates.DefaultConstraints()
	var (
		placements []types.TemplatePlacement
		warnings   []types.Warning
	)
	_ = r.tracker.Track(StageEnforce, func() error {
		placements, warnings = templates.Enforce(proposal.Placements, duration, constraints)
		return nil
	})

	var batch assets.Batch
	_ = r.tracker.Track(StageResolveAssets, func() error {
		batch = u.d.Assets.Resolve(ctx, assets.Suggest(tr, placements, in.Suggest), in.FetchExternal)
		return nil
	})
	r.addRetries(batch.RetryEvents)

	plan := types.TemplatePlan{
		PlanID:        uuid.NewString(),
		ProjectID:     in.ProjectID,
		TranscriptID:  tr.TranscriptID,
		DurationUs:    duration,
		CreatedAt:     u.d.Now(),
		FetchExternal: in.FetchExternal,
		Planner:       proposal.Planner,
		Templates:     catalog,
		Placements:    nonNil(placements),
		Assets:        nonNil(batch.Assets),
		Constraints:   constraints,
		Warnings:      nonNil(append(proposal.Warnings, warnings...)),
		RetryEvents:   r.retryEvents(),
	}
	if err := r.tracker.Track(StageValidate, func() error { return validate.TemplatePlan(plan) }); err != nil {
		return res, err
	}
	res.Plan = plan

	tlPath := filepath.Join(in.ProjectDir, TimelineFile)
	merged, err := telemetry.Stage(r.tracker, StageMergeTimeline, func() (timeline.Result, error) {
		existing, err := readTimeline(tlPath)
		if err != nil {
			return timeline.Result{}, err
		}
		return timeline.Merge(existing, timeline.Input{
			ProjectID:  in.ProjectID,
			SourceRef:  tr.Source.Path,
			FPS:        in.FPS,
			DurationUs: duration,
			Placements: plan.Placements,
			Assets:     plan.Assets,
			Now:        u.d.Now(),
		})
	})
	if err != nil {
		return res, err
	}
	res.Timeline = summarize(merged)

	res.Artifacts = map[string]string{
		"templatePlan": filepath.Join(in.ProjectDir, TemplatePlanFile),
		"timeline":     tlPath,
	}
	err = r.tracker.Track(StageWriteArtifacts, func() error {
		if err := jobs.WriteJSON(res.Artifacts["templatePlan"], plan); err != nil {
			return err
		}
		return jobs.WriteFile(tlPath, merged.Document)
	})
	return res, err
}

func summarize(r timeline.Result) TimelineSummary {
	return TimelineSummary{
		Version:       r.Version,
		DurationUs:    r.DurationUs,
		Clips:         r.Clips,
		SourceClips:   r.SourceClips,
		TemplateClips: r.TemplateClips,
		AssetClips:    r.AssetClips,
		Replaced:      r.Replaced,
	}
}

// readTimeline returns nil when the project has no timeline yet.
func readTimeline(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return b, nil
}

func loadTranscript(path string) (types.CanonicalTranscript, error) {
	var tr types.CanonicalTranscript
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return tr, ErrNoTranscript
	}
	if err != nil {
		return tr, fmt.Errorf("read transcript: %w", err)
	}
	if err := json.Unmarshal(b, &tr); err != nil {
		return tr, fmt.Errorf("decode transcript: %w", err)
	}
	if err := validate.Transcript(tr); err != nil {
		return tr, err
	}
	return tr, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
