// Package pipeline wires configured adapters into the use cases and owns the
// on-disk project layout.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/config"
	"github.com/forPelevin/reelplan/internal/domain/asrselect"
	"github.com/forPelevin/reelplan/internal/domain/assets"
	"github.com/forPelevin/reelplan/internal/jobs"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/reelplan/internal/ports/adapters/openrouter"
	"github.com/forPelevin/reelplan/internal/ports/adapters/stock"
	"github.com/forPelevin/reelplan/internal/ports/adapters/transcribeapi"
	"github.com/forPelevin/reelplan/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/telemetry"
	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
	"github.com/forPelevin/reelplan/internal/usecase"
)

// Provider credential variables.
const (
	EnvPexelsKey  = "PEXELS_API_KEY"
	EnvPixabayKey = "PIXABAY_API_KEY"
)

type RoughCutRequest struct {
	ProjectID       string
	SourcePath      string
	FPS             int
	Mode            string
	FallbackPolicy  string
	Language        string
	Model           string
	CutPlannerModel string
}

type EnrichRequest struct {
	ProjectID            string
	FPS                  int
	TemplatesDir         string
	TemplatePlannerModel string
	FetchExternal        bool
	MaxRetries           int
}

// Env is the process environment the pipeline reads credentials and
// runtimes from.
type Env struct {
	Getenv func(string) string
	ASR    asrselect.Environment
}

func SystemEnv() Env {
	return Env{Getenv: os.Getenv, ASR: asrselect.SystemEnvironment()}
}

type Pipeline struct {
	cfg config.Config
	env Env
	log logrus.FieldLogger
}

func New(cfg config.Config, env Env, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	if env.Getenv == nil {
		env.Getenv = func(string) string { return "" }
	}
	return &Pipeline{cfg: cfg, env: env, log: log}
}

// Validate fails fast on LLM endpoint settings that would otherwise only
// surface mid-run. Without an API key the LLM is never contacted.
func (p *Pipeline) Validate() error {
	if strings.TrimSpace(p.cfg.LLM.APIKey) == "" {
		return nil
	}
	return openrouter.ValidateBaseURL(p.cfg.LLM.BaseURL, p.cfg.LLM.AllowedHosts)
}

// ProjectID normalizes a user supplied id into a directory-safe slug.
func ProjectID(raw string) (string, error) {
	id := textnorm.Slug(raw)
	if id == "" {
		return "", fmt.Errorf("invalid project id %q", raw)
	}
	return id, nil
}

func (p *Pipeline) ProjectDir(projectID string) string {
	return filepath.Join(p.cfg.ProjectsDir, projectID)
}

type RoughCutSummary struct {
	ProjectID  string              `json:"projectId"`
	RunID      string              `json:"runId"`
	Status     string              `json:"status"`
	Adapter    asrselect.Selection `json:"adapter"`
	Transcript struct {
		TranscriptID string `json:"transcriptId"`
		Segments     int    `json:"segments"`
		Words        int    `json:"words"`
		DurationUs   int64  `json:"durationUs"`
	} `json:"transcript"`
	CutPlan struct {
		PlanID       string `json:"planId"`
		Strategy     string `json:"strategy"`
		RemoveRanges int    `json:"removeRanges"`
	} `json:"cutPlan"`
	Timeline         usecase.TimelineSummary `json:"timeline"`
	StageDurationsMs map[string]int64        `json:"stageDurationsMs"`
	Artifacts        map[string]string       `json:"artifacts"`
}

func (p *Pipeline) RoughCut(ctx context.Context, req RoughCutRequest, out io.Writer) error {
	id, err := ProjectID(req.ProjectID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		return errors.New("source path is empty")
	}
	src, err := filepath.Abs(req.SourcePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	tc := p.cfg.Transcription
	asrReq := asrselect.Request{
		Mode:      asrselect.Mode(firstNonEmpty(req.Mode, tc.Mode)),
		Policy:    asrselect.Policy(firstNonEmpty(req.FallbackPolicy, tc.FallbackPolicy)),
		Model:     firstNonEmpty(req.Model, tc.Model),
		APIKeyEnv: tc.APIKeyEnv,
	}
	cutModel := firstNonEmpty(req.CutPlannerModel, p.cfg.LLM.CutPlannerModel)

	runs, closeRuns := p.openRuns()
	defer closeRuns()

	media := ffmpeg.New(p.cfg.Media.FFmpegPath, p.cfg.Media.FFprobePath, p.log)
	uc := usecase.New(usecase.Deps{
		Media: media,
		Audio: media,
		SelectASR: func(r asrselect.Request) (asrselect.Selection, error) {
			return asrselect.Select(r, p.env.ASR)
		},
		NewTranscriber: p.transcriber,
		LLM:            p.completer(cutModel),
		Jobs:           jobs.NewStore(p.cfg.ProjectsDir),
		Runs:           runs,
		Log:            p.log,
	})
	res, err := uc.RoughCut(ctx, usecase.RoughCutInput{
		ProjectID:       id,
		ProjectDir:      p.ProjectDir(id),
		SourcePath:      src,
		FPS:             req.FPS,
		ASR:             asrReq,
		Language:        firstNonEmpty(req.Language, tc.Language),
		CutPlannerModel: cutModel,
	})
	if err != nil {
		return err
	}

	var sum RoughCutSummary
	sum.ProjectID = id
	sum.RunID = res.Job.RunID
	sum.Status = res.Job.Status
	sum.Adapter = res.Selection
	sum.Transcript.TranscriptID = res.Transcript.TranscriptID
	sum.Transcript.Segments = len(res.Transcript.Segments)
	sum.Transcript.Words = len(res.Transcript.Words)
	sum.Transcript.DurationUs = res.Transcript.Source.DurationUs
	sum.CutPlan.PlanID = res.CutPlan.PlanID
	sum.CutPlan.Strategy = res.CutPlan.Planner.Strategy
	sum.CutPlan.RemoveRanges = len(res.CutPlan.RemoveRanges)
	sum.Timeline = res.Timeline
	sum.StageDurationsMs = res.Job.StageDurationsMs
	sum.Artifacts = res.Artifacts
	return writeSummary(out, sum)
}

type EnrichSummary struct {
	ProjectID        string                  `json:"projectId"`
	RunID            string                  `json:"runId"`
	Status           string                  `json:"status"`
	PlanID           string                  `json:"planId"`
	Strategy         string                  `json:"strategy"`
	Placements       int                     `json:"placements"`
	Warnings         int                     `json:"warnings"`
	Assets           map[string]int          `json:"assets"`
	RetryEvents      int                     `json:"retryEvents"`
	Timeline         usecase.TimelineSummary `json:"timeline"`
	StageDurationsMs map[string]int64        `json:"stageDurationsMs"`
	Artifacts        map[string]string       `json:"artifacts"`
}

func (p *Pipeline) Enrich(ctx context.Context, req EnrichRequest, out io.Writer) error {
	id, err := ProjectID(req.ProjectID)
	if err != nil {
		return err
	}
	dir := p.ProjectDir(id)
	ac := p.cfg.Assets
	policy := retry.Policy{MaxRetries: ac.MaxRetries, Delay: time.Duration(ac.RetryDelayMs) * time.Millisecond}
	if req.MaxRetries >= 0 {
		policy.MaxRetries = req.MaxRetries
	}
	model := firstNonEmpty(req.TemplatePlannerModel, p.cfg.LLM.TemplatePlannerModel)

	runs, closeRuns := p.openRuns()
	defer closeRuns()

	uc := usecase.New(usecase.Deps{
		LLM:    p.completer(model),
		Assets: p.resolver(filepath.Join(dir, usecase.StockCacheDir), policy),
		Jobs:   jobs.NewStore(p.cfg.ProjectsDir),
		Runs:   runs,
		Log:    p.log,
	})
	res, err := uc.Enrich(ctx, usecase.EnrichInput{
		ProjectID:            id,
		ProjectDir:           dir,
		FPS:                  req.FPS,
		TemplatesDir:         firstNonEmpty(req.TemplatesDir, p.cfg.Templates.Dir),
		TemplatePlannerModel: model,
		FetchExternal:        req.FetchExternal,
		Suggest:              assets.SuggestOptions{VideoProvider: ac.VideoProvider, ImageProvider: ac.ImageProvider},
	})
	if err != nil {
		return err
	}

	statuses := map[string]int{}
	for _, a := range res.Plan.Assets {
		statuses[a.Media.Status]++
	}
	return writeSummary(out, EnrichSummary{
		ProjectID:        id,
		RunID:            res.Job.RunID,
		Status:           res.Job.Status,
		PlanID:           res.Plan.PlanID,
		Strategy:         res.Plan.Planner.Strategy,
		Placements:       len(res.Plan.Placements),
		Warnings:         len(res.Plan.Warnings),
		Assets:           statuses,
		RetryEvents:      len(res.Job.RetryEvents),
		Timeline:         res.Timeline,
		StageDurationsMs: res.Job.StageDurationsMs,
		Artifacts:        res.Artifacts,
	})
}

func (p *Pipeline) transcriber(sel asrselect.Selection) (ports.Transcriber, error) {
	switch sel.Kind {
	case asrselect.KindLocal:
		return whispercpp.New(sel.Runtime, sel.Binary, sel.Model, p.log), nil
	case asrselect.KindAPI:
		tc := p.cfg.Transcription
		return transcribeapi.New(transcribeapi.Config{
			BaseURL: tc.APIBaseURL,
			APIKey:  p.env.Getenv(firstNonEmpty(tc.APIKeyEnv, asrselect.DefaultAPIKeyEnv)),
			Model:   sel.Model,
			Timeout: time.Duration(tc.TimeoutSeconds) * time.Second,
			Retry:   retry.Default(),
			Log:     p.log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription kind %q", sel.Kind)
	}
}

// completer returns nil when no key or model is configured; planners then
// stay heuristic. A misconfigured endpoint is logged and treated the same.
func (p *Pipeline) completer(model string) ports.Completer {
	lc := p.cfg.LLM
	if strings.TrimSpace(lc.APIKey) == "" || strings.TrimSpace(model) == "" {
		return nil
	}
	c, err := openrouter.New(openrouter.Config{
		APIKey:       lc.APIKey,
		BaseURL:      lc.BaseURL,
		AllowedHosts: lc.AllowedHosts,
		Model:        model,
		Timeout:      time.Duration(lc.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		p.log.WithError(err).Warn("llm disabled, using heuristic planners")
		return nil
	}
	return c
}

func (p *Pipeline) resolver(cacheDir string, policy retry.Policy) *assets.Resolver {
	ac := p.cfg.Assets
	keys := map[string]string{
		stock.PexelsName:  EnvPexelsKey,
		stock.PixabayName: EnvPixabayKey,
	}
	return assets.NewResolver(assets.ResolverConfig{
		CacheDir: cacheDir,
		Providers: []ports.AssetProvider{
			stock.NewPexels(ac.PexelsBaseURL, nil),
			stock.NewPixabay(ac.PixabayBaseURL, nil),
		},
		Downloader: stock.NewDownloader(nil),
		APIKey: func(provider string) string {
			return strings.TrimSpace(p.env.Getenv(keys[provider]))
		},
		Retry:           policy,
		SearchTimeout:   time.Duration(ac.SearchTimeoutSeconds) * time.Second,
		DownloadTimeout: time.Duration(ac.DownloadTimeoutSeconds) * time.Second,
		Concurrency:     ac.Concurrency,
		Log:             p.log,
	})
}

// openRuns opens the run history. It is optional: a broken database is
// logged and the run proceeds without telemetry.
func (p *Pipeline) openRuns() (usecase.RunRecorder, func()) {
	store, err := telemetry.Open(filepath.Join(p.cfg.ProjectsDir, telemetry.FileName))
	if err != nil {
		p.log.WithError(err).Warn("run history unavailable")
		return nil, func() {}
	}
	return store, func() {
		if err := store.Close(); err != nil {
			p.log.WithError(err).Warn("close run history")
		}
	}
}

func writeSummary(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

type StatusReport struct {
	ProjectID string
	Jobs      []types.JobRecord
	Runs      []telemetry.Summary
}

// Status reads the project's job records and its recent run history. A
// missing history database is not an error.
func (p *Pipeline) Status(ctx context.Context, projectID string, limit int) (StatusReport, error) {
	id, err := ProjectID(projectID)
	if err != nil {
		return StatusReport{}, err
	}
	rep := StatusReport{ProjectID: id}
	if rep.Jobs, err = jobs.NewStore(p.cfg.ProjectsDir).List(id); err != nil {
		return rep, err
	}
	dbPath := filepath.Join(p.cfg.ProjectsDir, telemetry.FileName)
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return rep, nil
	}
	store, err := telemetry.Open(dbPath)
	if err != nil {
		return rep, err
	}
	defer store.Close()
	rep.Runs, err = store.Recent(ctx, id, limit)
	return rep, err
}
