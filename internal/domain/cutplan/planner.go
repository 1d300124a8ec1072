// Package cutplan proposes the time ranges to remove from a source video.
// Proposals come from transcript heuristics and detected silence, optionally
// replaced by a language model proposal that must pass validation first.
package cutplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/llmjson"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	llmTimeout       = 60 * time.Second
	promptSegments   = 200
	promptSegmentLen = 200
	llmReason        = "llm"
)

type Input struct {
	Transcript types.CanonicalTranscript
	DurationUs int64
	Silences   []types.CutRange
}

type Planner struct {
	llm   ports.Completer
	model string
	log   logrus.FieldLogger
	now   func() time.Time
}

// New returns a planner. A nil completer or an empty model keeps planning
// purely heuristic.
func New(llm ports.Completer, model string, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logger.Discard()
	}
	return &Planner{llm: llm, model: strings.TrimSpace(model), log: log, now: time.Now}
}

// Plan never fails: a rejected or failing model proposal degrades to the
// heuristic ranges with strategy heuristic-fallback.
func (p *Planner) Plan(ctx context.Context, in Input) types.CutPlan {
	duration := in.DurationUs
	if duration <= 0 {
		duration = in.Transcript.Source.DurationUs
	}
	in.DurationUs = duration

	candidates, analysis := Heuristic(in)
	plan := types.CutPlan{
		PlanID:       uuid.NewString(),
		TranscriptID: in.Transcript.TranscriptID,
		DurationUs:   duration,
		CreatedAt:    p.now().UTC(),
		Analysis:     analysis,
		Planner:      types.PlannerInfo{Model: "heuristic-v1", Strategy: types.StrategyHeuristic},
	}

	if p.llm != nil && p.model != "" {
		res := p.propose(ctx, in)
		if res.OK() {
			candidates = res.Value
			plan.Planner = types.PlannerInfo{Model: p.model, Strategy: types.StrategyLLM}
		} else {
			p.log.WithError(res.Err).WithField("model", p.model).Warn("cut planner model rejected, using heuristics")
			plan.Planner = types.PlannerInfo{Model: p.model, Strategy: types.StrategyHeuristicFallback}
			plan.Warnings = append(plan.Warnings, "llm cut planning failed: "+res.Err.Error())
		}
	}

	plan.RemoveRanges = Normalize(candidates, duration)
	if plan.RemoveRanges == nil {
		plan.RemoveRanges = []types.CutRange{}
	}
	p.log.WithFields(logrus.Fields{
		"strategy": plan.Planner.Strategy,
		"ranges":   len(plan.RemoveRanges),
	}).Debug("cut plan ready")
	return plan
}

type llmRange struct {
	StartUs    int64   `json:"startUs"`
	EndUs      int64   `json:"endUs"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type llmCutResponse struct {
	RemoveRanges []llmRange `json:"removeRanges"`
}

func (p *Planner) propose(ctx context.Context, in Input) llmjson.Result[[]types.CutRange] {
	userPrompt, err := buildUserPrompt(in)
	if err != nil {
		return llmjson.Fail[[]types.CutRange](err)
	}

	callCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	content, err := p.llm.CompleteJSON(callCtx, systemPrompt, userPrompt)
	if err != nil {
		return llmjson.Fail[[]types.CutRange](fmt.Errorf("cut planner completion: %w", err))
	}

	parsed := llmjson.Parse(content, func(r llmCutResponse) error {
		return checkResponse(r, in.DurationUs)
	})
	if !parsed.OK() {
		return llmjson.Fail[[]types.CutRange](parsed.Err)
	}

	out := make([]types.CutRange, 0, len(parsed.Value.RemoveRanges))
	for _, r := range parsed.Value.RemoveRanges {
		reason := strings.TrimSpace(r.Reason)
		if reason == "" {
			reason = llmReason
		}
		out = append(out, types.CutRange{
			StartUs:    r.StartUs,
			EndUs:      r.EndUs,
			Reason:     reason,
			Confidence: r.Confidence,
		})
	}
	return llmjson.Result[[]types.CutRange]{Value: out}
}

func checkResponse(r llmCutResponse, durationUs int64) error {
	if r.RemoveRanges == nil {
		return errors.New("removeRanges is missing")
	}
	var errs []error
	for i, rg := range r.RemoveRanges {
		if rg.StartUs < 0 {
			errs = append(errs, fmt.Errorf("removeRanges[%d]: startUs is negative", i))
		}
		if rg.EndUs <= rg.StartUs {
			errs = append(errs, fmt.Errorf("removeRanges[%d]: endUs must be greater than startUs", i))
		}
		if durationUs > 0 && rg.StartUs >= durationUs {
			errs = append(errs, fmt.Errorf("removeRanges[%d]: starts after the end of the media", i))
		}
		if rg.Confidence < 0 || rg.Confidence > 1 {
			errs = append(errs, fmt.Errorf("removeRanges[%d]: confidence out of [0,1]", i))
		}
	}
	return errors.Join(errs...)
}

const systemPrompt = "You edit spoken video. Propose time ranges to remove: filler words, " +
	"long pauses, false starts and repeated takes. Keep every meaningful sentence. " +
	"Return strictly valid JSON (no markdown, no code fences) of the form " +
	`{"removeRanges":[{"startUs":0,"endUs":0,"reason":"filler-word","confidence":0.0}]}. ` +
	"Times are integer microseconds within [0, durationUs]; confidence is within [0,1]."

func buildUserPrompt(in Input) (string, error) {
	type seg struct {
		ID      string `json:"id"`
		StartUs int64  `json:"startUs"`
		EndUs   int64  `json:"endUs"`
		Text    string `json:"text"`
	}
	segs := make([]seg, 0, min(len(in.Transcript.Segments), promptSegments))
	for _, s := range in.Transcript.Segments {
		if len(segs) >= promptSegments {
			break
		}
		text, _ := textnorm.TruncateRunes(s.Text, promptSegmentLen)
		segs = append(segs, seg{ID: s.ID, StartUs: s.StartUs, EndUs: s.EndUs, Text: text})
	}
	payload := map[string]any{
		"durationUs": in.DurationUs,
		"segments":   segs,
		"silences":   in.Silences,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cut prompt: %w", err)
	}
	return "Transcript JSON:\n" + string(b), nil
}
