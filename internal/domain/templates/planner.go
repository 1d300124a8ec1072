package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/forPelevin/reelplan/internal/llmjson"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	CodePlannerFallback = "template_planner_fallback"

	maxHeuristicPlacements = 6
	minHeuristicPlacements = 2
	heuristicMaxWindowUs   = 2_400_000
	heuristicMinWindowUs   = 400_000
	heuristicConfidence    = 0.5

	promptSegments   = 20
	promptSegmentLen = 120
	llmAttempts      = 2
	llmTimeout       = 45 * time.Second
)

type PlanInput struct {
	Transcript types.CanonicalTranscript
	Catalog    []types.TemplateDescriptor
	DurationUs int64
}

// Proposal is a raw, not yet enforced, placement set.
type Proposal struct {
	Placements  []types.TemplatePlacement
	Planner     types.PlannerInfo
	Warnings    []types.Warning
	RetryEvents []types.RetryEvent
}

type Planner struct {
	llm        ports.Completer
	model      string
	log        logrus.FieldLogger
	retryDelay time.Duration
}

func NewPlanner(llm ports.Completer, model string, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logger.Discard()
	}
	return &Planner{llm: llm, model: strings.TrimSpace(model), log: log, retryDelay: 250 * time.Millisecond}
}

// Plan never returns the model error; any model failure yields the
// heuristic proposal with strategy heuristic-fallback.
func (p *Planner) Plan(ctx context.Context, in PlanInput) Proposal {
	if len(in.Catalog) == 0 {
		in.Catalog = Builtin()
	}
	if p.llm == nil || p.model == "" {
		return Proposal{
			Placements: Heuristic(in),
			Planner:    types.PlannerInfo{Model: "heuristic-v1", Strategy: types.StrategyHeuristic},
		}
	}

	placements, events, err := p.propose(ctx, in)
	if err == nil {
		return Proposal{
			Placements:  placements,
			Planner:     types.PlannerInfo{Model: p.model, Strategy: types.StrategyLLM},
			RetryEvents: events,
		}
	}
	p.log.WithError(err).WithField("model", p.model).Warn("template planner model rejected, using heuristics")
	return Proposal{
		Placements: Heuristic(in),
		Planner:    types.PlannerInfo{Model: p.model, Strategy: types.StrategyHeuristicFallback},
		Warnings: []types.Warning{{
			Code:    CodePlannerFallback,
			Level:   types.LevelWarn,
			Message: "llm template planning failed: " + err.Error(),
		}},
		RetryEvents: events,
	}
}

// Heuristic strides evenly through the segments and cycles the catalog.
func Heuristic(in PlanInput) []types.TemplatePlacement {
	segs := in.Transcript.Segments
	n := len(segs)
	if n == 0 {
		return []types.TemplatePlacement{}
	}
	catalog := in.Catalog
	if len(catalog) == 0 {
		catalog = Builtin()
	}

	target := min(maxHeuristicPlacements, max(minHeuristicPlacements, (n+1)/2))
	target = min(target, n)

	constraints := DefaultConstraints()
	out := make([]types.TemplatePlacement, 0, target)
	for i := 0; i < target; i++ {
		seg := segs[i*n/target]
		tpl := catalog[i%len(catalog)]

		window := clampInt(seg.EndUs-seg.StartUs, heuristicMinWindowUs, heuristicMaxWindowUs)
		headline, _ := textnorm.TruncateWords(seg.Text, constraints.HeadlineMaxWords)
		out = append(out, types.TemplatePlacement{
			ID:         fmt.Sprintf("placement-%03d", i+1),
			TemplateID: tpl.ID,
			SegmentID:  seg.ID,
			StartUs:    seg.StartUs,
			EndUs:      seg.StartUs + window,
			Confidence: heuristicConfidence,
			Content: types.PlacementContent{
				Headline: headline,
				Subline:  sublineFor(tpl),
			},
			Constraints: constraints,
		})
	}
	return out
}

func sublineFor(tpl types.TemplateDescriptor) string {
	category := strings.ReplaceAll(tpl.Category, "-", " ")
	return cases.Title(language.Und).String(category) + " highlight"
}

type llmPlacement struct {
	TemplateID string  `json:"templateId"`
	SegmentID  string  `json:"segmentId"`
	StartUs    int64   `json:"startUs"`
	EndUs      int64   `json:"endUs"`
	Headline   string  `json:"headline"`
	Subline    string  `json:"subline"`
	Confidence float64 `json:"confidence"`
}

type llmPlacementResponse struct {
	Placements []llmPlacement `json:"placements"`
}

func (p *Planner) propose(ctx context.Context, in PlanInput) ([]types.TemplatePlacement, []types.RetryEvent, error) {
	userPrompt, err := buildUserPrompt(in)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]struct{}, len(in.Catalog))
	for _, t := range in.Catalog {
		known[t.ID] = struct{}{}
	}

	var out []types.TemplatePlacement
	policy := retry.Policy{MaxRetries: llmAttempts - 1, Delay: p.retryDelay}
	events, err := policy.Do(ctx, retry.Label{Step: "template-planning", Provider: p.model}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, llmTimeout)
		defer cancel()
		content, err := p.llm.CompleteJSON(callCtx, systemPrompt, userPrompt)
		if err != nil {
			return fmt.Errorf("template planner completion: %w", err)
		}
		res := llmjson.Parse(content, checkResponse)
		if !res.OK() {
			return res.Err
		}
		placements := convert(res.Value.Placements, known)
		if len(placements) == 0 {
			return errors.New("model proposed no placements with known templates")
		}
		out = placements
		return nil
	})
	if err != nil {
		return nil, events, err
	}
	return out, events, nil
}

func checkResponse(r llmPlacementResponse) error {
	if r.Placements == nil {
		return errors.New("placements is missing")
	}
	var errs []error
	for i, pl := range r.Placements {
		if pl.StartUs < 0 || pl.EndUs <= pl.StartUs {
			errs = append(errs, fmt.Errorf("placements[%d]: invalid window [%d,%d]", i, pl.StartUs, pl.EndUs))
		}
		if strings.TrimSpace(pl.Headline) == "" {
			errs = append(errs, fmt.Errorf("placements[%d]: headline is empty", i))
		}
	}
	return errors.Join(errs...)
}

func convert(in []llmPlacement, known map[string]struct{}) []types.TemplatePlacement {
	constraints := DefaultConstraints()
	out := make([]types.TemplatePlacement, 0, len(in))
	for _, pl := range in {
		if _, ok := known[pl.TemplateID]; !ok {
			continue
		}
		conf := pl.Confidence
		if conf <= 0 || conf > 1 {
			conf = heuristicConfidence
		}
		out = append(out, types.TemplatePlacement{
			ID:         fmt.Sprintf("placement-%03d", len(out)+1),
			TemplateID: pl.TemplateID,
			SegmentID:  pl.SegmentID,
			StartUs:    pl.StartUs,
			EndUs:      pl.EndUs,
			Confidence: conf,
			Content: types.PlacementContent{
				Headline: strings.TrimSpace(pl.Headline),
				Subline:  strings.TrimSpace(pl.Subline),
			},
			Constraints: constraints,
		})
	}
	return out
}

const systemPrompt = "You place animated overlay templates on a short vertical video. " +
	"Pick moments worth emphasizing and choose a template for each from the catalog. " +
	"Headline: at most 8 words. Subline: at most 52 characters. " +
	"Windows last between 0.45 and 2.4 seconds and must not overlap. " +
	"Return strictly valid JSON (no markdown, no code fences) of the form " +
	`{"placements":[{"templateId":"","segmentId":"","startUs":0,"endUs":0,"headline":"","subline":"","confidence":0.0}]}. ` +
	"Times are integer microseconds."

func buildUserPrompt(in PlanInput) (string, error) {
	type seg struct {
		ID      string `json:"id"`
		StartUs int64  `json:"startUs"`
		EndUs   int64  `json:"endUs"`
		Text    string `json:"text"`
	}
	segs := make([]seg, 0, promptSegments)
	for _, s := range in.Transcript.Segments {
		if len(segs) >= promptSegments {
			break
		}
		text, _ := textnorm.TruncateRunes(s.Text, promptSegmentLen)
		segs = append(segs, seg{ID: s.ID, StartUs: s.StartUs, EndUs: s.EndUs, Text: text})
	}
	b, err := json.Marshal(map[string]any{
		"durationUs": in.DurationUs,
		"templates":  in.Catalog,
		"segments":   segs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal template prompt: %w", err)
	}
	return "Input JSON:\n" + string(b), nil
}
