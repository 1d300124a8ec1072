// Package validate checks artifact shape before anything is persisted.
// Every violation is reported; a non-nil error fails the run.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

// Error lists every violation found in one artifact.
type Error struct {
	Artifact string
	Problems []error
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("invalid %s: %s", e.Artifact, strings.Join(msgs, "; "))
}

func (e *Error) Unwrap() []error { return e.Problems }

type collector struct {
	artifact string
	problems []error
}

func (c *collector) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Errorf(format, args...))
}

func (c *collector) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &Error{Artifact: c.artifact, Problems: c.problems}
}

func Transcript(tr types.CanonicalTranscript) error {
	c := &collector{artifact: "transcript"}
	if tr.TranscriptID == "" {
		c.addf("transcriptId is empty")
	}
	if tr.Adapter.Kind == "" {
		c.addf("adapter.kind is empty")
	}
	words := make(map[string]types.Word, len(tr.Words))
	for i, w := range tr.Words {
		if w.ID == "" {
			c.addf("words[%d]: id is empty", i)
			continue
		}
		if _, dup := words[w.ID]; dup {
			c.addf("words[%d]: duplicate id %s", i, w.ID)
		}
		if w.EndUs <= w.StartUs {
			c.addf("word %s: endUs must be greater than startUs", w.ID)
		}
		words[w.ID] = w
	}

	owner := make(map[string]string, len(tr.Words))
	var prevEnd int64
	for i, s := range tr.Segments {
		if s.ID == "" {
			c.addf("segments[%d]: id is empty", i)
		}
		if s.EndUs <= s.StartUs {
			c.addf("segment %s: endUs must be greater than startUs", s.ID)
		}
		if i > 0 && s.StartUs < prevEnd {
			c.addf("segment %s: overlaps or precedes the previous segment", s.ID)
		}
		if d := tr.Source.DurationUs; d > 0 && s.EndUs > d {
			c.addf("segment %s: ends after source duration", s.ID)
		}
		prevEnd = s.EndUs
		for _, id := range s.WordIDs {
			w, ok := words[id]
			if !ok {
				c.addf("segment %s: unknown word %s", s.ID, id)
				continue
			}
			if prev, taken := owner[id]; taken {
				c.addf("word %s: owned by %s and %s", id, prev, s.ID)
			}
			owner[id] = s.ID
			if w.StartUs < s.StartUs || w.EndUs > s.EndUs {
				c.addf("word %s: outside segment %s", id, s.ID)
			}
		}
	}
	for id := range words {
		if _, ok := owner[id]; !ok {
			c.addf("word %s: not owned by any segment", id)
		}
	}
	return c.err()
}

var strategies = map[string]struct{}{
	types.StrategyHeuristic:         {},
	types.StrategyLLM:               {},
	types.StrategyHeuristicFallback: {},
}

func CutPlan(p types.CutPlan) error {
	c := &collector{artifact: "cut plan"}
	if p.PlanID == "" {
		c.addf("planId is empty")
	}
	if p.TranscriptID == "" {
		c.addf("transcriptId is empty")
	}
	if p.DurationUs <= 0 {
		c.addf("durationUs must be positive")
	}
	checkPlanner(c, p.Planner)
	if p.RemoveRanges == nil {
		c.addf("removeRanges is missing")
	}
	for i, r := range p.RemoveRanges {
		if r.StartUs < 0 || r.EndUs > p.DurationUs {
			c.addf("removeRanges[%d]: outside [0,%d]", i, p.DurationUs)
		}
		if r.EndUs <= r.StartUs {
			c.addf("removeRanges[%d]: endUs must be greater than startUs", i)
		}
		if i > 0 && r.StartUs <= p.RemoveRanges[i-1].EndUs {
			c.addf("removeRanges[%d]: not sorted or overlaps the previous range", i)
		}
		if len(r.Reasons()) == 0 {
			c.addf("removeRanges[%d]: reason is empty", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			c.addf("removeRanges[%d]: confidence out of [0,1]", i)
		}
	}
	return c.err()
}

var (
	mediaStatuses = map[string]struct{}{
		types.MediaCached:             {},
		types.MediaDownloaded:         {},
		types.MediaFetchFailed:        {},
		types.MediaMissingCredentials: {},
		types.MediaSkipped:            {},
	}
	levels = map[string]struct{}{types.LevelInfo: {}, types.LevelWarn: {}}
)

func TemplatePlan(p types.TemplatePlan) error {
	c := &collector{artifact: "template plan"}
	if p.PlanID == "" {
		c.addf("planId is empty")
	}
	if p.ProjectID == "" {
		c.addf("projectId is empty")
	}
	if p.TranscriptID == "" {
		c.addf("transcriptId is empty")
	}
	if p.DurationUs <= 0 {
		c.addf("durationUs must be positive")
	}
	checkPlanner(c, p.Planner)

	ids := map[string]struct{}{}
	for i, pl := range p.Placements {
		if pl.ID == "" || pl.TemplateID == "" {
			c.addf("placements[%d]: id and templateId are required", i)
		}
		if _, dup := ids[pl.ID]; dup && pl.ID != "" {
			c.addf("placements[%d]: duplicate id %s", i, pl.ID)
		}
		ids[pl.ID] = struct{}{}
		if pl.StartUs < 0 || pl.EndUs > p.DurationUs || pl.EndUs <= pl.StartUs {
			c.addf("placement %s: invalid window [%d,%d]", pl.ID, pl.StartUs, pl.EndUs)
		}
		if i > 0 && pl.StartUs < p.Placements[i-1].EndUs+p.Constraints.MinGapUs {
			c.addf("placement %s: closer than %dus to the previous placement", pl.ID, p.Constraints.MinGapUs)
		}
		words := strings.Fields(strings.TrimSuffix(pl.Content.Headline, textnorm.Ellipsis))
		if max := p.Constraints.HeadlineMaxWords; max > 0 && len(words) > max {
			c.addf("placement %s: headline has %d words, max %d", pl.ID, len(words), max)
		}
		if max := p.Constraints.SublineMaxChars; max > 0 && utf8.RuneCountInString(pl.Content.Subline) > max {
			c.addf("placement %s: subline longer than %d characters", pl.ID, max)
		}
	}

	for i, a := range p.Assets {
		if a.ID == "" {
			c.addf("assets[%d]: id is empty", i)
		}
		if a.Kind != types.AssetImage && a.Kind != types.AssetVideo {
			c.addf("asset %s: kind %q is not image or video", a.ID, a.Kind)
		}
		if a.EndUs <= a.StartUs {
			c.addf("asset %s: endUs must be greater than startUs", a.ID)
		}
		if _, ok := mediaStatuses[a.Media.Status]; !ok {
			c.addf("asset %s: media.status %q is not terminal", a.ID, a.Media.Status)
		}
		if (a.Media.Status == types.MediaCached || a.Media.Status == types.MediaDownloaded) && a.Media.LocalPath == "" {
			c.addf("asset %s: %s without localPath", a.ID, a.Media.Status)
		}
	}
	for i, w := range p.Warnings {
		if _, ok := levels[w.Level]; !ok || w.Code == "" {
			c.addf("warnings[%d]: needs a code and an info or warn level", i)
		}
	}
	return c.err()
}

func checkPlanner(c *collector, p types.PlannerInfo) {
	if _, ok := strategies[p.Strategy]; !ok {
		c.addf("planner.strategy %q is unknown", p.Strategy)
	}
}

// IsValidation reports whether err came from this package.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}
