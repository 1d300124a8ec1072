package templates

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

func TestDiscover_FallsBackToBuiltins(t *testing.T) {
	for _, dir := range []string{"", filepath.Join(t.TempDir(), "missing"), t.TempDir()} {
		got, err := Discover(dir)
		if err != nil {
			t.Fatalf("discover %q: %v", dir, err)
		}
		if !reflect.DeepEqual(got, Builtin()) {
			t.Fatalf("expected builtin catalog for %q, got %+v", dir, got)
		}
	}
	if len(Builtin()) != 4 {
		t.Fatalf("expected 4 builtin templates")
	}
}

func TestDiscoverFS_ReadsSortsAndDedups(t *testing.T) {
	fsys := fstest.MapFS{
		"zeta/template.toml":   {Data: []byte("id = \"zeta-card\"\nname = \"Zeta\"\ncategory = \"quote\"\n")},
		"alpha/template.json":  {Data: []byte(`{"id":"alpha-title","category":"title"}`)},
		"dupe/template.toml":   {Data: []byte("id = \"zeta-card\"\nname = \"Other\"\n")},
		"noid/template.toml":   {Data: []byte("name = \"No Id\"\n")},
		"broken/template.toml": {Data: []byte("id = ")},
		"empty/readme.md":      {Data: []byte("nothing here")},
		"loose.toml":           {Data: []byte("id = \"ignored\"")},
	}
	got, err := DiscoverFS(fsys)
	if err == nil || !strings.Contains(err.Error(), "broken/template.toml") {
		t.Fatalf("expected broken manifest to be reported, got %v", err)
	}
	ids := make([]string, 0, len(got))
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	if !reflect.DeepEqual(ids, []string{"alpha-title", "noid", "zeta-card"}) {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if got[0].Name != "alpha-title" || got[0].Source != "alpha/template.json" {
		t.Fatalf("unexpected defaults: %+v", got[0])
	}
	if got[1].Category != defaultCategory {
		t.Fatalf("expected default category, got %+v", got[1])
	}

	again, _ := DiscoverFS(fsys)
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("discovery is not idempotent")
	}
}

func TestDiscover_ReadsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "promo"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "id = \"promo-banner\"\nname = \"Promo Banner\"\ncategory = \"promo\"\n"
	if err := os.WriteFile(filepath.Join(dir, "promo", "template.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 || got[0].ID != "promo-banner" || got[0].Category != "promo" {
		t.Fatalf("unexpected catalog: %+v", got)
	}
}

func placement(id string, start, end int64) types.TemplatePlacement {
	return types.TemplatePlacement{ID: id, TemplateID: "lower-third", StartUs: start, EndUs: end, Content: types.PlacementContent{Headline: "Hello", Subline: "World"}}
}

func TestEnforce_TwoPlacementsAtZero(t *testing.T) {
	c := DefaultConstraints()
	out, warnings := Enforce([]types.TemplatePlacement{
		placement("a", 0, 2_400_000),
		placement("b", 0, 1_000_000),
	}, 10_000_000, c)

	if len(out) != 2 {
		t.Fatalf("expected 2 placements, got %+v", out)
	}
	if out[0].ID != "a" || out[0].StartUs != 0 || out[0].EndUs != 2_400_000 {
		t.Fatalf("expected first placement unchanged, got %+v", out[0])
	}
	if out[1].StartUs < out[0].EndUs+120_000 {
		t.Fatalf("expected gap after first placement, got %+v", out[1])
	}
	if !hasWarning(warnings, CodeOverlapAdjusted, "b") {
		t.Fatalf("expected overlap warning, got %+v", warnings)
	}
}

func TestEnforce_DropsWhatNoLongerFits(t *testing.T) {
	out, warnings := Enforce([]types.TemplatePlacement{
		placement("a", 0, 800_000),
		placement("b", 0, 800_000),
	}, 1_000_000, DefaultConstraints())

	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only the first placement, got %+v", out)
	}
	if !hasWarning(warnings, CodeSkippedOutOfBounds, "b") {
		t.Fatalf("expected skipped warning, got %+v", warnings)
	}
}

func TestEnforce_ClampsStartAndDuration(t *testing.T) {
	out, warnings := Enforce([]types.TemplatePlacement{
		placement("short", 1_000_000, 1_100_000),
		placement("late", 9_900_000, 10_300_000),
	}, 10_000_000, DefaultConstraints())

	if len(out) != 2 {
		t.Fatalf("expected 2 placements, got %+v", out)
	}
	if got := out[0].EndUs - out[0].StartUs; got != 450_000 {
		t.Fatalf("expected min duration, got %d", got)
	}
	if out[1].StartUs != 9_550_000 || out[1].EndUs != 10_000_000 {
		t.Fatalf("expected late placement clamped into range, got %+v", out[1])
	}
	if !hasWarning(warnings, CodeDurationClamped, "short") || !hasWarning(warnings, CodeStartClamped, "late") || !hasWarning(warnings, CodeDurationClamped, "late") {
		t.Fatalf("expected clamp warnings, got %+v", warnings)
	}
	for _, w := range warnings {
		if w.Code != CodeOverlapAdjusted && w.Code != CodeSkippedOutOfBounds && w.Level != types.LevelInfo {
			t.Fatalf("expected info level for %s", w.Code)
		}
	}
}

func TestEnforce_SkipsInsteadOfShortening(t *testing.T) {
	out, warnings := Enforce([]types.TemplatePlacement{
		placement("tail", 2_000_000, 4_000_000),
	}, 3_000_000, DefaultConstraints())

	if len(out) != 0 {
		t.Fatalf("a placement that overruns the media must be dropped, got %+v", out)
	}
	if len(warnings) != 1 || !hasWarning(warnings, CodeSkippedOutOfBounds, "tail") || warnings[0].Level != types.LevelWarn {
		t.Fatalf("expected a single skipped warning, got %+v", warnings)
	}
}

func TestEnforce_TruncatesContent(t *testing.T) {
	p := placement("a", 0, 1_000_000)
	p.Content.Headline = "one two three four five six seven eight nine ten eleven twelve"
	p.Content.Subline = strings.Repeat("x", 80)
	short := placement("b", 3_000_000, 4_000_000)

	out, warnings := Enforce([]types.TemplatePlacement{p, short}, 10_000_000, DefaultConstraints())

	h := out[0].Content.Headline
	if !strings.HasSuffix(h, textnorm.Ellipsis) || len(strings.Fields(strings.TrimSuffix(h, textnorm.Ellipsis))) != 8 {
		t.Fatalf("expected 8 words plus ellipsis, got %q", h)
	}
	if n := len([]rune(out[0].Content.Subline)); n > 52 {
		t.Fatalf("expected subline within 52 chars, got %d", n)
	}
	if out[1].Content != short.Content {
		t.Fatalf("expected short content unchanged, got %+v", out[1].Content)
	}
	if !hasWarning(warnings, CodeHeadlineTruncated, "a") || !hasWarning(warnings, CodeSublineTruncated, "a") {
		t.Fatalf("expected truncation warnings, got %+v", warnings)
	}
}

func TestEnforce_CursorIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := DefaultConstraints()
	for round := 0; round < 200; round++ {
		duration := int64(1_000_000 + rng.Intn(20_000_000))
		var in []types.TemplatePlacement
		for i := 0; i < rng.Intn(12); i++ {
			start := int64(rng.Intn(int(duration+2_000_000))) - 1_000_000
			in = append(in, placement("p", start, start+int64(rng.Intn(4_000_000))))
		}
		out, _ := Enforce(in, duration, c)
		for i, p := range out {
			if p.StartUs < 0 || p.EndUs > duration || p.EndUs-p.StartUs < c.MinDurationUs || p.EndUs-p.StartUs > c.MaxDurationUs {
				t.Fatalf("round %d: placement %d out of bounds: %+v (duration %d)", round, i, p, duration)
			}
			if i > 0 && p.StartUs < out[i-1].EndUs+c.MinGapUs {
				t.Fatalf("round %d: placements %d and %d violate min gap", round, i-1, i)
			}
		}
	}
}

func hasWarning(ws []types.Warning, code, placementID string) bool {
	for _, w := range ws {
		if w.Code == code && w.PlacementID == placementID {
			return true
		}
	}
	return false
}

type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	var (
		reply string
		err   error
	)
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return reply, err
}

func segments(n int) []types.TranscriptSegment {
	out := make([]types.TranscriptSegment, n)
	for i := range out {
		start := int64(i) * 3_000_000
		out[i] = types.TranscriptSegment{
			ID:      "seg-" + string(rune('a'+i)),
			StartUs: start,
			EndUs:   start + 3_000_000,
			Text:    "this segment talks about a very important idea worth a headline",
		}
	}
	return out
}

func TestHeuristic_TargetCount(t *testing.T) {
	cases := []struct {
		segments int
		want     int
	}{
		{segments: 0, want: 0},
		{segments: 1, want: 1},
		{segments: 3, want: 2},
		{segments: 7, want: 4},
		{segments: 20, want: 6},
	}
	for _, tc := range cases {
		in := PlanInput{Transcript: types.CanonicalTranscript{Segments: segments(tc.segments)}, Catalog: Builtin()}
		if got := len(Heuristic(in)); got != tc.want {
			t.Fatalf("segments=%d: expected %d placements, got %d", tc.segments, tc.want, got)
		}
	}
}

func TestHeuristic_WindowsAndContent(t *testing.T) {
	in := PlanInput{Transcript: types.CanonicalTranscript{Segments: segments(4)}, Catalog: Builtin()}
	got := Heuristic(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(got))
	}
	if got[0].TemplateID != "callout-card" || got[1].TemplateID != "kinetic-title" {
		t.Fatalf("expected catalog cycling, got %s, %s", got[0].TemplateID, got[1].TemplateID)
	}
	if got[1].SegmentID != in.Transcript.Segments[2].ID {
		t.Fatalf("expected even stride, got %s", got[1].SegmentID)
	}
	if got[0].EndUs-got[0].StartUs != heuristicMaxWindowUs {
		t.Fatalf("expected window capped at 2.4s, got %d", got[0].EndUs-got[0].StartUs)
	}
	if got[0].Content.Subline != "Callout highlight" {
		t.Fatalf("unexpected subline %q", got[0].Content.Subline)
	}
	if !strings.HasSuffix(got[0].Content.Headline, textnorm.Ellipsis) {
		t.Fatalf("expected truncated headline, got %q", got[0].Content.Headline)
	}
}

func TestPlan_FallsBackAfterTwoFailedAttempts(t *testing.T) {
	in := PlanInput{Transcript: types.CanonicalTranscript{Segments: segments(4)}, Catalog: Builtin(), DurationUs: 12_000_000}
	cases := []struct {
		name string
		llm  *scriptedCompleter
	}{
		{name: "errors", llm: &scriptedCompleter{errs: []error{errors.New("down"), errors.New("still down")}}},
		{name: "malformed", llm: &scriptedCompleter{replies: []string{"not json", `{"placements":[{"templateId":"nope","startUs":0,"endUs":1000000,"headline":"x"}]}`}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlanner(tc.llm, "test/model", nil)
			p.retryDelay = 0
			got := p.Plan(context.Background(), in)

			if tc.llm.calls != 2 {
				t.Fatalf("expected 2 attempts, got %d", tc.llm.calls)
			}
			if got.Planner.Strategy != types.StrategyHeuristicFallback {
				t.Fatalf("expected fallback strategy, got %q", got.Planner.Strategy)
			}
			if !reflect.DeepEqual(got.Placements, Heuristic(in)) || len(got.Placements) == 0 {
				t.Fatalf("expected heuristic placements, got %+v", got.Placements)
			}
			if len(got.Warnings) != 1 || got.Warnings[0].Code != CodePlannerFallback {
				t.Fatalf("expected fallback warning, got %+v", got.Warnings)
			}
			if len(got.RetryEvents) != 1 {
				t.Fatalf("expected one retry event, got %+v", got.RetryEvents)
			}
		})
	}
}

func TestPlan_UsesModelAndDropsUnknownTemplates(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		"garbage",
		`{"placements":[` +
			`{"templateId":"lower-third","segmentId":"seg-a","startUs":100000,"endUs":1500000,"headline":"Meet the host","subline":"Intro","confidence":0.9},` +
			`{"templateId":"unknown","startUs":2000000,"endUs":3000000,"headline":"Dropped"}]}`,
	}}
	p := NewPlanner(llm, "test/model", nil)
	p.retryDelay = 0
	got := p.Plan(context.Background(), PlanInput{Transcript: types.CanonicalTranscript{Segments: segments(2)}, Catalog: Builtin(), DurationUs: 6_000_000})

	if got.Planner.Strategy != types.StrategyLLM {
		t.Fatalf("expected llm strategy, got %q", got.Planner.Strategy)
	}
	if len(got.Placements) != 1 || got.Placements[0].TemplateID != "lower-third" || got.Placements[0].Content.Headline != "Meet the host" {
		t.Fatalf("unexpected placements: %+v", got.Placements)
	}
	if len(got.Warnings) != 0 || len(got.RetryEvents) != 1 {
		t.Fatalf("unexpected warnings=%+v events=%+v", got.Warnings, got.RetryEvents)
	}
}
