package assets

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	DefaultVideoProvider = "pexels"
	DefaultImageProvider = "pixabay"

	maxSuggestions     = 3
	suggestionWindowUs = 3_000_000
	minSuggestionUs    = 500_000
	queryKeywords      = 3
	minKeywordRunes    = 3
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"these": {}, "those": {}, "from": {}, "into": {}, "about": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "there": {}, "their": {}, "they": {},
	"you": {}, "your": {}, "our": {}, "are": {}, "was": {}, "were": {}, "have": {},
	"has": {}, "had": {}, "not": {}, "just": {}, "like": {}, "really": {}, "very": {},
	"can": {}, "will": {}, "would": {}, "could": {}, "should": {}, "its": {}, "it's": {},
	"i'm": {}, "we're": {}, "don't": {}, "then": {}, "than": {}, "also": {}, "some": {},
	"um": {}, "uh": {}, "erm": {}, "hmm": {}, "gonna": {}, "okay": {},
}

type SuggestOptions struct {
	VideoProvider string
	ImageProvider string
}

// Suggest picks up to three segments not covered by a placement, ranked by
// how much they would gain from b-roll, and alternates video and image.
func Suggest(tr types.CanonicalTranscript, placements []types.TemplatePlacement, opts SuggestOptions) []types.AssetSuggestion {
	if opts.VideoProvider == "" {
		opts.VideoProvider = DefaultVideoProvider
	}
	if opts.ImageProvider == "" {
		opts.ImageProvider = DefaultImageProvider
	}

	type candidate struct {
		start, end int64
		query      string
		score      float64
	}
	var cands []candidate
	for _, seg := range tr.Segments {
		end := min(seg.EndUs, seg.StartUs+suggestionWindowUs)
		if end-seg.StartUs < minSuggestionUs || covered(seg.StartUs, end, placements) {
			continue
		}
		q := Keywords(seg.Text, queryKeywords)
		if q == "" {
			continue
		}
		cands = append(cands, candidate{start: seg.StartUs, end: end, query: q, score: score(seg.Text)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > maxSuggestions {
		cands = cands[:maxSuggestions]
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].start < cands[j].start })

	out := make([]types.AssetSuggestion, 0, len(cands))
	for i, c := range cands {
		s := types.AssetSuggestion{
			ID:      fmt.Sprintf("asset-%03d", i+1),
			Query:   c.query,
			StartUs: c.start,
			EndUs:   c.end,
		}
		if i%2 == 0 {
			s.Kind, s.Provider = types.AssetVideo, opts.VideoProvider
			s.Effects = map[string]any{"fit": "cover", "muted": true}
		} else {
			s.Kind, s.Provider = types.AssetImage, opts.ImageProvider
			s.Effects = map[string]any{"fit": "cover", "kenBurns": true}
		}
		out = append(out, s)
	}
	return out
}

// Keywords returns the n longest distinct content words of text, in the
// order they were spoken.
func Keywords(text string, n int) string {
	type kw struct {
		tok string
		pos int
	}
	seen := map[string]struct{}{}
	var kws []kw
	for i, tok := range textnorm.Tokens(text) {
		if len([]rune(tok)) < minKeywordRunes || isNumber(tok) {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		kws = append(kws, kw{tok: tok, pos: i})
	}
	sort.SliceStable(kws, func(i, j int) bool { return len([]rune(kws[i].tok)) > len([]rune(kws[j].tok)) })
	if len(kws) > n {
		kws = kws[:n]
	}
	sort.Slice(kws, func(i, j int) bool { return kws[i].pos < kws[j].pos })
	parts := make([]string, len(kws))
	for i, k := range kws {
		parts[i] = k.tok
	}
	return strings.Join(parts, " ")
}

func covered(start, end int64, placements []types.TemplatePlacement) bool {
	for _, p := range placements {
		if start < p.EndUs && end > p.StartUs {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
