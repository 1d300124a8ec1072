package assets

import (
	"regexp"
	"strings"

	"github.com/forPelevin/reelplan/internal/textnorm"
)

var (
	reFigure  = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s*(%|percent|x|times|million|billion|k)?\b`)
	reVisual  = regexp.MustCompile(`(?i)\b(look|see|picture|imagine|show|shows|watch|view|photo|screen|map|city|ocean|mountain|street|kitchen|office)\b`)
	reProcess = regexp.MustCompile(`(?i)\b(how\s+to|step\s+\d+|first|next|then|finally)\b`)
)

// score rates how much a segment gains from b-roll. Concrete imagery and
// figures lift it, dense abstract speech lowers it.
func score(text string) float64 {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0
	}
	s := 1.1 * float64(len(reVisual.FindAllStringIndex(t, -1)))
	s += 0.6 * float64(len(reFigure.FindAllStringIndex(t, -1)))
	if reProcess.MatchString(t) {
		s += 0.8
	}

	tokens := textnorm.Tokens(t)
	if len(tokens) > 0 {
		content := 0
		for _, tok := range tokens {
			if _, stop := stopwords[tok]; !stop && len([]rune(tok)) >= minKeywordRunes {
				content++
			}
		}
		s += 2 * float64(content) / float64(len(tokens))
	}
	return min(max(s, 0), 10)
}
