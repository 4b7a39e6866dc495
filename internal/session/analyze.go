package session

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sift-labs/sift/internal/agent/core"
)

// analyzeQuery fills the query context with intent, entities, and
// constraints derived from the text. It is deliberately rule based; the
// loop's confidence machinery copes with what it gets wrong.
func analyzeQuery(text string, qc *core.QueryContext) {
	lower := strings.ToLower(text)

	qc.Intent = detectIntent(lower)

	if cat := detectCategory(lower); cat != "" {
		qc.Entities["category"] = cat
	}
	if features := detectFeatures(lower); len(features) > 0 {
		qc.Entities["features"] = features
	}

	if price, ok := detectMaxPrice(lower); ok {
		qc.Constraints["max_price"] = price
	}
	switch {
	case containsWord(lower, "free"):
		qc.Constraints["pricing_tier"] = "free"
	case containsWord(lower, "freemium"):
		qc.Constraints["pricing_tier"] = "freemium"
	case containsWord(lower, "paid"):
		qc.Constraints["pricing_tier"] = "paid"
	}
}

func detectIntent(lower string) string {
	switch {
	case strings.Contains(lower, "how many") || strings.HasPrefix(lower, "count"):
		return "count"
	case containsAny(lower, "compare", "versus", " vs ", "alternatives"):
		return "compare"
	case containsAny(lower, "details", "tell me about", "what is", "pricing of"):
		return "details"
	case containsAny(lower, "group", "by category", "breakdown"):
		return "group"
	default:
		return "search"
	}
}

var categoryAliases = map[string][]string{
	"developer-tools":  {"coding", "code", "developer", "programming", "ide", "editor"},
	"image-generation": {"image", "images", "art", "picture"},
	"writing":          {"writing", "copywriting", "grammar", "blog"},
	"audio":            {"audio", "speech", "voice", "transcription", "tts"},
	"video":            {"video"},
	"search":           {"search engine", "answer engine"},
	"assistants":       {"assistant", "chatbot"},
	"frameworks":       {"framework", "rag"},
	"platforms":        {"hosting", "inference", "platform"},
}

func detectCategory(lower string) string {
	for category, aliases := range categoryAliases {
		for _, a := range aliases {
			if strings.Contains(lower, a) {
				return category
			}
		}
	}
	return ""
}

func detectFeatures(lower string) []string {
	var out []string
	for _, f := range []string{"cli", "api", "sdk", "open-source", "local", "chat"} {
		probe := f
		if f == "open-source" {
			if strings.Contains(lower, "open source") || strings.Contains(lower, "open-source") {
				out = append(out, f)
			}
			continue
		}
		if containsWord(lower, probe) {
			out = append(out, f)
		}
	}
	return out
}

var priceRe = regexp.MustCompile(`(?:under|below|less than|at most|max(?:imum)?(?: of)?)\s*\$?\s*(\d+(?:\.\d+)?)`)

func detectMaxPrice(lower string) (float64, bool) {
	m := priceRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-'
	}) {
		if f == word {
			return true
		}
	}
	return false
}
