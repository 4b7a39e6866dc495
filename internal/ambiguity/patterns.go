package ambiguity

import (
	"regexp"

	"github.com/sift-labs/sift/internal/agent/core"
)

// pattern is one row of the detection table. Detection walks the table with a
// single matching function; extending coverage means adding rows, not code.
type pattern struct {
	re        *regexp.Regexp
	typ       core.AmbiguityType
	questions []string
	options   []optionSpec
	// skipWhen suppresses the match for queries where the pattern is a
	// false positive (e.g. a broad noun that is already qualified).
	skipWhen func(query string) bool
}

// optionSpec is a static resolution option template. Rewrite, when set, is
// the text that replaces the matched span in the refined query.
type optionSpec struct {
	Text       string
	Confidence float64
	Rewrite    string
}

var qualifierRe = regexp.MustCompile(`(?i)\b(free|paid|open[- ]source|cli|api|sdk|self[- ]hosted|enterprise|python|go|rust|javascript|local|cloud|developer|writing|data|media)\b`)

// scopeOptions are shared by the broad-noun pattern and the short-query
// heuristic.
var scopeOptions = []optionSpec{
	{Text: "Developer tooling", Confidence: 0.7, Rewrite: "developer tools"},
	{Text: "Writing and content", Confidence: 0.6, Rewrite: "writing tools"},
	{Text: "Data and analytics", Confidence: 0.6, Rewrite: "data analysis tools"},
	{Text: "Image or media generation", Confidence: 0.6, Rewrite: "media generation tools"},
}

var patternTable = []pattern{
	{
		re:  regexp.MustCompile(`(?i)\b(good|best|nice|interesting|cool|great|awesome)\b`),
		typ: core.AmbiguitySubjective,
		questions: []string{
			"What does %q mean for you here?",
			"Which quality matters most to you?",
		},
		options: []optionSpec{
			{Text: "Highest rated by users", Confidence: 0.8, Rewrite: "highly rated"},
			{Text: "Most popular / widely adopted", Confidence: 0.7, Rewrite: "popular"},
			{Text: "Best value for money", Confidence: 0.6, Rewrite: "affordable well-rated"},
		},
	},
	{
		re:  regexp.MustCompile(`(?i)\b(cheap|affordable|expensive|a few|several|many|some|fast|quick|popular)\b`),
		typ: core.AmbiguityQuantitative,
		questions: []string{
			"Can you put a number on %q?",
			"What budget or threshold do you have in mind?",
		},
		options: []optionSpec{
			{Text: "Free only", Confidence: 0.8},
			{Text: "Under $20/month", Confidence: 0.7},
			{Text: "Under $100/month", Confidence: 0.6},
			{Text: "No budget limit", Confidence: 0.5},
		},
	},
	{
		re:  regexp.MustCompile(`(?i)\b(scalable|performant|robust|modern|lightweight|powerful|flexible|advanced)\b`),
		typ: core.AmbiguityTechnical,
		questions: []string{
			"What does %q mean in your setup?",
			"Which technical requirement is behind %q?",
		},
		options: []optionSpec{
			{Text: "Handles large workloads", Confidence: 0.7},
			{Text: "Low resource footprint", Confidence: 0.7},
			{Text: "Actively maintained", Confidence: 0.6},
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(tools?|software|apps?|solutions?|options?|something|anything|everything)\b`),
		typ:      core.AmbiguityScope,
		skipWhen: func(q string) bool { return qualifierRe.MatchString(q) },
		questions: []string{
			"What kind of %s are you looking for?",
			"Which task should they help with?",
		},
		options: scopeOptions,
	},
	{
		re:  regexp.MustCompile(`(?i)\b(it|they|them|those|these|this one|that one)\b`),
		typ: core.AmbiguityContext,
		questions: []string{
			"What does %q refer to?",
		},
		options: []optionSpec{
			{Text: "A tool from earlier in this session", Confidence: 0.6},
			{Text: "Something not mentioned yet", Confidence: 0.5},
		},
	},
	{
		re:  regexp.MustCompile(`(?i)\b(recent|recently|latest|new|newest|current|up[- ]to[- ]date)\b`),
		typ: core.AmbiguityTemporal,
		questions: []string{
			"How recent is %q for you?",
		},
		options: []optionSpec{
			{Text: "Released this year", Confidence: 0.7},
			{Text: "Updated in the last 6 months", Confidence: 0.7},
			{Text: "Any actively maintained project", Confidence: 0.6},
		},
	},
	{
		re:  regexp.MustCompile(`(?i)\b(better|alternatives?( to)?|vs\.?|versus|compared? (to|with))\b`),
		typ: core.AmbiguityComparative,
		questions: []string{
			"Better than what? What is the baseline for %q?",
		},
		options: []optionSpec{
			{Text: "Compared to what I use today", Confidence: 0.5},
			{Text: "Compared to the market leader", Confidence: 0.6},
		},
	},
}

// severityFor implements the fixed severity policy: scope and core
// subjective terms are high, quantitative and context are medium, the rest
// low.
func severityFor(typ core.AmbiguityType, matched string) string {
	switch typ {
	case core.AmbiguityScope:
		return core.SeverityHigh
	case core.AmbiguitySubjective:
		switch matched {
		case "good", "best", "interesting":
			return core.SeverityHigh
		}
		return core.SeverityLow
	case core.AmbiguityQuantitative, core.AmbiguityContext:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}
