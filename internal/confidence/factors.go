package confidence

import (
	"fmt"
	"strings"

	"github.com/sift-labs/sift/internal/agent/core"
)

// Factor builders are pure functions: same inputs, same factor. The loop
// composes them per use case and hands the set to Model.Score.

var vagueTerms = []string{"good", "best", "nice", "interesting", "cool", "great", "useful", "better", "some", "stuff", "things"}

var qualifierTerms = []string{"api", "cli", "sdk", "open source", "self-hosted", "free", "paid", "enterprise", "library", "framework", "plugin", "model", "agent"}

// QueryClarity scores how well-formed the raw query text is.
// Base 0.5; +0.2 for length in [5,100] runes, -0.2 below 5; +0.2 when a
// domain qualifier appears; -0.3 when a vague subjective term appears;
// +0.1 for question form.
func QueryClarity(query string) Factor {
	score := 0.5
	var notes []string

	n := len([]rune(strings.TrimSpace(query)))
	switch {
	case n >= 5 && n <= 100:
		score += 0.2
		notes = append(notes, "reasonable length")
	case n < 5:
		score -= 0.2
		notes = append(notes, "too short")
	}

	lower := strings.ToLower(query)
	for _, q := range qualifierTerms {
		if strings.Contains(lower, q) {
			score += 0.2
			notes = append(notes, "domain qualifier present")
			break
		}
	}
	for _, v := range vagueTerms {
		if containsWord(lower, v) {
			score -= 0.3
			notes = append(notes, "vague subjective term")
			break
		}
	}
	if strings.HasSuffix(strings.TrimSpace(query), "?") || startsWithQuestionWord(lower) {
		score += 0.1
		notes = append(notes, "question form")
	}

	return Factor{
		Name:      "query_clarity",
		Score:     Clamp(score),
		Weight:    0.3,
		Reasoning: strings.Join(notes, "; "),
	}
}

// EntityQuality scores how much structured understanding was extracted.
func EntityQuality(entities map[string]interface{}) Factor {
	score := 0.3 + 0.15*float64(len(entities))
	return Factor{
		Name:      "entity_quality",
		Score:     Clamp(score),
		Weight:    0.2,
		Reasoning: fmt.Sprintf("%d entities extracted", len(entities)),
	}
}

// ConstraintSpecificity rewards explicit, narrow constraints.
func ConstraintSpecificity(constraints map[string]interface{}) Factor {
	score := 0.4 + 0.2*float64(len(constraints))
	return Factor{
		Name:      "constraint_specificity",
		Score:     Clamp(score),
		Weight:    0.15,
		Reasoning: fmt.Sprintf("%d constraints present", len(constraints)),
	}
}

// AmbiguityPenalty scores inversely to remaining ambiguity severity.
func AmbiguityPenalty(ambiguities []core.Ambiguity) Factor {
	score := 1.0
	high, medium := 0, 0
	for _, a := range ambiguities {
		switch a.Severity {
		case core.SeverityHigh:
			score -= 0.3
			high++
		case core.SeverityMedium:
			score -= 0.15
			medium++
		default:
			score -= 0.05
		}
	}
	return Factor{
		Name:      "ambiguity_penalty",
		Score:     Clamp(score),
		Weight:    0.25,
		Reasoning: fmt.Sprintf("%d high / %d medium ambiguities unresolved", high, medium),
	}
}

// IntentMatch scores whether an interpreted intent exists and how confident
// it looks.
func IntentMatch(intent string) Factor {
	score := 0.3
	reason := "no interpreted intent"
	if intent != "" {
		score = 0.8
		reason = "intent interpreted as " + intent
	}
	return Factor{Name: "intent_match", Score: score, Weight: 0.2, Reasoning: reason}
}

// ResultQuality scores a tool run by its result volume. The 1..50 band is
// the sweet spot; empty and oversized sets both erode trust.
func ResultQuality(resultCount int, toolSucceeded bool) Factor {
	score := 0.0
	reason := "tool failed"
	if toolSucceeded {
		switch {
		case resultCount == 0:
			score = 0.3
			reason = "tool succeeded but returned nothing"
		case resultCount <= 50:
			score = 0.8
			reason = fmt.Sprintf("%d results in the useful band", resultCount)
		default:
			score = 0.5
			reason = fmt.Sprintf("%d results, likely too broad", resultCount)
		}
	}
	return Factor{Name: "result_quality", Score: score, Weight: 0.35, Reasoning: reason}
}

// Trajectory scores the trend over the most recent confidence scores.
func Trajectory(history []float64) Factor {
	if len(history) < 2 {
		return Factor{Name: "trajectory", Score: 0.5, Weight: 0.15, Reasoning: "insufficient history for a trend"}
	}
	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	delta := recent[len(recent)-1] - recent[0]
	score := Clamp(0.5 + delta*1.5)
	reason := "confidence flat"
	if delta > 0.02 {
		reason = "confidence rising"
	} else if delta < -0.02 {
		reason = "confidence falling"
	}
	return Factor{Name: "trajectory", Score: score, Weight: 0.15, Reasoning: reason}
}

// CompletionLikelihood estimates how close the session is to a good stop.
func CompletionLikelihood(state core.AgentState) Factor {
	score := 0.2
	switch {
	case state.Completed:
		score = 1.0
	case len(state.Results) > 0 && state.Confidence >= 0.7:
		score = 0.8
	case len(state.Results) > 0:
		score = 0.5
	}
	if state.Iteration > 7 {
		score = Clamp(score - 0.2)
	}
	return Factor{
		Name:      "completion_likelihood",
		Score:     score,
		Weight:    0.1,
		Reasoning: fmt.Sprintf("iteration %d with %d results", state.Iteration, len(state.Results)),
	}
}

func containsWord(haystack, word string) bool {
	fields := strings.FieldsFunc(haystack, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, f := range fields {
		if f == word {
			return true
		}
	}
	return false
}

func startsWithQuestionWord(lower string) bool {
	for _, w := range []string{"what", "which", "how", "where", "who", "can", "is there"} {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}
