// Package ambiguity detects underspecified query spans and drives the
// clarification cycle that resolves them.
package ambiguity

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sift-labs/sift/internal/agent/core"
)

// Rounds caps for clarification. High-severity ambiguities stop prompting
// after maxRounds; medium ones stop earlier.
const (
	maxRounds       = 3
	maxMediumRounds = 2
)

// Detector scans queries against the pattern table and tracks outstanding
// clarification requests so responses can be matched back.
type Detector struct {
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]pendingRequest
}

type pendingRequest struct {
	request     core.ClarificationRequest
	ambiguities []core.Ambiguity
	createdAt   time.Time
}

// NewDetector creates a detector with no outstanding requests.
func NewDetector(logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(log.Writer(), "[AMBIGUITY] ", log.LstdFlags)
	}
	return &Detector{logger: logger, pending: make(map[string]pendingRequest)}
}

// Detect runs the pattern battery plus the contextual heuristics and returns
// ambiguities sorted by severity (desc) then position in the text (asc).
func (d *Detector) Detect(query string, qc *core.QueryContext) []core.Ambiguity {
	var found []core.Ambiguity
	seen := make(map[string]struct{})

	for _, p := range patternTable {
		if p.skipWhen != nil && p.skipWhen(query) {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(query, -1) {
			matched := strings.ToLower(query[loc[0]:loc[1]])
			key := string(p.typ) + "|" + matched
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			amb := core.Ambiguity{
				ID:          uuid.NewString(),
				Type:        p.typ,
				Severity:    severityFor(p.typ, matched),
				MatchedText: matched,
				Position:    loc[0],
				Questions:   renderQuestions(p.questions, matched),
				Options:     renderOptions(p.options, query, matched),
			}
			if p.typ == core.AmbiguityContext && !qc.HasPriorContext() {
				// An unresolvable pronoun blocks interpretation entirely.
				amb.Severity = core.SeverityHigh
			}
			found = append(found, amb)
		}
	}

	// Very short queries are scope-ambiguous unless a domain qualifier
	// already narrows them ("free cli" is short but specific).
	if tokens := strings.Fields(query); len(tokens) < 3 && !qualifierRe.MatchString(query) {
		if _, dup := seen[string(core.AmbiguityScope)+"|"+strings.ToLower(query)]; !dup {
			if !hasType(found, core.AmbiguityScope) {
				found = append(found, core.Ambiguity{
					ID:          uuid.NewString(),
					Type:        core.AmbiguityScope,
					Severity:    core.SeverityHigh,
					MatchedText: strings.ToLower(strings.TrimSpace(query)),
					Position:    0,
					Questions:   []string{"Your query is very short. What exactly are you looking for?"},
					Options:     renderOptions(scopeOptions, query, strings.TrimSpace(query)),
				})
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		si, sj := severityRank(found[i].Severity), severityRank(found[j].Severity)
		if si != sj {
			return si > sj
		}
		return found[i].Position < found[j].Position
	})
	return found
}

// NeedsClarification decides whether the loop should pause for a question.
// Hard cap first: after maxRounds the loop proceeds with what it has.
func (d *Detector) NeedsClarification(qc *core.QueryContext) bool {
	rounds := len(qc.ClarificationHistory)
	if rounds >= maxRounds {
		return false
	}
	for _, a := range qc.Ambiguities {
		if a.Severity == core.SeverityHigh {
			return true
		}
	}
	if rounds < maxMediumRounds {
		for _, a := range qc.Ambiguities {
			if a.Severity == core.SeverityMedium {
				return true
			}
		}
	}
	return false
}

// BuildRequest picks the single most pressing medium/high ambiguity and
// turns it into a clarification request. Returns nil when nothing qualifies.
func (d *Detector) BuildRequest(ambiguities []core.Ambiguity, query core.Query, qc *core.QueryContext) *core.ClarificationRequest {
	var candidates []core.Ambiguity
	for _, a := range ambiguities {
		if a.Severity == core.SeverityHigh || a.Severity == core.SeverityMedium {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := severityRank(candidates[i].Severity), severityRank(candidates[j].Severity)
		if si != sj {
			return si > sj
		}
		return candidates[i].Position < candidates[j].Position
	})
	top := candidates[0]

	question := ""
	if len(top.Questions) > 0 {
		question = top.Questions[0]
	}
	req := core.ClarificationRequest{
		ID:           uuid.NewString(),
		SessionID:    query.SessionID,
		Question:     question,
		Options:      top.Options,
		AmbiguityIDs: []string{top.ID},
		CreatedAt:    time.Now(),
	}

	d.mu.Lock()
	d.pending[req.ID] = pendingRequest{request: req, ambiguities: []core.Ambiguity{top}, createdAt: req.CreatedAt}
	d.mu.Unlock()

	d.logger.Printf("clarification requested for %s ambiguity %q (session %s)", top.Type, top.MatchedText, query.SessionID)
	return &req
}

// Resolve applies a clarification response: it refines the query, removes
// the resolved ambiguities from context, and appends a history entry.
func (d *Detector) Resolve(resp core.ClarificationResponse, query core.Query, qc *core.QueryContext) (string, float64, []string, error) {
	d.mu.Lock()
	pend, ok := d.pending[resp.RequestID]
	if ok {
		delete(d.pending, resp.RequestID)
	}
	d.mu.Unlock()
	if !ok {
		return "", 0, nil, core.NotFoundError{Kind: "clarification request", Name: resp.RequestID}
	}

	var chosen *core.ResolutionOption
	if resp.OptionID != "" {
		for i := range pend.request.Options {
			if pend.request.Options[i].ID == resp.OptionID {
				chosen = &pend.request.Options[i]
				break
			}
		}
		if chosen == nil {
			return "", 0, nil, core.NotFoundError{Kind: "resolution option", Name: resp.OptionID}
		}
	}

	refined := query.Text
	confidence := resp.Confidence
	amb := pend.ambiguities[0]
	switch {
	case chosen != nil && chosen.Rewrite != "":
		// Rewrites are pre-rendered full queries with the ambiguous span
		// already replaced.
		refined = chosen.Rewrite
		if confidence == 0 {
			confidence = chosen.Confidence
		}
	case chosen != nil:
		refined = substituteSpan(query.Text, amb.MatchedText, chosen.Text)
		if confidence == 0 {
			confidence = chosen.Confidence
		}
	case strings.TrimSpace(resp.FreeText) != "":
		refined = substituteSpan(query.Text, amb.MatchedText, strings.TrimSpace(resp.FreeText))
		if confidence == 0 {
			confidence = 0.6
		}
	default:
		return "", 0, nil, core.ValidationError{Field: "response", Reason: "neither option nor free text supplied"}
	}

	resolved := make(map[string]struct{}, len(pend.request.AmbiguityIDs))
	for _, id := range pend.request.AmbiguityIDs {
		resolved[id] = struct{}{}
	}
	var remaining []core.Ambiguity
	for _, a := range qc.Ambiguities {
		if _, hit := resolved[a.ID]; !hit {
			remaining = append(remaining, a)
		}
	}
	qc.Ambiguities = remaining

	answer := resp.FreeText
	if chosen != nil {
		answer = chosen.Text
	}
	qc.ClarificationHistory = append(qc.ClarificationHistory, core.ClarificationRound{
		Question:   pend.request.Question,
		Response:   answer,
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
	if refined != query.Text {
		qc.RefinementHistory = append(qc.RefinementHistory, core.QueryRefinement{
			Original:  query.Text,
			Refined:   refined,
			Reason:    fmt.Sprintf("clarified %s ambiguity %q", amb.Type, amb.MatchedText),
			Timestamp: time.Now(),
		})
	}

	return refined, confidence, pend.request.AmbiguityIDs, nil
}

func renderQuestions(templates []string, matched string) []string {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		if strings.Contains(t, "%") {
			out = append(out, fmt.Sprintf(t, matched))
		} else {
			out = append(out, t)
		}
	}
	return out
}

// renderOptions pre-renders each option's refined query by substituting its
// replacement text for the matched span.
func renderOptions(specs []optionSpec, query, matched string) []core.ResolutionOption {
	out := make([]core.ResolutionOption, 0, len(specs))
	for _, s := range specs {
		opt := core.ResolutionOption{
			ID:         uuid.NewString(),
			Text:       s.Text,
			Confidence: s.Confidence,
		}
		if s.Rewrite != "" {
			opt.Rewrite = strings.Join(strings.Fields(substituteSpan(query, matched, s.Rewrite)), " ")
		}
		out = append(out, opt)
	}
	return out
}

// substituteSpan replaces the first case-insensitive occurrence of span.
func substituteSpan(text, span, replacement string) string {
	if span == "" {
		return strings.TrimSpace(text + " " + replacement)
	}
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(span))
	if idx < 0 {
		return strings.TrimSpace(text + " " + replacement)
	}
	return text[:idx] + replacement + text[idx+len(span):]
}

func severityRank(s string) int {
	switch s {
	case core.SeverityHigh:
		return 3
	case core.SeverityMedium:
		return 2
	case core.SeverityLow:
		return 1
	default:
		return 0
	}
}

func hasType(list []core.Ambiguity, typ core.AmbiguityType) bool {
	for _, a := range list {
		if a.Type == typ {
			return true
		}
	}
	return false
}
