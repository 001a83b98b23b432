package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

const reduceContextCap = 50

const reduceSchemaHint = `{"answer_markdown": string, "main_sources": [int], "confidence": "HIGH"|"MEDIUM"|"LOW"}`

var citationPattern = regexp.MustCompile(`\[post:(\d+)\]`)

// Style is the Reduce system-prompt voice.
type Style string

const (
	StylePersonal Style = "personal"
	StyleNeutral  Style = "neutral"
)

// ReduceResult is Reduce's validated, sanitized output.
type ReduceResult struct {
	AnswerMarkdown string
	MainSources    []int
	Confidence     model.Confidence
	ContextSize    int
}

// tierRank orders Selected Sources for context priority: HIGH, then
// MEDIUM*, then CONTEXT; newest first within a tier.
func tierRank(t model.Tier) int {
	switch t {
	case model.TierHigh:
		return 0
	case model.TierMediumSelected:
		return 1
	default:
		return 2
	}
}

// buildContext orders sources by tier then recency and caps at
// reduceContextCap.
func buildContext(sources []model.SelectedSource) []model.SelectedSource {
	ordered := make([]model.SelectedSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := tierRank(ordered[i].Tier), tierRank(ordered[j].Tier)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Post.AuthoredAt.After(ordered[j].Post.AuthoredAt)
	})
	if len(ordered) > reduceContextCap {
		ordered = ordered[:reduceContextCap]
	}
	return ordered
}

func renderContext(ordered []model.SelectedSource) string {
	var b strings.Builder
	for _, s := range ordered {
		fmt.Fprintf(&b, "[post:%d] %s by %s\n%s\n\n", s.PostID, s.Post.AuthoredAt.Format("2006-01-02"), s.Post.Author, s.Post.BodyMarkdown)
	}
	return b.String()
}

type reduceResponse struct {
	AnswerMarkdown string `json:"answer_markdown"`
	MainSources    []int  `json:"main_sources"`
	Confidence     string `json:"confidence"`
}

// Reduce synthesizes the final answer from sources, citation-validates
// and sanitizes it, then computes the contract confidence rule (which
// always overrides the model's own label).
func Reduce(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, question string, sources []model.SelectedSource, style Style, retryCfg config.RetryConfig) (ReduceResult, error) {
	ordered := buildContext(sources)
	contextText := renderContext(ordered)
	validIDs := make(map[int]bool, len(ordered))
	hasHigh := false
	for _, s := range ordered {
		validIDs[s.PostID] = true
		if s.Tier == model.TierHigh {
			hasHigh = true
		}
	}

	systemPrompt := styleSystemPrompt(style)
	userPrompt := fmt.Sprintf("Question: %s\n\nSources:\n%s\n\nAnswer using [post:ID] citations only for IDs shown above.", question, contextText)

	var resp reduceResponse
	err := llmgateway.WithStageRetry(ctx, retryCfg, llmgateway.IsParseError, func() error {
		raw, err := gw.CompleteJSON(ctx, config.ModelTagSynthesis, systemPrompt, userPrompt, reduceSchemaHint, 4096)
		if err != nil {
			return err
		}
		var parsed reduceResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return llmgateway.NewParseError("reduce answer object", err)
		}
		if parsed.AnswerMarkdown == "" {
			return llmgateway.NewParseError("reduce answer object", fmt.Errorf("empty answer_markdown"))
		}
		resp = parsed
		return nil
	})
	if err != nil {
		return ReduceResult{}, err
	}

	cleanAnswer, citedIDs := validateCitations(resp.AnswerMarkdown, validIDs, expertID, logger)
	cleanAnswer = sanitize(cleanAnswer)

	mainSources := mergeMainSources(resp.MainSources, citedIDs, validIDs)
	confidence := computeConfidence(mainSources, hasHigh)
	if resp.Confidence != "" && model.Confidence(resp.Confidence) != confidence {
		logger.Debug("reduce: model confidence label overridden by rule", "expert_id", expertID, "model_label", resp.Confidence, "confidence", confidence)
	}

	return ReduceResult{
		AnswerMarkdown: cleanAnswer,
		MainSources:    mainSources,
		Confidence:     confidence,
		ContextSize:    len(ordered),
	}, nil
}

func styleSystemPrompt(style Style) string {
	if style == StyleNeutral {
		return "Write a third-person analytical summary of the expert's views, grounded strictly in the sources provided. Cite using [post:ID]."
	}
	return "Write in the first person, mimicking the expert's own voice, grounded strictly in the sources provided. Cite using [post:ID]."
}

// validateCitations removes any [post:ID] reference whose ID is not in
// validIDs (logging each as a diagnostic) and returns the cleaned text
// plus the set of IDs that survived.
func validateCitations(answer string, validIDs map[int]bool, expertID string, logger *slog.Logger) (string, []int) {
	seen := make(map[int]bool)
	var cited []int
	cleaned := citationPattern.ReplaceAllStringFunc(answer, func(match string) string {
		idStr := citationPattern.FindStringSubmatch(match)[1]
		id, _ := strconv.Atoi(idStr)
		if !validIDs[id] {
			logger.Warn("reduce: dropping citation to unknown post", "expert_id", expertID, "post_id", id)
			return ""
		}
		if !seen[id] {
			seen[id] = true
			cited = append(cited, id)
		}
		return match
	})
	return cleaned, cited
}

// mergeMainSources adds every cited id to modelSources (even if the model
// omitted it from main_sources), restricted to valid ids, deduplicated.
func mergeMainSources(modelSources, citedIDs []int, validIDs map[int]bool) []int {
	seen := make(map[int]bool)
	var out []int
	add := func(id int) {
		if !validIDs[id] || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range modelSources {
		add(id)
	}
	for _, id := range citedIDs {
		add(id)
	}
	return out
}

// RemapIDs rewrites every [post:ID] citation in answer and every id in
// mainSources from the internal Post ids Reduce and Resolve operate on to
// the per-channel ids the external contract requires (§6's main_sources
// are per-channel ids, matching the corpus's own message numbering). An
// id with no entry in idMap is dropped from mainSources and left as-is
// in the citation text, which should not happen since idMap is built
// from exactly the sources Reduce was given.
func RemapIDs(answer string, mainSources []int, idMap map[int]int) (string, []int) {
	rewritten := citationPattern.ReplaceAllStringFunc(answer, func(match string) string {
		idStr := citationPattern.FindStringSubmatch(match)[1]
		id, _ := strconv.Atoi(idStr)
		if perChannel, ok := idMap[id]; ok {
			return fmt.Sprintf("[post:%d]", perChannel)
		}
		return match
	})

	out := make([]int, 0, len(mainSources))
	for _, id := range mainSources {
		if perChannel, ok := idMap[id]; ok {
			out = append(out, perChannel)
		}
	}
	return rewritten, out
}

// computeConfidence is the mandatory contract rule: a model-returned
// label is advisory and always clamped by this rule.
func computeConfidence(mainSources []int, hasHighInContext bool) model.Confidence {
	if len(mainSources) == 0 {
		return model.ConfidenceLow
	}
	if len(mainSources) >= 3 && hasHighInContext {
		return model.ConfidenceHigh
	}
	return model.ConfidenceMedium
}

// sanitize strips control characters other than newline, tab and carriage
// return. Backslash escape sequences in the text are left as they are.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
