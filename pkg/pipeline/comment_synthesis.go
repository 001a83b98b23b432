package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

// malformedCitationPattern catches a [post: fragment even when the model
// drops the closing bracket or the numeric id, so a truncated citation
// can't sneak past the well-formed-only citationPattern.
var malformedCitationPattern = regexp.MustCompile(`\[post:[^\]]*\]?`)

// sectionTitles localizes the four Comment-Synthesis headings by query
// language. English and Russian are wired today; any other language falls
// back to English. A new query language is a data addition, not a code change.
var sectionTitles = map[Lang][4]string{
	LangEnglish: {
		"Author clarifications",
		"Community notes on main sources",
		"Author's additional comments",
		"Community opinions",
	},
	LangRussian: {
		"Уточнения автора",
		"Комментарии сообщества к основным источникам",
		"Дополнительные комментарии автора",
		"Мнения сообщества",
	},
}

// CommentSynthesis extracts complementary insights from groups as a
// free-form Markdown string with four localized sections. It never emits
// [post:ID] — those are reserved for the main answer. On failure the
// synthesis is simply omitted; the answer remains usable.
func CommentSynthesis(ctx context.Context, gw *llmgateway.Gateway, queryLang Lang, groups []model.CommentGroupResult) (string, error) {
	if len(groups) == 0 {
		return "", nil
	}

	titles, ok := sectionTitles[queryLang]
	if !ok {
		titles = sectionTitles[LangEnglish]
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Summarize the following comment discussions under four Markdown sections titled exactly: %q, %q, %q, %q.\n", titles[0], titles[1], titles[2], titles[3])
	prompt.WriteString("Do not use [post:ID] citation syntax anywhere in your output — describe sources by author and topic only.\n\n")
	for _, g := range groups {
		fmt.Fprintf(&prompt, "Anchor %d (relevance %s, %s):\n", g.AnchorPostID, g.Relevance, g.Reason)
		for _, c := range g.Comments {
			fmt.Fprintf(&prompt, "- %s: %s\n", c.Author, truncateBody(c.BodyMarkdown, 500))
		}
		prompt.WriteString("\n")
	}

	text, err := gw.CompleteText(ctx, config.ModelTagAnalysis,
		"You synthesize community comment discussions into a complementary Markdown briefing.",
		prompt.String(), 4096)
	if err != nil {
		return "", err
	}
	return stripCitations(text), nil
}

// stripCitations defends the strict no-[post:ID] constraint even if the
// model ignores the instruction.
func stripCitations(text string) string {
	return malformedCitationPattern.ReplaceAllString(citationPattern.ReplaceAllString(text, ""), "")
}
