package pipeline

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
)

// Lang is a detected natural-language tag. Kept pluggable (an
// Language-Check open question): new pairs register a Detector/Translator
// without touching Reduce.
type Lang string

const (
	LangEnglish Lang = "en"
	LangRussian Lang = "ru"
	LangOther   Lang = "other"
)

// Detector guesses the language of a piece of text.
type Detector func(text string) Lang

// Translator translates text from src to dst, preserving [post:ID] tokens
// and Markdown structure verbatim.
type Translator func(ctx context.Context, gw *llmgateway.Gateway, text string) (string, error)

// pairKey names a (query lang, answer lang) mismatch pair.
type pairKey struct {
	query  Lang
	answer Lang
}

var translators = map[pairKey]Translator{
	{LangEnglish, LangRussian}: translateRuToEn,
}

// LanguageCheckResult is the outcome of the Language-Check stage.
type LanguageCheckResult struct {
	Answer             string
	TranslationApplied bool
}

// LanguageCheck detects query/answer language and, for a registered
// mismatch pair, translates the answer through the Gateway. Unregistered
// mismatches are a no-op. On translation failure the original answer is
// kept and TranslationApplied is false.
func LanguageCheck(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, query, answer string) LanguageCheckResult {
	queryLang := DetectLang(query)
	answerLang := DetectLang(answer)

	if queryLang == answerLang {
		return LanguageCheckResult{Answer: answer, TranslationApplied: false}
	}
	translate, ok := translators[pairKey{queryLang, answerLang}]
	if !ok {
		return LanguageCheckResult{Answer: answer, TranslationApplied: false}
	}

	translated, err := translate(ctx, gw, answer)
	if err != nil {
		logger.Warn("language-check: translation failed, keeping original", "expert_id", expertID, "error", err)
		return LanguageCheckResult{Answer: answer, TranslationApplied: false}
	}
	return LanguageCheckResult{Answer: translated, TranslationApplied: true}
}

// DetectLang is a lightweight heuristic: any Cyrillic letter marks the
// text Russian; text with no letters at all (empty, numeric, punctuation-
// only) is tagged LangOther rather than guessed as English. Good enough
// for the only mismatch pair currently wired; a real detector would
// replace this without touching the rest of the stage.
func DetectLang(text string) Lang {
	hasLetter := false
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return LangRussian
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return LangOther
	}
	return LangEnglish
}

func translateRuToEn(ctx context.Context, gw *llmgateway.Gateway, text string) (string, error) {
	return gw.CompleteText(ctx, config.ModelTagAnalysis,
		"Translate the following Markdown text to English. Preserve every [post:ID] token and all Markdown structure verbatim — translate only prose.",
		text, 4096)
}
