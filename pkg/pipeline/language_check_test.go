package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
)

func TestLanguageCheckTranslatesEnglishQueryRussianAnswer(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagAnalysis, "See [post:5] for the full reasoning about agents.")
	answer := "Смотрите [post:5] для полного обоснования об агентах."

	result := LanguageCheck(context.Background(), gw, testLogger(), "e1", "Summarize the author's view on AI agents.", answer)
	require.True(t, result.TranslationApplied)
	require.Contains(t, result.Answer, "[post:5]")
}

func TestLanguageCheckNoOpOnMatchingLanguage(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagAnalysis, "unused")
	result := LanguageCheck(context.Background(), gw, testLogger(), "e1", "What about agents?", "Agents are useful [post:5].")
	require.False(t, result.TranslationApplied)
	require.Equal(t, "Agents are useful [post:5].", result.Answer)
}

func TestLanguageCheckKeepsOriginalOnTranslationFailure(t *testing.T) {
	gw := newTestGatewayWithErr(t, config.ModelTagAnalysis)
	answer := "Смотрите [post:5]."
	result := LanguageCheck(context.Background(), gw, testLogger(), "e1", "What about agents?", answer)
	require.False(t, result.TranslationApplied)
	require.Equal(t, answer, result.Answer)
}
