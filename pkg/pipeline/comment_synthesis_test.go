package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

func TestCommentSynthesisStripsCitations(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagAnalysis, "The author adds more color, see [post:7] for context.")
	groups := []model.CommentGroupResult{
		{AnchorPostID: 7, Relevance: model.LevelHigh, Comments: []model.Comment{{Author: "x", BodyMarkdown: "interesting take"}}},
	}

	out, err := CommentSynthesis(context.Background(), gw, LangEnglish, groups)
	require.NoError(t, err)
	require.NotContains(t, out, "[post:")
}

func TestCommentSynthesisEmptyOnNoGroups(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagAnalysis, "unused")
	out, err := CommentSynthesis(context.Background(), gw, LangEnglish, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}
