package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

func TestCommentGroupBypassesLLMForMainSourceComments(t *testing.T) {
	fs := &fakeStore{
		posts: map[int]model.Post{
			11: {ID: 11, PerChannelMsgID: 911, Author: "expert-handle", BodyMarkdown: "anchor post"},
		},
		comments: map[int][]model.Comment{
			11: {
				{AnchorPostID: 11, CommentLocalID: 1, Author: "expert-handle", BodyMarkdown: "clarifying"},
				{AnchorPostID: 11, CommentLocalID: 2, Author: "someone-else", BodyMarkdown: "nice point"},
			},
		},
	}
	gw := newTestGateway(t, config.ModelTagCommentGroups, `[]`)
	cfg := config.CommentGroupConfig{}
	cfg.SetDefaults()
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()

	var s store.Store = fs
	groups, err := CommentGroup(context.Background(), gw, s, testLogger(), "e1", "mychannel", "expert-handle", "q", []int{11}, nil, cfg, retryCfg)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		require.Equal(t, model.LevelHigh, g.Relevance)
		require.Equal(t, 911, g.AnchorPostID)
		require.Equal(t, "mychannel", g.AnchorSnapshot.ChannelUsername)
		require.Equal(t, "https://t.me/mychannel/911", g.TelegramLink)
	}
}

func TestCommentGroupAnchorsDisjointFromMainSources(t *testing.T) {
	fs := &fakeStore{
		posts: map[int]model.Post{
			11: {ID: 11, PerChannelMsgID: 911},
			12: {ID: 12, PerChannelMsgID: 912},
		},
		comments: map[int][]model.Comment{},
	}
	gw := newTestGateway(t, config.ModelTagCommentGroups, `[]`)
	cfg := config.CommentGroupConfig{}
	cfg.SetDefaults()
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()

	var s store.Store = fs
	mainSources := []int{11, 12}
	perChannelMainSources := []int{911, 912}
	groups, err := CommentGroup(context.Background(), gw, s, testLogger(), "e1", "mychannel", "expert-handle", "q", mainSources, nil, cfg, retryCfg)
	require.NoError(t, err)
	for _, g := range groups {
		require.NotContains(t, perChannelMainSources, g.AnchorPostID)
	}
}
