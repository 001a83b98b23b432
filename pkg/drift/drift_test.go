package drift

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

type fakeDriftStore struct {
	candidates []model.Post
	records    map[int]model.DriftRecord
	comments   map[int][]model.Comment
	latest     map[int]time.Time
	saved      []model.DriftRecord
}

func (f *fakeDriftStore) ListDriftCandidates(ctx context.Context, expertID string) ([]model.Post, error) {
	return f.candidates, nil
}

func (f *fakeDriftStore) LoadDriftRecord(ctx context.Context, postID int) (model.DriftRecord, bool, error) {
	rec, ok := f.records[postID]
	return rec, ok, nil
}

func (f *fakeDriftStore) LatestCommentTimestamp(ctx context.Context, anchorPostID int) (time.Time, bool, error) {
	t, ok := f.latest[anchorPostID]
	return t, ok, nil
}

func (f *fakeDriftStore) LoadCommentsForAnchor(ctx context.Context, anchorPostID int) ([]model.Comment, error) {
	return f.comments[anchorPostID], nil
}

func (f *fakeDriftStore) SaveDriftRecord(ctx context.Context, rec model.DriftRecord) error {
	f.saved = append(f.saved, rec)
	f.records[rec.PostID] = rec
	return nil
}

type stubDriftProvider struct{ response string }

func (s *stubDriftProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (string, error) {
	return s.response, nil
}

func newDriftGateway(t *testing.T, response string) *llmgateway.Gateway {
	t.Helper()
	cfg := &config.Config{
		Models: map[config.ModelTag]config.ProviderCredential{
			config.ModelTagDrift: {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
		},
	}
	cfg.SetDefaults()
	gw, err := llmgateway.New(cfg, func(config.ProviderType, config.ProviderCredential) llmgateway.Provider {
		return &stubDriftProvider{response: response}
	})
	require.NoError(t, err)
	return gw
}

func TestRunForExpertAnalyzesNewCandidate(t *testing.T) {
	now := time.Now()
	fs := &fakeDriftStore{
		candidates: []model.Post{{ID: 1, BodyMarkdown: "about rust"}},
		records:    map[int]model.DriftRecord{},
		comments:   map[int][]model.Comment{1: {{AnchorPostID: 1, CommentLocalID: 1, Author: "x", BodyMarkdown: "what about go instead"}}},
		latest:     map[int]time.Time{1: now},
	}
	gw := newDriftGateway(t, `{"has_drift":true,"topics":[{"topic":"go vs rust","keywords":["go","rust"],"key_phrases":["what about go instead"],"context":"comparison"}]}`)

	a := &Analyzer{Gateway: gw, Store: fs, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	analyzed, skipped, err := a.RunForExpert(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, 1, analyzed)
	require.Equal(t, 0, skipped)
	require.Len(t, fs.saved, 1)
	require.True(t, fs.saved[0].HasDrift)
}

func TestRunForExpertSkipsUpToDateRecord(t *testing.T) {
	analyzedAt := time.Now()
	fs := &fakeDriftStore{
		candidates: []model.Post{{ID: 1, BodyMarkdown: "about rust"}},
		records: map[int]model.DriftRecord{
			1: {PostID: 1, ExpertID: "e1", HasDrift: false, AnalyzedAt: analyzedAt, AnalyzedBy: "drift-v1"},
		},
		comments: map[int][]model.Comment{1: {{AnchorPostID: 1, CommentLocalID: 1}}},
		latest:   map[int]time.Time{1: analyzedAt.Add(-time.Hour)},
	}
	gw := newDriftGateway(t, `{"has_drift":false,"topics":[]}`)

	a := &Analyzer{Gateway: gw, Store: fs, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	analyzed, skipped, err := a.RunForExpert(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, 0, analyzed)
	require.Equal(t, 1, skipped)
	require.Empty(t, fs.saved)
}

func TestRunForExpertReRunsWhenNewCommentsArrived(t *testing.T) {
	analyzedAt := time.Now().Add(-time.Hour)
	fs := &fakeDriftStore{
		candidates: []model.Post{{ID: 1, BodyMarkdown: "about rust"}},
		records: map[int]model.DriftRecord{
			1: {PostID: 1, ExpertID: "e1", HasDrift: false, AnalyzedAt: analyzedAt, AnalyzedBy: "drift-v1"},
		},
		comments: map[int][]model.Comment{1: {{AnchorPostID: 1, CommentLocalID: 2, BodyMarkdown: "new comment"}}},
		latest:   map[int]time.Time{1: time.Now()},
	}
	gw := newDriftGateway(t, `{"has_drift":true,"topics":[]}`)

	a := &Analyzer{Gateway: gw, Store: fs, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	analyzed, _, err := a.RunForExpert(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, 1, analyzed)
}
