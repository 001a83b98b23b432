package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(SQLiteSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, config.DBDriverSQLite)
}

func seedPost(t *testing.T, s *SQLStore, id int, expertID string, authoredAt time.Time) {
	t.Helper()
	_, err := s.db.Exec(`INSERT INTO posts (id, expert_id, channel_id, per_channel_msg_id, authored_at, author, body_markdown, forwarded_from)
	                      VALUES (?, ?, 'chan', ?, ?, 'author', 'body', '')`, id, expertID, id, authoredAt)
	require.NoError(t, err)
}

func TestListPostsFiltersByExpertAndCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	seedPost(t, s, 1, "alice", old)
	seedPost(t, s, 2, "alice", recent)
	seedPost(t, s, 3, "bob", recent)

	all, err := s.ListPosts(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filtered, err := s.ListPosts(ctx, "alice", &cutoff)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, 2, filtered[0].ID)
}

func TestExpandLinks1HopIncludesSeedsAndNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []int{1, 2, 3, 4} {
		seedPost(t, s, id, "alice", now)
	}
	_, err := s.db.Exec(`INSERT INTO links (expert_id, source_post_id, target_post_id, type) VALUES ('alice', 2, 3, 'REPLY')`)
	require.NoError(t, err)

	ids, err := s.ExpandLinks1Hop(ctx, "alice", []int{1, 2}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 2, 3}, ids)
}

func TestDriftRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, 10, "alice", time.Now())

	rec, found, err := s.LoadDriftRecord(ctx, 10)
	require.NoError(t, err)
	require.False(t, found)

	want := model.DriftRecord{
		PostID:     10,
		ExpertID:   "alice",
		HasDrift:   true,
		Topics:     []model.DriftTopic{{Topic: "rust vs go", Keywords: []string{"rust", "go"}}},
		AnalyzedAt: time.Now().Truncate(time.Second),
		AnalyzedBy: "drift-v1",
	}
	require.NoError(t, s.SaveDriftRecord(ctx, want))

	got, found, err := s.LoadDriftRecord(ctx, 10)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.HasDrift)
	require.False(t, got.Pending())
	require.Equal(t, want.Topics, got.Topics)

	// re-saving with a later AnalyzedAt (simulating a re-run) upserts cleanly.
	want.AnalyzedAt = want.AnalyzedAt.Add(time.Hour)
	require.NoError(t, s.SaveDriftRecord(ctx, want))
	got2, _, err := s.LoadDriftRecord(ctx, 10)
	require.NoError(t, err)
	require.True(t, got2.AnalyzedAt.After(got.AnalyzedAt) || got2.AnalyzedAt.Equal(got.AnalyzedAt))
}

func TestLoadCommentsForAnchorOrdersByLocalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, 5, "alice", time.Now())
	_, err := s.db.Exec(`INSERT INTO comments (anchor_post_id, comment_local_id, author, body_markdown, authored_at)
	                      VALUES (5, 2, 'x', 'second', ?), (5, 1, 'y', 'first', ?)`, time.Now(), time.Now())
	require.NoError(t, err)

	comments, err := s.LoadCommentsForAnchor(ctx, 5)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Equal(t, 1, comments[0].CommentLocalID)
	require.Equal(t, "first", comments[0].BodyMarkdown)
}
