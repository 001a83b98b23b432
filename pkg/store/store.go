// Package store provides read-only access to the post/comment/link corpus
// and pre-computed drift records, filtered by expert and date, per
// All filters are expert-scoped; Store errors are treated
// by the core as fatal for the affected expert only.
package store

import (
	"context"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

// DriftGroup is one anchor post whose comment thread has a completed,
// has_drift=true analysis, paired with its structured drift topics.
type DriftGroup struct {
	Post   model.Post
	Topics []model.DriftTopic
}

// Store is the narrow, read-only capability surface the query pipeline
// is allowed to use.
type Store interface {
	// ListPosts returns an expert's posts, newest first, optionally
	// restricted to authored >= cutoff.
	ListPosts(ctx context.Context, expertID string, cutoff *time.Time) ([]model.Post, error)

	// FetchPostsByIDs resolves specific internal post ids for one
	// expert, optionally filtered by cutoff.
	FetchPostsByIDs(ctx context.Context, expertID string, ids []int, cutoff *time.Time) (map[int]model.Post, error)

	// ExpandLinks1Hop returns seeds plus all posts linked to/from them
	// within the expert (any Link type, either direction), subject to cutoff.
	ExpandLinks1Hop(ctx context.Context, expertID string, seedPostIDs []int, cutoff *time.Time) ([]int, error)

	// LoadDriftGroups returns anchor posts (excluding excludePostIDs) with
	// a completed has_drift=true analysis, subject to cutoff.
	LoadDriftGroups(ctx context.Context, expertID string, excludePostIDs []int, cutoff *time.Time) ([]DriftGroup, error)

	// LoadCommentsForAnchor returns an anchor's comments in stable
	// comment_local_id order.
	LoadCommentsForAnchor(ctx context.Context, anchorPostID int) ([]model.Comment, error)

	// ListExperts returns every registered expert.
	ListExperts(ctx context.Context) ([]model.Expert, error)
}

// DriftWriter is the write surface used only by the offline Drift
// Pre-Analyzer; the query-time core never sees it.
type DriftWriter interface {
	// ListDriftCandidates returns every post that has at least one
	// comment, for the analyzer to consider.
	ListDriftCandidates(ctx context.Context, expertID string) ([]model.Post, error)

	// LoadDriftRecord returns the existing record for a post, if any.
	LoadDriftRecord(ctx context.Context, postID int) (model.DriftRecord, bool, error)

	// LatestCommentTimestamp returns the most recent comment's
	// authored-at time for an anchor, used by the analyzer's re-run check.
	LatestCommentTimestamp(ctx context.Context, anchorPostID int) (time.Time, bool, error)

	// LoadCommentsForAnchor returns an anchor's comments in stable
	// comment_local_id order, for building the analysis prompt.
	LoadCommentsForAnchor(ctx context.Context, anchorPostID int) ([]model.Comment, error)

	// SaveDriftRecord upserts the analysis result.
	SaveDriftRecord(ctx context.Context, rec model.DriftRecord) error
}
