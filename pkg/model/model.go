// Package model holds the domain types shared across the query pipeline:
// the read-only corpus entities (Expert, Post, Link, Comment, DriftRecord)
// and the transient per-query objects produced while answering one
// question (RelevanceVerdict, ScoredPost, SelectedSource, ExpertAnswer,
// CommentGroupResult).
package model

import "time"

// Level is a Map-stage relevance verdict.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Tier is where a Selected Source came from on its way into Reduce.
type Tier string

const (
	TierHigh           Tier = "HIGH"
	TierMediumSelected Tier = "MEDIUM*"
	TierLinkedContext  Tier = "CONTEXT"
)

// Confidence is the answer-quality label attached to an Expert Answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// LinkType is the relation a Link encodes between two Posts of the same Expert.
type LinkType string

const (
	LinkReply   LinkType = "REPLY"
	LinkForward LinkType = "FORWARD"
	LinkMention LinkType = "MENTION"
)

// Expert is an identity owning a disjoint corpus. Registered once by the
// ingester; never mutated by the core.
type Expert struct {
	ID             string
	DisplayName    string
	ChannelHandle  string
}

// Post is one authored message. (channel_id, per_channel_message_id) is
// unique; the core only reads Posts.
type Post struct {
	ID               int
	ExpertID         string
	ChannelID        string
	PerChannelMsgID  int
	AuthoredAt       time.Time
	Author           string
	BodyMarkdown     string
	ForwardedFrom    string // empty when not a forward
}

// Link is a directed relation between two Posts of the same Expert.
type Link struct {
	SourcePostID int
	TargetPostID int
	Type         LinkType
}

// Comment is a message attached to an anchor Post.
type Comment struct {
	AnchorPostID   int       `json:"-"`
	CommentLocalID int       `json:"local_id"`
	Author         string    `json:"author"`
	BodyMarkdown   string    `json:"body"`
	AuthoredAt     time.Time `json:"authored_at"`
}

// DriftTopic names a concrete product/tool/concept that a comment thread
// drifted onto, away from its anchor post's topic.
type DriftTopic struct {
	Topic      string   `json:"topic"`
	Keywords   []string `json:"keywords"`
	KeyPhrases []string `json:"key_phrases"`
	Context    string   `json:"context"`
}

// DriftRecord is the offline Drift Pre-Analyzer's verdict for one anchor
// Post's comment thread.
type DriftRecord struct {
	PostID      int
	ExpertID    string
	HasDrift    bool
	Topics      []DriftTopic
	AnalyzedAt  time.Time
	AnalyzedBy  string // "pending" until a completed analyzer tag is set
}

// Pending reports whether this record still needs (re-)analysis.
func (d DriftRecord) Pending() bool {
	return d.AnalyzedBy == "" || d.AnalyzedBy == "pending"
}

// RelevanceVerdict is the Map stage's per-post classification.
type RelevanceVerdict struct {
	PostID int    `json:"post_id"`
	Level  Level  `json:"level"`
	Reason string `json:"reason"`
}

// ScoredPost is a Medium-Rescue stage output: a usefulness score in [0,1].
type ScoredPost struct {
	PostID int     `json:"post_id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// SelectedSource is a post admitted into Reduce's context, tagged with the
// tier that earned it a slot.
type SelectedSource struct {
	PostID int
	Tier   Tier
	Post   Post
}

// AnchorSnapshot is the denormalized preview of a comment group's anchor
// Post, carried in the response so a client never has to re-fetch it.
type AnchorSnapshot struct {
	ChannelUsername string    `json:"channel_username"`
	BodyPreview     string    `json:"body_preview"`
	Author          string    `json:"author"`
	AuthoredAt      time.Time `json:"date"`
}

// CommentGroupResult is one comment discussion surfaced for an answer.
// AnchorPostID and any id embedded in TelegramLink are per-channel post
// ids, matching the external main_sources id space. Author-clarification
// and community groups are anchored on main_sources posts; drift groups
// never are.
type CommentGroupResult struct {
	AnchorPostID   int            `json:"anchor_post_id"`
	AnchorSnapshot AnchorSnapshot `json:"anchor_snapshot"`
	TelegramLink   string         `json:"telegram_link"`
	CommentCount   int            `json:"comment_count"`
	Relevance      Level          `json:"relevance"`
	Reason         string         `json:"reason"`
	Comments       []Comment      `json:"comments"`
}

// ExpertAnswer is the per-expert output of the pipeline. MainSources and
// every [post:ID] citation inside AnswerMarkdown are per-channel post ids.
type ExpertAnswer struct {
	ExpertID           string               `json:"expert_id"`
	ExpertName         string               `json:"expert_name"`
	ChannelHandle      string               `json:"channel_username"`
	AnswerMarkdown     string               `json:"answer"`
	MainSources        []int                `json:"main_sources"`
	Confidence         Confidence           `json:"confidence"`
	PostsAnalyzed      int                  `json:"posts_analyzed"`
	ProcessingTimeMS   int64                `json:"processing_time_ms"`
	CommentGroups      []CommentGroupResult `json:"relevant_comment_groups"`
	CommentSynthesis   string               `json:"comment_groups_synthesis,omitempty"` // empty when omitted
	TranslationApplied bool                 `json:"translation_applied"`
}
