package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

// SQLStore is the database/sql-backed Store + DriftWriter implementation.
// Uses a multi-driver pool (single-connection SQLite + WAL) and raw
// SQL query/scan, no ORM.
type SQLStore struct {
	db     *sql.DB
	driver config.DBDriver
}

// Open connects to the database described by cfg and returns a ready
// SQLStore. For SQLite it enforces a single connection (SQLite only
// supports one writer at a time) and enables WAL mode.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == config.DBDriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == config.DBDriverSQLite {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=10000")
	}

	return &SQLStore{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an already-open *sql.DB (used by tests against an
// in-memory SQLite database).
func NewWithDB(db *sql.DB, driver config.DBDriver) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites '?' placeholders into the target driver's native
// syntax ($1, $2, ... for postgres; ? is native for sqlite3/mysql).
func (s *SQLStore) rebind(query string) string {
	if s.driver != config.DBDriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) ListPosts(ctx context.Context, expertID string, cutoff *time.Time) ([]model.Post, error) {
	query := `SELECT id, expert_id, channel_id, per_channel_msg_id, authored_at, author, body_markdown, forwarded_from
	          FROM posts WHERE expert_id = ?`
	args := []interface{}{expertID}
	if cutoff != nil {
		query += " AND authored_at >= ?"
		args = append(args, *cutoff)
	}
	query += " ORDER BY authored_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list posts for expert %s: %w", expertID, err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *SQLStore) FetchPostsByIDs(ctx context.Context, expertID string, ids []int, cutoff *time.Time) (map[int]model.Post, error) {
	result := make(map[int]model.Post, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, expertID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, expert_id, channel_id, per_channel_msg_id, authored_at, author, body_markdown, forwarded_from
	          FROM posts WHERE expert_id = ? AND id IN (%s)`, strings.Join(placeholders, ","))
	if cutoff != nil {
		query += " AND authored_at >= ?"
		args = append(args, *cutoff)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch posts by ids for expert %s: %w", expertID, err)
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		result[p.ID] = p
	}
	return result, nil
}

func (s *SQLStore) ExpandLinks1Hop(ctx context.Context, expertID string, seedPostIDs []int, cutoff *time.Time) ([]int, error) {
	if len(seedPostIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(seedPostIDs))
	args := make([]interface{}, 0, len(seedPostIDs)*2+1)
	for i, id := range seedPostIDs {
		placeholders[i] = "?"
	}
	inClause := strings.Join(placeholders, ",")
	args = append(args, expertID)
	for _, id := range seedPostIDs {
		args = append(args, id)
	}
	for _, id := range seedPostIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
	SELECT source_post_id, target_post_id FROM links
	WHERE expert_id = ? AND (source_post_id IN (%s) OR target_post_id IN (%s))`, inClause, inClause)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("expand links for expert %s: %w", expertID, err)
	}
	defer rows.Close()

	seen := make(map[int]bool, len(seedPostIDs))
	for _, id := range seedPostIDs {
		seen[id] = true
	}
	for rows.Next() {
		var src, dst int
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		seen[src] = true
		seen[dst] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	if cutoff == nil {
		return ids, nil
	}
	filtered, err := s.FetchPostsByIDs(ctx, expertID, ids, cutoff)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(filtered))
	for id := range filtered {
		out = append(out, id)
	}
	return out, nil
}

func (s *SQLStore) LoadDriftGroups(ctx context.Context, expertID string, excludePostIDs []int, cutoff *time.Time) ([]DriftGroup, error) {
	query := `SELECT p.id, p.expert_id, p.channel_id, p.per_channel_msg_id, p.authored_at, p.author, p.body_markdown, p.forwarded_from,
	                 d.topics_json
	          FROM posts p JOIN drift_records d ON d.post_id = p.id
	          WHERE p.expert_id = ? AND d.has_drift = 1 AND d.analyzed_by IS NOT NULL AND d.analyzed_by != 'pending'`
	args := []interface{}{expertID}

	if len(excludePostIDs) > 0 {
		placeholders := make([]string, len(excludePostIDs))
		for i, id := range excludePostIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND p.id NOT IN (%s)", strings.Join(placeholders, ","))
	}
	if cutoff != nil {
		query += " AND p.authored_at >= ?"
		args = append(args, *cutoff)
	}
	query += " ORDER BY p.authored_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load drift groups for expert %s: %w", expertID, err)
	}
	defer rows.Close()

	var groups []DriftGroup
	for rows.Next() {
		var p model.Post
		var topicsJSON string
		if err := rows.Scan(&p.ID, &p.ExpertID, &p.ChannelID, &p.PerChannelMsgID, &p.AuthoredAt, &p.Author, &p.BodyMarkdown, &p.ForwardedFrom, &topicsJSON); err != nil {
			return nil, err
		}
		topics, err := decodeDriftTopics(topicsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode drift topics for post %d: %w", p.ID, err)
		}
		groups = append(groups, DriftGroup{Post: p, Topics: topics})
	}
	return groups, rows.Err()
}

func (s *SQLStore) LoadCommentsForAnchor(ctx context.Context, anchorPostID int) ([]model.Comment, error) {
	query := `SELECT anchor_post_id, comment_local_id, author, body_markdown, authored_at
	          FROM comments WHERE anchor_post_id = ? ORDER BY comment_local_id ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), anchorPostID)
	if err != nil {
		return nil, fmt.Errorf("load comments for anchor %d: %w", anchorPostID, err)
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.AnchorPostID, &c.CommentLocalID, &c.Author, &c.BodyMarkdown, &c.AuthoredAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *SQLStore) ListExperts(ctx context.Context) ([]model.Expert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, channel_handle FROM experts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()

	var experts []model.Expert
	for rows.Next() {
		var e model.Expert
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.ChannelHandle); err != nil {
			return nil, err
		}
		experts = append(experts, e)
	}
	return experts, rows.Err()
}

func (s *SQLStore) ListDriftCandidates(ctx context.Context, expertID string) ([]model.Post, error) {
	query := `SELECT DISTINCT p.id, p.expert_id, p.channel_id, p.per_channel_msg_id, p.authored_at, p.author, p.body_markdown, p.forwarded_from
	          FROM posts p JOIN comments c ON c.anchor_post_id = p.id
	          WHERE p.expert_id = ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), expertID)
	if err != nil {
		return nil, fmt.Errorf("list drift candidates for expert %s: %w", expertID, err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *SQLStore) LoadDriftRecord(ctx context.Context, postID int) (model.DriftRecord, bool, error) {
	query := `SELECT post_id, expert_id, has_drift, topics_json, analyzed_at, analyzed_by FROM drift_records WHERE post_id = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query), postID)

	var rec model.DriftRecord
	var topicsJSON string
	var hasDrift int
	if err := row.Scan(&rec.PostID, &rec.ExpertID, &hasDrift, &topicsJSON, &rec.AnalyzedAt, &rec.AnalyzedBy); err != nil {
		if err == sql.ErrNoRows {
			return model.DriftRecord{}, false, nil
		}
		return model.DriftRecord{}, false, err
	}
	rec.HasDrift = hasDrift != 0
	topics, err := decodeDriftTopics(topicsJSON)
	if err != nil {
		return model.DriftRecord{}, false, err
	}
	rec.Topics = topics
	return rec, true, nil
}

func (s *SQLStore) LatestCommentTimestamp(ctx context.Context, anchorPostID int) (time.Time, bool, error) {
	query := `SELECT MAX(authored_at) FROM comments WHERE anchor_post_id = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query), anchorPostID)
	var ts sql.NullTime
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}

func (s *SQLStore) SaveDriftRecord(ctx context.Context, rec model.DriftRecord) error {
	topicsJSON, err := encodeDriftTopics(rec.Topics)
	if err != nil {
		return fmt.Errorf("encode drift topics: %w", err)
	}

	var query string
	switch s.driver {
	case config.DBDriverPostgres:
		query = `INSERT INTO drift_records (post_id, expert_id, has_drift, topics_json, analyzed_at, analyzed_by)
		         VALUES (?, ?, ?, ?, ?, ?)
		         ON CONFLICT (post_id) DO UPDATE SET has_drift = EXCLUDED.has_drift, topics_json = EXCLUDED.topics_json,
		           analyzed_at = EXCLUDED.analyzed_at, analyzed_by = EXCLUDED.analyzed_by`
	default:
		query = `INSERT INTO drift_records (post_id, expert_id, has_drift, topics_json, analyzed_at, analyzed_by)
		         VALUES (?, ?, ?, ?, ?, ?)
		         ON CONFLICT (post_id) DO UPDATE SET has_drift = excluded.has_drift, topics_json = excluded.topics_json,
		           analyzed_at = excluded.analyzed_at, analyzed_by = excluded.analyzed_by`
	}

	hasDrift := 0
	if rec.HasDrift {
		hasDrift = 1
	}
	_, err = s.db.ExecContext(ctx, s.rebind(query), rec.PostID, rec.ExpertID, hasDrift, topicsJSON, rec.AnalyzedAt, rec.AnalyzedBy)
	if err != nil {
		return fmt.Errorf("save drift record for post %d: %w", rec.PostID, err)
	}
	return nil
}

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.ExpertID, &p.ChannelID, &p.PerChannelMsgID, &p.AuthoredAt, &p.Author, &p.BodyMarkdown, &p.ForwardedFrom); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
