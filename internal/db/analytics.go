package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// maxSQLVars is the maximum bind variables per IN clause to stay
// within SQLite's default SQLITE_MAX_VARIABLE_NUMBER (999).
const maxSQLVars = 500

// inPlaceholders returns a "(?,?,...)" string and []any args for
// a slice of string IDs.
func inPlaceholders(ids []string) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(ph, ",") + ")", args
}

// queryChunked executes a callback for each chunk of IDs,
// splitting at maxSQLVars to avoid SQLite bind-variable limits.
func queryChunked(
	ids []string,
	fn func(chunk []string) error,
) error {
	for i := 0; i < len(ids); i += maxSQLVars {
		end := min(i+maxSQLVars, len(ids))
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// ContentFilter scopes every content reader. An empty BoardIDs
// matches nothing: readers return zero values without querying.
type ContentFilter struct {
	BoardIDs []string
	From     *time.Time // inclusive
	To       *time.Time // exclusive
	AuthorID string     // optional
}

// Empty reports whether the filter can match no rows.
func (f ContentFilter) Empty() bool {
	return len(f.BoardIDs) == 0
}

// chunks calls fn with copies of f whose BoardIDs are split at
// maxSQLVars.
func (f ContentFilter) chunks(fn func(ContentFilter) error) error {
	return queryChunked(f.BoardIDs, func(ids []string) error {
		sub := f
		sub.BoardIDs = ids
		return fn(sub)
	})
}

// where returns the predicate and args for rows of the table
// aliased as alias, windowed on dateCol.
func (db *DB) where(
	f ContentFilter, alias, dateCol string,
) (string, []any) {
	ph, args := inPlaceholders(f.BoardIDs)
	preds := []string{alias + ".board_id IN " + ph}
	if f.From != nil {
		preds = append(preds, dateCol+" >= ?")
		args = append(args, db.bindTime(*f.From))
	}
	if f.To != nil {
		preds = append(preds, dateCol+" < ?")
		args = append(args, db.bindTime(*f.To))
	}
	if f.AuthorID != "" {
		preds = append(preds, alias+".author_id = ?")
		args = append(args, f.AuthorID)
	}
	return strings.Join(preds, " AND "), args
}

// ContentRow is a post or comment. PostID equals ID for posts.
type ContentRow struct {
	ID        string
	PostID    string
	BoardID   string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

func (db *DB) countRows(
	ctx context.Context, f ContentFilter, table, label string,
) (int, error) {
	if f.Empty() {
		return 0, nil
	}
	total := 0
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.where(f, "t", "t.created_at")
		var n int
		err := db.queryRow(ctx,
			"SELECT count(*) FROM "+table+" t WHERE "+where,
			args...,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("counting %s: %w", label, classify(err))
		}
		total += n
		return nil
	})
	return total, err
}

// CountPosts counts posts matching f.
func (db *DB) CountPosts(
	ctx context.Context, f ContentFilter,
) (int, error) {
	return db.countRows(ctx, f, "posts", "posts")
}

// CountComments counts comments matching f.
func (db *DB) CountComments(
	ctx context.Context, f ContentFilter,
) (int, error) {
	return db.countRows(ctx, f, "comments", "comments")
}

// ListPosts returns posts matching f ordered by creation time.
func (db *DB) ListPosts(
	ctx context.Context, f ContentFilter,
) ([]ContentRow, error) {
	return db.listRows(ctx, f,
		`SELECT t.id, t.id, t.board_id, t.author_id, t.content,
			t.created_at FROM posts t`,
		"posts",
	)
}

// ListComments returns comments matching f ordered by creation
// time.
func (db *DB) ListComments(
	ctx context.Context, f ContentFilter,
) ([]ContentRow, error) {
	return db.listRows(ctx, f,
		`SELECT t.id, t.post_id, t.board_id, t.author_id, t.content,
			t.created_at FROM comments t`,
		"comments",
	)
}

func (db *DB) listRows(
	ctx context.Context, f ContentFilter, sel, label string,
) ([]ContentRow, error) {
	if f.Empty() {
		return nil, nil
	}
	var out []ContentRow
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.where(f, "t", "t.created_at")
		rows, err := db.query(ctx,
			sel+" WHERE "+where+" ORDER BY t.created_at, t.id",
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying %s: %w", label, err)
		}
		defer rows.Close()
		for rows.Next() {
			var r ContentRow
			var created nullTime
			if err := rows.Scan(
				&r.ID, &r.PostID, &r.BoardID, &r.AuthorID,
				&r.Content, &created,
			); err != nil {
				return fmt.Errorf("scanning %s row: %w", label, err)
			}
			r.CreatedAt = created.Time
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating %s rows: %w", label, classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(f.BoardIDs) > maxSQLVars {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out, nil
}

// CommentStats counts posts matching a filter and all comments
// left on them, by anyone and at any time.
type CommentStats struct {
	Posts    int
	Comments int
}

// CommentsOnPosts returns CommentStats for posts matching f.
func (db *DB) CommentsOnPosts(
	ctx context.Context, f ContentFilter,
) (CommentStats, error) {
	var cs CommentStats
	if f.Empty() {
		return cs, nil
	}
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.where(f, "p", "p.created_at")
		var posts, comments int
		err := db.queryRow(ctx,
			`SELECT count(*),
				CAST(COALESCE(SUM((SELECT count(*) FROM comments c
					WHERE c.post_id = p.id)), 0) AS INTEGER)
			FROM posts p WHERE `+where,
			args...,
		).Scan(&posts, &comments)
		if err != nil {
			return fmt.Errorf("counting comments on posts: %w", classify(err))
		}
		cs.Posts += posts
		cs.Comments += comments
		return nil
	})
	return cs, err
}

// EngagingPost is the post with the most comments.
type EngagingPost struct {
	PostID     string
	Content    string
	AuthorName string
	Comments   int
	CreatedAt  time.Time
}

// MostEngagingPost returns the post matching f with the most
// comments, earliest first on ties. Posts without comments never
// qualify, so a nil result means no post drew a reply.
func (db *DB) MostEngagingPost(
	ctx context.Context, f ContentFilter,
) (*EngagingPost, error) {
	if f.Empty() {
		return nil, nil
	}
	var best *EngagingPost
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.where(f, "p", "p.created_at")
		var ep EngagingPost
		var created nullTime
		var author sql.NullString
		err := db.queryRow(ctx,
			`SELECT p.id, p.content, u.display_name, cc.n, p.created_at
			FROM posts p
			JOIN (SELECT post_id, count(*) AS n FROM comments
				GROUP BY post_id) cc ON cc.post_id = p.id
			LEFT JOIN users u ON u.id = p.author_id
			WHERE `+where+`
			ORDER BY cc.n DESC, p.created_at, p.id
			LIMIT 1`,
			args...,
		).Scan(&ep.PostID, &ep.Content, &author, &ep.Comments, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying most engaging post: %w", classify(err))
		}
		ep.AuthorName = author.String
		ep.CreatedAt = created.Time
		if best == nil || ep.Comments > best.Comments ||
			(ep.Comments == best.Comments &&
				ep.CreatedAt.Before(best.CreatedAt)) {
			best = &ep
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// CountMentionsReceived counts mentions of userID in boards and
// window of f. f.AuthorID is ignored.
func (db *DB) CountMentionsReceived(
	ctx context.Context, userID string, f ContentFilter,
) (int, error) {
	if f.Empty() || userID == "" {
		return 0, nil
	}
	f.AuthorID = ""
	total := 0
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.where(f, "m", "m.created_at")
		args = append(args, userID)
		var n int
		err := db.queryRow(ctx,
			`SELECT count(*) FROM mentions m
			WHERE `+where+` AND m.mentioned_user_id = ?`,
			args...,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("counting mentions: %w", classify(err))
		}
		total += n
		return nil
	})
	return total, err
}

// MentionedUser is a mention target and how often it was named.
type MentionedUser struct {
	UserID      string
	DisplayName string
	Count       int
}

// MostMentionedUser returns the user mentioned most often in the
// boards and window of f. With f.AuthorID set, only mentions made
// in that author's posts count. Ties go to the lower display
// name, then id.
func (db *DB) MostMentionedUser(
	ctx context.Context, f ContentFilter,
) (*MentionedUser, error) {
	if f.Empty() {
		return nil, nil
	}
	counts := map[string]*MentionedUser{}
	err := f.chunks(func(f ContentFilter) error {
		author := f.AuthorID
		f.AuthorID = ""
		where, args := db.where(f, "m", "m.created_at")
		join := ""
		if author != "" {
			join = " JOIN posts p ON p.id = m.post_id"
			where += " AND p.author_id = ?"
			args = append(args, author)
		}
		rows, err := db.query(ctx,
			`SELECT m.mentioned_user_id, COALESCE(u.display_name, ''),
				count(*)
			FROM mentions m`+join+`
			LEFT JOIN users u ON u.id = m.mentioned_user_id
			WHERE `+where+`
			GROUP BY m.mentioned_user_id, u.display_name`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying mentioned users: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var mu MentionedUser
			if err := rows.Scan(
				&mu.UserID, &mu.DisplayName, &mu.Count,
			); err != nil {
				return fmt.Errorf("scanning mentioned user: %w", err)
			}
			if prev, ok := counts[mu.UserID]; ok {
				prev.Count += mu.Count
				continue
			}
			counts[mu.UserID] = &mu
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}

	var best *MentionedUser
	for _, mu := range counts {
		if best == nil || mu.Count > best.Count ||
			(mu.Count == best.Count && lessUser(mu, best)) {
			best = mu
		}
	}
	return best, nil
}

func lessUser(a, b *MentionedUser) bool {
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.UserID < b.UserID
}
