package stats

import (
	"context"
	"time"

	"github.com/tripboard/tripstats/internal/db"
)

// Store is the read surface the engine needs. *db.DB satisfies
// it; tests substitute fakes.
type Store interface {
	AccessibleBoards(ctx context.Context, userID string) ([]db.Board, error)
	Members(ctx context.Context, boardIDs []string) ([]db.Member, error)

	CountPosts(ctx context.Context, f db.ContentFilter) (int, error)
	CountComments(ctx context.Context, f db.ContentFilter) (int, error)
	ListPosts(ctx context.Context, f db.ContentFilter) ([]db.ContentRow, error)
	ListComments(ctx context.Context, f db.ContentFilter) ([]db.ContentRow, error)
	CommentsOnPosts(ctx context.Context, f db.ContentFilter) (db.CommentStats, error)
	MostEngagingPost(ctx context.Context, f db.ContentFilter) (*db.EngagingPost, error)

	CountMentionsReceived(ctx context.Context, userID string, f db.ContentFilter) (int, error)
	MostMentionedUser(ctx context.Context, f db.ContentFilter) (*db.MentionedUser, error)

	CountCompletedTrips(ctx context.Context, f db.ContentFilter) (int, error)
	ListCompletedTrips(ctx context.Context, f db.ContentFilter) ([]db.TripRow, error)
	TripParticipation(ctx context.Context, f db.ContentFilter) (map[string]int, error)

	HasPresence(ctx context.Context) (bool, error)
	ListSessions(ctx context.Context, userIDs []string, from, to *time.Time) ([]db.SessionRow, error)
}

var _ Store = (*db.DB)(nil)
