package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tripboard/tripstats/internal/db"
)

// Modes.
const (
	ModeSolo  = "solo"
	ModeGroup = "group"
)

// Request carries the caller and the raw filter values.
type Request struct {
	UserID       string
	Mode         string
	Range        string
	BoardID      string
	StartDate    string
	EndDate      string
	TargetUserID string
}

// Filters echoes the filter values that were applied.
type Filters struct {
	Range     string  `json:"range"`
	BoardID   string  `json:"boardId"`
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
	UserID    string  `json:"userId"`
}

// Options populate the dashboard pickers.
type Options struct {
	Boards []BoardOption `json:"boards"`
	Users  []UserOption  `json:"users"`
}

// Report is the full dashboard payload. Both bodies are always
// present; Mode only says which one the caller shows.
type Report struct {
	Mode    string      `json:"mode"`
	Filters Filters     `json:"filters"`
	Options Options     `json:"options"`
	Solo    SoloReport  `json:"solo"`
	Group   GroupReport `json:"group"`
}

type SoloKPI struct {
	Posts               int     `json:"posts"`
	Comments            int     `json:"comments"`
	OnlineSeconds       int64   `json:"onlineSeconds"`
	CompletedTrips      int     `json:"completedTrips"`
	PostsDelta          float64 `json:"postsDelta"`
	CommentsDelta       float64 `json:"commentsDelta"`
	OnlineSecondsDelta  float64 `json:"onlineSecondsDelta"`
	CompletedTripsDelta float64 `json:"completedTripsDelta"`
}

type OnlineSummary struct {
	TotalSeconds   int64        `json:"totalSeconds"`
	AverageSeconds int64        `json:"averageSeconds"`
	SessionsCount  int          `json:"sessionsCount"`
	Trend          []TrendPoint `json:"trend"`
}

type SoloTrips struct {
	CompletedTrips        int     `json:"completedTrips"`
	TotalTripDays         int     `json:"totalTripDays"`
	MostFrequentDirection *string `json:"mostFrequentDirection"`
	LongestTripDays       int     `json:"longestTripDays"`
	AverageBudget         float64 `json:"averageBudget"`
}

type Engagement struct {
	MentionsReceived       int          `json:"mentionsReceived"`
	ReactionsReceived      int          `json:"reactionsReceived"`
	AverageCommentsOnPosts float64      `json:"averageCommentsOnPosts"`
	TopEmojis              []EmojiCount `json:"topEmojis"`
}

// SoloReport covers the requester's own activity.
type SoloReport struct {
	KPI           SoloKPI       `json:"kpi"`
	Online        OnlineSummary `json:"online"`
	Trips         SoloTrips     `json:"trips"`
	Engagement    Engagement    `json:"engagement"`
	ActivityTrend []TrendPoint  `json:"activityTrend"`
}

type GroupKPI struct {
	Posts          int     `json:"posts"`
	Comments       int     `json:"comments"`
	OnlineSeconds  int64   `json:"onlineSeconds"`
	GroupTrips     int     `json:"groupTrips"`
	MostActiveUser *string `json:"mostActiveUser"`
}

type GroupTrips struct {
	TotalTrips         int     `json:"totalTrips"`
	TotalTripDays      int     `json:"totalTripDays"`
	MostVisitedPlace   *string `json:"mostVisitedPlace"`
	AverageTripDays    float64 `json:"averageTripDays"`
	MostActiveTraveler *string `json:"mostActiveTraveler"`
}

type MentionSummary struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Count       int    `json:"count"`
}

type PostSummary struct {
	PostID     string `json:"postId"`
	Excerpt    string `json:"excerpt"`
	Comments   int    `json:"comments"`
	AuthorName string `json:"authorName"`
}

type Interactions struct {
	TopEmojis              []EmojiCount    `json:"topEmojis"`
	MostMentionedUser      *MentionSummary `json:"mostMentionedUser"`
	AverageCommentsPerPost float64         `json:"averageCommentsPerPost"`
	MostEngagingPost       *PostSummary    `json:"mostEngagingPost"`
}

// GroupReport covers the scoped boards, optionally one member.
type GroupReport struct {
	KPI          GroupKPI       `json:"kpi"`
	Ranking      []RankingEntry `json:"ranking"`
	Heatmap      []HeatmapCell  `json:"heatmap"`
	Trips        GroupTrips     `json:"trips"`
	Interactions Interactions   `json:"interactions"`
}

// Engine computes reports against a Store.
type Engine struct {
	store         Store
	now           func() time.Time
	concurrency   int
	onReaderError func(reader string, err error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the wall clock used for "today" and for
// open sessions.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithReadConcurrency caps the readers running at once for one
// report. Zero means no cap.
func WithReadConcurrency(n int) EngineOption {
	return func(e *Engine) { e.concurrency = n }
}

// WithReaderErrorHook is called once for every reader that fails
// for a reason other than cancellation.
func WithReaderErrorHook(fn func(reader string, err error)) EngineOption {
	return func(e *Engine) { e.onReaderError = fn }
}

// NewEngine returns an Engine reading from store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// results holds one slot per reader. Each slot is written by
// exactly one goroutine and read only after Wait.
type results struct {
	soloPosts, soloComments   []db.ContentRow
	prevPosts, prevComments   int
	soloTrips                 []db.TripRow
	prevTrips                 int
	mentions                  int
	soloReplies               db.CommentStats
	soloSessions              []db.SessionRow
	groupPosts, groupComments []db.ContentRow
	groupTrips                []db.TripRow
	participation             map[string]int
	groupSessions             []db.SessionRow
	mostMentioned             *db.MentionedUser
	groupReplies              db.CommentStats
	engaging                  *db.EngagingPost
}

// Report computes both reports for req. Any reader failure fails
// the whole report; the remaining readers are cancelled.
func (e *Engine) Report(ctx context.Context, req Request) (*Report, error) {
	now := e.now().UTC()
	rr := ResolveWindow(req.Range, req.StartDate, req.EndDate, now)

	scope, err := e.resolveScope(ctx, req.UserID, req.BoardID, req.TargetUserID)
	if err != nil {
		return nil, fmt.Errorf("resolving scope: %w", err)
	}
	presence, err := e.store.HasPresence(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting presence: %w", err)
	}

	cur := rr.Window
	prev := cur.Previous()
	filter := func(w Window, author string) db.ContentFilter {
		return db.ContentFilter{
			BoardIDs: scope.BoardIDs,
			From:     w.From,
			To:       w.To,
			AuthorID: author,
		}
	}
	solo := filter(cur, req.UserID)
	soloPrev := filter(prev, req.UserID)
	trips := filter(cur, "")
	tripsPrev := filter(prev, "")
	group := filter(cur, scope.UserID)
	// Sessions are not board-scoped; an empty scope still hides
	// them so nothing outside the scope leaks.
	withSessions := presence && len(scope.BoardIDs) > 0

	var r results
	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	run := func(name string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				if e.onReaderError != nil && !errors.Is(err, context.Canceled) {
					e.onReaderError(name, err)
				}
				return fmt.Errorf("reading %s: %w", name, err)
			}
			return nil
		})
	}

	run("solo posts", func(ctx context.Context) (err error) {
		r.soloPosts, err = e.store.ListPosts(ctx, solo)
		return err
	})
	run("solo comments", func(ctx context.Context) (err error) {
		r.soloComments, err = e.store.ListComments(ctx, solo)
		return err
	})
	run("solo trips", func(ctx context.Context) (err error) {
		r.soloTrips, err = e.store.ListCompletedTrips(ctx, trips)
		return err
	})
	if !cur.Unbounded() {
		run("previous posts", func(ctx context.Context) (err error) {
			r.prevPosts, err = e.store.CountPosts(ctx, soloPrev)
			return err
		})
		run("previous comments", func(ctx context.Context) (err error) {
			r.prevComments, err = e.store.CountComments(ctx, soloPrev)
			return err
		})
		run("previous trips", func(ctx context.Context) (err error) {
			r.prevTrips, err = e.store.CountCompletedTrips(ctx, tripsPrev)
			return err
		})
	}
	run("mentions received", func(ctx context.Context) (err error) {
		r.mentions, err = e.store.CountMentionsReceived(ctx, req.UserID, trips)
		return err
	})
	run("solo comments on posts", func(ctx context.Context) (err error) {
		r.soloReplies, err = e.store.CommentsOnPosts(ctx, solo)
		return err
	})
	if withSessions {
		run("solo sessions", func(ctx context.Context) (err error) {
			r.soloSessions, err = e.store.ListSessions(
				ctx, []string{req.UserID}, cur.From, cur.To,
			)
			return err
		})
	}

	run("group posts", func(ctx context.Context) (err error) {
		r.groupPosts, err = e.store.ListPosts(ctx, group)
		return err
	})
	run("group comments", func(ctx context.Context) (err error) {
		r.groupComments, err = e.store.ListComments(ctx, group)
		return err
	})
	run("group trips", func(ctx context.Context) (err error) {
		r.groupTrips, err = e.store.ListCompletedTrips(ctx, group)
		return err
	})
	run("trip participation", func(ctx context.Context) (err error) {
		r.participation, err = e.store.TripParticipation(ctx, group)
		return err
	})
	run("most mentioned user", func(ctx context.Context) (err error) {
		r.mostMentioned, err = e.store.MostMentionedUser(ctx, group)
		return err
	})
	run("group comments on posts", func(ctx context.Context) (err error) {
		r.groupReplies, err = e.store.CommentsOnPosts(ctx, group)
		return err
	})
	run("most engaging post", func(ctx context.Context) (err error) {
		r.engaging, err = e.store.MostEngagingPost(ctx, group)
		return err
	})
	if withSessions {
		run("group sessions", func(ctx context.Context) (err error) {
			r.groupSessions, err = e.store.ListSessions(
				ctx, scope.MemberIDs(), cur.From, cur.To,
			)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cur.Unbounded() {
		r.prevPosts = len(r.soloPosts)
		r.prevComments = len(r.soloComments)
		r.prevTrips = len(r.soloTrips)
	}

	return &Report{
		Mode:    normalizeMode(req.Mode),
		Filters: echoFilters(rr, req.BoardID, scope),
		Options: Options{Boards: scope.Boards, Users: scope.Members},
		Solo:    composeSolo(&r, now),
		Group:   composeGroup(&r, scope, now),
	}, nil
}

func normalizeMode(mode string) string {
	if mode == ModeGroup {
		return ModeGroup
	}
	return ModeSolo
}

func echoFilters(rr ResolvedRange, boardID string, scope Scope) Filters {
	f := Filters{
		Range:     rr.Range,
		BoardID:   All,
		StartDate: rr.StartDate,
		EndDate:   rr.EndDate,
		UserID:    All,
	}
	if boardID != "" {
		f.BoardID = boardID
	}
	if scope.UserID != "" {
		f.UserID = scope.UserID
	}
	return f
}

func composeSolo(r *results, now time.Time) SoloReport {
	var total int64
	for _, s := range r.soloSessions {
		total += s.Duration(now)
	}
	count := len(r.soloSessions)
	var avg int64
	if count > 0 {
		avg = int64(ratio(float64(total), float64(count), 0))
	}

	trend := BuildTrend(
		countByDay(r.soloPosts),
		countByDay(r.soloComments),
		secondsByDay(r.soloSessions, now),
	)

	return SoloReport{
		KPI: SoloKPI{
			Posts:               len(r.soloPosts),
			Comments:            len(r.soloComments),
			OnlineSeconds:       total,
			CompletedTrips:      len(r.soloTrips),
			PostsDelta:          Delta(float64(r.prevPosts), float64(len(r.soloPosts))),
			CommentsDelta:       Delta(float64(r.prevComments), float64(len(r.soloComments))),
			OnlineSecondsDelta:  0,
			CompletedTripsDelta: Delta(float64(r.prevTrips), float64(len(r.soloTrips))),
		},
		Online: OnlineSummary{
			TotalSeconds:   total,
			AverageSeconds: avg,
			SessionsCount:  count,
			Trend:          trend,
		},
		Trips: summarizeSoloTrips(r.soloTrips),
		Engagement: Engagement{
			MentionsReceived:  r.mentions,
			ReactionsReceived: 0,
			AverageCommentsOnPosts: ratio(
				float64(r.soloReplies.Comments), float64(r.soloReplies.Posts), 2,
			),
			TopEmojis: TopEmojis(contents(r.soloPosts, r.soloComments)),
		},
		ActivityTrend: trend,
	}
}

func composeGroup(r *results, scope Scope, now time.Time) GroupReport {
	posts := make(map[string]int)
	for _, p := range r.groupPosts {
		posts[p.AuthorID]++
	}
	comments := make(map[string]int)
	for _, c := range r.groupComments {
		comments[c.AuthorID]++
	}
	online := make(map[string]int64)
	var totalOnline int64
	for _, s := range r.groupSessions {
		d := s.Duration(now)
		online[s.UserID] += d
		totalOnline += d
	}

	candidates := make([]RankingEntry, 0, len(scope.Members))
	for _, m := range scope.Members {
		if scope.UserID != "" && m.ID != scope.UserID {
			continue
		}
		candidates = append(candidates, RankingEntry{
			UserID:        m.ID,
			DisplayName:   m.DisplayName,
			AvatarURL:     m.AvatarURL,
			Posts:         posts[m.ID],
			Comments:      comments[m.ID],
			OnlineSeconds: online[m.ID],
		})
	}
	ranking := Rank(candidates)

	kpi := GroupKPI{
		Posts:         len(r.groupPosts),
		Comments:      len(r.groupComments),
		OnlineSeconds: totalOnline,
		GroupTrips:    len(r.groupTrips),
	}
	if len(ranking) > 0 && ranking[0].active() {
		name := ranking[0].DisplayName
		kpi.MostActiveUser = &name
	}

	interactions := Interactions{
		TopEmojis: TopEmojis(contents(r.groupPosts, r.groupComments)),
		AverageCommentsPerPost: ratio(
			float64(r.groupReplies.Comments), float64(r.groupReplies.Posts), 2,
		),
	}
	if mu := r.mostMentioned; mu != nil {
		interactions.MostMentionedUser = &MentionSummary{
			UserID:      mu.UserID,
			DisplayName: mu.DisplayName,
			Count:       mu.Count,
		}
	}
	if ep := r.engaging; ep != nil {
		interactions.MostEngagingPost = &PostSummary{
			PostID:     ep.PostID,
			Excerpt:    Excerpt(ep.Content),
			Comments:   ep.Comments,
			AuthorName: ep.AuthorName,
		}
	}

	return GroupReport{
		KPI:     kpi,
		Ranking: ranking,
		Heatmap: Heatmap(
			contentTimes(r.groupPosts),
			contentTimes(r.groupComments),
			sessionStarts(r.groupSessions),
		),
		Trips:        summarizeGroupTrips(r.groupTrips, r.participation, scope),
		Interactions: interactions,
	}
}

func contents(sets ...[]db.ContentRow) []string {
	var out []string
	for _, rows := range sets {
		for _, row := range rows {
			out = append(out, row.Content)
		}
	}
	return out
}
