package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/logging"
	"github.com/tripboard/tripstats/internal/timeutil"
)

// fixtureNS seeds deterministic ids so regenerated fixtures match.
var fixtureNS = uuid.MustParse("6f1c2d7e-3b8a-4c55-9e0d-2a4b7f9c1e01")

type userSpec struct {
	name   string
	avatar string
}

type boardSpec struct {
	title     string
	members   []int
	posts     int
	completed bool
	location  string
	budget    float64
	tripDays  int
}

var users = []userSpec{
	{"Ana", "https://avatars.example/ana.png"},
	{"Bruno", "https://avatars.example/bruno.png"},
	{"Carla", ""},
	{"Diogo", ""},
}

var boards = []boardSpec{
	{title: "Summer in Porto", members: []int{0, 1, 2}, posts: 12,
		completed: true, location: "Porto", budget: 1200, tripDays: 6},
	{title: "Azores hiking", members: []int{0, 1, 3}, posts: 8,
		completed: true, location: "São Miguel", budget: 900, tripDays: 5},
	{title: "Porto weekend", members: []int{1, 2}, posts: 4,
		completed: true, location: "porto", tripDays: 2},
	{title: "Ideas", members: []int{0, 1, 2, 3}, posts: 20},
}

var snippets = []string{
	"Found cheap flights ✈️",
	"<p>Who's in for <b>surfing</b>? 🏄</p>",
	"Booked the apartment 🎉",
	"Rain tomorrow 🌧 plan B?",
	"Best pastel de nata so far 😋😋",
	"Packing list updated",
}

func main() {
	out := flag.String("out", "", "output database path")
	now := flag.String("now", "", "reference date (YYYY-MM-DD, default today)")
	noPresence := flag.Bool("no-presence", false, "omit the user_sessions table")
	flag.Parse()
	if *out == "" {
		fmt.Fprintln(os.Stderr, "usage: testfixture -out <path> [-now YYYY-MM-DD] [-no-presence]")
		os.Exit(1)
	}

	base := timeutil.Day(time.Now())
	if *now != "" {
		t, ok := timeutil.ParseDate(*now)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid -now date %q\n", *now)
			os.Exit(1)
		}
		base = t
	}

	if err := os.Remove(*out); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		fatal(err, "removing existing db")
	}

	var opts []db.Option
	if *noPresence {
		opts = append(opts, db.WithoutPresence())
	}
	database, err := db.Open(*out, opts...)
	if err != nil {
		fatal(err, "opening db")
	}
	defer database.Close()

	n, err := generate(database, base, !*noPresence)
	if err != nil {
		fatal(err, "generating fixture")
	}
	fmt.Printf("Fixture DB written to %s (%d rows)\n", *out, n)
}

func fatal(err error, msg string) {
	logging.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func fixtureID(kind string, parts ...any) string {
	return uuid.NewSHA1(fixtureNS, fmt.Appendf(nil, "%s%v", kind, parts)).String()
}

func userID(i int) string { return fixtureID("user", i) }

// generate writes the demo dataset, with content spread over the
// 30 days before base. It returns the number of rows written.
func generate(database *db.DB, base time.Time, presence bool) (int, error) {
	rows := 0
	exec := func(tx *sql.Tx, q string, args ...any) error {
		if _, err := tx.Exec(q, args...); err != nil {
			return err
		}
		rows++
		return nil
	}
	ts := func(t time.Time) string { return timeutil.Format(t) }

	err := database.Update(func(tx *sql.Tx) error {
		for i, u := range users {
			if err := exec(tx,
				`INSERT INTO users (id, display_name, avatar_url) VALUES (?, ?, ?)`,
				userID(i), u.name, u.avatar,
			); err != nil {
				return fmt.Errorf("inserting user %s: %w", u.name, err)
			}
		}

		for bi, b := range boards {
			boardID := fixtureID("board", bi)
			var completedAt, meta any
			if b.completed {
				end := base.AddDate(0, 0, -3*(bi+1))
				start := end.AddDate(0, 0, -(b.tripDays - 1))
				completedAt = ts(end.Add(20 * time.Hour))
				meta = tripMeta(b, start, end)
			}
			if err := exec(tx,
				`INSERT INTO boards (id, group_id, title, completed,
					completed_at, trip_meta, created_at, updated_at)
				VALUES (?, 'demo', ?, ?, ?, ?, ?, ?)`,
				boardID, b.title, b.completed, completedAt, meta,
				ts(base.AddDate(0, 0, -60)), ts(base),
			); err != nil {
				return fmt.Errorf("inserting board %s: %w", b.title, err)
			}
			for _, m := range b.members {
				if err := exec(tx,
					`INSERT INTO board_members (board_id, user_id) VALUES (?, ?)`,
					boardID, userID(m),
				); err != nil {
					return fmt.Errorf("inserting member: %w", err)
				}
			}
			if err := writeContent(tx, exec, base, bi, b); err != nil {
				return err
			}
		}

		if !presence {
			return nil
		}
		for i := range users {
			for d := range 10 {
				started := base.AddDate(0, 0, -d*3).
					Add(time.Duration(8+i*3) * time.Hour)
				if err := exec(tx,
					`INSERT INTO user_sessions (user_id, started_at, ended_at)
					VALUES (?, ?, ?)`,
					userID(i), ts(started),
					ts(started.Add(time.Duration(5+d*i)*time.Minute)),
				); err != nil {
					return fmt.Errorf("inserting session: %w", err)
				}
			}
		}
		return nil
	})
	return rows, err
}

func writeContent(
	tx *sql.Tx, exec func(*sql.Tx, string, ...any) error,
	base time.Time, bi int, b boardSpec,
) error {
	boardID := fixtureID("board", bi)
	for pi := range b.posts {
		author := b.members[pi%len(b.members)]
		postID := fixtureID("post", bi, pi)
		created := base.AddDate(0, 0, -(pi*29)/b.posts).
			Add(time.Duration(7+(pi*5)%14) * time.Hour)
		if err := exec(tx,
			`INSERT INTO posts (id, board_id, author_id, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			postID, boardID, userID(author),
			snippets[(bi+pi)%len(snippets)], timeutil.Format(created),
		); err != nil {
			return fmt.Errorf("inserting post: %w", err)
		}

		for ci := range pi % 4 {
			commenter := b.members[(pi+ci+1)%len(b.members)]
			if err := exec(tx,
				`INSERT INTO comments (id, post_id, board_id, author_id,
					content, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				fixtureID("comment", bi, pi, ci), postID, boardID,
				userID(commenter), snippets[(pi+ci)%len(snippets)],
				timeutil.Format(created.Add(time.Duration(ci+1)*time.Hour)),
			); err != nil {
				return fmt.Errorf("inserting comment: %w", err)
			}
		}

		if pi%3 == 0 {
			mentioned := b.members[(pi+1)%len(b.members)]
			if err := exec(tx,
				`INSERT INTO mentions (post_id, board_id, mentioned_user_id, created_at)
				VALUES (?, ?, ?, ?)`,
				postID, boardID, userID(mentioned), timeutil.Format(created),
			); err != nil {
				return fmt.Errorf("inserting mention: %w", err)
			}
		}
	}
	return nil
}

func tripMeta(b boardSpec, start, end time.Time) string {
	budget := "null"
	if b.budget > 0 {
		budget = fmt.Sprintf("%g", b.budget)
	}
	return fmt.Sprintf(
		`{"location":%q,"budget":%s,"startDate":%q,"endDate":%q}`,
		b.location, budget,
		timeutil.FormatDate(start), timeutil.FormatDate(end),
	)
}
