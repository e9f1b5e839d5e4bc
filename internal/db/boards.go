package db

import (
	"context"
	"fmt"
	"sort"
)

// Board is a board the requester may pick.
type Board struct {
	ID    string
	Title string
}

// Member is a user sharing at least one board with the requester.
type Member struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// AccessibleBoards lists the non-archived boards userID belongs
// to, ordered by title then id.
func (db *DB) AccessibleBoards(
	ctx context.Context, userID string,
) ([]Board, error) {
	rows, err := db.query(ctx,
		`SELECT b.id, b.title
		FROM boards b
		JOIN board_members bm ON bm.board_id = b.id
		WHERE bm.user_id = ? AND NOT b.archived
		ORDER BY b.title, b.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying accessible boards: %w", err)
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Title); err != nil {
			return nil, fmt.Errorf("scanning board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating boards: %w", classify(err))
	}
	return boards, nil
}

// Members lists the distinct members of boardIDs ordered by
// display name then id.
func (db *DB) Members(
	ctx context.Context, boardIDs []string,
) ([]Member, error) {
	seen := map[string]bool{}
	var members []Member
	err := queryChunked(boardIDs, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		rows, err := db.query(ctx,
			`SELECT DISTINCT u.id, u.display_name, u.avatar_url
			FROM board_members bm
			JOIN users u ON u.id = bm.user_id
			WHERE bm.board_id IN `+ph,
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying members: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m Member
			if err := rows.Scan(
				&m.ID, &m.DisplayName, &m.AvatarURL,
			); err != nil {
				return fmt.Errorf("scanning member: %w", err)
			}
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			members = append(members, m)
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].DisplayName != members[j].DisplayName {
			return members[i].DisplayName < members[j].DisplayName
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}
