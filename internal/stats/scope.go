package stats

import (
	"context"
	"fmt"
	"slices"
)

// All is the wildcard for board and user filters.
const All = "all"

// BoardOption is a board the requester can pick.
type BoardOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// UserOption is a member the requester can pick.
type UserOption struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Scope is what one request may see.
type Scope struct {
	// Boards lists every accessible board, regardless of filter.
	Boards []BoardOption
	// BoardIDs is the scoped set: every accessible board, the one
	// filtered board, or empty when the filter is not accessible.
	BoardIDs []string
	// Members are the co-members across BoardIDs.
	Members []UserOption
	// UserID is the validated member filter, or "".
	UserID string
}

// MemberIDs returns the ids of the scoped members, or just the
// filtered member when one is set.
func (s Scope) MemberIDs() []string {
	if s.UserID != "" {
		return []string{s.UserID}
	}
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

func (s Scope) member(id string) (UserOption, bool) {
	i := slices.IndexFunc(s.Members, func(m UserOption) bool {
		return m.ID == id
	})
	if i < 0 {
		return UserOption{}, false
	}
	return s.Members[i], true
}

// resolveScope never fails on bad filter values: an inaccessible
// board yields an empty scope and an unknown user means all.
func (e *Engine) resolveScope(
	ctx context.Context, userID, boardID, targetID string,
) (Scope, error) {
	boards, err := e.store.AccessibleBoards(ctx, userID)
	if err != nil {
		return Scope{}, fmt.Errorf("listing accessible boards: %w", err)
	}

	s := Scope{
		Boards:   make([]BoardOption, 0, len(boards)),
		BoardIDs: []string{},
		Members:  []UserOption{},
	}
	for _, b := range boards {
		s.Boards = append(s.Boards, BoardOption{ID: b.ID, Title: b.Title})
		if boardID == "" || boardID == All || boardID == b.ID {
			s.BoardIDs = append(s.BoardIDs, b.ID)
		}
	}
	if len(s.BoardIDs) == 0 {
		return s, nil
	}

	members, err := e.store.Members(ctx, s.BoardIDs)
	if err != nil {
		return Scope{}, fmt.Errorf("listing members: %w", err)
	}
	for _, m := range members {
		s.Members = append(s.Members, UserOption{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
		})
	}
	if targetID != "" && targetID != All {
		if _, ok := s.member(targetID); ok {
			s.UserID = targetID
		}
	}
	return s, nil
}
