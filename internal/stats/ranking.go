package stats

import (
	"math"
	"sort"
)

// Ranking weights.
const (
	postWeight     = 3
	commentWeight  = 2
	reactionWeight = 1
	onlineDivisor  = 10

	// TopN bounds the leaderboard and emoji lists.
	TopN = 5
)

// RankingEntry is one leaderboard row.
type RankingEntry struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl"`
	Posts         int    `json:"posts"`
	Comments      int    `json:"comments"`
	OnlineSeconds int64  `json:"onlineSeconds"`
	Reactions     int    `json:"reactions"`
	Score         int    `json:"score"`
}

// Score applies the leaderboard formula, rounded to the nearest
// integer. Reactions have no source yet and are always zero.
func Score(posts, comments, reactions int, onlineSeconds int64) int {
	raw := float64(posts*postWeight+comments*commentWeight+reactions*reactionWeight) +
		float64(onlineSeconds)/onlineDivisor
	return int(math.Round(raw))
}

// Rank scores candidates and returns the top entries by
// descending score. Equal scores, including members without any
// activity, keep the candidates' input order.
func Rank(candidates []RankingEntry) []RankingEntry {
	ranked := make([]RankingEntry, len(candidates))
	for i, c := range candidates {
		c.Score = Score(c.Posts, c.Comments, c.Reactions, c.OnlineSeconds)
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}

func (e RankingEntry) active() bool {
	return e.Posts > 0 || e.Comments > 0 ||
		e.OnlineSeconds > 0 || e.Reactions > 0
}
