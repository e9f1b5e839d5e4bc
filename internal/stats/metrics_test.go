package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestDelta(t *testing.T) {
	tests := []struct {
		prev, cur float64
		want      float64
	}{
		{0, 0, 0},
		{0, 7, 100},
		{50, 100, 100},
		{100, 50, -50},
		{3, 4, 33.3},
		{3, 2, -33.3},
		{10, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Delta(tt.prev, tt.cur),
			"Delta(%v, %v)", tt.prev, tt.cur)
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(5, 0, 2))
	assert.Equal(t, 0.5, ratio(1, 2, 2))
	assert.Equal(t, 0.33, ratio(1, 3, 2))
	assert.Equal(t, 3.5, ratio(7, 2, 1))
}

func TestBuildTrendUnion(t *testing.T) {
	posts := map[string]int{"2024-06-01": 2, "2024-06-03": 1}
	comments := map[string]int{"2024-06-02": 4, "2024-06-03": 1}
	online := map[string]int64{"2024-05-30": 120}

	got := BuildTrend(posts, comments, online)
	want := []TrendPoint{
		{Date: "2024-05-30", OnlineSeconds: 120},
		{Date: "2024-06-01", Posts: 2},
		{Date: "2024-06-02", Comments: 4},
		{Date: "2024-06-03", Posts: 1, Comments: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trend mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTrendEmpty(t *testing.T) {
	got := BuildTrend(nil, nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHeatmap(t *testing.T) {
	// 2024-06-09 is a Sunday.
	sun9 := time.Date(2024, 6, 9, 9, 15, 0, 0, time.UTC)
	mon23 := time.Date(2024, 6, 10, 23, 59, 0, 0, time.UTC)
	// 01:30 at +02:00 is Sunday 23:30 UTC.
	sun23 := time.Date(2024, 6, 10, 1, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	got := Heatmap(
		[]time.Time{sun9, mon23},
		[]time.Time{sun9, sun23},
		[]time.Time{sun9},
	)
	want := []HeatmapCell{
		{DayOfWeek: 0, Hour: 9, Value: 3},
		{DayOfWeek: 0, Hour: 23, Value: 1},
		{DayOfWeek: 1, Hour: 23, Value: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("heatmap mismatch (-want +got):\n%s", diff)
	}
	for _, c := range got {
		assert.Positive(t, c.Value)
	}

	assert.Empty(t, Heatmap())
	assert.NotNil(t, Heatmap(nil, nil))
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, Score(10, 5, 0, 600))
	assert.Equal(t, 1, Score(0, 0, 0, 5))
	assert.Equal(t, 0, Score(0, 0, 0, 4))
	assert.Equal(t, 4, Score(0, 0, 4, 0))
}

func TestRank(t *testing.T) {
	candidates := []RankingEntry{
		{UserID: "a", DisplayName: "Ann", Posts: 1},
		{UserID: "b", DisplayName: "Ben"},
		{UserID: "c", DisplayName: "Cal", Comments: 3},
		{UserID: "d", DisplayName: "Dee", Posts: 2},
		{UserID: "e", DisplayName: "Eve", OnlineSeconds: 30},
		{UserID: "f", DisplayName: "Fay", Posts: 10, Comments: 5, OnlineSeconds: 600},
		{UserID: "g", DisplayName: "Gus", Comments: 1},
	}
	got := Rank(candidates)

	var ids []string
	var scores []int
	for _, e := range got {
		ids = append(ids, e.UserID)
		scores = append(scores, e.Score)
	}
	// c and d tie on 6 and keep input order; b scores 0 and falls
	// below the cut.
	assert.Equal(t, []string{"f", "c", "d", "a", "e"}, ids)
	assert.Equal(t, []int{100, 6, 6, 3, 3}, scores)

	got = Rank([]RankingEntry{
		{UserID: "idle1"},
		{UserID: "x", Posts: 1},
		{UserID: "idle2"},
	})
	ids = ids[:0]
	for _, e := range got {
		ids = append(ids, e.UserID)
	}
	// Members without activity stay, in input order, at score 0.
	assert.Equal(t, []string{"x", "idle1", "idle2"}, ids)
	assert.Zero(t, got[1].Score)

	assert.NotNil(t, Rank(nil))
	assert.Empty(t, Rank(nil))
}

func TestTopEmojis(t *testing.T) {
	got := TopEmojis([]string{"Great 🎉🎉 trip", "🎉 again", "😀"})
	want := []EmojiCount{{Emoji: "🎉", Count: 3}, {Emoji: "😀", Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("emoji mismatch (-want +got):\n%s", diff)
	}
}

func TestTopEmojisCodePoints(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []EmojiCount
	}{
		{
			name:  "skin tone modifier is not pictographic",
			texts: []string{"👍🏽"},
			want:  []EmojiCount{{Emoji: "👍", Count: 1}},
		},
		{
			name:  "zwj sequence counts each member",
			texts: []string{"👨‍👩‍👧"},
			want: []EmojiCount{
				{Emoji: "👨", Count: 1},
				{Emoji: "👩", Count: 1},
				{Emoji: "👧", Count: 1},
			},
		},
		{
			name:  "regional indicators and digits ignored",
			texts: []string{"🇵🇹 #1 ok"},
			want:  []EmojiCount{},
		},
		{
			name:  "ties keep first seen and cap at five",
			texts: []string{"☀️🌧🌈", "⛰🏖🚗🚗"},
			want: []EmojiCount{
				{Emoji: "🚗", Count: 2},
				{Emoji: "☀", Count: 1},
				{Emoji: "🌧", Count: 1},
				{Emoji: "🌈", Count: 1},
				{Emoji: "⛰", Count: 1},
			},
		},
		{name: "no text", texts: nil, want: []EmojiCount{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, TopEmojis(tt.texts)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "Packing list & snacks",
		Excerpt("<p>Packing   <b>list</b> &amp; snacks</p>\n"))

	long := ""
	for range 30 {
		long += "abc "
	}
	got := Excerpt(long)
	assert.LessOrEqual(t, len([]rune(got)), excerptRunes+1)
	assert.True(t, strings.HasSuffix(got, "abc…"), got)
	assert.Equal(t, "short", Excerpt("short"))
}

func TestTopPlace(t *testing.T) {
	got := topPlace([]string{"São Paulo", "Lisbon", "sao  paulo", " ", "LISBON", "SÃO PAULO"})
	if assert.NotNil(t, got) {
		assert.Equal(t, "São Paulo", *got)
	}
	tie := topPlace([]string{"Porto", "Lisbon"})
	if assert.NotNil(t, tie) {
		assert.Equal(t, "Porto", *tie)
	}
	assert.Nil(t, topPlace([]string{"", "  "}))
	assert.Equal(t, placeKey("Zürich"), placeKey(" zurich "))
}
