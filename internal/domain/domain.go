package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GameTemplate is an immutable quiz definition: an ordered list of slides.
type GameTemplate struct {
	Name     string   `json:"name"`
	Tags     []string `json:"tags"`
	Slides   []Slide  `json:"slides"`
	Author   string   `json:"author"`
	AuthorID string   `json:"author_id"`
}

// SlideCount returns the number of slides in the template.
func (t GameTemplate) SlideCount() int {
	return len(t.Slides)
}

// Slide is one question of a template. Duration is in whole seconds.
type Slide struct {
	Duration         uint8    `json:"duration"`
	Text             *string  `json:"text,omitempty"`
	Image            *string  `json:"image,omitempty"`
	IsMultipleAnswer bool     `json:"is_multiple_answer"`
	Answers          []Answer `json:"answers"`
	CorrectAnswer    []int    `json:"correct_answer"`
}

// TimeLimit returns the slide duration as a time.Duration.
func (s Slide) TimeLimit() time.Duration {
	return time.Duration(s.Duration) * time.Second
}

// IsCorrect reports whether the submitted set contains every correct answer.
// Extra indices in the submission do not make it incorrect.
func (s Slide) IsCorrect(submitted []int) bool {
	got := make(map[int]struct{}, len(submitted))
	for _, a := range submitted {
		got[a] = struct{}{}
	}

	for _, c := range s.CorrectAnswer {
		if _, ok := got[c]; !ok {
			return false
		}
	}

	return true
}

type Answer struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// StoredSession is the persisted record a game session is hosted from.
type StoredSession struct {
	SessionID  string       `json:"session_id"`
	Code       uint32       `json:"code"`
	Active     bool         `json:"active"`
	Host       string       `json:"host"`
	Template   GameTemplate `json:"template"`
	CreateTime time.Time    `json:"create_time"`
}

// PlayerAnswer is an immutable record of one accepted submission.
type PlayerAnswer struct {
	PlayerID       string
	SlideIndex     int
	SlideStartTime time.Time
	Answer         []int
	SubmitTime     time.Time
	Correct        bool
}

// Elapsed is the time the player took to answer.
func (a PlayerAnswer) Elapsed() time.Duration {
	return a.SubmitTime.Sub(a.SlideStartTime)
}

// Score represents a player's running score within a game session. Join
// codes are reused once a session ends, so SessionID is the key.
type Score struct {
	SessionID  string
	Code       uint32
	PlayerID   string
	Nickname   string
	TotalScore decimal.Decimal
	UpdateTime time.Time
}

// Leaderboard represents a list of players and their scores within a game session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Code      uint32             `json:"code"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	PlayerID string  `json:"player_id"`
	Nickname string  `json:"nickname"`
	Score    float64 `json:"score"`
}
