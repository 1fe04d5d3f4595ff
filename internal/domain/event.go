package domain

const (
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNamePlayerFinished     = "player.finished"
	EventNameSessionEnded       = "session.ended"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAnswerSubmitted struct {
	SessionID string
	Code      uint32
	Nickname  string
	Answer    PlayerAnswer
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventPlayerFinished struct {
	SessionID string
	Code      uint32
	PlayerID  string
	Answers   int
}

func (EventPlayerFinished) Name() string { return EventNamePlayerFinished }

type EventSessionEnded struct {
	SessionID string
	Code      uint32
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
