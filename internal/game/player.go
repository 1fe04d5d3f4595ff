package game

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/victornm/gudritis/internal/domain"
)

var errOutboxClosed = stderrors.New("outbox closed")

// Outbox is a player's bounded outbound queue of encoded messages. The
// session writes into it, the connection drains it. Close signals the
// connection to shut down; the message channel itself is never closed.
type Outbox struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once
}

func NewOutbox(size int) *Outbox {
	return &Outbox{
		msgs: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Messages is drained by the connection writer.
func (o *Outbox) Messages() <-chan []byte {
	return o.msgs
}

// Done is closed when the session no longer wants this connection.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Deliver queues msg, blocking while the queue is full until ctx is done or
// the outbox is closed.
func (o *Outbox) Deliver(ctx context.Context, msg []byte) error {
	select {
	case <-o.done:
		return errOutboxClosed
	default:
	}

	select {
	case o.msgs <- msg:
		return nil
	case <-o.done:
		return errOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Player is a connected or known participant. ID is immutable; Nickname and
// Outbox change on every join. A nil Outbox means the player is offline.
type Player struct {
	ID         string
	Nickname   string
	Registered bool
	Outbox     *Outbox
}

func NewPlayer(id, nickname string, outbox *Outbox) Player {
	return Player{
		ID:       id,
		Nickname: nickname,
		Outbox:   outbox,
	}
}

type PlayerStatus int

const (
	StatusDisconnected PlayerStatus = iota
	StatusConnected
	StatusFinished
)

func (s PlayerStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SessionPlayer is a roster entry. It outlives disconnects and is only
// dropped by a kick.
type SessionPlayer struct {
	Player  Player
	Status  PlayerStatus
	Answers []domain.PlayerAnswer
	Deck    *Deck
}

// PlayerSummary is a read-only view of a roster entry.
type PlayerSummary struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Status    string `json:"status"`
	Answers   int    `json:"answers"`
	Correct   int    `json:"correct"`
	Remaining int    `json:"remaining"`
}

func (sp *SessionPlayer) summary() PlayerSummary {
	correct := 0
	for _, a := range sp.Answers {
		if a.Correct {
			correct++
		}
	}

	return PlayerSummary{
		ID:        sp.Player.ID,
		Nickname:  sp.Player.Nickname,
		Status:    sp.Status.String(),
		Answers:   len(sp.Answers),
		Correct:   correct,
		Remaining: sp.Deck.Remaining(),
	}
}
