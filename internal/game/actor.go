package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/telemetry"
)

const defaultQueueSize = 8

// ErrSessionEnded is returned by Handle methods once the actor has stopped.
var ErrSessionEnded = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session has ended"))

type ActorConfig struct {
	QueueSize int
	// IdleTimeout ends the session when no command arrives for that long.
	// Zero disables it.
	IdleTimeout time.Duration
	// OnEnd is called once after the actor stopped accepting commands.
	// final is false when the actor stopped because its context was cancelled.
	OnEnd func(sessionID string, code uint32, final bool)
}

type message interface {
	isSessionMsg()
}

type joinMsg struct {
	player Player
	done   chan struct{}
}

type startMsg struct{ playerID string }

type answerMsg struct {
	playerID   string
	answer     []int
	submitTime time.Time
	slideIndex int
}

type nextMsg struct{ requesterID, targetID string }

type leaveMsg struct {
	playerID string
	outbox   *Outbox
}

type kickMsg struct{ kickID, requesterID string }

type endMsg struct{ requesterID string }

type rosterMsg struct{ reply chan []PlayerSummary }

func (joinMsg) isSessionMsg()   {}
func (startMsg) isSessionMsg()  {}
func (answerMsg) isSessionMsg() {}
func (nextMsg) isSessionMsg()   {}
func (leaveMsg) isSessionMsg()  {}
func (kickMsg) isSessionMsg()   {}
func (endMsg) isSessionMsg()    {}
func (rosterMsg) isSessionMsg() {}

type actor struct {
	session     *Session
	inbox       chan message
	done        chan struct{}
	idleTimeout time.Duration
	onEnd       func(sessionID string, code uint32, final bool)
}

// Spawn starts the goroutine owning s and returns a handle to it. The actor
// stops when the host ends the game, the idle timeout fires or ctx is done.
func Spawn(ctx context.Context, s *Session, c ActorConfig) Handle {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	a := &actor{
		session:     s,
		inbox:       make(chan message, c.QueueSize),
		done:        make(chan struct{}),
		idleTimeout: c.IdleTimeout,
		onEnd:       c.OnEnd,
	}

	telemetry.SessionsActive.Inc()
	slog.InfoContext(ctx, "game: session actor spawned",
		"session_id", s.ID(),
		"code", s.Code(),
	)

	go a.run(ctx)

	return Handle{code: s.Code(), inbox: a.inbox, done: a.done}
}

func (a *actor) run(ctx context.Context) {
	var idle <-chan time.Time
	var timer *time.Timer
	if a.idleTimeout > 0 {
		timer = time.NewTimer(a.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	final := false
	reason := "shutdown"

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-idle:
			reason = "idle"
			final = true
			break loop
		case m := <-a.inbox:
			if a.handle(ctx, m) {
				reason = "host"
				final = true
				break loop
			}
			if timer != nil {
				timer.Reset(a.idleTimeout)
			}
		}
	}

	a.session.End(context.WithoutCancel(ctx))
	close(a.done)
	telemetry.SessionsActive.Dec()

	slog.InfoContext(ctx, "game: session actor stopped",
		"session_id", a.session.ID(),
		"code", a.session.Code(),
		"reason", reason,
	)

	if a.onEnd != nil {
		a.onEnd(a.session.ID(), a.session.Code(), final)
	}
}

// handle applies one command and reports whether the session ended.
func (a *actor) handle(ctx context.Context, m message) bool {
	s := a.session

	switch m := m.(type) {
	case joinMsg:
		telemetry.SessionCommands.WithLabelValues(CommandJoin).Inc()
		s.Join(ctx, m.player)
		close(m.done)
	case startMsg:
		telemetry.SessionCommands.WithLabelValues(CommandStart).Inc()
		s.Start(ctx, m.playerID)
	case answerMsg:
		telemetry.SessionCommands.WithLabelValues(CommandAnswer).Inc()
		s.Answer(ctx, m.playerID, m.answer, m.submitTime, m.slideIndex)
	case nextMsg:
		telemetry.SessionCommands.WithLabelValues(CommandNext).Inc()
		s.Next(ctx, m.requesterID, m.targetID)
	case leaveMsg:
		telemetry.SessionCommands.WithLabelValues(CommandLeave).Inc()
		s.Disconnect(m.playerID, m.outbox)
	case kickMsg:
		telemetry.SessionCommands.WithLabelValues(CommandKick).Inc()
		s.Kick(ctx, m.kickID, m.requesterID)
	case endMsg:
		telemetry.SessionCommands.WithLabelValues(CommandEnd).Inc()
		return s.HostEnd(ctx, m.requesterID)
	case rosterMsg:
		m.reply <- s.Roster()
	}

	return false
}

// Handle is a cheap, copyable reference to a session actor. It is safe for
// concurrent use.
type Handle struct {
	code  uint32
	inbox chan<- message
	done  <-chan struct{}
}

func (h Handle) Code() uint32 {
	return h.code
}

// Done is closed when the actor has stopped.
func (h Handle) Done() <-chan struct{} {
	return h.done
}

// Join enqueues p and waits until the session has applied it.
func (h Handle) Join(ctx context.Context, p Player) error {
	done := make(chan struct{})
	if err := h.send(ctx, joinMsg{player: p, done: done}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-h.done:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h Handle) Start(ctx context.Context, playerID string) error {
	return h.send(ctx, startMsg{playerID: playerID})
}

func (h Handle) Answer(ctx context.Context, playerID string, answer []int, submitTime time.Time, slideIndex int) error {
	return h.send(ctx, answerMsg{
		playerID:   playerID,
		answer:     answer,
		submitTime: submitTime,
		slideIndex: slideIndex,
	})
}

// Next advances targetID, or every connected player when it is empty.
func (h Handle) Next(ctx context.Context, requesterID, targetID string) error {
	return h.send(ctx, nextMsg{requesterID: requesterID, targetID: targetID})
}

// Disconnect releases playerID only if outbox is still its connection, so a
// stale connection leaving cannot take a newer one offline.
func (h Handle) Disconnect(ctx context.Context, playerID string, outbox *Outbox) error {
	return h.send(ctx, leaveMsg{playerID: playerID, outbox: outbox})
}

func (h Handle) Kick(ctx context.Context, kickID, requesterID string) error {
	return h.send(ctx, kickMsg{kickID: kickID, requesterID: requesterID})
}

func (h Handle) End(ctx context.Context, requesterID string) error {
	return h.send(ctx, endMsg{requesterID: requesterID})
}

// Roster returns a snapshot of the roster, ordered after every command
// enqueued before it.
func (h Handle) Roster(ctx context.Context) ([]PlayerSummary, error) {
	reply := make(chan []PlayerSummary, 1)
	if err := h.send(ctx, rosterMsg{reply: reply}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-h.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return nil, ErrSessionEnded
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send blocks while the inbox is full.
func (h Handle) send(ctx context.Context, m message) error {
	select {
	case <-h.done:
		return ErrSessionEnded
	default:
	}

	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}
