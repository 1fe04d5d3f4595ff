// Package lobby owns the registry of running games, keyed by join code.
package lobby

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/game"
)

const (
	defaultQueueSize = 32
	storeTimeout     = 5 * time.Second
)

var ErrStopped = errors.New(errors.CodeUnavailable, errors.WithMessagef("lobby is stopped"))

// Store supplies the persisted session a game is hosted from.
type Store interface {
	FetchSession(ctx context.Context, sessionID string) (*domain.StoredSession, error)
	EndSession(ctx context.Context, sessionID string) error
}

type Config struct {
	Store    Store
	EventBus game.Publisher

	QueueSize        int
	SessionQueueSize int
	DeliveryTimeout  time.Duration
	IdleTimeout      time.Duration
}

type message interface {
	isLobbyMsg()
}

type hostMsg struct {
	sessionID string
	reply     chan hostReply
}

type hostReply struct {
	code uint32
	err  error
}

type joinMsg struct {
	code   uint32
	player game.Player
	reply  chan joinReply
}

type joinReply struct {
	handle game.Handle
	found  bool
}

type removeMsg struct {
	sessionID string
	code      uint32
	final     bool
}

type countMsg struct{ reply chan int }

func (hostMsg) isLobbyMsg()   {}
func (joinMsg) isLobbyMsg()   {}
func (removeMsg) isLobbyMsg() {}
func (countMsg) isLobbyMsg()  {}

type lobby struct {
	cfg       Config
	inbox     chan message
	done      chan struct{}
	games     map[uint32]registered
	bySession map[string]uint32
}

type registered struct {
	sessionID string
	handle    game.Handle
}

// New starts the lobby actor. It stops, together with every game it spawned,
// when ctx is done.
func New(ctx context.Context, c Config) Handle {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	l := &lobby{
		cfg:       c,
		inbox:     make(chan message, c.QueueSize),
		done:      make(chan struct{}),
		games:     make(map[uint32]registered),
		bySession: make(map[string]uint32),
	}

	go l.run(ctx)

	return Handle{inbox: l.inbox, done: l.done}
}

func (l *lobby) run(ctx context.Context) {
	defer close(l.done)

	slog.InfoContext(ctx, "lobby: started")

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "lobby: stopped", "games", len(l.games))
			return
		case m := <-l.inbox:
			l.handle(ctx, m)
		}
	}
}

func (l *lobby) handle(ctx context.Context, m message) {
	switch m := m.(type) {
	case hostMsg:
		code, err := l.host(ctx, m.sessionID)
		m.reply <- hostReply{code: code, err: err}
	case joinMsg:
		m.reply <- l.join(ctx, m.code, m.player)
	case removeMsg:
		l.remove(ctx, m)
	case countMsg:
		m.reply <- len(l.games)
	}
}

func (l *lobby) host(ctx context.Context, sessionID string) (uint32, error) {
	if code, ok := l.bySession[sessionID]; ok {
		return code, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	stored, err := l.cfg.Store.FetchSession(fetchCtx, sessionID)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return 0, err
		}
		return 0, errors.New(errors.CodeUnavailable, errors.WithMessagef("fetch session"), errors.WithCause(err))
	}

	if !stored.Active {
		return 0, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session %s has ended", sessionID))
	}

	if other, ok := l.games[stored.Code]; ok {
		return 0, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("join code %d is used by session %s", stored.Code, other.sessionID))
	}

	s := game.NewSession(*stored, game.SessionConfig{
		DeliveryTimeout: l.cfg.DeliveryTimeout,
		EventBus:        l.cfg.EventBus,
	})

	h := game.Spawn(ctx, s, game.ActorConfig{
		QueueSize:   l.cfg.SessionQueueSize,
		IdleTimeout: l.cfg.IdleTimeout,
		OnEnd:       l.notifyEnded,
	})

	l.games[stored.Code] = registered{sessionID: stored.SessionID, handle: h}
	l.bySession[stored.SessionID] = stored.Code

	slog.InfoContext(ctx, "lobby: session hosted",
		"session_id", stored.SessionID,
		"code", stored.Code,
		"host", stored.Host,
	)

	return stored.Code, nil
}

// join waits for the session to apply the join so the caller observes it
// before its next command.
func (l *lobby) join(ctx context.Context, code uint32, p game.Player) joinReply {
	g, ok := l.games[code]
	if !ok {
		return joinReply{}
	}

	if err := g.handle.Join(ctx, p); err != nil {
		slog.WarnContext(ctx, "lobby: join failed",
			"code", code,
			"player_id", p.ID,
			"error", err,
		)
		return joinReply{}
	}

	return joinReply{handle: g.handle, found: true}
}

// notifyEnded runs on the session actor's goroutine after it stopped.
func (l *lobby) notifyEnded(sessionID string, code uint32, final bool) {
	select {
	case l.inbox <- removeMsg{sessionID: sessionID, code: code, final: final}:
	case <-l.done:
	}
}

func (l *lobby) remove(ctx context.Context, m removeMsg) {
	if g, ok := l.games[m.code]; ok && g.sessionID == m.sessionID {
		delete(l.games, m.code)
		delete(l.bySession, m.sessionID)
	}

	if !m.final {
		return
	}

	endCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := l.cfg.Store.EndSession(endCtx, m.sessionID); err != nil {
		slog.ErrorContext(ctx, "lobby: end stored session failed",
			"session_id", m.sessionID,
			"error", err,
		)
	}
}

// Handle is a copyable reference to the lobby actor, safe for concurrent use.
type Handle struct {
	inbox chan<- message
	done  <-chan struct{}
}

// Host loads sessionID from the store and starts its game. Hosting an
// already running session returns its join code.
func (h Handle) Host(ctx context.Context, sessionID string) (uint32, error) {
	reply := make(chan hostReply, 1)
	if err := h.send(ctx, hostMsg{sessionID: sessionID, reply: reply}); err != nil {
		return 0, err
	}

	select {
	case r := <-reply:
		return r.code, r.err
	case <-h.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Join adds p to the game running under code. The second result is false
// when no such game exists.
func (h Handle) Join(ctx context.Context, code uint32, p game.Player) (game.Handle, bool, error) {
	reply := make(chan joinReply, 1)
	if err := h.send(ctx, joinMsg{code: code, player: p, reply: reply}); err != nil {
		return game.Handle{}, false, err
	}

	select {
	case r := <-reply:
		return r.handle, r.found, nil
	case <-h.done:
		return game.Handle{}, false, ErrStopped
	case <-ctx.Done():
		return game.Handle{}, false, ctx.Err()
	}
}

// Games returns the number of running games.
func (h Handle) Games(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, countMsg{reply: reply}); err != nil {
		return 0, err
	}

	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done is closed when the lobby has stopped.
func (h Handle) Done() <-chan struct{} {
	return h.done
}

func (h Handle) send(ctx context.Context, m message) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
