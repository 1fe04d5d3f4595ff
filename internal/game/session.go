package game

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/telemetry"
)

// Error replies sent to clients.
const (
	ErrMsgNotHost         = "Not the host"
	ErrMsgIncorrectSlide  = "Incorrect slide index"
	ErrMsgTimeRanOut      = "Time ran out"
	ErrMsgAlreadyFinished = "Player has already finished"
	ErrMsgNoActiveSlide   = "No current active slide"
	ErrMsgPlayerNotFound  = "Player not found"
	ErrMsgAlreadyStarted  = "Game has already started"
)

type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

type SessionConfig struct {
	// DeliveryTimeout bounds each per-recipient send. Zero blocks until the
	// recipient's queue has room.
	DeliveryTimeout time.Duration
	EventBus        Publisher
	Now             func() time.Time
}

// Session is the in-memory state of one running game. It is not safe for
// concurrent use; an Actor owns it exclusively.
type Session struct {
	sessionID string
	code      uint32
	active    bool
	started   bool
	host      Player
	players   map[string]*SessionPlayer
	template  domain.GameTemplate

	deliveryTimeout time.Duration
	events          Publisher
	now             func() time.Time
}

func NewSession(stored domain.StoredSession, c SessionConfig) *Session {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Session{
		sessionID:       stored.SessionID,
		code:            stored.Code,
		active:          true,
		host:            Player{ID: stored.Host},
		players:         make(map[string]*SessionPlayer),
		template:        stored.Template,
		deliveryTimeout: c.DeliveryTimeout,
		events:          c.EventBus,
		now:             c.Now,
	}
}

func (s *Session) ID() string     { return s.sessionID }
func (s *Session) Code() uint32   { return s.code }
func (s *Session) HostID() string { return s.host.ID }
func (s *Session) Active() bool   { return s.active }

func (s *Session) isHost(id string) bool {
	return id == s.host.ID
}

// Join registers p, either into the host slot or the roster.
//
// A rejoin carrying an outbox replaces the previous one and reconnects the
// player; a rejoin without one only refreshes the nickname. Finished players
// stay finished across reconnects.
func (s *Session) Join(ctx context.Context, p Player) {
	if s.isHost(p.ID) {
		if p.Outbox != nil && s.host.Outbox != p.Outbox {
			closeOutbox(s.host.Outbox)
		}
		if p.Outbox == nil {
			p.Outbox = s.host.Outbox
		}
		s.host = p
		s.unicast(ctx, HostJoinEvent{}, p.ID)
	} else if sp, ok := s.players[p.ID]; ok {
		sp.Player.Nickname = p.Nickname
		sp.Player.Registered = p.Registered
		if p.Outbox != nil {
			if sp.Player.Outbox != p.Outbox {
				closeOutbox(sp.Player.Outbox)
			}
			sp.Player.Outbox = p.Outbox
			sp.Status = StatusConnected
			if sp.Deck.Exhausted() {
				sp.Status = StatusFinished
			}
		}
	} else {
		sp := &SessionPlayer{
			Player: p,
			Status: StatusDisconnected,
			Deck:   NewDeck(s.template.SlideCount()),
		}
		if p.Outbox != nil {
			sp.Status = StatusConnected
		}
		s.players[p.ID] = sp
	}

	s.unicast(ctx, PlayersEvent{PlayerNames: s.nicknames()}, p.ID)
	// A registration without a connection is announced once it connects.
	if p.Outbox != nil {
		s.broadcastExcept(ctx, PlayerJoinEvent{PlayerName: p.Nickname}, p.ID)
	}

	// Players connecting after the game started pick up their first slide.
	if sp, ok := s.players[p.ID]; ok && s.started && sp.Status == StatusConnected && !sp.Deck.Started() {
		s.advance(ctx, sp)
	}
}

// Start shows every roster member its first slide.
func (s *Session) Start(ctx context.Context, requesterID string) {
	if !s.isHost(requesterID) {
		s.replyError(ctx, ErrMsgNotHost, requesterID)
		return
	}
	if s.started {
		s.replyError(ctx, ErrMsgAlreadyStarted, requesterID)
		return
	}

	s.started = true
	for _, id := range s.playerIDs() {
		s.advance(ctx, s.players[id])
	}

	slog.InfoContext(ctx, "game: session started",
		"code", s.code,
		"players", len(s.players),
	)
}

// Answer validates and records a submission for the player's current slide.
func (s *Session) Answer(ctx context.Context, playerID string, answer []int, submitTime time.Time, slideIndex int) {
	sp, ok := s.players[playerID]
	if !ok {
		s.replyError(ctx, ErrMsgPlayerNotFound, playerID)
		return
	}

	switch sp.Status {
	case StatusDisconnected:
		return
	case StatusFinished:
		s.replyError(ctx, ErrMsgAlreadyFinished, playerID)
		return
	}

	current, ok := sp.Deck.Current()
	if !ok {
		s.replyError(ctx, ErrMsgNoActiveSlide, playerID)
		return
	}
	if current.Index != slideIndex {
		s.replyError(ctx, ErrMsgIncorrectSlide, playerID)
		return
	}

	slide := s.template.Slides[current.Index]
	elapsed := submitTime.Sub(current.ActivatedAt)
	if int64(elapsed/time.Second) >= int64(slide.Duration) {
		s.replyError(ctx, ErrMsgTimeRanOut, playerID)
		return
	}

	pa := domain.PlayerAnswer{
		PlayerID:       playerID,
		SlideIndex:     current.Index,
		SlideStartTime: current.ActivatedAt,
		Answer:         append([]int(nil), answer...),
		SubmitTime:     submitTime,
		Correct:        slide.IsCorrect(answer),
	}
	sp.Answers = append(sp.Answers, pa)

	s.unicast(ctx, AnswerResultEvent{
		Correct:        pa.Correct,
		CorrectAnswers: slide.CorrectAnswer,
	}, playerID)

	s.publish(ctx, domain.EventAnswerSubmitted{
		SessionID: s.sessionID,
		Code:      s.code,
		Nickname:  sp.Player.Nickname,
		Answer:    pa,
	})
}

// AdvanceSlide moves playerID to its next slide, replying to playerID.
func (s *Session) AdvanceSlide(ctx context.Context, playerID string) {
	s.advanceFor(ctx, playerID, playerID)
}

// Next is the host's advance trigger. An empty targetID advances every
// connected player.
func (s *Session) Next(ctx context.Context, requesterID, targetID string) {
	if !s.isHost(requesterID) {
		s.replyError(ctx, ErrMsgNotHost, requesterID)
		return
	}

	if targetID != "" {
		s.advanceFor(ctx, targetID, requesterID)
		return
	}

	for _, id := range s.playerIDs() {
		if sp := s.players[id]; sp.Status == StatusConnected {
			s.advance(ctx, sp)
		}
	}
}

func (s *Session) advanceFor(ctx context.Context, playerID, replyTo string) {
	sp, ok := s.players[playerID]
	if !ok {
		s.replyError(ctx, ErrMsgPlayerNotFound, replyTo)
		return
	}

	switch sp.Status {
	case StatusDisconnected:
		return
	case StatusFinished:
		s.replyError(ctx, ErrMsgAlreadyFinished, replyTo)
		return
	}

	s.advance(ctx, sp)
}

func (s *Session) advance(ctx context.Context, sp *SessionPlayer) {
	index, ok := sp.Deck.Advance(s.now())
	if ok {
		s.unicast(ctx, SlideEvent{
			Index: index,
			Slide: NewSlideView(s.template.Slides[index]),
		}, sp.Player.ID)
		return
	}

	sp.Status = StatusFinished
	s.unicast(ctx, FinishEvent{}, sp.Player.ID)
	s.publish(ctx, domain.EventPlayerFinished{
		SessionID: s.sessionID,
		Code:      s.code,
		PlayerID:  sp.Player.ID,
		Answers:   len(sp.Answers),
	})
}

// Leave marks playerID offline and drops its outbox. History is kept.
func (s *Session) Leave(playerID string) {
	if s.isHost(playerID) {
		s.host.Outbox = nil
		return
	}

	sp, ok := s.players[playerID]
	if !ok {
		return
	}

	sp.Status = StatusDisconnected
	sp.Player.Outbox = nil
}

// Disconnect is Leave for a connection that went away. It is a no-op when the
// player has since reconnected with another outbox.
func (s *Session) Disconnect(playerID string, outbox *Outbox) {
	current := s.host.Outbox
	if sp, ok := s.players[playerID]; ok {
		current = sp.Player.Outbox
	} else if !s.isHost(playerID) {
		return
	}

	if current == outbox {
		s.Leave(playerID)
	}
}

// Kick removes kickID from the roster for good.
func (s *Session) Kick(ctx context.Context, kickID, requesterID string) {
	if !s.isHost(requesterID) {
		s.replyError(ctx, ErrMsgNotHost, requesterID)
		return
	}

	sp, ok := s.players[kickID]
	if !ok {
		s.replyError(ctx, ErrMsgPlayerNotFound, requesterID)
		return
	}

	s.unicast(ctx, KickedEvent{}, kickID)
	closeOutbox(sp.Player.Outbox)
	delete(s.players, kickID)

	slog.InfoContext(ctx, "game: player kicked",
		"code", s.code,
		"player_id", kickID,
	)
}

// HostEnd ends the session if requesterID is the host and reports whether it
// did.
func (s *Session) HostEnd(ctx context.Context, requesterID string) bool {
	if !s.isHost(requesterID) {
		s.replyError(ctx, ErrMsgNotHost, requesterID)
		return false
	}

	s.End(ctx)
	return true
}

// End tells everyone the game is over and releases every connection.
func (s *Session) End(ctx context.Context) {
	if !s.active {
		return
	}

	s.active = false
	s.unicast(ctx, EndEvent{}, s.host.ID)
	s.broadcast(ctx, EndEvent{})

	closeOutbox(s.host.Outbox)
	s.host.Outbox = nil
	for _, sp := range s.players {
		closeOutbox(sp.Player.Outbox)
		sp.Player.Outbox = nil
		if sp.Status == StatusConnected {
			sp.Status = StatusDisconnected
		}
	}
}

// Player returns the roster entry for id.
func (s *Session) Player(id string) (*SessionPlayer, bool) {
	sp, ok := s.players[id]
	return sp, ok
}

// Roster summarizes every roster member, ordered by nickname.
func (s *Session) Roster() []PlayerSummary {
	out := make([]PlayerSummary, 0, len(s.players))
	for _, id := range s.playerIDs() {
		out = append(out, s.players[id].summary())
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

func (s *Session) nicknames() []string {
	names := make([]string, 0, len(s.players))
	for _, sp := range s.players {
		names = append(names, sp.Player.Nickname)
	}

	sort.Strings(names)
	return names
}

// playerIDs returns roster ids in a stable order.
func (s *Session) playerIDs() []string {
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids
}

func (s *Session) replyError(ctx context.Context, msg, playerID string) {
	s.unicast(ctx, ErrorEvent{Err: msg}, playerID)
}

func (s *Session) unicast(ctx context.Context, m Message, playerID string) {
	var outbox *Outbox
	if s.isHost(playerID) {
		outbox = s.host.Outbox
	} else if sp, ok := s.players[playerID]; ok {
		outbox = sp.Player.Outbox
	} else {
		return
	}

	data, ok := s.encode(ctx, m)
	if !ok {
		return
	}

	s.deliver(ctx, outbox, data, playerID)
}

// broadcastExcept sends m to the host and every roster member but exceptID.
func (s *Session) broadcastExcept(ctx context.Context, m Message, exceptID string) {
	data, ok := s.encode(ctx, m)
	if !ok {
		return
	}

	if !s.isHost(exceptID) {
		s.deliver(ctx, s.host.Outbox, data, s.host.ID)
	}
	for _, id := range s.playerIDs() {
		if id != exceptID {
			s.deliver(ctx, s.players[id].Player.Outbox, data, id)
		}
	}
}

// broadcast sends m to every roster member. The host is not included.
func (s *Session) broadcast(ctx context.Context, m Message) {
	data, ok := s.encode(ctx, m)
	if !ok {
		return
	}

	for _, id := range s.playerIDs() {
		s.deliver(ctx, s.players[id].Player.Outbox, data, id)
	}
}

func (s *Session) encode(ctx context.Context, m Message) ([]byte, bool) {
	data, err := Encode(m)
	if err != nil {
		slog.ErrorContext(ctx, "game: encode message failed",
			"method", m.Method(),
			"error", err,
		)
		return nil, false
	}

	return data, true
}

func (s *Session) deliver(ctx context.Context, outbox *Outbox, data []byte, playerID string) {
	if outbox == nil {
		telemetry.Deliveries.WithLabelValues(telemetry.DeliveryOffline).Inc()
		return
	}

	if s.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deliveryTimeout)
		defer cancel()
	}

	if err := outbox.Deliver(ctx, data); err != nil {
		result := telemetry.DeliveryTimeout
		if err == errOutboxClosed {
			result = telemetry.DeliveryClosed
		}
		telemetry.Deliveries.WithLabelValues(result).Inc()
		slog.WarnContext(ctx, "game: message dropped",
			"code", s.code,
			"player_id", playerID,
			"error", err,
		)
		return
	}

	telemetry.Deliveries.WithLabelValues(telemetry.DeliveryOK).Inc()
}

func (s *Session) publish(ctx context.Context, e event.Event) {
	if s.events != nil {
		s.events.Publish(ctx, e)
	}
}

func closeOutbox(o *Outbox) {
	if o != nil {
		o.Close()
	}
}
