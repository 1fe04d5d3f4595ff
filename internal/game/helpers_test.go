package game_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/game"
)

const (
	hostID  = "host"
	codeNum = uint32(654321)
)

type frame struct {
	Method         string   `json:"method"`
	Err            string   `json:"err"`
	Index          int      `json:"index"`
	Correct        bool     `json:"correct"`
	CorrectAnswers []int    `json:"correct_answers"`
	PlayerNames    []string `json:"player_names"`
	PlayerName     string   `json:"player_name"`
}

// recvFrame waits for the next message so tests never hang.
func recvFrame(t *testing.T, o *game.Outbox) frame {
	t.Helper()

	select {
	case data := <-o.Messages():
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return frame{}
	}
}

func recvMethod(t *testing.T, o *game.Outbox, method string) frame {
	t.Helper()

	f := recvFrame(t, o)
	require.Equal(t, method, f.Method, "unexpected message: %+v", f)
	return f
}

func requireNoFrame(t *testing.T, o *game.Outbox) {
	t.Helper()

	select {
	case data := <-o.Messages():
		t.Fatalf("expected no message, got %s", data)
	default:
	}
}

// drain discards every queued message.
func drain(o *game.Outbox) {
	for {
		select {
		case <-o.Messages():
		default:
			return
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]event.Event(nil), r.events...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func quizTemplate() domain.GameTemplate {
	return domain.GameTemplate{
		Name: "capitals",
		Slides: []domain.Slide{
			{
				Duration: 10,
				Answers: []domain.Answer{
					{Index: 0, Text: "Paris"},
					{Index: 1, Text: "Lyon"},
				},
				CorrectAnswer: []int{0},
			},
			{
				Duration:         5,
				IsMultipleAnswer: true,
				Answers: []domain.Answer{
					{Index: 0, Text: "Hanoi"},
					{Index: 1, Text: "Oslo"},
					{Index: 2, Text: "Lima"},
					{Index: 3, Text: "Rome"},
				},
				CorrectAnswer: []int{0, 3},
			},
		},
	}
}

func storedSession(tpl domain.GameTemplate) domain.StoredSession {
	return domain.StoredSession{
		SessionID: "s1",
		Code:      codeNum,
		Active:    true,
		Host:      hostID,
		Template:  tpl,
	}
}

type fixture struct {
	session *game.Session
	clock   *clock
	events  *recorder
}

func newFixture(tpl domain.GameTemplate) *fixture {
	f := &fixture{
		clock:  &clock{now: time.Unix(1_700_000_000, 0)},
		events: &recorder{},
	}
	f.session = game.NewSession(storedSession(tpl), game.SessionConfig{
		DeliveryTimeout: 100 * time.Millisecond,
		EventBus:        f.events,
		Now:             f.clock.Now,
	})

	return f
}

// join connects a player with a fresh outbox and discards the join replies.
func (f *fixture) join(id, nickname string) *game.Outbox {
	o := game.NewOutbox(16)
	f.session.Join(context.Background(), game.NewPlayer(id, nickname, o))
	drain(o)

	return o
}
