package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/session"
)

func validTemplate() domain.GameTemplate {
	text := "Capital of France?"
	return domain.GameTemplate{
		Name: "capitals",
		Slides: []domain.Slide{
			{
				Duration:      10,
				Text:          &text,
				Answers:       []domain.Answer{{Index: 0, Text: "Paris"}, {Index: 1, Text: "Lyon"}},
				CorrectAnswer: []int{0},
			},
		},
	}
}

func TestService_CreateAndFetchSession(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	created, err := s.CreateSession(ctx, session.CreateSessionRequest{
		Host:     "host-1",
		Template: validTemplate(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)
	require.True(t, created.Active)
	require.GreaterOrEqual(t, created.Code, uint32(100000))
	require.LessOrEqual(t, created.Code, uint32(999999))

	fetched, err := s.FetchSession(ctx, created.SessionID)
	require.NoError(t, err)
	require.Equal(t, created, fetched)
}

func TestService_CreateSession(t *testing.T) {
	tests := map[string]struct {
		req    session.CreateSessionRequest
		assert func(t *testing.T, ss *domain.StoredSession, err error)
	}{
		"missing host": {
			req: session.CreateSessionRequest{Template: validTemplate()},
			assert: func(t *testing.T, _ *domain.StoredSession, err error) {
				require.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
			},
		},
		"invalid template lists every violation": {
			req: session.CreateSessionRequest{
				Host:     "host-1",
				Template: domain.GameTemplate{},
			},
			assert: func(t *testing.T, _ *domain.StoredSession, err error) {
				e := errors.Convert(err)
				require.Equal(t, errors.CodeInvalidArgument, e.Code)
				require.Len(t, e.Details, 2, "name and slides")
			},
		},
		"valid request": {
			req: session.CreateSessionRequest{Host: "host-1", Template: validTemplate()},
			assert: func(t *testing.T, ss *domain.StoredSession, err error) {
				require.NoError(t, err)
				require.Equal(t, "host-1", ss.Host)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := makeService(t)
			ss, err := s.CreateSession(context.Background(), tc.req)
			tc.assert(t, ss, err)
		})
	}
}

func TestService_CreateSession_RetriesTakenCode(t *testing.T) {
	ctx := context.Background()
	codes := []uint32{123456, 123456, 654321}
	s := makeService(t, withCodes(codes...))

	first, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h1", Template: validTemplate()})
	require.NoError(t, err)
	require.Equal(t, uint32(123456), first.Code)

	second, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h2", Template: validTemplate()})
	require.NoError(t, err)
	require.Equal(t, uint32(654321), second.Code)
}

func TestService_CreateSession_ReusesCodeOfEndedSession(t *testing.T) {
	ctx := context.Background()
	s := makeService(t, withCodes(123456, 123456))

	first, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h1", Template: validTemplate()})
	require.NoError(t, err)
	require.NoError(t, s.EndSession(ctx, first.SessionID))

	second, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h2", Template: validTemplate()})
	require.NoError(t, err)
	require.Equal(t, first.Code, second.Code)
}

func TestService_CreateSession_GivesUp(t *testing.T) {
	ctx := context.Background()
	codes := make([]uint32, 11)
	for i := range codes {
		codes[i] = 111111
	}
	s := makeService(t, withCodes(codes...))

	_, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h1", Template: validTemplate()})
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, session.CreateSessionRequest{Host: "h2", Template: validTemplate()})
	require.True(t, errors.HasCode(err, errors.CodeUnavailable), "got %v", err)
}

func TestService_FetchSession_NotFound(t *testing.T) {
	s := makeService(t)

	_, err := s.FetchSession(context.Background(), "missing")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_EndSession(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu    sync.Mutex
		ended []domain.EventSessionEnded
	)
	eb.Subscribe(domain.EventNameSessionEnded, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, e.(domain.EventSessionEnded))
		return nil
	})

	s := makeService(t, withEventBus(eb))
	ss, err := s.CreateSession(ctx, session.CreateSessionRequest{Host: "h1", Template: validTemplate()})
	require.NoError(t, err)

	require.NoError(t, s.EndSession(ctx, ss.SessionID))
	require.NoError(t, s.EndSession(ctx, ss.SessionID), "ending twice is a no-op")

	fetched, err := s.FetchSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.False(t, fetched.Active)

	eb.Stop()
	require.Equal(t, []domain.EventSessionEnded{{SessionID: ss.SessionID, Code: ss.Code}}, ended)

	err = s.EndSession(ctx, "missing")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func makeService(t *testing.T, opts ...options) *session.Service {
	repo, err := session.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	c := session.Config{
		Repo:     repo,
		EventBus: event.NewBus(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}

	for _, opt := range opts {
		opt(&c)
	}

	return session.NewService(c)
}

type options func(c *session.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *session.Config) {
		c.EventBus = eb
	}
}

// withCodes hands out codes in order.
func withCodes(codes ...uint32) options {
	return func(c *session.Config) {
		var mu sync.Mutex
		c.NewCode = func() (uint32, error) {
			mu.Lock()
			defer mu.Unlock()
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}
	}
}
