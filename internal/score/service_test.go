package score_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/score"
)

func answer(player string, slide int, correct bool) domain.EventAnswerSubmitted {
	return answerIn("s1", player, slide, correct)
}

func answerIn(sessionID, player string, slide int, correct bool) domain.EventAnswerSubmitted {
	return domain.EventAnswerSubmitted{
		SessionID: sessionID,
		Code:      111111,
		Nickname:  "nick-" + player,
		Answer: domain.PlayerAnswer{
			PlayerID:   player,
			SlideIndex: slide,
			Correct:    correct,
			SubmitTime: time.Unix(1_700_000_000, 0),
		},
	}
}

func TestService_SubmitAnswer(t *testing.T) {
	tests := map[string]struct {
		answers   []domain.EventAnswerSubmitted
		wantTotal decimal.Decimal
		wantErr   errors.Code
	}{
		"correct answer is worth a point": {
			answers:   []domain.EventAnswerSubmitted{answer("p1", 0, true)},
			wantTotal: decimal.NewFromInt(1),
		},
		"wrong answer keeps the total": {
			answers:   []domain.EventAnswerSubmitted{answer("p1", 0, true), answer("p1", 1, false)},
			wantTotal: decimal.NewFromInt(1),
		},
		"totals accumulate": {
			answers:   []domain.EventAnswerSubmitted{answer("p1", 0, true), answer("p1", 1, true)},
			wantTotal: decimal.NewFromInt(2),
		},
		"same slide is only scored once": {
			answers: []domain.EventAnswerSubmitted{answer("p1", 0, true), answer("p1", 0, true)},
			wantErr: errors.CodeAlreadyExists,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeService(t)

			var (
				resp *score.SubmitAnswerResponse
				err  error
			)
			for _, a := range tc.answers {
				resp, err = s.SubmitAnswer(context.Background(), a)
			}

			if tc.wantErr != 0 {
				require.True(t, errors.HasCode(err, tc.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.True(t, tc.wantTotal.Equal(resp.TotalScore), "want %s, got %s", tc.wantTotal, resp.TotalScore)
		})
	}
}

func TestService_PublishesScoreUpdated(t *testing.T) {
	eb := event.NewBus()

	var (
		mu      sync.Mutex
		updates []domain.EventScoreUpdated
	)
	eb.Subscribe(domain.EventNameScoreUpdated, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, e.(domain.EventScoreUpdated))
		return nil
	})

	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), answer("p1", 0, true))
	eb.Stop()

	require.Len(t, updates, 1)
	got := updates[0].Score
	require.Equal(t, "s1", got.SessionID)
	require.Equal(t, uint32(111111), got.Code)
	require.Equal(t, "p1", got.PlayerID)
	require.Equal(t, "nick-p1", got.Nickname)
	require.True(t, got.TotalScore.Equal(decimal.NewFromInt(1)))

	scores, err := s.ListScores(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, scores, 1)
}

func TestService_SessionEndedExpiresScores(t *testing.T) {
	eb := event.NewBus()
	s, rs := makeService(t, withEventBus(eb))
	ctx := context.Background()

	_, err := s.SubmitAnswer(ctx, answer("p1", 0, true))
	require.NoError(t, err)

	eb.Publish(ctx, domain.EventSessionEnded{SessionID: "s1", Code: 111111})
	eb.Stop()

	require.Greater(t, rs.TTL("score:s1:scores"), time.Duration(0))
	require.Greater(t, rs.TTL("score:s1:answers"), time.Duration(0))

	rs.FastForward(25 * time.Hour)
	scores, err := s.ListScores(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, scores)
}

func TestService_ReusedCodeStartsFromZero(t *testing.T) {
	eb := event.NewBus()
	s, rs := makeService(t, withEventBus(eb))
	ctx := context.Background()

	_, err := s.SubmitAnswer(ctx, answerIn("s1", "p1", 0, true))
	require.NoError(t, err)
	_, err = s.SubmitAnswer(ctx, answerIn("s1", "p1", 1, true))
	require.NoError(t, err)

	eb.Publish(ctx, domain.EventSessionEnded{SessionID: "s1", Code: 111111})
	eb.Stop()

	// s2 drew the join code s1 released.
	resp, err := s.SubmitAnswer(ctx, answerIn("s2", "p1", 0, true))
	require.NoError(t, err)
	require.True(t, resp.TotalScore.Equal(decimal.NewFromInt(1)), "got %s", resp.TotalScore)

	scores, err := s.ListScores(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	require.True(t, scores[0].TotalScore.Equal(decimal.NewFromInt(1)))

	require.Equal(t, time.Duration(0), rs.TTL("score:s2:scores"), "a live session must not inherit the ended one's expiry")
}

func TestService_DuplicateDoesNotChangeTotal(t *testing.T) {
	s, rs := makeService(t)
	ctx := context.Background()

	_, err := s.SubmitAnswer(ctx, answer("p1", 0, true))
	require.NoError(t, err)
	_, err = s.SubmitAnswer(ctx, answer("p1", 0, true))
	require.True(t, errors.HasCode(err, errors.CodeAlreadyExists), "got %v", err)

	total, err := decimal.NewFromString(rs.HGet("score:s1:scores", "p1"))
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(1)), "got %s", total)
	members, err := rs.Members("score:s1:answers")
	require.NoError(t, err)
	require.Equal(t, []string{"p1:0"}, members)
}

func makeService(t *testing.T, opts ...options) (*score.Service, *miniredis.Miniredis) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})

	c := score.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "score",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return score.NewService(c), rs
}

type options func(c *score.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *score.Config) {
		c.EventBus = eb
	}
}
