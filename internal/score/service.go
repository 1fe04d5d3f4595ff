package score

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
)

const retention = 24 * time.Hour

// PointsPerCorrectAnswer is what one correct answer adds to a player's total.
var PointsPerCorrectAnswer = decimal.NewFromInt(1)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAnswerSubmitted, func(ctx context.Context, e event.Event) error {
		_, err := s.SubmitAnswer(ctx, e.(domain.EventAnswerSubmitted))
		if errors.HasCode(err, errors.CodeAlreadyExists) {
			return nil
		}
		return err
	})

	s.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return s.Expire(ctx, e.(domain.EventSessionEnded).SessionID)
	})

	return s
}

type SubmitAnswerResponse struct {
	Score      decimal.Decimal
	TotalScore decimal.Decimal
}

// SubmitAnswer adds the points of an accepted answer to the player's total
// and publishes the new total.
func (s *Service) SubmitAnswer(ctx context.Context, e domain.EventAnswerSubmitted) (*SubmitAnswerResponse, error) {
	score := decimal.Zero
	if e.Answer.Correct {
		score = PointsPerCorrectAnswer
	}

	total, err := s.insertScore(ctx, e, score)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		Score: domain.Score{
			SessionID:  e.SessionID,
			Code:       e.Code,
			PlayerID:   e.Answer.PlayerID,
			Nickname:   e.Nickname,
			TotalScore: total,
			UpdateTime: e.Answer.SubmitTime,
		},
	})

	return &SubmitAnswerResponse{
		Score:      score,
		TotalScore: total,
	}, nil
}

// scoreAnswer records ARGV[1] in the answers set KEYS[2] and, only when it
// was not there yet, adds ARGV[3] to field ARGV[2] of the totals hash KEYS[1].
// A duplicate returns nil.
var scoreAnswer = redis.NewScript(`
if redis.call("SADD", KEYS[2], ARGV[1]) == 0 then
	return false
end
return redis.call("HINCRBYFLOAT", KEYS[1], ARGV[2], ARGV[3])
`)

func (s *Service) insertScore(ctx context.Context, e domain.EventAnswerSubmitted, score decimal.Decimal) (decimal.Decimal, error) {
	answerKey := fmt.Sprintf("%s:%d", e.Answer.PlayerID, e.Answer.SlideIndex)
	keys := []string{s.scoresKey(e.SessionID), s.answersKey(e.SessionID)}

	raw, err := scoreAnswer.Run(ctx, s.redis, keys, answerKey, e.Answer.PlayerID, score.String()).Text()
	if err == redis.Nil {
		return decimal.Zero, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already scored: player=%s slide=%d", e.Answer.PlayerID, e.Answer.SlideIndex))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("score answer: %w", err)
	}

	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse total: %w", err)
	}

	return total, nil
}

// ListScores returns every player's total in a game session.
func (s *Service) ListScores(ctx context.Context, sessionID string) ([]domain.Score, error) {
	res, err := s.redis.HGetAll(ctx, s.scoresKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	scores := make([]domain.Score, 0, len(res))
	for playerID, raw := range res {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse score of %s: %w", playerID, err)
		}
		scores = append(scores, domain.Score{
			SessionID:  sessionID,
			PlayerID:   playerID,
			TotalScore: total,
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].PlayerID < scores[j].PlayerID })
	return scores, nil
}

// Expire keeps a finished session's scores around for a while, then drops them.
func (s *Service) Expire(ctx context.Context, sessionID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Expire(ctx, s.scoresKey(sessionID), retention)
	pipe.Expire(ctx, s.answersKey(sessionID), retention)
	_, err := pipe.Exec(ctx)

	return err
}

func (s *Service) scoresKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:scores", s.prefix, sessionID)
}

func (s *Service) answersKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:answers", s.prefix, sessionID)
}
