package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	retention       = 24 * time.Hour
)

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

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	// A player who runs out of slides gets the standings at that moment.
	s.eb.Subscribe(domain.EventNamePlayerFinished, func(ctx context.Context, e event.Event) error {
		err := s.publishLeaderboard(ctx, e.(domain.EventPlayerFinished).SessionID)
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil
		}
		return err
	})

	s.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return s.publishFinal(ctx, e.(domain.EventSessionEnded).SessionID)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the leaderboard of a game session, including all players and their scores.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	pipe := s.redis.Pipeline()
	namesCmd := pipe.HMGet(ctx, s.getNicknamesKey(req.SessionID), ids...)
	codeCmd := pipe.Get(ctx, s.getCodeKey(req.SessionID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get nicknames: %w", err)
	}

	names := namesCmd.Val()
	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		entry := domain.LeaderboardEntry{
			PlayerID: ids[i],
			Score:    z.Score,
		}
		if i < len(names) {
			if name, ok := names[i].(string); ok {
				entry.Nickname = name
			}
		}
		entries = append(entries, entry)
	}

	code, _ := codeCmd.Uint64()

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Code:      uint32(code),
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard overwrites the player's score in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, s.getLeaderboardKey(sc.SessionID), redis.Z{
		Score:  sc.TotalScore.InexactFloat64(),
		Member: sc.PlayerID,
	})
	if sc.Nickname != "" {
		pipe.HSet(ctx, s.getNicknamesKey(sc.SessionID), sc.PlayerID, sc.Nickname)
	}
	pipe.Set(ctx, s.getCodeKey(sc.SessionID), sc.Code, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, sc)
}

// schedulePublishLeaderboard publishes at most one leaderboard per interval
// and session, so a burst of answers produces a single update.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sc domain.Score) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(sc.SessionID), sc.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, sc.SessionID)
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

// publishFinal sends the last leaderboard of an ended session regardless of
// the throttle, then lets the keys expire.
func (s *Service) publishFinal(ctx context.Context, sessionID string) error {
	err := s.publishLeaderboard(ctx, sessionID)
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Expire(ctx, s.getLeaderboardKey(sessionID), retention)
	pipe.Expire(ctx, s.getNicknamesKey(sessionID), retention)
	pipe.Expire(ctx, s.getCodeKey(sessionID), retention)
	_, err = pipe.Exec(ctx)

	return err
}

func (s *Service) getLeaderboardKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, sessionID)
}

func (s *Service) getNicknamesKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:nicknames", s.prefix, sessionID)
}

func (s *Service) getCodeKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:code", s.prefix, sessionID)
}

func (s *Service) getLeaderboardTimeKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, sessionID)
}
