// Package session persists the sessions games are hosted from.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
)

const (
	minCode        = 100000
	codeSpace      = 900000
	maxCodeRetries = 10
)

// Repository is the storage behind Service. InsertSession must fail with
// CodeAlreadyExists when the join code is taken by another active session.
type Repository interface {
	InsertSession(ctx context.Context, ss domain.StoredSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.StoredSession, error)
	// DeactivateSession reports whether the session was active before the call.
	DeactivateSession(ctx context.Context, sessionID string) (*domain.StoredSession, bool, error)
}

type Config struct {
	Repo     Repository
	EventBus *event.Bus
	// NewCode overrides join code generation.
	NewCode func() (uint32, error)
	Now     func() time.Time
}

type Service struct {
	repo    Repository
	eb      *event.Bus
	newCode func() (uint32, error)
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		repo:    c.Repo,
		eb:      c.EventBus,
		newCode: c.NewCode,
		now:     c.Now,
	}

	if s.newCode == nil {
		s.newCode = randomCode
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// CreateSessionRequest represents a request to create a new game session.
type CreateSessionRequest struct {
	// Host is the player id allowed to run the game.
	Host     string
	Template domain.GameTemplate
}

// CreateSession validates the template and stores an active session under a
// fresh join code.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.StoredSession, error) {
	if req.Host == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host is required"))
	}

	if violations := req.Template.Validate(); len(violations) > 0 {
		details := make([]any, 0, len(violations))
		for _, v := range violations {
			details = append(details, v)
		}
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid template"),
			errors.WithDetails(details...),
		)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := domain.StoredSession{
		SessionID:  id.String(),
		Active:     true,
		Host:       req.Host,
		Template:   req.Template,
		CreateTime: s.now().UTC().Truncate(time.Millisecond),
	}

	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w", err)
		}
		ss.Code = code

		err = s.repo.InsertSession(ctx, ss)
		if err == nil {
			slog.InfoContext(ctx, "session: created",
				"session_id", ss.SessionID,
				"code", ss.Code,
				"host", ss.Host,
			)
			return &ss, nil
		}

		if !errors.HasCode(err, errors.CodeAlreadyExists) {
			return nil, fmt.Errorf("insert session: %w", err)
		}
	}

	return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("no free join code after %d attempts", maxCodeRetries))
}

// FetchSession returns the stored session, or CodeNotFound.
func (s *Service) FetchSession(ctx context.Context, sessionID string) (*domain.StoredSession, error) {
	return s.repo.GetSession(ctx, sessionID)
}

// EndSession marks the session inactive so it cannot be hosted again.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	ss, wasActive, err := s.repo.DeactivateSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if wasActive && s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionEnded{
			SessionID: ss.SessionID,
			Code:      ss.Code,
		})
	}

	return nil
}

func randomCode() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return 0, err
	}

	return uint32(n.Int64() + minCode), nil
}
