package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/identity"
	"github.com/victornm/gudritis/internal/leaderboard"
	"github.com/victornm/gudritis/internal/lobby"
	"github.com/victornm/gudritis/internal/score"
	"github.com/victornm/gudritis/internal/session"
)

const defaultOutboxSize = 16

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Lobby        lobby.Handle
	Session      *session.Service
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Identity     identity.Resolver
	Redis        Redis
	PubsubPrefix string

	// OutboxSize is the per-connection outbound queue length.
	OutboxSize     int
	OriginPatterns []string
	Now            func() time.Time
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	lobby lobby.Handle
	qss   *session.Service
	ss    *score.Service
	ls    *leaderboard.Service
	ids   identity.Resolver

	redis  Redis
	prefix string

	outboxSize     int
	originPatterns []string
	now            func() time.Time
}

func New(c Config) *API {
	a := &API{
		lobby:          c.Lobby,
		qss:            c.Session,
		ss:             c.Score,
		ls:             c.Leaderboard,
		ids:            c.Identity,
		redis:          c.Redis,
		prefix:         c.PubsubPrefix,
		outboxSize:     c.OutboxSize,
		originPatterns: c.OriginPatterns,
		now:            c.Now,
	}

	if a.outboxSize <= 0 {
		a.outboxSize = defaultOutboxSize
	}
	if a.now == nil {
		a.now = time.Now
	}

	// HTTP APIs
	c.Router.POST("/sessions", a.CreateSession)
	c.Router.POST("/sessions/:id/host", a.HostSession)
	c.Router.GET("/sessions/:id/leaderboard", a.GetLeaderboard)
	c.Router.GET("/sessions/:id/scores", a.ListScores)
	c.Router.GET("/ws", a.ServeWS)

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	Code       uint32    `json:"code"`
	Active     bool      `json:"active"`
	Host       string    `json:"host"`
	Slides     int       `json:"slides"`
	CreateTime time.Time `json:"create_time"`
}

// CreateSession stores a new session from the template in the body. The
// caller becomes its host.
func (a *API) CreateSession(c *gin.Context) {
	id, err := a.registered(c.Request)
	if err != nil {
		renderError(c, err)
		return
	}

	var tpl domain.GameTemplate
	if err := c.ShouldBindJSON(&tpl); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid template body"), errors.WithCause(err)))
		return
	}

	ss, err := a.qss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		Host:     id.UserID,
		Template: tpl,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse{
		SessionID:  ss.SessionID,
		Code:       ss.Code,
		Active:     ss.Active,
		Host:       ss.Host,
		Slides:     ss.Template.SlideCount(),
		CreateTime: ss.CreateTime,
	})
}

// HostSession starts the game of a stored session and returns its join code.
func (a *API) HostSession(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := a.registered(c.Request)
	if err != nil {
		renderError(c, err)
		return
	}

	ss, err := a.qss.FetchSession(ctx, c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	if ss.Host != id.UserID {
		renderError(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("only the host can start this session")))
		return
	}

	code, err := a.lobby.Host(ctx, ss.SessionID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code})
}

// GetLeaderboard returns the ranked players of a session.
func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

type scoreResponse struct {
	PlayerID   string `json:"player_id"`
	TotalScore string `json:"total_score"`
}

// ListScores returns every player's running total in a session, including
// players the leaderboard has not caught up with yet.
func (a *API) ListScores(c *gin.Context) {
	scores, err := a.ss.ListScores(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	out := make([]scoreResponse, 0, len(scores))
	for _, sc := range scores {
		out = append(out, scoreResponse{
			PlayerID:   sc.PlayerID,
			TotalScore: sc.TotalScore.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"scores": out})
}

func (a *API) registered(r *http.Request) (identity.Identity, error) {
	id, err := a.ids.Resolve(r)
	if err != nil {
		return identity.Identity{}, err
	}

	if !id.Registered {
		return identity.Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("login required"))
	}

	return id, nil
}

func parseCode(s string) (uint32, error) {
	code, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid game code %q", s))
	}

	return uint32(code), nil
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
