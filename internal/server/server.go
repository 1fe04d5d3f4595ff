package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/gudritis/internal/api"
	"github.com/victornm/gudritis/internal/event"
	"github.com/victornm/gudritis/internal/identity"
	"github.com/victornm/gudritis/internal/leaderboard"
	"github.com/victornm/gudritis/internal/lobby"
	"github.com/victornm/gudritis/internal/score"
	"github.com/victornm/gudritis/internal/session"
	"github.com/victornm/gudritis/internal/telemetry"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port           int32
		OriginPatterns []string
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Identity    RedisConfig
		Score       RedisConfig
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Store struct {
		// Driver is either "sqlite" or "postgres".
		Driver string

		Postgres struct {
			Addr string
			User string
			Pass string
			Name string
		}

		SQLite struct {
			Path string
		}
	}

	Game struct {
		LobbyQueue      int
		SessionQueue    int
		OutboxSize      int
		DeliveryTimeout time.Duration
		IdleTimeout     time.Duration
	}

	Identity struct {
		Cookie     string
		JWTSecret  string
		AllowGuest bool
	}
}

// DefaultConfig returns a config that runs against a local redis and an
// on-disk sqlite store.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090

	local := []string{"localhost:6379"}
	c.Redis.Identity = RedisConfig{Addrs: local, Prefix: "gudritis:identity"}
	c.Redis.Score = RedisConfig{Addrs: local, Prefix: "gudritis:score"}
	c.Redis.Leaderboard = RedisConfig{Addrs: local, Prefix: "gudritis:leaderboard"}
	c.Redis.Pubsub = RedisConfig{Addrs: local, Prefix: "gudritis:pubsub"}

	c.Store.Driver = StoreDriverSQLite
	c.Store.SQLite.Path = "gudritis.db"

	c.Game.LobbyQueue = 32
	c.Game.SessionQueue = 8
	c.Game.OutboxSize = 16
	c.Game.DeliveryTimeout = 2 * time.Second
	c.Game.IdleTimeout = 2 * time.Hour

	c.Identity.Cookie = "session"
	c.Identity.AllowGuest = true
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			identity    redis.UniversalClient
			score       redis.UniversalClient
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		sqlite   *session.SQLiteRepository
		repo     session.Repository
	}

	service struct {
		session     *session.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		identity    identity.Resolver
	}

	lobby       lobby.Handle
	cancelLobby context.CancelFunc

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initLobby()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.identity, err = connect("identity", s.c.Redis.Identity)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	s.infra.redis.score, err = connect("score", s.c.Redis.Score)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	switch s.c.Store.Driver {
	case StoreDriverPostgres:
		return s.initPostgres()
	case StoreDriverSQLite, "":
		repo, err := session.OpenSQLite(s.c.Store.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		s.infra.sqlite = repo
		s.infra.repo = repo
		return nil
	default:
		return fmt.Errorf("unknown driver %q", s.c.Store.Driver)
	}
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := s.c.Store.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	repo := session.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	s.infra.postgres = db
	s.infra.repo = repo
	return nil
}

func (s *Server) initService() {
	s.service.session = session.NewService(session.Config{
		Repo:     s.infra.repo,
		EventBus: s.eb,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.score,
		Prefix:   s.c.Redis.Score.Prefix,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	var resolvers []identity.Resolver
	if s.c.Identity.JWTSecret != "" {
		resolvers = append(resolvers, identity.NewJWTResolver(s.c.Identity.JWTSecret, s.c.Identity.Cookie))
	}
	resolvers = append(resolvers, identity.NewRedisResolver(s.infra.redis.identity, s.c.Identity.Cookie, s.c.Redis.Identity.Prefix))

	s.service.identity = identity.Chain{
		Resolvers:  resolvers,
		AllowGuest: s.c.Identity.AllowGuest,
	}
}

func (s *Server) initLobby() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLobby = cancel

	s.lobby = lobby.New(ctx, lobby.Config{
		Store:            s.service.session,
		EventBus:         s.eb,
		QueueSize:        s.c.Game.LobbyQueue,
		SessionQueueSize: s.c.Game.SessionQueue,
		DeliveryTimeout:  s.c.Game.DeliveryTimeout,
		IdleTimeout:      s.c.Game.IdleTimeout,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), api.LogRequests())

	api.New(api.Config{
		Router:         e,
		EventBus:       s.eb,
		Lobby:          s.lobby,
		Session:        s.service.session,
		Score:          s.service.score,
		Leaderboard:    s.service.leaderboard,
		Identity:       s.service.identity,
		Redis:          s.infra.redis.pubsub,
		PubsubPrefix:   s.c.Redis.Pubsub.Prefix,
		OutboxSize:     s.c.Game.OutboxSize,
		OriginPatterns: s.c.HTTP.OriginPatterns,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// Shutdown stops accepting traffic, ends every running game and then
// releases the infrastructure clients.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.cancelLobby()
	select {
	case <-s.lobby.Done():
	case <-ctx.Done():
		slog.WarnContext(ctx, "server: lobby did not stop in time")
	}

	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"identity":    s.infra.redis.identity,
		"score":       s.infra.redis.score,
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if s.infra.sqlite != nil {
		if err := s.infra.sqlite.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close sqlite failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
