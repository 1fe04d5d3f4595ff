package game_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/game"
)

type ended struct {
	sessionID string
	code      uint32
	final     bool
}

func spawn(t *testing.T, ctx context.Context, tpl domain.GameTemplate, idle time.Duration) (game.Handle, *clock, <-chan ended) {
	t.Helper()

	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s := game.NewSession(storedSession(tpl), game.SessionConfig{
		DeliveryTimeout: 100 * time.Millisecond,
		Now:             c.Now,
	})

	endc := make(chan ended, 1)
	h := game.Spawn(ctx, s, game.ActorConfig{
		IdleTimeout: idle,
		OnEnd: func(sessionID string, code uint32, final bool) {
			endc <- ended{sessionID: sessionID, code: code, final: final}
		},
	})

	return h, c, endc
}

func waitDone(t *testing.T, h game.Handle) {
	t.Helper()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}
}

func TestActor_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tpl := quizTemplate()
	h, clk, _ := spawn(t, ctx, tpl, 0)

	host := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer(hostID, "quizmaster", host)))
	recvMethod(t, host, game.MethodHostJoin)
	recvMethod(t, host, game.MethodPlayers)

	player := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer("p1", "alice", player)))
	players := recvMethod(t, player, game.MethodPlayers)
	require.Equal(t, []string{"alice"}, players.PlayerNames)
	joined := recvMethod(t, host, game.MethodPlayerJoin)
	require.Equal(t, "alice", joined.PlayerName)

	require.NoError(t, h.Start(ctx, hostID))
	first := recvMethod(t, player, game.MethodSlide)

	clk.Add(time.Second)
	require.NoError(t, h.Answer(ctx, "p1", tpl.Slides[first.Index].CorrectAnswer, clk.Now(), first.Index))
	result := recvMethod(t, player, game.MethodAnswerResult)
	require.True(t, result.Correct)

	require.NoError(t, h.Next(ctx, hostID, ""))
	second := recvMethod(t, player, game.MethodSlide)
	require.NotEqual(t, first.Index, second.Index)

	clk.Add(tpl.Slides[second.Index].TimeLimit() + time.Second)
	require.NoError(t, h.Answer(ctx, "p1", tpl.Slides[second.Index].CorrectAnswer, clk.Now(), second.Index))
	e := recvMethod(t, player, game.MethodError)
	require.Equal(t, game.ErrMsgTimeRanOut, e.Err)

	roster, err := h.Roster(ctx)
	require.NoError(t, err)
	require.Equal(t, []game.PlayerSummary{
		{ID: "p1", Nickname: "alice", Status: "connected", Answers: 1, Correct: 1, Remaining: 0},
	}, roster)
}

func TestActor_HostEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, _, endc := spawn(t, ctx, quizTemplate(), 0)

	host := game.NewOutbox(8)
	player := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer(hostID, "quizmaster", host)))
	require.NoError(t, h.Join(ctx, game.NewPlayer("p1", "alice", player)))
	drain(host)
	drain(player)

	require.NoError(t, h.End(ctx, "p1"), "non host end is only an error reply")
	recvMethod(t, player, game.MethodError)

	require.NoError(t, h.End(ctx, hostID))
	waitDone(t, h)

	recvMethod(t, host, game.MethodEnd)
	recvMethod(t, player, game.MethodEnd)
	require.Equal(t, ended{sessionID: "s1", code: codeNum, final: true}, <-endc)

	require.ErrorIs(t, h.Start(ctx, hostID), game.ErrSessionEnded)
	require.ErrorIs(t, h.Join(ctx, game.NewPlayer("p2", "bob", nil)), game.ErrSessionEnded)
	_, err := h.Roster(ctx)
	require.ErrorIs(t, err, game.ErrSessionEnded)
}

func TestActor_IdleTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, _, endc := spawn(t, ctx, quizTemplate(), 20*time.Millisecond)
	player := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer("p1", "alice", player)))

	waitDone(t, h)
	require.True(t, (<-endc).final)
	recvMethod(t, player, game.MethodPlayers)
	recvMethod(t, player, game.MethodEnd)
}

func TestActor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, _, endc := spawn(t, ctx, quizTemplate(), 0)

	cancel()

	waitDone(t, h)
	require.False(t, (<-endc).final)
}

func TestActor_ConcurrentJoins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, _, _ := spawn(t, ctx, quizTemplate(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			require.NoError(t, h.Join(ctx, game.NewPlayer(id, id, nil)))
		}()
	}
	wg.Wait()

	roster, err := h.Roster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 20)
	for _, p := range roster {
		require.Equal(t, "disconnected", p.Status)
		require.Equal(t, 2, p.Remaining)
	}
}

func TestActor_StaleDisconnectKeepsNewConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, _, _ := spawn(t, ctx, quizTemplate(), 0)

	old := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer("p1", "alice", old)))

	fresh := game.NewOutbox(8)
	require.NoError(t, h.Join(ctx, game.NewPlayer("p1", "alice", fresh)))

	require.NoError(t, h.Disconnect(ctx, "p1", old))

	roster, err := h.Roster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "connected", roster[0].Status)

	require.NoError(t, h.Disconnect(ctx, "p1", fresh))

	roster, err = h.Roster(ctx)
	require.NoError(t, err)
	require.Equal(t, "disconnected", roster[0].Status)
}
