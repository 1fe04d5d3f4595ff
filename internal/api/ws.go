package api

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/victornm/gudritis/internal/errors"
	"github.com/victornm/gudritis/internal/game"
	"github.com/victornm/gudritis/internal/telemetry"
)

const (
	maxNicknameLen = 24
	readLimit      = 4096
	writeTimeout   = 5 * time.Second
	pingInterval   = 30 * time.Second
	leaveTimeout   = 5 * time.Second
)

var errClientLeft = stderrors.New("client left")

// ServeWS joins the caller to the game under ?code= and upgrades the request
// to a websocket carrying game commands and events.
func (a *API) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	code, err := parseCode(c.Query("code"))
	if err != nil {
		renderError(c, err)
		return
	}

	id, err := a.ids.Resolve(c.Request)
	if err != nil {
		renderError(c, err)
		return
	}

	nickname := c.Query("nickname")
	if nickname == "" {
		nickname = id.Nickname
	}
	if nickname == "" || len(nickname) > maxNicknameLen {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("nickname must be 1 to %d characters", maxNicknameLen)))
		return
	}

	player := game.Player{ID: id.UserID, Nickname: nickname, Registered: id.Registered}

	// Register before upgrading so an unknown code is a plain 404.
	h, found, err := a.lobby.Join(ctx, code, player)
	if err != nil {
		renderError(c, err)
		return
	}
	if !found {
		renderError(c, errors.New(errors.CodeNotFound, errors.WithMessagef("game not found: %d", code)))
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: a.originPatterns,
	})
	if err != nil {
		slog.WarnContext(ctx, "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	player.Outbox = game.NewOutbox(a.outboxSize)
	if err := h.Join(ctx, player); err != nil {
		conn.Close(websocket.StatusGoingAway, "game has ended")
		return
	}

	telemetry.ConnectionsActive.Inc()
	defer telemetry.ConnectionsActive.Dec()

	slog.InfoContext(ctx, "api: websocket connected",
		"code", code,
		"player_id", player.ID,
		"remote", c.ClientIP(),
	)

	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		writePump(ctx, conn, player.Outbox)
	}()

	err = a.readPump(ctx, conn, h, &player)
	cancel()
	<-writerDone

	leaveCtx, leaveCancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer leaveCancel()
	if derr := h.Disconnect(leaveCtx, player.ID, player.Outbox); derr != nil && !stderrors.Is(derr, game.ErrSessionEnded) {
		slog.WarnContext(ctx, "api: release player failed", "player_id", player.ID, "error", derr)
	}

	slog.InfoContext(ctx, "api: websocket disconnected",
		"code", code,
		"player_id", player.ID,
		"reason", err,
	)
}

// readPump decodes client frames into session commands until the
// connection fails or the client leaves.
func (a *API) readPump(ctx context.Context, conn *websocket.Conn, h game.Handle, p *game.Player) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			continue
		}

		cmd, err := game.DecodeCommand(data)
		if err != nil {
			reply(ctx, p.Outbox, game.ErrorEvent{Err: errors.Convert(err).Message})
			continue
		}

		if err := a.dispatch(ctx, h, p, cmd); err != nil {
			return err
		}
	}
}

func (a *API) dispatch(ctx context.Context, h game.Handle, p *game.Player, cmd game.Command) error {
	switch cmd := cmd.(type) {
	case *game.StartCommand:
		return h.Start(ctx, p.ID)
	case *game.AnswerCommand:
		// The server's receive time is the submit time.
		return h.Answer(ctx, p.ID, cmd.Answer, a.now(), cmd.SlideIndex)
	case *game.NextCommand:
		return h.Next(ctx, p.ID, cmd.PlayerID)
	case *game.KickCommand:
		return h.Kick(ctx, cmd.PlayerID, p.ID)
	case *game.EndCommand:
		return h.End(ctx, p.ID)
	case *game.LeaveCommand:
		if err := h.Disconnect(ctx, p.ID, p.Outbox); err != nil {
			return err
		}
		return errClientLeft
	case *game.JoinCommand:
		if cmd.GameCode != h.Code() {
			reply(ctx, p.Outbox, game.ErrorEvent{Err: "Already in another game"})
			return nil
		}
		if cmd.Nickname != "" && len(cmd.Nickname) <= maxNicknameLen {
			p.Nickname = cmd.Nickname
		}
		return h.Join(ctx, *p)
	default:
		reply(ctx, p.Outbox, game.ErrorEvent{Err: "Command not supported on this connection"})
		return nil
	}
}

// writePump drains the outbox into the connection. When the session closes
// the outbox, queued messages are flushed before the close frame.
func writePump(ctx context.Context, conn *websocket.Conn, outbox *game.Outbox) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbox.Messages():
			if err := write(ctx, conn, msg); err != nil {
				return
			}
		case <-outbox.Done():
			flush(ctx, conn, outbox)
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func flush(ctx context.Context, conn *websocket.Conn, outbox *game.Outbox) {
	for {
		select {
		case msg := <-outbox.Messages():
			if err := write(ctx, conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, msg)
}

// reply queues a message for this connection only, outside the session.
func reply(ctx context.Context, outbox *game.Outbox, m game.Message) {
	data, err := game.Encode(m)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_ = outbox.Deliver(ctx, data)
}
