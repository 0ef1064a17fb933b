package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/danieloj/poker-backend/internal/engine"
	"github.com/danieloj/poker-backend/internal/hub"
	"github.com/danieloj/poker-backend/internal/session"
	"github.com/danieloj/poker-backend/pkg/types"
)

const (
	readTimeout  = 90 * time.Second // clients must show a sign of life within this
	pingInterval = 30 * time.Second
	writeTimeout = 3 * time.Second
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := hub.Normalize(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		// Sessions are created lazily on first reference.
		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.EnsureSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := randID(6)
		logger := log.With(zap.String("session", code), zap.String("client", clientID))

		out := make(chan types.ServerMessage, 16)
		sess.Inbox() <- session.Subscribe{ClientID: clientID, Outbox: out}
		defer func() { sess.Inbox() <- session.Unsubscribe{ClientID: clientID} }()

		// boundPlayer is the player this connection joined as; losing the
		// socket is that player's LEAVE.
		var boundPlayer string
		defer func() {
			if boundPlayer != "" {
				sess.Inbox() <- session.FromClient{Cmd: engine.Command{Type: engine.CmdDisconnect, PlayerID: boundPlayer}}
			}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()

		// Writer goroutine: outbox -> socket. A closed outbox means the
		// session dropped us as a slow subscriber.
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					logger.Error("marshal event", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			conn.Close(websocket.StatusPolicyViolation, "write backlog")
		}()

		// Heartbeat: the server pings; a dead peer fails here and the reader
		// unwinds through the normal disconnect path.
		go func() {
			t := time.NewTicker(pingInterval)
			defer t.Stop()
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-t.C:
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						writeCancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Anything else: the deferred Disconnect handles it.
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				writeError(r.Context(), conn, "bad message")
				continue
			}

			if cmd.Type == engine.CmdJoin {
				boundPlayer = cmd.PlayerID
			}
			sess.Inbox() <- session.FromClient{Cmd: cmd}
		}
	}
}

// writeError reports a malformed message to the offending connection only.
func writeError(ctx context.Context, conn *websocket.Conn, text string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, Payload: types.ErrorEvent{Error: text}})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}

func toCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case types.MsgJoin:
		var p types.JoinPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.PlayerID == "" {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdJoin, PlayerID: p.PlayerID, Name: p.Name, ClaimHost: p.IsHost}, true

	case types.MsgVote:
		var p types.VotePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.PlayerID == "" {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdVote, PlayerID: p.PlayerID, Vote: p.Vote}, true

	case types.MsgReveal, types.MsgReset, types.MsgLeave:
		var p types.PlayerActionPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.PlayerID == "" {
			return engine.Command{}, false
		}
		switch m.Type {
		case types.MsgReveal:
			return engine.Command{Type: engine.CmdReveal, PlayerID: p.PlayerID}, true
		case types.MsgReset:
			return engine.Command{Type: engine.CmdReset, PlayerID: p.PlayerID}, true
		default:
			return engine.Command{Type: engine.CmdDisconnect, PlayerID: p.PlayerID}, true
		}

	case types.MsgThrow:
		var p types.ThrowPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.FromID == "" || p.ToID == "" || p.Symbol == "" {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdThrow, FromID: p.FromID, TargetID: p.ToID, Symbol: p.Symbol}, true

	case types.MsgHit:
		var p types.HitPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.ThrowID == "" || p.TargetID == "" {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdHit, ThrowID: p.ThrowID, TargetID: p.TargetID}, true

	default:
		return engine.Command{}, false
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
