package hub

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/danieloj/poker-backend/internal/session"
)

type Msg interface{ isHubMsg() }

// EnsureSession resolves a code to its session, creating it lazily. The hub
// goroutine is the single writer, so two racing lookups for a new code
// converge on one actor.
type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct {
	Code string
}

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan Msg
	sessions map[string]*session.Session
	opts     session.Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// Normalize canonicalizes a session code; codes are case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NewHub(parent context.Context, opts session.Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 64),
		sessions: make(map[string]*session.Session),
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				code := Normalize(msg.Code)
				if sess := h.sessions[code]; sess != nil {
					msg.Reply <- sess
					break
				}
				sess := session.New(h.ctx, code, h.opts)
				h.sessions[code] = sess
				h.log.Info("session created", zap.String("session", code))
				msg.Reply <- sess

			case GetSession:
				msg.Reply <- h.sessions[Normalize(msg.Code)] // may be nil

			case RemoveSession:
				code := Normalize(msg.Code)
				if sess := h.sessions[code]; sess != nil {
					sess.Inbox() <- session.Shutdown{}
					delete(h.sessions, code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, sess := range h.sessions {
		sess.Inbox() <- session.Shutdown{}
	}
	clear(h.sessions)
	h.cancel()
}
