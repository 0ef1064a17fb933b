package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danieloj/poker-backend/internal/engine"
	"github.com/danieloj/poker-backend/internal/summary"
	"github.com/danieloj/poker-backend/pkg/types"
)

type Msg interface{ isSessionMsg() }

type FromClient struct {
	Cmd engine.Command
}

func (FromClient) isSessionMsg() {}

type Subscribe struct {
	ClientID string
	Outbox   chan types.ServerMessage // where this connection receives events
}

func (Subscribe) isSessionMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

// Internal messages: timer fires and async results re-enter through the
// inbox so every mutation stays on the session goroutine.
type graceExpired struct{ PlayerID string }

func (graceExpired) isSessionMsg() {}

type recoveryDue struct{ PlayerID string }

func (recoveryDue) isSessionMsg() {}

type autoRevealDue struct{ Gen uint64 }

func (autoRevealDue) isSessionMsg() {}

type summaryReady struct {
	Round uint64
	Text  string
}

func (summaryReady) isSessionMsg() {}

// View reflects internal state without data races; used by tests and the
// snapshot endpoint.
type View struct {
	NumClients int
	State      *engine.State
}

type Options struct {
	DisconnectGrace  time.Duration // LEAVE -> removal, unless rejoined
	AutoRevealDelay  time.Duration // everyone-voted -> REVEAL
	KnockoutRecovery time.Duration // health 0 -> back to full
	Summarizer       summary.Generator
	Logger           *zap.Logger
}

// Session is the single authority for one session's state. All mutation
// flows through the inbox and is processed one message at a time.
type Session struct {
	inbox   chan Msg
	state   *engine.State
	clients map[string]chan types.ServerMessage
	opts    Options
	log     *zap.Logger

	// round increments on every reveal and reset so a summary that resolves
	// after its round ended is dropped instead of applied.
	round uint64

	// autoRevealGen invalidates in-flight auto-reveal fires (stale timers
	// must lose, never mutate).
	autoRevealGen   uint64
	autoRevealTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, id string, opts Options) *Session {
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = 3 * time.Second
	}
	if opts.AutoRevealDelay <= 0 {
		opts.AutoRevealDelay = 5 * time.Second
	}
	if opts.KnockoutRecovery <= 0 {
		opts.KnockoutRecovery = 3 * time.Second
	}
	if opts.Summarizer == nil {
		opts.Summarizer = summary.Static{Text: summary.Fallback}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:   make(chan Msg, 64), // small buffer
		state:   engine.NewState(id),
		clients: make(map[string]chan types.ServerMessage),
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", id)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.loop()
	return s
}

// Inbox exposes the message channel to the transport layer and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) ID() string { return s.state.ID }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Subscribe:
				// Register + full snapshot immediately, so a (re)connecting
				// client converges without replaying history.
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- types.ServerMessage{Type: types.MsgStateSync, Payload: s.state.Clone()}

			case Unsubscribe:
				// The slow-subscriber drop may have closed this outbox
				// already; only close what is still registered.
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case FromClient:
				s.apply(msg.Cmd)

			case graceExpired:
				// engine.Apply re-checks isDisconnected; a rejoin makes this
				// a no-op.
				s.apply(engine.Command{Type: engine.CmdRemove, PlayerID: msg.PlayerID})

			case recoveryDue:
				s.apply(engine.Command{Type: engine.CmdRecover, PlayerID: msg.PlayerID})

			case autoRevealDue:
				s.autoRevealTimer = nil
				if msg.Gen != s.autoRevealGen {
					break // superseded by a later state change
				}
				if host := s.state.Host(); host != nil && s.state.ReadyToReveal() {
					s.apply(engine.Command{Type: engine.CmdReveal, PlayerID: host.ID})
				}

			case summaryReady:
				if msg.Round != s.round {
					break // round was reset or re-revealed before the text arrived
				}
				s.apply(engine.Command{Type: engine.CmdSetSummary, Text: msg.Text})

			case GetState:
				msg.Reply <- View{NumClients: len(s.clients), State: s.state.Clone()}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// apply runs one command through the engine, performs side effects and
// broadcasts the resulting facts, in that order, before the next message is
// read.
func (s *Session) apply(cmd engine.Command) {
	if cmd.Type == engine.CmdThrow && cmd.ThrowID == "" {
		cmd.ThrowID = uuid.NewString()
	}

	events, err := engine.Apply(s.state, cmd, time.Now())
	if err != nil {
		s.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return
	}
	for _, ev := range events {
		s.react(ev)
		s.broadcast(s.toMessage(ev))
	}
	s.reconsiderAutoReveal()
}

// react schedules the deferred work an event implies.
func (s *Session) react(ev engine.Event) {
	switch ev.Type {
	case engine.EvtPlayerDisconnected:
		id := ev.PlayerID
		time.AfterFunc(s.opts.DisconnectGrace, func() {
			s.send(graceExpired{PlayerID: id})
		})

	case engine.EvtEmojiHit:
		if ev.IsKnockedOut {
			id := ev.PlayerID
			time.AfterFunc(s.opts.KnockoutRecovery, func() {
				s.send(recoveryDue{PlayerID: id})
			})
		}

	case engine.EvtRevealed:
		s.round++
		round := s.round
		votes := s.state.Votes()
		// The reveal broadcast never waits on the generator; the summary is
		// a separate later fact.
		go func() {
			text, err := s.opts.Summarizer.Summarize(s.ctx, votes)
			if err != nil || text == "" {
				if err != nil {
					s.log.Warn("summary generation failed", zap.Error(err))
				}
				text = summary.Fallback
			}
			s.send(summaryReady{Round: round, Text: text})
		}()

	case engine.EvtVotingReset:
		s.round++
	}
}

// reconsiderAutoReveal arms the auto-reveal timer when every connected
// player has voted (and there are at least two), and invalidates it the
// moment the predicate stops holding.
func (s *Session) reconsiderAutoReveal() {
	ready := s.state.ReadyToReveal()
	if ready && s.autoRevealTimer == nil {
		s.autoRevealGen++
		gen := s.autoRevealGen
		s.autoRevealTimer = time.AfterFunc(s.opts.AutoRevealDelay, func() {
			s.send(autoRevealDue{Gen: gen})
		})
	}
	if !ready && s.autoRevealTimer != nil {
		s.autoRevealTimer.Stop()
		s.autoRevealTimer = nil
		s.autoRevealGen++ // a fire already in the inbox is now stale
	}
}

// send enqueues an internal message unless the session is shutting down.
func (s *Session) send(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) broadcast(msg types.ServerMessage) {
	for id, ch := range s.clients {
		select {
		case ch <- msg:
			// ok
		default:
			// Subscriber is slow/full - drop it, its connection handles the
			// disconnect on its own.
			close(ch)
			delete(s.clients, id)
			s.log.Warn("dropped slow subscriber", zap.String("client", id))
		}
	}
}

func (s *Session) shutdown() {
	if s.autoRevealTimer != nil {
		s.autoRevealTimer.Stop()
		s.autoRevealTimer = nil
	}
	for id, ch := range s.clients {
		close(ch) // no more events
		delete(s.clients, id)
	}
	s.cancel()
}

// toMessage converts an applied event into its wire fact. State is fully
// mutated by the time events are converted, so lookups see the new world.
func (s *Session) toMessage(ev engine.Event) types.ServerMessage {
	switch ev.Type {
	case engine.EvtPlayerJoined:
		return types.ServerMessage{Type: types.MsgJoin, Payload: ev.Player}

	case engine.EvtVoteSet:
		return types.ServerMessage{Type: types.MsgVote, Payload: types.VoteEvent{PlayerID: ev.PlayerID, Vote: ev.Vote}}

	case engine.EvtRevealed:
		return types.ServerMessage{Type: types.MsgReveal, Payload: types.RevealEvent{
			Status:  string(s.state.Status),
			Average: *ev.Average,
			Summary: nil,
		}}

	case engine.EvtSummarySet:
		return types.ServerMessage{Type: types.MsgSummary, Payload: types.SummaryEvent{Summary: *ev.Summary}}

	case engine.EvtVotingReset:
		return types.ServerMessage{Type: types.MsgReset, Payload: types.ResetEvent{Status: string(s.state.Status)}}

	case engine.EvtPlayerDisconnected:
		return types.ServerMessage{Type: types.MsgLeave, Payload: types.LeaveEvent{PlayerID: ev.PlayerID}}

	case engine.EvtPlayerRemoved:
		var hostID string
		if h := s.state.Host(); h != nil {
			hostID = h.ID
		}
		return types.ServerMessage{Type: types.MsgPlayerRemoved, Payload: types.RemovedEvent{PlayerID: ev.PlayerID, HostID: hostID}}

	case engine.EvtHostChanged:
		return types.ServerMessage{Type: types.MsgHostChanged, Payload: types.HostChangedEvent{HostID: ev.PlayerID}}

	case engine.EvtEmojiThrown:
		return types.ServerMessage{Type: types.MsgThrow, Payload: ev.Throw}

	case engine.EvtEmojiHit:
		return types.ServerMessage{Type: types.MsgHit, Payload: types.HitEvent{
			ThrowID:      ev.ThrowID,
			PlayerID:     ev.PlayerID,
			Health:       ev.Health,
			IsKnockedOut: ev.IsKnockedOut,
		}}

	case engine.EvtMonkeyChanged:
		return types.ServerMessage{Type: types.MsgMonkey, Payload: types.MonkeyEvent{PlayerID: ev.PlayerID, IsMonkey: ev.IsMonkey}}

	case engine.EvtPlayerRecovered:
		return types.ServerMessage{Type: types.MsgRecover, Payload: types.RecoverEvent{PlayerID: ev.PlayerID, Health: ev.Health}}
	}
	return types.ServerMessage{Type: string(ev.Type)}
}
