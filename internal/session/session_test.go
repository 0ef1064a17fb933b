package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieloj/poker-backend/internal/engine"
	"github.com/danieloj/poker-backend/internal/summary"
	"github.com/danieloj/poker-backend/pkg/types"
)

func strp(s string) *string { return &s }

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "outbox closed unexpectedly")
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{} // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return // closed: no further messages possible
		}
		t.Fatalf("expected no message within %v, but got: %+v", within, msg)
	case <-time.After(within):
		// good: nothing arrived
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if opts.Summarizer == nil {
		opts.Summarizer = summary.Static{Text: "test summary"}
	}
	return New(ctx, "TEST01", opts)
}

func join(s *Session, id, name string) {
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdJoin, PlayerID: id, Name: name}}
}

func vote(s *Session, id string, v *string) {
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdVote, PlayerID: id, Vote: v}}
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	s := newTestSession(t, Options{})

	out := make(chan types.ServerMessage, 8)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}

	msg := recvMsg(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgStateSync, msg.Type)
	state, ok := msg.Payload.(*engine.State)
	require.True(t, ok)
	assert.Equal(t, "TEST01", state.ID)
	assert.Equal(t, engine.StatusVoting, state.Status)
	assert.Empty(t, state.Players)
}

func TestJoinBroadcastsAuthoritativePlayer(t *testing.T) {
	s := newTestSession(t, Options{})

	out := make(chan types.ServerMessage, 8)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond) // snapshot

	join(s, "a", "Ann")
	msg := recvMsg(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgJoin, msg.Type)
	p, ok := msg.Payload.(*engine.Player)
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)
	assert.True(t, p.IsHost, "first joiner is host")
	assert.Equal(t, engine.MaxHealth, p.Health)

	// Second joiner claims host; the broadcast corrects the claim.
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdJoin, PlayerID: "b", Name: "Bob", ClaimHost: true}}
	msg = recvMsg(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgJoin, msg.Type)
	p = msg.Payload.(*engine.Player)
	assert.Equal(t, "b", p.ID)
	assert.False(t, p.IsHost)
}

func TestDisconnectGraceRemovalAndPromotion(t *testing.T) {
	s := newTestSession(t, Options{DisconnectGrace: 50 * time.Millisecond, AutoRevealDelay: time.Hour})

	out := make(chan types.ServerMessage, 16)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	_ = recvMsg(t, out, 100*time.Millisecond)
	_ = recvMsg(t, out, 100*time.Millisecond)

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdDisconnect, PlayerID: "a"}}
	msg := recvMsg(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgLeave, msg.Type)
	assert.Equal(t, types.LeaveEvent{PlayerID: "a"}, msg.Payload)

	// Grace elapses: removal plus promotion, in that order.
	msg = recvMsg(t, out, 500*time.Millisecond)
	require.Equal(t, types.MsgPlayerRemoved, msg.Type)
	assert.Equal(t, types.RemovedEvent{PlayerID: "a", HostID: "b"}, msg.Payload)

	msg = recvMsg(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgHostChanged, msg.Type)
	assert.Equal(t, types.HostChangedEvent{HostID: "b"}, msg.Payload)
}

func TestReconnectMakesRemovalNoop(t *testing.T) {
	s := newTestSession(t, Options{DisconnectGrace: 60 * time.Millisecond, AutoRevealDelay: time.Hour})

	out := make(chan types.ServerMessage, 16)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	_ = recvMsg(t, out, 100*time.Millisecond)
	_ = recvMsg(t, out, 100*time.Millisecond)

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdDisconnect, PlayerID: "a"}}
	require.Equal(t, types.MsgLeave, recvMsg(t, out, 100*time.Millisecond).Type)

	// Rejoin within the grace period.
	join(s, "a", "Ann")
	require.Equal(t, types.MsgJoin, recvMsg(t, out, 100*time.Millisecond).Type)

	// The scheduled removal fires and must do nothing.
	recvNoMsg(t, out, 200*time.Millisecond)

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	p := view.State.Player("a")
	require.NotNil(t, p)
	assert.False(t, p.IsDisconnected)
	assert.True(t, p.IsHost)
}

func TestAutoRevealFires(t *testing.T) {
	s := newTestSession(t, Options{AutoRevealDelay: 80 * time.Millisecond})

	out := make(chan types.ServerMessage, 16)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	vote(s, "a", strp("3"))
	vote(s, "b", strp("5"))
	for i := 0; i < 4; i++ {
		_ = recvMsg(t, out, 100*time.Millisecond) // 2x JOIN, 2x VOTE
	}

	msg := recvMsg(t, out, 500*time.Millisecond)
	require.Equal(t, types.MsgReveal, msg.Type)
	reveal := msg.Payload.(types.RevealEvent)
	assert.Equal(t, string(engine.StatusRevealed), reveal.Status)
	assert.Equal(t, 4.0, reveal.Average)
	assert.Nil(t, reveal.Summary)

	// The summary is a separate later fact.
	msg = recvMsg(t, out, 500*time.Millisecond)
	require.Equal(t, types.MsgSummary, msg.Type)
	assert.Equal(t, types.SummaryEvent{Summary: "test summary"}, msg.Payload)
}

func TestAutoRevealCancelledByClearedVote(t *testing.T) {
	s := newTestSession(t, Options{AutoRevealDelay: 80 * time.Millisecond})

	out := make(chan types.ServerMessage, 16)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	vote(s, "a", strp("3"))
	vote(s, "b", strp("5"))
	for i := 0; i < 4; i++ {
		_ = recvMsg(t, out, 100*time.Millisecond)
	}

	// Clearing a vote during the delay breaks the predicate.
	vote(s, "a", nil)
	require.Equal(t, types.MsgVote, recvMsg(t, out, 100*time.Millisecond).Type)

	recvNoMsg(t, out, 250*time.Millisecond)

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	assert.Equal(t, engine.StatusVoting, view.State.Status)
}

// blockedGenerator releases its result only when told to, so tests can race
// a summary against a reset deterministically.
type blockedGenerator struct {
	release chan string
}

func (g *blockedGenerator) Summarize(ctx context.Context, votes []string) (string, error) {
	select {
	case text := <-g.release:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestStaleSummaryDroppedAfterReset(t *testing.T) {
	gen := &blockedGenerator{release: make(chan string, 1)}
	s := newTestSession(t, Options{AutoRevealDelay: time.Hour, Summarizer: gen})

	out := make(chan types.ServerMessage, 16)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	vote(s, "a", strp("5"))
	for i := 0; i < 3; i++ {
		_ = recvMsg(t, out, 100*time.Millisecond)
	}

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdReveal, PlayerID: "a"}}
	require.Equal(t, types.MsgReveal, recvMsg(t, out, 100*time.Millisecond).Type)

	// Reset before the generator resolves.
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdReset, PlayerID: "a"}}
	require.Equal(t, types.MsgReset, recvMsg(t, out, 100*time.Millisecond).Type)

	gen.release <- "from a previous round"
	recvNoMsg(t, out, 200*time.Millisecond)

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	assert.Nil(t, recvView(t, reply, 100*time.Millisecond).State.Summary)
}

func TestKnockoutRecovery(t *testing.T) {
	s := newTestSession(t, Options{KnockoutRecovery: 60 * time.Millisecond, AutoRevealDelay: time.Hour})

	out := make(chan types.ServerMessage, 64)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	join(s, "a", "Ann")
	join(s, "b", "Bob")
	_ = recvMsg(t, out, 100*time.Millisecond)
	_ = recvMsg(t, out, 100*time.Millisecond)

	// Hammer b down to zero health.
	for i := 0; i < engine.MaxHealth; i++ {
		s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdThrow, FromID: "a", TargetID: "b", Symbol: "tomato"}}
		throwMsg := recvMsg(t, out, 100*time.Millisecond)
		require.Equal(t, types.MsgThrow, throwMsg.Type)
		throw := throwMsg.Payload.(*engine.Throw)

		s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdHit, ThrowID: throw.ID, TargetID: "b"}}
		hitMsg := recvMsg(t, out, 100*time.Millisecond)
		require.Equal(t, types.MsgHit, hitMsg.Type)
	}

	// Recovery fires and resets health.
	msg := recvMsg(t, out, 500*time.Millisecond)
	require.Equal(t, types.MsgRecover, msg.Type)
	assert.Equal(t, types.RecoverEvent{PlayerID: "b", Health: engine.MaxHealth}, msg.Payload)
}

func TestSlowSubscriberDropped(t *testing.T) {
	s := newTestSession(t, Options{})

	// Outbox with room for the snapshot only; the next broadcast overflows.
	out := make(chan types.ServerMessage, 1)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	join(s, "a", "Ann")

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	assert.Equal(t, 0, view.NumClients, "expected slow subscriber to be dropped")
}

func TestShutdownClosesOutboxes(t *testing.T) {
	s := newTestSession(t, Options{})

	out := make(chan types.ServerMessage, 8)
	s.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	_ = recvMsg(t, out, 100*time.Millisecond)

	s.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		assert.False(t, ok, "outbox should be closed")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("outbox not closed after shutdown")
	}
}
