package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieloj/poker-backend/internal/session"
)

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := NewHub(context.Background(), session.Options{})
	reply := make(chan *session.Session, 1)

	h.Inbox() <- EnsureSession{Code: "ABC123", Reply: reply}
	s1 := <-reply
	require.NotNil(t, s1)

	h.Inbox() <- GetSession{Code: "ABC123", Reply: reply}
	s2 := <-reply

	assert.Same(t, s1, s2)
}

func TestHub_EnsureIsIdempotent(t *testing.T) {
	h := NewHub(context.Background(), session.Options{})
	reply := make(chan *session.Session, 1)

	h.Inbox() <- EnsureSession{Code: "ABC123", Reply: reply}
	s1 := <-reply
	h.Inbox() <- EnsureSession{Code: "ABC123", Reply: reply}
	s2 := <-reply

	assert.Same(t, s1, s2)
}

func TestHub_CodesAreCaseInsensitive(t *testing.T) {
	h := NewHub(context.Background(), session.Options{})
	reply := make(chan *session.Session, 1)

	h.Inbox() <- EnsureSession{Code: "abc123", Reply: reply}
	s1 := <-reply

	h.Inbox() <- GetSession{Code: "ABC123", Reply: reply}
	s2 := <-reply

	require.NotNil(t, s1)
	assert.Same(t, s1, s2)
	assert.Equal(t, "ABC123", s1.ID())
}

func TestHub_RemoveForgetsSession(t *testing.T) {
	h := NewHub(context.Background(), session.Options{})
	reply := make(chan *session.Session, 1)

	h.Inbox() <- EnsureSession{Code: "ABC123", Reply: reply}
	require.NotNil(t, <-reply)

	h.Inbox() <- RemoveSession{Code: "ABC123"}

	h.Inbox() <- GetSession{Code: "ABC123", Reply: reply}
	assert.Nil(t, <-reply)
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	h := NewHub(context.Background(), session.Options{})
	reply := make(chan *session.Session, 1)

	h.Inbox() <- GetSession{Code: "NOPE99", Reply: reply}
	assert.Nil(t, <-reply)
}
