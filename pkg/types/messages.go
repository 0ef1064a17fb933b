package types

import "encoding/json"

// Message type discriminators. Client actions and server facts share the
// action names; STATE_SYNC and ERROR are server-only.
const (
	MsgJoin   = "JOIN"
	MsgVote   = "VOTE"
	MsgReveal = "REVEAL"
	MsgReset  = "RESET"
	MsgLeave  = "LEAVE"
	MsgThrow  = "THROW"
	MsgHit    = "HIT"

	MsgStateSync     = "STATE_SYNC"
	MsgSummary       = "SUMMARY"
	MsgPlayerRemoved = "PLAYER_REMOVED"
	MsgHostChanged   = "HOST_CHANGED"
	MsgMonkey        = "MONKEY"
	MsgRecover       = "RECOVER"
	MsgError         = "ERROR"
)

// ClientMessage is the inbound tagged union; the payload shape is fixed per
// type. A payload that fails to decode gets an ERROR reply and nothing else.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost"` // a claim; the JOIN broadcast is authoritative
}

type VotePayload struct {
	PlayerID string  `json:"playerId"`
	Vote     *string `json:"vote"` // null clears
}

// PlayerActionPayload covers REVEAL, RESET and LEAVE.
type PlayerActionPayload struct {
	PlayerID string `json:"playerId"`
}

type ThrowPayload struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Symbol string `json:"symbol"`
}

type HitPayload struct {
	ThrowID  string `json:"throwId"`
	TargetID string `json:"targetId"`
}

// ServerMessage is the outbound tagged union.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type VoteEvent struct {
	PlayerID string  `json:"playerId"`
	Vote     *string `json:"vote"`
}

type RevealEvent struct {
	Status  string  `json:"status"`
	Average float64 `json:"average"`
	Summary *string `json:"summary"` // always null here; SUMMARY arrives separately
}

type SummaryEvent struct {
	Summary string `json:"summary"`
}

type ResetEvent struct {
	Status string `json:"status"`
}

type LeaveEvent struct {
	PlayerID string `json:"playerId"`
}

type RemovedEvent struct {
	PlayerID string `json:"playerId"`
	HostID   string `json:"hostId,omitempty"` // host after the removal
}

type HostChangedEvent struct {
	HostID string `json:"hostId"`
}

type HitEvent struct {
	ThrowID      string `json:"throwId"`
	PlayerID     string `json:"playerId"`
	Health       int    `json:"health"`
	IsKnockedOut bool   `json:"isKnockedOut"`
}

type MonkeyEvent struct {
	PlayerID string `json:"playerId"`
	IsMonkey bool   `json:"isMonkey"`
}

type RecoverEvent struct {
	PlayerID string `json:"playerId"`
	Health   int    `json:"health"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}
