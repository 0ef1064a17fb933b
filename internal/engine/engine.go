package engine

import (
	"errors"
	"slices"
	"time"
)

var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnknownTarget = errors.New("unknown target")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusVoting   Status = "voting"
	StatusRevealed Status = "revealed"
)

const (
	MaxHealth       = 100
	DamagePerHit    = 1
	HealPerHit      = 10
	MonkeyThreshold = 5

	// SymbolPoop counts against the thrower, SymbolHeart heals the target.
	// Every other symbol is plain damage.
	SymbolPoop  = "poop"
	SymbolHeart = "heart"
)

type Player struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	IsHost         bool      `json:"isHost"`
	Vote           *string   `json:"vote"`
	JoinedAt       time.Time `json:"joinedAt"`
	IsDisconnected bool      `json:"isDisconnected"`
	Health         int       `json:"health"`
	IsKnockedOut   bool      `json:"isKnockedOut"`
	PoopHitCount   int       `json:"poopHitCount"`
	IsMonkey       bool      `json:"isMonkey"`
	HeartHitCount  int       `json:"heartHitCount"`
}

// Throw is an emoji projectile in flight. It lives from THROW until a client
// acknowledges the impact with HIT.
type Throw struct {
	ID       string    `json:"id"`
	FromID   string    `json:"fromId"`
	ToID     string    `json:"toId"`
	Symbol   string    `json:"symbol"`
	ThrownAt time.Time `json:"thrownAt"`
}

// RoundResult is an archived voting round, kept in memory only.
type RoundResult struct {
	Votes   map[string]string `json:"votes"`
	Average float64           `json:"average"`
	Summary *string           `json:"summary"`
	EndedAt time.Time         `json:"endedAt"`
}

type State struct {
	ID      string        `json:"id"`
	Status  Status        `json:"status"`
	Players []*Player     `json:"players"` // join order
	Average *float64      `json:"average"`
	Summary *string       `json:"summary"`
	Throws  []Throw       `json:"emojiThrows"`
	History []RoundResult `json:"voteHistory"`
}

func NewState(id string) *State {
	return &State{
		ID:      id,
		Status:  StatusVoting,
		Players: []*Player{},
		Throws:  []Throw{},
		History: []RoundResult{},
	}
}

type CommandType string

const (
	CmdJoin       CommandType = "Join"
	CmdVote       CommandType = "Vote"
	CmdReveal     CommandType = "Reveal"
	CmdReset      CommandType = "Reset"
	CmdDisconnect CommandType = "Disconnect"
	CmdRemove     CommandType = "Remove"
	CmdThrow      CommandType = "Throw"
	CmdHit        CommandType = "Hit"
	CmdRecover    CommandType = "Recover"
	CmdSetSummary CommandType = "SetSummary"
)

type Command struct {
	Type      CommandType
	PlayerID  string
	Name      string
	ClaimHost bool
	Vote      *string
	ThrowID   string
	FromID    string
	TargetID  string
	Symbol    string
	Text      string
}

type EventType string

const (
	EvtPlayerJoined       EventType = "PlayerJoined"
	EvtVoteSet            EventType = "VoteSet"
	EvtRevealed           EventType = "Revealed"
	EvtSummarySet         EventType = "SummarySet"
	EvtVotingReset        EventType = "VotingReset"
	EvtPlayerDisconnected EventType = "PlayerDisconnected"
	EvtPlayerRemoved      EventType = "PlayerRemoved"
	EvtHostChanged        EventType = "HostChanged"
	EvtEmojiThrown        EventType = "EmojiThrown"
	EvtEmojiHit           EventType = "EmojiHit"
	EvtMonkeyChanged      EventType = "MonkeyChanged"
	EvtPlayerRecovered    EventType = "PlayerRecovered"
)

type Event struct {
	Type         EventType
	PlayerID     string
	Player       *Player
	Vote         *string
	Average      *float64
	Summary      *string
	Throw        *Throw
	ThrowID      string
	Health       int
	IsKnockedOut bool
	IsMonkey     bool
}

// Apply validates and applies cmd against s, mutating it in place, and
// returns the facts to broadcast. Commands the sender may not issue
// (REVEAL/RESET by a non-host) return no events and no error: nothing is
// broadcast and the request vanishes, which is the documented trust
// boundary. Stale timer commands (Remove, Recover, Hit on a purged throw)
// are no-ops for the same reason.
func Apply(s *State, cmd Command, now time.Time) ([]Event, error) {
	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd, now)

	case CmdVote:
		p := s.Player(cmd.PlayerID)
		if p == nil {
			return nil, ErrUnknownPlayer
		}
		p.Vote = cmd.Vote
		return []Event{{Type: EvtVoteSet, PlayerID: p.ID, Vote: cmd.Vote}}, nil

	case CmdReveal:
		p := s.Player(cmd.PlayerID)
		if p == nil || !p.IsHost {
			return nil, nil
		}
		if s.Status == StatusRevealed {
			return nil, nil
		}
		avg := averageOf(s.Players)
		s.Status = StatusRevealed
		s.Average = &avg
		s.Summary = nil
		return []Event{{Type: EvtRevealed, Average: &avg}}, nil

	case CmdReset:
		p := s.Player(cmd.PlayerID)
		if p == nil || !p.IsHost {
			return nil, nil
		}
		if s.Status == StatusRevealed {
			s.archiveRound(now)
		}
		s.Status = StatusVoting
		s.Average = nil
		s.Summary = nil
		for _, pl := range s.Players {
			pl.Vote = nil
		}
		return []Event{{Type: EvtVotingReset}}, nil

	case CmdDisconnect:
		p := s.Player(cmd.PlayerID)
		if p == nil {
			return nil, ErrUnknownPlayer
		}
		p.IsDisconnected = true
		return []Event{{Type: EvtPlayerDisconnected, PlayerID: p.ID}}, nil

	case CmdRemove:
		return applyRemove(s, cmd)

	case CmdThrow:
		return applyThrow(s, cmd, now)

	case CmdHit:
		return applyHit(s, cmd)

	case CmdRecover:
		p := s.Player(cmd.PlayerID)
		if p == nil || !p.IsKnockedOut {
			// Healed or gone in the meantime.
			return nil, nil
		}
		p.Health = MaxHealth
		p.IsKnockedOut = false
		return []Event{{Type: EvtPlayerRecovered, PlayerID: p.ID, Health: p.Health}}, nil

	case CmdSetSummary:
		if s.Status != StatusRevealed {
			return nil, nil
		}
		text := cmd.Text
		s.Summary = &text
		return []Event{{Type: EvtSummarySet, Summary: &text}}, nil

	default:
		return nil, ErrUnsupportedCommand
	}
}

func applyJoin(s *State, cmd Command, now time.Time) ([]Event, error) {
	if p := s.Player(cmd.PlayerID); p != nil {
		// Reconnect (or duplicate JOIN): clear the flag, touch nothing else.
		p.IsDisconnected = false
		cp := *p
		return []Event{{Type: EvtPlayerJoined, Player: &cp}}, nil
	}

	// Host rule: a claim is honored only while no one holds host, and the
	// first joiner of an empty session is host regardless of the claim.
	isHost := false
	if s.Host() == nil {
		isHost = cmd.ClaimHost || len(s.Players) == 0
	}

	p := &Player{
		ID:       cmd.PlayerID,
		Name:     cmd.Name,
		IsHost:   isHost,
		JoinedAt: now,
		Health:   MaxHealth,
	}
	s.Players = append(s.Players, p)
	cp := *p
	return []Event{{Type: EvtPlayerJoined, Player: &cp}}, nil
}

func applyRemove(s *State, cmd Command) ([]Event, error) {
	p := s.Player(cmd.PlayerID)
	if p == nil || !p.IsDisconnected {
		// Rejoined before the grace period ran out, or already removed.
		return nil, nil
	}
	wasHost := p.IsHost
	s.Players = slices.DeleteFunc(s.Players, func(pl *Player) bool { return pl.ID == cmd.PlayerID })

	events := []Event{{Type: EvtPlayerRemoved, PlayerID: cmd.PlayerID}}
	if wasHost {
		if next := oldestPlayer(s.Players); next != nil {
			next.IsHost = true
			events = append(events, Event{Type: EvtHostChanged, PlayerID: next.ID})
		}
	}
	return events, nil
}

func applyThrow(s *State, cmd Command, now time.Time) ([]Event, error) {
	from := s.Player(cmd.FromID)
	if from == nil {
		return nil, ErrUnknownPlayer
	}
	if s.Player(cmd.TargetID) == nil {
		return nil, ErrUnknownTarget
	}

	t := Throw{ID: cmd.ThrowID, FromID: cmd.FromID, ToID: cmd.TargetID, Symbol: cmd.Symbol, ThrownAt: now}
	s.Throws = append(s.Throws, t)
	events := []Event{{Type: EvtEmojiThrown, Throw: &t}}

	// Poop counts against the thrower at throw time, not on impact.
	if cmd.Symbol == SymbolPoop {
		from.PoopHitCount++
		if from.PoopHitCount >= MonkeyThreshold && !from.IsMonkey {
			from.IsMonkey = true
			events = append(events, Event{Type: EvtMonkeyChanged, PlayerID: from.ID, IsMonkey: true})
		}
	}
	return events, nil
}

func applyHit(s *State, cmd Command) ([]Event, error) {
	idx := slices.IndexFunc(s.Throws, func(t Throw) bool { return t.ID == cmd.ThrowID })
	if idx < 0 {
		// Late or duplicate acknowledgment.
		return nil, nil
	}
	t := s.Throws[idx]
	s.Throws = slices.Delete(s.Throws, idx, idx+1)

	target := s.Player(cmd.TargetID)
	if target == nil {
		return nil, nil
	}

	var extra []Event
	if t.Symbol == SymbolHeart {
		target.Health = min(MaxHealth, target.Health+HealPerHit)
		if target.Health > 0 {
			target.IsKnockedOut = false
		}
		if target.IsMonkey {
			target.HeartHitCount++
			if target.HeartHitCount >= MonkeyThreshold {
				target.IsMonkey = false
				target.PoopHitCount = 0
				target.HeartHitCount = 0
				extra = append(extra, Event{Type: EvtMonkeyChanged, PlayerID: target.ID})
			}
		}
	} else {
		target.Health = max(0, target.Health-DamagePerHit)
		target.IsKnockedOut = target.Health == 0
	}

	hit := Event{
		Type:         EvtEmojiHit,
		ThrowID:      t.ID,
		PlayerID:     target.ID,
		Health:       target.Health,
		IsKnockedOut: target.IsKnockedOut,
	}
	return append([]Event{hit}, extra...), nil
}

func (s *State) archiveRound(now time.Time) {
	votes := make(map[string]string, len(s.Players))
	for _, p := range s.Players {
		if p.Vote != nil {
			votes[p.Name] = *p.Vote
		}
	}
	var avg float64
	if s.Average != nil {
		avg = *s.Average
	}
	s.History = append(s.History, RoundResult{Votes: votes, Average: avg, Summary: s.Summary, EndedAt: now})
}
