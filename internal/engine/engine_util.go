package engine

import (
	"math"
	"slices"
	"strconv"
)

// Player returns the player with the given id, or nil.
func (s *State) Player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Host returns the current host, or nil for an empty session.
func (s *State) Host() *Player {
	for _, p := range s.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// Votes returns the raw non-null vote strings in join order, sentinels
// included. This is the Summary Generator's input.
func (s *State) Votes() []string {
	votes := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Vote != nil {
			votes = append(votes, *p.Vote)
		}
	}
	return votes
}

// ReadyToReveal reports whether an auto-reveal may be armed: still voting,
// at least two connected players, and every connected player has voted.
func (s *State) ReadyToReveal() bool {
	if s.Status != StatusVoting {
		return false
	}
	connected := 0
	for _, p := range s.Players {
		if p.IsDisconnected {
			continue
		}
		if p.Vote == nil {
			return false
		}
		connected++
	}
	return connected >= 2
}

// Clone deep-copies the state so a snapshot can be marshaled outside the
// session goroutine. Vote pointers are shared; votes are replaced wholesale,
// never written through.
func (s *State) Clone() *State {
	c := &State{ID: s.ID, Status: s.Status}
	c.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		c.Players[i] = &cp
	}
	if s.Average != nil {
		a := *s.Average
		c.Average = &a
	}
	if s.Summary != nil {
		t := *s.Summary
		c.Summary = &t
	}
	c.Throws = slices.Clone(s.Throws)
	c.History = slices.Clone(s.History)
	return c
}

// averageOf is the arithmetic mean of the votes that parse as numbers,
// rounded to two decimals. Nulls, sentinels ("?", "coffee") and anything
// else non-numeric are skipped; no numeric votes means 0.
func averageOf(players []*Player) float64 {
	var sum float64
	var n int
	for _, p := range players {
		if p.Vote == nil {
			continue
		}
		v, err := strconv.ParseFloat(*p.Vote, 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}

func oldestPlayer(players []*Player) *Player {
	var oldest *Player
	for _, p := range players {
		if oldest == nil || p.JoinedAt.Before(oldest.JoinedAt) {
			oldest = p
		}
	}
	return oldest
}
