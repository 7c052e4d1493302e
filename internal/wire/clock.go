package wire

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
)

// ClockPair is one (participant id, counter) element of a wire-encoded
// vector clock.
type ClockPair struct {
	ID    string
	Count uint64
}

// ClockPairs is the wire form of a vector clock: an ordered sequence of
// [id, count] pairs. Ordering by id is a display convention only; the clock
// semantics do not depend on it.
type ClockPairs []ClockPair

// PairsFromVector converts a snapshot to wire form, sorted by id.
func PairsFromVector(v clock.Vector) ClockPairs {
	out := make(ClockPairs, 0, len(v))
	for id, n := range v {
		out = append(out, ClockPair{ID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Vector converts the wire form back to a clock snapshot.
func (p ClockPairs) Vector() clock.Vector {
	v := make(clock.Vector, len(p))
	for _, e := range p {
		v[e.ID] = e.Count
	}
	return v
}

func (p ClockPairs) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, len(p))
	for i, e := range p {
		pairs[i] = [2]any{e.ID, e.Count}
	}
	return json.Marshal(pairs)
}

func (p *ClockPairs) UnmarshalJSON(data []byte) error {
	var raw [][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("vector clock must be a sequence of [id, count] pairs: %w", err)
	}
	out := make(ClockPairs, 0, len(raw))
	for _, pair := range raw {
		var e ClockPair
		if err := json.Unmarshal(pair[0], &e.ID); err != nil {
			return fmt.Errorf("vector clock entry id: %w", err)
		}
		if err := json.Unmarshal(pair[1], &e.Count); err != nil {
			return fmt.Errorf("vector clock entry count: %w", err)
		}
		out = append(out, e)
	}
	*p = out
	return nil
}
