// Package roster tracks which remote participants are currently in a voice
// channel and derives the occupancy count that drives the indicator.
package roster

import (
	"context"
	"sync"

	"github.com/lumio-dev/lumio/internal/eventbus"
)

// Participant is a single tracked user. Channel is the voice channel the
// participant currently occupies; an empty Channel means they are not in
// voice at all.
type Participant struct {
	ID      string
	Channel string
}

// Present reports whether the participant is in any voice channel.
func (p Participant) Present() bool {
	return p.Channel != ""
}

// Tracker maintains the roster and an incrementally-updated occupancy count.
//
// Entries are created on first sighting and updated in place; they are never
// removed. This matches the device's historical behaviour and keeps the
// update path trivial; the roster is bounded in practice by the population
// of the chat server it observes.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*Participant
	occupancy int
	bus       *eventbus.Bus
}

// New creates an empty tracker. The bus may be nil, in which case occupancy
// transitions are not published.
func New(bus *eventbus.Bus) *Tracker {
	return &Tracker{
		entries: make(map[string]*Participant),
		bus:     bus,
	}
}

// UpdatePresence records that participantID is now in channelID (empty means
// not in voice) and returns the updated occupancy count.
//
// Occupancy only changes when a participant toggles between present and
// absent; moving between two non-empty channels is a transfer and leaves the
// count untouched. Every zero/nonzero transition is published on the bus.
func (t *Tracker) UpdatePresence(ctx context.Context, participantID, channelID string) int {
	t.mu.Lock()

	previous := t.occupancy

	entry, ok := t.entries[participantID]
	if !ok {
		entry = &Participant{ID: participantID}
		t.entries[participantID] = entry
	}

	wasPresent := entry.Present()
	entry.Channel = channelID
	nowPresent := entry.Present()

	switch {
	case !wasPresent && nowPresent:
		t.occupancy++
	case wasPresent && !nowPresent:
		t.occupancy--
	}

	count := t.occupancy

	// Published while still holding the lock so zero-crossing events reach
	// the bus in transition order even with concurrent callers. Publish
	// never blocks; full subscriber channels fall back to delivery policy.
	if crossedZero(previous, count) {
		eventbus.Publish(ctx, t.bus, eventbus.Roster.Occupancy, eventbus.SourceRoster, eventbus.OccupancyEvent{
			Count:    count,
			Previous: previous,
		})
	}

	t.mu.Unlock()
	return count
}

// Occupancy returns the number of participants currently in a voice channel.
func (t *Tracker) Occupancy() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupancy
}

// Size returns the total number of tracked participants, present or not.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the current roster.
func (t *Tracker) Snapshot() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Participant, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	return out
}

func crossedZero(previous, current int) bool {
	return (previous == 0) != (current == 0)
}
