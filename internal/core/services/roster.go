package services

import (
	"sort"
	"sync"

	"meetroom/internal/core/domain"
)

// RosterDelta lists ids that appeared or disappeared after applying an event.
type RosterDelta struct {
	Joined []domain.ParticipantID
	Left   []domain.ParticipantID
}

func (d RosterDelta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}

// Roster is the in-memory membership view built from presence events.
// Join and leave deltas are applied incrementally; a sync replaces the
// whole view so missed deltas heal on the next snapshot.
type Roster struct {
	mu      sync.RWMutex
	members map[domain.ParticipantID]domain.Participant
}

func NewRoster() *Roster {
	return &Roster{members: make(map[domain.ParticipantID]domain.Participant)}
}

// ApplySync replaces the roster with a full snapshot.
func (r *Roster) ApplySync(snapshot []domain.Participant) RosterDelta {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[domain.ParticipantID]domain.Participant, len(snapshot))
	for _, p := range snapshot {
		next[p.ID] = p
	}

	var delta RosterDelta
	for id := range r.members {
		if _, ok := next[id]; !ok {
			delta.Left = append(delta.Left, id)
		}
	}
	for id := range next {
		if _, ok := r.members[id]; !ok {
			delta.Joined = append(delta.Joined, id)
		}
	}
	r.members = next

	sortIDs(delta.Joined)
	sortIDs(delta.Left)
	return delta
}

// ApplyJoin upserts participants. Re-announcements update state but are
// not reported as joins.
func (r *Roster) ApplyJoin(participants []domain.Participant) RosterDelta {
	r.mu.Lock()
	defer r.mu.Unlock()

	var delta RosterDelta
	for _, p := range participants {
		if _, ok := r.members[p.ID]; !ok {
			delta.Joined = append(delta.Joined, p.ID)
		}
		r.members[p.ID] = p
	}
	sortIDs(delta.Joined)
	return delta
}

func (r *Roster) ApplyLeave(participants []domain.Participant) RosterDelta {
	r.mu.Lock()
	defer r.mu.Unlock()

	var delta RosterDelta
	for _, p := range participants {
		if _, ok := r.members[p.ID]; ok {
			delete(r.members, p.ID)
			delta.Left = append(delta.Left, p.ID)
		}
	}
	sortIDs(delta.Left)
	return delta
}

// Upsert stores the local participant's own state without reporting a delta.
func (r *Roster) Upsert(p domain.Participant) {
	r.mu.Lock()
	r.members[p.ID] = p
	r.mu.Unlock()
}

func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	return p, ok
}

// List returns participants ordered by join time.
func (r *Roster) List() []domain.Participant {
	r.mu.RLock()
	list := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		list = append(list, p)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

// Remote returns every member id except self.
func (r *Roster) Remote(self domain.ParticipantID) []domain.ParticipantID {
	r.mu.RLock()
	ids := make([]domain.ParticipantID, 0, len(r.members))
	for id := range r.members {
		if id != self {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sortIDs(ids)
	return ids
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func sortIDs(ids []domain.ParticipantID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
