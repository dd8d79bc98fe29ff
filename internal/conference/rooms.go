package conference

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Room is one agent's power-dial session. At most one contact leg is live
// in a room at a time.
type Room struct {
	Name        string
	WorkspaceID string
	CampaignID  string
	AgentID     string
	AgentSID    string

	AgentJoined bool
	// ContactSID is the live contact leg, empty between calls.
	ContactSID     string
	ContactQueueID int64

	OpenedAt time.Time
}

// RoomName derives a stable room name from campaign and agent.
func RoomName(campaignID, agentID string) string {
	return "campaign-" + campaignID + "-agent-" + agentID
}

// AgentLabel is the participant label of the agent leg.
func AgentLabel(agentID string) string { return "agent:" + agentID }

func agentFromLabel(label string) (string, bool) {
	id, ok := strings.CutPrefix(label, "agent:")
	return id, ok && id != ""
}

// roomSet is read by HTTP handlers and written by campaign lanes.
type roomSet struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRoomSet() *roomSet { return &roomSet{rooms: map[string]*Room{}} }

func (s *roomSet) put(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.rooms[r.Name] = &cp
}

func (s *roomSet) get(name string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[name]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

func (s *roomSet) update(name string, fn func(r *Room)) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		return Room{}, false
	}
	fn(r)
	return *r, true
}

func (s *roomSet) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, name)
}

func (s *roomSet) list(campaignID string) []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0)
	for _, r := range s.rooms {
		if campaignID == "" || r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
