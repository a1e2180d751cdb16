package core

import (
	"sync"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// groupImpl is a threadsafe in-memory group.
// It never closes adapter-owned resources.
type groupImpl struct {
	id     domain.GroupID
	mu     sync.RWMutex
	byCID  map[ConnID]MemberSession
	byUser map[domain.UserID]ConnID
}

func NewGroupService(id domain.GroupID) GroupService {
	return &groupImpl{
		id:     id,
		byCID:  make(map[ConnID]MemberSession),
		byUser: make(map[domain.UserID]ConnID),
	}
}

func (g *groupImpl) ID() domain.GroupID { return g.id }

func (g *groupImpl) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byCID)
}

func (g *groupImpl) AddMember(cid ConnID, ms MemberSession) MemberSession {
	u := ms.Meta().ID
	g.mu.Lock()
	defer g.mu.Unlock()
	var replaced MemberSession
	if old, ok := g.byUser[u]; ok && old != cid {
		replaced = g.byCID[old]
		delete(g.byCID, old)
	}
	g.byCID[cid] = ms
	g.byUser[u] = cid
	log.Info().Str("module", "core.group").Str("group", string(g.id)).Str("cid", string(cid)).Str("user", string(u)).Msg("member added")
	return replaced
}

func (g *groupImpl) RemoveMember(cid ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms, ok := g.byCID[cid]
	if !ok {
		return
	}
	u := ms.Meta().ID
	if g.byUser[u] == cid {
		delete(g.byUser, u)
	}
	delete(g.byCID, cid)
	log.Info().Str("module", "core.group").Str("group", string(g.id)).Str("cid", string(cid)).Msg("member removed")
}

func (g *groupImpl) Broadcast(from ConnID, data Frame) PublishResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := PublishResult{}
	for cid, m := range g.byCID {
		if cid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.group").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (g *groupImpl) SendTo(to domain.UserID, data Frame) (PublishResult, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cid, ok := g.byUser[to]
	if !ok {
		return PublishResult{}, false
	}
	m := g.byCID[cid]
	if err := m.Signal().TrySend(data); err != nil {
		return PublishResult{Dropped: []MemberSession{m}}, true
	}
	return PublishResult{SendTo: 1}, true
}

func (g *groupImpl) MembersSnapshot() []MemberDTO {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]MemberDTO, 0, len(g.byCID))
	for _, ms := range g.byCID {
		m := ms.Meta()
		out = append(out, MemberDTO{ID: m.ID, JoinedAt: m.JoinedAt.UnixMilli()})
	}
	return out
}
