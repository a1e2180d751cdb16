package app

import (
	"sync"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
)

type GroupManagerImpl struct {
	mu     sync.RWMutex
	groups map[domain.GroupID]core.GroupService
}

func NewGroupManager() core.GroupManager {
	return &GroupManagerImpl{groups: make(map[domain.GroupID]core.GroupService)}
}

// AddMember holds the manager lock across lookup and insert so an empty
// group cannot be released between the two.
func (f *GroupManagerImpl) AddMember(id domain.GroupID, cid core.ConnID, ms core.MemberSession) (core.GroupService, core.MemberSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		g = core.NewGroupService(id)
		f.groups[id] = g
	}
	return g, g.AddMember(cid, ms)
}

func (f *GroupManagerImpl) Get(id domain.GroupID) (core.GroupService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	g, ok := f.groups[id]
	return g, ok
}

func (f *GroupManagerImpl) List() []core.GroupInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.GroupInfo, 0, len(f.groups))
	for id, g := range f.groups {
		out = append(out, core.GroupInfo{ID: id, MemberCount: g.MemberCount()})
	}
	return out
}

// ReleaseIfEmpty forgets a group with no members left.
func (f *GroupManagerImpl) ReleaseIfEmpty(id domain.GroupID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || g.MemberCount() > 0 {
		return false
	}
	delete(f.groups, id)
	return true
}
