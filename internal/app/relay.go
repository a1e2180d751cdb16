package app

import (
	"context"
	"sync"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type binding struct {
	group   domain.GroupID
	session core.MemberSession
	cancel  context.CancelFunc
}

// Relay fans frames out within a group. It stands in for the IM service the
// orchestrators talk through.
type Relay struct {
	Groups core.GroupManager
	Policy Policy

	mu    sync.RWMutex
	bound map[core.ConnID]*binding
}

func NewRelay(groups core.GroupManager, policy Policy) *Relay {
	return &Relay{Groups: groups, Policy: policy, bound: make(map[core.ConnID]*binding)}
}

// Join binds cid to group. An earlier connection of the same user in that
// group is kicked.
func (r *Relay) Join(cid core.ConnID, group domain.GroupID, ms core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	r.bound[cid] = &binding{group: group, session: ms, cancel: cancel}
	r.mu.Unlock()

	if _, old := r.Groups.AddMember(group, cid, ms); old != nil {
		for _, oc := range r.connsOf(old) {
			log.Info().Str("module", "app.relay").Str("cid", string(oc)).Msg("replaced by newer connection")
			r.Kick(oc)
		}
	}
	log.Info().Str("module", "app.relay").Str("cid", string(cid)).Str("group", string(group)).Str("user", string(ms.Meta().ID)).Msg("joined")
}

func (r *Relay) connsOf(ms core.MemberSession) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnID
	for cid, b := range r.bound {
		if b.session == ms {
			out = append(out, cid)
		}
	}
	return out
}

// OnFrame delivers data to one user or, with an empty to, to the rest of
// the group. It reports false when the destination is not connected.
func (r *Relay) OnFrame(cid core.ConnID, to domain.UserID, data core.Frame) bool {
	r.mu.RLock()
	b, ok := r.bound[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	g, ok := r.Groups.Get(b.group)
	if !ok {
		return false
	}

	var res core.PublishResult
	if to == core.Broadcast {
		res = g.Broadcast(cid, data)
	} else if res, ok = g.SendTo(to, data); !ok {
		return false
	}

	if r.Policy == nil {
		return true
	}
	for _, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(g, slow) {
		case KickMember:
			for _, sc := range r.connsOf(slow) {
				r.Kick(sc)
			}
		case MarkSlow, DropFrame, NoAction:
		}
	}
	return true
}

// Kick removes cid from its group and closes its transport.
func (r *Relay) Kick(cid core.ConnID) {
	r.mu.RLock()
	b, ok := r.bound[cid]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.session.Signal().Close()
	r.OnDisconnect(cid)
}

func (r *Relay) OnDisconnect(cid core.ConnID) {
	r.mu.Lock()
	b, ok := r.bound[cid]
	delete(r.bound, cid)
	r.mu.Unlock()
	if !ok {
		return
	}
	if g, ok := r.Groups.Get(b.group); ok {
		g.RemoveMember(cid)
		if r.Groups.ReleaseIfEmpty(b.group) {
			log.Info().Str("module", "app.relay").Str("group", string(b.group)).Msg("group released")
		}
	}
}

func (r *Relay) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bound)
}
