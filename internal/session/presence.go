package session

import (
	"fmt"

	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/notify"
)

// initializeLocalIdentity publishes the local user once. A local state that
// already carries a user is left alone, so reconnects keep name and color.
func (s *Session) initializeLocalIdentity(rt *runtime) {
	aw := rt.aw
	if st, ok := aw.LocalState(); ok && st.User != nil {
		return
	}
	var assigned []string
	for id, st := range aw.States() {
		if id != aw.ClientID() && st.User.Complete() {
			assigned = append(assigned, st.User.Color)
		}
	}
	aw.SetLocalUser(awareness.UserInfo{
		ClientID:   aw.ClientID(),
		Name:       rt.identity.DisplayName(s.opts.Names),
		Color:      identity.AssignColor(s.opts.Palette, assigned),
		Picture:    rt.identity.PictureURL(),
		LastActive: s.opts.Clock.Now().UnixMilli(),
	})
}

// observePresence loads the current user list and follows presence changes.
func (s *Session) observePresence(rt *runtime) {
	h := rt.aw.OnChange(func(ch awareness.Change) { s.presenceChanged(rt, ch) })
	users := completeUsers(rt.aw.States())

	if !s.lockCurrent(rt) {
		rt.aw.OffChange(h)
		return
	}
	rt.presenceHandle = h
	rt.users = users
	s.mu.Unlock()
}

func (s *Session) presenceChanged(rt *runtime, ch awareness.Change) {
	states := rt.aw.States()
	if !s.lockCurrent(rt) {
		return
	}
	local := rt.aw.ClientID()
	var events []notify.Event
	switch {
	case rt.settling:
		// Peers already in the room are still reporting in.
	case rt.suppressPresence:
		// The first change after start only refreshes the list.
		rt.suppressPresence = false
	default:
		for _, id := range ch.Clients() {
			st, ok := states[id]
			if id == local || !ok || !st.User.Complete() {
				continue
			}
			// An update counts as a join once its user record is complete.
			if _, known := rt.users[id]; known {
				continue
			}
			events = append(events, notify.Event{
				Kind:     notify.Joined,
				ClientID: id,
				Name:     st.User.Name,
				Message:  fmt.Sprintf("%s joined the room.", st.User.Name),
			})
		}
		for _, id := range ch.Removed {
			if u, ok := rt.users[id]; ok && id != local {
				s.scheduleLeave(rt, u)
			}
		}
	}
	rt.users = completeUsers(states)
	s.mu.Unlock()

	s.notify(events...)
}

// scheduleLeave announces that u left unless it is back within the grace
// delay. Callers hold s.mu.
func (s *Session) scheduleLeave(rt *runtime, u awareness.UserInfo) {
	rt.timers.AfterFunc(s.opts.LeaveGrace, func() {
		if _, back := rt.aw.States()[u.ClientID]; back {
			return
		}
		if !s.lockCurrent(rt) {
			return
		}
		s.mu.Unlock()
		s.notify(notify.Event{
			Kind:     notify.Left,
			ClientID: u.ClientID,
			Name:     u.Name,
			Message:  fmt.Sprintf("%s left the room.", u.Name),
		})
	})
}

func completeUsers(states map[uint64]awareness.State) map[uint64]awareness.UserInfo {
	users := make(map[uint64]awareness.UserInfo, len(states))
	for id, st := range states {
		if !st.User.Complete() {
			continue
		}
		u := *st.User
		u.ClientID = id
		users[id] = u
	}
	return users
}
