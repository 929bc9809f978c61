// README: Subscription groups and authorization-scoped event fan-out.
package broadcast

import (
	"log"
	"sync"

	"dispatch/internal/policy"
)

// Subscriber is one connected observer's membership in a single group.
// Events arrive on Events(); the channel is closed on Unsubscribe.
type Subscriber struct {
	identity policy.Identity
	kind     GroupKind
	key      string
	ch       chan Event
	closed   bool
}

// Events is the subscriber's receive channel. A full buffer drops events
// for this subscriber only.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Router owns transient group membership and fans events out to the
// groups implied by a ride snapshot. It caches no authorization:
// policy.CanObserve runs per subscriber at every delivery, so a
// subscriber that lost authorization after subscribing stops receiving
// events without being removed.
type Router struct {
	mu     sync.RWMutex
	groups map[GroupKind]map[string]map[*Subscriber]struct{}
	buffer int
}

// NewRouter creates a Router whose subscribers buffer up to buffer
// events each.
func NewRouter(buffer int) *Router {
	if buffer <= 0 {
		buffer = 16
	}
	return &Router{buffer: buffer}
}

// Subscribe adds an observer to a group. For GroupOps the key is fixed;
// the caller's key argument is ignored.
func (r *Router) Subscribe(observer policy.Identity, kind GroupKind, key string) *Subscriber {
	if kind == GroupOps {
		key = opsKey
	}
	sub := &Subscriber{
		identity: observer,
		kind:     kind,
		key:      key,
		ch:       make(chan Event, r.buffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups == nil {
		r.groups = make(map[GroupKind]map[string]map[*Subscriber]struct{})
	}
	byKey := r.groups[kind]
	if byKey == nil {
		byKey = make(map[string]map[*Subscriber]struct{})
		r.groups[kind] = byKey
	}
	members := byKey[key]
	if members == nil {
		members = make(map[*Subscriber]struct{})
		byKey[key] = members
	}
	members[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to
// call more than once.
func (r *Router) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.closed {
		return
	}
	if members, ok := r.groups[sub.kind][sub.key]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(r.groups[sub.kind], sub.key)
		}
	}
	sub.closed = true
	close(sub.ch)
}

// Publish fans an event out to the ride's groups: the ride's own group,
// the assigned driver's group, and operations. Delivery is best-effort
// and non-blocking per observer; one slow or dead subscriber never
// delays the rest, and a delivery failure never reaches the caller.
func (r *Router) Publish(ev Event, ride policy.RideView) {
	targets := [][2]string{
		{string(GroupRide), string(ride.ID)},
		{string(GroupOps), opsKey},
	}
	if ride.AssignedDriverID != "" {
		targets = append(targets, [2]string{string(GroupDriver), string(ride.AssignedDriverID)})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range targets {
		members := r.groups[GroupKind(t[0])][t[1]]
		for sub := range members {
			if !policy.CanObserve(sub.identity, ride) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				log.Printf("broadcast: dropping %s event for slow observer %s (ride %s)",
					ev.Kind, sub.identity.SubjectUID, ev.RideID)
			}
		}
	}
}

// GroupSize reports current membership of a group; used by tests and
// the ops surface.
func (r *Router) GroupSize(kind GroupKind, key string) int {
	if kind == GroupOps {
		key = opsKey
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[kind][key])
}
