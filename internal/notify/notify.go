// Package notify maintains the (group, name) -> subscribers mapping and
// turns resolver mutations into CHANGED deliveries (spec §4.6).
//
// The event loop is the sole owner of all server-side state (spec §5), so
// unlike the teacher's SubscriptionIndex (internal/shared/connection.go),
// which uses copy-on-write atomic snapshots for a genuinely concurrent
// broadcast path, this map is plain and unsynchronized.
package notify

import (
	"buxton/internal/acl"
	"buxton/internal/wire"
)

// Subscription is a (group, name) watch owned by one client, keyed by the
// msgid of the NOTIFY request that created it (spec §3 "Subscription").
type Subscription struct {
	ClientID uint64
	Msgid    uint64
}

// Change is the fanout record the resolver hands to the notifier after a
// successful mutation (spec §4.6).
type Change struct {
	Layer string
	Group string
	Name  string

	// Unset is true for a tombstone delivery; Value/Label are meaningless
	// in that case (spec §6 ADD: the value parameter is omitted for UNSET).
	Unset bool
	Value wire.Value
	Label string
}

// Delivery is one CHANGED frame addressed to one client.
type Delivery struct {
	ClientID uint64
	Msgid    uint64
	Change   Change
}

type key struct {
	group string
	name  string
}

// Notifier holds the subscription graph as one map keyed by the composite
// (group, name) pair, each entry holding that key's set of subscriptions.
type Notifier struct {
	checker acl.Checker
	subs    map[key]map[Subscription]struct{}
}

func New(checker acl.Checker) *Notifier {
	return &Notifier{
		checker: checker,
		subs:    make(map[key]map[Subscription]struct{}),
	}
}

// Notify registers a subscription. Per the resolved Open Question (spec §9),
// the group need not exist yet: subscriptions are keyed purely by
// (group, name) and are fulfilled by whatever future CREATE-GROUP + SET
// arrives (spec invariant 7: subscriptions are layer-agnostic).
func (n *Notifier) Notify(group, name string, sub Subscription) {
	k := key{group, name}
	set, ok := n.subs[k]
	if !ok {
		set = make(map[Subscription]struct{})
		n.subs[k] = set
	}
	set[sub] = struct{}{}
}

// Unnotify removes the subscription, identified by the msgid echoed in an
// UNNOTIFY request, owned by the given client. It reports whether a
// subscription was found and removed.
func (n *Notifier) Unnotify(clientID, msgid uint64) bool {
	target := Subscription{ClientID: clientID, Msgid: msgid}
	for k, set := range n.subs {
		if _, ok := set[target]; ok {
			delete(set, target)
			if len(set) == 0 {
				delete(n.subs, k)
			}
			return true
		}
	}
	return false
}

// RetractClient removes every subscription owned by clientID, called when a
// client is evicted (spec §4.4/§5 "Cancellation").
func (n *Notifier) RetractClient(clientID uint64) {
	for k, set := range n.subs {
		for sub := range set {
			if sub.ClientID == clientID {
				delete(set, sub)
			}
		}
		if len(set) == 0 {
			delete(n.subs, k)
		}
	}
}

// SubjectLabel resolves a subscriber's label for the access check;
// SubjectLabel reports whether the client carries one at all (direct
// clients disable the check per spec §3 "Client").
type SubjectLabel func(clientID uint64) (label string, has bool)

// Publish computes the CHANGED deliveries for a mutation, label-filtering
// per subscriber (spec §4.6): a subscription is skipped when both the
// subscriber and the new value carry a label and access is denied.
func (n *Notifier) Publish(c Change, subjectLabel SubjectLabel) []Delivery {
	k := key{c.Group, c.Name}
	set, ok := n.subs[k]
	if !ok {
		return nil
	}

	deliveries := make([]Delivery, 0, len(set))
	for sub := range set {
		if !c.Unset {
			label, has := subjectLabel(sub.ClientID)
			if has && c.Label != "" && !n.checker.MayAccess(label, c.Label, acl.Read) {
				continue
			}
		}
		deliveries = append(deliveries, Delivery{
			ClientID: sub.ClientID,
			Msgid:    sub.Msgid,
			Change:   c,
		})
	}
	return deliveries
}
