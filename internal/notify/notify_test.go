package notify

import (
	"testing"

	"buxton/internal/acl"
	"buxton/internal/wire"
)

func TestNotifyDeliversExactlyOnceThenStopsAfterUnnotify(t *testing.T) {
	n := New(acl.NopChecker{})
	sub := Subscription{ClientID: 1, Msgid: 7}
	n.Notify("net", "mtu", sub)

	subjectLabel := func(uint64) (string, bool) { return "", false }

	change := Change{Layer: "base", Group: "net", Name: "mtu", Value: wire.Value{Type: wire.TypeInt32, I32: 9000}, Label: "_"}
	deliveries := n.Publish(change, subjectLabel)
	if len(deliveries) != 1 || deliveries[0].Msgid != 7 || deliveries[0].ClientID != 1 {
		t.Fatalf("deliveries = %+v", deliveries)
	}

	if !n.Unnotify(1, 7) {
		t.Fatal("expected Unnotify to find and remove the subscription")
	}

	deliveries = n.Publish(change, subjectLabel)
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries after Unnotify, got %+v", deliveries)
	}
}

func TestNotifySubscriptionSurvivesBeforeGroupExists(t *testing.T) {
	// Resolved Open Question: subscribing before the group exists is legal
	// and is fulfilled by a later CREATE-GROUP + SET.
	n := New(acl.NopChecker{})
	n.Notify("net", "mtu", Subscription{ClientID: 1, Msgid: 1})

	change := Change{Group: "net", Name: "mtu", Value: wire.Value{Type: wire.TypeInt32, I32: 1500}, Label: "_"}
	deliveries := n.Publish(change, func(uint64) (string, bool) { return "", false })
	if len(deliveries) != 1 {
		t.Fatalf("expected the pre-registered subscription to fire, got %+v", deliveries)
	}
}

func TestPublishFiltersByLabel(t *testing.T) {
	n := New(acl.StarChecker{})
	n.Notify("net", "mtu", Subscription{ClientID: 1, Msgid: 1})

	subjectLabel := func(uint64) (string, bool) { return "user_u", true }
	change := Change{Group: "net", Name: "mtu", Value: wire.Value{Type: wire.TypeInt32, I32: 1500}, Label: "system_u"}

	deliveries := n.Publish(change, subjectLabel)
	if len(deliveries) != 0 {
		t.Fatalf("expected label mismatch to suppress delivery, got %+v", deliveries)
	}
}

func TestRetractClientRemovesAllItsSubscriptions(t *testing.T) {
	n := New(acl.NopChecker{})
	n.Notify("net", "mtu", Subscription{ClientID: 1, Msgid: 1})
	n.Notify("net", "hostname", Subscription{ClientID: 1, Msgid: 2})
	n.Notify("net", "mtu", Subscription{ClientID: 2, Msgid: 3})

	n.RetractClient(1)

	change := Change{Group: "net", Name: "mtu", Value: wire.Value{Type: wire.TypeInt32, I32: 1500}, Label: "_"}
	deliveries := n.Publish(change, func(uint64) (string, bool) { return "", false })
	if len(deliveries) != 1 || deliveries[0].ClientID != 2 {
		t.Fatalf("expected only client 2's subscription to remain, got %+v", deliveries)
	}
}

func TestUnsetDeliveryBypassesLabelFilter(t *testing.T) {
	n := New(acl.StarChecker{})
	n.Notify("net", "mtu", Subscription{ClientID: 1, Msgid: 1})

	change := Change{Group: "net", Name: "mtu", Unset: true}
	deliveries := n.Publish(change, func(uint64) (string, bool) { return "user_u", true })
	if len(deliveries) != 1 {
		t.Fatalf("expected unset tombstone to deliver regardless of label, got %+v", deliveries)
	}
}
