package subscriber

import (
	"net/netip"
	"testing"

	"github.com/gnatt-io/gnatt/internal/protocol"
)

func addr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

func TestInsertReplacesQoS(t *testing.T) {
	idx := NewIndex()
	a := addr(1)
	idx.Insert(a, 5, protocol.QoSZero)
	idx.Insert(a, 5, protocol.QoSTwo)

	if subs := idx.SubscribersOf(5, protocol.QoSZero); len(subs) != 0 {
		t.Fatalf("expected old QoS entry to be replaced, got %v", subs)
	}
	subs := idx.SubscribersOf(5, protocol.QoSTwo)
	if _, ok := subs[a]; !ok {
		t.Fatalf("expected subscriber under new QoS")
	}
	qos, ok := idx.Find(a, 5)
	if !ok || qos != protocol.QoSTwo {
		t.Fatalf("expected Find to report QoSTwo, got %v ok=%v", qos, ok)
	}
}

func TestDeletePrunesEmptyKeys(t *testing.T) {
	idx := NewIndex()
	a, b := addr(1), addr(2)
	idx.Insert(a, 5, protocol.QoSOne)
	idx.Insert(b, 5, protocol.QoSOne)

	idx.Delete(a, 5)
	if subs := idx.SubscribersOf(5, protocol.QoSOne); len(subs) != 1 {
		t.Fatalf("expected one remaining subscriber, got %d", len(subs))
	}

	idx.Delete(b, 5)
	if subs := idx.SubscribersOf(5, protocol.QoSOne); len(subs) != 0 {
		t.Fatalf("expected key to be pruned once empty")
	}
	if qoSet := idx.QoSsFor(5); len(qoSet) != 0 {
		t.Fatalf("expected topicIDToQoS to be pruned, got %v", qoSet)
	}
	idx.CheckInvariants()
}

func TestDeleteAllForSubscriber(t *testing.T) {
	idx := NewIndex()
	a := addr(1)
	idx.Insert(a, 5, protocol.QoSOne)
	idx.Insert(a, 6, protocol.QoSTwo)
	idx.DeleteAllForSubscriber(a)
	if _, ok := idx.Find(a, 5); ok {
		t.Fatalf("expected no subscriptions left for subscriber")
	}
	if _, ok := idx.Find(a, 6); ok {
		t.Fatalf("expected no subscriptions left for subscriber")
	}
	idx.CheckInvariants()
}
