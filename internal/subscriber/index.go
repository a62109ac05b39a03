package subscriber

import (
	"net/netip"

	"github.com/gnatt-io/gnatt/internal/protocol"
)

type subKey struct {
	TopicID uint16
	QoS     protocol.QoS
}

// Index is the (topicId,QoS) -> set<subscriber> map and its reverse
// topicId -> set<QoS> index. Invariant: every (t,q) key in subs is
// non-empty and q is present in topicIdToQoS[t]. At most one (topicId,QoS)
// entry exists per subscriber per topic; re-subscribing at a different QoS
// replaces the prior entry.
type Index struct {
	subs         map[subKey]map[netip.AddrPort]struct{}
	topicIDToQoS map[uint16]map[protocol.QoS]struct{}
	bySubscriber map[netip.AddrPort]map[uint16]protocol.QoS
}

// NewIndex returns an empty subscription index.
func NewIndex() *Index {
	return &Index{
		subs:         make(map[subKey]map[netip.AddrPort]struct{}),
		topicIDToQoS: make(map[uint16]map[protocol.QoS]struct{}),
		bySubscriber: make(map[netip.AddrPort]map[uint16]protocol.QoS),
	}
}

// Find returns the QoS a subscriber currently holds for topicID, if any.
func (idx *Index) Find(addr netip.AddrPort, topicID uint16) (protocol.QoS, bool) {
	qos, ok := idx.bySubscriber[addr][topicID]
	return qos, ok
}

// Insert subscribes addr to topicID at qos, replacing any prior
// subscription addr held for the same topicID at a different QoS. It
// returns true if this is the first subscriber for (topicID,qos) at all.
func (idx *Index) Insert(addr netip.AddrPort, topicID uint16, qos protocol.QoS) (first bool) {
	if oldQoS, ok := idx.Find(addr, topicID); ok {
		if oldQoS == qos {
			return false
		}
		idx.removeFromKey(subKey{topicID, oldQoS}, addr)
	}

	k := subKey{topicID, qos}
	set, exists := idx.subs[k]
	if !exists {
		set = make(map[netip.AddrPort]struct{})
		idx.subs[k] = set
	}
	set[addr] = struct{}{}

	qset, ok := idx.topicIDToQoS[topicID]
	if !ok {
		qset = make(map[protocol.QoS]struct{})
		idx.topicIDToQoS[topicID] = qset
	}
	qset[qos] = struct{}{}

	if idx.bySubscriber[addr] == nil {
		idx.bySubscriber[addr] = make(map[uint16]protocol.QoS)
	}
	idx.bySubscriber[addr][topicID] = qos

	return !exists
}

// Delete removes addr's subscription to topicID, if any, and reports
// whether one existed.
func (idx *Index) Delete(addr netip.AddrPort, topicID uint16) bool {
	qos, ok := idx.bySubscriber[addr][topicID]
	if !ok {
		return false
	}
	idx.removeFromKey(subKey{topicID, qos}, addr)
	delete(idx.bySubscriber[addr], topicID)
	if len(idx.bySubscriber[addr]) == 0 {
		delete(idx.bySubscriber, addr)
	}
	return true
}

// DeleteAllForSubscriber removes every subscription addr holds.
func (idx *Index) DeleteAllForSubscriber(addr netip.AddrPort) {
	for topicID, qos := range idx.bySubscriber[addr] {
		idx.removeFromKey(subKey{topicID, qos}, addr)
	}
	delete(idx.bySubscriber, addr)
}

func (idx *Index) removeFromKey(k subKey, addr netip.AddrPort) {
	set := idx.subs[k]
	if set == nil {
		return
	}
	delete(set, addr)
	if len(set) == 0 {
		delete(idx.subs, k)
		qset := idx.topicIDToQoS[k.TopicID]
		delete(qset, k.QoS)
		if len(qset) == 0 {
			delete(idx.topicIDToQoS, k.TopicID)
		}
	}
}

// SubscribersOf returns the subscriber set for (topicID,qos).
func (idx *Index) SubscribersOf(topicID uint16, qos protocol.QoS) map[netip.AddrPort]struct{} {
	return idx.subs[subKey{topicID, qos}]
}

// QoSsFor returns the set of QoS levels subscribed for topicID, used by
// dispatch to fan a PUBLISH out across every matching (topicID,qos) pair.
func (idx *Index) QoSsFor(topicID uint16) map[protocol.QoS]struct{} {
	return idx.topicIDToQoS[topicID]
}

// CheckInvariants panics if any subs entry is empty or its QoS is missing
// from topicIDToQoS.
func (idx *Index) CheckInvariants() {
	for k, set := range idx.subs {
		if len(set) == 0 {
			panic("subscriber: empty subs entry was not pruned")
		}
		if _, ok := idx.topicIDToQoS[k.TopicID][k.QoS]; !ok {
			panic("subscriber: subs key missing from topicIDToQoS mirror")
		}
	}
}
