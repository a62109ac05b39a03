package gateway

import (
	"net/netip"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/dispatch"
	"github.com/gnatt-io/gnatt/internal/gwlog"
	"github.com/gnatt-io/gnatt/internal/protocol"
	"github.com/gnatt-io/gnatt/internal/publisher"
	"github.com/gnatt-io/gnatt/internal/retain"
	"github.com/gnatt-io/gnatt/internal/subscriber"
)

func (g *Gateway) handleRegister(from netip.AddrPort, info *client.Info, m *protocol.Register) {
	id, _, err := g.topics.RegisterTopic(m.TopicName)
	if err != nil {
		_ = g.Send(from, &protocol.RegAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedNotSupported})
		return
	}
	if id == 0 {
		_ = g.Send(from, &protocol.RegAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedCongestion})
		return
	}
	_ = g.Send(from, &protocol.RegAck{TopicId: id, MsgId: m.MsgId, ReturnCode: protocol.Accepted})
}

// publishCongested implements checkPublishCongestion: a retained PUBLISH
// needs room in the retain store, a QoS>=1 PUBLISH needs room in both the
// message store and the request id space (since dispatch may enqueue
// immediately).
func (g *Gateway) publishCongested(qos protocol.QoS, retainFlag bool) bool {
	if retainFlag && g.retained.Congested() {
		return true
	}
	if qos == protocol.QoSOne || qos == protocol.QoSTwo {
		return g.messages.Congested() || g.requests.Congested()
	}
	return false
}

// handlePublish implements the inbound PUBLISH algorithm: topic
// resolution, congestion, optional retain, and the QoS 0/1/2 branch.
func (g *Gateway) handlePublish(from netip.AddrPort, info *client.Info, m *protocol.Publish) {
	topicInfo, ok := g.topics.LookupByID(m.TopicId)
	if !ok {
		_ = g.Send(from, &protocol.PubAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedInvalidTopicID})
		return
	}
	if topicInfo.Type != m.TopicIdType {
		_ = g.Send(from, &protocol.PubAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedNotSupported})
		return
	}
	if g.publishCongested(m.QoS, m.Retain) {
		_ = g.Send(from, &protocol.PubAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedCongestion})
		return
	}

	if m.Retain {
		g.retained.Put(m.TopicId, retain.Entry{Dup: m.Dup, QoS: m.QoS, TopicIDType: m.TopicIdType, Data: m.Data})
	}

	pub := dispatch.Publish{TopicID: m.TopicId, TopicIDType: m.TopicIdType, Dup: m.Dup, QoS: m.QoS, Retain: m.Retain, Data: m.Data}

	switch m.QoS {
	case protocol.QoSZero:
		g.dispatcher.Dispatch(pub)
	case protocol.QoSOne:
		g.dispatcher.Dispatch(pub)
		_ = g.Send(from, &protocol.PubAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.Accepted})
	case protocol.QoSTwo:
		if m.MsgId == 0 {
			_ = g.Send(from, &protocol.PubAck{TopicId: m.TopicId, MsgId: m.MsgId, ReturnCode: protocol.RejectedNotSupported})
			return
		}
		pub := g.publishers.GetOrCreate(from)
		pub.InflightQoS2[m.MsgId] = publisher.DataInfo{TopicID: m.TopicId, TopicIDType: m.TopicIdType, Retain: m.Retain, Data: m.Data}
		_ = g.Send(from, &protocol.PubRec{MsgId: m.MsgId})
	}
}

// handlePublishMinusOne implements the connection-less QoS -1 publish path:
// no client lookup, no ack, valid only against a predefined topic id.
func (g *Gateway) handlePublishMinusOne(from netip.AddrPort, m *protocol.Publish) {
	topicInfo, ok := g.topics.LookupByID(m.TopicId)
	if !ok || m.TopicIdType != protocol.TopicPreDefined || topicInfo.Type != protocol.TopicPreDefined {
		return
	}
	g.dispatcher.Dispatch(dispatch.Publish{
		TopicID: m.TopicId, TopicIDType: protocol.TopicPreDefined,
		QoS: protocol.QoSMinusOne, Data: m.Data,
	})
}

// handlePubRel completes a QoS-2 inbound publish: the staged payload is
// dispatched exactly once and erased, and PUBCOMP is returned, but only if
// a publisher record exists at all for from (a PUBREL from an address with
// no publisher record at all gets no reply).
func (g *Gateway) handlePubRel(from netip.AddrPort, info *client.Info, m *protocol.PubRel) {
	pub, ok := g.publishers.Get(from)
	if !ok {
		return
	}
	if data, exists := pub.InflightQoS2[m.MsgId]; exists {
		g.dispatcher.Dispatch(dispatch.Publish{
			TopicID: data.TopicID, TopicIDType: data.TopicIDType,
			QoS: protocol.QoSTwo, Retain: data.Retain, Data: data.Data,
		})
		delete(pub.InflightQoS2, m.MsgId)
	}
	_ = g.Send(from, &protocol.PubComp{MsgId: m.MsgId})
}

// handleSubscribe resolves the subscribed topic (predefined lookup or
// normal/short allocate-or-find), replaces any prior subscription on the
// same topic, buffers a retained-message drain if one exists, and answers
// SUBACK. Because SUBACK itself conveys topicId back to the subscriber, the
// subscriber's own topic entry is marked registered immediately: no
// REGISTER/REGACK round trip is owed before first delivery.
func (g *Gateway) handleSubscribe(from netip.AddrPort, info *client.Info, m *protocol.Subscribe) {
	var topicID uint16
	topicIDType := m.TopicIdType
	if m.TopicIdType == protocol.TopicPreDefined {
		ti, ok := g.topics.LookupByID(m.TopicId)
		if !ok || ti.Type != protocol.TopicPreDefined {
			_ = g.Send(from, &protocol.SubAck{QoS: m.QoS, TopicId: 0, MsgId: m.MsgId, ReturnCode: protocol.RejectedInvalidTopicID})
			return
		}
		topicID = m.TopicId
	} else {
		id, _, err := g.topics.RegisterTopic(m.TopicName)
		if err != nil {
			_ = g.Send(from, &protocol.SubAck{QoS: m.QoS, TopicId: 0, MsgId: m.MsgId, ReturnCode: protocol.RejectedNotSupported})
			return
		}
		if id == 0 {
			_ = g.Send(from, &protocol.SubAck{QoS: m.QoS, TopicId: 0, MsgId: m.MsgId, ReturnCode: protocol.RejectedCongestion})
			return
		}
		topicID = id
	}

	g.subIndex.Insert(from, topicID, m.QoS)

	sub := g.subscribers.GetOrCreate(from)
	if ti, ok := sub.Topics[topicID]; ok {
		ti.TopicIDType = topicIDType
		ti.IsRegistered = true
	} else {
		sub.Topics[topicID] = &subscriber.TopicInfo{TopicIDType: topicIDType, IsRegistered: true}
	}

	g.bufferRetain(from, topicID)

	_ = g.Send(from, &protocol.SubAck{QoS: m.QoS, TopicId: topicID, MsgId: m.MsgId, ReturnCode: protocol.Accepted})
}

// bufferRetain stages topicID for the subscriber's next pendingRetain
// drain tick, if a retained message currently exists for it.
func (g *Gateway) bufferRetain(addr netip.AddrPort, topicID uint16) {
	if _, ok := g.retained.Get(topicID); !ok {
		return
	}
	g.pendingRetain[addr] = append(g.pendingRetain[addr], topicID)
}

func (g *Gateway) handleUnsubscribe(from netip.AddrPort, info *client.Info, m *protocol.Unsubscribe) {
	var topicID uint16
	var found bool
	if m.TopicIdType == protocol.TopicPreDefined {
		ti, ok := g.topics.LookupByID(m.TopicId)
		if ok && ti.Type == protocol.TopicPreDefined {
			topicID, found = m.TopicId, true
		}
	} else {
		id, ok := g.topics.LookupByName(m.TopicName)
		if ok {
			topicID, found = id, true
		}
	}
	if found {
		g.subIndex.Delete(from, topicID)
		if sub, ok := g.subscribers.Get(from); ok {
			delete(sub.Topics, topicID)
		}
	}
	_ = g.Send(from, &protocol.UnsubAck{MsgId: m.MsgId})
}

func (g *Gateway) handleRegAck(from netip.AddrPort, info *client.Info, m *protocol.RegAck) {
	g.registrations.HandleRegAck(from, m.MsgId, m.TopicId, m.ReturnCode)
}

// handlePubAck handles an inbound PUBACK from a subscriber acking our
// outbound QoS-1 delivery: retire the request, and drop the subscription
// on RejectedInvalidTopicID. Any other non-Accepted code is logged and
// ignored rather than treated as fatal, since the return code is
// attacker-controlled input and must not trap the gateway.
func (g *Gateway) handlePubAck(from netip.AddrPort, info *client.Info, m *protocol.PubAck) {
	if m.MsgId > 0 {
		g.requests.HandlePubAck(from, m.MsgId)
	}
	switch m.ReturnCode {
	case protocol.Accepted:
	case protocol.RejectedInvalidTopicID:
		g.subIndex.Delete(from, m.TopicId)
	default:
		gwlog.Warn("unexpected PUBACK return code", "from", from, "returnCode", m.ReturnCode)
	}
}

func (g *Gateway) handlePubRec(from netip.AddrPort, info *client.Info, m *protocol.PubRec) {
	g.requests.HandlePubRec(from, m.MsgId)
}

func (g *Gateway) handlePubComp(from netip.AddrPort, info *client.Info, m *protocol.PubComp) {
	g.requests.HandlePubComp(from, m.MsgId)
}
