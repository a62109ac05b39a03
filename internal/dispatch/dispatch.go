// Package dispatch implements the fan-out algorithm: given a decoded
// inbound PUBLISH, deliver it to every matching subscriber at the
// appropriate per-subscriber effective QoS.
package dispatch

import (
	"net/netip"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/message"
	"github.com/gnatt-io/gnatt/internal/protocol"
	"github.com/gnatt-io/gnatt/internal/request"
	"github.com/gnatt-io/gnatt/internal/subscriber"
)

// Publish is the inbound payload to fan out.
type Publish struct {
	TopicID     uint16
	TopicIDType protocol.TopicIdType
	Dup         bool
	QoS         protocol.QoS
	Retain      bool
	Data        []byte
}

// Engine wires the subscription index, subscriber/client tables, message
// store, and request engine together to implement the fan-out algorithm.
type Engine struct {
	index       *subscriber.Index
	subscribers *subscriber.Table
	clients     *client.Table
	messages    *message.Store
	requests    *request.Engine
	sender      request.Sender
	register    func(subscriber netip.AddrPort, topicID uint16)
}

// New constructs a dispatch engine. register kicks a REGISTER exchange
// (the registration engine), decoupling this package from it directly.
// sender is used to deliver an effective QoS 0/−1 PUBLISH directly, bypassing
// the message store and request engine entirely.
func New(index *subscriber.Index, subscribers *subscriber.Table, clients *client.Table, messages *message.Store, requests *request.Engine, sender request.Sender, register func(netip.AddrPort, uint16)) *Engine {
	return &Engine{
		index:       index,
		subscribers: subscribers,
		clients:     clients,
		messages:    messages,
		requests:    requests,
		sender:      sender,
		register:    register,
	}
}

// Dispatch fans pub out to every subscriber of its topic. isMessageAdded
// lazily stages at most one MessageStore row for the whole fan-out, on the
// first QoS>=1 send or the first buffered delivery (buffering stages a row
// at any QoS).
func (e *Engine) Dispatch(pub Publish) {
	qosSet := e.index.QoSsFor(pub.TopicID)
	if len(qosSet) == 0 {
		return
	}

	var messagesKey uint16
	isMessageAdded := false
	ensureMessage := func() uint16 {
		if isMessageAdded {
			return messagesKey
		}
		id, ok := e.messages.Add(message.Info{
			TopicID: pub.TopicID, TopicIDType: pub.TopicIDType,
			Dup: pub.Dup, QoS: pub.QoS, Retain: pub.Retain, Data: pub.Data,
		})
		if ok {
			messagesKey = id
			isMessageAdded = true
		}
		return messagesKey
	}

	for q := range qosSet {
		subs := e.index.SubscribersOf(pub.TopicID, q)
		for addr := range subs {
			e.dispatchOne(addr, pub, q, ensureMessage)
		}
	}
}

func (e *Engine) dispatchOne(addr netip.AddrPort, pub Publish, subQoS protocol.QoS, ensureMessage func() uint16) {
	info, ok := e.clients.Get(addr)
	if !ok {
		return
	}

	switch info.State {
	case client.Active:
		sub := e.subscribers.GetOrCreate(addr)
		topicInfo, known := sub.Topics[pub.TopicID]
		if known && topicInfo.IsRegistered {
			e.addAndSend(addr, pub, subQoS, ensureMessage)
			return
		}
		if !known {
			sub.Topics[pub.TopicID] = &subscriber.TopicInfo{TopicIDType: pub.TopicIDType}
		}
		e.register(addr, pub.TopicID)
		e.buffer(addr, pub.TopicID, ensureMessage)
	case client.Awake:
		e.addAndSend(addr, pub, subQoS, ensureMessage)
	case client.Asleep:
		e.buffer(addr, pub.TopicID, ensureMessage)
	default:
		// Disconnected, Lost: skip.
	}
}

// addAndSend delivers pub to addr, already known Active-registered or Awake.
// At effective QoS 0 or −1 it sends immediately and never touches the
// message store or request engine; only QoS 1/2 stage a MessageStore row
// and a RequestInfo.
func (e *Engine) addAndSend(addr netip.AddrPort, pub Publish, subQoS protocol.QoS, ensureMessage func() uint16) {
	effective := protocol.MinQoS(subQoS, pub.QoS)
	if effective <= protocol.QoSZero {
		_ = e.sender.Send(addr, &protocol.Publish{
			Dup: pub.Dup, QoS: effective, Retain: pub.Retain,
			TopicIdType: pub.TopicIDType, TopicId: pub.TopicID, MsgId: 0, Data: pub.Data,
		})
		return
	}

	mid := ensureMessage()
	if mid == 0 {
		return // message store congested; fan-out to this subscriber is dropped
	}
	id, ok := e.requests.EnqueuePublish(addr, pub.TopicID, mid)
	if !ok {
		return // request id space congested
	}
	e.requests.TrySendNow(id)
}

func (e *Engine) buffer(addr netip.AddrPort, topicID uint16, ensureMessage func() uint16) {
	mid := ensureMessage()
	if mid == 0 {
		return
	}
	e.requests.EnqueuePublish(addr, topicID, mid)
}
