// Package request implements the request engine: one RequestInfo per
// subscriber-bound deliverable, its periodic retransmission sweep, QoS-2
// outbound promotion, and the awake-drain budget check.
package request

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/message"
	"github.com/gnatt-io/gnatt/internal/protocol"
	"github.com/gnatt-io/gnatt/internal/retain"

	"github.com/gnatt-io/gnatt/internal/idspace"
)

// Sender is the outbound collaborator; the gateway wires it to the
// transport + codec.
type Sender interface {
	Send(addr netip.AddrPort, msg protocol.Message) error
}

// Info is one subscriber-bound deliverable. Exactly one of MessagesKey and
// RetainMessagesKey is non-zero.
type Info struct {
	RequestTime           time.Time
	Subscriber            netip.AddrPort
	TopicID               uint16
	MessageType           protocol.MsgType // PUBLISH or PUBREL
	SendAtLeastOnce       bool
	RetransmissionCounter int
	MessagesKey           uint16
	RetainMessagesKey     uint16
}

// Engine owns the requestId -> Info table and the collaborators needed to
// resolve and retransmit a deliverable.
type Engine struct {
	requests map[uint16]*Info
	usedIDs  map[uint16]struct{}
	nextID   uint16

	sender   Sender
	messages *message.Store
	retained *retain.Store

	subscriberState  func(netip.AddrPort) (client.State, bool)
	subscriptionQoS  func(subscriber netip.AddrPort, topicID uint16) (protocol.QoS, bool)
	isRegistered     func(subscriber netip.AddrPort, topicID uint16) bool
	kickRegistration func(subscriber netip.AddrPort, topicID uint16)

	retransmissionInterval time.Duration
	retransmissionLimit    int
	now                    func() time.Time
}

// Config bundles the engine's external collaborators, all supplied by the
// gateway package so this package stays decoupled from gateway wiring.
type Config struct {
	Sender                 Sender
	Messages               *message.Store
	Retained               *retain.Store
	SubscriberState        func(netip.AddrPort) (client.State, bool)
	SubscriptionQoS        func(netip.AddrPort, uint16) (protocol.QoS, bool)
	IsRegistered           func(netip.AddrPort, uint16) bool
	KickRegistration       func(netip.AddrPort, uint16)
	RetransmissionInterval time.Duration
	RetransmissionLimit    int
	Now                    func() time.Time
}

// NewEngine constructs a request engine from cfg.
func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		requests:               make(map[uint16]*Info),
		usedIDs:                make(map[uint16]struct{}),
		sender:                 cfg.Sender,
		messages:               cfg.Messages,
		retained:               cfg.Retained,
		subscriberState:        cfg.SubscriberState,
		subscriptionQoS:        cfg.SubscriptionQoS,
		isRegistered:           cfg.IsRegistered,
		kickRegistration:       cfg.KickRegistration,
		retransmissionInterval: cfg.RetransmissionInterval,
		retransmissionLimit:    cfg.RetransmissionLimit,
		now:                    now,
	}
}

func (e *Engine) alloc() (uint16, bool) {
	id, ok := idspace.Next(e.usedIDs, e.nextID, true)
	if !ok {
		return 0, false
	}
	e.usedIDs[id] = struct{}{}
	e.nextID = id
	return id, true
}

// Congested reports whether the request id space is full.
func (e *Engine) Congested() bool {
	return idspace.Congested(e.usedIDs, true)
}

// EnqueuePublish records a PUBLISH deliverable for subscriber, referencing
// a row already staged in the message store. It returns the requestId that
// will be used as the wire msgId. Buffered deliveries are enqueued at any
// QoS; one whose effective QoS is 0 or -1 is sent once and dropped.
func (e *Engine) EnqueuePublish(subscriber netip.AddrPort, topicID, messagesKey uint16) (uint16, bool) {
	id, ok := e.alloc()
	if !ok {
		return 0, false
	}
	e.requests[id] = &Info{
		RequestTime:     e.now(),
		Subscriber:      subscriber,
		TopicID:         topicID,
		MessageType:     protocol.PUBLISH,
		SendAtLeastOnce: true,
		MessagesKey:     messagesKey,
	}
	return id, true
}

// EnqueueRetain records a retained-message deliverable for subscriber at
// SUBSCRIBE time, referencing retain.Store[topicID].
func (e *Engine) EnqueueRetain(subscriber netip.AddrPort, topicID uint16) (uint16, bool) {
	id, ok := e.alloc()
	if !ok {
		return 0, false
	}
	e.requests[id] = &Info{
		RequestTime:       e.now(),
		Subscriber:        subscriber,
		TopicID:           topicID,
		MessageType:       protocol.PUBLISH,
		SendAtLeastOnce:   true,
		RetainMessagesKey: topicID,
	}
	return id, true
}

func (e *Engine) drop(id uint16) {
	delete(e.requests, id)
	delete(e.usedIDs, id)
}

func (e *Engine) resolve(info *Info) (message.Info, bool) {
	switch {
	case info.MessagesKey != 0 && info.RetainMessagesKey != 0:
		panic("request: RequestInfo has both messagesKey and retainMessagesKey set")
	case info.MessagesKey != 0:
		return e.messages.Get(info.MessagesKey)
	case info.RetainMessagesKey != 0:
		entry, ok := e.retained.Get(info.RetainMessagesKey)
		if !ok {
			return message.Info{}, false
		}
		return message.Info{
			TopicID:     info.RetainMessagesKey,
			TopicIDType: entry.TopicIDType,
			Dup:         entry.Dup,
			QoS:         entry.QoS,
			Retain:      true,
			Data:        entry.Data,
		}, true
	default:
		panic("request: RequestInfo has neither messagesKey nor retainMessagesKey set")
	}
}

// Sweep runs one pass of the periodic retransmission algorithm over every
// pending request.
func (e *Engine) Sweep() {
	now := e.now()
	for id, info := range e.requests {
		e.processOne(id, info, now)
	}
}

// TrySendNow applies one sweep step to a single just-enqueued request,
// letting a fresh Active/registered subscriber receive its first PUBLISH
// without waiting for the next periodic sweep tick.
func (e *Engine) TrySendNow(id uint16) {
	info, ok := e.requests[id]
	if !ok {
		return
	}
	e.processOne(id, info, e.now())
}

func (e *Engine) processOne(id uint16, info *Info, now time.Time) {
	state, known := e.subscriberState(info.Subscriber)
	if !known || (state != client.Active && state != client.Awake) {
		return // buffered: subscriber not reachable yet
	}

	if info.MessageType == protocol.PUBREL {
		e.sweepPubRel(id, info, now)
		return
	}

	msg, ok := e.resolve(info)
	if !ok {
		e.drop(id)
		return
	}

	subQoS, subscribed := e.subscriptionQoS(info.Subscriber, info.TopicID)
	if !subscribed {
		e.drop(id)
		return
	}

	if state == client.Active && !e.isRegistered(info.Subscriber, info.TopicID) {
		e.kickRegistration(info.Subscriber, info.TopicID)
		return
	}

	effective := protocol.MinQoS(subQoS, msg.QoS)
	switch {
	case effective <= protocol.QoSZero:
		e.send(info.Subscriber, &protocol.Publish{
			Dup: msg.Dup, QoS: effective, Retain: msg.Retain,
			TopicIdType: msg.TopicIDType, TopicId: msg.TopicID, MsgId: id, Data: msg.Data,
		})
		e.drop(id)
	case info.SendAtLeastOnce:
		e.send(info.Subscriber, &protocol.Publish{
			Dup: msg.Dup, QoS: effective, Retain: msg.Retain,
			TopicIdType: msg.TopicIDType, TopicId: msg.TopicID, MsgId: id, Data: msg.Data,
		})
		info.RequestTime = now
		info.SendAtLeastOnce = false
	case now.Sub(info.RequestTime) > e.retransmissionInterval:
		if info.RetransmissionCounter >= e.retransmissionLimit {
			e.drop(id)
			return
		}
		e.send(info.Subscriber, &protocol.Publish{
			Dup: true, QoS: effective, Retain: msg.Retain,
			TopicIdType: msg.TopicIDType, TopicId: msg.TopicID, MsgId: id, Data: msg.Data,
		})
		info.RetransmissionCounter++
		info.RequestTime = now
	}
}

func (e *Engine) sweepPubRel(id uint16, info *Info, now time.Time) {
	if now.Sub(info.RequestTime) <= e.retransmissionInterval {
		return
	}
	if info.RetransmissionCounter >= e.retransmissionLimit {
		e.drop(id)
		return
	}
	e.send(info.Subscriber, &protocol.PubRel{MsgId: id})
	info.RetransmissionCounter++
	info.RequestTime = now
}

func (e *Engine) send(addr netip.AddrPort, msg protocol.Message) {
	_ = e.sender.Send(addr, msg)
}

// HandlePubRec promotes a QoS-2 outbound request from PUBLISH to PUBREL on
// receipt of PUBREC(msgId=requestId).
func (e *Engine) HandlePubRec(subscriber netip.AddrPort, requestID uint16) {
	info, ok := e.requests[requestID]
	if !ok || info.Subscriber != subscriber || info.MessageType != protocol.PUBLISH {
		return
	}
	info.MessageType = protocol.PUBREL
	info.RetransmissionCounter = 0
	info.RequestTime = e.now()
	e.send(subscriber, &protocol.PubRel{MsgId: requestID})
}

// HandlePubComp deletes the request on receipt of PUBCOMP(msgId=requestId).
func (e *Engine) HandlePubComp(subscriber netip.AddrPort, requestID uint16) {
	info, ok := e.requests[requestID]
	if !ok || info.Subscriber != subscriber {
		return
	}
	e.drop(requestID)
}

// HandlePubAck deletes a QoS-1 outbound request on receipt of
// PUBACK(msgId=requestId) from the subscriber it was sent to. An unknown or
// mismatched requestId is a late/duplicate ack and is ignored.
func (e *Engine) HandlePubAck(subscriber netip.AddrPort, requestID uint16) {
	info, ok := e.requests[requestID]
	if !ok || info.Subscriber != subscriber {
		return
	}
	e.drop(requestID)
}

// Referenced reports whether any pending request still references messageId,
// the predicate the message store's periodic sweep needs to decide whether a
// row is still reachable.
func (e *Engine) Referenced(messageID uint16) bool {
	for _, info := range e.requests {
		if info.MessagesKey == messageID {
			return true
		}
	}
	return false
}

// PendingFor reports whether any request still targets subscriber, used by
// the gateway's awake-drain check (tickAwakenCheck).
func (e *Engine) PendingFor(subscriber netip.AddrPort) bool {
	for _, info := range e.requests {
		if info.Subscriber == subscriber {
			return true
		}
	}
	return false
}

// DropAllFor removes every request targeting subscriber, called once a
// client's keep-alive or sleep-duration check declares its session Lost.
func (e *Engine) DropAllFor(subscriber netip.AddrPort) {
	for id, info := range e.requests {
		if info.Subscriber == subscriber {
			e.drop(id)
		}
	}
}

// CheckInvariants panics if the usedIDs mirror has drifted from requests,
// or a row is missing exactly one of the two message keys.
func (e *Engine) CheckInvariants() {
	idspace.CheckMirror("request.usedIDs", e.usedIDs, len(e.requests))
	for id, info := range e.requests {
		hasMessages := info.MessagesKey != 0
		hasRetain := info.RetainMessagesKey != 0
		if hasMessages == hasRetain {
			panic("request: requestId " + strconv.Itoa(int(id)) + " does not reference exactly one message key")
		}
	}
}
