// Package registration implements the registration engine: REGISTER/REGACK
// exchanges that establish a topicId's registration status for one
// subscriber before the request engine will deliver to it.
package registration

import (
	"net/netip"
	"time"

	"github.com/gnatt-io/gnatt/internal/idspace"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// Sender is the outbound collaborator; the gateway wires it to the
// transport + codec.
type Sender interface {
	Send(addr netip.AddrPort, msg protocol.Message) error
}

// Info is one in-flight REGISTER exchange.
type Info struct {
	RequestTime           time.Time
	Subscriber            netip.AddrPort
	TopicID               uint16
	RetransmissionCounter int
}

// Config bundles the engine's external collaborators.
type Config struct {
	Sender                 Sender
	TopicName              func(topicID uint16) (string, bool)
	OnAccepted             func(subscriber netip.AddrPort, topicID uint16)
	OnRejected             func(subscriber netip.AddrPort, topicID uint16)
	RetransmissionInterval time.Duration
	RetransmissionLimit    int
	Now                    func() time.Time
}

// Engine is the registrationId -> Info table.
type Engine struct {
	registrations map[uint16]*Info
	usedIDs       map[uint16]struct{}
	nextID        uint16

	sender     Sender
	topicName  func(uint16) (string, bool)
	onAccepted func(netip.AddrPort, uint16)
	onRejected func(netip.AddrPort, uint16)

	retransmissionInterval time.Duration
	retransmissionLimit    int
	now                    func() time.Time
}

// NewEngine constructs a registration engine from cfg.
func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		registrations:          make(map[uint16]*Info),
		usedIDs:                make(map[uint16]struct{}),
		sender:                 cfg.Sender,
		topicName:              cfg.TopicName,
		onAccepted:             cfg.OnAccepted,
		onRejected:             cfg.OnRejected,
		retransmissionInterval: cfg.RetransmissionInterval,
		retransmissionLimit:    cfg.RetransmissionLimit,
		now:                    now,
	}
}

// Congested reports whether the registration id space is full.
func (e *Engine) Congested() bool {
	return idspace.Congested(e.usedIDs, true)
}

// ManageRegistration starts a REGISTER exchange with subscriber for
// topicID. It returns false if the topic is unknown or the registration
// id space is congested.
func (e *Engine) ManageRegistration(subscriber netip.AddrPort, topicID uint16) (uint16, bool) {
	name, ok := e.topicName(topicID)
	if !ok {
		return 0, false
	}
	id, ok := idspace.Next(e.usedIDs, e.nextID, true)
	if !ok {
		return 0, false
	}
	e.usedIDs[id] = struct{}{}
	e.nextID = id
	e.registrations[id] = &Info{
		RequestTime: e.now(),
		Subscriber:  subscriber,
		TopicID:     topicID,
	}
	e.send(subscriber, &protocol.Register{TopicId: topicID, MsgId: id, TopicName: name})
	return id, true
}

func (e *Engine) drop(id uint16) {
	delete(e.registrations, id)
	delete(e.usedIDs, id)
}

func (e *Engine) send(addr netip.AddrPort, msg protocol.Message) {
	_ = e.sender.Send(addr, msg)
}

// Sweep retransmits or drops every in-flight registration whose
// retransmission window has elapsed.
func (e *Engine) Sweep() {
	now := e.now()
	for id, info := range e.registrations {
		if now.Sub(info.RequestTime) <= e.retransmissionInterval {
			continue
		}
		if info.RetransmissionCounter >= e.retransmissionLimit {
			e.drop(id)
			continue
		}
		name, ok := e.topicName(info.TopicID)
		if !ok {
			e.drop(id)
			continue
		}
		e.send(info.Subscriber, &protocol.Register{TopicId: info.TopicID, MsgId: id, TopicName: name})
		info.RetransmissionCounter++
		info.RequestTime = now
	}
}

// HandleRegAck processes REGACK(msgId=registrationId, topicId, returnCode)
// from subscriber. A REGACK for an unknown or mismatched registrationId is
// tolerated and ignored (it may arrive after the registration already
// dropped). A zero topicId is a protocol violation and traps.
func (e *Engine) HandleRegAck(subscriber netip.AddrPort, registrationID, topicID uint16, rc protocol.ReturnCode) {
	info, ok := e.registrations[registrationID]
	if !ok || info.Subscriber != subscriber {
		return
	}
	if topicID == 0 {
		panic("registration: REGACK carried topicId 0")
	}
	e.drop(registrationID)

	if rc != protocol.Accepted {
		e.onRejected(subscriber, info.TopicID)
		return
	}
	e.onAccepted(subscriber, info.TopicID)
}

// CheckInvariants panics if the usedIDs mirror has drifted from
// registrations.
func (e *Engine) CheckInvariants() {
	idspace.CheckMirror("registration.usedIDs", e.usedIDs, len(e.registrations))
}
