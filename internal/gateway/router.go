package gateway

import (
	"net/netip"
	"time"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

var (
	activeOnly    = []client.State{client.Active}
	activeOrAwake = []client.State{client.Active, client.Awake}
	activeOrAsleep = []client.State{client.Active, client.Asleep}
)

// route dispatches a decoded message to its handler after checking the
// per-type session-state precondition. SEARCHGW, CONNECT, and
// PUBLISH(QoS=-1) bypass the client table entirely.
func (g *Gateway) route(from netip.AddrPort, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SearchGw:
		g.handleSearchGw(from, m)
	case *protocol.Connect:
		g.handleConnect(from, m)
	case *protocol.Publish:
		if m.QoS == protocol.QoSMinusOne {
			g.handlePublishMinusOne(from, m)
			return
		}
		g.withState(from, activeOnly, client.Publisher, func(info *client.Info) { g.handlePublish(from, info, m) })
	case *protocol.WillTopic:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handleWillTopic(from, info, m) })
	case *protocol.WillTopicUpd:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handleWillTopicUpd(from, info, m) })
	case *protocol.WillMsg:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handleWillMsg(from, info, m) })
	case *protocol.WillMsgUpd:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handleWillMsgUpd(from, info, m) })
	case *protocol.Register:
		g.withState(from, activeOnly, client.Publisher, func(info *client.Info) { g.handleRegister(from, info, m) })
	case *protocol.RegAck:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handleRegAck(from, info, m) })
	case *protocol.PubRel:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handlePubRel(from, info, m) })
	case *protocol.Subscribe:
		g.withState(from, activeOnly, client.Subscriber, func(info *client.Info) { g.handleSubscribe(from, info, m) })
	case *protocol.Unsubscribe:
		g.withState(from, activeOnly, client.Subscriber, func(info *client.Info) { g.handleUnsubscribe(from, info, m) })
	case *protocol.PingResp:
		g.withState(from, activeOnly, client.Unknown, func(info *client.Info) { g.handlePingResp(from, info, m) })
	case *protocol.PubAck:
		g.withState(from, activeOrAwake, client.Unknown, func(info *client.Info) { g.handlePubAck(from, info, m) })
	case *protocol.PubRec:
		g.withState(from, activeOrAwake, client.Unknown, func(info *client.Info) { g.handlePubRec(from, info, m) })
	case *protocol.PubComp:
		g.withState(from, activeOrAwake, client.Unknown, func(info *client.Info) { g.handlePubComp(from, info, m) })
	case *protocol.PingReq:
		g.withState(from, activeOrAsleep, client.Unknown, func(info *client.Info) { g.handlePingReq(from, info, m) })
	case *protocol.Disconnect:
		g.withState(from, activeOrAsleep, client.Unknown, func(info *client.Info) { g.handleDisconnect(from, info, m) })
	}
}

// withState looks up the session for from, drops the packet if it has no
// session or isn't in one of allowed, touches lastReceivedAt, promotes the
// client's type on first observation (promote==client.Unknown skips
// promotion), and calls fn.
func (g *Gateway) withState(from netip.AddrPort, allowed []client.State, promote client.Type, fn func(*client.Info)) {
	info, ok := g.clients.Get(from)
	if !ok {
		return
	}
	matched := false
	for _, s := range allowed {
		if info.State == s {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	info.Touch(g.clockSvc.Now())
	if promote != client.Unknown {
		info.PromoteType(promote)
	}
	fn(info)
}

func (g *Gateway) handleSearchGw(from netip.AddrPort, m *protocol.SearchGw) {
	if g.state != Online {
		return
	}
	_ = g.Send(from, &protocol.GwInfo{GwId: g.gatewayID})
}

// handleConnect implements CONNECT processing: protocol-id check, clientId
// mismatch rejection, clean-session processing, congestion-gated admission
// of a brand-new session, and the will/no-will CONNACK branch.
func (g *Gateway) handleConnect(from netip.AddrPort, m *protocol.Connect) {
	if m.ProtocolId != 0x01 {
		_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.RejectedNotSupported})
		return
	}
	if len(m.ClientId) < 1 || len(m.ClientId) > 23 {
		return
	}

	info, exists := g.clients.Get(from)
	if exists {
		if m.ClientId != info.ClientID {
			_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.RejectedNotSupported})
			return
		}
		if m.CleanSession {
			if info.Type == client.Unknown {
				_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.RejectedNotSupported})
				return
			}
			g.cleanSession(from, info.Type)
		} else if info.Type == client.Subscriber {
			if sub, ok := g.subscribers.Get(from); ok {
				sub.SetAllTopicsRegistration(false, false)
			}
		}
	} else {
		if g.clients.Congested() {
			_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.RejectedCongestion})
			return
		}
		info = &client.Info{ClientID: m.ClientId}
		g.clients.Add(from, info)
	}

	info.KeepAlive = time.Duration(m.Duration) * time.Second
	info.State = client.Active
	info.Touch(g.clockSvc.Now())

	if m.Will {
		pub := g.publishers.GetOrCreate(from)
		pub.Will = true
		_ = g.Send(from, &protocol.WillTopicReq{})
		return
	}
	_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.Accepted})
}

// cleanSession resets a publisher's will state or removes every subscription
// a subscriber held. A session can be typed without that record existing
// (for example after only REGISTER, a QoS 0/1 PUBLISH, or UNSUBSCRIBE); then
// there is nothing to clean.
func (g *Gateway) cleanSession(addr netip.AddrPort, t client.Type) {
	if t == client.Publisher {
		if pub, ok := g.publishers.Get(addr); ok {
			pub.ResetWill()
		}
		return
	}
	sub, ok := g.subscribers.Get(addr)
	if !ok {
		return
	}
	for topicID := range sub.Topics {
		g.subIndex.Delete(addr, topicID)
		delete(sub.Topics, topicID)
	}
}

func (g *Gateway) handleWillTopic(from netip.AddrPort, info *client.Info, m *protocol.WillTopic) {
	pub := g.publishers.GetOrCreate(from)
	pub.WillQoS = m.QoS
	pub.WillRetain = m.Retain
	pub.WillTopic = m.Topic
	_ = g.Send(from, &protocol.WillMsgReq{})
}

func (g *Gateway) handleWillTopicUpd(from netip.AddrPort, info *client.Info, m *protocol.WillTopicUpd) {
	pub := g.publishers.GetOrCreate(from)
	pub.WillQoS = m.QoS
	pub.WillRetain = m.Retain
	pub.WillTopic = m.Topic
	_ = g.Send(from, &protocol.WillTopicResp{ReturnCode: protocol.Accepted})
}

func (g *Gateway) handleWillMsg(from netip.AddrPort, info *client.Info, m *protocol.WillMsg) {
	pub := g.publishers.GetOrCreate(from)
	pub.WillMsg = m.Data
	_ = g.Send(from, &protocol.ConnAck{ReturnCode: protocol.Accepted})
}

func (g *Gateway) handleWillMsgUpd(from netip.AddrPort, info *client.Info, m *protocol.WillMsgUpd) {
	pub := g.publishers.GetOrCreate(from)
	pub.WillMsg = m.Data
	_ = g.Send(from, &protocol.WillMsgResp{ReturnCode: protocol.Accepted})
}

func (g *Gateway) handlePingReq(from netip.AddrPort, info *client.Info, m *protocol.PingReq) {
	if m.ClientId != "" {
		if info.ClientID != m.ClientId {
			return
		}
		if info.Type == client.Subscriber {
			g.startAwakenCheck(from)
			info.State = client.Awake
			return
		}
	}
	_ = g.Send(from, &protocol.PingResp{})
}

func (g *Gateway) handlePingResp(from netip.AddrPort, info *client.Info, m *protocol.PingResp) {
	info.SentPingReq = false
}

func (g *Gateway) handleDisconnect(from netip.AddrPort, info *client.Info, m *protocol.Disconnect) {
	info.SleepDuration = time.Duration(m.Duration) * time.Second
	if m.Duration > 0 {
		info.State = client.Asleep
	} else {
		info.State = client.Disconnected
	}
	_ = g.Send(from, &protocol.Disconnect{Duration: m.Duration, HasDuration: true})
}
