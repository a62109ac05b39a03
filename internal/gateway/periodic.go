package gateway

import (
	"net/netip"
	"time"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/gwlog"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// isRegistered reports whether topicID is registered for addr, the
// predicate the request engine's sweep needs before it will deliver.
func (g *Gateway) isRegistered(addr netip.AddrPort, topicID uint16) bool {
	sub, ok := g.subscribers.Get(addr)
	if !ok {
		return false
	}
	ti, ok := sub.Topics[topicID]
	return ok && ti.IsRegistered
}

// kickRegistration starts a REGISTER exchange for addr/topicID unless the
// registration id space is congested, in which case the request stays
// buffered until a later sweep frees an id.
func (g *Gateway) kickRegistration(addr netip.AddrPort, topicID uint16) {
	if g.registrations.Congested() {
		gwlog.Warn("registration id space congested", "subscriber", addr, "topicId", topicID)
		return
	}
	g.registrations.ManageRegistration(addr, topicID)
}

// onRegistrationAccepted marks a subscriber's topic registered, once a
// delayed REGACK arrives for a topic entry that still exists.
func (g *Gateway) onRegistrationAccepted(addr netip.AddrPort, topicID uint16) {
	sub, ok := g.subscribers.Get(addr)
	if !ok {
		return
	}
	ti, ok := sub.Topics[topicID]
	if !ok {
		return
	}
	ti.IsRegistered = true
}

// onRegistrationRejected drops the subscription entirely; a subscriber
// that refused to register for a topic has nothing further delivered.
func (g *Gateway) onRegistrationRejected(addr netip.AddrPort, topicID uint16) {
	g.subIndex.Delete(addr, topicID)
}

func (g *Gateway) checkActiveClients() {
	g.clients.CheckActive(g.clockSvc.Now(), func(addr netip.AddrPort, info *client.Info) {
		_ = g.Send(addr, &protocol.PingReq{})
	}, g.onClientLost)
}

func (g *Gateway) checkAsleepClients() {
	g.clients.CheckAsleep(g.clockSvc.Now(), g.onClientLost)
}

// onClientLost tears down every pending delivery still addressed to a
// subscriber whose session just went Lost; the session record itself is
// kept so a later reconnect still finds its ClientID.
func (g *Gateway) onClientLost(addr netip.AddrPort, info *client.Info) {
	gwlog.Info("client lost", "addr", addr, "clientId", info.ClientID)
	g.requests.DropAllFor(addr)
}

// drainPendingRetain flushes every topic a subscriber buffered at
// SUBSCRIBE time into a request-engine delivery.
func (g *Gateway) drainPendingRetain() {
	pending := g.pendingRetain
	g.pendingRetain = make(map[netip.AddrPort][]uint16)
	for addr, topicIDs := range pending {
		for _, topicID := range topicIDs {
			id, ok := g.requests.EnqueueRetain(addr, topicID)
			if !ok {
				continue
			}
			g.requests.TrySendNow(id)
		}
	}
}

// startAwakenCheck schedules the periodic awaken-drain tick for addr if
// one isn't already running: a sleeping subscriber that PINGREQs with its
// own clientId is held Awake until its pending deliveries drain or the
// retransmission budget expires.
func (g *Gateway) startAwakenCheck(addr netip.AddrPort) {
	sub := g.subscribers.GetOrCreate(addr)
	if sub.AwakenCheckEvent != nil {
		return
	}
	sub.AwakenStartTime = g.clockSvc.Now()
	sub.AwakenCheckEvent = g.clockSvc.SchedulePeriodic(g.cfg.AwakenSubscriberCheckInterval, func() { g.tickAwakenCheck(addr) })
}

// tickAwakenCheck fires on every AwakenSubscriberCheckInterval while addr
// is Awake. It ends the drain, returning addr to Asleep and sending the
// deferred PINGRESP, once either no request still targets addr or the
// retransmission budget (RetransmissionLimit * RetransmissionInterval) has
// elapsed since the drain started.
func (g *Gateway) tickAwakenCheck(addr netip.AddrPort) {
	sub, ok := g.subscribers.Get(addr)
	if !ok {
		return
	}
	budget := time.Duration(g.cfg.RetransmissionLimit) * g.cfg.RetransmissionInterval
	elapsed := g.clockSvc.Now().Sub(sub.AwakenStartTime)
	if g.requests.PendingFor(addr) && elapsed < budget {
		return
	}

	if sub.AwakenCheckEvent != nil {
		sub.AwakenCheckEvent.Cancel()
		sub.AwakenCheckEvent = nil
	}

	info, ok := g.clients.Get(addr)
	if ok && info.State == client.Awake {
		info.State = client.Asleep
		info.Touch(g.clockSvc.Now())
	}
	_ = g.Send(addr, &protocol.PingResp{})
}
