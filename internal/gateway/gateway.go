// Package gateway implements the gateway lifecycle and the packet router
// that ties every other internal package into the MQTT-SN session/delivery
// engine.
package gateway

import (
	"context"
	"crypto/sha1"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/clock"
	"github.com/gnatt-io/gnatt/internal/dispatch"
	"github.com/gnatt-io/gnatt/internal/gwconfig"
	"github.com/gnatt-io/gnatt/internal/gwlog"
	"github.com/gnatt-io/gnatt/internal/message"
	"github.com/gnatt-io/gnatt/internal/protocol"
	"github.com/gnatt-io/gnatt/internal/publisher"
	"github.com/gnatt-io/gnatt/internal/registration"
	"github.com/gnatt-io/gnatt/internal/request"
	"github.com/gnatt-io/gnatt/internal/retain"
	"github.com/gnatt-io/gnatt/internal/subscriber"
	"github.com/gnatt-io/gnatt/internal/topic"
	"github.com/gnatt-io/gnatt/internal/transport"
)

// State is the gateway's own Offline/Online lifecycle position, distinct
// from any one client's session state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "Online"
	}
	return "Offline"
}

// Gateway owns every session/delivery table and the single goroutine that
// processes packets and timer callbacks to completion.
type Gateway struct {
	cfg  *gwconfig.Config
	conn transport.PacketConn

	clockSvc *clock.Service
	work     chan func()

	state     State
	gatewayID byte

	topics        *topic.Registry
	clients       *client.Table
	publishers    *publisher.Table
	subscribers   *subscriber.Table
	subIndex      *subscriber.Index
	retained      *retain.Store
	messages      *message.Store
	requests      *request.Engine
	registrations *registration.Engine
	dispatcher    *dispatch.Engine

	pendingRetain map[netip.AddrPort][]uint16

	broadcastAddr netip.AddrPort

	stateTimer         *clock.Handle
	advertiseTimer     *clock.Handle
	activeCheckTimer   *clock.Handle
	asleepCheckTimer   *clock.Handle
	pendingRetainTimer *clock.Handle
	requestsTimer      *clock.Handle
	registrationsTimer *clock.Handle
	messagesClearTimer *clock.Handle
}

// New wires together every table, index, and engine the gateway owns
// against cfg and conn.
func New(cfg *gwconfig.Config, conn transport.PacketConn) (*Gateway, error) {
	broadcastAddr, err := netip.ParseAddrPort(cfg.BroadcastAddress + ":" + strconv.Itoa(cfg.DestPort))
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:           cfg,
		conn:          conn,
		work:          make(chan func(), 256),
		topics:        topic.New(),
		clients:       client.NewTable(cfg.MaximumClients),
		publishers:    publisher.NewTable(),
		subscribers:   subscriber.NewTable(),
		subIndex:      subscriber.NewIndex(),
		retained:      retain.New(),
		messages:      message.New(),
		pendingRetain: make(map[netip.AddrPort][]uint16),
		broadcastAddr: broadcastAddr,
		gatewayID:     deriveGatewayID(),
	}
	g.clockSvc = clock.New(g.post)
	g.topics.SeedPredefined(cfg.PredefinedTopics)

	g.requests = request.NewEngine(request.Config{
		Sender:   g,
		Messages: g.messages,
		Retained: g.retained,
		SubscriberState: func(addr netip.AddrPort) (client.State, bool) {
			info, ok := g.clients.Get(addr)
			if !ok {
				return client.Disconnected, false
			}
			return info.State, true
		},
		SubscriptionQoS:        g.subIndex.Find,
		IsRegistered:           g.isRegistered,
		KickRegistration:       g.kickRegistration,
		RetransmissionInterval: cfg.RetransmissionInterval,
		RetransmissionLimit:    cfg.RetransmissionLimit,
		Now:                    g.clockSvc.Now,
	})
	g.registrations = registration.NewEngine(registration.Config{
		Sender: g,
		TopicName: func(id uint16) (string, bool) {
			info, ok := g.topics.LookupByID(id)
			if !ok {
				return "", false
			}
			return info.Name, true
		},
		OnAccepted:             g.onRegistrationAccepted,
		OnRejected:             g.onRegistrationRejected,
		RetransmissionInterval: cfg.RetransmissionInterval,
		RetransmissionLimit:    cfg.RetransmissionLimit,
		Now:                    g.clockSvc.Now,
	})
	g.dispatcher = dispatch.New(g.subIndex, g.subscribers, g.clients, g.messages, g.requests, g, g.kickRegistration)

	return g, nil
}

// deriveGatewayID derives a stable single-byte gateway id from a
// freshly-generated UUID rather than a boot-time counter.
func deriveGatewayID() byte {
	id := uuid.New()
	sum := sha1.Sum(id[:])
	return sum[0]
}

// Send implements request.Sender and registration.Sender by encoding msg
// and handing it to the transport. A send failure is swallowed rather than
// treated as fatal.
func (g *Gateway) Send(addr netip.AddrPort, msg protocol.Message) error {
	_, err := g.conn.WriteTo(msg.Encode(), addr)
	return err
}

func (g *Gateway) post(fn func()) {
	g.work <- fn
}

// Run starts the gateway: the UDP read loop, the owning goroutine, and the
// Offline->Online lifecycle timer. It blocks until ctx is cancelled or an
// unrecoverable transport error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	g.state = Offline
	g.scheduleStateTimer(g.cfg.OfflineStateInterval)

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.readLoop(ctx) })
	grp.Go(func() error { return g.ownerLoop(ctx) })
	return grp.Wait()
}

func (g *Gateway) readLoop(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		n, from, err := g.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		data := append([]byte(nil), buf[:n]...)
		g.post(func() { g.handleDatagram(from, data) })
	}
}

func (g *Gateway) ownerLoop(ctx context.Context) error {
	for {
		select {
		case fn := <-g.work:
			fn()
		case <-ctx.Done():
			g.Crash()
			return ctx.Err()
		}
	}
}

func (g *Gateway) handleDatagram(from netip.AddrPort, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		gwlog.Warn("dropping undecodable datagram", "from", from, "error", err)
		return
	}
	g.route(from, msg)
}

// Stop cancels every periodic event and closes the transport, ending the
// gateway gracefully.
func (g *Gateway) Stop() {
	g.cancelStateTimer()
	g.cancelPeriodicEvents()
	_ = g.conn.Close()
}

// Crash force-cancels every clock event without running pending callbacks
// and destroys the socket without a graceful close.
func (g *Gateway) Crash() {
	g.cancelStateTimer()
	g.cancelPeriodicEvents()
	_ = g.conn.Close()
}

func (g *Gateway) cancelStateTimer() {
	if g.stateTimer != nil {
		g.stateTimer.Cancel()
		g.stateTimer = nil
	}
}

func (g *Gateway) cancelPeriodicEvents() {
	for _, h := range []*clock.Handle{
		g.advertiseTimer, g.activeCheckTimer, g.asleepCheckTimer,
		g.pendingRetainTimer, g.requestsTimer, g.registrationsTimer, g.messagesClearTimer,
	} {
		if h != nil {
			h.Cancel()
		}
	}
	g.advertiseTimer = nil
	g.activeCheckTimer = nil
	g.asleepCheckTimer = nil
	g.pendingRetainTimer = nil
	g.requestsTimer = nil
	g.registrationsTimer = nil
	g.messagesClearTimer = nil
}

// onStateTimer flips the gateway between Offline and Online and arms the
// next toggle: Offline->Online after OfflineStateInterval, Online->Offline
// after OnlineStateInterval. Either interval left at zero means the gateway
// stays in that state indefinitely once reached.
func (g *Gateway) onStateTimer() {
	if g.state == Offline {
		g.state = Online
		gwlog.Info("gateway online", "gatewayId", g.gatewayID)
		g.startPeriodicEvents()
		g.scheduleStateTimer(g.cfg.OnlineStateInterval)
		return
	}
	g.state = Offline
	gwlog.Info("gateway offline", "gatewayId", g.gatewayID)
	g.cancelPeriodicEvents()
	g.scheduleStateTimer(g.cfg.OfflineStateInterval)
}

// scheduleStateTimer arms the next Offline<->Online toggle dt after now. A
// non-positive dt leaves the gateway in its current state with no timer
// armed.
func (g *Gateway) scheduleStateTimer(dt time.Duration) {
	if dt <= 0 {
		g.stateTimer = nil
		return
	}
	g.stateTimer = g.clockSvc.ScheduleAt(g.clockSvc.Now().Add(dt), g.onStateTimer)
}

func (g *Gateway) startPeriodicEvents() {
	g.advertiseTimer = g.clockSvc.SchedulePeriodic(g.cfg.AdvertiseInterval, g.sendAdvertise)
	g.activeCheckTimer = g.clockSvc.SchedulePeriodic(g.cfg.ActiveClientsCheckInterval, g.checkActiveClients)
	g.asleepCheckTimer = g.clockSvc.SchedulePeriodic(g.cfg.AsleepClientsCheckInterval, g.checkAsleepClients)
	g.pendingRetainTimer = g.clockSvc.SchedulePeriodic(g.cfg.PendingRetainCheckInterval, g.drainPendingRetain)
	g.requestsTimer = g.clockSvc.SchedulePeriodic(g.cfg.RequestsCheckInterval, g.requests.Sweep)
	g.registrationsTimer = g.clockSvc.SchedulePeriodic(g.cfg.RegistrationsCheckInterval, g.registrations.Sweep)
	g.messagesClearTimer = g.clockSvc.SchedulePeriodic(g.cfg.MessagesClearInterval, g.clearMessages)
}

func (g *Gateway) sendAdvertise() {
	if g.state != Online {
		return
	}
	_, _ = g.conn.WriteTo((&protocol.Advertise{GwId: g.gatewayID, Duration: uint16(g.cfg.AdvertiseInterval.Seconds())}).Encode(), g.broadcastAddr)
}

func (g *Gateway) clearMessages() {
	dropped := g.messages.Sweep(g.requests.Referenced)
	if dropped > 0 {
		gwlog.Info("message store swept", "dropped", dropped)
	}
}
