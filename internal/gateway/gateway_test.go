package gateway

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnatt-io/gnatt/internal/client"
	"github.com/gnatt-io/gnatt/internal/gwconfig"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// fakeConn is an in-memory transport.PacketConn recording every datagram
// sent, so tests can assert on the gateway's outbound traffic without a
// real socket.
type fakeConn struct {
	sent []sentMsg
}

type sentMsg struct {
	to  netip.AddrPort
	msg protocol.Message
}

func (c *fakeConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) { select {} }
func (c *fakeConn) WriteTo(buf []byte, to netip.AddrPort) (int, error) {
	msg, err := protocol.Decode(buf)
	if err != nil {
		return 0, err
	}
	c.sent = append(c.sent, sentMsg{to: to, msg: msg})
	return len(buf), nil
}
func (c *fakeConn) Close() error             { return nil }
func (c *fakeConn) LocalAddr() netip.AddrPort { return netip.AddrPort{} }

func (c *fakeConn) lastTo(addr netip.AddrPort) protocol.Message {
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].to == addr {
			return c.sent[i].msg
		}
	}
	return nil
}

func (c *fakeConn) countTo(addr netip.AddrPort, t protocol.MsgType) int {
	n := 0
	for _, s := range c.sent {
		if s.to == addr && s.msg.Type() == t {
			n++
		}
	}
	return n
}

func addrAt(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

func testConfig() *gwconfig.Config {
	return &gwconfig.Config{
		ListenAddr:                    ":0",
		BroadcastAddress:              "255.255.255.255",
		DestPort:                      10000,
		AdvertiseInterval:             15 * time.Second,
		OfflineStateInterval:          time.Hour,
		ActiveClientsCheckInterval:    time.Hour,
		AsleepClientsCheckInterval:    time.Hour,
		PendingRetainCheckInterval:    time.Hour,
		RequestsCheckInterval:         time.Hour,
		RegistrationsCheckInterval:    time.Hour,
		AwakenSubscriberCheckInterval: time.Hour,
		MessagesClearInterval:         time.Hour,
		RetransmissionInterval:        10 * time.Second,
		RetransmissionLimit:           3,
		MaximumClients:                0,
	}
}

func newTestGateway(t *testing.T, cfg *gwconfig.Config) (*Gateway, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	g, err := New(cfg, conn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.state = Online
	return g, conn
}

func connectClient(g *Gateway, addr netip.AddrPort, clientID string, keepAlive uint16) {
	g.route(addr, &protocol.Connect{ProtocolId: 0x01, Duration: keepAlive, ClientId: clientID})
}

// scenario 1: QoS-0 pub/sub.
func TestScenarioQoS0PubSub(t *testing.T) {
	g, conn := newTestGateway(t, testConfig())
	sub := addrAt(1)
	pub := addrAt(2)

	connectClient(g, sub, "s1", 60)
	g.route(sub, &protocol.Subscribe{QoS: protocol.QoSZero, TopicIdType: protocol.TopicNormal, MsgId: 1, TopicName: "room/temp"})
	suback, ok := conn.lastTo(sub).(*protocol.SubAck)
	if !ok || suback.ReturnCode != protocol.Accepted {
		t.Fatalf("expected SUBACK ACCEPTED, got %#v", conn.lastTo(sub))
	}
	topicID := suback.TopicId

	connectClient(g, pub, "p1", 60)
	g.route(pub, &protocol.Register{MsgId: 1, TopicName: "room/temp"})
	regack, ok := conn.lastTo(pub).(*protocol.RegAck)
	if !ok || regack.ReturnCode != protocol.Accepted || regack.TopicId != topicID {
		t.Fatalf("expected REGACK ACCEPTED(%d), got %#v", topicID, conn.lastTo(pub))
	}

	g.route(pub, &protocol.Publish{QoS: protocol.QoSZero, TopicIdType: protocol.TopicNormal, TopicId: topicID, Data: []byte("22")})

	got, ok := conn.lastTo(sub).(*protocol.Publish)
	if !ok || string(got.Data) != "22" || got.QoS != protocol.QoSZero || got.TopicId != topicID {
		t.Fatalf("expected PUBLISH(22) to subscriber, got %#v", conn.lastTo(sub))
	}
	if conn.countTo(pub, protocol.PUBACK) != 0 {
		t.Fatalf("QoS0 publish must not be PUBACKed")
	}
}

// scenario 2: QoS-2 round trip, including duplicate-PUBREL idempotence.
func TestScenarioQoS2RoundTrip(t *testing.T) {
	g, conn := newTestGateway(t, testConfig())
	sub := addrAt(1)
	pub := addrAt(2)

	connectClient(g, sub, "s1", 60)
	g.route(sub, &protocol.Subscribe{QoS: protocol.QoSTwo, TopicIdType: protocol.TopicNormal, MsgId: 1, TopicName: "room/temp"})
	suback := conn.lastTo(sub).(*protocol.SubAck)
	topicID := suback.TopicId

	connectClient(g, pub, "p1", 60)
	g.route(pub, &protocol.Register{MsgId: 1, TopicName: "room/temp"})
	g.route(pub, &protocol.Publish{QoS: protocol.QoSTwo, TopicIdType: protocol.TopicNormal, TopicId: topicID, MsgId: 7, Data: []byte("X")})

	pubrec, ok := conn.lastTo(pub).(*protocol.PubRec)
	if !ok || pubrec.MsgId != 7 {
		t.Fatalf("expected PUBREC(7), got %#v", conn.lastTo(pub))
	}
	if conn.countTo(sub, protocol.PUBLISH) != 0 {
		t.Fatalf("QoS2 publish must not dispatch before PUBREL")
	}

	g.route(pub, &protocol.PubRel{MsgId: 7})
	pubcomp, ok := conn.lastTo(pub).(*protocol.PubComp)
	if !ok || pubcomp.MsgId != 7 {
		t.Fatalf("expected PUBCOMP(7), got %#v", conn.lastTo(pub))
	}
	delivered, ok := conn.lastTo(sub).(*protocol.Publish)
	if !ok || delivered.Dup || delivered.QoS != protocol.QoSTwo || string(delivered.Data) != "X" {
		t.Fatalf("expected one PUBLISH(qos=2,dup=false,X) to subscriber, got %#v", conn.lastTo(sub))
	}
	requestID := delivered.MsgId
	deliveredBefore := conn.countTo(sub, protocol.PUBLISH)

	g.route(pub, &protocol.PubRel{MsgId: 7})
	if conn.lastTo(pub).(*protocol.PubComp).MsgId != 7 {
		t.Fatalf("duplicate PUBREL must still get PUBCOMP")
	}
	if conn.countTo(sub, protocol.PUBLISH) != deliveredBefore {
		t.Fatalf("duplicate PUBREL must not re-dispatch")
	}

	g.route(sub, &protocol.PubRec{MsgId: requestID})
	pubrel, ok := conn.lastTo(sub).(*protocol.PubRel)
	if !ok || pubrel.MsgId != requestID {
		t.Fatalf("expected PUBREL(%d) to subscriber, got %#v", requestID, conn.lastTo(sub))
	}

	g.route(sub, &protocol.PubComp{MsgId: requestID})
	if g.requests.PendingFor(sub) {
		t.Fatalf("request must be dropped after subscriber PUBCOMP")
	}
}

// scenario 3: retained delivery on subscribe.
func TestScenarioRetainedDeliveryOnSubscribe(t *testing.T) {
	g, conn := newTestGateway(t, testConfig())
	sub := addrAt(1)
	pub := addrAt(2)

	connectClient(g, pub, "p1", 60)
	g.route(pub, &protocol.Register{MsgId: 1, TopicName: "room/temp"})
	regack := conn.lastTo(pub).(*protocol.RegAck)
	topicID := regack.TopicId

	g.route(pub, &protocol.Publish{QoS: protocol.QoSOne, Retain: true, TopicIdType: protocol.TopicNormal, TopicId: topicID, MsgId: 1, Data: []byte("last")})

	connectClient(g, sub, "s1", 60)
	g.route(sub, &protocol.Subscribe{QoS: protocol.QoSZero, TopicIdType: protocol.TopicNormal, MsgId: 1, TopicName: "room/temp"})

	g.drainPendingRetain()

	got, ok := conn.lastTo(sub).(*protocol.Publish)
	if !ok || !got.Retain || string(got.Data) != "last" || got.TopicId != topicID {
		t.Fatalf("expected retained PUBLISH(last) to subscriber, got %#v", conn.lastTo(sub))
	}
}

// scenario 4: sleeping subscriber buffers, then drains on PINGREQ.
func TestScenarioSleepingSubscriber(t *testing.T) {
	g, conn := newTestGateway(t, testConfig())
	sub := addrAt(1)
	pub := addrAt(2)

	connectClient(g, sub, "s1", 60)
	g.route(sub, &protocol.Subscribe{QoS: protocol.QoSOne, TopicIdType: protocol.TopicNormal, MsgId: 1, TopicName: "room/temp"})
	topicID := conn.lastTo(sub).(*protocol.SubAck).TopicId

	connectClient(g, pub, "p1", 60)
	g.route(pub, &protocol.Register{MsgId: 1, TopicName: "room/temp"})

	g.route(sub, &protocol.Disconnect{Duration: 300, HasDuration: true})
	subInfo, _ := g.clients.Get(sub)
	if subInfo.State != client.Asleep {
		t.Fatalf("expected subscriber Asleep, got %v", subInfo.State)
	}

	g.route(pub, &protocol.Publish{QoS: protocol.QoSOne, TopicIdType: protocol.TopicNormal, TopicId: topicID, MsgId: 1, Data: []byte("hot")})
	if conn.countTo(sub, protocol.PUBLISH) != 0 {
		t.Fatalf("publish must not be delivered while subscriber asleep")
	}
	if !g.requests.PendingFor(sub) {
		t.Fatalf("expected a buffered request for the sleeping subscriber")
	}

	g.route(sub, &protocol.PingReq{ClientId: "s1"})
	if subInfo.State != client.Awake {
		t.Fatalf("expected subscriber Awake after self-identified PINGREQ, got %v", subInfo.State)
	}
	if conn.countTo(sub, protocol.PINGRESP) != 0 {
		t.Fatalf("PINGRESP must be deferred until drain completes")
	}

	g.requests.Sweep()
	delivered, ok := conn.lastTo(sub).(*protocol.Publish)
	if !ok || string(delivered.Data) != "hot" {
		t.Fatalf("expected buffered PUBLISH(hot) once awake, got %#v", conn.lastTo(sub))
	}

	g.route(sub, &protocol.PubAck{TopicId: topicID, MsgId: delivered.MsgId, ReturnCode: protocol.Accepted})
	if g.requests.PendingFor(sub) {
		t.Fatalf("request must drop once subscriber PUBACKs")
	}

	g.tickAwakenCheck(sub)
	if subInfo.State != client.Asleep {
		t.Fatalf("expected subscriber back Asleep once drained, got %v", subInfo.State)
	}
	if conn.countTo(sub, protocol.PINGRESP) != 1 {
		t.Fatalf("expected exactly one deferred PINGRESP, got %d", conn.countTo(sub, protocol.PINGRESP))
	}
}

// scenario 5: keep-alive expiry solicits a PINGREQ, then declares Lost.
func TestScenarioKeepAliveLost(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())
	k := addrAt(1)
	connectClient(g, k, "k1", 30)

	info, _ := g.clients.Get(k)
	info.LastReceivedAt = time.Now().Add(-40 * time.Second)
	g.checkActiveClients()
	if !info.SentPingReq {
		t.Fatalf("expected PINGREQ solicitation after keep-alive expiry")
	}
	if info.State != client.Active {
		t.Fatalf("client must stay Active after first expiry, got %v", info.State)
	}

	info.LastReceivedAt = time.Now().Add(-40 * time.Second)
	g.checkActiveClients()
	if info.State != client.Lost {
		t.Fatalf("expected client Lost after second expiry with no reply, got %v", info.State)
	}
}

// scenario 6: a fully congested topic id space rejects REGISTER and
// SUBSCRIBE with REJECTED_CONGESTION.
func TestScenarioCongestedTopicSpace(t *testing.T) {
	cfg := testConfig()
	cfg.PredefinedTopics = make(map[string]uint16, 65533)
	for id := uint16(1); id < 0xFFFF; id++ {
		cfg.PredefinedTopics[syntheticTopicName(id)] = id
	}
	g, conn := newTestGateway(t, cfg)
	if !g.topics.Congested() {
		t.Fatalf("expected topic id space to be congested")
	}

	pub := addrAt(1)
	connectClient(g, pub, "p1", 60)
	g.route(pub, &protocol.Register{MsgId: 1, TopicName: "brand/new/name"})
	regack := conn.lastTo(pub).(*protocol.RegAck)
	if regack.TopicId != 0 || regack.ReturnCode != protocol.RejectedCongestion {
		t.Fatalf("expected REGACK(0, REJECTED_CONGESTION), got %#v", regack)
	}

	sub := addrAt(2)
	connectClient(g, sub, "s1", 60)
	g.route(sub, &protocol.Subscribe{QoS: protocol.QoSZero, TopicIdType: protocol.TopicNormal, MsgId: 1, TopicName: "another/new/name"})
	suback := conn.lastTo(sub).(*protocol.SubAck)
	if suback.TopicId != 0 || suback.ReturnCode != protocol.RejectedCongestion {
		t.Fatalf("expected SUBACK(0, REJECTED_CONGESTION), got %#v", suback)
	}
}

func syntheticTopicName(id uint16) string {
	const hex = "0123456789abcdef"
	b := []byte{'t', hex[id>>12&0xF], hex[id>>8&0xF], hex[id>>4&0xF], hex[id&0xF]}
	return string(b)
}
