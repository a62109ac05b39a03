package client

import (
	"net/netip"
	"time"
)

// Touch records that a valid inbound packet was just received from addr,
// resetting its keep-alive expiry clock.
func (i *Info) Touch(now time.Time) {
	i.LastReceivedAt = now
}

// CheckActive walks every Active client whose keep-alive has expired. The
// first expiry solicits a PINGREQ; a second expiry with no reply declares
// the client Lost. sendPingReq is called once per newly-solicited client;
// onLost is called once per client that transitions to Lost this call.
func (t *Table) CheckActive(now time.Time, sendPingReq, onLost func(addr netip.AddrPort, info *Info)) {
	for addr, info := range t.clients {
		if info.State != Active {
			continue
		}
		if now.Sub(info.LastReceivedAt) <= info.KeepAlive {
			continue
		}
		if !info.SentPingReq {
			info.SentPingReq = true
			sendPingReq(addr, info)
		} else {
			info.State = Lost
			onLost(addr, info)
		}
	}
}

// CheckAsleep walks every Asleep client whose sleepDuration has elapsed
// without traffic and declares it Lost. onLost is called once per client
// that transitions to Lost this call.
func (t *Table) CheckAsleep(now time.Time, onLost func(addr netip.AddrPort, info *Info)) {
	for addr, info := range t.clients {
		if info.State != Asleep {
			continue
		}
		if now.Sub(info.LastReceivedAt) > info.SleepDuration {
			info.State = Lost
			onLost(addr, info)
		}
	}
}
