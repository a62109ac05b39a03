// Package client implements the per-client session table and state
// machine: ClientInfo records, their lifecycle, and the keep-alive
// liveness check.
package client

import (
	"net/netip"
	"time"
)

// State is a position in the per-client session state machine.
type State int

const (
	Disconnected State = iota
	Active
	Asleep
	Awake
	Lost
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Active:
		return "Active"
	case Asleep:
		return "Asleep"
	case Awake:
		return "Awake"
	case Lost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// Type classifies a client as the first packet type it sends reveals it to
// be. A client is promoted from Unknown exactly once.
type Type int

const (
	Unknown Type = iota
	Publisher
	Subscriber
)

// Info is the per-client session record, created on first CONNECT.
type Info struct {
	ClientID       string
	KeepAlive      time.Duration
	SleepDuration  time.Duration
	State          State
	Type           Type
	LastReceivedAt time.Time
	SentPingReq    bool
}

// PromoteType sets the client's type the first time it is observed doing
// something type-specific; later calls with a different type are ignored,
// since a session's type never changes once assigned.
func (i *Info) PromoteType(t Type) {
	if i.Type == Unknown {
		i.Type = t
	}
}

// Table is the (address,port) -> Info session table.
type Table struct {
	clients map[netip.AddrPort]*Info
	max     int
}

// NewTable returns an empty table that rejects new clients once it holds
// maxClients entries (0 means unbounded).
func NewTable(maxClients int) *Table {
	return &Table{clients: make(map[netip.AddrPort]*Info), max: maxClients}
}

// Get returns the session record for addr, if any.
func (t *Table) Get(addr netip.AddrPort) (*Info, bool) {
	info, ok := t.clients[addr]
	return info, ok
}

// Congested reports whether admitting a new client would exceed maxClients.
func (t *Table) Congested() bool {
	return t.max > 0 && len(t.clients) >= t.max
}

// Add inserts or replaces the session record for addr.
func (t *Table) Add(addr netip.AddrPort, info *Info) {
	t.clients[addr] = info
}

// Delete removes the session record for addr, destroying the session.
func (t *Table) Delete(addr netip.AddrPort) {
	delete(t.clients, addr)
}

// Range iterates every (address, Info) pair. fn must not mutate the table.
func (t *Table) Range(fn func(addr netip.AddrPort, info *Info)) {
	for addr, info := range t.clients {
		fn(addr, info)
	}
}

// Len returns the number of tracked sessions.
func (t *Table) Len() int {
	return len(t.clients)
}
