// Package subscriber implements the per-subscriber topic-registration table
// and the (topicId,QoS) subscription index.
package subscriber

import (
	"net/netip"
	"time"

	"github.com/gnatt-io/gnatt/internal/clock"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// TopicInfo tracks whether a REGISTER/REGACK exchange has completed for one
// of a subscriber's topics.
type TopicInfo struct {
	TopicIDType  protocol.TopicIdType
	IsRegistered bool
}

// Info is the per-subscriber record.
type Info struct {
	Topics           map[uint16]*TopicInfo
	AwakenCheckEvent *clock.Handle
	AwakenStartTime  time.Time
}

func newInfo() *Info {
	return &Info{Topics: make(map[uint16]*TopicInfo)}
}

// Table is the (address,port) -> Info subscriber table.
type Table struct {
	subscribers map[netip.AddrPort]*Info
}

// NewTable returns an empty subscriber table.
func NewTable() *Table {
	return &Table{subscribers: make(map[netip.AddrPort]*Info)}
}

// Get returns the subscriber record for addr, if any.
func (t *Table) Get(addr netip.AddrPort) (*Info, bool) {
	info, ok := t.subscribers[addr]
	return info, ok
}

// GetOrCreate returns the existing record for addr, lazily creating one.
func (t *Table) GetOrCreate(addr netip.AddrPort) *Info {
	if info, ok := t.subscribers[addr]; ok {
		return info
	}
	info := newInfo()
	t.subscribers[addr] = info
	return info
}

// Delete removes the subscriber record for addr, cancelling any pending
// awaken-check event it owns.
func (t *Table) Delete(addr netip.AddrPort) {
	if info, ok := t.subscribers[addr]; ok {
		info.AwakenCheckEvent.Cancel()
	}
	delete(t.subscribers, addr)
}

// SetAllTopicsRegistration marks every subscribed topic's registration
// status, used on CONNECT to force a fresh REGISTER before next delivery.
func (i *Info) SetAllTopicsRegistration(registered bool, skipPredefined bool) {
	for _, ti := range i.Topics {
		if skipPredefined && ti.TopicIDType == protocol.TopicPreDefined {
			continue
		}
		ti.IsRegistered = registered
	}
}
