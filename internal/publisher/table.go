// Package publisher implements the per-publisher will state and in-flight
// QoS-2 inbound tracking. A PublisherInfo is created lazily on first
// publish-ish packet from an address.
package publisher

import (
	"net/netip"

	"github.com/gnatt-io/gnatt/internal/protocol"
)

// DataInfo is the payload a publisher staged for a QoS-2 inbound PUBLISH,
// held until the matching PUBREL dispatches it exactly once.
type DataInfo struct {
	TopicID     uint16
	TopicIDType protocol.TopicIdType
	Retain      bool
	Data        []byte
}

// Info is the per-publisher record: will state plus in-flight QoS-2
// inbound messages keyed by msgId.
type Info struct {
	Will         bool
	WillQoS      protocol.QoS
	WillRetain   bool
	WillTopic    string
	WillMsg      []byte
	InflightQoS2 map[uint16]DataInfo
}

func newInfo() *Info {
	return &Info{InflightQoS2: make(map[uint16]DataInfo)}
}

// ResetWill clears every will field, used by clean-session processing.
func (i *Info) ResetWill() {
	i.Will = false
	i.WillQoS = protocol.QoSZero
	i.WillRetain = false
	i.WillTopic = ""
	i.WillMsg = nil
}

// Table is the (address,port) -> Info publisher table.
type Table struct {
	publishers map[netip.AddrPort]*Info
}

// NewTable returns an empty publisher table.
func NewTable() *Table {
	return &Table{publishers: make(map[netip.AddrPort]*Info)}
}

// Get returns the publisher record for addr, if any.
func (t *Table) Get(addr netip.AddrPort) (*Info, bool) {
	info, ok := t.publishers[addr]
	return info, ok
}

// GetOrCreate returns the existing record for addr, lazily creating one.
func (t *Table) GetOrCreate(addr netip.AddrPort) *Info {
	if info, ok := t.publishers[addr]; ok {
		return info
	}
	info := newInfo()
	t.publishers[addr] = info
	return info
}

// Delete removes the publisher record for addr.
func (t *Table) Delete(addr netip.AddrPort) {
	delete(t.publishers, addr)
}
