// Package retain implements the retained-message store: topicId -> last
// retained payload, replaced on every retained PUBLISH.
package retain

import (
	"github.com/gnatt-io/gnatt/internal/idspace"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// Entry is the retained payload for one topic.
type Entry struct {
	Dup         bool
	QoS         protocol.QoS
	TopicIDType protocol.TopicIdType
	Data        []byte
}

// Store is the topicId -> Entry retained-message table. Like the topic id
// space, it reserves idspace.MaxID (allowMax=false).
type Store struct {
	retain map[uint16]Entry
}

// New returns an empty retain store.
func New() *Store {
	return &Store{retain: make(map[uint16]Entry)}
}

// Put stores or replaces the retained payload for topicID.
func (s *Store) Put(topicID uint16, e Entry) {
	s.retain[topicID] = e
}

// Get returns the retained payload for topicID, if any.
func (s *Store) Get(topicID uint16) (Entry, bool) {
	e, ok := s.retain[topicID]
	return e, ok
}

// Congested reports whether the retain space has no room for a topic that
// has never been retained before. Retained entries are already keyed by
// topicId, so the used-id count is just the map's length — no separate
// mirror set is needed the way idspace.Congested's callers elsewhere need
// one.
func (s *Store) Congested() bool {
	top := idspace.MaxID - 1 // retain space reserves idspace.MaxID, per spec
	return uint32(len(s.retain)) >= uint32(top)
}
