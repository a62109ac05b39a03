// Package message implements the fan-out message store: messageId ->
// payload, shared by every subscriber's RequestInfo so a
// QoS>=1 PUBLISH is staged exactly once regardless of fan-out size. Rows
// are not reference-counted directly; a periodic sweep (Sweep) asks the
// caller whether any RequestInfo still references each id and drops rows
// that are unreferenced, avoiding a strong back-reference from requests to
// message rows.
package message

import (
	"github.com/gnatt-io/gnatt/internal/idspace"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// Info is one fanned-out PUBLISH payload.
type Info struct {
	TopicID     uint16
	TopicIDType protocol.TopicIdType
	Dup         bool
	QoS         protocol.QoS
	Retain      bool
	Data        []byte
}

// Store is the messageId -> Info table and its id allocator state. The
// message id space allows idspace.MaxID (allowMax=true).
type Store struct {
	messages map[uint16]Info
	usedIDs  map[uint16]struct{}
	nextID   uint16
}

// New returns an empty message store.
func New() *Store {
	return &Store{messages: make(map[uint16]Info), usedIDs: make(map[uint16]struct{})}
}

// Add allocates a fresh message id for info and stores it. ok is false
// when the message id space is congested.
func (s *Store) Add(info Info) (id uint16, ok bool) {
	id, ok = idspace.Next(s.usedIDs, s.nextID, true)
	if !ok {
		return 0, false
	}
	s.messages[id] = info
	s.usedIDs[id] = struct{}{}
	s.nextID = id
	return id, true
}

// Get returns the message stored under id, if any.
func (s *Store) Get(id uint16) (Info, bool) {
	info, ok := s.messages[id]
	return info, ok
}

// Delete removes the row for id.
func (s *Store) Delete(id uint16) {
	delete(s.messages, id)
	delete(s.usedIDs, id)
}

// Sweep drops every row for which referenced(id) is false. It returns the
// number of rows dropped.
func (s *Store) Sweep(referenced func(id uint16) bool) int {
	dropped := 0
	for id := range s.messages {
		if !referenced(id) {
			s.Delete(id)
			dropped++
		}
	}
	return dropped
}

// Congested reports whether the message id space is full.
func (s *Store) Congested() bool {
	return idspace.Congested(s.usedIDs, true)
}

// CheckInvariants panics if the usedIDs mirror has drifted from messages.
func (s *Store) CheckInvariants() {
	idspace.CheckMirror("message.usedIDs", s.usedIDs, len(s.messages))
}
