// Package topic implements the gateway's name<->id registry: normal,
// short, and predefined topics share one 16-bit id space.
package topic

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"github.com/gnatt-io/gnatt/internal/idspace"
	"github.com/gnatt-io/gnatt/internal/protocol"
)

// MinTopicLen is the shortest a sanitized topic name may be.
const MinTopicLen = 2

// ErrInvalidTopic is returned by RegisterTopic when the sanitized name is
// shorter than MinTopicLen.
var ErrInvalidTopic = errors.New("topic: name shorter than minimum length")

// Info describes a registered topic.
type Info struct {
	Name string
	Type protocol.TopicIdType
}

// Registry is the bidirectional name<->id map plus its id allocator state.
// encode(name) := base64(sanitize(name)) is the stable map key, kept as an
// explicit encoding step even though a Go map could key on the sanitized
// string directly.
type Registry struct {
	nameToID map[string]uint16 // keyed by encode(name)
	idToInfo map[uint16]Info
	usedIDs  map[uint16]struct{}
	nextID   uint16
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nameToID: make(map[string]uint16),
		idToInfo: make(map[uint16]Info),
		usedIDs:  make(map[uint16]struct{}),
	}
}

func sanitize(name string) string {
	return strings.Join(strings.Fields(name), "")
}

// encode returns the stable lookup key for a topic name.
func encode(name string) string {
	return base64.StdEncoding.EncodeToString([]byte(sanitize(name)))
}

func inferType(sanitizedLen int) protocol.TopicIdType {
	if sanitizedLen == 2 {
		return protocol.TopicShort
	}
	return protocol.TopicNormal
}

// SeedPredefined installs boot-time topics, reserving their ids so the
// allocator never reassigns them.
func (r *Registry) SeedPredefined(predefined map[string]uint16) {
	for name, id := range predefined {
		key := encode(name)
		r.nameToID[key] = id
		r.idToInfo[id] = Info{Name: name, Type: protocol.TopicPreDefined}
		r.usedIDs[id] = struct{}{}
	}
}

// RegisterTopic returns the existing id for name if already registered, or
// allocates and stores a fresh one. created is false when name was already
// known. The topic id space disallows idspace.MaxID (allowMax=false),
// matching the original's reservation of 0xFFFF.
func (r *Registry) RegisterTopic(name string) (id uint16, created bool, err error) {
	sanitized := sanitize(name)
	if len(sanitized) < MinTopicLen {
		return 0, false, ErrInvalidTopic
	}

	key := encode(name)
	if existing, ok := r.nameToID[key]; ok {
		return existing, false, nil
	}

	newID, ok := idspace.Next(r.usedIDs, r.nextID, false)
	if !ok {
		return 0, false, nil // congestion: caller maps this to REJECTED_CONGESTION
	}

	r.nameToID[key] = newID
	r.idToInfo[newID] = Info{Name: name, Type: inferType(len(sanitized))}
	r.usedIDs[newID] = struct{}{}
	r.nextID = newID
	return newID, true, nil
}

// LookupByName returns the id registered for name, if any.
func (r *Registry) LookupByName(name string) (uint16, bool) {
	id, ok := r.nameToID[encode(name)]
	return id, ok
}

// LookupByID returns the Info registered under id, if any.
func (r *Registry) LookupByID(id uint16) (Info, bool) {
	info, ok := r.idToInfo[id]
	return info, ok
}

// Congested reports whether the topic id space has no ids left to allocate.
func (r *Registry) Congested() bool {
	return idspace.Congested(r.usedIDs, false)
}

// CheckInvariants panics if nameToID and idToInfo have drifted apart, or if
// usedIDs no longer mirrors idToInfo's keys. Tests call it; the gateway
// does not.
func (r *Registry) CheckInvariants() {
	idspace.CheckMirror("topic.usedIDs", r.usedIDs, len(r.idToInfo))
	if len(r.nameToID) != len(r.idToInfo) {
		panic("topic: nameToID and idToInfo sizes diverged")
	}
	for key, id := range r.nameToID {
		info, ok := r.idToInfo[id]
		if !ok {
			panic("topic: nameToID points at an id missing from idToInfo")
		}
		if encode(info.Name) != key {
			panic("topic: nameToID/idToInfo are not mutual inverses")
		}
	}
}
