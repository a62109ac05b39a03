package topic

import (
	"testing"

	"github.com/gnatt-io/gnatt/internal/protocol"
)

func TestRegisterTopicAllocatesAndInfersType(t *testing.T) {
	r := New()
	id, created, err := r.RegisterTopic("room/temp")
	if err != nil || !created || id == 0 {
		t.Fatalf("unexpected result id=%d created=%v err=%v", id, created, err)
	}
	info, ok := r.LookupByID(id)
	if !ok || info.Type != protocol.TopicNormal {
		t.Fatalf("expected normal topic info, got %+v ok=%v", info, ok)
	}

	id2, created2, err := r.RegisterTopic("room/temp")
	if err != nil || created2 || id2 != id {
		t.Fatalf("expected idempotent re-registration, got id=%d created=%v err=%v", id2, created2, err)
	}
}

func TestRegisterShortTopic(t *testing.T) {
	r := New()
	id, _, err := r.RegisterTopic("ab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, _ := r.LookupByID(id)
	if info.Type != protocol.TopicShort {
		t.Fatalf("expected short topic type, got %v", info.Type)
	}
}

func TestRegisterInvalidTopic(t *testing.T) {
	r := New()
	if _, _, err := r.RegisterTopic("a"); err != ErrInvalidTopic {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
	if _, _, err := r.RegisterTopic(" a "); err != ErrInvalidTopic {
		t.Fatalf("expected sanitization to strip whitespace before length check, got %v", err)
	}
}

func TestSeedPredefinedReservesIds(t *testing.T) {
	r := New()
	r.SeedPredefined(map[string]uint16{"sys/status": 1})
	id, ok := r.LookupByName("sys/status")
	if !ok || id != 1 {
		t.Fatalf("expected predefined lookup to succeed with id 1, got %d ok=%v", id, ok)
	}
	info, _ := r.LookupByID(1)
	if info.Type != protocol.TopicPreDefined {
		t.Fatalf("expected predefined type, got %v", info.Type)
	}

	id2, created, err := r.RegisterTopic("new/topic")
	if err != nil || !created {
		t.Fatalf("unexpected registration result: %v %v %v", id2, created, err)
	}
	if id2 == 1 {
		t.Fatalf("allocator reused a reserved predefined id")
	}
}

func TestCongestion(t *testing.T) {
	r := New()
	used := make(map[uint16]struct{})
	for i := uint32(1); i < uint32(^uint16(0)); i++ {
		used[uint16(i)] = struct{}{}
	}
	r.usedIDs = used
	for id := range used {
		r.idToInfo[id] = Info{Name: "x", Type: protocol.TopicNormal}
	}
	if !r.Congested() {
		t.Fatalf("expected topic space to be congested")
	}
}

func TestInvariants(t *testing.T) {
	r := New()
	r.SeedPredefined(map[string]uint16{"sys/a": 1})
	r.RegisterTopic("room/a")
	r.CheckInvariants() // must not panic
}
