package message

import (
	"testing"

	"github.com/gnatt-io/gnatt/internal/protocol"
)

func TestAddGetDelete(t *testing.T) {
	s := New()
	id, ok := s.Add(Info{TopicID: 7, QoS: protocol.QoSOne, Data: []byte("hi")})
	if !ok || id == 0 {
		t.Fatalf("expected a nonzero allocated id, got %d ok=%v", id, ok)
	}
	got, ok := s.Get(id)
	if !ok || string(got.Data) != "hi" {
		t.Fatalf("expected stored payload, got %+v ok=%v", got, ok)
	}
	s.Delete(id)
	if _, ok := s.Get(id); ok {
		t.Fatalf("expected row to be gone after Delete")
	}
	s.CheckInvariants()
}

func TestSweepDropsUnreferenced(t *testing.T) {
	s := New()
	keep, _ := s.Add(Info{TopicID: 1})
	drop, _ := s.Add(Info{TopicID: 2})

	dropped := s.Sweep(func(id uint16) bool { return id == keep })
	if dropped != 1 {
		t.Fatalf("expected exactly one row dropped, got %d", dropped)
	}
	if _, ok := s.Get(keep); !ok {
		t.Fatalf("expected referenced row to survive sweep")
	}
	if _, ok := s.Get(drop); ok {
		t.Fatalf("expected unreferenced row to be dropped")
	}
	s.CheckInvariants()
}

func TestCongested(t *testing.T) {
	s := New()
	if s.Congested() {
		t.Fatalf("fresh store should not be congested")
	}
}
