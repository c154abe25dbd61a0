package realtime

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestHubBroadcastOnlyReachesJoinedSpace(t *testing.T) {
	hub := NewHub(log.New(), 4)
	a := hub.Subscribe()
	b := hub.Subscribe()
	hub.Join(a, "s1")
	hub.Join(b, "s2")

	if n := hub.Broadcast("s1", []byte("x")); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	select {
	case got := <-a.C():
		if string(got) != "x" {
			t.Fatalf("unexpected payload %q", got)
		}
	default:
		t.Fatalf("expected payload for joined subscriber")
	}
	select {
	case got := <-b.C():
		t.Fatalf("unexpected payload for other space: %q", got)
	default:
	}
}

func TestHubLeave(t *testing.T) {
	hub := NewHub(log.New(), 4)
	s := hub.Subscribe()
	hub.Join(s, "s1")
	hub.Leave(s, "s1")
	if n := hub.Broadcast("s1", []byte("x")); n != 0 {
		t.Fatalf("expected no delivery after leave, got %d", n)
	}
	if hub.Rooms("s1") != 0 {
		t.Fatalf("expected empty room to be dropped")
	}
}

func TestHubRemoveClosesChannel(t *testing.T) {
	hub := NewHub(log.New(), 4)
	s := hub.Subscribe()
	hub.Join(s, "s1")
	hub.Join(s, "s2")
	hub.Remove(s)
	hub.Remove(s)

	if _, ok := <-s.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Rooms("s1") != 0 || hub.Rooms("s2") != 0 {
		t.Fatalf("expected subscriber to leave every room")
	}
	hub.Join(s, "s1")
	if hub.Rooms("s1") != 0 {
		t.Fatalf("removed subscriber must not rejoin")
	}
}

func TestHubEvictsLaggingSubscriber(t *testing.T) {
	logger, hook := test.NewNullLogger()
	hub := NewHub(logger, 1)
	slow := hub.Subscribe()
	hub.Join(slow, "s1")

	hub.Broadcast("s1", []byte("1"))
	if n := hub.Broadcast("s1", []byte("2")); n != 0 {
		t.Fatalf("expected full subscriber to be skipped, got %d", n)
	}
	if hub.Rooms("s1") != 0 {
		t.Fatalf("expected lagging subscriber to be evicted")
	}
	if got := <-slow.C(); string(got) != "1" {
		t.Fatalf("expected buffered payload to survive, got %q", got)
	}
	if _, ok := <-slow.C(); ok {
		t.Fatalf("expected channel closed after eviction")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != log.WarnLevel {
		t.Fatalf("expected eviction warning")
	}
}
