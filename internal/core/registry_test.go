package core

import (
	"reflect"
	"testing"

	"github.com/vovakirdan/wirechat-p2p/internal/log"
)

type registryRecorder struct {
	changes [][]string
	empties int
}

func newRecordedRegistry() (*Registry, *registryRecorder) {
	rec := &registryRecorder{}
	r := NewRegistry(
		func(ids []string) { rec.changes = append(rec.changes, ids) },
		func() { rec.empties++ },
		log.Nop(),
	)
	return r, rec
}

func testConnection(remote string) *Connection {
	return newConnection(newFakeConn(remote), false, 4, log.Nop())
}

func TestRegistryAddIsIdempotentPerRemoteID(t *testing.T) {
	r, rec := newRecordedRegistry()

	if !r.Add(testConnection("bob")) {
		t.Fatal("expected first add to succeed")
	}
	if r.Add(testConnection("bob")) {
		t.Fatal("expected duplicate add to be ignored")
	}

	if r.Len() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Len())
	}
	if len(rec.changes) != 1 || !reflect.DeepEqual(rec.changes[0], []string{"bob"}) {
		t.Fatalf("expected a single change notification, got %v", rec.changes)
	}
}

func TestRegistryRemoveAlwaysNotifies(t *testing.T) {
	r, rec := newRecordedRegistry()
	r.Add(testConnection("bob"))
	r.Add(testConnection("carol"))

	if _, ok := r.Remove("ghost"); ok {
		t.Fatal("ghost should not be found")
	}
	if got := rec.changes[len(rec.changes)-1]; !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Fatalf("unexpected ids after no-op remove: %v", got)
	}
	if rec.empties != 0 {
		t.Fatal("registry is not empty yet")
	}

	r.Remove("bob")
	c, ok := r.Remove("carol")
	if !ok || c.RemoteID() != "carol" {
		t.Fatalf("expected carol to be removed, got %v %v", c, ok)
	}
	if rec.empties != 1 {
		t.Fatalf("expected one empty notification, got %d", rec.empties)
	}
	if len(rec.changes) != 5 {
		t.Fatalf("expected 5 change notifications, got %d", len(rec.changes))
	}
}

func TestRegistryIDsKeepInsertionOrder(t *testing.T) {
	r, _ := newRecordedRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		r.Add(testConnection(id))
	}
	r.Remove("alice")
	r.Add(testConnection("alice"))

	want := []string{"carol", "bob", "alice"}
	if got := r.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRegistryRelaySkipsSenderAndClosed(t *testing.T) {
	r, _ := newRecordedRegistry()
	bob := testConnection("bob")
	carol := testConnection("carol")
	dave := testConnection("dave")
	r.Add(bob)
	r.Add(carol)
	r.Add(dave)

	dave.close()

	if n := r.Relay([]byte("m"), "bob"); n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	if len(bob.send) != 0 {
		t.Fatal("sender must not receive its own message")
	}
	if len(carol.send) != 1 {
		t.Fatal("carol should have the relayed message queued")
	}
	if len(dave.send) != 0 {
		t.Fatal("closed connection must be skipped")
	}

	if n := r.Broadcast([]byte("m")); n != 2 {
		t.Fatalf("expected broadcast to reach 2 open connections, got %d", n)
	}
}

func TestRegistryClear(t *testing.T) {
	r, rec := newRecordedRegistry()
	r.Add(testConnection("bob"))
	r.Add(testConnection("carol"))

	removed := r.Clear()
	if len(removed) != 2 || r.Len() != 0 {
		t.Fatalf("expected 2 removed and an empty registry, got %d / %d", len(removed), r.Len())
	}
	if rec.empties != 1 {
		t.Fatalf("expected empty notification, got %d", rec.empties)
	}
	if got := rec.changes[len(rec.changes)-1]; len(got) != 0 {
		t.Fatalf("expected empty ids, got %v", got)
	}
}

func TestConnectionEnqueueDropsWhenFull(t *testing.T) {
	c := newConnection(newFakeConn("bob"), false, 2, log.Nop())

	if !c.enqueue([]byte("1")) || !c.enqueue([]byte("2")) {
		t.Fatal("expected queue to accept up to its capacity")
	}
	if c.enqueue([]byte("3")) {
		t.Fatal("expected full queue to drop")
	}
}

func TestRoleState(t *testing.T) {
	var r roleState
	if r.IsHost() || r.Get() != RoleGuest {
		t.Fatal("initial role must be guest")
	}
	r.BecomeHost()
	if !r.IsHost() || r.Get().String() != "host" {
		t.Fatal("expected host")
	}
	r.Reset()
	if r.IsHost() {
		t.Fatal("reset must return to guest")
	}
}

func TestRegistryReplaceSwapsInPlace(t *testing.T) {
	r, rec := newRecordedRegistry()

	first := testConnection("bob")
	if old, replaced := r.Replace(first); replaced || old != nil {
		t.Fatalf("expected plain add, got %v %v", old, replaced)
	}
	r.Add(testConnection("carol"))
	notified := len(rec.changes)

	second := testConnection("bob")
	old, replaced := r.Replace(second)
	if !replaced || old != first {
		t.Fatalf("expected first bob connection back, got %v %v", old, replaced)
	}
	if len(rec.changes) != notified {
		t.Fatalf("swap must not notify, got %v", rec.changes[notified:])
	}
	if !r.Contains(second) || r.Contains(first) {
		t.Fatal("expected second bob connection to hold the slot")
	}
	if got := r.IDs(); !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Fatalf("swap must keep position, got %v", got)
	}
}
