package netcore

import "testing"

func noopHandler(*Server, SocketDescriptor) {}

// TestTableIntegrity covers invariant 1: after any sequence of
// register/release, num_connections equals the count of occupied slots,
// and every live sock is reachable via findExisting.
func TestTableIntegrity(t *testing.T) {
	tbl := newTable(8, nil)

	var live []SocketDescriptor
	for _, s := range []SocketDescriptor{3, 11, 19, 4} { // 3, 11, 19 collide mod 8
		if _, err := tbl.register(s, FromClient, 0, 0, 0, noopHandler); err != nil {
			t.Fatalf("register(%d): %v", s, err)
		}
		live = append(live, s)
	}

	if tbl.numConnections() != len(live) {
		t.Fatalf("numConnections = %d, want %d", tbl.numConnections(), len(live))
	}
	for _, s := range live {
		idx, err := tbl.findExisting(s)
		if err != nil {
			t.Fatalf("findExisting(%d): %v", s, err)
		}
		if tbl.slots[idx].Sock != s {
			t.Fatalf("slot %d holds sock %d, want %d", idx, tbl.slots[idx].Sock, s)
		}
	}

	// release the middle collider and confirm the others are still
	// reachable and the count drops by exactly one.
	idx, err := tbl.findExisting(11)
	if err != nil {
		t.Fatalf("findExisting(11): %v", err)
	}
	if err := tbl.release(nil, idx, nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	if tbl.numConnections() != len(live)-1 {
		t.Fatalf("numConnections after release = %d, want %d", tbl.numConnections(), len(live)-1)
	}
	for _, s := range []SocketDescriptor{3, 19, 4} {
		if _, err := tbl.findExisting(s); err != nil {
			t.Fatalf("findExisting(%d) after unrelated release: %v", s, err)
		}
	}
	if _, err := tbl.findExisting(11); err == nil {
		t.Fatalf("findExisting(11) succeeded after release")
	}
}

// TestNoDuplicateRegistration covers invariant 2.
func TestNoDuplicateRegistration(t *testing.T) {
	tbl := newTable(4, nil)
	if _, err := tbl.register(5, FromClient, 0, 0, 0, noopHandler); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := tbl.register(5, FromClient, 0, 0, 0, noopHandler); err == nil {
		t.Fatalf("second register(5) without release succeeded, want refusal")
	}
	if tbl.numConnections() != 1 {
		t.Fatalf("numConnections = %d, want 1", tbl.numConnections())
	}
}

func TestFindFreeTableFull(t *testing.T) {
	tbl := newTable(2, nil)
	if _, err := tbl.register(0, FromClient, 0, 0, 0, noopHandler); err != nil {
		t.Fatalf("register(0): %v", err)
	}
	if _, err := tbl.register(2, FromClient, 0, 0, 0, noopHandler); err != nil {
		t.Fatalf("register(2): %v", err)
	}
	if _, err := tbl.findFree(4); err != ErrTableFull {
		t.Fatalf("findFree on full table: err = %v, want ErrTableFull", err)
	}
}

func TestRegisterSetsPrivilegedPort(t *testing.T) {
	tbl := newTable(4, nil)
	idx, err := tbl.register(1, FromClient, 0, 1023, 0, noopHandler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !tbl.slots[idx].Auth.has(FromPrivilegedPort) {
		t.Fatalf("FromPrivilegedPort not set for port 1023")
	}

	idx2, err := tbl.register(2, FromClient, 0, 1024, 0, noopHandler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tbl.slots[idx2].Auth.has(FromPrivilegedPort) {
		t.Fatalf("FromPrivilegedPort set for port 1024")
	}
}
