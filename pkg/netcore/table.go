package netcore

import "fmt"

// ErrTableFull is returned by register when the connection table has no
// free slot for a new descriptor.
var ErrTableFull = fmt.Errorf("netcore: connection table full")

// errNotFound is the internal sentinel for a failed find_existing probe.
var errNotFound = fmt.Errorf("netcore: socket not registered")

// table is the fixed-capacity, open-addressing connection store. Slot
// index is derived by hashing sock mod capacity with linear probing; a
// wrap back to the start slot signals the table is full.
type table struct {
	slots []Conn
	poll  *poller
	count int
}

func newTable(capacity int, p *poller) *table {
	t := &table{slots: make([]Conn, capacity), poll: p}
	for i := range t.slots {
		t.slots[i].reset()
	}
	return t
}

func (t *table) capacity() int { return len(t.slots) }

// numConnections returns the count of occupied slots (invariant 5).
func (t *table) numConnections() int { return t.count }

func (t *table) probeStart(sock SocketDescriptor) int {
	return int(sock) % len(t.slots)
}

// findFree starts at sock mod capacity and linear-probes for an empty
// slot, returning ErrTableFull on a full wraparound.
func (t *table) findFree(sock SocketDescriptor) (int, error) {
	start := t.probeStart(sock)
	for i := 0; i < len(t.slots); i++ {
		idx := (start + i) % len(t.slots)
		if t.slots[idx].Sock == emptySock {
			return idx, nil
		}
	}
	return 0, ErrTableFull
}

// findExisting runs the same probe sequence, stopping at the slot whose
// Sock equals sock.
func (t *table) findExisting(sock SocketDescriptor) (int, error) {
	start := t.probeStart(sock)
	for i := 0; i < len(t.slots); i++ {
		idx := (start + i) % len(t.slots)
		if t.slots[idx].Sock == sock {
			return idx, nil
		}
	}
	return 0, errNotFound
}

// register combines findFree with field initialization. It refuses a
// sock already present, preventing the table from ever holding two live
// entries for the same descriptor.
func (t *table) register(sock SocketDescriptor, typ ConnType, addr uint32, port uint16, now int64, handler ReadHandler) (int, error) {
	if _, err := t.findExisting(sock); err == nil {
		return 0, fmt.Errorf("netcore: socket %d already registered", sock)
	}
	idx, err := t.findFree(sock)
	if err != nil {
		return 0, err
	}
	c := &t.slots[idx]
	c.Sock = sock
	c.Type = typ
	c.PeerAddr = addr
	c.PeerPort = port
	c.LastActive = now
	c.Handler = handler
	c.OnClose = nil
	c.Auth = 0
	if port != 0 && port < 1024 {
		c.Auth |= FromPrivilegedPort
	}
	c.Username = ""
	c.Hostname = ""
	c.UserData = nil
	c.Handle = -1
	t.count++
	if t.poll != nil {
		t.poll.arm(idx, sock)
	}
	return idx, nil
}

// release invokes on_close if set, clears the slot, disarms the
// readiness primitive, and decrements the live count. closeSocket is
// called with the slot's live connection to actually close the
// underlying descriptor (normally the security provider's close hook,
// wrapping a raw close(2)), before the slot is reset.
func (t *table) release(s *Server, idx int, closeSocket func(*Conn) error) error {
	c := &t.slots[idx]
	if c.Sock == emptySock {
		return nil
	}
	if c.OnClose != nil {
		c.OnClose(s, c.Sock)
	}
	var err error
	if closeSocket != nil {
		err = closeSocket(c)
	}
	if t.poll != nil {
		t.poll.disarm(idx)
	}
	c.reset()
	t.count--
	return err
}
