package netcore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2northstar/batchnet/pkg/dis"
)

// fakeSecurity lets tests drive dispatchSlot's auth gating without real
// socket I/O.
type fakeSecurity struct {
	result AuthResult
	err    error
	calls  int
}

func (f *fakeSecurity) ClientInit() error { return nil }
func (f *fakeSecurity) ServerAuth(conn *Conn, in *dis.Stream, out *dis.Writer) (AuthResult, error) {
	f.calls++
	return f.result, f.err
}
func (f *fakeSecurity) CloseSocket(conn *Conn) error { return nil }
func (f *fakeSecurity) CloseApp()                    {}

func newTestServer(capacity int, sec SecurityProvider) *Server {
	p := newPoller(capacity)
	return &Server{
		config:    &Config{MaxIdle: time.Minute, WaitTime: time.Second},
		table:     newTable(capacity, p),
		poll:      p,
		security:  sec,
		logger:    zerolog.Nop(),
		metrics:   newMetricsSet(capacity),
		listeners: map[int]*listener{},
	}
}

func TestDispatchSlotAuthOKInvokesHandler(t *testing.T) {
	sec := &fakeSecurity{result: AuthOK}
	s := newTestServer(4, sec)

	var invoked bool
	handler := func(s *Server, sock SocketDescriptor) { invoked = true }

	idx, err := s.table.register(999, FromClient, 0x7f000001, 5555, s.now(), handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.dispatchSlot(context.Background(), idx)

	if !invoked {
		t.Fatalf("handler was not invoked after AuthOK")
	}
	if sec.calls != 1 {
		t.Fatalf("ServerAuth called %d times, want 1", sec.calls)
	}
	if !s.table.slots[idx].Auth.has(Authenticated) {
		t.Fatalf("Authenticated flag not set after AuthOK")
	}
}

func TestDispatchSlotAuthFailClosesConnection(t *testing.T) {
	sec := &fakeSecurity{result: AuthFail}
	s := newTestServer(4, sec)

	handler := func(s *Server, sock SocketDescriptor) {
		t.Fatalf("handler must not run after AuthFail")
	}

	idx, err := s.table.register(999, FromClient, 0x7f000001, 5555, s.now(), handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.dispatchSlot(context.Background(), idx)

	if s.table.slots[idx].Sock != emptySock {
		t.Fatalf("slot not released after AuthFail")
	}
	if c := s.metrics.closedCounter("auth").Get(); c != 1 {
		t.Fatalf("auth close counter = %d, want 1", c)
	}
}

func TestDispatchSlotCheckPortAcceptsPrivilegedPort(t *testing.T) {
	sec := &fakeSecurity{result: AuthCheckPort}
	s := newTestServer(4, sec)

	var invoked bool
	handler := func(s *Server, sock SocketDescriptor) { invoked = true }

	// port 22 is privileged, so register sets FromPrivilegedPort.
	idx, err := s.table.register(999, FromClient, 0x7f000001, 22, s.now(), handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.dispatchSlot(context.Background(), idx)

	if !invoked {
		t.Fatalf("handler was not invoked for privileged-port CheckPort result")
	}
}

func TestDispatchSlotCheckPortRejectsUnprivilegedPort(t *testing.T) {
	sec := &fakeSecurity{result: AuthCheckPort}
	s := newTestServer(4, sec)

	handler := func(s *Server, sock SocketDescriptor) {
		t.Fatalf("handler must not run for unprivileged-port CheckPort result")
	}

	idx, err := s.table.register(999, FromClient, 0x7f000001, 5555, s.now(), handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.dispatchSlot(context.Background(), idx)

	if s.table.slots[idx].Sock != emptySock {
		t.Fatalf("slot not released for unprivileged-port CheckPort result")
	}
}

func TestIdleSweepClosesStaleClientConnections(t *testing.T) {
	sec := &fakeSecurity{result: AuthOK}
	s := newTestServer(4, sec)
	s.config.MaxIdle = time.Second

	handler := func(s *Server, sock SocketDescriptor) {}
	idx, err := s.table.register(999, FromClient, 0, 0, s.now()-10, handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	s.table.slots[idx].Auth |= Authenticated

	s.idleSweep()

	if s.table.slots[idx].Sock != emptySock {
		t.Fatalf("stale connection was not closed by idle sweep")
	}
}

func TestIdleSweepSkipsExemptConnections(t *testing.T) {
	sec := &fakeSecurity{result: AuthOK}
	s := newTestServer(4, sec)
	s.config.MaxIdle = time.Second

	handler := func(s *Server, sock SocketDescriptor) {}
	idx, err := s.table.register(999, FromClient, 0, 0, s.now()-10, handler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	s.table.slots[idx].Auth |= Authenticated | ExemptFromIdleTimeout

	s.idleSweep()

	if s.table.slots[idx].Sock == emptySock {
		t.Fatalf("exempt connection was closed by idle sweep")
	}
}

func TestIdleSweepIgnoresListeners(t *testing.T) {
	sec := &fakeSecurity{result: AuthOK}
	s := newTestServer(4, sec)
	s.config.MaxIdle = time.Second

	idx, err := s.table.register(999, PrimaryListener, 0, 0, s.now()-10, s.acceptHandler)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.idleSweep()

	if s.table.slots[idx].Sock == emptySock {
		t.Fatalf("listener slot was closed by idle sweep")
	}
}
