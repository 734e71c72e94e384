package netcore

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Generation distinguishes the up-to-two listener generations an
// acceptor can admit peers for.
type Generation int

const (
	GenPrimary Generation = iota
	GenSecondary
)

// listener owns one listening socket and the read function its
// accepted peers inherit.
type listener struct {
	fd      int
	gen     Generation
	readFn  ReadHandler
	onClose CloseHandler
}

// InitNetwork binds and listens on addr for the given generation,
// registering the listener in the table. It is invokable at most twice
// (primary + secondary); a third call is rejected.
func (s *Server) InitNetwork(addr string, gen Generation, readFn ReadHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == GenPrimary && s.primaryBound {
		return errors.New("netcore: primary listener already initialized")
	}
	if gen == GenSecondary && s.secondaryBound {
		return errors.New("netcore: secondary listener already initialized")
	}
	if s.primaryBound && s.secondaryBound {
		return errors.New("netcore: init_network invoked a third time")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 256); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	typ := PrimaryListener
	if gen == GenSecondary {
		typ = SecondaryListener
	}

	idx, err := s.table.register(SocketDescriptor(fd), typ, 0, 0, s.now(), s.acceptHandler)
	if err != nil {
		unix.Close(fd)
		return err
	}
	s.listeners[idx] = &listener{fd: fd, gen: gen, readFn: readFn}

	if gen == GenPrimary {
		s.primaryBound = true
	} else {
		s.secondaryBound = true
	}
	return nil
}

// acceptHandler is the read handler registered for every listening
// socket.
func (s *Server) acceptHandler(srv *Server, sock SocketDescriptor) {
	idx, err := s.table.findExisting(sock)
	if err != nil {
		return
	}
	l := s.listeners[idx]

	nfd, sa, err := unix.Accept(int(sock))
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			s.logger.Warn().Err(err).Msg("accept failed")
		}
		return
	}
	// Client sockets stay in blocking mode with a bounded timeout rather
	// than non-blocking: the security handshake and handlers need to
	// wait across more than one packet (the HMAC challenge/response
	// round trip in particular), and poll(2) readiness alone can't
	// express "wait for the rest of a short exchange". The timeout
	// bounds how long a slow or hostile peer can stall the loop.
	setConnTimeout(nfd, s.config.WaitTime)

	var addr uint32
	var port uint16
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		addr = ipv4ToUint32(in4.Addr)
		port = uint16(in4.Port)
	}

	if s.table.numConnections() >= s.table.capacity() {
		unix.Close(nfd)
		s.metrics.rejected.Inc()
		s.logger.Warn().
			Uint32("peer_addr", addr).Uint16("peer_port", port).
			Msg("ConnectionsFull")
		return
	}

	handler := l.readFn
	cidx, err := s.table.register(SocketDescriptor(nfd), FromClient, addr, port, s.now(), handler)
	if err != nil {
		unix.Close(nfd)
		return
	}
	s.metrics.accepted.Inc()
	go s.resolvePeerHostname(cidx, SocketDescriptor(nfd), addr)
}

// resolvePeerHostname reverse-resolves a newly-accepted peer's address in
// the background so the blocking DNS lookup never stalls the event loop,
// then records the result on the slot if it is still the same connection
// (it may have closed, or the slot may have been reused, by the time the
// lookup finishes).
func (s *Server) resolvePeerHostname(idx int, sock SocketDescriptor, addr uint32) {
	name, err := peerHostname(context.Background(), addr, 256)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < len(s.table.slots) && s.table.slots[idx].Sock == sock {
		s.table.slots[idx].Hostname = name
	}
}

func ipv4ToUint32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// setConnTimeout bounds both directions of fd to d, falling back to a
// generous default if the core wasn't configured with a wait time (e.g.
// a zero-value Config in tests).
func setConnTimeout(fd int, d time.Duration) {
	if d <= 0 {
		d = 2 * time.Second
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

func (s *Server) now() int64 { return time.Now().Unix() }
