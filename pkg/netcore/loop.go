package netcore

import (
	"context"

	"golang.org/x/sys/unix"
)

// RunOne executes one iteration of the event loop: wait for
// readiness, dispatch every ready slot in ascending index order with
// auth gating, then run the idle sweep.
func (s *Server) RunOne(ctx context.Context, waitSeconds float64) error {
	unix.Sigprocmask(unix.SIG_UNBLOCK, s.blockedSignals)
	n, err := s.poll.wait(int(waitSeconds * 1000))
	unix.Sigprocmask(unix.SIG_BLOCK, s.blockedSignals)
	if err != nil {
		return err
	}
	if n == 0 {
		s.idleSweep()
		return nil
	}

	for _, slot := range s.poll.readySlots() {
		s.dispatchSlot(ctx, slot)
	}
	s.idleSweep()
	return nil
}

func (s *Server) dispatchSlot(ctx context.Context, slot int) {
	s.mu.Lock()
	if slot >= len(s.table.slots) {
		s.mu.Unlock()
		return
	}
	c := &s.table.slots[slot]
	if c.Sock == emptySock {
		s.mu.Unlock()
		return
	}
	c.LastActive = s.now()

	if c.Type == Idle {
		s.mu.Unlock()
		s.closeConn(slot, "idle-slot")
		return
	}

	if !c.Type.preAuthenticated() && !c.Auth.has(Authenticated) {
		sock := c.Sock
		s.mu.Unlock()

		cc := s.codecFor(sock)
		res, err := s.security.ServerAuth(c, cc.in, cc.out)
		if err != nil {
			s.logger.Warn().Err(err).Int32("sock", int32(sock)).Msg("security handshake error")
		}

		s.mu.Lock()
		idx, ferr := s.table.findExisting(sock)
		if ferr != nil {
			s.mu.Unlock()
			return
		}
		c = &s.table.slots[idx]
		ok := res == AuthOK || (res == AuthCheckPort && c.Auth.has(FromPrivilegedPort))
		if !ok {
			s.mu.Unlock()
			s.closeConn(idx, "auth")
			return
		}
		c.Auth |= Authenticated
		handler := c.Handler
		s.mu.Unlock()
		if handler != nil {
			handler(s, sock)
		}
		return
	}

	handler := c.Handler
	sock := c.Sock
	s.mu.Unlock()
	if handler != nil {
		handler(s, sock)
	}
}

// idleSweep closes every FromClient connection that has had no readable
// activity for MaxIdle seconds and is not exempt. It runs unconditionally
// on every tick: poll(2) is the only readiness code path, so there is no
// select()-only branch where the sweep would be skipped.
func (s *Server) idleSweep() {
	now := s.now()
	maxIdle := int64(s.config.MaxIdle.Seconds())

	s.mu.Lock()
	var stale []int
	for i := range s.table.slots {
		c := &s.table.slots[i]
		if c.Sock == emptySock || c.Type != FromClient {
			continue
		}
		if c.Auth.has(ExemptFromIdleTimeout) {
			continue
		}
		if now-c.LastActive > maxIdle {
			stale = append(stale, i)
		}
	}
	s.mu.Unlock()

	for _, idx := range stale {
		s.closeConn(idx, "timeout")
		s.metrics.idleSweep.Inc()
	}
}

// closeConn releases the slot through the table, logging the structured
// close line with the triggering cause.
func (s *Server) closeConn(idx int, cause string) {
	s.mu.Lock()
	if idx >= len(s.table.slots) || s.table.slots[idx].Sock == emptySock {
		s.mu.Unlock()
		return
	}
	c := s.table.slots[idx]
	err := s.table.release(s, idx, s.closeSocket)
	delete(s.listeners, idx)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("close_socket failed")
	}
	s.metrics.closedCounter(cause).Inc()
	s.logger.Info().
		Uint32("peer_addr", c.PeerAddr).
		Uint16("peer_port", c.PeerPort).
		Str("cause", cause).
		Msg("connection closed")
}

func (s *Server) closeSocket(conn *Conn) error {
	if err := s.security.CloseSocket(conn); err != nil {
		s.logger.Warn().Err(err).Msg("security close_socket hook failed")
	}
	return unix.Close(int(conn.Sock))
}

// NetClose closes every connection but the one at keep (or all, if keep
// is -1), clearing on_close hooks first so teardown does not re-enter
// user code, then calls the security provider's CloseApp hook.
func (s *Server) NetClose(keep SocketDescriptor) {
	s.mu.Lock()
	var toClose []int
	for i := range s.table.slots {
		c := &s.table.slots[i]
		if c.Sock == emptySock || c.Sock == keep {
			continue
		}
		c.OnClose = nil
		toClose = append(toClose, i)
	}
	s.mu.Unlock()

	for _, idx := range toClose {
		s.closeConn(idx, "shutdown")
	}
	s.security.CloseApp()
}
