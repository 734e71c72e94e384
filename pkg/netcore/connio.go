package netcore

import (
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/r2northstar/batchnet/pkg/dis"
)

// rawConnIO implements io.Reader/io.Writer directly over a socket
// descriptor, used to back the persistent per-connection DIS codec.
type rawConnIO struct {
	fd int
}

// connCodec is the persistent DIS stream and writer for one connection,
// shared by the security handshake and the application handler. A fresh
// dis.Stream per call would discard whatever its bufio.Reader read ahead
// of what it needed; since a handshake response and the first
// application request can arrive in the same TCP segment, that read-ahead
// has to survive past the call that triggered it.
type connCodec struct {
	in  *dis.Stream
	out *dis.Writer
}

// codecFor returns sock's persistent codec, creating it on first use and
// storing it in the slot's UserData for the remainder of the connection's
// life. If sock is no longer registered (already closed), it returns a
// fresh, unshared codec so callers racing a close don't panic.
func (s *Server) codecFor(sock SocketDescriptor) *connCodec {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.table.findExisting(sock)
	if err != nil {
		rw := rawConnIO{fd: int(sock)}
		return &connCodec{in: dis.NewStream(rw), out: dis.NewWriter(rw)}
	}
	c := &s.table.slots[idx]
	if cc, ok := c.UserData.(*connCodec); ok && cc != nil {
		return cc
	}
	rw := rawConnIO{fd: int(sock)}
	cc := &connCodec{in: dis.NewStream(rw), out: dis.NewWriter(rw)}
	c.UserData = cc
	return cc
}

// ConnCodec returns the persistent DIS stream and writer for sock, for use
// by ReadHandlers registered through InitNetwork that need to read a
// request and write a reply.
func (s *Server) ConnCodec(sock SocketDescriptor) (*dis.Stream, *dis.Writer) {
	cc := s.codecFor(sock)
	return cc.in, cc.out
}

// Logger returns the server's structured logger, for use by ReadHandlers
// that want to log at the same level and destination as the core.
func (s *Server) Logger() *zerolog.Logger {
	return &s.logger
}

// CloseNow closes the connection at sock immediately with the given
// cause, for use by ReadHandlers that hit a protocol error they cannot
// recover from.
func (s *Server) CloseNow(sock SocketDescriptor, cause string) {
	s.mu.Lock()
	idx, err := s.table.findExisting(sock)
	s.mu.Unlock()
	if err != nil {
		return
	}
	s.closeConn(idx, cause)
}

func (c rawConnIO) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (c rawConnIO) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(c.fd, p[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
