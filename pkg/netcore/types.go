package netcore

// SocketDescriptor identifies an underlying OS socket. It is signed so
// that the empty sentinel (-1) and ordinary descriptors share one
// representation without the mixed signed/unsigned comparisons the
// reference implementation used; real descriptors are never negative on
// the platforms this runs on, so the hash-probe below never needs to
// reason about negative, non-sentinel values.
type SocketDescriptor int32

// emptySock is the sentinel value for an unoccupied connection table slot.
const emptySock SocketDescriptor = -1

// ConnType classifies a connection table slot.
type ConnType uint8

const (
	// FromClient is an ordinary accepted peer connection.
	FromClient ConnType = iota
	// PrimaryListener is the listening socket for the primary generation.
	PrimaryListener
	// SecondaryListener is the listening socket for the secondary generation.
	SecondaryListener
	// InternalPipe is a non-socket descriptor used for internal wakeups.
	InternalPipe
	// ReliableDatagram is a connected datagram peer, exempt from auth gating.
	ReliableDatagram
	// Idle marks a slot that must never be dispatched; seeing one ready
	// means the slot was never meant to be active and is force-closed.
	Idle
)

func (t ConnType) isListener() bool {
	return t == PrimaryListener || t == SecondaryListener
}

// preAuthenticated reports whether slots of this type bypass the
// security handshake and are dispatched directly, per the event loop's
// auth-gating rule.
func (t ConnType) preAuthenticated() bool {
	return t == PrimaryListener || t == SecondaryListener || t == ReliableDatagram
}

// AuthFlags is a bitset of per-connection authentication state.
type AuthFlags uint8

const (
	// Authenticated is set once the security provider's handshake succeeds.
	Authenticated AuthFlags = 1 << iota
	// FromPrivilegedPort is set at registration time when the peer's
	// source port is below 1024.
	FromPrivilegedPort
	// ExemptFromIdleTimeout opts a connection out of the idle sweep.
	ExemptFromIdleTimeout
)

func (f AuthFlags) has(bit AuthFlags) bool { return f&bit != 0 }

// ReadHandler is invoked with a connection's socket once it is readable
// and authenticated (or exempt from authentication).
type ReadHandler func(s *Server, sock SocketDescriptor)

// CloseHandler is invoked just before a connection's slot is released.
type CloseHandler func(s *Server, sock SocketDescriptor)

// Conn is one entry in the connection table.
type Conn struct {
	Sock       SocketDescriptor
	Type       ConnType
	PeerAddr   uint32 // host byte order
	PeerPort   uint16 // host byte order
	LastActive int64  // unix seconds
	Handler    ReadHandler
	OnClose    CloseHandler
	Auth       AuthFlags
	Username   string
	Hostname   string
	UserData   any
	Handle     int64 // application-level id, -1 if unset
}

func (c *Conn) reset() {
	*c = Conn{Sock: emptySock, Handle: -1}
}
