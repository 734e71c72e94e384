package netcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/r2northstar/batchnet/pkg/dis"
)

// AuthResult is the outcome of a security provider's per-connection
// handshake.
type AuthResult int

const (
	// AuthOK accepts the connection outright.
	AuthOK AuthResult = iota
	// AuthCheckPort defers to the weak privileged-port signal already
	// recorded on the connection at registration time.
	AuthCheckPort
	// AuthFail rejects the connection; it is closed by the caller.
	AuthFail
)

// SecurityProvider is the opaque handshake + close hook the core calls
// without understanding its internals.
type SecurityProvider interface {
	// ClientInit is called once before the core begins accepting
	// connections.
	ClientInit() error
	// ServerAuth runs the handshake for a newly-readable, unauthenticated
	// connection, reading and writing through the connection's
	// persistent DIS codec so any data the peer pipelined past the
	// handshake response is preserved for the application handler.
	ServerAuth(conn *Conn, in *dis.Stream, out *dis.Writer) (AuthResult, error)
	// CloseSocket is invoked when a connection is released; a non-nil
	// error is logged but the socket is closed regardless.
	CloseSocket(conn *Conn) error
	// CloseApp tears down any provider-wide state at shutdown.
	CloseApp()
}

// CheckPortProvider implements the CheckPort pseudo-auth path: a
// connection is accepted iff it was registered from a privileged source
// port. It performs no handshake I/O at all, matching the zero-config
// default described for the core.
type CheckPortProvider struct{}

var _ SecurityProvider = CheckPortProvider{}

func (CheckPortProvider) ClientInit() error { return nil }

func (CheckPortProvider) ServerAuth(conn *Conn, in *dis.Stream, out *dis.Writer) (AuthResult, error) {
	return AuthCheckPort, nil
}

func (CheckPortProvider) CloseSocket(conn *Conn) error { return nil }

func (CheckPortProvider) CloseApp() {}

// HMACProvider is a challenge/response handshake: the server sends a
// random nonce as a DIS counted string, and the peer must reply with the
// HMAC-SHA256 of that nonce keyed by the shared secret, also as a DIS
// counted string.
type HMACProvider struct {
	Key []byte
}

var _ SecurityProvider = (*HMACProvider)(nil)

func NewHMACProvider(key []byte) *HMACProvider {
	return &HMACProvider{Key: key}
}

func (p *HMACProvider) ClientInit() error {
	if len(p.Key) == 0 {
		return fmt.Errorf("netcore: hmac security provider requires a non-empty key")
	}
	return nil
}

func (p *HMACProvider) ServerAuth(conn *Conn, in *dis.Stream, out *dis.Writer) (AuthResult, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return AuthFail, err
	}

	if err := dis.WriteString(out, nonce); err != nil {
		return AuthFail, err
	}
	if err := out.Flush(); err != nil {
		return AuthFail, err
	}

	resp, err := dis.ReadString(in)
	if err != nil {
		return AuthFail, nil // malformed response is a rejection, not a provider error
	}

	want := hmac.New(sha256.New, p.Key)
	want.Write(nonce)
	if subtle.ConstantTimeCompare(resp, want.Sum(nil)) != 1 {
		return AuthFail, nil
	}
	return AuthOK, nil
}

func (p *HMACProvider) CloseSocket(conn *Conn) error { return nil }

func (p *HMACProvider) CloseApp() {}
