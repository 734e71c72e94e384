package netcore

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Server owns the connection table, the readiness primitive, the
// security provider and the listeners admitted through InitNetwork. All
// mutable state reachable from more than one goroutine (the event loop
// goroutine and any goroutine serving /metrics or handling SIGHUP) is
// guarded by mu.
type Server struct {
	mu sync.Mutex

	config   *Config
	table    *table
	poll     *poller
	security SecurityProvider
	logger   zerolog.Logger
	metrics  *metricsSet

	listeners map[int]*listener

	blockedSignals *unix.Sigset_t

	primaryBound   bool
	secondaryBound bool

	reload []func()
	closed bool
}

// NewServer configures a new Server using c, which is assumed to be
// initialized to default or configured values (as done by
// UnmarshalEnv). It allocates the connection table and readiness
// primitive but does not bind any listeners; call InitNetwork for that.
func NewServer(c *Config) (*Server, error) {
	var s Server
	s.config = c

	if l, fn, err := configureLogging(c); err == nil {
		s.logger = l
		s.reload = append(s.reload, fn)
	} else {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	capacity := c.MaxConnections
	if capacity <= 0 {
		n, err := maxOpenFiles()
		if err != nil {
			return nil, fmt.Errorf("derive max connections from rlimit: %w", err)
		}
		capacity = n
	}
	if capacity < 1 {
		return nil, fmt.Errorf("max connections must be positive, got %d", capacity)
	}

	s.poll = newPoller(capacity)
	s.table = newTable(capacity, s.poll)
	s.listeners = map[int]*listener{}
	s.metrics = newMetricsSet(capacity)
	s.metrics.tableSizeFn = func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return float64(s.table.numConnections())
	}

	sec, err := configureSecurity(c)
	if err != nil {
		return nil, fmt.Errorf("initialize security provider: %w", err)
	}
	if err := sec.ClientInit(); err != nil {
		return nil, fmt.Errorf("security provider client_init: %w", err)
	}
	s.security = sec

	var set unix.Sigset_t
	unix.Sigaddset(&set, int(unix.SIGHUP))
	unix.Sigaddset(&set, int(unix.SIGINT))
	unix.Sigaddset(&set, int(unix.SIGTERM))
	s.blockedSignals = &set
	unix.Sigprocmask(unix.SIG_BLOCK, s.blockedSignals)

	if _, err := dbUserPath(c); err != nil {
		return nil, fmt.Errorf("resolve db user file: %w", err)
	}

	return &s, nil
}

// configureSecurity selects the SecurityProvider named by c.Security,
// either "checkport" or "hmac:<key>".
func configureSecurity(c *Config) (SecurityProvider, error) {
	typ, arg, _ := strings.Cut(c.Security, ":")
	switch typ {
	case "", "checkport":
		return CheckPortProvider{}, nil
	case "hmac":
		if arg == "" {
			return nil, fmt.Errorf("hmac: missing key")
		}
		return NewHMACProvider([]byte(arg)), nil
	default:
		return nil, fmt.Errorf("unknown security provider %q", typ)
	}
}

// maxOpenFiles derives a connection table capacity from the process's
// open file descriptor limit, leaving headroom for stdio, the log file
// and a couple of listening sockets.
func maxOpenFiles() (int, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}
	n := int(rlim.Cur) - 16
	if n < 1 {
		n = 1
	}
	return n, nil
}

// dbUserPath resolves DBUserFile relative to Home, matching
// get_dataservice_usr's lookup rule: the file is optional, but if Home
// doesn't resolve to an absolute path the server can't be started.
func dbUserPath(c *Config) (string, error) {
	home, err := filepath.Abs(c.Home)
	if err != nil {
		return "", fmt.Errorf("resolve home %q: %w", c.Home, err)
	}
	return filepath.Join(home, c.DBUserFile), nil
}

func configureLogging(c *Config) (l zerolog.Logger, reopen func(), err error) {
	var outputs []io.Writer
	if c.LogStdout {
		if c.LogStdoutPretty {
			outputs = append(outputs, newZerologWriterLevel(zerolog.ConsoleWriter{
				Out: os.Stdout,
			}, c.LogStdoutLevel))
		} else {
			outputs = append(outputs, newZerologWriterLevel(os.Stdout, c.LogStdoutLevel))
		}
	}
	if fn := c.LogFile; fn != "" {
		x := newZerologWriterLevel(nil, c.LogFileLevel)
		if fn, err = filepath.Abs(fn); err != nil {
			err = fmt.Errorf("resolve log file: %w", err)
			return
		}
		reopen = func() {
			x.SwapWriter(func(old io.Writer) io.Writer {
				if o, ok := old.(io.Closer); ok {
					o.Close()
				}
				if f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666); err == nil {
					if c.LogFileChmod != 0 {
						if err := f.Chmod(c.LogFileChmod); err != nil {
							fmt.Fprintf(os.Stderr, "error: chmod log file: %v\n", err)
						}
					}
					return f
				} else {
					fmt.Fprintf(os.Stderr, "error: failed to open log file: %v\n", err)
				}
				return nil
			})
		}
		outputs = append(outputs, x)
		reopen()
	}
	l = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(c.LogLevel).
		With().
		Timestamp().
		Logger()
	return
}

// Run drives the event loop until ctx is canceled, then tears down
// every connection and returns. It must only ever be called once.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("netcore: server already closed")
	}
	waitSeconds := s.config.WaitTime.Seconds()
	s.mu.Unlock()

	go s.sdnotify("READY=1")

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.logger.Info().Msg("shutting down")
			go s.sdnotify("STOPPING=1")
			s.NetClose(emptySock)
			return nil
		default:
		}

		if err := s.RunOne(ctx, waitSeconds); err != nil {
			s.logger.Err(err).Msg("event loop iteration failed")
			return err
		}
	}
}

// HandleSIGHUP reopens the log file and resumes sd-notify readiness,
// matching atlas's reload hook pattern generalized to the core's own
// reload list.
func (s *Server) HandleSIGHUP() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")

	for _, fn := range s.reload {
		if fn != nil {
			fn()
		}
	}
}

// WriteMetrics writes the core's Prometheus exposition to w, gated by
// secret matching c.MetricsSecret the way atlas gates its /metrics
// endpoint.
func (s *Server) WriteMetrics(w io.Writer, secret string) error {
	if s.config.MetricsSecret != "" && secret != s.config.MetricsSecret {
		return fmt.Errorf("netcore: invalid metrics secret")
	}
	s.metrics.WritePrometheus(w)
	return nil
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.config.NotifySocket == "" {
		return false, nil
	}

	socketAddr := &net.UnixAddr{
		Name: s.config.NotifySocket,
		Net:  "unixgram",
	}

	conn, err := net.DialUnix(socketAddr.Net, nil, socketAddr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
