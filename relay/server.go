// Package relay implements the TCP listener that collects log events from
// producer processes and hands them to the display consumer.
//
// Architecture:
//   - One goroutine accepts connections (acceptConnections)
//   - One goroutine per connection reads and frames its stream (session.run)
//   - Decoded, non-excluded events go to a single queue.Queue; nothing else
//     leaves a session except the policy handshake reply on its own socket
//
// Liveness:
//   - Every Accept and Read carries a deadline so loops observe the running
//     flag within one timeout period
//   - Stop closes every session socket and the listener so blocked reads fail
//     immediately instead of waiting out their deadline
//
// Concurrency Design:
//   - running is an atomic flag written once by Stop
//   - sessionsMu guards the session registry for add (accept loop), remove
//     (session exit) and close-all (Stop)
//   - the exclusion set is swapped wholesale through an atomic pointer
//   - an error in one session never touches another session or the listener
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"debuglog/filter"
	"debuglog/internal/ratelimit"
	"debuglog/queue"
	"debuglog/stats"
)

// DefaultPort is the port producers connect to unless configured otherwise.
const DefaultPort = 8765

const (
	defaultBindAddress     = "127.0.0.1"
	defaultReadTimeout     = time.Second
	defaultAcceptTimeout   = time.Second
	defaultWriteTimeout    = 2 * time.Second
	defaultRecvBufferBytes = 64 * 1024
	defaultMaxLineBytes    = 1 << 20
	oversizeLogInterval    = 30 * time.Second
)

var (
	// ErrServerClosed is returned by Start after Stop has been called.
	ErrServerClosed = errors.New("relay: server closed")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("relay: server already started")
	// ErrNotLoopback is returned when the bind address is not a loopback address.
	ErrNotLoopback = errors.New("relay: bind address must be a loopback address")
)

// ServerOptions configures the relay server instance.
type ServerOptions struct {
	BindAddress     string        // loopback host to bind; default 127.0.0.1
	Port            int           // TCP port; 0 asks the OS for a free port
	ReadTimeout     time.Duration // per-Read deadline for sessions
	AcceptTimeout   time.Duration // per-Accept deadline for the listener
	WriteTimeout    time.Duration // deadline for writing the policy reply
	RecvBufferBytes int           // size of each session's read buffer
	MaxLineBytes    int           // longest unterminated line kept before discarding
	MaxSessions     int           // concurrent session cap; 0 = unlimited
	Exclusions      *filter.ExclusionSet
	Stats           *stats.Tracker
	Logf            func(format string, args ...any) // defaults to log.Printf
}

func normalizeServerOptions(opts ServerOptions) ServerOptions {
	config := opts
	if strings.TrimSpace(config.BindAddress) == "" {
		config.BindAddress = defaultBindAddress
	}
	config.BindAddress = strings.TrimSpace(config.BindAddress)
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.AcceptTimeout <= 0 {
		config.AcceptTimeout = defaultAcceptTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.RecvBufferBytes <= 0 {
		config.RecvBufferBytes = defaultRecvBufferBytes
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = defaultMaxLineBytes
	}
	if config.MaxSessions < 0 {
		config.MaxSessions = 0
	}
	if config.Exclusions == nil {
		config.Exclusions = filter.NewExclusionSet()
	}
	if config.Logf == nil {
		config.Logf = log.Printf
	}
	return config
}

// Server accepts producer connections and feeds their events into a queue.
//
// Thread Safety:
//   - Start() must be called once; Stop() may be called any number of times
//     from any goroutine
//   - SetExclusions() may run concurrently with sessions
type Server struct {
	opts  ServerOptions
	queue *queue.Queue
	stats *stats.Tracker
	logf  func(format string, args ...any)

	exclusions atomic.Pointer[filter.ExclusionSet]
	running    atomic.Bool

	lifecycleMu sync.Mutex // guards listener, started, stopped
	listener    net.Listener
	started     bool
	stopped     bool
	acceptDone  chan struct{}
	acceptErr   error
	stopOnce    sync.Once

	sessionsMu sync.Mutex
	sessions   map[uint64]*session
	nextID     atomic.Uint64
	sessionWG  sync.WaitGroup

	oversizeLog *ratelimit.Counter
}

// NewServer creates a relay server that pushes accepted events onto q.
func NewServer(opts ServerOptions, q *queue.Queue) *Server {
	config := normalizeServerOptions(opts)
	s := &Server{
		opts:        config,
		queue:       q,
		stats:       config.Stats,
		logf:        config.Logf,
		sessions:    make(map[uint64]*session),
		acceptDone:  make(chan struct{}),
		oversizeLog: ratelimit.NewCounter(oversizeLogInterval),
	}
	s.exclusions.Store(config.Exclusions)
	return s
}

// Start binds the listener and launches the accept loop. Bind failures are
// returned immediately: a relay without a listener is useless.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stopped {
		return ErrServerClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if !isLoopbackHost(s.opts.BindAddress) {
		return fmt.Errorf("%w: %q", ErrNotLoopback, s.opts.BindAddress)
	}

	addr := net.JoinHostPort(s.opts.BindAddress, strconv.Itoa(s.opts.Port))
	listener, err := listenWithReuse(addr)
	if err != nil {
		return fmt.Errorf("failed to start relay listener on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = true
	s.running.Store(true)
	s.logf("Relay: listening on %s (excluding senders: %s)", listener.Addr(), describeExclusions(s.Exclusions()))

	go s.acceptConnections(listener)
	return nil
}

// listenWithReuse enables SO_REUSEADDR so we can rebind quickly after a restart.
// It falls back to a standard Listen when the control call fails.
func listenWithReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			controlErr := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return nil, err
		}
		// Fallback to default listener on platforms that reject the control call.
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// acceptConnections runs until Stop or an unexpected listener failure.
func (s *Server) acceptConnections(listener net.Listener) {
	defer close(s.acceptDone)
	dl, hasDeadline := listener.(deadlineListener)
	for s.running.Load() {
		if hasDeadline {
			_ = dl.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
		}
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.lifecycleMu.Lock()
			s.acceptErr = fmt.Errorf("relay: accept failed: %w", err)
			s.lifecycleMu.Unlock()
			s.logf("Relay: listener failed, no longer accepting connections: %v", err)
			return
		}
		s.admit(conn)
	}
}

// admit registers conn as a new session unless the server is full or stopping.
func (s *Server) admit(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if s.opts.MaxSessions > 0 && s.SessionCount() >= s.opts.MaxSessions {
		_ = conn.Close()
		s.stats.SessionRejected()
		s.logf("Relay: rejected connection from %s: max sessions reached (%d)", addr, s.opts.MaxSessions)
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
	}

	sess := newSession(s, s.nextID.Add(1), conn)

	s.sessionsMu.Lock()
	if !s.running.Load() {
		s.sessionsMu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	total := len(s.sessions)
	s.sessionWG.Add(1)
	s.sessionsMu.Unlock()

	s.stats.SessionOpened()
	s.logf("Relay: session %d opened from %s (active: %d)", sess.id, addr, total)
	go sess.run()
}

// unregister removes a session from the registry. It is a no-op when Stop
// already cleared the registry.
func (s *Server) unregister(sess *session) {
	s.sessionsMu.Lock()
	if current, ok := s.sessions[sess.id]; ok && current == sess {
		delete(s.sessions, sess.id)
	}
	s.sessionsMu.Unlock()
}

// Stop shuts the relay down. It is idempotent and safe to call from any
// goroutine; after it returns no new events are produced.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		// stopped and running flip together so a concurrent Start either
		// finishes first or sees ErrServerClosed.
		s.lifecycleMu.Lock()
		s.stopped = true
		s.running.Store(false)
		listener := s.listener
		started := s.started
		s.lifecycleMu.Unlock()

		// Closing the sockets forces pending reads to fail so session loops exit
		// without waiting out their read deadline.
		s.sessionsMu.Lock()
		closing := len(s.sessions)
		for id, sess := range s.sessions {
			sess.closeConn()
			delete(s.sessions, id)
		}
		s.sessionsMu.Unlock()

		if listener != nil {
			_ = listener.Close()
		}
		if !started {
			close(s.acceptDone)
			return
		}

		grace := s.opts.AcceptTimeout + s.opts.ReadTimeout
		select {
		case <-s.acceptDone:
		case <-time.After(grace):
			s.logf("Relay: accept loop did not exit within %s", grace)
		}
		if !waitTimeout(&s.sessionWG, grace) {
			s.logf("Relay: sessions still draining after %s", grace)
		}
		s.logf("Relay: stopped (%d sessions closed)", closing)
	})
}

// Done is closed when the accept loop has exited, either after Stop or after
// a listener failure.
func (s *Server) Done() <-chan struct{} {
	return s.acceptDone
}

// Err returns the listener failure that ended the accept loop, if any.
func (s *Server) Err() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.acceptErr
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// Exclusions returns the exclusion set currently applied to new events.
func (s *Server) Exclusions() *filter.ExclusionSet {
	return s.exclusions.Load()
}

// SetExclusions replaces the exclusion set for all sessions. nil clears it.
func (s *Server) SetExclusions(set *filter.ExclusionSet) {
	if set == nil {
		set = filter.NewExclusionSet()
	}
	s.exclusions.Store(set)
	s.logf("Relay: exclusions now %s", describeExclusions(set))
}

// Stats returns the tracker the server reports into (may be nil).
func (s *Server) Stats() *stats.Tracker {
	return s.stats
}

func describeExclusions(set *filter.ExclusionSet) string {
	if set.Len() == 0 {
		return "(none)"
	}
	return set.String()
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
