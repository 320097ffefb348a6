package relay

import (
	"bytes"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"debuglog/codec"
	"debuglog/event"
	"debuglog/filter"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session owns one producer connection: its receive buffer, framing and the
// optional policy handshake reply.
type session struct {
	id     uint64
	server *Server
	conn   net.Conn
	addr   string

	state     atomic.Int32
	buf       []byte
	closeOnce sync.Once

	events    uint64
	discarded bool // inside an oversized line, dropping bytes until the next terminator
}

func newSession(server *Server, id uint64, conn net.Conn) *session {
	sess := &session{
		id:     id,
		server: server,
		conn:   conn,
		addr:   conn.RemoteAddr().String(),
	}
	sess.state.Store(int32(stateConnecting))
	return sess
}

func (c *session) currentState() sessionState {
	return sessionState(c.state.Load())
}

// run reads until EOF, a socket error or server shutdown. Partial trailing
// data is discarded when the session ends.
func (c *session) run() {
	defer c.server.sessionWG.Done()
	defer func() {
		if r := recover(); r != nil {
			c.server.logf("Relay: panic in session %d (%s): %v\n%s", c.id, c.addr, r, debug.Stack())
		}
		c.finish()
	}()

	if !c.state.CompareAndSwap(int32(stateConnecting), int32(stateActive)) {
		return
	}
	readBuf := make([]byte, c.server.opts.RecvBufferBytes)
	for c.server.running.Load() && c.currentState() == stateActive {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.server.opts.ReadTimeout))
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			if !c.consume(readBuf[:n]) {
				return
			}
		}
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if !errors.Is(err, io.EOF) && c.server.running.Load() && !errors.Is(err, net.ErrClosed) {
			c.server.logf("Relay: session %d (%s) read error: %v", c.id, c.addr, err)
		}
		return
	}
}

// consume appends data to the receive buffer, answers complete policy
// requests and forwards complete lines. It returns false when the session
// must end (a handshake write failed).
func (c *session) consume(data []byte) bool {
	c.buf = append(c.buf, data...)

	for {
		rest, ok := codec.MatchPolicyRequest(c.buf)
		if !ok {
			break
		}
		if err := c.writePolicy(); err != nil {
			c.server.logf("Relay: session %d (%s) policy reply failed: %v", c.id, c.addr, err)
			return false
		}
		c.buf = append(c.buf[:0], rest...)
		c.discarded = false
	}

	if c.discarded {
		// still inside an oversized line: drop through its terminator
		idx := bytes.IndexAny(c.buf, "\r\n")
		if idx < 0 {
			c.buf = c.buf[:0]
			return true
		}
		c.buf = append(c.buf[:0], c.buf[idx+1:]...)
		c.discarded = false
	}

	lines, rest := codec.SplitLines(c.buf)
	for _, line := range lines {
		c.handleLine(line)
	}
	c.buf = append(c.buf[:0], rest...)

	if len(c.buf) > c.server.opts.MaxLineBytes {
		c.dropOversized()
	}
	return true
}

func (c *session) writePolicy() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
	_, err := io.WriteString(c.conn, codec.PolicyResponse)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return err
	}
	c.server.stats.IncrementHandshake()
	return nil
}

// dropOversized discards an unterminated line that grew past MaxLineBytes.
func (c *session) dropOversized() {
	if !c.discarded {
		c.server.stats.IncrementOversized()
		if total, ok := c.server.oversizeLog.Inc(); ok {
			c.server.logf("Relay: session %d (%s) discarded line over %d bytes (total discarded=%d)",
				c.id, c.addr, c.server.opts.MaxLineBytes, total)
		}
	}
	c.discarded = true
	c.buf = c.buf[:0]
}

func (c *session) handleLine(line []byte) {
	ev, ok := codec.DecodeLine(line)
	if !ok {
		c.server.stats.IncrementMalformed()
		return
	}
	if !ev.IsClear() && filter.ShouldExclude(ev.Message, c.server.Exclusions()) {
		c.server.stats.IncrementExcluded()
		return
	}
	c.server.queue.Push(event.ItemFrom(ev))
	c.events++
	c.server.stats.IncrementKind(ev.Kind)
	if !ev.IsClear() {
		c.server.stats.IncrementSender(filter.ExtractSender(ev.Message))
	}
}

// closeConn closes the socket once. Called by Stop and by the session itself.
func (c *session) closeConn() {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(stateActive), int32(stateClosing))
		c.state.CompareAndSwap(int32(stateConnecting), int32(stateClosing))
		_ = c.conn.Close()
	})
}

func (c *session) finish() {
	c.closeConn()
	c.server.unregister(c)
	c.state.Store(int32(stateClosed))
	c.server.stats.SessionClosed()
	c.server.logf("Relay: session %d (%s) closed after %d events", c.id, c.addr, c.events)
}
