package relay

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"debuglog/codec"
	"debuglog/event"
	"debuglog/filter"
	"debuglog/queue"
	"debuglog/stats"
)

type recordConn struct {
	writeErr error
	written  bytes.Buffer
	writes   int
	closed   bool
}

func (c *recordConn) Read(b []byte) (int, error) {
	return 0, io.EOF
}

func (c *recordConn) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes++
	return c.written.Write(b)
}

func (c *recordConn) Close() error {
	c.closed = true
	return nil
}

func (c *recordConn) LocalAddr() net.Addr {
	return stubAddr("local")
}

func (c *recordConn) RemoteAddr() net.Addr {
	return stubAddr("remote")
}

func (c *recordConn) SetDeadline(time.Time) error {
	return nil
}

func (c *recordConn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *recordConn) SetWriteDeadline(time.Time) error {
	return nil
}

type stubAddr string

func (a stubAddr) Network() string {
	return string(a)
}

func (a stubAddr) String() string {
	return string(a)
}

func discardLogf(string, ...any) {}

func newTestSession(t *testing.T, opts ServerOptions) (*session, *recordConn, *queue.Queue, *stats.Tracker) {
	t.Helper()
	q := queue.New(0, nil)
	tracker := stats.NewTracker()
	opts.Stats = tracker
	if opts.Logf == nil {
		opts.Logf = discardLogf
	}
	srv := NewServer(opts, q)
	conn := &recordConn{}
	return newSession(srv, 1, conn), conn, q, tracker
}

func drain(q *queue.Queue) []event.Item {
	var items []event.Item
	for {
		it, ok := q.TryGet()
		if !ok {
			return items
		}
		items = append(items, it)
	}
}

func TestSessionHandshakeThenEvent(t *testing.T) {
	sess, conn, q, tracker := newTestSession(t, ServerOptions{})
	input := codec.PolicyRequest + "\x00\n" + `{"cmd":"log","msg":"hello"}` + "\n"
	if !sess.consume([]byte(input)) {
		t.Fatalf("expected session to continue")
	}
	if conn.writes != 1 {
		t.Fatalf("expected exactly one write, got %d", conn.writes)
	}
	if conn.written.String() != codec.PolicyResponse {
		t.Fatalf("unexpected handshake reply %q", conn.written.String())
	}
	items := drain(q)
	if len(items) != 1 || items[0].Payload.Message != "hello" {
		t.Fatalf("expected single hello event, got %+v", items)
	}
	if tracker.Snapshot().Handshakes != 1 {
		t.Fatalf("expected handshake counted")
	}
}

func TestSessionHandshakeSplitAcrossReads(t *testing.T) {
	sess, conn, q, _ := newTestSession(t, ServerOptions{})
	sess.consume([]byte("<policy-file"))
	if conn.writes != 0 {
		t.Fatalf("expected no reply before request completes")
	}
	sess.consume([]byte("-request/>"))
	if conn.writes != 0 {
		t.Fatalf("expected no reply before NUL arrives")
	}
	sess.consume([]byte("\x00{\"cmd\":\"error\",\"msg\":\"boom\"}\n"))
	if conn.writes != 1 {
		t.Fatalf("expected one reply, got %d", conn.writes)
	}
	items := drain(q)
	if len(items) != 1 || items[0].Kind != event.KindError {
		t.Fatalf("expected one error event, got %+v", items)
	}
}

func TestSessionHandshakeWriteFailureEndsSession(t *testing.T) {
	sess, conn, _, _ := newTestSession(t, ServerOptions{})
	conn.writeErr = errors.New("broken pipe")
	if sess.consume([]byte(codec.PolicyRequest + "\x00")) {
		t.Fatalf("expected session to stop after failed reply")
	}
}

func TestSessionLinesSplitAcrossReads(t *testing.T) {
	sess, _, q, _ := newTestSession(t, ServerOptions{})
	sess.consume([]byte(`{"cmd":"log","ms`))
	if q.Len() != 0 {
		t.Fatalf("expected no event from partial line")
	}
	sess.consume([]byte(`g":"Nanovor 1 hi","ts":1700000000000}` + "\r\n" + `{"cmd":"comment","msg":"x"}` + "\r"))
	items := drain(q)
	if len(items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(items))
	}
	if items[0].Payload.Message != "Nanovor 1 hi" || items[0].Payload.Timestamp == nil {
		t.Fatalf("unexpected first event %+v", items[0].Payload)
	}
	if items[1].Kind != event.KindComment {
		t.Fatalf("expected comment, got %s", items[1].Kind)
	}
}

func TestSessionDropsUnknownAndExcluded(t *testing.T) {
	sess, _, q, tracker := newTestSession(t, ServerOptions{
		Exclusions: filter.BuildExclusions(nil, true),
	})
	input := strings.Join([]string{
		`{"cmd":"bogus","msg":"x"}`,
		`not json`,
		`{"cmd":"log","msg":"downloadmanager fetching"}`,
		`{"cmd":"clear"}`,
		`{"cmd":"log","msg":"Nanovor ok"}`,
	}, "\n") + "\n"
	sess.consume([]byte(input))
	items := drain(q)
	if len(items) != 2 {
		t.Fatalf("expected clear and one log, got %+v", items)
	}
	if !items[0].IsClear() || items[0].Payload != nil {
		t.Fatalf("expected clear item with no payload, got %+v", items[0])
	}
	if items[1].Payload.Message != "Nanovor ok" {
		t.Fatalf("unexpected event %+v", items[1].Payload)
	}
	snap := tracker.Snapshot()
	if snap.Malformed != 2 || snap.Excluded != 1 {
		t.Fatalf("expected 2 malformed and 1 excluded, got %+v", snap)
	}
	if snap.Senders["nanovor"] != 1 {
		t.Fatalf("expected sender count for nanovor, got %v", snap.Senders)
	}
}

func TestSessionOversizedLineDiscarded(t *testing.T) {
	sess, _, q, tracker := newTestSession(t, ServerOptions{MaxLineBytes: 32})
	sess.consume([]byte(strings.Repeat("x", 40)))
	sess.consume([]byte(strings.Repeat("y", 40)))
	if tracker.Snapshot().Oversized != 1 {
		t.Fatalf("expected one oversized line, got %d", tracker.Snapshot().Oversized)
	}
	sess.consume([]byte("tail\n{\"cmd\":\"log\",\"msg\":\"after\"}\n"))
	items := drain(q)
	if len(items) != 1 || items[0].Payload.Message != "after" {
		t.Fatalf("expected only the line after the oversized one, got %+v", items)
	}
	if tracker.Snapshot().Malformed != 0 {
		t.Fatalf("oversized tail must not be decoded")
	}
}

func TestSessionRunStopsOnEOF(t *testing.T) {
	q := queue.New(0, nil)
	srv := NewServer(ServerOptions{Logf: discardLogf}, q)
	srv.running.Store(true)
	conn := &recordConn{}
	sess := newSession(srv, 7, conn)
	srv.sessions[sess.id] = sess
	srv.sessionWG.Add(1)

	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit on EOF")
	}
	if !conn.closed {
		t.Fatalf("expected connection closed")
	}
	if srv.SessionCount() != 0 {
		t.Fatalf("expected session unregistered")
	}
	if sess.currentState() != stateClosed {
		t.Fatalf("expected closed state, got %s", sess.currentState())
	}
}
