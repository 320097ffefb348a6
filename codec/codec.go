// Package codec turns raw bytes received from a producer connection into log
// events.
//
// Two framings share one byte stream:
//   - JSON lines terminated by CR, LF or CRLF, one object per line
//   - the legacy cross-domain policy handshake, a fixed request string
//     terminated by a NUL byte, answered with a fixed XML document
//
// Decoding never fails loudly: anything that is not a well-formed event is
// reported as "not an event" and the caller simply drops the line.
package codec

import (
	"bytes"
	"io"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"debuglog/event"
)

// PolicyRequest is the handshake request sent by legacy cross-domain clients
// before they are allowed to talk to a socket.
const PolicyRequest = "<policy-file-request/>"

// PolicyResponse is written back verbatim when PolicyRequest is seen. The
// trailing NUL byte is part of the protocol.
const PolicyResponse = `<?xml version="1.0"?>` +
	`<cross-domain-policy>` +
	`<allow-access-from domain="*" to-ports="*"/>` +
	"</cross-domain-policy>\x00"

const leadingSpace = " \t\r\n\v\f"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var replacementChar = []byte(string(utf8.RuneError))

// MatchPolicyRequest looks for the handshake request anywhere in buf. It
// reports ok only once the request's terminating NUL has arrived; rest is then
// everything after that NUL with leading whitespace removed. Bytes buffered
// before the request are discarded along with it.
func MatchPolicyRequest(buf []byte) (rest []byte, ok bool) {
	start := bytes.Index(buf, []byte(PolicyRequest))
	if start < 0 {
		return buf, false
	}
	nul := bytes.IndexByte(buf[start:], 0)
	if nul < 0 {
		return buf, false
	}
	return bytes.TrimLeft(buf[start+nul+1:], leadingSpace), true
}

// SplitLines extracts every complete line from buf. Any of CR, LF or CRLF ends
// a line. Returned lines are trimmed and never empty; rest holds the trailing
// incomplete line (possibly empty). Lines alias buf.
func SplitLines(buf []byte) (lines [][]byte, rest []byte) {
	rest = buf
	for {
		idx := bytes.IndexAny(rest, "\r\n")
		if idx < 0 {
			return lines, rest
		}
		line := bytes.TrimSpace(rest[:idx])
		rest = rest[idx+1:]
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
}

// DecodeLine parses one delimiter-free line. ok is false for invalid JSON,
// anything after the top-level value, non-object JSON, a missing or unknown
// `cmd`, or a non-string `msg`. A repeated key takes its last value.
func DecodeLine(line []byte) (ev event.Event, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return event.Event{}, false
	}
	if !utf8.Valid(line) {
		line = bytes.ToValidUTF8(line, replacementChar)
	}
	fields, ok := readFields(line)
	if !ok {
		return event.Event{}, false
	}

	cmd := fields["cmd"]
	if cmd == nil || cmd.ValueType() != jsoniter.StringValue {
		return event.Event{}, false
	}
	kind, known := event.ParseKind(cmd.ToString())
	if !known {
		return event.Event{}, false
	}
	if kind == event.KindClear {
		return event.Clear(), true
	}

	msg := ""
	if field := fields["msg"]; field != nil {
		switch field.ValueType() {
		case jsoniter.NilValue:
		case jsoniter.StringValue:
			msg = field.ToString()
		default:
			return event.Event{}, false
		}
	}

	var ts *float64
	if field := fields["ts"]; field != nil && field.ValueType() == jsoniter.NumberValue {
		v := field.ToFloat64()
		ts = &v
	}
	var tie *int64
	if field := fields["tieBreaker"]; field != nil && field.ValueType() == jsoniter.NumberValue {
		v := field.ToInt64()
		tie = &v
	}
	return event.New(kind, msg, ts, tie), true
}

// readFields reads a single JSON object spanning all of line and returns the
// fields an event uses. Other fields are validated and skipped.
func readFields(line []byte) (map[string]jsoniter.Any, bool) {
	iter := json.BorrowIterator(line)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, false
	}
	fields := make(map[string]jsoniter.Any, 4)
	complete := iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		switch key {
		case "cmd", "msg", "ts", "tieBreaker":
			fields[key] = it.ReadAny()
		default:
			it.Skip()
		}
		return it.Error == nil
	})
	if !complete || iter.Error != nil {
		return nil, false
	}
	// Only end of input may follow the object.
	if iter.WhatIsNext() != jsoniter.InvalidValue || iter.Error != io.EOF {
		return nil, false
	}
	return fields, true
}

type wireEvent struct {
	Cmd        string   `json:"cmd"`
	Msg        *string  `json:"msg,omitempty"`
	Ts         *float64 `json:"ts,omitempty"`
	TieBreaker *int64   `json:"tieBreaker,omitempty"`
}

// EncodeLine renders ev the way a producer sends it, LF-terminated. A clear
// event carries only its cmd.
func EncodeLine(ev event.Event) ([]byte, error) {
	w := wireEvent{Cmd: ev.Kind.String()}
	if !ev.IsClear() {
		msg := ev.Message
		w.Msg = &msg
		w.Ts = ev.Timestamp
		w.TieBreaker = ev.TieBreaker
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
