package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"debuglog/event"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestDecodeLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want event.Event
		ok   bool
	}{
		{
			name: "log with timestamp",
			line: `{"cmd":"log","msg":"Nanovor 1 hello","ts":1700000000000}`,
			want: event.New(event.KindLog, "Nanovor 1 hello", f64(1700000000000), nil),
			ok:   true,
		},
		{
			name: "error with tie breaker",
			line: `{"cmd":"error","msg":"Arena boom","ts":12.5,"tieBreaker":3}`,
			want: event.New(event.KindError, "Arena boom", f64(12.5), i64(3)),
			ok:   true,
		},
		{
			name: "comment without msg",
			line: `{"cmd":"comment"}`,
			want: event.New(event.KindComment, "", nil, nil),
			ok:   true,
		},
		{
			name: "clear ignores payload",
			line: `{"cmd":"clear","msg":"ignored","ts":5}`,
			want: event.Clear(),
			ok:   true,
		},
		{
			name: "non numeric ts is absent",
			line: `{"cmd":"log","msg":"x","ts":"soon","tieBreaker":"a"}`,
			want: event.New(event.KindLog, "x", nil, nil),
			ok:   true,
		},
		{name: "unknown cmd", line: `{"cmd":"ping"}`},
		{name: "missing cmd", line: `{"msg":"orphan"}`},
		{name: "non string cmd", line: `{"cmd":1,"msg":"x"}`},
		{name: "non string msg", line: `{"cmd":"log","msg":{"a":1}}`},
		{name: "array", line: `["cmd","log"]`},
		{name: "scalar", line: `"log"`},
		{name: "truncated", line: `{"cmd":"log","msg":"a"`},
		{name: "trailing garbage", line: `{"cmd":"log"} nope`},
		{name: "trailing word after msg", line: `{"cmd":"log","msg":"a"} garbage`},
		{name: "two objects", line: `{"cmd":"log","msg":"a"}{"cmd":"clear"}`},
		{name: "stray bracket", line: `{"cmd":"log","msg":"a"}]`},
		{name: "trailing comma", line: `{"cmd":"log","msg":"a",}`},
		{name: "bad nested value", line: `{"cmd":"log","extra":[1,}`},
		{
			name: "trailing whitespace",
			line: "{\"cmd\":\"log\",\"msg\":\"a\"} \t ",
			want: event.New(event.KindLog, "a", nil, nil),
			ok:   true,
		},
		{
			name: "repeated cmd takes last value",
			line: `{"cmd":"ping","msg":"x","cmd":"log"}`,
			want: event.New(event.KindLog, "x", nil, nil),
			ok:   true,
		},
		{name: "repeated cmd last value unknown", line: `{"cmd":"log","cmd":"ping"}`},
		{
			name: "unrelated fields skipped",
			line: `{"level":{"n":[1,2]},"cmd":"comment","msg":"c","tieBreaker":9}`,
			want: event.New(event.KindComment, "c", nil, i64(9)),
			ok:   true,
		},
		{name: "empty", line: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DecodeLine([]byte(tc.line))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v (event %+v)", tc.ok, ok, got)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeLineReplacesInvalidUTF8(t *testing.T) {
	line := append([]byte(`{"cmd":"log","msg":"bad `), 0xff, '"', '}')
	got, ok := DecodeLine(line)
	if !ok {
		t.Fatalf("expected invalid UTF-8 to be replaced, not rejected")
	}
	if got.Message != "bad �" {
		t.Fatalf("expected replacement char in message, got %q", got.Message)
	}
}

func TestSplitLines(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		lines []string
		rest  string
	}{
		{"lf", "a\nb\n", []string{"a", "b"}, ""},
		{"cr", "a\rb\r", []string{"a", "b"}, ""},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}, ""},
		{"mixed with tail", "a\r\n\n  \nb\rpartial", []string{"a", "b"}, "partial"},
		{"no delimiter", "partial", nil, "partial"},
		{"trimmed", "  a  \n", []string{"a"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines, rest := SplitLines([]byte(tc.in))
			got := make([]string, 0, len(lines))
			for _, l := range lines {
				got = append(got, string(l))
			}
			want := tc.lines
			if want == nil {
				want = []string{}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("lines mismatch (-want +got):\n%s", diff)
			}
			if string(rest) != tc.rest {
				t.Fatalf("expected rest %q, got %q", tc.rest, rest)
			}
		})
	}
}

func TestMatchPolicyRequest(t *testing.T) {
	t.Run("waits for nul", func(t *testing.T) {
		buf := []byte(PolicyRequest)
		rest, ok := MatchPolicyRequest(buf)
		if ok {
			t.Fatalf("expected no match before NUL terminator")
		}
		if string(rest) != PolicyRequest {
			t.Fatalf("expected buffer untouched, got %q", rest)
		}
	})
	t.Run("prunes through nul and leading space", func(t *testing.T) {
		buf := []byte("junk" + PolicyRequest + "\x00 \r\n{\"cmd\":\"log\",\"msg\":\"b\"}\n")
		rest, ok := MatchPolicyRequest(buf)
		if !ok {
			t.Fatalf("expected match")
		}
		if string(rest) != "{\"cmd\":\"log\",\"msg\":\"b\"}\n" {
			t.Fatalf("unexpected rest %q", rest)
		}
	})
	t.Run("absent", func(t *testing.T) {
		if _, ok := MatchPolicyRequest([]byte("{\"cmd\":\"log\"}\n")); ok {
			t.Fatalf("expected no match without request")
		}
	})
	if PolicyResponse[len(PolicyResponse)-1] != 0 {
		t.Fatalf("expected policy response to end with NUL")
	}
}

func TestEncodeLineDecodesBack(t *testing.T) {
	cases := []event.Event{
		event.New(event.KindLog, "Worker|started", f64(1700000000123), i64(7)),
		event.New(event.KindError, "", nil, nil),
		event.Clear(),
	}
	for _, want := range cases {
		line, err := EncodeLine(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want.Kind, err)
		}
		if line[len(line)-1] != '\n' {
			t.Fatalf("expected LF terminator, got %q", line)
		}
		got, ok := DecodeLine(line[:len(line)-1])
		if !ok {
			t.Fatalf("expected %q to decode", line)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeLineClearHasOnlyCmd(t *testing.T) {
	line, err := EncodeLine(event.Clear())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(line) != "{\"cmd\":\"clear\"}\n" {
		t.Fatalf("expected bare clear command, got %q", line)
	}
}
