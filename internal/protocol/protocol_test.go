package protocol

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{name: "start", msg: Start(), want: `{"action":"start"}`},
		{name: "stop", msg: Stop(), want: `{"action":"stop"}`},
		{name: "listen", msg: Listen(), want: `{"action":"listen"}`},
		{name: "command", msg: Command("turn on lights"), want: `{"action":"command","text":"turn on lights"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Encode = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEncode_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := Encode(Outbound{Action: "dance"}); err == nil {
		t.Error("expected error for unknown action")
	}
	if _, err := Encode(Outbound{Action: ActionStart, Text: "x"}); err == nil {
		t.Error("expected error for start carrying text")
	}
}

func TestDecode_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{name: "status listening", frame: `{"type":"status","data":"listening"}`, want: Status{Status: StatusListening}},
		{name: "status processing", frame: `{"type":"status","data":"processing"}`, want: Status{Status: StatusProcessing}},
		{name: "status idle", frame: `{"type":"status","data":"idle"}`, want: Status{Status: StatusIdle}},
		{name: "status executing", frame: `{"type":"status","data":"executing"}`, want: Status{Status: StatusExecuting}},
		{name: "status started", frame: `{"type":"status","data":"started"}`, want: Status{Status: StatusStarted}},
		{name: "transcript", frame: `{"type":"transcript","data":"open notepad"}`, want: Transcript{Text: "open notepad"}},
		{name: "speak", frame: `{"type":"speak","data":"Hello Operator"}`, want: Speak{Text: "Hello Operator"}},
		{name: "empty speak", frame: `{"type":"speak","data":""}`, want: Speak{Text: ""}},
		{name: "stats", frame: `{"type":"stats","data":{"cpu":12.5,"ram":40,"battery":88}}`, want: Stats{CPU: 12.5, RAM: 40, Battery: 88}},
		{name: "unknown type", frame: `{"type":"weather","data":{"temp":21}}`, want: Unknown{Type: "weather"}},
		{name: "unknown type no data", frame: `{"type":"ping"}`, want: Unknown{Type: "ping"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode([]byte(tc.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Errorf("Decode = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `not json`},
		{name: "array", frame: `[1,2]`},
		{name: "missing type", frame: `{"data":"idle"}`},
		{name: "empty type", frame: `{"type":"","data":"idle"}`},
		{name: "status missing data", frame: `{"type":"status"}`},
		{name: "status not string", frame: `{"type":"status","data":3}`},
		{name: "status unrecognised", frame: `{"type":"status","data":"sleeping"}`},
		{name: "speak null", frame: `{"type":"speak","data":null}`},
		{name: "transcript object", frame: `{"type":"transcript","data":{"text":"x"}}`},
		{name: "stats partial", frame: `{"type":"stats","data":{"cpu":1,"ram":2}}`},
		{name: "stats string", frame: `{"type":"stats","data":"high"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev, err := Decode([]byte(tc.frame))
			if err == nil {
				t.Fatalf("Decode = %#v, want error", ev)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("error %v does not match ErrDecode", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("error %T is not *DecodeError", err)
			}
		})
	}
}

func TestBackendStatus_IsLifecycle(t *testing.T) {
	t.Parallel()

	for _, s := range []BackendStatus{StatusStarted, StatusStopped} {
		if !s.IsLifecycle() {
			t.Errorf("%q: expected lifecycle", s)
		}
	}
	for _, s := range []BackendStatus{StatusListening, StatusProcessing, StatusIdle, StatusExecuting} {
		if s.IsLifecycle() {
			t.Errorf("%q: expected activity status", s)
		}
	}
}
