package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"ack", Ack(), "40"},
		{"ping", Ping(), "2"},
		{"pong", Pong(), "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.frame)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(raw) != tt.want {
				t.Fatalf("encoded %q, want %q", raw, tt.want)
			}
		})
	}
}

func TestEventFrameRoundTrip(t *testing.T) {
	f, err := Event(EventAuthenticate, AuthenticatePayload{Token: "tok-123"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	raw, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := `42["authenticate",{"token":"tok-123"}]`; string(raw) != want {
		t.Fatalf("encoded %s, want %s", raw, want)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindEvent || decoded.Event != EventAuthenticate {
		t.Fatalf("unexpected frame: %+v", decoded)
	}

	var payload AuthenticatePayload
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Token != "tok-123" {
		t.Fatalf("token = %q", payload.Token)
	}
}

func TestDecodeControlFrames(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
	}{
		{"2", KindPing},
		{"3", KindPong},
		{"40", KindAck},
	}
	for _, tt := range tests {
		f, err := Decode([]byte(tt.raw))
		if err != nil {
			t.Fatalf("decode %q: %v", tt.raw, err)
		}
		if f.Kind != tt.kind {
			t.Fatalf("decode %q: kind = %d, want %d", tt.raw, f.Kind, tt.kind)
		}
	}
}

func TestDecodeNewMessage(t *testing.T) {
	raw := `42["new_message",{"chat_id":"c1","message":{"sender":"alice","message":"hi","is_action":false}}]`
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Event != EventNewMessage {
		t.Fatalf("event = %q", f.Event)
	}

	var payload NewMessagePayload
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.ChatID != "c1" || payload.Message.Sender != "alice" || payload.Message.Message != "hi" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodeEventWithoutPayload(t *testing.T) {
	f, err := Decode([]byte(`42["pong"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Event != "pong" || f.Data != nil {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"5",
		"41",
		"42",
		"42{bad json}",
		"42[]",
		"42[42,{}]",
		"hello",
	}
	for _, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %q: err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestEncodeEventNilPayload(t *testing.T) {
	raw, err := Encode(Frame{Kind: KindEvent, Event: EventHeartbeat})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := `42["heartbeat",{}]`; string(raw) != want {
		t.Fatalf("encoded %s, want %s", raw, want)
	}
}
