// Package wire implements the text frame protocol spoken between the client
// and the relay: bare control codes for liveness and namespace connect, and
// "42"-prefixed JSON arrays for application events.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the frame union.
type Kind int

const (
	// KindAck is the namespace-connect acknowledgment ("40").
	KindAck Kind = iota
	// KindPing is a liveness ping ("2").
	KindPing
	// KindPong is the reply to a ping ("3").
	KindPong
	// KindEvent is an application event ("42" + JSON([name, payload])).
	KindEvent
)

const (
	rawAck  = "40"
	rawPing = "2"
	rawPong = "3"

	eventPrefix = "42"
)

// ErrMalformed is returned when a frame cannot be decoded.
var ErrMalformed = errors.New("wire: malformed frame")

// Frame is one unit of wire data. Event and Data are set only for KindEvent.
type Frame struct {
	Kind  Kind
	Event string
	Data  json.RawMessage
}

// Ack returns the namespace-connect acknowledgment frame.
func Ack() Frame { return Frame{Kind: KindAck} }

// Ping returns a liveness ping frame.
func Ping() Frame { return Frame{Kind: KindPing} }

// Pong returns the reply frame for a ping.
func Pong() Frame { return Frame{Kind: KindPong} }

// Event builds an event frame with a JSON-encoded payload.
func Event(name string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Frame{Kind: KindEvent, Event: name, Data: data}, nil
}

// Encode renders a frame to its wire representation.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindAck:
		return []byte(rawAck), nil
	case KindPing:
		return []byte(rawPing), nil
	case KindPong:
		return []byte(rawPong), nil
	case KindEvent:
		data := f.Data
		if data == nil {
			data = json.RawMessage("{}")
		}
		body, err := json.Marshal([]json.RawMessage{mustMarshalString(f.Event), data})
		if err != nil {
			return nil, fmt.Errorf("encode event frame: %w", err)
		}
		return append([]byte(eventPrefix), body...), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, f.Kind)
	}
}

// Decode parses one wire frame. Anything that is not a known control code or
// a well-formed event frame yields ErrMalformed.
func Decode(raw []byte) (Frame, error) {
	switch string(raw) {
	case rawPing:
		return Ping(), nil
	case rawPong:
		return Pong(), nil
	case rawAck:
		return Ack(), nil
	}

	if len(raw) < len(eventPrefix) || string(raw[:len(eventPrefix)]) != eventPrefix {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformed, truncate(raw))
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw[len(eventPrefix):], &parts); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(parts) < 1 {
		return Frame{}, fmt.Errorf("%w: empty event array", ErrMalformed)
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Frame{}, fmt.Errorf("%w: event name: %v", ErrMalformed, err)
	}

	f := Frame{Kind: KindEvent, Event: name}
	if len(parts) > 1 {
		f.Data = parts[1]
	}
	return f, nil
}

func mustMarshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func truncate(raw []byte) string {
	const max = 32
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
