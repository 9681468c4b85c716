package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EventSend is the only event type that carries an interceptable message.
const EventSend = "send"

var ErrUnsupportedKind = errors.New("unsupported message type")

// Event is a raw event as delivered by a capture point. Payload carries the
// id, the kind code under "type", and the metadata.
type Event struct {
	Type        string    `json:"type" cbor:"type"`
	Payload     *Metadata `json:"payload,omitempty" cbor:"payload,omitempty"`
	Data        ByteList  `json:"data,omitempty" cbor:"data,omitempty"`
	Description string    `json:"description,omitempty" cbor:"description,omitempty"`
	Stack       string    `json:"stack,omitempty" cbor:"stack,omitempty"`
}

func (e *Event) String() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s: %s", e.Type, e.Description)
	case e.Payload != nil:
		return fmt.Sprintf("%s: %s", e.Type, e.Payload)
	}
	return e.Type
}

// Convert normalizes a raw event. Events that are not of type "send" yield
// (nil, nil) and should be logged and dropped by the caller. A missing id is
// replaced with a fresh one so every message can be correlated.
func Convert(e *Event) (*Message, error) {
	if e == nil || e.Type != EventSend {
		return nil, nil
	}
	if e.Payload == nil {
		return nil, fmt.Errorf("send event without payload")
	}

	md := e.Payload.Clone()
	id, _ := md.Text("id")
	code, _ := md.Text("type")
	md.Delete("id")
	md.Delete("type")
	if id == "" {
		id = uuid.NewString()
	}

	kind, ok := ParseKind(code)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedKind, code)
	}
	data := []byte(e.Data)
	if data == nil {
		data = []byte{}
	}

	switch kind {
	case Send:
		return NewSend(id, md, data), nil
	case Recv:
		return NewRecv(id, md, data), nil
	default:
		return NewClose(id, md), nil
	}
}

// DecodeEvent parses a JSON encoded event.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}

// DecodeEventCBOR parses a CBOR encoded event.
func DecodeEventCBOR(data []byte) (*Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}
