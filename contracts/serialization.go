package contracts

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// wireMessage is the encoded form of a Message. Payload, response and each
// value are encoded on their own so a value that cannot be encoded only
// loses itself.
type wireMessage struct {
	DestinationName         string
	ResponseDestinationName string
	ResponseID              string
	Payload                 []byte
	Response                []byte
	Values                  map[string][]byte
}

// RegisterType records the concrete type of value so it can travel in the
// payload, response or values of a serialized message. Builtin scalar types
// are registered already.
//
// Register the form that is sent: a type registered through a pointer
// (RegisterType(&T{})) decodes as *T even when a T value was encoded.
func RegisterType(value any) {
	gob.Register(value)
}

// ToBytes encodes the message. Payload and response must be encodable;
// values that are not are treated as transient and left out.
//
// Empty slices and maps decode as nil, so Equal reports a difference for a
// message carrying them after a round trip.
func (m *Message) ToBytes() ([]byte, error) {
	wire := wireMessage{
		DestinationName:         m.DestinationName,
		ResponseDestinationName: m.ResponseDestinationName,
		ResponseID:              m.ResponseID,
	}

	var err error
	if wire.Payload, err = encodeValue(m.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrNotSerializable, err)
	}
	if wire.Response, err = encodeValue(m.Response); err != nil {
		return nil, fmt.Errorf("%w: response: %v", ErrNotSerializable, err)
	}

	for k, v := range m.Values() {
		b, err := encodeValue(v)
		if err != nil {
			continue
		}
		if wire.Values == nil {
			wire.Values = make(map[string][]byte)
		}
		wire.Values[k] = b
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// MessageFromBytes decodes a message produced by ToBytes
func MessageFromBytes(data []byte) (*Message, error) {
	var wire wireMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	msg := &Message{
		DestinationName:         wire.DestinationName,
		ResponseDestinationName: wire.ResponseDestinationName,
		ResponseID:              wire.ResponseID,
	}

	var err error
	if msg.Payload, err = decodeValue(wire.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if msg.Response, err = decodeValue(wire.Response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	for k, b := range wire.Values {
		v, err := decodeValue(b)
		if err != nil {
			return nil, fmt.Errorf("failed to decode value %q: %w", k, err)
		}
		msg.Put(k, v)
	}
	return msg, nil
}

func encodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
