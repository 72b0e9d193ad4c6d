// Package protocol encodes signaling envelopes for the websocket.
//
// Each connection picks one codec at upgrade time: JSON over text frames or
// MessagePack over binary frames. Payload decoding is deferred so the hub can
// decide the payload type from the event name.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

// ErrEmptyPayload is returned when an event that needs data carries none.
var ErrEmptyPayload = errors.New("empty payload")

// Codec converts envelopes to and from websocket frames.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type the codec writes.
	MessageType() int
	Encode(env models.Envelope) ([]byte, error)
	Decode(data []byte) (models.Frame, error)
	// Unmarshal decodes a Frame's Data into v.
	Unmarshal(data []byte, v any) error
}

const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSON is the default text codec used by browsers.
type JSON struct{}

type jsonFrame struct {
	Event models.EventType `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

func (JSON) Name() string     { return NameJSON }
func (JSON) MessageType() int { return websocket.TextMessage }

func (JSON) Encode(env models.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSON) Decode(data []byte) (models.Frame, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return models.Frame{}, fmt.Errorf("decode json frame: %w", err)
	}
	if f.Event == "" {
		return models.Frame{}, fmt.Errorf("decode json frame: missing event")
	}
	return models.Frame{Event: f.Event, Data: f.Data}, nil
}

func (JSON) Unmarshal(data []byte, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}

// Msgpack is the binary codec used by native clients. It reuses the json
// struct tags so both codecs share one set of payload types.
type Msgpack struct{}

type msgpackFrame struct {
	Event models.EventType  `json:"event"`
	Data  msgpack.RawMessage `json:"data,omitempty"`
}

func (Msgpack) Name() string     { return NameMsgpack }
func (Msgpack) MessageType() int { return websocket.BinaryMessage }

func (Msgpack) Encode(env models.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Decode(data []byte) (models.Frame, error) {
	var f msgpackFrame
	if err := newMsgpackDecoder(data).Decode(&f); err != nil {
		return models.Frame{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	if f.Event == "" {
		return models.Frame{}, fmt.Errorf("decode msgpack frame: missing event")
	}
	return models.Frame{Event: f.Event, Data: f.Data}, nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	// 0xc0 is msgpack nil
	if len(data) == 0 || (len(data) == 1 && data[0] == 0xc0) {
		return ErrEmptyPayload
	}
	return newMsgpackDecoder(data).Decode(v)
}

func newMsgpackDecoder(data []byte) *msgpack.Decoder {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec
}
