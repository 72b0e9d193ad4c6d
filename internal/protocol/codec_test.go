package protocol

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

func TestJSONDecodeBrowserFrame(t *testing.T) {
	raw := []byte(`{"event":"ice","data":{"candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host","sdpMid":"0","sdpMLineIndex":0},"targetConnectionId":"b"}}`)

	c := JSON{}
	frame, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Event != models.EventICE {
		t.Fatalf("expected ice event, got %s", frame.Event)
	}

	var p models.SignalPayload
	if err := c.Unmarshal(frame.Data, &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.TargetConnectionID != "b" {
		t.Errorf("expected target b, got %q", p.TargetConnectionID)
	}
	if p.Candidate == nil || p.Candidate.SDPMid == nil || *p.Candidate.SDPMid != "0" {
		t.Errorf("candidate not decoded: %+v", p.Candidate)
	}
	if p.Candidate.SDPMLineIndex == nil || *p.Candidate.SDPMLineIndex != 0 {
		t.Errorf("sdpMLineIndex not decoded: %+v", p.Candidate)
	}
}

func TestJSONRoomIDPayloadIsPlainString(t *testing.T) {
	c := JSON{}
	frame, err := c.Decode([]byte(`{"event":"join-room","data":"demo"}`))
	if err != nil {
		t.Fatal(err)
	}
	var roomID string
	if err := c.Unmarshal(frame.Data, &roomID); err != nil {
		t.Fatal(err)
	}
	if roomID != "demo" {
		t.Errorf("expected demo, got %q", roomID)
	}
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	if _, err := (JSON{}).Decode([]byte(`{"data":"x"}`)); err == nil {
		t.Error("expected error for frame without event")
	}
	if _, err := (JSON{}).Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestUnmarshalEmptyPayload(t *testing.T) {
	var v models.TypingRequest
	if err := (JSON{}).Unmarshal(nil, &v); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}
	if err := (Msgpack{}).Unmarshal([]byte{0xc0}, &v); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload for msgpack nil, got %v", err)
	}
}

func TestMsgpackSharesJSONFieldNames(t *testing.T) {
	c := Msgpack{}
	if c.MessageType() != websocket.BinaryMessage {
		t.Fatal("msgpack must use binary frames")
	}

	data, err := c.Encode(models.Envelope{
		Event: models.EventRoomJoined,
		Data:  models.RoomJoined{RoomID: "demo", IsFirst: false, Peers: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Event != models.EventRoomJoined {
		t.Fatalf("expected room-joined, got %s", frame.Event)
	}

	// Decode into a map to check the wire keys rather than the Go fields
	var wire map[string]any
	if err := c.Unmarshal(frame.Data, &wire); err != nil {
		t.Fatal(err)
	}
	if wire["roomId"] != "demo" {
		t.Errorf("expected roomId key on the wire, got %v", wire)
	}
	if _, ok := wire["isFirst"]; !ok {
		t.Errorf("expected isFirst key on the wire, got %v", wire)
	}
}

func TestByName(t *testing.T) {
	for name, want := range map[string]string{"": NameJSON, "json": NameJSON, "msgpack": NameMsgpack} {
		c, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q) failed: %v", name, err)
		}
		if c.Name() != want {
			t.Errorf("ByName(%q) = %s, want %s", name, c.Name(), want)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
