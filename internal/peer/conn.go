// Package peer drives one side of a 1:1 call: local media, offer/answer and
// ICE exchange over the relay, and teardown.
package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/meeting-signaling/internal/logging"
)

var log = logging.Logger("peer")

var (
	// ErrClosed is returned by operations on a machine that ended its call.
	ErrClosed = errors.New("peer: call ended")
	// ErrMediaUnavailable wraps a failure to acquire local capture.
	ErrMediaUnavailable = errors.New("peer: local media unavailable")
	// ErrAlreadyJoined is returned by a second Join on the same machine.
	ErrAlreadyJoined = errors.New("peer: already joined")
)

// Conn is the part of *webrtc.PeerConnection the machine uses.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// ConnFactory creates a fresh underlying connection.
type ConnFactory func() (Conn, error)

// NewPionFactory returns a factory for pion peer connections that gather
// against the given STUN servers. includeLoopback adds 127.0.0.1 candidates,
// which lets two clients on one host connect without any other interface.
func NewPionFactory(stunURLs []string, includeLoopback bool) (ConnFactory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(includeLoopback)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))

	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	return func() (Conn, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}, nil
}

// Signaler sends negotiation messages to the relay.
type Signaler interface {
	SendOffer(target, sdp string) error
	SendAnswer(target, sdp string) error
	SendICE(target string, candidate webrtc.ICECandidateInit) error
}

// MediaSource acquires local capture. Acquire may block until the user or
// device responds; it must honor ctx.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// LocalMedia is acquired capture attached to every connection of a call.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Stop()
}
