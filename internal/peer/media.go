package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opus frame that decodes to 20ms of silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const audioFrame = 20 * time.Millisecond

// SyntheticSource produces an opus audio track carrying silence and a vp8
// video track. It stands in for capture devices in headless clients.
type SyntheticSource struct {
	StreamID string
}

func (s SyntheticSource) Acquire(ctx context.Context) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "meetclient"
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	m := &syntheticMedia{audio: audio, video: video, stop: make(chan struct{})}
	m.audioOn.Store(true)
	m.videoOn.Store(true)
	go m.pump()
	return m, nil
}

type syntheticMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	once sync.Once
	stop chan struct{}
}

func (m *syntheticMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *syntheticMedia) SetAudioEnabled(enabled bool) { m.audioOn.Store(enabled) }
func (m *syntheticMedia) SetVideoEnabled(enabled bool) { m.videoOn.Store(enabled) }

// AudioEnabled reports whether silence frames are being written.
func (m *syntheticMedia) AudioEnabled() bool { return m.audioOn.Load() }

// VideoEnabled reports whether the camera is considered on.
func (m *syntheticMedia) VideoEnabled() bool { return m.videoOn.Load() }

func (m *syntheticMedia) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *syntheticMedia) pump() {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.audioOn.Load() {
				continue
			}
			if err := m.audio.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame}); err != nil {
				log.Debugf("Failed to write audio sample: %v", err)
			}
		}
	}
}
