package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const frameInterval = time.Second / 30

// testSource is a stand-in for real capture: a single video track fed with
// empty VP8 samples at a steady rate. Release stops the feeder and stands in
// for freeing the capture device.
type testSource struct {
	track *webrtc.TrackLocalStaticSample

	once sync.Once
	stop chan struct{}
}

func newTestSource() (*testSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "beamcast",
	)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}

	s := &testSource{track: track, stop: make(chan struct{})}
	go s.feed()
	return s, nil
}

func (s *testSource) Track() webrtc.TrackLocal { return s.track }

func (s *testSource) feed() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.track.WriteSample(media.Sample{
				Data:     []byte{0x00},
				Duration: frameInterval,
			})
		case <-s.stop:
			return
		}
	}
}

func (s *testSource) Release() {
	s.once.Do(func() { close(s.stop) })
}
