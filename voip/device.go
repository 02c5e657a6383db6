// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package voip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Categorized media-capture failures. Platform capture implementations
// wrap their native errors with one of these sentinels so the call UI
// can tell the user what actually went wrong.
var (
	// ErrPermissionDenied means the platform refused capture access.
	ErrPermissionDenied = errors.New("voip: media capture permission denied")

	// ErrDeviceUnavailable means no suitable capture device exists.
	ErrDeviceUnavailable = errors.New("voip: capture device unavailable")

	// ErrDeviceBusy means another application holds the capture device.
	ErrDeviceBusy = errors.New("voip: capture device busy")
)

// ErrCallInProgress is returned when a second call is started while
// one is already active.
var ErrCallInProgress = errors.New("voip: a call is already in progress")

// LocalTrack is one acquired capture track. Close releases the
// underlying device; it must be safe to call more than once.
type LocalTrack interface {
	// Track returns the pion track to attach to the peer connection.
	Track() webrtc.TrackLocal

	Close() error
}

// Devices acquires local capture tracks for a call: audio always,
// video when requested. Acquisition failures carry one of the
// categorized sentinels.
type Devices interface {
	Acquire(ctx context.Context, video bool) ([]LocalTrack, error)
}

// SampleSource supplies encoded media frames from a platform capture
// device. NextSample blocks until a frame is available; it returns
// io.EOF when the device is closed.
type SampleSource interface {
	NextSample() (media.Sample, error)
	Close() error
}

// SourceOpener opens a platform capture source. Implementations wrap
// open failures with ErrPermissionDenied, ErrDeviceUnavailable, or
// ErrDeviceBusy.
type SourceOpener func(ctx context.Context) (SampleSource, error)

// CaptureDevices is the pion-backed Devices implementation. Each
// acquired track pumps encoded samples from its SourceOpener into a
// static sample track until the track is closed.
type CaptureDevices struct {
	// Audio opens the microphone source (Opus frames). Required.
	Audio SourceOpener

	// Video opens the camera source (VP8 frames). Required only when
	// video calls are placed.
	Video SourceOpener

	Logger *slog.Logger
}

func (d *CaptureDevices) Acquire(ctx context.Context, video bool) ([]LocalTrack, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Audio == nil {
		return nil, fmt.Errorf("voip: no audio source configured: %w", ErrDeviceUnavailable)
	}

	audio, err := d.openTrack(ctx, d.Audio, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus,
	}, "audio", logger)
	if err != nil {
		return nil, fmt.Errorf("voip: acquiring microphone: %w", err)
	}
	tracks := []LocalTrack{audio}

	if video {
		if d.Video == nil {
			audio.Close()
			return nil, fmt.Errorf("voip: no video source configured: %w", ErrDeviceUnavailable)
		}
		camera, err := d.openTrack(ctx, d.Video, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8,
		}, "video", logger)
		if err != nil {
			audio.Close()
			return nil, fmt.Errorf("voip: acquiring camera: %w", err)
		}
		tracks = append(tracks, camera)
	}
	return tracks, nil
}

func (d *CaptureDevices) openTrack(ctx context.Context, open SourceOpener, codec webrtc.RTPCodecCapability, id string, logger *slog.Logger) (*captureTrack, error) {
	source, err := open(ctx)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, "capture")
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("creating %s track: %w", id, err)
	}
	capture := &captureTrack{
		track:  track,
		source: source,
		logger: logger,
		done:   make(chan struct{}),
	}
	go capture.pump()
	return capture, nil
}

// captureTrack couples a pion sample track with the platform source
// feeding it.
type captureTrack struct {
	track     *webrtc.TrackLocalStaticSample
	source    SampleSource
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func (c *captureTrack) Track() webrtc.TrackLocal { return c.track }

func (c *captureTrack) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.source.Close()
	})
	return err
}

// pump copies samples from the capture source into the track until the
// track closes or the source drains.
func (c *captureTrack) pump() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		sample, err := c.source.NextSample()
		if err != nil {
			if err != io.EOF {
				c.logger.Warn("capture source failed",
					"track", c.track.ID(),
					"error", err,
				)
			}
			return
		}
		if err := c.track.WriteSample(sample); err != nil {
			c.logger.Warn("writing media sample failed",
				"track", c.track.ID(),
				"error", err,
			)
			return
		}
	}
}
