// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package voip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/abekugithub/matrix/messaging"
)

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// ICEConfig holds ICE server configuration for call PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromTURN converts the homeserver's TURN credential response
// into an ICEConfig suitable for pion/webrtc. When turn is nil (the
// homeserver has no TURN configured), returns a config with only host
// candidates — sufficient for same-LAN calls.
func ICEConfigFromTURN(turn *messaging.TURNCredentialsResponse) ICEConfig {
	if turn == nil || len(turn.URIs) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       turn.URIs,
				Username:   turn.Username,
				Credential: turn.Password,
			},
		},
	}
}

// TURNFetcher fetches time-limited TURN relay credentials. Implemented
// by messaging.Session.
type TURNFetcher interface {
	TURNCredentials(ctx context.Context) (*messaging.TURNCredentialsResponse, error)
}

// NewPionTransportFactory returns the production TransportFactory:
// fresh TURN credentials per call (they are time-limited HMAC
// credentials), pion PeerConnections underneath. stunServers are
// additional STUN URIs merged ahead of the homeserver's TURN servers.
// A credential fetch failure degrades to whatever STUN and host
// candidates remain rather than blocking the call.
func NewPionTransportFactory(turn TURNFetcher, stunServers []string, logger *slog.Logger) TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, events TransportEvents) (Transport, error) {
		var config ICEConfig
		if len(stunServers) > 0 {
			config.Servers = append(config.Servers, webrtc.ICEServer{URLs: stunServers})
		}
		credentials, err := turn.TURNCredentials(ctx)
		if err != nil {
			logger.Warn("TURN credential fetch failed, continuing without relay",
				"error", err,
			)
		} else {
			config.Servers = append(config.Servers, ICEConfigFromTURN(credentials).Servers...)
		}
		return newPionTransport(config, events, logger)
	}
}

// pionTransport is the pion/webrtc Transport for one call.
type pionTransport struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	trackOnce sync.Once
	failOnce  sync.Once
}

func newPionTransport(config ICEConfig, events TransportEvents, logger *slog.Logger) (*pionTransport, error) {
	// Loopback candidates make same-machine calls work in test
	// environments where loopback is the only interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	transport := &pionTransport{pc: pc, logger: logger}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("remote track attached",
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		if events.OnRemoteTrack != nil {
			transport.trackOnce.Do(events.OnRemoteTrack)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ICE state change", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed && events.OnFailure != nil {
			transport.failOnce.Do(func() {
				events.OnFailure(fmt.Errorf("ICE connection failed"))
			})
		}
	})

	return transport, nil
}

func (t *pionTransport) attachTracks(tracks []LocalTrack) error {
	for _, track := range tracks {
		if _, err := t.pc.AddTrack(track.Track()); err != nil {
			return fmt.Errorf("attaching local track: %w", err)
		}
	}
	return nil
}

// Offer attaches the local tracks and produces a complete SDP offer.
// Vanilla ICE: gathering finishes before the SDP is returned, so the
// invite carries every candidate.
func (t *pionTransport) Offer(ctx context.Context, tracks []LocalTrack) (string, error) {
	if err := t.attachTracks(tracks); err != nil {
		return "", err
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	if err := t.waitForGathering(ctx, gatherComplete); err != nil {
		return "", err
	}
	return t.pc.LocalDescription().SDP, nil
}

// Answer attaches the local tracks, applies the remote offer, and
// produces a complete SDP answer.
func (t *pionTransport) Answer(ctx context.Context, tracks []LocalTrack, offerSDP string) (string, error) {
	if err := t.attachTracks(tracks); err != nil {
		return "", err
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	if err := t.waitForGathering(ctx, gatherComplete); err != nil {
		return "", err
	}
	return t.pc.LocalDescription().SDP, nil
}

func (t *pionTransport) waitForGathering(ctx context.Context, gatherComplete <-chan struct{}) error {
	select {
	case <-gatherComplete:
		return nil
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcceptAnswer applies the remote answer to an offered connection.
func (t *pionTransport) AcceptAnswer(sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// AddRemoteCandidates applies trickled candidates from an
// m.call.candidates event. Vanilla ICE makes these redundant for our
// own SDP, but peers are free to trickle.
func (t *pionTransport) AddRemoteCandidates(candidates []messaging.ICECandidate) error {
	for _, candidate := range candidates {
		init := webrtc.ICECandidateInit{Candidate: candidate.Candidate}
		if candidate.SDPMid != "" {
			mid := candidate.SDPMid
			init.SDPMid = &mid
		}
		if candidate.SDPMLineIndex != nil {
			index := uint16(*candidate.SDPMLineIndex)
			init.SDPMLineIndex = &index
		}
		if err := t.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("adding ICE candidate: %w", err)
		}
	}
	return nil
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
