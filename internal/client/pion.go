package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

const eventBuffer = 32

// PionOptions configures a PionPeerConnection.
type PionOptions struct {
	StreamID    string
	UnifiedPlan bool
	STUNURLs    []string
	Logger      *slog.Logger
	Net         transport.Net
}

// PionPeerConnection is a PeerConnection backed by pion. Its local stream is an audio and a
// video track that carry no samples; nothing in this package captures media.
type PionPeerConnection struct {
	api    *webrtc.API
	config webrtc.Configuration
	pc     *webrtc.PeerConnection
	local  []*webrtc.TrackLocalStaticSample
	events chan StreamEvent
	done   chan struct{}

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	streams media.StreamCounter
	closed  bool
}

func NewPionPeerConnection(opts PionOptions) (*PionPeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%w: register codecs: %v", media.ErrMediaLayer, err)
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = media.NewLoggerFactory(opts.Logger)
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	cfg := webrtc.Configuration{SDPSemantics: webrtc.SDPSemanticsPlanB}
	if opts.UnifiedPlan {
		cfg.SDPSemantics = webrtc.SDPSemanticsUnifiedPlan
	}
	if len(opts.STUNURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.STUNURLs}}
	}

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", opts.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: create audio track: %v", media.ErrMediaLayer, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", opts.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: create video track: %v", media.ErrMediaLayer, err)
	}

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", media.ErrMediaLayer, err)
	}

	p := &PionPeerConnection{
		api:     api,
		config:  cfg,
		pc:      pc,
		local:   []*webrtc.TrackLocalStaticSample{audio, video},
		events:  make(chan StreamEvent, eventBuffer),
		done:    make(chan struct{}),
		streams: media.StreamCounter{},
	}
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		streamID := remote.StreamID()
		if p.trackStarted(streamID) {
			p.emit(StreamEvent{Kind: media.EventStreamAdded, StreamID: streamID})
		}
		go func() {
			drain(remote)
			if p.trackEnded(streamID) {
				p.emit(StreamEvent{Kind: media.EventStreamRemoved, StreamID: streamID})
			}
		}()
	})
	return p, nil
}

// Capabilities returns the SDP of a throwaway offer listing the local tracks. The server
// only reads the media kinds from it.
func (p *PionPeerConnection) Capabilities() (string, error) {
	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return "", fmt.Errorf("%w: new peer connection: %v", media.ErrMediaLayer, err)
	}
	defer pc.Close()

	for _, t := range p.local {
		if _, err := pc.AddTrack(t); err != nil {
			return "", fmt.Errorf("%w: add %s track: %v", media.ErrMediaLayer, t.Kind(), err)
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", media.ErrMediaLayer, err)
	}
	return offer.SDP, nil
}

func (p *PionPeerConnection) HasLocalStream() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.senders) > 0
}

func (p *PionPeerConnection) AttachLocalStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.senders) > 0 {
		return nil
	}
	for _, t := range p.local {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("%w: add %s track: %v", media.ErrMediaLayer, t.Kind(), err)
		}
		p.senders = append(p.senders, sender)
	}
	return nil
}

func (p *PionPeerConnection) DetachLocalStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sender := range p.senders {
		if err := p.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("%w: remove track: %v", media.ErrMediaLayer, err)
		}
	}
	p.senders = nil
	return nil
}

func (p *PionPeerConnection) SetRemoteDescription(desc models.SessionDescription) error {
	pd, err := media.ToPion(desc)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(pd); err != nil {
		return fmt.Errorf("%w: set remote description: %v", media.ErrMediaLayer, err)
	}
	return nil
}

func (p *PionPeerConnection) CreateAnswer() (models.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, fmt.Errorf("%w: create answer: %v", media.ErrMediaLayer, err)
	}
	return media.FromPion(answer), nil
}

func (p *PionPeerConnection) SetLocalDescription(desc models.SessionDescription) error {
	pd, err := media.ToPion(desc)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(pd); err != nil {
		return fmt.Errorf("%w: set local description: %v", media.ErrMediaLayer, err)
	}
	return nil
}

func (p *PionPeerConnection) LocalDescription() (models.SessionDescription, bool) {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return models.SessionDescription{}, false
	}
	return media.FromPion(*desc), true
}

func (p *PionPeerConnection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.pc)
}

func (p *PionPeerConnection) Events() <-chan StreamEvent { return p.events }

func (p *PionPeerConnection) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	return p.pc.Close()
}

func (p *PionPeerConnection) trackStarted(streamID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams.Start(streamID)
}

func (p *PionPeerConnection) trackEnded(streamID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams.End(streamID) && !p.closed
}

func (p *PionPeerConnection) emit(ev StreamEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// drain reads a remote track until it ends.
func drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}
