package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/sfu-signaling/config"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

// PionEngine holds the pion API shared by every room.
type PionEngine struct {
	api        *webrtc.API
	codecs     []config.Codec
	iceServers []webrtc.ICEServer
}

// EngineOptions holds the process level dependencies of a PionEngine.
type EngineOptions struct {
	Logger *slog.Logger
	// Net replaces the host network, e.g. with a vnet in tests.
	Net transport.Net
}

// NewPionEngine registers the room codecs and applies the network settings. Nothing is
// bound until the first PeerConnection is created.
func NewPionEngine(cfg config.RTCConfig, opts EngineOptions) (*PionEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range cfg.Codecs {
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: codecCapability(c),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}
		if err := m.RegisterCodec(params, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c, err)
		}
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(opts.Logger)
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if err := applyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}

	return &PionEngine{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		codecs:     cfg.Codecs,
		iceServers: iceServers,
	}, nil
}

func applyNetworkSettings(se *webrtc.SettingEngine, cfg config.RTCConfig) error {
	if cfg.MinPort != 0 || cfg.MaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	var networks []webrtc.NetworkType
	if cfg.IPv4 {
		networks = append(networks, webrtc.NetworkTypeUDP4)
	}
	if cfg.IPv6 {
		networks = append(networks, webrtc.NetworkTypeUDP6)
	}
	if len(networks) > 0 {
		se.SetNetworkTypes(networks)
	}

	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	return nil
}

// NewRouter returns the Engine for a single room.
func (e *PionEngine) NewRouter() *Router {
	return &Router{
		engine:   e,
		sessions: make(map[models.PeerID]*pionSession),
	}
}

func codecCapability(c config.Codec) webrtc.RTPCodecCapability {
	capability := webrtc.RTPCodecCapability{MimeType: c.MimeType, ClockRate: c.ClockRate}
	if strings.EqualFold(c.MimeType, webrtc.MimeTypeOpus) {
		capability.Channels = 2
	}
	return capability
}

func codecType(kind string) webrtc.RTPCodecType {
	if kind == "audio" {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Router fans every peer's published tracks out to all other peers of the room. Adding or
// removing a track makes pion raise negotiationneeded on the affected connections.
type Router struct {
	engine *PionEngine

	mu       sync.Mutex
	sessions map[models.PeerID]*pionSession
}

func (r *Router) Codecs() []string {
	out := make([]string, 0, len(r.engine.codecs))
	for _, c := range r.engine.codecs {
		out = append(out, c.String())
	}
	return out
}

func (r *Router) NewSession(opts SessionOptions) (Session, error) {
	s := &pionSession{
		router:   r,
		opts:     opts,
		outbound: make(map[string]*webrtc.TrackLocalStaticRTP),
		senders:  make(map[models.PeerID][]*webrtc.RTPSender),
		streams:  StreamCounter{},
	}
	pc, err := s.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaLayer, err)
	}
	s.pc = pc
	return s, nil
}

// others returns every published session except id.
func (r *Router) others(id models.PeerID) []*pionSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pionSession, 0, len(r.sessions))
	for peerID, s := range r.sessions {
		if peerID != id {
			out = append(out, s)
		}
	}
	return out
}

func (r *Router) publish(s *pionSession) {
	r.mu.Lock()
	r.sessions[s.opts.PeerID] = s
	r.mu.Unlock()

	for _, other := range r.others(s.opts.PeerID) {
		other.subscribe(s.opts.PeerID, s.tracks())
		s.subscribe(other.opts.PeerID, other.tracks())
	}
}

func (r *Router) unpublish(s *pionSession) {
	r.mu.Lock()
	if r.sessions[s.opts.PeerID] == s {
		delete(r.sessions, s.opts.PeerID)
	}
	r.mu.Unlock()

	for _, other := range r.others(s.opts.PeerID) {
		other.unsubscribe(s.opts.PeerID)
	}
}

type pionSession struct {
	router *Router
	opts   SessionOptions

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	caps     Capabilities
	outbound map[string]*webrtc.TrackLocalStaticRTP
	senders  map[models.PeerID][]*webrtc.RTPSender
	streams  StreamCounter
	receive  bool
	closed   bool
}

func (s *pionSession) newPeerConnection() (*webrtc.PeerConnection, error) {
	semantics := webrtc.SDPSemanticsPlanB
	if s.opts.UnifiedPlan {
		semantics = webrtc.SDPSemanticsUnifiedPlan
	}
	pc, err := s.router.engine.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   s.router.engine.iceServers,
		SDPSemantics: semantics,
	})
	if err != nil {
		return nil, err
	}

	pc.OnNegotiationNeeded(func() {
		if s.current(pc) {
			s.emit(Event{Kind: EventRenegotiationNeeded})
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		local := s.outbound[remote.Kind().String()]
		s.mu.Unlock()

		streamID := remote.StreamID()
		if s.trackStarted(pc, streamID) {
			s.emit(Event{Kind: EventStreamAdded, StreamID: streamID})
		}
		go func() {
			forward(remote, local)
			if s.trackEnded(pc, streamID) {
				s.emit(Event{Kind: EventStreamRemoved, StreamID: streamID})
			}
		}()
	})
	return pc, nil
}

func (s *pionSession) current(pc *webrtc.PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.pc == pc
}

func (s *pionSession) trackStarted(pc *webrtc.PeerConnection, streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc == pc && s.streams.Start(streamID)
}

func (s *pionSession) trackEnded(pc *webrtc.PeerConnection, streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc == pc && s.streams.End(streamID) && !s.closed
}

func (s *pionSession) emit(ev Event) {
	if s.opts.OnEvent == nil {
		return
	}
	ev.PeerID = s.opts.PeerID
	s.opts.OnEvent(ev)
}

// forward copies RTP from a peer's incoming track into its published local track until the
// incoming track ends.
func forward(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if local == nil {
			continue
		}
		if err := local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}

func (s *pionSession) SetCapabilities(caps Capabilities) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.caps = caps
	for _, c := range s.router.engine.codecs {
		if !caps.Has(c.Kind) || s.outbound[c.Kind] != nil {
			continue
		}
		track, err := webrtc.NewTrackLocalStaticRTP(codecCapability(c), c.Kind, string(s.opts.PeerID))
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: create %s track: %v", ErrMediaLayer, c.Kind, err)
		}
		s.outbound[c.Kind] = track
	}
	s.mu.Unlock()

	s.router.publish(s)
	return nil
}

func (s *pionSession) tracks() []*webrtc.TrackLocalStaticRTP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackLocalStaticRTP, 0, len(s.outbound))
	for _, t := range s.outbound {
		out = append(out, t)
	}
	return out
}

func (s *pionSession) subscribe(from models.PeerID, tracks []*webrtc.TrackLocalStaticRTP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.senders[from]) > 0 {
		return
	}
	for _, t := range tracks {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			continue
		}
		s.senders[from] = append(s.senders[from], sender)
	}
}

func (s *pionSession) unsubscribe(from models.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sender := range s.senders[from] {
		_ = s.pc.RemoveTrack(sender)
	}
	delete(s.senders, from)
}

func (s *pionSession) CreateOffer(opts OfferOptions) (models.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.SessionDescription{}, ErrSessionClosed
	}

	if !s.receive {
		recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
		if opts.ReceiveAudio {
			if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly); err != nil {
				return models.SessionDescription{}, fmt.Errorf("%w: add audio transceiver: %v", ErrMediaLayer, err)
			}
		}
		if opts.ReceiveVideo {
			if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvonly); err != nil {
				return models.SessionDescription{}, fmt.Errorf("%w: add video transceiver: %v", ErrMediaLayer, err)
			}
		}
		s.receive = true
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, fmt.Errorf("%w: create offer: %v", ErrMediaLayer, err)
	}
	return FromPion(offer), nil
}

func (s *pionSession) SetLocalDescription(desc models.SessionDescription) error {
	pd, err := ToPion(desc)
	if err != nil {
		return err
	}
	pc, err := s.conn()
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(pd); err != nil {
		return fmt.Errorf("%w: set local description: %v", ErrMediaLayer, err)
	}
	return nil
}

func (s *pionSession) LocalDescription() (models.SessionDescription, bool) {
	pc, err := s.conn()
	if err != nil {
		return models.SessionDescription{}, false
	}
	desc := pc.LocalDescription()
	if desc == nil {
		return models.SessionDescription{}, false
	}
	return FromPion(*desc), true
}

func (s *pionSession) SetRemoteDescription(desc models.SessionDescription) error {
	pd, err := ToPion(desc)
	if err != nil {
		return err
	}
	pc, err := s.conn()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(pd); err != nil {
		return fmt.Errorf("%w: set remote description: %v", ErrMediaLayer, err)
	}
	return nil
}

func (s *pionSession) ICEGatheringState() string {
	pc, err := s.conn()
	if err != nil {
		return "closed"
	}
	return pc.ICEGatheringState().String()
}

func (s *pionSession) GatheringComplete() <-chan struct{} {
	pc, err := s.conn()
	if err != nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return webrtc.GatheringCompletePromise(pc)
}

func (s *pionSession) conn() (*webrtc.PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.pc, nil
}

// Reset closes the current PeerConnection and builds a fresh one subscribed to every other
// peer of the room again.
func (s *pionSession) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.pc
	pc, err := s.newPeerConnection()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: recreate peer connection: %v", ErrMediaLayer, err)
	}
	s.pc = pc
	s.senders = make(map[models.PeerID][]*webrtc.RTPSender)
	s.streams = StreamCounter{}
	s.receive = false
	s.mu.Unlock()

	_ = old.Close()
	for _, other := range s.router.others(s.opts.PeerID) {
		s.subscribe(other.opts.PeerID, other.tracks())
	}
	return nil
}

func (s *pionSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	s.mu.Unlock()

	s.router.unpublish(s)
	return pc.Close()
}
