// Package mediatest provides an in-memory media.Engine for tests.
package mediatest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

var ErrInjected = errors.New("injected failure")

// Engine records every session it creates.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session
	// FailNewSession makes the next NewSession call fail.
	FailNewSession bool
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewSession(opts media.SessionOptions) (media.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailNewSession {
		e.FailNewSession = false
		return nil, fmt.Errorf("%w: %w", media.ErrMediaLayer, ErrInjected)
	}
	s := &Session{opts: opts, gathered: closedChan()}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *Engine) Codecs() []string {
	return []string{"audio/opus/48000/100", "video/vp8/90000/123"}
}

// Session returns the most recent session created for id.
func (e *Engine) Session(id models.PeerID) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.sessions) - 1; i >= 0; i-- {
		if e.sessions[i].opts.PeerID == id {
			return e.sessions[i]
		}
	}
	return nil
}

// Session is a scriptable media.Session.
type Session struct {
	mu       sync.Mutex
	opts     media.SessionOptions
	caps     media.Capabilities
	local    *models.SessionDescription
	remote   *models.SessionDescription
	gathered chan struct{}
	offers   int
	resets   int
	closed   bool

	failOffer  bool
	failRemote bool
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (s *Session) Options() media.SessionOptions { return s.opts }

// FailNextOffer makes the next CreateOffer return an error.
func (s *Session) FailNextOffer() {
	s.mu.Lock()
	s.failOffer = true
	s.mu.Unlock()
}

// FailNextRemote makes the next SetRemoteDescription return an error.
func (s *Session) FailNextRemote() {
	s.mu.Lock()
	s.failRemote = true
	s.mu.Unlock()
}

// StallGathering keeps GatheringComplete open until the returned func is called.
func (s *Session) StallGathering() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gathered = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Emit raises an event as the media engine would.
func (s *Session) Emit(kind media.EventKind, streamID string) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(media.Event{Kind: kind, PeerID: s.opts.PeerID, StreamID: streamID})
	}
}

func (s *Session) Capabilities() media.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *Session) Remote() (models.SessionDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return models.SessionDescription{}, false
	}
	return *s.remote, true
}

func (s *Session) Offers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers
}

func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) SetCapabilities(caps media.Capabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.ErrSessionClosed
	}
	s.caps = caps
	return nil
}

func (s *Session) CreateOffer(opts media.OfferOptions) (models.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.SessionDescription{}, media.ErrSessionClosed
	}
	if s.failOffer {
		s.failOffer = false
		return models.SessionDescription{}, fmt.Errorf("%w: %w", media.ErrMediaLayer, ErrInjected)
	}
	s.offers++
	sdp := fmt.Sprintf("v=0\r\ns=%s-%d\r\n", s.opts.PeerID, s.offers)
	if opts.ReceiveAudio {
		sdp += "m=audio 9 UDP/TLS/RTP/SAVPF 100\r\n"
	}
	if opts.ReceiveVideo {
		sdp += "m=video 9 UDP/TLS/RTP/SAVPF 123\r\n"
	}
	return models.SessionDescription{Type: "offer", SDP: sdp}, nil
}

func (s *Session) SetLocalDescription(desc models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.ErrSessionClosed
	}
	s.local = &desc
	return nil
}

func (s *Session) LocalDescription() (models.SessionDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return models.SessionDescription{}, false
	}
	return *s.local, true
}

func (s *Session) SetRemoteDescription(desc models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.ErrSessionClosed
	}
	if s.failRemote {
		s.failRemote = false
		return fmt.Errorf("%w: %w", media.ErrMediaLayer, ErrInjected)
	}
	s.remote = &desc
	return nil
}

func (s *Session) ICEGatheringState() string {
	select {
	case <-s.GatheringComplete():
		return "complete"
	default:
		return "gathering"
	}
}

func (s *Session) GatheringComplete() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gathered
}

func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.ErrSessionClosed
	}
	s.resets++
	s.local = nil
	s.remote = nil
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
