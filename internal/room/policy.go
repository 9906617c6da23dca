package room

import (
	"fmt"
	"time"

	"github.com/mossy-p/sfu-signaling/config"
)

// Decision is what a SchedulingPolicy says about one offer.
type Decision struct {
	Delay    time.Duration
	Suppress bool
}

// SchedulingPolicy decides when an offer is sent. It is consulted with the room size and the
// peer's join sequence number at the moment negotiation is triggered and must be a pure
// function of them.
type SchedulingPolicy interface {
	Decide(roomSize, joinSeq int) Decision
	String() string
}

// ImmediatePolicy sends every offer as soon as it is ready.
type ImmediatePolicy struct{}

func (ImmediatePolicy) Decide(int, int) Decision { return Decision{} }
func (ImmediatePolicy) String() string           { return "immediate" }

// FlatDelayPolicy holds every offer back by the same amount.
type FlatDelayPolicy struct {
	Delay time.Duration
}

func (p FlatDelayPolicy) Decide(int, int) Decision { return Decision{Delay: p.Delay} }
func (p FlatDelayPolicy) String() string           { return fmt.Sprintf("flat-delay(%s)", p.Delay) }

// ChromeWorkaroundPolicy reproduces the offer interleaving that exposed Chrome's
// renegotiation race: the first two joiners get their offers late while the room fills
// up, and the third joiner's first offer is never sent.
type ChromeWorkaroundPolicy struct{}

const (
	chromeWorkaroundShortDelay = 1500 * time.Millisecond
	chromeWorkaroundLongDelay  = 3000 * time.Millisecond
)

func (ChromeWorkaroundPolicy) Decide(roomSize, joinSeq int) Decision {
	switch {
	case roomSize == 1 && joinSeq == 0:
		return Decision{Delay: chromeWorkaroundShortDelay}
	case roomSize == 2 && joinSeq == 0:
		return Decision{Delay: chromeWorkaroundLongDelay}
	case roomSize == 2 && joinSeq == 1:
		return Decision{Delay: chromeWorkaroundShortDelay}
	case roomSize == 3 && joinSeq == 2:
		return Decision{Suppress: true}
	default:
		return Decision{}
	}
}

func (ChromeWorkaroundPolicy) String() string { return "chrome-workaround" }

// NewSchedulingPolicy picks the policy selected at startup.
func NewSchedulingPolicy(cfg config.NegotiationConfig) (SchedulingPolicy, error) {
	switch {
	case cfg.ChromeWorkaround && cfg.SendOfferDelay > 0:
		return nil, config.ErrConflictingPolicies
	case cfg.ChromeWorkaround:
		return ChromeWorkaroundPolicy{}, nil
	case cfg.SendOfferDelay > 0:
		return FlatDelayPolicy{Delay: cfg.SendOfferDelay}, nil
	default:
		return ImmediatePolicy{}, nil
	}
}
