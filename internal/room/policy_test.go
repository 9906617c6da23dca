package room

import (
	"errors"
	"testing"
	"time"

	"github.com/mossy-p/sfu-signaling/config"
)

func TestChromeWorkaroundIsTotalAndDeterministic(t *testing.T) {
	p := ChromeWorkaroundPolicy{}
	for size := 0; size <= 12; size++ {
		for seq := -1; seq <= 12; seq++ {
			a := p.Decide(size, seq)
			b := p.Decide(size, seq)
			if a != b {
				t.Fatalf("Decide(%d,%d) not deterministic: %+v vs %+v", size, seq, a, b)
			}
			if a.Delay < 0 {
				t.Fatalf("Decide(%d,%d) negative delay %s", size, seq, a.Delay)
			}
			if a.Suppress && a.Delay != 0 {
				t.Fatalf("Decide(%d,%d) both delays and suppresses", size, seq)
			}
		}
	}
}

func TestChromeWorkaroundMilestones(t *testing.T) {
	p := ChromeWorkaroundPolicy{}
	cases := []struct {
		size, seq int
		want      Decision
	}{
		{1, 0, Decision{Delay: chromeWorkaroundShortDelay}},
		{2, 0, Decision{Delay: chromeWorkaroundLongDelay}},
		{2, 1, Decision{Delay: chromeWorkaroundShortDelay}},
		{3, 2, Decision{Suppress: true}},
		{3, 0, Decision{}},
		{3, 1, Decision{}},
		{4, 2, Decision{}},
		{4, 3, Decision{}},
	}
	for _, tc := range cases {
		if got := p.Decide(tc.size, tc.seq); got != tc.want {
			t.Fatalf("Decide(%d,%d)=%+v, want %+v", tc.size, tc.seq, got, tc.want)
		}
	}
}

func TestNewSchedulingPolicy(t *testing.T) {
	p, err := NewSchedulingPolicy(config.NegotiationConfig{})
	if err != nil || p.String() != "immediate" {
		t.Fatalf("default policy=%v err=%v", p, err)
	}

	p, err = NewSchedulingPolicy(config.NegotiationConfig{SendOfferDelay: 250 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSchedulingPolicy: %v", err)
	}
	if d := p.Decide(5, 3); d.Delay != 250*time.Millisecond || d.Suppress {
		t.Fatalf("flat delay decision=%+v", d)
	}

	p, err = NewSchedulingPolicy(config.NegotiationConfig{ChromeWorkaround: true})
	if err != nil || p.String() != "chrome-workaround" {
		t.Fatalf("chrome policy=%v err=%v", p, err)
	}

	_, err = NewSchedulingPolicy(config.NegotiationConfig{ChromeWorkaround: true, SendOfferDelay: time.Second})
	if !errors.Is(err, config.ErrConflictingPolicies) {
		t.Fatalf("err=%v, want ErrConflictingPolicies", err)
	}
}
