// Package pacemaker drives the view clock: exponential-backoff timeouts,
// fast-forwarding on any higher-view message, and leader selection
// (§4.1).
package pacemaker

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/model/chain"
)

// Pacemaker owns the single piece of truly mutable per-replica state
// that isn't part of the block tree: the current view and how long
// we've been stuck on it. It does not itself talk to the network; the
// replica core calls OnTimeoutFires/OnHigherViewObserved and reads
// CurrentView, starting/stopping timers via the Timeout channel.
type Pacemaker struct {
	log zerolog.Logger

	tick   time.Duration
	factor float64
	n      uint32

	mu          sync.Mutex
	view        chain.View
	sinceQC     uint64 // consecutive views since the last QC-advanced view
	timer       *time.Timer
	timeoutCh   chan chain.View
}

// New creates a pacemaker starting at view 0, for an N-validator roster.
func New(log zerolog.Logger, tick time.Duration, factor float64, n uint32) *Pacemaker {
	p := &Pacemaker{
		log:       log.With().Str("component", "pacemaker").Logger(),
		tick:      tick,
		factor:    factor,
		n:         n,
		timeoutCh: make(chan chain.View, 1),
	}
	return p
}

// Start arms the timer for view 0. Must be called once before any other
// method.
func (p *Pacemaker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armLocked()
}

// Timeouts yields a view each time its timer expires without a
// subsequent QC having advanced the pacemaker past it.
func (p *Pacemaker) Timeouts() <-chan chain.View {
	return p.timeoutCh
}

// CurrentView returns the view the pacemaker is currently on.
func (p *Pacemaker) CurrentView() chain.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// LeaderOf returns the leader validator for a given view: leader(v) = v mod N.
func (p *Pacemaker) LeaderOf(view chain.View) chain.ValidatorID {
	return chain.ValidatorID(uint64(view) % uint64(p.n))
}

// durationLocked returns T(v) = T0 * M^k for the current backoff count k.
func (p *Pacemaker) durationLocked() time.Duration {
	factor := math.Pow(p.factor, float64(p.sinceQC))
	return time.Duration(float64(p.tick) * factor)
}

func (p *Pacemaker) armLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	view := p.view
	d := p.durationLocked()
	p.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		// only fire if we are still on the view the timer was armed for
		stillCurrent := p.view == view
		if stillCurrent {
			p.sinceQC++
		}
		p.mu.Unlock()
		if !stillCurrent {
			return
		}
		select {
		case p.timeoutCh <- view:
		default:
		}
		p.log.Warn().Uint64("view", uint64(view)).Msg("view timed out without a QC")
	})
}

// OnTimeoutFires is called by the replica core after consuming a timeout
// from Timeouts(): it advances to view+1 and re-arms with the increased
// backoff (§4.1, §8 property 9).
func (p *Pacemaker) OnTimeoutFires(view chain.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if view < p.view {
		return // stale timeout for a view we've already left
	}
	p.view = view + 1
	p.armLocked()
}

// OnQCFor is called whenever a fresh QC certifies a block at the given
// view: it resets the backoff counter and advances to view+1 if we
// hadn't already moved past it.
func (p *Pacemaker) OnQCFor(view chain.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinceQC = 0
	if view+1 > p.view {
		p.view = view + 1
	}
	p.armLocked()
}

// OnHigherViewObserved fast-forwards immediately upon any correctly
// signed message at a higher view (§4.1).
func (p *Pacemaker) OnHigherViewObserved(v chain.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v <= p.view {
		return
	}
	p.view = v
	p.armLocked()
}
