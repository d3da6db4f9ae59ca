package playback

import "time"

// pacer holds at most one pending "pull next step" callback.
//
// Every scheduled callback carries a token. Stopping or rescheduling bumps the
// token, so a callback that already fired and is waiting for the Controller's
// lock is recognised as stale by claim. The delay is captured at schedule
// time; later speed changes never alter a scheduled callback.
//
// pacer is not safe for concurrent use; the Controller guards it.
type pacer struct {
	clock Clock
	timer Timer
	token uint64
	gen   uint64
	delay time.Duration
}

// schedule replaces any pending callback with fire, run after d. fire receives
// the token and handle generation it was scheduled with.
func (p *pacer) schedule(gen uint64, d time.Duration, fire func(gen, token uint64)) {
	p.stop()
	p.token++
	tok := p.token
	p.gen = gen
	p.delay = d
	p.timer = p.clock.AfterFunc(d, func() { fire(gen, tok) })
}

// stop cancels the pending callback outright. It reports whether one was pending.
func (p *pacer) stop() bool {
	if p.timer == nil {
		return false
	}
	p.timer.Stop()
	p.timer = nil
	p.token++
	return true
}

// claim consumes the pending callback if token and gen still identify it.
func (p *pacer) claim(gen, token uint64) bool {
	if p.timer == nil || token != p.token || gen != p.gen {
		return false
	}
	p.timer = nil
	return true
}

// pending reports whether a callback is scheduled.
func (p *pacer) pending() bool {
	return p.timer != nil
}
