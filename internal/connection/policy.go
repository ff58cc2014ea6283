package connection

import (
	"math/rand/v2"
	"time"
)

// PolicyState is the state of the Reconnect Policy.
type PolicyState int

const (
	PolicyIdle PolicyState = iota
	PolicyConnecting
	PolicyConnected
	PolicyReconnecting
	PolicyFailed
)

func (s PolicyState) String() string {
	switch s {
	case PolicyIdle:
		return "idle"
	case PolicyConnecting:
		return "connecting"
	case PolicyConnected:
		return "connected"
	case PolicyReconnecting:
		return "reconnecting"
	case PolicyFailed:
		return "failed"
	}
	return "unknown"
}

// PolicyConfig bounds automatic reconnection.
type PolicyConfig struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// Decision is the outcome of a close.
type Decision struct {
	Reconnect bool          // Schedule a new attempt after Delay
	Delay     time.Duration
	Fail      bool          // Ceiling reached, no automatic recovery
}

// Policy is the bounded-retry state machine behind the Connection Manager.
// It holds no timers; the caller schedules the returned delays.
//
// A connection cycle starts with Begin. A transport error and the close that
// follows it count as one failed cycle. Policy is not safe for concurrent use.
type Policy struct {
	cfg PolicyConfig

	state    PolicyState
	attempts int
	counted  bool // Current cycle already counted as failed
	lastErr  error
	failedAt time.Time
}

// NewPolicy creates a policy in the Idle state.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	return &Policy{cfg: cfg}
}

// Begin marks the start of a connection attempt. Allowed from any state,
// including Failed when the attempt is started manually.
func (p *Policy) Begin() {
	p.state = PolicyConnecting
	p.counted = false
}

// Opened records a successful open and resets the counter.
func (p *Policy) Opened() {
	p.state = PolicyConnected
	p.attempts = 0
	p.counted = false
	p.lastErr = nil
	p.failedAt = time.Time{}
}

// Failed records a transport error for the current cycle.
func (p *Policy) Failed(err error) {
	p.lastErr = err
	p.countFailure()
}

// Closed records the end of the current cycle and decides what happens next.
// A clean close returns the policy to Idle without touching the counter.
func (p *Policy) Closed(clean bool) Decision {
	if clean {
		p.state = PolicyIdle
		return Decision{}
	}

	p.countFailure()

	if p.attempts >= p.cfg.MaxAttempts {
		p.state = PolicyFailed
		return Decision{Fail: true}
	}

	p.state = PolicyReconnecting
	return Decision{Reconnect: true, Delay: p.delay()}
}

// Reset returns the policy to Idle with a zero counter.
func (p *Policy) Reset() {
	p.state = PolicyIdle
	p.attempts = 0
	p.counted = false
	p.lastErr = nil
	p.failedAt = time.Time{}
}

// State returns the current state.
func (p *Policy) State() PolicyState { return p.state }

// Attempts returns the number of consecutive failed cycles.
func (p *Policy) Attempts() int { return p.attempts }

// LastError returns the most recent transport error, if any.
func (p *Policy) LastError() error { return p.lastErr }

// LastFailureAt returns when the counter was last incremented.
func (p *Policy) LastFailureAt() time.Time { return p.failedAt }

func (p *Policy) countFailure() {
	if p.counted {
		return
	}
	p.counted = true
	p.attempts++
	p.failedAt = time.Now()
}

func (p *Policy) delay() time.Duration {
	if !p.cfg.Exponential || p.cfg.Delay <= 0 {
		return p.cfg.Delay
	}

	backoff := p.cfg.Delay
	for i := 1; i < p.attempts && backoff < p.cfg.MaxDelay; i++ {
		backoff *= 2
	}

	// Add jitter: backoff * (0.5 to 1.5)
	jittered := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
	if jittered > p.cfg.MaxDelay {
		jittered = p.cfg.MaxDelay
	}
	return jittered
}
