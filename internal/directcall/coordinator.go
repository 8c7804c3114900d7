// Package directcall coordinates the addressed call handshake between two
// named peers: request, asynchronous accept/reject decision, then verbatim
// offer/answer forwarding handled by the hub.
package directcall

import (
	"sync"
	"time"
)

// Phase of an addressed call attempt. The coordinator only tracks the
// pre-establishment phases; once the answer is forwarded, the endpoints own
// the session and the server has nothing left to clean up.
type Phase int

const (
	PhaseRequested Phase = iota
	PhaseAccepted
	PhaseRejected
	PhaseExpired
	PhaseCancelled
)

// Outcome reports how a pending request was resolved so the hub can notify
// the caller explicitly. The base protocol left rejection silent; here every
// resolution produces a callResponse.
type Outcome struct {
	Caller string
	Callee string
	Phase  Phase
}

type pairKey struct {
	caller string
	callee string
}

type pending struct {
	phase Phase
	timer *time.Timer
	// gen guards against a stale timer firing after the request was
	// superseded by a newer callUser for the same pair.
	gen uint64
}

// Coordinator tracks at most one outstanding request per ordered
// (caller, callee) pair. A second request for the same pair supersedes the
// first. Pending requests expire after decisionTimeout; zero disables expiry.
type Coordinator struct {
	decisionTimeout time.Duration

	// onResolved is invoked outside the lock for rejections, expiries and
	// cancellations so delivery never blocks coordinator state.
	onResolved func(Outcome)

	mu      sync.Mutex
	pending map[pairKey]*pending
	gen     uint64
}

func New(decisionTimeout time.Duration, onResolved func(Outcome)) *Coordinator {
	if onResolved == nil {
		onResolved = func(Outcome) {}
	}
	return &Coordinator{
		decisionTimeout: decisionTimeout,
		onResolved:      onResolved,
		pending:         make(map[pairKey]*pending),
	}
}

// Request records a pending call from caller to callee. The caller must have
// already verified reachability via the directory; an unreachable callee is
// reported immediately at the hub boundary and never reaches the coordinator.
// A request for a pair that is already pending supersedes it.
func (c *Coordinator) Request(caller, callee string) {
	key := pairKey{caller: caller, callee: callee}

	c.mu.Lock()
	if old, exists := c.pending[key]; exists && old.timer != nil {
		old.timer.Stop()
	}
	c.gen++
	p := &pending{phase: PhaseRequested, gen: c.gen}
	if c.decisionTimeout > 0 {
		gen := c.gen
		p.timer = time.AfterFunc(c.decisionTimeout, func() {
			c.expire(key, gen)
		})
	}
	c.pending[key] = p
	c.mu.Unlock()
}

// Decide resolves the pending request from caller as accepted or rejected.
// It reports false if no such request is pending (already expired, cancelled,
// or never made).
func (c *Coordinator) Decide(caller, callee string, accept bool) bool {
	key := pairKey{caller: caller, callee: callee}

	c.mu.Lock()
	p, exists := c.pending[key]
	if !exists || p.phase != PhaseRequested {
		c.mu.Unlock()
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.pending, key)
	c.mu.Unlock()

	if !accept {
		c.onResolved(Outcome{Caller: caller, Callee: callee, Phase: PhaseRejected})
	}
	return true
}

// CancelAllFor drops every pending request involving username (disconnect)
// and notifies the waiting counterpart of each.
func (c *Coordinator) CancelAllFor(username string) {
	var outcomes []Outcome

	c.mu.Lock()
	for key, p := range c.pending {
		if key.caller != username && key.callee != username {
			continue
		}
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, key)
		outcomes = append(outcomes, Outcome{Caller: key.caller, Callee: key.callee, Phase: PhaseCancelled})
	}
	c.mu.Unlock()

	for _, o := range outcomes {
		c.onResolved(o)
	}
}

// PendingFrom reports whether caller has an outstanding request to callee.
func (c *Coordinator) PendingFrom(caller, callee string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, exists := c.pending[pairKey{caller: caller, callee: callee}]
	return exists && p.phase == PhaseRequested
}

func (c *Coordinator) expire(key pairKey, gen uint64) {
	c.mu.Lock()
	p, exists := c.pending[key]
	if !exists || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	c.onResolved(Outcome{Caller: key.caller, Callee: key.callee, Phase: PhaseExpired})
}
