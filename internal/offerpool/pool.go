// Package offerpool holds open, unaddressed session proposals until any
// connected peer claims one. Claim is the atomic operation binding an
// answerer to an offer; it also flushes every reachability candidate the
// offerer produced before an answerer existed, which is the mechanism that
// keeps early candidates from being lost.
package offerpool

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrDuplicateOffer is returned when an offerer already has an open,
	// unclaimed offer. At most one open offer per username may exist.
	ErrDuplicateOffer = errors.New("user already has an open offer")

	// ErrStaleClaim is returned when the targeted offer was already claimed
	// or removed. The pool is left untouched.
	ErrStaleClaim = errors.New("offer already claimed or removed")
)

// Offer is a pool entry. Session descriptions and candidates are opaque blobs
// relayed verbatim; the broker never parses them.
type Offer struct {
	OffererUsername    string            `json:"offererUsername"`
	SessionOffer       json.RawMessage   `json:"sessionOffer"`
	OffererCandidates  []json.RawMessage `json:"offererCandidates"`
	AnswererUsername   string            `json:"answererUsername,omitempty"`
	SessionAnswer      json.RawMessage   `json:"sessionAnswer,omitempty"`
	AnswererCandidates []json.RawMessage `json:"answererCandidates,omitempty"`
}

func (o *Offer) clone() Offer {
	out := *o
	out.OffererCandidates = append([]json.RawMessage(nil), o.OffererCandidates...)
	out.AnswererCandidates = append([]json.RawMessage(nil), o.AnswererCandidates...)
	return out
}

// Pool owns the open offers plus the claimed pairings that still need a
// peer-loss notification on disconnect. All mutation happens under one mutex;
// callers get copies, never live references.
type Pool struct {
	mu    sync.Mutex
	open  map[string]*Offer // keyed by offerer username
	order []string          // offerer usernames, insertion order

	// claimed tracks answerer -> offerer for established pairings, only so a
	// later disconnect of either side can notify the survivor. The offer
	// itself is gone from the pool at that point.
	claimed map[string]string
}

func New() *Pool {
	return &Pool{
		open:    make(map[string]*Offer),
		claimed: make(map[string]string),
	}
}

// Propose inserts a new open offer. Fails with ErrDuplicateOffer if the
// offerer already has one.
func (p *Pool) Propose(offererUsername string, sessionOffer json.RawMessage) (Offer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.open[offererUsername]; exists {
		return Offer{}, ErrDuplicateOffer
	}

	o := &Offer{
		OffererUsername: offererUsername,
		SessionOffer:    sessionOffer,
	}
	p.open[offererUsername] = o
	p.order = append(p.order, offererUsername)
	return o.clone(), nil
}

// ListOpen returns the open offers in insertion order, for the snapshot sent
// to a newly connected peer.
func (p *Pool) ListOpen() []Offer {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Offer, 0, len(p.order))
	for _, username := range p.order {
		out = append(out, p.open[username].clone())
	}
	return out
}

// Claim atomically binds answererUsername to offererUsername's open offer,
// removes it from the pool, and returns the completed offer together with
// every candidate the offerer submitted before the claim, in submission
// order. Two concurrent claims of the same offer yield exactly one success;
// the loser observes ErrStaleClaim and no state change.
//
// onClaimed, when non-nil, runs inside the claim's critical section. Any
// candidate routed through AddOffererCandidate or AnswererFor waits for the
// lock, so whatever onClaimed enqueues is ordered strictly before every
// post-claim forward. The callback must only hand off to a queue; it must not
// block and must not call back into the pool.
func (p *Pool) Claim(offererUsername, answererUsername string, sessionAnswer json.RawMessage, onClaimed func(taken Offer, buffered []json.RawMessage)) (Offer, []json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, exists := p.open[offererUsername]
	if !exists {
		return Offer{}, nil, ErrStaleClaim
	}

	o.AnswererUsername = answererUsername
	o.SessionAnswer = sessionAnswer
	p.removeLocked(offererUsername)
	p.claimed[answererUsername] = offererUsername

	taken := o.clone()
	if onClaimed != nil {
		onClaimed(taken, taken.OffererCandidates)
	}
	return taken, taken.OffererCandidates, nil
}

// AddOffererCandidate appends a candidate to the named offerer's open offer,
// preserving submission order. It reports whether the offer exists and, if an
// answerer is already bound, who should receive the candidate live. An
// unbound answerer means the candidate is buffered for the next Claim.
func (p *Pool) AddOffererCandidate(offererUsername string, cand json.RawMessage) (answerer string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, exists := p.open[offererUsername]
	if !exists {
		return "", false
	}
	o.OffererCandidates = append(o.OffererCandidates, cand)
	return o.AnswererUsername, true
}

// OffererFor resolves the offerer a given answerer is paired with. Only
// claimed pairings qualify; an open offer has no answerer by construction.
func (p *Pool) OffererFor(answererUsername string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offerer, ok := p.claimed[answererUsername]
	return offerer, ok
}

// AnswererFor resolves the answerer bound to a given offerer's claimed
// pairing, for relaying offerer candidates that arrive after the claim.
func (p *Pool) AnswererFor(offererUsername string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for answerer, offerer := range p.claimed {
		if offerer == offererUsername {
			return answerer, true
		}
	}
	return "", false
}

// RemoveAllFor removes every open offer proposed by username and returns
// them, for per-offer removal broadcasts on disconnect.
func (p *Pool) RemoveAllFor(username string) []Offer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []Offer
	if o, exists := p.open[username]; exists {
		removed = append(removed, o.clone())
		p.removeLocked(username)
	}
	return removed
}

// DropPairingsFor clears claimed pairings involving username and returns the
// usernames of counterparts that should be told their peer is gone.
func (p *Pool) DropPairingsFor(username string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var peers []string
	if offerer, ok := p.claimed[username]; ok {
		delete(p.claimed, username)
		peers = append(peers, offerer)
	}
	for answerer, offerer := range p.claimed {
		if offerer == username {
			delete(p.claimed, answerer)
			peers = append(peers, answerer)
		}
	}
	return peers
}

func (p *Pool) removeLocked(offererUsername string) {
	delete(p.open, offererUsername)
	for i, u := range p.order {
		if u == offererUsername {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
