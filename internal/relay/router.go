// Package relay routes reachability candidates to the correct counterpart
// for both pool-based and addressed negotiations. Candidates are opaque: the
// router buffers, orders and forwards them, never inspects them.
package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/signalmesh/rendezvous/internal/directory"
	"github.com/signalmesh/rendezvous/internal/metrics"
	"github.com/signalmesh/rendezvous/internal/offerpool"
)

// Sender delivers a candidate to a connection. It must not block; the hub
// backs it with a bounded per-connection queue. The return value reports
// whether the connection accepted the payload.
type Sender interface {
	SendCandidate(connID string, candidate json.RawMessage) bool
}

// Inbound is a candidate submission with its provenance.
type Inbound struct {
	Candidate      json.RawMessage
	SenderUsername string

	// IsFromProposer applies to pool mode only: true when the sender is the
	// offer's proposer.
	IsFromProposer bool

	// RecipientUsername, when set, selects addressed mode: the candidate goes
	// straight to that peer.
	RecipientUsername string
}

type Router struct {
	log     *slog.Logger
	pool    *offerpool.Pool
	dir     *directory.Directory
	sender  Sender
	metrics *metrics.Metrics
}

func NewRouter(log *slog.Logger, pool *offerpool.Pool, dir *directory.Directory, sender Sender, m *metrics.Metrics) *Router {
	return &Router{
		log:     log,
		pool:    pool,
		dir:     dir,
		sender:  sender,
		metrics: m,
	}
}

// Route delivers or buffers one candidate. Within a single sender the relay
// preserves submission order; there is no ordering across senders. Failures
// are soft: unresolvable targets are counted and logged, never fatal.
func (r *Router) Route(in Inbound) {
	if in.RecipientUsername != "" {
		r.routeAddressed(in)
		return
	}
	if in.IsFromProposer {
		r.routeFromProposer(in)
		return
	}
	r.routeFromAnswerer(in)
}

// Addressed mode assumes both endpoints are already coordinating; there is
// no buffering, only a direct forward.
func (r *Router) routeAddressed(in Inbound) {
	connID, ok := r.dir.Find(in.RecipientUsername)
	if !ok {
		r.drop("recipient not connected", in)
		return
	}
	r.deliver(connID, in)
}

func (r *Router) routeFromProposer(in Inbound) {
	// While the offer is open the candidate is buffered on it; the claim ack
	// flushes the buffer to the answerer.
	if answerer, open := r.pool.AddOffererCandidate(in.SenderUsername, in.Candidate); open {
		if answerer == "" {
			// No answerer yet; buffered for the claim.
			return
		}
		r.forwardToUsername(answerer, in)
		return
	}

	// The offer was already claimed; forward live to the bound answerer.
	answerer, ok := r.pool.AnswererFor(in.SenderUsername)
	if !ok {
		r.drop("no open offer or pairing for proposer", in)
		return
	}
	r.forwardToUsername(answerer, in)
}

// Answerer-side candidates have no buffering slot: ones that arrive before
// the offerer is resolvable are dropped. This asymmetry is inherited protocol
// behavior; the offerer is always connected first in practice.
func (r *Router) routeFromAnswerer(in Inbound) {
	offerer, ok := r.pool.OffererFor(in.SenderUsername)
	if !ok {
		r.drop("no pairing for answerer", in)
		return
	}
	r.forwardToUsername(offerer, in)
}

func (r *Router) forwardToUsername(username string, in Inbound) {
	connID, ok := r.dir.Find(username)
	if !ok {
		r.drop("counterpart disconnected", in)
		return
	}
	r.deliver(connID, in)
}

func (r *Router) deliver(connID string, in Inbound) {
	if !r.sender.SendCandidate(connID, in.Candidate) {
		r.drop("send queue refused candidate", in)
		return
	}
	r.metrics.Inc(metrics.CandidateRelayed)
}

func (r *Router) drop(reason string, in Inbound) {
	r.metrics.Inc(metrics.CandidateDropped)
	r.log.Debug("dropping candidate",
		"reason", reason,
		"sender", in.SenderUsername,
		"from_proposer", in.IsFromProposer,
		"recipient", in.RecipientUsername,
	)
}
