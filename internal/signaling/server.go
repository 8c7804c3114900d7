package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalmesh/rendezvous/internal/auth"
	"github.com/signalmesh/rendezvous/internal/config"
	"github.com/signalmesh/rendezvous/internal/directcall"
	"github.com/signalmesh/rendezvous/internal/directory"
	"github.com/signalmesh/rendezvous/internal/metrics"
	"github.com/signalmesh/rendezvous/internal/offerpool"
	"github.com/signalmesh/rendezvous/internal/ratelimit"
	"github.com/signalmesh/rendezvous/internal/relay"
)

// Server is the signaling hub: it owns the connection lifecycle and is the
// only component that knows the wire protocol. Pool, directory, call
// coordinator and candidate router are composed behind it.
//
// Locking: pool and directory serialize their own mutations internally; the
// hub's mutex covers only the connection map. Locks guard state mutation and
// queue handoff only; actual websocket writes happen on each connection's
// write pump, never under a lock.
type Server struct {
	log      *slog.Logger
	cfg      config.Config
	verifier auth.Verifier
	metrics  *metrics.Metrics

	dir    *directory.Directory
	pool   *offerpool.Pool
	calls  *directcall.Coordinator
	router *relay.Router

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn // connID -> conn
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		log:      logger,
		cfg:      cfg,
		verifier: auth.SecretVerifier{Expected: cfg.SharedSecret},
		metrics:  m,
		dir:      directory.New(),
		pool:     offerpool.New(),
		conns:    make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	s.calls = directcall.New(cfg.CallDecisionTimeout, s.callResolved)
	s.router = relay.NewRouter(logger, s.pool, s.dir, s, m)
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		srv:  s,
		log:  s.log,
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, s.cfg.SendQueueLength),
		done: make(chan struct{}),
	}

	go c.writePump(s.cfg.WSPingInterval)
	s.runConn(c)
}

// Close disconnects every peer. New upgrades after Close race harmlessly;
// the process is shutting down.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// SendCandidate implements relay.Sender.
func (s *Server) SendCandidate(connID string, candidate json.RawMessage) bool {
	c, ok := s.connByID(connID)
	if !ok {
		return false
	}
	return c.enqueue(ServerMessage{
		Type:      ServerTypeCandidateFromServer,
		Candidate: candidate,
	})
}

func (s *Server) runConn(c *conn) {
	defer c.close()

	c.ws.SetReadLimit(s.cfg.MaxMessageBytes)

	// The join handshake must arrive within the auth window.
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.metrics.Inc(metrics.AuthFailure)
			c.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
		}
		return
	}

	msg, err := ParseClientMessage(data)
	if err != nil || msg.Type != ClientTypeJoin {
		s.metrics.Inc(metrics.AuthFailure)
		c.closeWith(websocket.ClosePolicyViolation, "join required")
		return
	}
	if err := s.verifier.Verify(msg.Secret); err != nil {
		// Bad secret: terminate with no protocol event, per the handshake
		// contract.
		s.metrics.Inc(metrics.AuthFailure)
		c.closeWith(websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	c.username = msg.Username
	s.register(c)
	defer s.cleanup(c)

	s.log.Info("peer connected", "username", c.username, "conn_id", c.id)

	// Idle timeout refreshed by pongs from the write pump's pings.
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		msg, err := ParseClientMessage(data)
		if err != nil {
			c.enqueue(ServerMessage{Type: ServerTypeError, Code: CodeBadMessage, Message: err.Error()})
			continue
		}
		s.dispatch(c, msg)
	}
}

// dispatch routes one parsed message to its component operation.
func (s *Server) dispatch(c *conn, msg ClientMessage) {
	switch msg.Type {
	case ClientTypeJoin:
		// Already joined; re-joining is a protocol error but not fatal.
		c.enqueue(ServerMessage{Type: ServerTypeError, Code: CodeBadMessage, Message: "already joined"})
	case ClientTypeProposeOffer:
		s.handleProposeOffer(c, msg)
	case ClientTypeClaimOffer:
		s.handleClaimOffer(c, msg)
	case ClientTypeSendCandidate:
		s.router.Route(relay.Inbound{
			Candidate:         msg.Candidate,
			SenderUsername:    c.username,
			IsFromProposer:    msg.IsFromProposer,
			RecipientUsername: msg.RecipientUsername,
		})
	case ClientTypeCallUser:
		s.handleCallUser(c, msg)
	case ClientTypeCallDecision:
		s.handleCallDecision(c, msg)
	case ClientTypeForwardOffer:
		s.handleForwardOffer(c, msg)
	case ClientTypeForwardAnswer:
		s.handleForwardAnswer(c, msg)
	case ClientTypeHangUp:
		s.handleHangUp(c, msg)
	}
}

func (s *Server) handleProposeOffer(c *conn, msg ClientMessage) {
	offer, err := s.pool.Propose(c.username, msg.SessionOffer)
	if err != nil {
		s.metrics.Inc(metrics.DuplicateOffer)
		c.enqueue(ServerMessage{
			Type:    ServerTypeOfferError,
			Code:    CodeDuplicateOffer,
			Message: "you already have an open offer; cancel it before creating a new one",
		})
		return
	}

	s.log.Info("offer proposed", "offerer", c.username)
	s.broadcast(ServerMessage{
		Type:   ServerTypeNewOfferAwaiting,
		Offers: []offerpool.Offer{offer},
	}, c.id)
}

func (s *Server) handleClaimOffer(c *conn, msg ClientMessage) {
	// The ack is enqueued inside the claim's critical section so every
	// pre-claim candidate rides in it and no live forward for this pairing
	// can be queued ahead of it. Enqueueing is a channel handoff, not a
	// websocket write.
	taken, _, err := s.pool.Claim(msg.OffererUsername, c.username, msg.SessionAnswer,
		func(_ offerpool.Offer, buffered []json.RawMessage) {
			c.enqueue(ServerMessage{
				Type:       ServerTypeClaimAck,
				Success:    ptr(true),
				Candidates: buffered,
			})
		})
	if err != nil {
		// Explicit negative ack; the original protocol silently dropped this.
		s.metrics.Inc(metrics.StaleClaim)
		c.enqueue(ServerMessage{
			Type:    ServerTypeClaimAck,
			Success: ptr(false),
			Code:    CodeStaleClaim,
			Message: "offer already claimed or removed",
		})
		return
	}

	s.sendToUsername(taken.OffererUsername, ServerMessage{
		Type:  ServerTypeAnswerResponse,
		Offer: &taken,
	})
	s.broadcast(ServerMessage{
		Type:  ServerTypeOfferTaken,
		Offer: &taken,
	}, "")

	s.log.Info("offer claimed", "offerer", taken.OffererUsername, "answerer", c.username)
}

func (s *Server) handleCallUser(c *conn, msg ClientMessage) {
	target := msg.TargetUsername
	if _, ok := s.dir.Find(target); !ok {
		s.metrics.Inc(metrics.UnreachablePeer)
		c.enqueue(ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(false),
			Code:    CodeUnreachablePeer,
			Message: "user " + target + " is not online",
		})
		return
	}

	s.calls.Request(c.username, target)
	s.sendToUsername(target, ServerMessage{
		Type:     ServerTypeIncomingCall,
		FromUser: c.username,
	})
}

func (s *Server) handleCallDecision(c *conn, msg ClientMessage) {
	accept := msg.Accept != nil && *msg.Accept
	if !s.calls.Decide(msg.FromUser, c.username, accept) {
		c.enqueue(ServerMessage{
			Type:    ServerTypeError,
			Code:    CodeBadMessage,
			Message: "no pending call from " + msg.FromUser,
		})
		return
	}
	if accept {
		// Tell the caller to proceed with its offer; rejection is reported
		// through the coordinator's resolution callback.
		s.sendToUsername(msg.FromUser, ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(true),
			Message: "call accepted by " + c.username,
		})
	}
}

func (s *Server) handleForwardOffer(c *conn, msg ClientMessage) {
	ok := s.sendToUsername(msg.TargetUsername, ServerMessage{
		Type:            ServerTypeOfferReceived,
		SessionOffer:    msg.SessionOffer,
		OffererUsername: c.username,
	})
	if !ok {
		s.metrics.Inc(metrics.UnreachablePeer)
		c.enqueue(ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(false),
			Code:    CodeUnreachablePeer,
			Message: "user " + msg.TargetUsername + " is not online",
		})
	}
}

func (s *Server) handleForwardAnswer(c *conn, msg ClientMessage) {
	ok := s.sendToUsername(msg.TargetUsername, ServerMessage{
		Type:             ServerTypeAnswerReceived,
		SessionAnswer:    msg.SessionAnswer,
		AnswererUsername: c.username,
	})
	if !ok {
		// Soft failure: the caller has likely just disconnected and its own
		// cleanup will notify this peer.
		s.metrics.Inc(metrics.UnreachablePeer)
		s.log.Warn("forwardAnswer target unreachable", "target", msg.TargetUsername, "from", c.username)
	}
}

func (s *Server) handleHangUp(c *conn, msg ClientMessage) {
	notified := make(map[string]bool)
	if msg.PeerUsername != "" {
		notified[msg.PeerUsername] = true
	}
	for _, peer := range s.pool.DropPairingsFor(c.username) {
		notified[peer] = true
	}
	s.calls.CancelAllFor(c.username)

	for peer := range notified {
		s.sendToUsername(peer, ServerMessage{
			Type:         ServerTypePeerDisconnected,
			PeerUsername: c.username,
			Code:         CodePeerLost,
		})
	}
}

// callResolved is the directcall coordinator's resolution callback. Accepts
// are handled inline in handleCallDecision; everything else is a negative
// response the caller must hear about.
func (s *Server) callResolved(o directcall.Outcome) {
	switch o.Phase {
	case directcall.PhaseRejected:
		s.sendToUsername(o.Caller, ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(false),
			Code:    CodeCallRejected,
			Message: "user " + o.Callee + " declined the call",
		})
	case directcall.PhaseExpired:
		s.metrics.Inc(metrics.CallTimeout)
		s.sendToUsername(o.Caller, ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(false),
			Code:    CodeCallTimeout,
			Message: "user " + o.Callee + " did not answer",
		})
	case directcall.PhaseCancelled:
		// One side disconnected. Tell whichever side is still here.
		s.sendToUsername(o.Caller, ServerMessage{
			Type:    ServerTypeCallResponse,
			Success: ptr(false),
			Code:    CodePeerLost,
			Message: "user " + o.Callee + " disconnected",
		})
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.dir.Register(c.id, c.username)

	c.enqueue(ServerMessage{
		Type:   ServerTypeAvailableOffers,
		Offers: s.pool.ListOpen(),
	})
	s.broadcast(ServerMessage{
		Type:  ServerTypeConnectedUsers,
		Users: s.dir.Usernames(),
	}, "")
}

// cleanup runs exactly once per registered connection, after its read loop
// exits. Order matters: the directory entry goes first so no notification
// below routes back to the departing peer.
func (s *Server) cleanup(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.dir.Unregister(c.id)

	for _, offer := range s.pool.RemoveAllFor(c.username) {
		s.broadcast(ServerMessage{
			Type:  ServerTypeOfferRemoved,
			Offer: &offer,
		}, "")
	}

	for _, peer := range s.pool.DropPairingsFor(c.username) {
		s.sendToUsername(peer, ServerMessage{
			Type:         ServerTypePeerDisconnected,
			PeerUsername: c.username,
			Code:         CodePeerLost,
		})
	}

	s.calls.CancelAllFor(c.username)

	s.broadcast(ServerMessage{
		Type:  ServerTypeConnectedUsers,
		Users: s.dir.Usernames(),
	}, "")

	s.log.Info("peer disconnected", "username", c.username, "conn_id", c.id)
}

func (s *Server) connByID(connID string) (*conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[connID]
	return c, ok
}

// sendToUsername resolves through the directory (last-write-wins for
// duplicate usernames) and reports whether the message was queued.
func (s *Server) sendToUsername(username string, msg ServerMessage) bool {
	connID, ok := s.dir.Find(username)
	if !ok {
		return false
	}
	c, ok := s.connByID(connID)
	if !ok {
		return false
	}
	return c.enqueue(msg)
}

// broadcast queues msg for every connection except exceptConnID.
func (s *Server) broadcast(msg ServerMessage, exceptConnID string) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for id, c := range s.conns {
		if id == exceptConnID {
			continue
		}
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.enqueue(msg)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
