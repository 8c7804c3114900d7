package peersession

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Role is the side of the negotiation this endpoint plays in the current
// session.
type Role int

const (
	RoleIdle Role = iota
	RoleProposer
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleProposer:
		return "proposer"
	case RoleResponder:
		return "responder"
	default:
		return "idle"
	}
}

// Mode distinguishes pool matchmaking from an addressed call.
type Mode int

const (
	ModeIdle Mode = iota
	ModePool
	ModeAddressed
)

func (m Mode) String() string {
	switch m {
	case ModePool:
		return "pool"
	case ModeAddressed:
		return "addressed"
	default:
		return "idle"
	}
}

var (
	ErrSessionActive = errors.New("peersession: session already active")
	ErrNoSession     = errors.New("peersession: no active session")
	ErrNotProposer   = errors.New("peersession: remote answer only applies to a proposed session")
)

// Config carries everything a Controller needs besides the tracks attached
// later. OnLocalCandidate receives each gathered candidate already encoded
// for the wire; the transport layer relays it verbatim.
type Config struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	OnLocalCandidate func(candidate json.RawMessage)
	OnRemoteTrack    func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnStateChange    func(state webrtc.PeerConnectionState)
}

// Controller is the endpoint-side mirror of the hub's session state: it owns
// the PeerConnection, tracks the current role and mode, and queues remote
// candidates that arrive before the remote description is known.
type Controller struct {
	log *slog.Logger
	api *webrtc.API
	cfg Config

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	role         Role
	mode         Mode
	remoteTarget string
	remoteSet    bool
	pending      []json.RawMessage
	tracks       []webrtc.TrackLocal
}

func New(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: logging.NewDefaultLoggerFactory()}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))

	return &Controller{
		log: cfg.Logger,
		api: api,
		cfg: cfg,
	}, nil
}

// AttachTrack registers a local media track to be added to every session the
// controller starts or accepts from now on.
func (c *Controller) AttachTrack(track webrtc.TrackLocal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
}

func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// RemoteTarget is the counterpart's username for addressed sessions; empty in
// pool mode until the hub reveals the claimant.
func (c *Controller) RemoteTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteTarget
}

// StartPoolProposal creates a session offer destined for the open pool and
// returns it encoded for proposeOffer.
func (c *Controller) StartPoolProposal() (json.RawMessage, error) {
	return c.propose(ModePool, "")
}

// StartAddressedCall creates a session offer for a direct call to target and
// returns it encoded for forwardOffer.
func (c *Controller) StartAddressedCall(target string) (json.RawMessage, error) {
	return c.propose(ModeAddressed, target)
}

func (c *Controller) propose(mode Mode, target string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc != nil {
		return nil, ErrSessionActive
	}
	pc, err := c.newPeerConnectionLocked()
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local offer: %w", err)
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	c.pc = pc
	c.role = RoleProposer
	c.mode = mode
	c.remoteTarget = target
	c.log.Debug("session proposed", "mode", mode.String(), "target", target)
	return raw, nil
}

// AcceptIncomingOffer answers a pool offer claimed from the hub and returns
// the session answer encoded for claimOffer.
func (c *Controller) AcceptIncomingOffer(offer json.RawMessage) (json.RawMessage, error) {
	return c.accept(offer, ModePool, "")
}

// AcceptAddressedOffer answers a direct-call offer from the named caller and
// returns the session answer encoded for forwardAnswer.
func (c *Controller) AcceptAddressedOffer(from string, offer json.RawMessage) (json.RawMessage, error) {
	return c.accept(offer, ModeAddressed, from)
}

func (c *Controller) accept(offer json.RawMessage, mode Mode, from string) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode session offer: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc != nil {
		return nil, ErrSessionActive
	}
	pc, err := c.newPeerConnectionLocked()
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(desc); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local answer: %w", err)
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	c.pc = pc
	c.role = RoleResponder
	c.mode = mode
	c.remoteTarget = from
	c.remoteSet = true
	c.flushPendingLocked()
	c.log.Debug("session accepted", "mode", mode.String(), "from", from)
	return raw, nil
}

// ApplyRemoteAnswer completes a proposed session once the counterpart's
// answer arrives, then drains any candidates queued in the meantime.
func (c *Controller) ApplyRemoteAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode session answer: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc == nil {
		return ErrNoSession
	}
	if c.role != RoleProposer {
		return ErrNotProposer
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	c.remoteSet = true
	c.flushPendingLocked()
	return nil
}

// BindRemote records the counterpart's username once the hub reveals it
// (answerResponse in pool mode).
func (c *Controller) BindRemote(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteTarget = username
}

// IngestRemoteCandidate feeds a relayed candidate into the PeerConnection.
// Candidates arriving before the remote description is set are queued and
// flushed once it is.
func (c *Controller) IngestRemoteCandidate(candidate json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc == nil || !c.remoteSet {
		c.pending = append(c.pending, append(json.RawMessage(nil), candidate...))
		return nil
	}
	return c.addCandidateLocked(candidate)
}

func (c *Controller) flushPendingLocked() {
	for _, raw := range c.pending {
		if err := c.addCandidateLocked(raw); err != nil {
			c.log.Warn("dropping queued candidate", "err", err)
		}
	}
	c.pending = nil
}

func (c *Controller) addCandidateLocked(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(init)
}

// Teardown releases the current session and returns the controller to idle.
// Safe to call when already idle.
func (c *Controller) Teardown() error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.role = RoleIdle
	c.mode = ModeIdle
	c.remoteTarget = ""
	c.remoteSet = false
	c.pending = nil
	c.mu.Unlock()

	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (c *Controller) newPeerConnectionLocked() (*webrtc.PeerConnection, error) {
	pc, err := c.api.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	for _, track := range c.tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.cfg.OnLocalCandidate == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.log.Warn("encode local candidate", "err", err)
			return
		}
		c.cfg.OnLocalCandidate(raw)
	})
	if c.cfg.OnRemoteTrack != nil {
		pc.OnTrack(c.cfg.OnRemoteTrack)
	}
	if c.cfg.OnStateChange != nil {
		pc.OnConnectionStateChange(c.cfg.OnStateChange)
	}

	return pc, nil
}
