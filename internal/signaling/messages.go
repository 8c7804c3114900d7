package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/signalmesh/rendezvous/internal/offerpool"
)

type ClientMessageType string

const (
	ClientTypeJoin          ClientMessageType = "join"
	ClientTypeProposeOffer  ClientMessageType = "proposeOffer"
	ClientTypeClaimOffer    ClientMessageType = "claimOffer"
	ClientTypeSendCandidate ClientMessageType = "sendCandidate"
	ClientTypeCallUser      ClientMessageType = "callUser"
	ClientTypeCallDecision  ClientMessageType = "callDecision"
	ClientTypeForwardOffer  ClientMessageType = "forwardOffer"
	ClientTypeForwardAnswer ClientMessageType = "forwardAnswer"
	ClientTypeHangUp        ClientMessageType = "hangUp"
)

// ClientMessage is the closed tagged union of everything a client may send.
// Session descriptions and candidates stay raw: the broker routes them, it
// never reads them.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// join
	Username string `json:"username,omitempty"`
	Secret   string `json:"secret,omitempty"`

	// proposeOffer / forwardOffer
	SessionOffer json.RawMessage `json:"sessionOffer,omitempty"`

	// claimOffer / forwardAnswer
	SessionAnswer   json.RawMessage `json:"sessionAnswer,omitempty"`
	OffererUsername string          `json:"offererUsername,omitempty"`

	// sendCandidate
	Candidate         json.RawMessage `json:"candidate,omitempty"`
	IsFromProposer    bool            `json:"isFromProposer,omitempty"`
	RecipientUsername string          `json:"recipientUsername,omitempty"`

	// callUser / forwardOffer / forwardAnswer
	TargetUsername string `json:"targetUsername,omitempty"`

	// callDecision
	FromUser string `json:"fromUser,omitempty"`
	Accept   *bool  `json:"accept,omitempty"`

	// hangUp
	PeerUsername string `json:"peerUsername,omitempty"`
}

// ParseClientMessage decodes one inbound frame strictly: unknown fields and
// trailing data are protocol errors, and each message type must carry exactly
// the fields it needs.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

func (m ClientMessage) validate() error {
	switch m.Type {
	case ClientTypeJoin:
		if m.Username == "" {
			return fmt.Errorf("join message missing username")
		}
	case ClientTypeProposeOffer:
		if len(m.SessionOffer) == 0 {
			return fmt.Errorf("proposeOffer message missing sessionOffer")
		}
	case ClientTypeClaimOffer:
		if m.OffererUsername == "" {
			return fmt.Errorf("claimOffer message missing offererUsername")
		}
		if len(m.SessionAnswer) == 0 {
			return fmt.Errorf("claimOffer message missing sessionAnswer")
		}
	case ClientTypeSendCandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("sendCandidate message missing candidate")
		}
	case ClientTypeCallUser:
		if m.TargetUsername == "" {
			return fmt.Errorf("callUser message missing targetUsername")
		}
	case ClientTypeCallDecision:
		if m.FromUser == "" {
			return fmt.Errorf("callDecision message missing fromUser")
		}
		if m.Accept == nil {
			return fmt.Errorf("callDecision message missing accept")
		}
	case ClientTypeForwardOffer:
		if m.TargetUsername == "" || len(m.SessionOffer) == 0 {
			return fmt.Errorf("forwardOffer message missing targetUsername/sessionOffer")
		}
	case ClientTypeForwardAnswer:
		if m.TargetUsername == "" || len(m.SessionAnswer) == 0 {
			return fmt.Errorf("forwardAnswer message missing targetUsername/sessionAnswer")
		}
	case ClientTypeHangUp:
		// peerUsername is optional; without it the hub tears down every
		// pairing the sender is part of.
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

type ServerMessageType string

const (
	ServerTypeAvailableOffers     ServerMessageType = "availableOffers"
	ServerTypeNewOfferAwaiting    ServerMessageType = "newOfferAwaiting"
	ServerTypeOfferTaken          ServerMessageType = "offerTaken"
	ServerTypeOfferRemoved        ServerMessageType = "offerRemoved"
	ServerTypeOfferError          ServerMessageType = "offerError"
	ServerTypeClaimAck            ServerMessageType = "claimAck"
	ServerTypeAnswerResponse      ServerMessageType = "answerResponse"
	ServerTypeCandidateFromServer ServerMessageType = "receivedCandidateFromServer"
	ServerTypeConnectedUsers      ServerMessageType = "connectedUsers"
	ServerTypeIncomingCall        ServerMessageType = "incomingCall"
	ServerTypeCallResponse        ServerMessageType = "callResponse"
	ServerTypeOfferReceived       ServerMessageType = "offerReceived"
	ServerTypeAnswerReceived      ServerMessageType = "answerReceived"
	ServerTypePeerDisconnected    ServerMessageType = "peerDisconnected"
	ServerTypeError               ServerMessageType = "error"
)

// Error codes carried by claimAck, callResponse and error messages.
const (
	CodeDuplicateOffer  = "duplicate_offer"
	CodeStaleClaim      = "stale_claim"
	CodeUnreachablePeer = "unreachable_peer"
	CodeCallRejected    = "call_rejected"
	CodeCallTimeout     = "call_timeout"
	CodePeerLost        = "peer_lost"
	CodeBadMessage      = "bad_message"
)

type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// availableOffers / newOfferAwaiting carry the full sequence; single-offer
	// events use Offer.
	Offers []offerpool.Offer `json:"offers,omitempty"`
	Offer  *offerpool.Offer  `json:"offer,omitempty"`

	// claimAck
	Success    *bool             `json:"success,omitempty"`
	Candidates []json.RawMessage `json:"candidates,omitempty"`

	// receivedCandidateFromServer
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// connectedUsers
	Users []string `json:"users,omitempty"`

	// incomingCall / offerReceived / answerReceived / peerDisconnected
	FromUser         string          `json:"fromUser,omitempty"`
	OffererUsername  string          `json:"offererUsername,omitempty"`
	AnswererUsername string          `json:"answererUsername,omitempty"`
	PeerUsername     string          `json:"peerUsername,omitempty"`
	SessionOffer     json.RawMessage `json:"sessionOffer,omitempty"`
	SessionAnswer    json.RawMessage `json:"sessionAnswer,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func ptr[T any](v T) *T { return &v }
