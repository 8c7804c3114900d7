package peersession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/signalmesh/rendezvous/internal/signaling"
)

// Client is the transport half of an endpoint: it speaks the hub's wire
// protocol over a websocket and hands decoded events to the caller. Pairing
// it with a Controller gives a complete endpoint; the split keeps the
// negotiation state machine testable without a hub.
type Client struct {
	log    *slog.Logger
	ws     *websocket.Conn
	events chan signaling.ServerMessage

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the hub at wsURL and performs the join handshake. The
// returned client's Events channel closes when the hub drops the connection,
// including on a rejected secret.
func Dial(ctx context.Context, wsURL, username, secret string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	c := &Client{
		log:    logger,
		ws:     ws,
		events: make(chan signaling.ServerMessage, 16),
	}
	if err := c.send(signaling.ClientMessage{
		Type:     signaling.ClientTypeJoin,
		Username: username,
		Secret:   secret,
	}); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Events delivers hub events in arrival order. The channel closes when the
// connection ends.
func (c *Client) Events() <-chan signaling.ServerMessage {
	return c.events
}

func (c *Client) ProposeOffer(offer json.RawMessage) error {
	return c.send(signaling.ClientMessage{
		Type:         signaling.ClientTypeProposeOffer,
		SessionOffer: offer,
	})
}

func (c *Client) ClaimOffer(offererUsername string, answer json.RawMessage) error {
	return c.send(signaling.ClientMessage{
		Type:            signaling.ClientTypeClaimOffer,
		OffererUsername: offererUsername,
		SessionAnswer:   answer,
	})
}

// SendCandidate relays a local candidate. recipient is empty in pool mode;
// fromProposer tells the hub which side of a pool pairing is speaking.
func (c *Client) SendCandidate(candidate json.RawMessage, fromProposer bool, recipient string) error {
	return c.send(signaling.ClientMessage{
		Type:              signaling.ClientTypeSendCandidate,
		Candidate:         candidate,
		IsFromProposer:    fromProposer,
		RecipientUsername: recipient,
	})
}

func (c *Client) CallUser(target string) error {
	return c.send(signaling.ClientMessage{
		Type:           signaling.ClientTypeCallUser,
		TargetUsername: target,
	})
}

func (c *Client) CallDecision(fromUser string, accept bool) error {
	return c.send(signaling.ClientMessage{
		Type:     signaling.ClientTypeCallDecision,
		FromUser: fromUser,
		Accept:   &accept,
	})
}

func (c *Client) ForwardOffer(target string, offer json.RawMessage) error {
	return c.send(signaling.ClientMessage{
		Type:           signaling.ClientTypeForwardOffer,
		TargetUsername: target,
		SessionOffer:   offer,
	})
}

func (c *Client) ForwardAnswer(target string, answer json.RawMessage) error {
	return c.send(signaling.ClientMessage{
		Type:           signaling.ClientTypeForwardAnswer,
		TargetUsername: target,
		SessionAnswer:  answer,
	})
}

// HangUp tells the hub the session with peer is over; with an empty peer the
// hub tears down every pairing this endpoint is part of.
func (c *Client) HangUp(peer string) error {
	return c.send(signaling.ClientMessage{
		Type:         signaling.ClientTypeHangUp,
		PeerUsername: peer,
	})
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

func (c *Client) send(msg signaling.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		var msg signaling.ServerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("hub connection lost", "err", err)
			}
			return
		}
		c.events <- msg
	}
}
