// Package signaling implements the WebSocket hub that brokers peer media
// session establishment: membership, the open offer pool, addressed calls
// and candidate relay, behind a single tagged-union wire protocol.
//
// The hub never sees media. It routes small control messages and holds
// transient matchmaking state that is lost on restart.
package signaling
