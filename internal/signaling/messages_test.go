package signaling

import (
	"strings"
	"testing"
)

func TestParseClientMessage_Valid(t *testing.T) {
	cases := []struct {
		name string
		data string
		want ClientMessageType
	}{
		{"join", `{"type":"join","username":"alice","secret":"x"}`, ClientTypeJoin},
		{"join without secret", `{"type":"join","username":"alice"}`, ClientTypeJoin},
		{"proposeOffer", `{"type":"proposeOffer","sessionOffer":{"sdp":"v=0"}}`, ClientTypeProposeOffer},
		{"claimOffer", `{"type":"claimOffer","offererUsername":"alice","sessionAnswer":{"sdp":"v=0"}}`, ClientTypeClaimOffer},
		{"sendCandidate pool", `{"type":"sendCandidate","candidate":{"c":1},"isFromProposer":true}`, ClientTypeSendCandidate},
		{"sendCandidate addressed", `{"type":"sendCandidate","candidate":{"c":1},"recipientUsername":"bob"}`, ClientTypeSendCandidate},
		{"callUser", `{"type":"callUser","targetUsername":"bob"}`, ClientTypeCallUser},
		{"callDecision accept", `{"type":"callDecision","fromUser":"alice","accept":true}`, ClientTypeCallDecision},
		{"callDecision reject", `{"type":"callDecision","fromUser":"alice","accept":false}`, ClientTypeCallDecision},
		{"forwardOffer", `{"type":"forwardOffer","targetUsername":"bob","sessionOffer":{"sdp":"v=0"}}`, ClientTypeForwardOffer},
		{"forwardAnswer", `{"type":"forwardAnswer","targetUsername":"alice","sessionAnswer":{"sdp":"v=0"}}`, ClientTypeForwardAnswer},
		{"hangUp", `{"type":"hangUp"}`, ClientTypeHangUp},
		{"hangUp with peer", `{"type":"hangUp","peerUsername":"bob"}`, ClientTypeHangUp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tc.data))
			if err != nil {
				t.Fatalf("ParseClientMessage: %v", err)
			}
			if msg.Type != tc.want {
				t.Fatalf("type=%q, want %q", msg.Type, tc.want)
			}
		})
	}
}

func TestParseClientMessage_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"not json", `nope`, "invalid character"},
		{"unknown type", `{"type":"fly"}`, "unknown message type"},
		{"unknown field", `{"type":"hangUp","wings":2}`, "unknown field"},
		{"trailing data", `{"type":"hangUp"}{"type":"hangUp"}`, "trailing data"},
		{"join missing username", `{"type":"join","secret":"x"}`, "missing username"},
		{"proposeOffer missing sdp", `{"type":"proposeOffer"}`, "missing sessionOffer"},
		{"claimOffer missing offerer", `{"type":"claimOffer","sessionAnswer":{}}`, "missing offererUsername"},
		{"claimOffer missing answer", `{"type":"claimOffer","offererUsername":"alice"}`, "missing sessionAnswer"},
		{"sendCandidate missing candidate", `{"type":"sendCandidate"}`, "missing candidate"},
		{"callUser missing target", `{"type":"callUser"}`, "missing targetUsername"},
		{"callDecision missing accept", `{"type":"callDecision","fromUser":"alice"}`, "missing accept"},
		{"forwardOffer missing target", `{"type":"forwardOffer","sessionOffer":{}}`, "missing targetUsername"},
		{"forwardAnswer missing answer", `{"type":"forwardAnswer","targetUsername":"alice"}`, "missing targetUsername/sessionAnswer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.data))
			if err == nil {
				t.Fatalf("ParseClientMessage accepted %s", tc.data)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}
