package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/udtcat/internal/transport"
)

// receiver applies inbound signaling messages to the transport. An offer is
// answered through sender. Candidates that arrive before the remote
// description are held back until it is set.
type receiver struct {
	tr     *transport.Transport
	conn   *websocket.Conn
	sender *sender

	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// watch reads messages until the WebSocket fails or is closed.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if !r.remoteSet {
				r.pending = append(r.pending, init)
				continue
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

// setRemote applies the remote SDP and releases held-back candidates.
func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	r.remoteSet = true

	for _, init := range r.pending {
		if err := r.tr.AddICECandidate(init); err != nil {
			return err
		}
	}
	r.pending = nil

	return nil
}
