package transport

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: peers are expected to
// reach each other directly once the rendezvous is done.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN
// servers and an SCTP receive window of receiveBufferSize bytes (when > 0).
func newPeerConnection(receiveBufferSize int) (*webrtc.PeerConnection, error) {
	var se webrtc.SettingEngine
	if receiveBufferSize > 0 {
		se.SetSCTPMaxReceiveBufferSize(uint32(receiveBufferSize))
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return api.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel on the given
// PeerConnection. Using negotiated mode (ID 0) allows both sides to create
// the channel independently without relying on OnDataChannel. Delivery stays
// reliable; ordering is restored by the receiver's reassembler.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("udtcat", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
