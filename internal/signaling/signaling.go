package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/udtcat/internal/transport"
	"github.com/1ureka/udtcat/internal/util"
)

// EstablishAsListener executes the full listener-side signaling flow:
//  1. Start a WS server on addr
//  2. Wait for the peer to connect
//  3. Create a Transport
//  4. Send the Offer and exchange ICE candidates
//  5. Wait for the DataChannel to be ready
//  6. Close the WS server and connection
//  7. Return the ready Transport
func EstablishAsListener(ctx context.Context, addr string, opts transport.Options) (*transport.Transport, error) {
	// 1. Start WS server.
	srv := newServer()
	bound, err := srv.start(addr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	util.LogInfo("listening on %s", bound)

	// 2. Wait for peer WS connection.
	wsConn, err := srv.waitForPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for peer: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("peer connected from %s", wsConn.RemoteAddr())

	// 3. Create Transport.
	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// 4. The listener sends the Offer first.
	s, errCh := startExchange(tr, wsConn)
	if err := s.sendOffer(); err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to send Offer: %w", err)
	}

	// 5. Wait for result.
	return awaitReady(ctx, tr, errCh)
}

// EstablishAsInitiator executes the full initiator-side signaling flow:
//  1. Connect to the listener's WS server
//  2. Create a Transport
//  3. Answer the Offer and exchange ICE candidates
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection
//  6. Return the ready Transport
func EstablishAsInitiator(ctx context.Context, wsURL string, opts transport.Options) (*transport.Transport, error) {
	// 1. Connect to WS server.
	util.LogDebug("connecting to %s", wsURL)
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()

	// 2. Create Transport.
	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// 3. The receiver answers the Offer when it arrives.
	_, errCh := startExchange(tr, wsConn)

	// 4. Wait for result.
	return awaitReady(ctx, tr, errCh)
}

// startExchange assembles the sender and receiver over wsConn, forwards
// local ICE candidates and starts the receive loop. The loop exits when
// wsConn is closed by the caller.
func startExchange(tr *transport.Transport, wsConn *websocket.Conn) (*sender, <-chan error) {
	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best-effort: the WS is closed once the DataChannel opens.
			s.sendCandidate(string(data))
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	return s, errCh
}

// readyGrace is how long a side keeps waiting for its DataChannel after the
// peer closed the WS, which the peer does as soon as its own channel opens.
const readyGrace = 5 * time.Second

// awaitReady blocks until the DataChannel opens, signaling fails or ctx ends.
// The transport is closed on failure.
func awaitReady(ctx context.Context, tr *transport.Transport, errCh <-chan error) (*transport.Transport, error) {
	select {
	case <-tr.Ready():
		util.LogDebug("DataChannel established, closing WS")
		return tr, nil

	case err := <-errCh:
		select {
		case <-tr.Ready():
			return tr, nil
		case <-time.After(readyGrace):
		case <-ctx.Done():
		}
		state := tr.ConnectionState()
		tr.Close()
		return nil, fmt.Errorf("signaling failed (peer connection %s): %w", state, err)

	case <-ctx.Done():
		state := tr.ConnectionState()
		tr.Close()
		return nil, fmt.Errorf("gave up waiting for peer (peer connection %s): %w", state, ctx.Err())
	}
}
