package transport

import (
	"context"
	"time"

	"github.com/1ureka/udtcat/internal/protocol"
	"github.com/1ureka/udtcat/internal/util"
	"github.com/pion/webrtc/v4"
)

const (
	defaultHighWaterMark = 256 * 1024 // used when Options.SendBufferSize is unset
	inboxSize            = 64         // outgoing packet channel capacity
	drainPollInterval    = 10 * time.Millisecond
)

// outbound is one sender inbox entry: a packet, or a flush marker.
type outbound struct {
	pkt     *protocol.Packet
	flushed chan struct{}
}

// sender is a goroutine-based packet writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan outbound
	drainSignal chan struct{}

	highWaterMark uint64
	onFail        func()
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. Sending pauses once more than highWaterMark
// bytes are buffered and resumes below a quarter of it. The loop exits when
// ctx is cancelled; onFail runs if a send fails, since the stream is broken
// from then on.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, highWaterMark int, onFail func()) *sender {
	if highWaterMark <= 0 {
		highWaterMark = defaultHighWaterMark
	}

	s := &sender{
		inbox:         make(chan outbound, inboxSize),
		drainSignal:   make(chan struct{}, 1),
		highWaterMark: uint64(highWaterMark),
		onFail:        onFail,
	}

	dc.SetBufferedAmountLowThreshold(uint64(highWaterMark / 4))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send packets with backpressure.
	for {
		select {
		case item := <-s.inbox:
			if item.flushed != nil {
				if !waitDrained(ctx, dc) {
					return
				}
				close(item.flushed)
				continue
			}

			if dc.BufferedAmount() > s.highWaterMark {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			data := protocol.Encode(item.pkt)
			if err := dc.Send(data); err != nil {
				util.LogError("failed to send packet (seq=%d, type=%d): %v", item.pkt.SeqNum, item.pkt.Type, err)
				s.onFail()
				return
			}

			util.Stats.AddSent(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// waitDrained polls until the SCTP send buffer is empty. It reports false if
// ctx ends first.
func waitDrained(ctx context.Context, dc *webrtc.DataChannel) bool {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for dc.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// send enqueues an entry. It blocks if the internal buffer is full and
// returns silently when ctx is already cancelled.
func (s *sender) send(ctx context.Context, item outbound) {
	select {
	case s.inbox <- item:
	case <-ctx.Done():
	}
}
