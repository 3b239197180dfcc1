// Package adapter moves one byte stream in each direction over a packet
// Transport. The local side of the stream is usually stdin/stdout; the remote
// side is whatever Transport the role established.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/udtcat/internal/crypt"
	"github.com/1ureka/udtcat/internal/protocol"
	"github.com/1ureka/udtcat/internal/util"
)

const (
	inboxSize  = 256                    // decoded packets waiting for the receive loop
	drainGrace = 500 * time.Millisecond // time to finish the inbound stream once the transport ends
)

var (
	// ErrPeerGone is returned when the transport ends before the peer
	// finished sending its stream.
	ErrPeerGone = errors.New("transport closed before the peer finished")

	// ErrSendAborted is returned when the transport ends before this side
	// queued its own CLOSE, so part of the input never left.
	ErrSendAborted = errors.New("transport closed before the input was sent")

	// ErrSegmentSize is returned when MaxSegmentSize leaves no room for payload.
	ErrSegmentSize = errors.New("max segment size too small for packet header")
)

// Transport is the subset of the transport the adapter needs. It is an
// interface so tests can run both ends in process.
type Transport interface {
	SendData(seqNum uint32, payload []byte)
	SendClose(seqNum uint32)
	OnPacket(fn func(*protocol.Packet))
	Flush(ctx context.Context) error
	Done() <-chan struct{}
}

// Stream describes the local side of a transfer.
type Stream struct {
	In  io.Reader
	Out io.Writer

	// MaxSegmentSize is the largest encoded packet, header included.
	MaxSegmentSize int

	// Encrypter and Decrypter are nil when the stream travels in the clear.
	Encrypter *crypt.Context
	Decrypter *crypt.Context

	// Blast paces outbound payload at BlastRate Mbit/s.
	Blast     bool
	BlastRate int
}

// Run copies s.In to the peer and the peer's stream to s.Out until both
// directions have finished. It returns early when the transport or ctx is done.
//
// The goroutine reading s.In is left behind if s.In blocks past the return;
// callers that own the process exit right after.
func Run(ctx context.Context, tr Transport, s Stream) error {
	chunk := s.MaxSegmentSize - protocol.HeaderSize
	if chunk <= 0 {
		return fmt.Errorf("%w: %d", ErrSegmentSize, s.MaxSegmentSize)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan *protocol.Packet, inboxSize)
	tr.OnPacket(func(pkt *protocol.Packet) {
		select {
		case inbox <- pkt:
		case <-ctx.Done():
		}
	})

	sendErr := make(chan error, 1)
	closeQueued := make(chan struct{})
	go func() { sendErr <- pumpOut(ctx, tr, s, chunk, closeQueued) }()

	recvErr := make(chan error, 1)
	go func() { recvErr <- pumpIn(ctx, inbox, s) }()

	var errs []error
	sent, received := false, false
	for !sent || !received {
		select {
		case err := <-sendErr:
			sent = true
			if err != nil {
				errs = append(errs, err)
			}
			util.LogDebug("outbound stream finished")

		case err := <-recvErr:
			received = true
			if err != nil {
				errs = append(errs, err)
			}
			util.LogDebug("inbound stream finished")

		case <-tr.Done():
			// The peer may hang up as soon as its CLOSE is acknowledged, while
			// the tail of its stream is still queued here.
			if !received {
				select {
				case err := <-recvErr:
					received = true
					if err != nil {
						errs = append(errs, err)
					}
				case <-time.After(drainGrace):
				case <-ctx.Done():
				}
			}
			if !received {
				errs = append(errs, ErrPeerGone)
			}
			// Once our CLOSE is queued the peer may hang up before Flush
			// returns; before that, input was lost.
			if !sent {
				select {
				case <-closeQueued:
				default:
					errs = append(errs, ErrSendAborted)
				}
			}
			return errors.Join(errs...)

		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}

	return errors.Join(errs...)
}

// pumpOut sends s.In as DATA packets followed by one CLOSE, then waits until
// the transport has drained. closeQueued is closed right after the CLOSE is
// handed to the transport.
func pumpOut(ctx context.Context, tr Transport, s Stream, chunk int, closeQueued chan<- struct{}) error {
	pw := &packetWriter{
		ctx:     ctx,
		tr:      tr,
		chunk:   chunk,
		limiter: newLimiter(s, chunk),
	}

	var w io.Writer = pw
	if s.Encrypter != nil {
		ew, err := s.Encrypter.NewWriter(pw)
		if err != nil {
			return err
		}
		w = ew
	}

	_, copyErr := io.CopyBuffer(w, s.In, make([]byte, chunk))
	if copyErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	// The peer still needs a CLOSE when reading stdin failed.
	tr.SendClose(pw.next())
	close(closeQueued)
	util.LogDebug("sent CLOSE after %d packets", pw.seq-1)

	if err := tr.Flush(ctx); err != nil {
		return errors.Join(copyErr, err)
	}
	if copyErr != nil {
		return fmt.Errorf("read input: %w", copyErr)
	}
	return nil
}

// pumpIn reorders inbound packets and writes their payload to s.Out until
// the peer's CLOSE arrives.
func pumpIn(ctx context.Context, inbox <-chan *protocol.Packet, s Stream) error {
	pr, pw := io.Pipe()

	copyErr := make(chan error, 1)
	go func() {
		var r io.Reader = pr
		if s.Decrypter != nil {
			dr, err := s.Decrypter.NewReader(pr)
			if err != nil {
				pr.CloseWithError(err)
				copyErr <- err
				return
			}
			r = dr
		}
		_, err := io.Copy(s.Out, r)
		pr.CloseWithError(err)
		copyErr <- err
	}()

	reasm := NewReassembler()
	for {
		select {
		case pkt := <-inbox:
			for _, p := range reasm.Feed(pkt) {
				switch p.Type {
				case protocol.TypeData:
					if _, err := pw.Write(p.Payload); err != nil {
						if cerr := <-copyErr; cerr != nil {
							err = cerr
						}
						return fmt.Errorf("write output: %w", err)
					}

				case protocol.TypeClose:
					if n := reasm.Pending(); n > 0 {
						util.LogWarning("peer closed with %d packets still out of order", n)
					}
					pw.Close()
					if err := <-copyErr; err != nil {
						return fmt.Errorf("write output: %w", err)
					}
					return nil
				}
			}

		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return ctx.Err()
		}
	}
}

// packetWriter turns writes into DATA packets of at most chunk bytes.
type packetWriter struct {
	ctx     context.Context
	tr      Transport
	chunk   int
	limiter *rate.Limiter // nil when not pacing
	seq     uint32
}

func (w *packetWriter) next() uint32 {
	w.seq++
	return w.seq
}

func (w *packetWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if err := w.ctx.Err(); err != nil {
			return written, err
		}

		n := min(len(p), w.chunk)
		if w.limiter != nil {
			if err := w.limiter.WaitN(w.ctx, n); err != nil {
				return written, err
			}
		}

		// The transport keeps the slice until it is sent; the caller reuses p.
		payload := make([]byte, n)
		copy(payload, p[:n])
		w.tr.SendData(w.next(), payload)

		p = p[n:]
		written += n
	}
	return written, nil
}

// newLimiter returns a token bucket of BlastRate Mbit/s in bytes, with a burst
// of one chunk, or nil when blast mode is off.
func newLimiter(s Stream, chunk int) *rate.Limiter {
	if !s.Blast || s.BlastRate <= 0 {
		return nil
	}
	bytesPerSec := float64(s.BlastRate) * 1e6 / 8
	return rate.NewLimiter(rate.Limit(bytesPerSec), chunk)
}
