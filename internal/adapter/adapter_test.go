package adapter_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/udtcat/internal/adapter"
	"github.com/1ureka/udtcat/internal/crypt"
	"github.com/1ureka/udtcat/internal/protocol"
)

// Compile-time interface check.
var _ adapter.Transport = (*mockTransport)(nil)

// mockTransport implements adapter.Transport for in-process testing.
// Two linked mockTransport instances simulate a bidirectional network link:
// packets sent by one side are delivered to the other side's OnPacket handler
// after a random delay in [0, 200ms), so they usually arrive out of order.
type mockTransport struct {
	mu      sync.RWMutex
	handler func(*protocol.Packet)
	peer    *mockTransport
	done    chan struct{}
	once    sync.Once

	inflight sync.WaitGroup

	wireMu sync.Mutex
	wire   []byte // DATA payload bytes in send order
}

// MockTransports creates a linked pair of mock transports.
// Call Close() on either transport to signal Done().
func MockTransports() (a, b *mockTransport) {
	a = &mockTransport{done: make(chan struct{})}
	b = &mockTransport{done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Close signals that this transport is done. Safe to call multiple times.
func (m *mockTransport) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *mockTransport) Done() <-chan struct{} {
	return m.done
}

func (m *mockTransport) OnPacket(fn func(*protocol.Packet)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

func (m *mockTransport) SendData(seqNum uint32, payload []byte) {
	m.wireMu.Lock()
	m.wire = append(m.wire, payload...)
	m.wireMu.Unlock()

	m.deliverToPeer(&protocol.Packet{
		Type:    protocol.TypeData,
		SeqNum:  seqNum,
		Payload: payload,
	})
}

func (m *mockTransport) SendClose(seqNum uint32) {
	m.deliverToPeer(&protocol.Packet{
		Type:   protocol.TypeClose,
		SeqNum: seqNum,
	})
}

// Flush waits until every scheduled delivery has happened or been dropped.
func (m *mockTransport) Flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockTransport) wireBytes() []byte {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()
	return append([]byte(nil), m.wire...)
}

// deliverToPeer schedules asynchronous delivery of a packet to the peer's
// OnPacket handler with a random delay in [0, 200ms).
// If either side is closed before the delay elapses, the packet is silently dropped.
func (m *mockTransport) deliverToPeer(pkt *protocol.Packet) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		delay := time.Duration(rand.Int64N(200)) * time.Millisecond

		select {
		case <-time.After(delay):
		case <-m.done:
			return
		case <-m.peer.done:
			return
		}

		m.peer.mu.RLock()
		fn := m.peer.handler
		m.peer.mu.RUnlock()

		if fn != nil {
			fn(pkt)
		}
	}()
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// makeTestData generates deterministic test data of the given size.
// Each byte is derived from its index XOR-ed with the seed, so the two
// directions produce distinguishable payloads.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

type result struct {
	err error
	out *bytes.Buffer
}

// runPair runs both ends of a transfer concurrently and returns their results.
func runPair(t *testing.T, a, b adapter.Stream) (result, result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aTr, bTr := MockTransports()
	defer aTr.Close()
	defer bTr.Close()

	aOut, bOut := &bytes.Buffer{}, &bytes.Buffer{}
	if a.Out == nil {
		a.Out = aOut
	}
	if b.Out == nil {
		b.Out = bOut
	}

	var wg sync.WaitGroup
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		aErr = adapter.Run(ctx, aTr, a)
	}()
	go func() {
		defer wg.Done()
		bErr = adapter.Run(ctx, bTr, b)
	}()
	wg.Wait()

	return result{aErr, aOut}, result{bErr, bOut}
}

func newCipherPair(t *testing.T, pass string) (enc, dec *crypt.Context) {
	t.Helper()
	enc, err := crypt.New(crypt.Encrypt, 32, []byte(pass), "aes-128")
	if err != nil {
		t.Fatalf("crypt.New(Encrypt): %v", err)
	}
	dec, err = crypt.New(crypt.Decrypt, 32, []byte(pass), "aes-128")
	if err != nil {
		t.Fatalf("crypt.New(Decrypt): %v", err)
	}
	return enc, dec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestRunBidirectional sends a different payload in each direction at the
// same time. Payloads span many packets, so the reassembler sees the random
// reordering of the mock link.
func TestRunBidirectional(t *testing.T) {
	testCases := []struct {
		name    string
		aSize   int
		bSize   int
		mss     int
		encrypt bool
		blast   bool
	}{
		{name: "plain, default segment", aSize: 1 << 20, bSize: 300 * 1024, mss: 8400},
		{name: "plain, tiny segment", aSize: 20 * 1024, bSize: 7 * 1024, mss: protocol.HeaderSize + 13},
		{name: "encrypted", aSize: 512 * 1024, bSize: 512*1024 + 7, mss: 8400, encrypt: true},
		{name: "encrypted, tiny segment", aSize: 10 * 1024, bSize: 3, mss: protocol.HeaderSize + 5, encrypt: true},
		{name: "one side empty", aSize: 0, bSize: 64 * 1024, mss: 8400},
		{name: "both empty", aSize: 0, bSize: 0, mss: 8400, encrypt: true},
		{name: "blast", aSize: 256 * 1024, bSize: 256 * 1024, mss: 8400, blast: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			aData := makeTestData(tc.aSize, 0x00)
			bData := makeTestData(tc.bSize, 0x5A)

			a := adapter.Stream{In: bytes.NewReader(aData), MaxSegmentSize: tc.mss, Blast: tc.blast, BlastRate: 1000}
			b := adapter.Stream{In: bytes.NewReader(bData), MaxSegmentSize: tc.mss, Blast: tc.blast, BlastRate: 1000}
			if tc.encrypt {
				a.Encrypter, b.Decrypter = newCipherPair(t, "correct horse")
				b.Encrypter, a.Decrypter = newCipherPair(t, "correct horse")
			}

			ra, rb := runPair(t, a, b)
			if ra.err != nil {
				t.Fatalf("side A: %v", ra.err)
			}
			if rb.err != nil {
				t.Fatalf("side B: %v", rb.err)
			}
			if !bytes.Equal(ra.out.Bytes(), bData) {
				t.Errorf("side A received %d bytes, want %d matching bytes", ra.out.Len(), len(bData))
			}
			if !bytes.Equal(rb.out.Bytes(), aData) {
				t.Errorf("side B received %d bytes, want %d matching bytes", rb.out.Len(), len(aData))
			}
		})
	}
}

// TestRunEncryptsOnTheWire checks that DATA payloads carry the IV plus
// ciphertext rather than the input bytes.
func TestRunEncryptsOnTheWire(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aTr, bTr := MockTransports()
	defer aTr.Close()
	defer bTr.Close()

	data := makeTestData(64*1024, 0x11)
	enc, dec := newCipherPair(t, "secret")
	var out bytes.Buffer

	var wg sync.WaitGroup
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		aErr = adapter.Run(ctx, aTr, adapter.Stream{In: bytes.NewReader(data), Out: &bytes.Buffer{}, MaxSegmentSize: 8400, Encrypter: enc})
	}()
	go func() {
		defer wg.Done()
		bErr = adapter.Run(ctx, bTr, adapter.Stream{In: bytes.NewReader(nil), Out: &out, MaxSegmentSize: 8400, Decrypter: dec})
	}()
	wg.Wait()

	if aErr != nil || bErr != nil {
		t.Fatalf("Run errors: A=%v B=%v", aErr, bErr)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("decrypted output does not match input")
	}

	wire := aTr.wireBytes()
	if len(wire) != len(data)+16 {
		t.Errorf("wire length = %d, want %d (IV + ciphertext)", len(wire), len(data)+16)
	}
	if bytes.Contains(wire, data[:256]) {
		t.Error("plaintext visible on the wire")
	}
}

// TestRunPeerGone verifies that losing the transport before the peer's
// CLOSE arrives is reported as ErrPeerGone.
func TestRunPeerGone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aTr, bTr := MockTransports()
	defer bTr.Close()

	go func() {
		time.Sleep(300 * time.Millisecond)
		aTr.Close()
	}()

	err := adapter.Run(ctx, aTr, adapter.Stream{
		In:             bytes.NewReader(makeTestData(1024, 0)),
		Out:            &bytes.Buffer{},
		MaxSegmentSize: 8400,
	})
	if !errors.Is(err, adapter.ErrPeerGone) {
		t.Fatalf("Run = %v, want ErrPeerGone", err)
	}
}

// scriptedTransport hands packets to the adapter only when the test says so
// and reports every DATA payload it is given.
type scriptedTransport struct {
	mu      sync.Mutex
	handler func(*protocol.Packet)
	sent    chan int
	done    chan struct{}
}

func (s *scriptedTransport) SendData(_ uint32, payload []byte) { s.sent <- len(payload) }
func (s *scriptedTransport) SendClose(uint32)                  {}
func (s *scriptedTransport) Flush(context.Context) error       { return nil }
func (s *scriptedTransport) Done() <-chan struct{}             { return s.done }

func (s *scriptedTransport) OnPacket(fn func(*protocol.Packet)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *scriptedTransport) deliver(pkt *protocol.Packet) {
	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()
	fn(pkt)
}

// TestRunTransportEndsWhileSending verifies that losing the transport after
// the peer finished, but before this side's input was fully sent, is an error.
func TestRunTransportEndsWhileSending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := &scriptedTransport{sent: make(chan int, 64), done: make(chan struct{})}
	in, inW := io.Pipe()
	defer inW.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Run(ctx, tr, adapter.Stream{In: in, Out: &bytes.Buffer{}, MaxSegmentSize: 8400})
	}()

	// The first DATA packet proves Run registered its handler and is still
	// reading input.
	if _, err := inW.Write(makeTestData(1000, 0)); err != nil {
		t.Fatalf("write input: %v", err)
	}
	select {
	case n := <-tr.sent:
		if n != 1000 {
			t.Fatalf("first packet carried %d bytes, want 1000", n)
		}
	case <-ctx.Done():
		t.Fatal("no DATA packet sent")
	}

	// The peer had nothing to send and hangs up; more input is still pending.
	tr.deliver(&protocol.Packet{Type: protocol.TypeClose, SeqNum: 1})
	close(tr.done)

	select {
	case err := <-errCh:
		if !errors.Is(err, adapter.ErrSendAborted) {
			t.Fatalf("Run = %v, want ErrSendAborted", err)
		}
		if errors.Is(err, adapter.ErrPeerGone) {
			t.Errorf("Run = %v, peer stream was complete", err)
		}
	case <-ctx.Done():
		t.Fatal("Run did not return after the transport ended")
	}
}

// TestRunContextCancel verifies that Run returns once its context ends.
func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	aTr, bTr := MockTransports()
	defer aTr.Close()
	defer bTr.Close()

	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	err := adapter.Run(ctx, aTr, adapter.Stream{
		In:             bytes.NewReader(nil),
		Out:            &bytes.Buffer{},
		MaxSegmentSize: 8400,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

// TestRunOutputFailure verifies that a failing local writer surfaces as an
// error on that side only.
func TestRunOutputFailure(t *testing.T) {
	errDiskFull := errors.New("disk full")

	a := adapter.Stream{In: bytes.NewReader(nil), Out: failingWriter{errDiskFull}, MaxSegmentSize: 8400}
	b := adapter.Stream{In: bytes.NewReader(makeTestData(100*1024, 3)), MaxSegmentSize: 8400}

	ra, rb := runPair(t, a, b)
	if !errors.Is(ra.err, errDiskFull) {
		t.Errorf("side A: got %v, want %v", ra.err, errDiskFull)
	}
	if rb.err != nil {
		t.Errorf("side B: unexpected error %v", rb.err)
	}
}

// TestRunSegmentTooSmall verifies that a segment size without room for
// payload is rejected before anything is sent.
func TestRunSegmentTooSmall(t *testing.T) {
	aTr, bTr := MockTransports()
	defer aTr.Close()
	defer bTr.Close()

	for _, mss := range []int{0, protocol.HeaderSize} {
		err := adapter.Run(context.Background(), aTr, adapter.Stream{
			In:             bytes.NewReader([]byte("x")),
			Out:            &bytes.Buffer{},
			MaxSegmentSize: mss,
		})
		if !errors.Is(err, adapter.ErrSegmentSize) {
			t.Errorf("mss=%d: got %v, want ErrSegmentSize", mss, err)
		}
	}
	if len(aTr.wireBytes()) != 0 {
		t.Error("data was sent despite invalid segment size")
	}
}
