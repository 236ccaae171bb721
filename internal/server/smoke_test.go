package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/gwire"
	"github.com/sai-kiran-y/tcan4550-linux/internal/hub"
)

const helloBanner = "TCANGWv1"

var errTestBusy = errors.New("tx ring full")

type captureSink struct {
	mu     sync.Mutex
	frames []can.Frame
	busy   bool
}

func (cs *captureSink) send(fr can.Frame) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.busy {
		return errTestBusy
	}
	cs.frames = append(cs.frames, fr)
	return nil
}

func (cs *captureSink) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.frames)
}

func (cs *captureSink) first() can.Frame {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.frames[0]
}

func newTestServer(t *testing.T, sink *captureSink, opts ...Option) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	base := []Option{
		WithHub(hub.New()),
		WithCodec(&gwire.Codec{}),
		WithSend(sink.send),
		WithBusy(func(err error) bool { return errors.Is(err, errTestBusy) }),
		WithHandshakeTimeout(2 * time.Second),
		WithFlushInterval(2 * time.Millisecond),
	}
	srv := New(append(base, opts...)...)
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		cancel()
		t.Fatal("server did not signal readiness")
	}
	t.Cleanup(cancel)
	return srv, cancel
}

func dialAndHandshake(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Write([]byte(helloBanner)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(helloBanner))
	if _, err := c.Read(buf); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if string(buf) != helloBanner {
		t.Fatalf("unexpected hello %q", string(buf))
	}
	return c
}

func encodeWireFrame(id uint32, data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	var idb [4]byte
	binary.BigEndian.PutUint32(idb[:], id)
	out = append(out, idb[:]...)
	out = append(out, byte(len(data)))
	return append(out, data...)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func TestSmokeClientToDevice(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink)

	c := dialAndHandshake(t, srv.Addr())
	defer c.Close()

	if _, err := c.Write(encodeWireFrame(0x123, []byte{1, 2, 3})); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 submitted frame, got %d", sink.count())
	}
	fr := sink.first()
	if fr.CANID != 0x123 || fr.Len != 3 || fr.Data[0] != 1 || fr.Data[2] != 3 {
		t.Fatalf("unexpected frame %#v", fr)
	}
}

func TestSmokeBroadcastToClient(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink)

	c := dialAndHandshake(t, srv.Addr())
	defer c.Close()

	// Poll for hub registration before broadcasting.
	regDeadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(regDeadline) && srv.Hub.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	var d [8]byte
	d[0], d[1] = 9, 8
	srv.Hub.Broadcast(can.Frame{CANID: 0x456, Len: 2, Data: d})

	collected := bytes.Buffer{}
	tmp := make([]byte, 64)
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && collected.Len() < 7 {
		_ = c.SetReadDeadline(time.Now().Add(40 * time.Millisecond))
		n, err := c.Read(tmp)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			t.Fatalf("read broadcast: %v", err)
		}
		collected.Write(tmp[:n])
	}
	if collected.Len() < 7 {
		t.Fatalf("expected full frame, got %d bytes", collected.Len())
	}
	fr, err := (&gwire.Codec{}).Decode(bytes.NewReader(collected.Bytes()))
	if err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if fr.CANID != 0x456 || fr.Len != 2 || fr.Data[0] != 9 || fr.Data[1] != 8 {
		t.Fatalf("unexpected broadcast frame %#v", fr)
	}
}

func TestDeviceBusyKeepsConnection(t *testing.T) {
	sink := &captureSink{busy: true}
	srv, _ := newTestServer(t, sink)

	c := dialAndHandshake(t, srv.Addr())
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Write(encodeWireFrame(0x100+uint32(i), nil)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && srv.totalDeviceBusy.Load() < 3 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := srv.totalDeviceBusy.Load(); got < 3 {
		t.Fatalf("expected 3 busy drops, got %d", got)
	}
	if got := srv.totalDeviceErrors.Load(); got != 0 {
		t.Fatalf("busy must not count as device error, got %d", got)
	}
	// Backpressure drops must not tear down the connection.
	_ = c.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := c.Read(make([]byte, 4)); err != nil && !isTimeout(err) {
		t.Fatalf("connection closed under backpressure: %v", err)
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink)

	c := dialAndHandshake(t, srv.Addr())
	defer c.Close()

	// Length byte 9 is invalid; the reader closes the connection.
	var idb [4]byte
	binary.BigEndian.PutUint32(idb[:], 0x111)
	bad := append(idb[:], 9)
	if _, err := c.Write(bad); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	deadline := time.Now().Add(300 * time.Millisecond)
	closed := false
	buf := make([]byte, 8)
	for time.Now().Before(deadline) {
		_ = c.SetReadDeadline(time.Now().Add(30 * time.Millisecond))
		if _, err := c.Read(buf); err != nil && !isTimeout(err) {
			closed = true
			break
		}
	}
	if !closed {
		t.Fatal("expected connection closed after malformed frame")
	}
	if err := srv.LastError(); !errors.Is(err, ErrConnRead) {
		t.Fatalf("LastError = %v, want ErrConnRead wrap", err)
	}
}

func TestMaxClientsReject(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink, WithMaxClients(1))

	c1 := dialAndHandshake(t, srv.Addr())
	defer c1.Close()
	regDeadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(regDeadline) && srv.Hub.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	// Second client completes the handshake but is then rejected.
	c2 := dialAndHandshake(t, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 4)
	if _, err := c2.Read(buf); err == nil || isTimeout(err) {
		t.Fatal("expected second client to be closed by max-clients policy")
	}
	if srv.Hub.Count() != 1 {
		t.Fatalf("Hub.Count = %d, want 1", srv.Hub.Count())
	}
}

func TestGracefulShutdown(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink)

	c1 := dialAndHandshake(t, srv.Addr())
	c2 := dialAndHandshake(t, srv.Addr())
	defer c1.Close()
	defer c2.Close()
	wait := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(wait) && srv.Hub.Count() < 2 {
		time.Sleep(2 * time.Millisecond)
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	buf := make([]byte, 8)
	_ = c1.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := c1.Read(buf); err == nil {
		t.Fatal("expected c1 read to fail after shutdown")
	}
	_ = c2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := c2.Read(buf); err == nil {
		t.Fatal("expected c2 read to fail after shutdown")
	}
}

func TestHandshakeFailureCounted(t *testing.T) {
	sink := &captureSink{}
	srv, _ := newTestServer(t, sink, WithHandshakeTimeout(100*time.Millisecond))

	raw, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial raw: %v", err)
	}
	_ = raw.Close()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && srv.totalHandshakeFail.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.totalHandshakeFail.Load() == 0 {
		t.Fatal("expected handshake failure to be counted")
	}
}
