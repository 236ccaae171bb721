package hub

import (
	"testing"
	"time"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
)

func TestBroadcastDropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan can.Frame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate a slow client.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(can.Frame{CANID: 0x123 | can.CAN_EFF_FLAG})
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestBroadcastKickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(can.Frame{CANID: 1})
	h.Broadcast(can.Frame{CANID: 2}) // overflows, kick policy closes

	select {
	case <-slow.Closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("slow client not closed under kick policy")
	}
}

func TestBroadcastDropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan can.Frame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(can.Frame{CANID: 0x2 | can.CAN_EFF_FLAG})
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatal("fast client did not receive any frames while slow was backpressured")
	}
}

func TestBroadcastSamplesQueueDepth(t *testing.T) {
	h := New()
	deep := &Client{Out: make(chan can.Frame, 8), Closed: make(chan struct{})}
	shallow := &Client{Out: make(chan can.Frame, 8), Closed: make(chan struct{})}
	h.Add(deep)
	h.Add(shallow)
	defer h.Remove(deep)
	defer h.Remove(shallow)

	// Pre-load one client so depths differ when Broadcast samples them.
	for i := 0; i < 4; i++ {
		deep.Out <- can.Frame{CANID: uint32(i)}
	}
	h.Broadcast(can.Frame{CANID: 0x10})

	snap := metrics.Snap()
	if snap.QueueDepthMax != 4 {
		t.Fatalf("QueueDepthMax = %d, want 4 (sampled before send)", snap.QueueDepthMax)
	}
	if snap.QueueDepthAvg != 2 {
		t.Fatalf("QueueDepthAvg = %d, want 2", snap.QueueDepthAvg)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(cl)
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("Count = %d after remove", h.Count())
	}
}
