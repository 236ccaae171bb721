package tcan

import "github.com/sai-kiran-y/tcan4550-linux/internal/spibus"

// fifoWindow is the burst window derived from a freshly read status
// register: how many slots one transaction may touch and where. Transient;
// recomputed per access and never cached.
type fifoWindow struct {
	count int    // records in this burst, 0 means no work
	index uint32 // starting slot index
	addr  uint16 // absolute message-RAM address of the starting slot
}

// clampBurst bounds a burst so it fits one SPI transaction and never crosses
// the ring boundary. A wrap is deferred to the next invocation rather than
// split within one call. An index at or past the ring size can only come
// from a corrupt status read; treat it as no work rather than letting the
// boundary subtraction underflow.
func clampBurst(avail, index, slots uint32) int {
	if index >= slots {
		return 0
	}
	n := avail
	if n > spibus.MaxBurstMessages {
		n = spibus.MaxBurstMessages
	}
	if n > slots-index {
		n = slots - index
	}
	return int(n)
}

// txWindow derives the TX burst window from the TXQFS register:
// free slot count in bits 0..5, put index in bits 16..20.
func txWindow(txqfs uint32) fifoWindow {
	free := txqfs & 0x3F
	putIndex := (txqfs >> 16) & 0x1F
	return fifoWindow{
		count: clampBurst(free, putIndex, txFIFOSlots),
		index: putIndex,
		addr:  uint16(mramBase + txFIFOStart + putIndex*txSlotSize),
	}
}

// rxWindow derives the RX burst window from the RXF0S register:
// fill level in bits 0..6, get index in bits 8..13.
func rxWindow(rxf0s uint32) fifoWindow {
	fill := rxf0s & 0x7F
	getIndex := (rxf0s >> 8) & 0x3F
	return fifoWindow{
		count: clampBurst(fill, getIndex, rxFIFOSlots),
		index: getIndex,
		addr:  uint16(mramBase + rxFIFOStart + getIndex*rxSlotSize),
	}
}

// ackValue is written to RXF0A after a successful burst read; acknowledging
// the last consumed index frees every slot up to and including it.
func (w fifoWindow) ackValue() uint32 {
	return w.index + uint32(w.count) - 1
}

// requestMask builds the TXBAR bitmask requesting transmission of the slots
// covered by the window.
func (w fifoWindow) requestMask() uint32 {
	var mask uint32
	for i := 0; i < w.count; i++ {
		mask |= 1 << (w.index + uint32(i))
	}
	return mask
}
