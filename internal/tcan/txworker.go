package tcan

import (
	"context"

	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
)

// scheduleTx wakes the transmit worker. The wakeup channel has capacity one,
// so scheduling while a pass is already pending coalesces into a no-op.
func (d *Device) scheduleTx() {
	select {
	case d.txWork <- struct{}{}:
	default:
	}
}

func (d *Device) txLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-d.txWork:
			if err := d.flushTx(); err != nil {
				metrics.IncError(metrics.ErrTxWorker)
				d.log.Error("tx_flush_error", "error", err)
			}
		}
	}
}

// flushTx pushes staged frames into the hardware TX FIFO, one burst window
// per iteration. A window clamped to zero means the FIFO is full; the TFE
// interrupt reschedules us once slots free up. A window that stops at the
// ring boundary simply loops for a second burst at index zero.
func (d *Device) flushTx() error {
	for {
		if d.queue.Len() == 0 {
			return nil
		}
		switch d.State() {
		case StateStopped, StateBusOff:
			return nil
		}
		txqfs, err := d.bus.ReadRegister(regTXQFS)
		if err != nil {
			return err
		}
		w := txWindow(txqfs)
		if w.count == 0 {
			return nil
		}
		frames := d.queue.DrainBatch(d.txFrames[:0], w.count)
		if len(frames) == 0 {
			return nil
		}
		msgs := d.txMsgs[:0]
		for _, fr := range frames {
			msgs = append(msgs, EncodeFrame(fr))
		}
		if err := d.bus.WriteMessages(w.addr, msgs); err != nil {
			return err
		}
		// Request transmission of exactly the slots just written.
		w.count = len(frames)
		if err := d.bus.WriteRegister(regTXBAR, w.requestMask()); err != nil {
			return err
		}
		metrics.AddCANTx(len(frames))
	}
}
