package tcan

import (
	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
	"github.com/sai-kiran-y/tcan4550-linux/internal/spibus"
)

// HandleEvents runs one interrupt/poll cycle: read the interrupt register,
// acknowledge exactly the bits observed, then process every condition in one
// pass (RX first, then TX release, then error bits). It returns false when
// nothing was pending so a shared dispatch mechanism can report
// non-ownership. Must run in a context allowed to block on the bus mutex.
func (d *Device) HandleEvents() (bool, error) {
	ir, err := d.bus.ReadRegister(regIR)
	if err != nil {
		metrics.IncError(metrics.ErrEvents)
		return false, err
	}
	if ir == 0 {
		return false, nil
	}
	// Write back only what we observed; a condition arriving between the
	// read and this write stays pending for the next cycle.
	if err := d.bus.WriteRegister(regIR, ir); err != nil {
		metrics.IncError(metrics.ErrEvents)
		return false, err
	}

	if ir&irqRxFIFO0New != 0 {
		// One drain pass per event; more data re-raises the interrupt.
		if err := d.drainRx(); err != nil {
			metrics.IncError(metrics.ErrRxDrain)
			d.log.Error("rx_drain_error", "error", err)
		}
	}

	if ir&irqTxFIFOEmpty != 0 {
		// Hardware freed slots: release submission backpressure and push
		// whatever is staged.
		d.accepting.Store(true)
		d.scheduleTx()
	}

	// Warning and passive are advisory and do not stop traffic. Bus-off is
	// checked last so it wins when multiple error bits fire together.
	if ir&irqErrorWarning != 0 {
		d.setState(StateErrorWarning)
	}
	if ir&irqErrorPassive != 0 {
		d.setState(StateErrorPassive)
	}
	if ir&irqBusOff != 0 {
		d.busOff()
	}
	return true, nil
}

// busOff parks the device after the chip went off-bus: interrupts are
// disabled immediately to stop event flooding, one error indication frame
// goes upward and submissions are refused until an explicit Restart.
func (d *Device) busOff() {
	d.setState(StateBusOff)
	d.accepting.Store(false)
	metrics.IncBusOff()
	if err := d.bus.WriteRegister(regIE, 0); err != nil {
		d.log.Error("bus_off_irq_disable_error", "error", err)
	}
	d.deliverUp(can.BusOffFrame())
	d.log.Warn("bus_off", "staged_frames", d.queue.Len())
}

// drainRx performs one RX burst: compute the window from a fresh RXF0S read,
// fetch the records, acknowledge the last consumed index (which frees all
// slots up to it) and deliver the decoded frames.
func (d *Device) drainRx() error {
	rxf0s, err := d.bus.ReadRegister(regRXF0S)
	if err != nil {
		return err
	}
	w := rxWindow(rxf0s)
	if w.count == 0 {
		return nil
	}
	var buf [spibus.MaxBurstMessages]spibus.Message
	if err := d.bus.ReadMessages(w.addr, buf[:w.count]); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regRXF0A, w.ackValue()); err != nil {
		return err
	}
	for _, m := range buf[:w.count] {
		d.deliverUp(DecodeFrame(m))
	}
	return nil
}
