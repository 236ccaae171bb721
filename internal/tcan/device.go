// Package tcan drives the TI TCAN4550 CAN controller over a serialized
// register bus: chip bring-up, the message-RAM codec, both hardware FIFOs,
// the software staging queue and the interrupt dispatcher.
package tcan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/logging"
	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
	"github.com/sai-kiran-y/tcan4550-linux/internal/spibus"
	"github.com/sai-kiran-y/tcan4550-linux/internal/txqueue"
)

// RegisterBus abstracts *spibus.Bus for testability.
type RegisterBus interface {
	ReadRegister(addr uint16) (uint32, error)
	WriteRegister(addr uint16, v uint32) error
	UpdateRegister(addr uint16, set, clear uint32) error
	ReadMessages(addr uint16, dst []spibus.Message) error
	WriteMessages(addr uint16, msgs []spibus.Message) error
}

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	// ErrIdentity means the chip identification readback did not match the
	// expected constants; fatal to initialization.
	ErrIdentity = errors.New("device identification mismatch")

	// ErrTxBusy means the staging queue is full; backpressure, not failure.
	ErrTxBusy = errors.New("tx queue busy")

	// ErrNotRunning rejects submissions while stopped or bus-off.
	ErrNotRunning = errors.New("device not running")
)

// BusState tracks the CAN error state machine. Owned by the event
// dispatcher; mutated only on decoded interrupt bits or explicit restart.
type BusState int32

const (
	StateStopped BusState = iota
	StateActive
	StateErrorWarning
	StateErrorPassive
	StateBusOff
)

func (s BusState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	case StateErrorWarning:
		return "error-warning"
	case StateErrorPassive:
		return "error-passive"
	case StateBusOff:
		return "bus-off"
	default:
		return "unknown"
	}
}

// Options configure a Device.
type Options struct {
	BitTiming BitTiming

	// Control modes mapped onto CCCR/TEST during bring-up.
	Loopback   bool
	ListenOnly bool
	OneShot    bool

	// QueueDepth is the usable depth of the software staging queue.
	QueueDepth int

	// Deliver hands a received (or synthesized error) frame upward. It must
	// not block; returning false counts the frame as dropped and processing
	// continues with the rest of the burst.
	Deliver func(can.Frame) bool

	Logger *slog.Logger
}

// Device is one TCAN4550 behind a register bus.
type Device struct {
	bus  RegisterBus
	log  *slog.Logger
	opt  Options
	nbtp uint32 // encoded bit timing, validated in New

	queue     *txqueue.Queue
	state     atomic.Int32
	accepting atomic.Bool // submission gate: cleared on queue-full and bus-off

	txWork chan struct{} // coalesced worker wakeup, capacity 1
	stop   chan struct{}
	wg     sync.WaitGroup

	// Scratch buffers owned by the tx worker goroutine.
	txFrames []can.Frame
	txMsgs   []spibus.Message
}

// New validates the options and creates a stopped Device.
func New(bus RegisterBus, opt Options) (*Device, error) {
	nbtp, err := opt.BitTiming.Encode()
	if err != nil {
		return nil, err
	}
	if opt.QueueDepth <= 0 {
		opt.QueueDepth = 16
	}
	l := opt.Logger
	if l == nil {
		l = logging.L()
	}
	d := &Device{
		bus:      bus,
		log:      l,
		opt:      opt,
		nbtp:     nbtp,
		queue:    txqueue.New(opt.QueueDepth),
		txWork:   make(chan struct{}, 1),
		txFrames: make([]can.Frame, 0, spibus.MaxBurstMessages),
		txMsgs:   make([]spibus.Message, 0, spibus.MaxBurstMessages),
	}
	d.setState(StateStopped)
	return d, nil
}

// Start verifies the chip identity, initializes it and launches the transmit
// worker. The device accepts submissions once Start returns.
func (d *Device) Start(ctx context.Context) error {
	if err := d.identify(); err != nil {
		metrics.IncError(metrics.ErrDeviceInit)
		return err
	}
	if err := d.initChip(); err != nil {
		metrics.IncError(metrics.ErrDeviceInit)
		return fmt.Errorf("chip init: %w", err)
	}
	d.queue.Reset()
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.txLoop(ctx)
	d.setState(StateActive)
	d.accepting.Store(true)
	d.log.Info("device_started", "tx_slots", txFIFOSlots, "rx_slots", rxFIFOSlots, "queue_depth", d.queue.Cap())
	return nil
}

// Close stops the worker and puts the chip in standby.
func (d *Device) Close() error {
	d.accepting.Store(false)
	if d.stop != nil {
		close(d.stop)
		d.wg.Wait()
		d.stop = nil
	}
	d.setState(StateStopped)
	return d.setStandbyMode()
}

// Restart recovers from bus-off: staged frames are discarded, the chip is
// re-initialized and the state machine returns to Active.
func (d *Device) Restart() error {
	if err := d.initChip(); err != nil {
		metrics.IncError(metrics.ErrDeviceInit)
		return fmt.Errorf("restart init: %w", err)
	}
	d.queue.Reset()
	d.setState(StateActive)
	d.accepting.Store(true)
	d.log.Info("device_restarted")
	return nil
}

// State returns the current bus state.
func (d *Device) State() BusState { return BusState(d.state.Load()) }

func (d *Device) setState(s BusState) {
	prev := BusState(d.state.Swap(int32(s)))
	metrics.SetBusState(int(s))
	if prev != s {
		d.log.Info("bus_state", "from", prev.String(), "to", s.String())
	}
}

// Transmit stages fr for transmission. It never touches the bus and never
// blocks beyond the queue's index update, so it is safe on hot submission
// paths. ErrTxBusy means backpressure: stop submitting until released.
func (d *Device) Transmit(fr can.Frame) error {
	switch d.State() {
	case StateStopped, StateBusOff:
		return ErrNotRunning
	}
	if !d.accepting.Load() {
		metrics.IncQueueBusy()
		return ErrTxBusy
	}
	if !d.queue.TryEnqueue(fr) {
		// Queue full: raise backpressure; the TFE interrupt releases it
		// once hardware drains. Schedule the worker so that happens.
		d.accepting.Store(false)
		d.scheduleTx()
		metrics.IncQueueBusy()
		return ErrTxBusy
	}
	d.scheduleTx()
	return nil
}

// identify reads back the chip identification. One retry is permitted; a
// chip fresh out of reset occasionally misses the first transaction.
func (d *Device) identify() error {
	ok, err := d.readIdentification()
	if err == nil && ok {
		return nil
	}
	ok, err = d.readIdentification()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIdentity
	}
	return nil
}

func (d *Device) readIdentification() (bool, error) {
	id1, err := d.bus.ReadRegister(regDeviceID1)
	if err != nil {
		return false, err
	}
	id2, err := d.bus.ReadRegister(regDeviceID2)
	if err != nil {
		return false, err
	}
	return id1 == deviceID1Value && id2 == deviceID2Value, nil
}

// initChip runs the bring-up sequence. Configuration registers are only
// writable between unlock and the switch to normal mode, so order matters.
func (d *Device) initChip() error {
	if err := d.setStandbyMode(); err != nil {
		return err
	}
	if err := d.unlock(); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regNBTP, d.nbtp); err != nil {
		return err
	}
	if err := d.configureMRAM(); err != nil {
		return err
	}
	if err := d.configureControlModes(); err != nil {
		return err
	}
	if err := d.setupInterrupts(); err != nil {
		return err
	}
	// After this write the chip sends/receives and raises interrupts.
	return d.setNormalMode()
}

func (d *Device) setStandbyMode() error {
	return d.bus.UpdateRegister(regModesOfOperation, modeselStandby, modeselNormal)
}

func (d *Device) setNormalMode() error {
	return d.bus.UpdateRegister(regModesOfOperation, modeselNormal, modeselStandby)
}

func (d *Device) unlock() error {
	return d.bus.UpdateRegister(regCCCR, cccrCCE|cccrInit, cccrCSR)
}

func (d *Device) configureMRAM() error {
	// Clear the full 2 kB to avoid ECC errors from uninitialized words.
	for i := uint32(0); i < mramSizeWords; i++ {
		if err := d.bus.WriteRegister(uint16(mramBase+i*4), 0); err != nil {
			return err
		}
	}
	if err := d.bus.WriteRegister(regTXBC, txFIFOStart|txFIFOSlots<<24); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regRXF0C, rxFIFOStart|rxFIFOSlots<<16); err != nil {
		return err
	}
	// Element size 0 = 8-byte payload on both sides.
	if err := d.bus.WriteRegister(regTXESC, 0); err != nil {
		return err
	}
	return d.bus.WriteRegister(regRXESC, 0)
}

func (d *Device) configureControlModes() error {
	cccr, err := d.bus.ReadRegister(regCCCR)
	if err != nil {
		return err
	}
	test, err := d.bus.ReadRegister(regTest)
	if err != nil {
		return err
	}
	if d.opt.Loopback {
		cccr |= 1<<7 | 1<<5
		test |= 1 << 4
	}
	if d.opt.ListenOnly {
		cccr |= 1 << 5
	}
	if d.opt.OneShot {
		cccr |= 1 << 6
	}
	cccr &^= cccrCSR // clock stop must never be written 1, even if read back 1
	if err := d.bus.WriteRegister(regCCCR, cccr); err != nil {
		return err
	}
	return d.bus.WriteRegister(regTest, test)
}

func (d *Device) setupInterrupts() error {
	if err := d.bus.WriteRegister(regIE, irqRxFIFO0New|irqTxFIFOEmpty|irqBusOff|irqErrorWarning|irqErrorPassive); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regILE, 0x1); err != nil {
		return err
	}
	// Mask and clear the device-level SPI status/interrupt registers so only
	// the M_CAN line fires.
	if err := d.bus.WriteRegister(regSPIMask, 0xFFFFFFFF); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regStatus, 0xFFFFFFFF); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(regDevInterruptFlags, 0xFFFFFFFF); err != nil {
		return err
	}
	return d.bus.WriteRegister(regDevInterruptEnable, 0)
}

// deliverUp hands a frame to the configured sink, counting drops.
func (d *Device) deliverUp(fr can.Frame) {
	if d.opt.Deliver != nil && d.opt.Deliver(fr) {
		metrics.IncCANRx()
		return
	}
	metrics.IncRxDropped()
}
