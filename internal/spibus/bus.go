package spibus

import (
	"fmt"
	"sync"

	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
)

// Bus serializes all register and burst transactions to the controller
// through a single mutex: the SPI link cannot interleave transactions, so at
// most one is in flight system-wide regardless of which goroutine issues it.
//
// Read-modify-write sequences (UpdateRegister) hold the mutex across both
// halves so a concurrent transaction cannot tear them, but two concurrent
// UpdateRegister calls on the same register still race at the logical level;
// in steady state every register has a single owner.
type Bus struct {
	mu   sync.Mutex
	conn Conn

	// Reusable transfer buffers sized for the largest burst. Guarded by mu.
	tx [headerLen + MaxBurstMessages*MessageLen]byte
	rx [headerLen + MaxBurstMessages*MessageLen]byte
}

// New creates a Bus on top of conn.
func New(conn Conn) *Bus { return &Bus{conn: conn} }

func (b *Bus) exchange(tx []byte) error {
	metrics.IncSPITransaction()
	if err := b.conn.Exchange(tx, b.rx[:len(tx)]); err != nil {
		metrics.IncError(metrics.ErrSPI)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// ReadRegister reads one 32-bit register.
func (b *Bus) ReadRegister(addr uint16) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.exchange(encodeRegisterRead(b.tx[:], addr)); err != nil {
		return 0, err
	}
	return decodeRegisterRead(b.rx[:]), nil
}

// WriteRegister writes one 32-bit register.
func (b *Bus) WriteRegister(addr uint16, v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchange(encodeRegisterWrite(b.tx[:], addr, v))
}

// UpdateRegister reads addr, sets the set bits, clears the clear bits and
// writes the result back, all under the transaction mutex.
func (b *Bus) UpdateRegister(addr uint16, set, clear uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.exchange(encodeRegisterRead(b.tx[:], addr)); err != nil {
		return err
	}
	v := decodeRegisterRead(b.rx[:])
	v |= set
	v &^= clear
	return b.exchange(encodeRegisterWrite(b.tx[:], addr, v))
}

// ReadMessages reads len(dst) consecutive message records starting at addr.
// The burst must fit in one transaction (1..MaxBurstMessages records).
func (b *Bus) ReadMessages(addr uint16, dst []Message) error {
	if len(dst) == 0 {
		return ErrEmptyBurst
	}
	if len(dst) > MaxBurstMessages {
		return fmt.Errorf("%w: %d > %d", ErrBurstTooLarge, len(dst), MaxBurstMessages)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.exchange(encodeBurstRead(b.tx[:], addr, len(dst))); err != nil {
		return err
	}
	decodeBurstRead(b.rx[:], dst)
	return nil
}

// WriteMessages writes msgs as consecutive message records starting at addr.
// The burst must fit in one transaction (1..MaxBurstMessages records).
func (b *Bus) WriteMessages(addr uint16, msgs []Message) error {
	if len(msgs) == 0 {
		return ErrEmptyBurst
	}
	if len(msgs) > MaxBurstMessages {
		return fmt.Errorf("%w: %d > %d", ErrBurstTooLarge, len(msgs), MaxBurstMessages)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchange(encodeBurstWrite(b.tx[:], addr, msgs))
}

// Close releases the underlying connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}
