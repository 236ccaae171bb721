//go:build linux

package spibus

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spidev ioctl request numbers (linux/spi/spidev.h). x/sys/unix does not
// generate these because they embed the transfer struct size.
const (
	spiIOCWrMode        = 0x40016b01 // _IOW('k', 1, __u8)
	spiIOCWrBitsPerWord = 0x40016b03 // _IOW('k', 3, __u8)
	spiIOCWrMaxSpeedHz  = 0x40046b04 // _IOW('k', 4, __u32)
	spiIOCMessage1      = 0x40206b00 // SPI_IOC_MESSAGE(1)
)

// spiIOCTransfer mirrors struct spi_ioc_transfer (32 bytes).
type spiIOCTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// Spidev is a Conn backed by a /dev/spidevB.C character device.
type Spidev struct {
	fd      int
	speedHz uint32
}

// OpenSpidev opens the spidev node and configures mode 0, 8-bit words and
// the given clock speed. The TCAN4550 supports up to 18 MHz.
func OpenSpidev(path string, speedHz uint32) (*Spidev, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Spidev{fd: fd, speedHz: speedHz}
	var mode uint8 = 0 // SPI mode 0: CPOL=0, CPHA=0
	if err := d.ioctl(spiIOCWrMode, unsafe.Pointer(&mode)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set spi mode: %w", err)
	}
	var bits uint8 = 8
	if err := d.ioctl(spiIOCWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set bits per word: %w", err)
	}
	if err := d.ioctl(spiIOCWrMaxSpeedHz, unsafe.Pointer(&d.speedHz)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set max speed: %w", err)
	}
	return d, nil
}

func (d *Spidev) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Exchange performs one full-duplex transfer. tx and rx must be equal length.
func (d *Spidev) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("spidev exchange: tx/rx length mismatch %d != %d", len(tx), len(rx))
	}
	tr := spiIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		len:         uint32(len(tx)),
		speedHz:     d.speedHz,
		bitsPerWord: 8,
	}
	if err := d.ioctl(spiIOCMessage1, unsafe.Pointer(&tr)); err != nil {
		return fmt.Errorf("spidev transfer: %w", err)
	}
	return nil
}

// Close releases the device node.
func (d *Spidev) Close() error { return unix.Close(d.fd) }
