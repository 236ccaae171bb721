//go:build !linux

package spibus

import "fmt"

// Spidev is unsupported off linux; provided so gateway code compiles.
type Spidev struct{}

func OpenSpidev(path string, speedHz uint32) (*Spidev, error) {
	return nil, fmt.Errorf("spidev unsupported on this platform")
}

func (d *Spidev) Exchange(tx, rx []byte) error { return fmt.Errorf("spidev unsupported") }
func (d *Spidev) Close() error                 { return nil }
