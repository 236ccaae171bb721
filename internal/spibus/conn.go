package spibus

// Conn is a full-duplex exchange with the controller. tx and rx must have the
// same length; every byte clocked out simultaneously clocks one byte in.
// Implemented by the spidev transport in production and by fakes in tests.
type Conn interface {
	Exchange(tx, rx []byte) error
	Close() error
}
