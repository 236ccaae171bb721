package spibus

import "encoding/binary"

// Request/response layout for the TCAN4550 SPI protocol. Every transaction is
// one full-duplex exchange of header + payload:
//
//	[opcode, addrHigh, addrLow, wordCount] + payload
//
// The chip echoes the 4-byte header; read payloads follow the echo. All
// 32-bit words travel big-endian.
const (
	opRead  = 0x41
	opWrite = 0x61

	headerLen = 4
	wordLen   = 4

	// MessageWords is the size of one message-RAM record in 32-bit words.
	MessageWords = 4
	// MessageLen is the size of one message-RAM record in bytes.
	MessageLen = MessageWords * wordLen

	// MaxBurstMessages bounds how many records fit in a single transaction.
	MaxBurstMessages = 8
)

// Message is one 16-byte message-RAM record as transferred on the wire.
type Message [MessageWords]uint32

// putHeader writes the request header into dst[:4].
func putHeader(dst []byte, op byte, addr uint16, words int) {
	dst[0] = op
	dst[1] = byte(addr >> 8)
	dst[2] = byte(addr)
	dst[3] = byte(words)
}

// encodeRegisterRead builds a single-register read request.
func encodeRegisterRead(dst []byte, addr uint16) []byte {
	putHeader(dst, opRead, addr, 1)
	// Response bytes arrive while the zero padding is clocked out.
	for i := headerLen; i < headerLen+wordLen; i++ {
		dst[i] = 0
	}
	return dst[:headerLen+wordLen]
}

// encodeRegisterWrite builds a single-register write request.
func encodeRegisterWrite(dst []byte, addr uint16, v uint32) []byte {
	putHeader(dst, opWrite, addr, 1)
	binary.BigEndian.PutUint32(dst[headerLen:], v)
	return dst[:headerLen+wordLen]
}

// decodeRegisterRead extracts the register value from a read response. The
// value follows the 4-byte header echo.
func decodeRegisterRead(rx []byte) uint32 {
	return binary.BigEndian.Uint32(rx[headerLen : headerLen+wordLen])
}

// encodeBurstRead builds a burst read request for n message records.
func encodeBurstRead(dst []byte, addr uint16, n int) []byte {
	putHeader(dst, opRead, addr, n*MessageWords)
	total := headerLen + n*MessageLen
	for i := headerLen; i < total; i++ {
		dst[i] = 0
	}
	return dst[:total]
}

// encodeBurstWrite builds a burst write request carrying msgs.
func encodeBurstWrite(dst []byte, addr uint16, msgs []Message) []byte {
	putHeader(dst, opWrite, addr, len(msgs)*MessageWords)
	off := headerLen
	for _, m := range msgs {
		for _, w := range m {
			binary.BigEndian.PutUint32(dst[off:], w)
			off += wordLen
		}
	}
	return dst[:off]
}

// decodeBurstRead extracts n message records from a burst read response.
func decodeBurstRead(rx []byte, dst []Message) {
	off := headerLen
	for i := range dst {
		for w := 0; w < MessageWords; w++ {
			dst[i][w] = binary.BigEndian.Uint32(rx[off:])
			off += wordLen
		}
	}
}
