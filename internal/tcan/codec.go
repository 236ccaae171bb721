package tcan

import (
	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/spibus"
)

// Message-RAM record layout (classic CAN, 8-byte elements):
//
//	word 0: identifier (bit 0 for extended, bit 18 for standard),
//	        RTR at bit 29, XTD at bit 30
//	word 1: payload length at bits 16..22
//	word 2: payload bytes 0..3, little-endian
//	word 3: payload bytes 4..7, little-endian
//
// Both directions are pure; EncodeFrame and DecodeFrame round-trip for every
// length 0..8 and every representable identifier.

// EncodeFrame packs fr into one message-RAM record. Reserved bits are left
// zero; payload bytes beyond fr.Len are zero-padded.
func EncodeFrame(fr can.Frame) spibus.Message {
	var m spibus.Message

	ln := uint32(fr.Len)
	if ln > 8 {
		ln = 8
	}

	if fr.Extended() {
		m[0] = fr.CANID & can.CAN_EFF_MASK
		m[0] |= 1 << 30
	} else {
		m[0] = (fr.CANID & can.CAN_SFF_MASK) << 18
	}
	if fr.Remote() {
		m[0] |= 1 << 29
	}

	m[1] = ln << 16

	var data [8]byte
	copy(data[:], fr.Data[:ln])
	m[2] = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	m[3] = uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	return m
}

// DecodeFrame unpacks one message-RAM record. The hardware-reported length
// occupies seven bits; classic frames never exceed 8 and the chip is trusted
// on that, but the copy below is bounded by the 8-byte payload either way.
func DecodeFrame(m spibus.Message) can.Frame {
	var fr can.Frame

	ln := (m[1] >> 16) & 0x7F
	if ln > 8 {
		ln = 8
	}
	fr.Len = uint8(ln)

	if m[0]&(1<<30) != 0 { // extended
		fr.CANID = (m[0] & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	} else {
		fr.CANID = (m[0] >> 18) & can.CAN_SFF_MASK
	}
	if m[0]&(1<<29) != 0 {
		fr.CANID |= can.CAN_RTR_FLAG
	}

	fr.Data[0] = byte(m[2])
	fr.Data[1] = byte(m[2] >> 8)
	fr.Data[2] = byte(m[2] >> 16)
	fr.Data[3] = byte(m[2] >> 24)
	fr.Data[4] = byte(m[3])
	fr.Data[5] = byte(m[3] >> 8)
	fr.Data[6] = byte(m[3] >> 16)
	fr.Data[7] = byte(m[3] >> 24)
	return fr
}
