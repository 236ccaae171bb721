package tcan

import (
	"testing"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
)

func mkFrame(id uint32, ln int) can.Frame {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(ln)
	for i := 0; i < ln; i++ {
		fr.Data[i] = byte(0xA0 + i)
	}
	return fr
}

func TestCodecRoundTripAllLengths(t *testing.T) {
	for ln := 0; ln <= 8; ln++ {
		for _, id := range []uint32{
			0x000,
			0x123,
			can.CAN_SFF_MASK,
			0x00000001 | can.CAN_EFF_FLAG,
			0x12345678&can.CAN_EFF_MASK | can.CAN_EFF_FLAG,
			can.CAN_EFF_MASK | can.CAN_EFF_FLAG,
		} {
			in := mkFrame(id, ln)
			out := DecodeFrame(EncodeFrame(in))
			if out != in {
				t.Fatalf("round trip mismatch len=%d id=0x%X\n got  %+v\n want %+v", ln, id, out, in)
			}
		}
	}
}

func TestCodecRemoteFrame(t *testing.T) {
	in := can.Frame{CANID: 0x7FF | can.CAN_RTR_FLAG}
	m := EncodeFrame(in)
	if m[0]&(1<<29) == 0 {
		t.Fatal("RTR bit not set in word 0")
	}
	out := DecodeFrame(m)
	if !out.Remote() || out.CANID != in.CANID {
		t.Fatalf("remote frame mismatch: %+v", out)
	}
}

func TestCodecStandardIDPosition(t *testing.T) {
	m := EncodeFrame(can.Frame{CANID: 0x7FF})
	if m[0] != 0x7FF<<18 {
		t.Fatalf("standard id word = 0x%08X, want 0x%08X", m[0], uint32(0x7FF)<<18)
	}
}

func TestCodecExtendedIDPosition(t *testing.T) {
	m := EncodeFrame(can.Frame{CANID: 0x1ABCDEF1 | can.CAN_EFF_FLAG})
	if m[0]&can.CAN_EFF_MASK != 0x1ABCDEF1 {
		t.Fatalf("extended id bits = 0x%08X", m[0]&can.CAN_EFF_MASK)
	}
	if m[0]&(1<<30) == 0 {
		t.Fatal("XTD bit not set")
	}
}

func TestCodecLengthField(t *testing.T) {
	m := EncodeFrame(mkFrame(0x100, 8))
	if got := (m[1] >> 16) & 0x7F; got != 8 {
		t.Fatalf("length field = %d, want 8", got)
	}
}

func TestCodecPayloadPacking(t *testing.T) {
	fr := can.Frame{CANID: 0x42, Len: 8, Data: [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}}
	m := EncodeFrame(fr)
	if m[2] != 0x44332211 || m[3] != 0x88776655 {
		t.Fatalf("payload words = %08X %08X", m[2], m[3])
	}
}

func TestCodecZeroPadding(t *testing.T) {
	fr := can.Frame{CANID: 0x42, Len: 2, Data: [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}
	m := EncodeFrame(fr)
	if m[2] != 0x0000FFFF || m[3] != 0 {
		t.Fatalf("bytes beyond Len leaked into words: %08X %08X", m[2], m[3])
	}
}

func TestDecodeOversizedLengthClamped(t *testing.T) {
	// 7-bit field can report up to 127; the payload copy is bounded at 8.
	m := EncodeFrame(mkFrame(0x100, 8))
	m[1] = 15 << 16
	fr := DecodeFrame(m)
	if fr.Len != 8 {
		t.Fatalf("Len = %d, want clamp to 8", fr.Len)
	}
}

func FuzzCodecRoundTrip(f *testing.F) {
	f.Add(uint32(0x123), uint8(4), []byte{1, 2, 3, 4})
	f.Add(uint32(0x1FFFFFFF)|uint32(can.CAN_EFF_FLAG), uint8(8), []byte{9, 8, 7, 6, 5, 4, 3, 2})
	f.Fuzz(func(t *testing.T, id uint32, ln uint8, data []byte) {
		if ln > 8 {
			ln = 8
		}
		var fr can.Frame
		fr.CANID = id &^ can.CAN_ERR_FLAG
		if !fr.Extended() {
			fr.CANID = fr.CANID&(can.CAN_SFF_MASK|can.CAN_RTR_FLAG) | fr.CANID&can.CAN_EFF_FLAG
		}
		fr.Len = ln
		copy(fr.Data[:ln], data)
		out := DecodeFrame(EncodeFrame(fr))
		if out != fr {
			t.Fatalf("round trip mismatch\n got  %+v\n want %+v", out, fr)
		}
	})
}

func BenchmarkEncodeFrame(b *testing.B) {
	fr := mkFrame(0x1ABCDEF1|can.CAN_EFF_FLAG, 8)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = EncodeFrame(fr)
	}
}

func BenchmarkDecodeFrame(b *testing.B) {
	m := EncodeFrame(mkFrame(0x1ABCDEF1|can.CAN_EFF_FLAG, 8))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = DecodeFrame(m)
	}
}
