package gwire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
)

func mkFrame(id uint32, ln int) can.Frame {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(ln)
	for i := 0; i < ln; i++ {
		fr.Data[i] = byte(i + 1)
	}
	return fr
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Codec{}
	in := []can.Frame{
		mkFrame(0x123, 0),
		mkFrame(0x456, 3),
		mkFrame(0x1ABCDEF1|can.CAN_EFF_FLAG, 8),
		mkFrame(0x7FF|can.CAN_RTR_FLAG, 0),
	}
	wire := c.Encode(in)
	r := bytes.NewReader(wire)
	var out []can.Frame
	n, err := c.DecodeN(r, 0, func(f can.Frame) { out = append(out, f.CopyShallow()) })
	if err != io.EOF && err != nil {
		t.Fatalf("DecodeN err=%v", err)
	}
	if n != len(in) {
		t.Fatalf("decoded %d frames, want %d", n, len(in))
	}
	for i := range in {
		if out[i].CANID != in[i].CANID || out[i].Len != in[i].Len ||
			!bytes.Equal(out[i].Data[:out[i].Len], in[i].Data[:in[i].Len]) {
			t.Fatalf("frame %d mismatch: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestDecodeWireLayout(t *testing.T) {
	c := Codec{}
	wire := []byte{0x00, 0x00, 0x01, 0x23, 0x02, 0xAA, 0xBB}
	fr, err := c.Decode(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fr.CANID != 0x123 || fr.Len != 2 || fr.Data[0] != 0xAA || fr.Data[1] != 0xBB {
		t.Fatalf("decoded %+v", fr)
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	c := Codec{}
	wire := []byte{0, 0, 0, 1, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if _, err := c.Decode(bytes.NewReader(wire)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("got %v, want ErrInvalidLength", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	c := Codec{}
	wire := []byte{0, 0, 0, 1, 5, 1, 2}
	if _, err := c.Decode(bytes.NewReader(wire)); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("got %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	c := Codec{}
	if _, err := c.Decode(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want EOF", err)
	}
}

func TestDecodeNMax(t *testing.T) {
	c := Codec{}
	in := []can.Frame{mkFrame(1, 1), mkFrame(2, 1), mkFrame(3, 1)}
	r := bytes.NewReader(c.Encode(in))
	n, err := c.DecodeN(r, 2, func(can.Frame) {})
	if err != nil || n != 2 {
		t.Fatalf("DecodeN = (%d, %v), want (2, nil)", n, err)
	}
}

func FuzzDecodeInvalid(f *testing.F) {
	c := Codec{}
	f.Add([]byte{0, 0, 0, 1, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		// Decoder must not panic on arbitrary input.
		_, _ = c.DecodeN(r, 16, func(can.Frame) {})
	})
}

func BenchmarkEncodeTo64(b *testing.B) {
	c := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(uint32(0x500+i), 8)
	}
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, frames)
	}
}
