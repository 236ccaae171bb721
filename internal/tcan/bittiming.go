package tcan

import (
	"errors"
	"fmt"
)

// ErrBitTiming rejects out-of-range timing parameters before packing.
var ErrBitTiming = errors.New("bit timing parameter out of range")

// BitTiming holds nominal bit timing parameters in time quanta. Each field is
// stored minus one in the NBTP register, so the valid range of a parameter is
// one more than its field width would suggest at the low end.
type BitTiming struct {
	PropPhaseSeg1 uint32 // prop segment + phase segment 1, 2..256
	PhaseSeg2     uint32 // 1..128
	Prescaler     uint32 // baud rate prescaler, 1..512
	SJW           uint32 // synchronization jump width, 1..128
}

// Encode packs the parameters into the NBTP register word:
//
//	bits  0..6  NTSEG2 = PhaseSeg2 - 1
//	bits  8..15 NTSEG1 = PropPhaseSeg1 - 1
//	bits 16..24 NBRP   = Prescaler - 1
//	bits 25..31 NSJW   = SJW - 1
func (bt BitTiming) Encode() (uint32, error) {
	if bt.PropPhaseSeg1 < 2 || bt.PropPhaseSeg1 > 256 {
		return 0, fmt.Errorf("%w: seg1 %d not in 2..256", ErrBitTiming, bt.PropPhaseSeg1)
	}
	if bt.PhaseSeg2 < 1 || bt.PhaseSeg2 > 128 {
		return 0, fmt.Errorf("%w: seg2 %d not in 1..128", ErrBitTiming, bt.PhaseSeg2)
	}
	if bt.Prescaler < 1 || bt.Prescaler > 512 {
		return 0, fmt.Errorf("%w: prescaler %d not in 1..512", ErrBitTiming, bt.Prescaler)
	}
	if bt.SJW < 1 || bt.SJW > 128 {
		return 0, fmt.Errorf("%w: sjw %d not in 1..128", ErrBitTiming, bt.SJW)
	}
	return (bt.PhaseSeg2 - 1) |
		(bt.PropPhaseSeg1-1)<<8 |
		(bt.Prescaler-1)<<16 |
		(bt.SJW-1)<<25, nil
}
