package can

// Flag bits carried in the upper bits of CANID (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF

	// CAN_ERR_BUSOFF marks a synthesized bus-off indication frame.
	CAN_ERR_BUSOFF = 0x00000040
)

// Frame is a classic CAN frame holder used across the gateway.
// CANID contains EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
//
// Note: This is a convenience type. Codecs map this to/from their wires.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [8]byte
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// Remote reports whether the frame is a remote transmission request.
func (f Frame) Remote() bool { return f.CANID&CAN_RTR_FLAG != 0 }

// ID returns the identifier with flag bits stripped.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) CopyShallow() Frame { // handy for tests
	var g Frame
	g.CANID, g.Len = f.CANID, f.Len
	copy(g.Data[:], f.Data[:])
	return g
}

// BusOffFrame builds the error indication frame delivered upward when the
// controller enters bus-off.
func BusOffFrame() Frame {
	return Frame{CANID: CAN_ERR_FLAG | CAN_ERR_BUSOFF}
}
