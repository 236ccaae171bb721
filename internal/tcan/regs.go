package tcan

// TCAN4550 register map: device block, then the M_CAN core block.
const (
	regDeviceID1 = 0x0000
	regDeviceID2 = 0x0004
	regStatus    = 0x000C
	regSPIMask   = 0x0010

	regModesOfOperation   = 0x0800
	regDevInterruptFlags  = 0x0820
	regDevInterruptEnable = 0x0830

	regTest  = 0x1010
	regCCCR  = 0x1018
	regNBTP  = 0x101C
	regIR    = 0x1050 // interrupt register
	regIE    = 0x1054 // interrupt enable
	regILE   = 0x105C // interrupt line enable
	regRXF0C = 0x10A0
	regRXF0S = 0x10A4
	regRXF0A = 0x10A8
	regRXESC = 0x10BC
	regTXBC  = 0x10C0
	regTXQFS = 0x10C4
	regTXESC = 0x10C8
	regTXBAR = 0x10D0
)

// Interrupt register bits.
const (
	irqRxFIFO0New   = 1 << 0  // rx fifo 0 new data
	irqTxComplete   = 1 << 9  // transmission complete
	irqTxFIFOEmpty  = 1 << 11 // tx fifo empty
	irqErrorPassive = 1 << 23
	irqErrorWarning = 1 << 24
	irqBusOff       = 1 << 25
)

// CCCR bits.
const (
	cccrInit = 0x01 // init
	cccrCCE  = 0x02 // configuration change enable
	cccrCSR  = 0x10 // clock stop request, never written 1
)

// Mode select bits in MODES_OF_OPERATION; mutually exclusive.
const (
	modeselStandby = 0x40
	modeselNormal  = 0x80
)

// Expected identification readback ("TCAN" / "4550" in little-endian ASCII).
const (
	deviceID1Value = 0x4E414354
	deviceID2Value = 0x30353534
)

// Message RAM layout. Fixed 8-byte payload mode gives 16-byte slots; 32 TX
// and 32 RX slots fit comfortably in the 2 kB MRAM.
const (
	mramBase      = 0x8000
	mramSizeWords = 512

	txFIFOStart = 0x000
	txFIFOSlots = 32
	txSlotSize  = 16

	rxFIFOStart = 0x200
	rxFIFOSlots = 32
	rxSlotSize  = 16
)
