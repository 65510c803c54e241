// Package mpsse drives the Multi-Protocol Synchronous Serial Engine found
// in FTDI FT2232/FT4232/FT232H parts. Commands are queued into a write
// buffer and sent in one USB transfer on Flush, which also collects and
// distributes any requested read-back data.
//
// Command opcodes follow FTDI AN 108, "Command Processor for MPSSE and MCU
// Host Bus Emulation Modes".
package mpsse

// Mode selects bit order and the clock edges used for shifting data in and
// out. The flag values map directly onto the low bits of the shift opcodes.
type Mode byte

const (
	PosEdgeOut Mode = 0x00
	NegEdgeOut Mode = 0x01
	PosEdgeIn  Mode = 0x00
	NegEdgeIn  Mode = 0x04
	MSBFirst   Mode = 0x00
	LSBFirst   Mode = 0x08
)

// Shift modes used by the JTAG and SWD drivers.
const (
	JTAGMode    = LSBFirst | PosEdgeIn | NegEdgeOut
	JTAGModeAlt = LSBFirst | NegEdgeIn | NegEdgeOut
	SWDMode     = LSBFirst | PosEdgeIn | NegEdgeOut
)

// Engine is the queued command sink the protocol drivers talk to. All
// methods except SetFrequency, Flush and Close only append to an in-memory
// buffer; encoding errors and read-back data are deferred to Flush. Slices
// passed as read destinations must stay valid until the next Flush.
//
// Bit counts address bits, not bytes; offsets are bit offsets into the
// corresponding buffers, LSB-first within each byte. A nil out buffer
// clocks zeros.
type Engine interface {
	// GPIO shadow writes and reads, one byte at a time.
	SetDataBitsLowByte(value, direction byte)
	SetDataBitsHighByte(value, direction byte)
	ReadDataBitsLowByte(dst *byte)
	ReadDataBitsHighByte(dst *byte)

	// Shift operations on TDI/TDO (or SWDIO).
	ClockData(out []byte, outOffset int, in []byte, inOffset, length int, mode Mode)
	ClockDataOut(out []byte, offset, length int, mode Mode)
	ClockDataIn(in []byte, offset, length int, mode Mode)

	// TMS operations; tdi fixes the TDI level held during the burst.
	// length must not exceed 7 bits per call.
	ClockTMS(tms []byte, offset int, in []byte, inOffset, length int, tdi bool, mode Mode)
	ClockTMSOut(tms []byte, offset, length int, tdi bool, mode Mode)

	// SetFrequency programs the TCK divisor and returns the frequency
	// actually achieved.
	SetFrequency(hz int) (int, error)
	Loopback(enable bool)

	Flush() error
	Close() error
}
