package mpsse

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
)

// Shift opcode flags. The edge and bit-order flags overlap the Mode values,
// so an opcode is built by OR-ing a Mode with the action flags below.
const (
	opBitMode  byte = 0x02
	opWriteTDI byte = 0x10
	opReadTDO  byte = 0x20
	opWriteTMS byte = 0x40
)

// Non-shift opcodes.
const (
	opSetBitsLow    byte = 0x80
	opReadBitsLow   byte = 0x81
	opSetBitsHigh   byte = 0x82
	opReadBitsHigh  byte = 0x83
	opLoopbackOn    byte = 0x84
	opLoopbackOff   byte = 0x85
	opSetDivisor    byte = 0x86
	opSendImmediate byte = 0x87
	opDivideBy5Off  byte = 0x8a
	opDivideBy5On   byte = 0x8b
)

// maxByteShift is the largest byte-mode shift one opcode can carry: the
// length field is 16 bits holding length-1.
const maxByteShift = 0x10000

// readTarget remembers where one queued command's read-back data lands.
type readTarget struct {
	bytePtr *byte  // GPIO byte read
	dst     []byte // shift read destination
	offset  int
	bits    int
	bitMode bool
}

// queue frames MPSSE commands into a write buffer and tracks the read-back
// layout of the matching response. It performs no I/O.
type queue struct {
	wr        []byte
	reads     []readTarget
	readBytes int
}

func (q *queue) reset() {
	q.wr = q.wr[:0]
	q.reads = q.reads[:0]
	q.readBytes = 0
}

func (q *queue) setDataBits(high bool, value, direction byte) {
	op := opSetBitsLow
	if high {
		op = opSetBitsHigh
	}
	q.wr = append(q.wr, op, value, direction)
}

func (q *queue) readDataBits(high bool, dst *byte) {
	op := opReadBitsLow
	if high {
		op = opReadBitsHigh
	}
	q.wr = append(q.wr, op)
	q.reads = append(q.reads, readTarget{bytePtr: dst})
	q.readBytes++
}

// clockData queues shift commands for length bits, splitting into byte-mode
// chunks and a trailing bit-mode chunk. out may be nil to clock zeros; in
// may be nil to discard TDO.
func (q *queue) clockData(out []byte, outOffset int, in []byte, inOffset, length int, mode Mode) {
	base := byte(mode)
	// The chip clocks only while shifting in some direction; pure idle
	// clocking (both buffers nil) is done by writing zeros.
	if out != nil || in == nil {
		base |= opWriteTDI
	}
	if in != nil {
		base |= opReadTDO
	}

	for length >= 8 {
		nbytes := length / 8
		if nbytes > maxByteShift {
			nbytes = maxByteShift
		}
		q.wr = append(q.wr, base, byte(nbytes-1), byte((nbytes-1)>>8))
		if base&opWriteTDI != 0 {
			start := len(q.wr)
			q.wr = append(q.wr, make([]byte, nbytes)...)
			if out != nil {
				bitbuf.Copy(q.wr[start:], 0, out, outOffset, nbytes*8)
				outOffset += nbytes * 8
			}
		}
		if in != nil {
			q.reads = append(q.reads, readTarget{dst: in, offset: inOffset, bits: nbytes * 8})
			q.readBytes += nbytes
			inOffset += nbytes * 8
		}
		length -= nbytes * 8
	}

	if length > 0 {
		q.wr = append(q.wr, base|opBitMode, byte(length-1))
		if base&opWriteTDI != 0 {
			var b [1]byte
			if out != nil {
				bitbuf.Copy(b[:], 0, out, outOffset, length)
			}
			q.wr = append(q.wr, b[0])
		}
		if in != nil {
			q.reads = append(q.reads, readTarget{dst: in, offset: inOffset, bits: length, bitMode: true})
			q.readBytes++
		}
	}
}

// clockTMS queues one TMS burst of up to 7 bits. The TDI level is held
// static in bit 7 of the payload byte for the duration of the burst.
func (q *queue) clockTMS(tms []byte, offset int, in []byte, inOffset, length int, tdi bool, mode Mode) error {
	if length <= 0 || length > 7 {
		return fmt.Errorf("mpsse: TMS burst of %d bits, must be 1..7", length)
	}
	op := byte(mode) | opBitMode | opWriteTMS
	if in != nil {
		op |= opReadTDO
	}
	var b [1]byte
	bitbuf.Copy(b[:], 0, tms, offset, length)
	if tdi {
		b[0] |= 0x80
	}
	q.wr = append(q.wr, op, byte(length-1), b[0])
	if in != nil {
		q.reads = append(q.reads, readTarget{dst: in, offset: inOffset, bits: length, bitMode: true})
		q.readBytes++
	}
	return nil
}

func (q *queue) loopback(enable bool) {
	if enable {
		q.wr = append(q.wr, opLoopbackOn)
	} else {
		q.wr = append(q.wr, opLoopbackOff)
	}
}

// setDivisor queues the clock divisor commands. divideBy5 only exists on
// H-type parts; on classic parts the prescaler is fixed.
func (q *queue) setDivisor(divisor uint16, highSpeed, divideBy5 bool) {
	if highSpeed {
		if divideBy5 {
			q.wr = append(q.wr, opDivideBy5On)
		} else {
			q.wr = append(q.wr, opDivideBy5Off)
		}
	}
	q.wr = append(q.wr, opSetDivisor, byte(divisor), byte(divisor>>8))
}

// clockDivisor returns the smallest divisor value (the programmed field
// plus one) that keeps TCK at or below the requested frequency for the
// given base clock. TCK = base / (2 * divisor).
func clockDivisor(base, hz int) int {
	div := (base + 2*hz - 1) / (2 * hz)
	if div < 1 {
		div = 1
	}
	if div > 0x10000 {
		div = 0x10000
	}
	return div
}

// sendImmediate asks the chip to push its response buffer to the host
// without waiting for the latency timer.
func (q *queue) sendImmediate() {
	q.wr = append(q.wr, opSendImmediate)
}

// distribute copies one flush's worth of read-back data into the registered
// destinations. Bit-mode responses arrive left-aligned: the chip shifts each
// received bit in at bit 7, so after n bits the first bit sits at 8-n.
func (q *queue) distribute(data []byte) error {
	if len(data) < q.readBytes {
		return fmt.Errorf("mpsse: short read: got %d bytes, expected %d", len(data), q.readBytes)
	}
	pos := 0
	for _, r := range q.reads {
		switch {
		case r.bytePtr != nil:
			*r.bytePtr = data[pos]
			pos++
		case r.bitMode:
			b := data[pos] >> uint(8-r.bits)
			bitbuf.Copy(r.dst, r.offset, []byte{b}, 0, r.bits)
			pos++
		default:
			bitbuf.Copy(r.dst, r.offset, data[pos:], 0, r.bits)
			pos += r.bits / 8
		}
	}
	return nil
}
