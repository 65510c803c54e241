package ftdi

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/mpsse"
)

// SWD request header bits, LSB-first on the wire.
const (
	SWDCmdStart  byte = 0x01
	SWDCmdAPnDP  byte = 0x02
	SWDCmdRnW    byte = 0x04
	SWDCmdA32    byte = 0x18 // register address bits [3:2]
	SWDCmdParity byte = 0x20
	SWDCmdStop   byte = 0x00
	SWDCmdPark   byte = 0x80
)

// Acknowledgement codes, 3 bits LSB-first.
const (
	swdAckOK    uint8 = 0x1
	swdAckWait  uint8 = 0x2
	swdAckFault uint8 = 0x4
)

// Response bit window: turnaround, 3 ack bits, then for reads 32 data bits
// and a parity bit, for writes a turnaround back to host drive before the
// 32 data bits and parity go out.
const (
	swdRespAck       = 1
	swdRespReadData  = 1 + 3
	swdRespWriteData = 1 + 3 + 1
	swdRespBits      = 1 + 3 + 32 + 1 + 1
)

const swdQueueInitialCap = 10

// SWDCmd builds a request header for the given port, direction and
// register address, including the header parity bit. Start and park are
// set at enqueue time.
func SWDCmd(ap, read bool, addr uint8) byte {
	var cmd byte
	if ap {
		cmd |= SWDCmdAPnDP
	}
	if read {
		cmd |= SWDCmdRnW
	}
	cmd |= (addr & 0x0c) << 1
	// Header parity covers APnDP, RnW and the address bits.
	if bitbuf.Parity32(uint32(cmd&(SWDCmdAPnDP|SWDCmdRnW|SWDCmdA32)) >> 1) {
		cmd |= SWDCmdParity
	}
	return cmd
}

func swdCmdReg(cmd byte) uint8   { return (cmd & SWDCmdA32) >> 1 }
func swdCmdIsRead(cmd byte) bool { return cmd&SWDCmdRnW != 0 }
func swdCmdIsAP(cmd byte) bool   { return cmd&SWDCmdAPnDP != 0 }

func swdCmdPortName(cmd byte) string {
	if swdCmdIsAP(cmd) {
		return "AP"
	}
	return "DP"
}

func swdCmdDirName(cmd byte) string {
	if swdCmdIsRead(cmd) {
		return "read"
	}
	return "write"
}

// swdCmdReturnsAck reports whether the target drives an acknowledgement
// for this request. A DP TARGETSEL write (register 0xC) is answered by
// nothing at all, so its ack bits are noise.
func swdCmdReturnsAck(cmd byte) bool {
	targetsel := SWDCmdA32 // DP write, addr 0xC: RnW and APnDP clear
	return cmd&(SWDCmdAPnDP|SWDCmdRnW|SWDCmdA32) != targetsel
}

func ackName(ack uint8) string {
	switch ack {
	case swdAckOK:
		return "OK"
	case swdAckWait:
		return "WAIT"
	case swdAckFault:
		return "FAULT"
	}
	return "JUNK"
}

// swdEntry is one pending transaction: the request header, an optional
// destination for a pending read, and the response bit window the engine
// fills at flush. The engine keeps references into hdr and resp until the
// queue runs, which is why the queue storage must not move underneath it.
type swdEntry struct {
	cmd  byte
	dst  *uint32
	hdr  [1]byte
	resp [(swdRespBits + 7) / 8]byte
}

// swdioEnable turns the shared data line around. Layouts with a dedicated
// SWDIO_OE buffer drive it; layouts wiring TDI and TDO together instead
// flip the TDI pin between output and input.
func (d *Driver) swdioEnable(enable bool) {
	if oe, ok := d.index["SWDIO_OE"]; ok && oe.DataMask != 0 {
		level := LevelLow
		if enable {
			level = LevelHigh
		}
		if err := d.setSignal(oe, level); err != nil {
			log.Errorf("ftdi: SWDIO_OE: %v", err)
		}
		return
	}
	if enable {
		d.direction |= d.cfg.DirectionInit & 0x0002
	} else {
		d.direction &^= 0x0002
	}
	d.eng.SetDataBitsLowByte(byte(d.output), byte(d.direction))
}

// queueSWD appends one transaction to the queue and emits its wire
// operations. A full queue is drained first: the engine holds references
// into entry buffers, so the backing array must never be reallocated while
// transactions are outstanding. On a sticky error the enqueue is silently
// dropped, preserving the first error's attribution.
func (d *Driver) queueSWD(cmd byte, dst *uint32, data uint32, apDelayClocks uint) {
	if len(d.swdq) == cap(d.swdq) {
		d.swdRetval = d.RunSWDQueue()
		newCap := cap(d.swdq) * 2
		if newCap == 0 {
			newCap = swdQueueInitialCap
		}
		d.swdq = make([]swdEntry, 0, newCap)
		log.Debugf("ftdi: increased SWD command queue to %d entries", cap(d.swdq))
	}
	if d.swdRetval != nil {
		return
	}

	d.swdq = d.swdq[:len(d.swdq)+1]
	e := &d.swdq[len(d.swdq)-1]
	e.cmd = cmd | SWDCmdStart | SWDCmdPark
	e.dst = nil
	e.resp = [(swdRespBits + 7) / 8]byte{}
	e.hdr[0] = e.cmd

	d.eng.ClockDataOut(e.hdr[:], 0, 8, mpsse.SWDMode)

	if swdCmdIsRead(e.cmd) {
		e.dst = dst
		d.swdioEnable(false)
		d.eng.ClockDataIn(e.resp[:], 0, swdRespBits, mpsse.SWDMode)
		d.swdioEnable(true)
	} else {
		d.swdioEnable(false)
		// Turnaround, ack, turnaround back to host drive.
		d.eng.ClockDataIn(e.resp[:], 0, swdRespWriteData, mpsse.SWDMode)
		d.swdioEnable(true)

		bitbuf.Set32(e.resp[:], swdRespWriteData, 32, data)
		bitbuf.SetBit(e.resp[:], swdRespWriteData+32, bitbuf.Parity32(data))
		d.eng.ClockDataOut(e.resp[:], swdRespWriteData, 32+1, mpsse.SWDMode)
	}

	// Idle cycles after AP accesses give the access port time to commit,
	// bounding the chance of a WAIT on the next transaction.
	if swdCmdIsAP(e.cmd) && apDelayClocks > 0 {
		d.eng.ClockDataOut(nil, 0, int(apDelayClocks), mpsse.SWDMode)
	}
}

// ReadSWDReg queues a register read whose value lands in dst when the
// queue runs. Errors are deferred to RunSWDQueue.
func (d *Driver) ReadSWDReg(cmd byte, dst *uint32, apDelayClocks uint) {
	if !swdCmdIsRead(cmd) {
		d.swdRetval = invariantf("ReadSWDReg called with write command %02x", cmd)
		return
	}
	d.queueSWD(cmd, dst, 0, apDelayClocks)
}

// WriteSWDReg queues a register write. Errors are deferred to RunSWDQueue.
func (d *Driver) WriteSWDReg(cmd byte, value uint32, apDelayClocks uint) {
	if swdCmdIsRead(cmd) {
		d.swdRetval = invariantf("WriteSWDReg called with read command %02x", cmd)
		return
	}
	d.queueSWD(cmd, nil, value, apDelayClocks)
}

// RunSWDQueue flushes the engine and validates every queued transaction in
// submission order. The first non-OK acknowledgement or parity mismatch
// aborts validation of all later entries; their destinations are never
// written. The queue is cleared and the sticky error slot reset either way.
func (d *Driver) RunSWDQueue() error {
	log.Debugf("ftdi: executing %d queued SWD transactions", len(d.swdq))

	led, haveLED := d.index["LED"]

	if d.swdRetval == nil {
		// The last transaction's effect on the AP must be fully clocked
		// through before its result can be trusted.
		d.eng.ClockDataOut(nil, 0, 8, mpsse.SWDMode)

		if haveLED {
			_ = d.setSignal(led, LevelLow)
		}

		if err := d.eng.Flush(); err != nil {
			d.swdRetval = fmt.Errorf("%w: MPSSE flush failed: %v", ErrResource, err)
		}
	} else {
		log.Debugf("ftdi: skipping due to previous error: %v", d.swdRetval)
	}

	if d.swdRetval == nil {
		for i := range d.swdq {
			e := &d.swdq[i]
			ack := uint8(bitbuf.Get32(e.resp[:], swdRespAck, 3))
			checkAck := swdCmdReturnsAck(e.cmd)

			dataOff := swdRespWriteData
			if swdCmdIsRead(e.cmd) {
				dataOff = swdRespReadData
			}
			log.Debugf("ftdi: %s%s %s %s reg %X = %08x",
				map[bool]string{false: "ack ignored ", true: ""}[checkAck],
				ackName(ack), swdCmdPortName(e.cmd), swdCmdDirName(e.cmd),
				swdCmdReg(e.cmd), bitbuf.Get32(e.resp[:], dataOff, 32))

			if checkAck && ack != swdAckOK {
				d.swdRetval = &AckError{Cmd: e.cmd, Ack: ack}
				break
			}
			if swdCmdIsRead(e.cmd) {
				data := bitbuf.Get32(e.resp[:], swdRespReadData, 32)
				parity := bitbuf.GetBit(e.resp[:], swdRespReadData+32)
				if parity != bitbuf.Parity32(data) {
					log.Error("ftdi: SWD read data parity mismatch")
					d.swdRetval = &ParityError{Cmd: e.cmd, Value: data}
					break
				}
				if e.dst != nil {
					*e.dst = data
				}
			}
		}
	}

	d.swdq = d.swdq[:0]
	retval := d.swdRetval
	d.swdRetval = nil

	if haveLED && retval == nil {
		_ = d.setSignal(led, LevelHigh)
	}
	return retval
}

// SwitchSequence identifies a protocol switch bit pattern.
type SwitchSequence uint8

const (
	LineReset SwitchSequence = iota
	JTAGToSWD
	SWDToJTAG
	JTAGToDormant
	SWDToDormant
	DormantToSWD
)

// Switch bit patterns, LSB-first. The 16-bit selection values 0xE79E and
// 0xE73C are defined by the ARM Debug Interface specification.
var (
	swdSeqLineReset = seqBits{bits: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, n: 64}
	swdSeqJTAGToSWD = seqBits{bits: []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x9e, 0xe7,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00,
	}, n: 136}
	swdSeqSWDToJTAG = seqBits{bits: []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x3c, 0xe7,
		0xff,
	}, n: 80}
)

type seqBits struct {
	bits []byte
	n    int
}

// SwitchProtocol clocks one of the special sequences that move the target
// between wire protocols. The dormant-state sequences are not implemented
// by this driver.
func (d *Driver) SwitchProtocol(seq SwitchSequence) error {
	switch seq {
	case LineReset:
		log.Debug("ftdi: SWD line reset")
		d.swdioEnable(true)
		d.eng.ClockDataOut(swdSeqLineReset.bits, 0, swdSeqLineReset.n, mpsse.SWDMode)
	case JTAGToSWD:
		log.Debug("ftdi: JTAG-to-SWD")
		d.swdioEnable(true)
		d.eng.ClockDataOut(swdSeqJTAGToSWD.bits, 0, swdSeqJTAGToSWD.n, mpsse.SWDMode)
	case SWDToJTAG:
		log.Debug("ftdi: SWD-to-JTAG")
		d.swdioEnable(true)
		d.eng.ClockDataOut(swdSeqSWDToJTAG.bits, 0, swdSeqSWDToJTAG.n, mpsse.SWDMode)
	default:
		return fmt.Errorf("%w: switch sequence %d not supported", ErrConfiguration, seq)
	}
	return nil
}
