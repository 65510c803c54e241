package mpsse

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
)

// OpKind identifies a recorded Engine call.
type OpKind string

const (
	OpSetLow       OpKind = "set-low"
	OpSetHigh      OpKind = "set-high"
	OpReadLow      OpKind = "read-low"
	OpReadHigh     OpKind = "read-high"
	OpClockData    OpKind = "clock-data"
	OpClockDataOut OpKind = "clock-data-out"
	OpClockDataIn  OpKind = "clock-data-in"
	OpClockTMS     OpKind = "clock-tms"
	OpClockTMSOut  OpKind = "clock-tms-out"
	OpLoopback     OpKind = "loopback"
	OpFrequency    OpKind = "frequency"
	OpFlush        OpKind = "flush"
)

// Op is one recorded Engine call with its arguments normalized: shift-out
// data is re-based to bit offset zero so tests can compare byte patterns
// directly.
type Op struct {
	Kind      OpKind
	Value     byte // GPIO value / packed TMS byte
	Direction byte // GPIO direction
	Out       []byte
	Bits      int
	TDI       bool
	Mode      Mode
	Enable    bool // loopback
	Hz        int  // frequency
}

type pendingRead struct {
	bytePtr *byte
	dst     []byte
	offset  int
	bits    int
	high    bool
}

// Recorder is an in-memory Engine for driver tests. It records every call
// and satisfies read requests from scripted data at Flush time, mirroring
// the deferred-read behavior of the hardware.
type Recorder struct {
	ops     []Op
	pending []pendingRead

	// Scripted inputs.
	readBits   []byte // FIFO of bit-window data for shift reads
	scriptBits int    // bits written into readBits
	readAt     int    // bit cursor into readBits
	lowInput   byte
	highInput  byte

	FrequencyHz int
	FlushErr    error // returned once by the next Flush
	Flushes     int
}

var _ Engine = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{FrequencyHz: 1_000_000}
}

// Ops returns the recorded call list.
func (r *Recorder) Ops() []Op {
	return r.ops
}

// OpsOfKind filters the recorded calls by kind.
func (r *Recorder) OpsOfKind(kind OpKind) []Op {
	var out []Op
	for _, op := range r.ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Clear drops recorded calls and scripted read data.
func (r *Recorder) Clear() {
	r.ops = nil
	r.pending = nil
	r.readBits = nil
	r.scriptBits = 0
	r.readAt = 0
	r.Flushes = 0
}

// ScriptReadBits appends bits to the FIFO that satisfies shift reads, in
// the order the reads were queued.
func (r *Recorder) ScriptReadBits(buf []byte, bits int) {
	need := bitbuf.Bytes(r.scriptBits + bits)
	for len(r.readBits) < need {
		r.readBits = append(r.readBits, 0)
	}
	bitbuf.Copy(r.readBits, r.scriptBits, buf, 0, bits)
	r.scriptBits += bits
}

// SetLowByteInput scripts the value returned by ReadDataBitsLowByte.
func (r *Recorder) SetLowByteInput(v byte) { r.lowInput = v }

// SetHighByteInput scripts the value returned by ReadDataBitsHighByte.
func (r *Recorder) SetHighByteInput(v byte) { r.highInput = v }

func rebase(src []byte, offset, bits int) []byte {
	if src == nil || bits <= 0 {
		return nil
	}
	out := make([]byte, bitbuf.Bytes(bits))
	bitbuf.Copy(out, 0, src, offset, bits)
	return out
}

func (r *Recorder) SetDataBitsLowByte(value, direction byte) {
	r.ops = append(r.ops, Op{Kind: OpSetLow, Value: value, Direction: direction})
}

func (r *Recorder) SetDataBitsHighByte(value, direction byte) {
	r.ops = append(r.ops, Op{Kind: OpSetHigh, Value: value, Direction: direction})
}

func (r *Recorder) ReadDataBitsLowByte(dst *byte) {
	r.ops = append(r.ops, Op{Kind: OpReadLow})
	r.pending = append(r.pending, pendingRead{bytePtr: dst})
}

func (r *Recorder) ReadDataBitsHighByte(dst *byte) {
	r.ops = append(r.ops, Op{Kind: OpReadHigh})
	r.pending = append(r.pending, pendingRead{bytePtr: dst, high: true})
}

func (r *Recorder) ClockData(out []byte, outOffset int, in []byte, inOffset, length int, mode Mode) {
	r.ops = append(r.ops, Op{Kind: OpClockData, Out: rebase(out, outOffset, length), Bits: length, Mode: mode})
	if in != nil {
		r.pending = append(r.pending, pendingRead{dst: in, offset: inOffset, bits: length})
	}
}

func (r *Recorder) ClockDataOut(out []byte, offset, length int, mode Mode) {
	r.ops = append(r.ops, Op{Kind: OpClockDataOut, Out: rebase(out, offset, length), Bits: length, Mode: mode})
}

func (r *Recorder) ClockDataIn(in []byte, offset, length int, mode Mode) {
	r.ops = append(r.ops, Op{Kind: OpClockDataIn, Bits: length, Mode: mode})
	r.pending = append(r.pending, pendingRead{dst: in, offset: offset, bits: length})
}

func (r *Recorder) ClockTMS(tms []byte, offset int, in []byte, inOffset, length int, tdi bool, mode Mode) {
	var packed [1]byte
	bitbuf.Copy(packed[:], 0, tms, offset, length)
	r.ops = append(r.ops, Op{Kind: OpClockTMS, Value: packed[0], Bits: length, TDI: tdi, Mode: mode})
	if in != nil {
		r.pending = append(r.pending, pendingRead{dst: in, offset: inOffset, bits: length})
	}
}

func (r *Recorder) ClockTMSOut(tms []byte, offset, length int, tdi bool, mode Mode) {
	var packed [1]byte
	bitbuf.Copy(packed[:], 0, tms, offset, length)
	r.ops = append(r.ops, Op{Kind: OpClockTMSOut, Value: packed[0], Bits: length, TDI: tdi, Mode: mode})
}

func (r *Recorder) Loopback(enable bool) {
	r.ops = append(r.ops, Op{Kind: OpLoopback, Enable: enable})
}

func (r *Recorder) SetFrequency(hz int) (int, error) {
	r.ops = append(r.ops, Op{Kind: OpFrequency, Hz: hz})
	r.FrequencyHz = hz
	return hz, nil
}

// Flush satisfies pending reads from the scripted data, in queue order.
func (r *Recorder) Flush() error {
	r.ops = append(r.ops, Op{Kind: OpFlush})
	r.Flushes++
	if r.FlushErr != nil {
		err := r.FlushErr
		r.FlushErr = nil
		r.pending = nil
		return err
	}
	for _, p := range r.pending {
		if p.bytePtr != nil {
			if p.high {
				*p.bytePtr = r.highInput
			} else {
				*p.bytePtr = r.lowInput
			}
			continue
		}
		if r.readAt+p.bits > r.scriptBits {
			return fmt.Errorf("mpsse.Recorder: scripted read underrun: need %d bits at %d, have %d",
				p.bits, r.readAt, r.scriptBits)
		}
		bitbuf.Copy(p.dst, p.offset, r.readBits, r.readAt, p.bits)
		r.readAt += p.bits
	}
	r.pending = nil
	return nil
}

func (r *Recorder) Close() error {
	return nil
}
