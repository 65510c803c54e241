package ftdi

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/tap"
)

// Operation is one logical debug command accepted by Execute.
type Operation interface {
	isOperation()
}

// Reset drives the reset lines (1 assert, 0 deassert, -1 leave alone).
type Reset struct {
	TRST, SRST int
}

// RunTest holds the chain in Run-Test/Idle for Cycles clocks, then moves to
// EndState.
type RunTest struct {
	Cycles   uint
	EndState tap.State
}

// StateMove takes the shortest path to EndState. Moving to TestLogicReset
// always re-enters it with five TMS=1 clocks, even if already there.
type StateMove struct {
	EndState tap.State
}

// PathMove walks an explicit state path; every step must be reachable with
// a single TMS bit from its predecessor.
type PathMove struct {
	Path []tap.State
}

// ScanField is one segment of a register scan. Out supplies TDI bits (nil
// clocks zeros); In, when non-nil, receives TDO bits. Both are sized to
// hold Bits bits.
type ScanField struct {
	Out  []byte
	In   []byte
	Bits int
}

// Scan shifts Fields through the instruction (IR) or data (DR) register and
// leaves the chain in EndState.
type Scan struct {
	IR       bool
	Fields   []ScanField
	EndState tap.State
}

// Sleep flushes and waits.
type Sleep struct {
	Duration time.Duration
}

// StableClocks emits clock cycles without changing state; only valid in a
// stable state.
type StableClocks struct {
	Cycles uint
}

// TMS clocks a raw TMS bit sequence. The tracked TAP state follows every
// bit, so raw sequences cannot desynchronize the tracker.
type TMS struct {
	Bits  []byte
	Count int
}

func (Reset) isOperation()        {}
func (RunTest) isOperation()      {}
func (StateMove) isOperation()    {}
func (PathMove) isOperation()     {}
func (Scan) isOperation()         {}
func (Sleep) isOperation()        {}
func (StableClocks) isOperation() {}
func (TMS) isOperation()          {}

// Execute queues the operations and flushes them as one batch. The LED
// signal, when the layout defines one, is lit for the duration. An
// invariant violation aborts the batch and poisons the session.
func (d *Driver) Execute(ops ...Operation) error {
	if d.failed != nil {
		return d.failed
	}

	led, haveLED := d.index["LED"]
	if haveLED {
		_ = d.setSignal(led, LevelHigh)
	}

	for _, op := range ops {
		if err := d.executeOp(op); err != nil {
			return err
		}
	}

	if haveLED {
		_ = d.setSignal(led, LevelLow)
	}
	return d.Flush()
}

func (d *Driver) executeOp(op Operation) error {
	switch op := op.(type) {
	case Reset:
		return d.Reset(op.TRST, op.SRST)
	case RunTest:
		return d.executeRunTest(op)
	case StateMove:
		return d.executeStateMove(op)
	case PathMove:
		return d.executePathMove(op)
	case Scan:
		return d.executeScan(op)
	case Sleep:
		return d.Sleep(op.Duration)
	case StableClocks:
		return d.executeStableClocks(op)
	case TMS:
		return d.executeTMS(op)
	}
	return d.fail(invariantf("unknown operation type %T", op))
}

// moveToState emits one TMS burst along the shortest path to goal, stepping
// the tracker bit-by-bit first so tracked and physical state stay atomic
// with respect to this call.
func (d *Driver) moveToState(goal tap.State) error {
	start := d.machine.State()
	seq, err := d.machine.PathTo(goal)
	if err != nil {
		return d.fail(invariantf("%v", err))
	}
	log.Debugf("ftdi: move start=%v goal=%v", start, goal)
	if seq.Len() == 0 {
		return nil
	}
	b, n := seq.Pack()
	d.eng.ClockTMSOut([]byte{b}, 0, n, false, d.jtagMode)
	return nil
}

func (d *Driver) executeRunTest(op RunTest) error {
	log.Debugf("ftdi: runtest %d cycles, end in %v", op.Cycles, op.EndState)

	if d.machine.State() != tap.StateRunTestIdle {
		if err := d.moveToState(tap.StateRunTestIdle); err != nil {
			return err
		}
	}

	// Idle-holding clocks cause no transitions, so the tracker is not
	// touched while they run.
	zero := []byte{0}
	for remaining := op.Cycles; remaining > 0; {
		chunk := remaining
		if chunk > 7 {
			chunk = 7
		}
		d.eng.ClockTMSOut(zero, 0, int(chunk), false, d.jtagMode)
		remaining -= chunk
	}

	if err := d.machine.SetEndState(op.EndState); err != nil {
		return d.fail(invariantf("%v", err))
	}
	if d.machine.State() != op.EndState {
		return d.moveToState(op.EndState)
	}
	return nil
}

func (d *Driver) executeStateMove(op StateMove) error {
	log.Debugf("ftdi: statemove end in %v", op.EndState)
	if err := d.machine.SetEndState(op.EndState); err != nil {
		return d.fail(invariantf("%v", err))
	}

	if op.EndState == tap.StateTestLogicReset {
		seq := d.machine.ForceReset()
		b, n := seq.Pack()
		d.eng.ClockTMSOut([]byte{b}, 0, n, false, d.jtagMode)
		return nil
	}
	if d.machine.State() != op.EndState {
		return d.moveToState(op.EndState)
	}
	return nil
}

// executePathMove validates every requested transition against the state
// diagram, accumulating up to 7 TMS bits per physical burst.
func (d *Driver) executePathMove(op PathMove) error {
	if len(op.Path) == 0 {
		return nil
	}
	log.Debugf("ftdi: pathmove: %d states, current: %v end: %v",
		len(op.Path), d.machine.State(), op.Path[len(op.Path)-1])

	var tmsByte [1]byte
	bits := 0
	for i, next := range op.Path {
		var bit bool
		switch next {
		case tap.NextState(d.machine.State(), false):
			bit = false
		case tap.NextState(d.machine.State(), true):
			bit = true
		default:
			return d.fail(invariantf("%v -> %v isn't a valid TAP state transition",
				d.machine.State(), next))
		}
		bitbuf.SetBit(tmsByte[:], bits, bit)
		bits++
		d.machine.Clock(bit)

		if bits == 7 || i == len(op.Path)-1 {
			d.eng.ClockTMSOut(tmsByte[:], 0, bits, false, d.jtagMode)
			tmsByte[0] = 0
			bits = 0
		}
	}
	return nil
}

func (d *Driver) executeScan(op Scan) error {
	// Trailing zero-length fields would break the last-bit handling below.
	fields := op.Fields
	for len(fields) > 0 && fields[len(fields)-1].Bits == 0 {
		log.Debug("ftdi: discarding trailing empty field")
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 0 {
		log.Debug("ftdi: empty scan, doing nothing")
		return nil
	}

	shiftState := tap.StateShiftDR
	if op.IR {
		shiftState = tap.StateShiftIR
	}
	if d.machine.State() != shiftState {
		if err := d.moveToState(shiftState); err != nil {
			return err
		}
	}
	if err := d.machine.SetEndState(op.EndState); err != nil {
		return d.fail(invariantf("%v", err))
	}

	for i, field := range fields {
		last := i == len(fields)-1
		log.Debugf("ftdi: %s field %d/%d %d bits",
			scanName(op.IR), i, len(fields), field.Bits)

		if !last || d.machine.State() == op.EndState {
			d.eng.ClockData(field.Out, 0, field.In, 0, field.Bits, d.jtagMode)
			continue
		}

		// Leaving the shift state: the final data bit shares its clock
		// edge with the first TMS transition, so shift all but one bit
		// as data and fold the last one into the TMS burst.
		d.eng.ClockData(field.Out, 0, field.In, 0, field.Bits-1, d.jtagMode)

		lastBit := false
		if field.Out != nil {
			lastBit = bitbuf.GetBit(field.Out, field.Bits-1)
		}

		// TMS 1-1-0 reaches Run-Test/Idle via Exit1 and Update; stopping
		// in Pause needs only the leading 1-0.
		tmsBits := []byte{0x03}
		d.eng.ClockTMS(tmsBits, 0, field.In, field.Bits-1, 1, lastBit, d.jtagMode)
		d.machine.Clock(true) // -> Exit1
		if op.EndState == tap.StateRunTestIdle {
			d.eng.ClockTMSOut(tmsBits, 1, 2, lastBit, d.jtagMode)
			d.machine.Clock(true)  // -> Update
			d.machine.Clock(false) // -> Run-Test/Idle
		} else {
			d.eng.ClockTMSOut(tmsBits, 2, 1, lastBit, d.jtagMode)
			d.machine.Clock(false) // -> Pause
		}
	}

	if d.machine.State() != op.EndState {
		if err := d.moveToState(op.EndState); err != nil {
			return err
		}
	}
	log.Debugf("ftdi: %s end in %v", scanName(op.IR), op.EndState)
	return nil
}

func scanName(ir bool) string {
	if ir {
		return "IR scan"
	}
	return "DR scan"
}

// executeStableClocks clocks without transitions. In Test-Logic-Reset TMS
// must stay high to keep the state latched; everywhere else it stays low.
func (d *Driver) executeStableClocks(op StableClocks) error {
	if !tap.IsStable(d.machine.State()) {
		return d.fail(invariantf("stable clocks requested in unstable state %v", d.machine.State()))
	}
	tms := []byte{0x00}
	if d.machine.State() == tap.StateTestLogicReset {
		tms[0] = 0x7f
	}
	for remaining := op.Cycles; remaining > 0; {
		chunk := remaining
		if chunk > 7 {
			chunk = 7
		}
		d.eng.ClockTMSOut(tms, 0, int(chunk), false, d.jtagMode)
		remaining -= chunk
	}
	log.Debugf("ftdi: %d clocks while in %v", op.Cycles, d.machine.State())
	return nil
}

// executeTMS clocks a raw TMS sequence. Unlike the historical behavior of
// this command the tracker follows every bit.
func (d *Driver) executeTMS(op TMS) error {
	log.Debugf("ftdi: TMS: %d bits", op.Count)
	for first := 0; first < op.Count; first += 7 {
		n := op.Count - first
		if n > 7 {
			n = 7
		}
		var chunk [1]byte
		bitbuf.Copy(chunk[:], 0, op.Bits, first, n)
		d.eng.ClockTMSOut(chunk[:], 0, n, false, d.jtagMode)
		for i := 0; i < n; i++ {
			d.machine.Clock(bitbuf.GetBit(chunk[:], i))
		}
	}
	return nil
}
