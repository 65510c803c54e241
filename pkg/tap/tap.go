// Package tap models the IEEE 1149.1 Test Access Port controller: the
// 16-state automaton, a local state tracker, and shortest-path TMS
// sequences between stable states.
package tap

import (
	"fmt"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates = 16
)

var stateNames = [numStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Valid reports whether s is one of the 16 defined controller states.
func (s State) Valid() bool {
	return s < numStates
}

// transitions[s][tms] is the state entered from s when TCK rises with the
// given TMS level.
var transitions = [numStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
}

// NextState returns the TAP state entered from s by one TCK cycle with the
// provided TMS level.
func NextState(s State, tms bool) State {
	i := 0
	if tms {
		i = 1
	}
	return transitions[s][i]
}

// IsStable reports whether the TAP can be held in s indefinitely by keeping
// TMS constant. Capture, Exit, Update and Select states pass through on
// every clock and are never stable.
func IsStable(s State) bool {
	switch s {
	case StateTestLogicReset, StateRunTestIdle,
		StateShiftDR, StatePauseDR,
		StateShiftIR, StatePauseIR:
		return true
	}
	return false
}

// Sequence captures a TMS drive pattern together with the states the
// controller passes through while it is applied. States[0] is the state
// before the first bit, so len(States) == len(TMS)+1.
type Sequence struct {
	TMS    []bool
	States []State
}

// Len returns the number of TCK cycles in the sequence.
func (s Sequence) Len() int {
	return len(s.TMS)
}

// Pack returns the first min(n,7) TMS bits of the sequence packed LSB-first
// into a single byte, together with the packed bit count. The 7-bit ceiling
// matches the MPSSE TMS command, which clocks at most 7 TMS bits per opcode.
func (s Sequence) Pack() (byte, int) {
	n := len(s.TMS)
	if n > 7 {
		n = 7
	}
	var b byte
	for i := 0; i < n; i++ {
		if s.TMS[i] {
			b |= 1 << uint(i)
		}
	}
	return b, n
}

// Path computes the shortest TMS sequence moving the controller from one
// state to another. The goal must be a stable state: moving "to" a pass-
// through state is meaningless since the controller cannot remain there.
// For from == to the path is empty; re-entering TestLogicReset on purpose
// is done with Machine.ForceReset, not Path.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() || !IsStable(to) {
		return Sequence{}, fmt.Errorf("tap: %v is not a stable end state", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	// BFS over the 16-state diagram. The diameter between stable states is
	// 7 (PauseDR <-> PauseIR), so every result fits one MPSSE TMS burst.
	type visit struct {
		prev int8 // index into order, -1 for the root
		tms  bool
	}
	order := []State{from}
	seen := [numStates]bool{}
	seen[from] = true
	meta := []visit{{prev: -1}}

	for head := 0; head < len(order); head++ {
		for _, tms := range []bool{false, true} {
			next := NextState(order[head], tms)
			if seen[next] {
				continue
			}
			seen[next] = true
			order = append(order, next)
			meta = append(meta, visit{prev: int8(head), tms: tms})

			if next != to {
				continue
			}
			// Walk back to the root to recover the sequence.
			var rev []int
			for i := len(order) - 1; i != 0; i = int(meta[i].prev) {
				rev = append(rev, i)
			}
			seq := Sequence{States: []State{from}}
			for i := len(rev) - 1; i >= 0; i-- {
				seq.TMS = append(seq.TMS, meta[rev[i]].tms)
				seq.States = append(seq.States, order[rev[i]])
			}
			return seq, nil
		}
	}
	return Sequence{}, fmt.Errorf("tap: no path from %v to %v", from, to)
}

// Machine tracks the TAP controller state locally. It performs no I/O;
// callers clock it in lockstep with the TMS bits they hand to the adapter
// so the tracked state always matches the physical chain.
type Machine struct {
	state State
	end   State
}

// NewMachine creates a tracker initialized to Test-Logic-Reset, the state
// any TAP enters after five TMS=1 clocks regardless of where it started.
func NewMachine() *Machine {
	return &Machine{state: StateTestLogicReset, end: StateTestLogicReset}
}

// State reports the current tracked TAP state.
func (m *Machine) State() State {
	return m.state
}

// EndState reports the end state most recently recorded with SetEndState.
func (m *Machine) EndState() State {
	return m.end
}

// SetEndState records where the current command wants the controller to
// finish. The end state must be stable.
func (m *Machine) SetEndState(s State) error {
	if !s.Valid() || !IsStable(s) {
		return fmt.Errorf("tap: %v is not a stable end state", s)
	}
	m.end = s
	return nil
}

// Clock advances the tracker one TCK cycle with the provided TMS bit and
// returns the new state.
func (m *Machine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// ForceReset returns the canonical five TMS=1 cycles that bring any TAP to
// Test-Logic-Reset and updates the tracker accordingly.
func (m *Machine) ForceReset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, 5),
		States: make([]State, 6),
	}
	seq.States[0] = m.state
	for i := 0; i < 5; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// PathTo computes the shortest sequence from the current state to target and
// steps the tracker through it. The physical TMS burst must be emitted by
// the caller from the returned sequence.
func (m *Machine) PathTo(target State) (Sequence, error) {
	seq, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	for _, bit := range seq.TMS {
		m.Clock(bit)
	}
	return seq, nil
}
