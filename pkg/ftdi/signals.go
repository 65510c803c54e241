package ftdi

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Level is the value a signal can be driven to.
type Level byte

const (
	LevelLow   Level = '0'
	LevelHigh  Level = '1'
	LevelHighZ Level = 'z'
)

// ParseLevel converts a user-supplied level specifier.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "0":
		return LevelLow, nil
	case "1":
		return LevelHigh, nil
	case "z", "Z":
		return LevelHighZ, nil
	}
	return 0, fmt.Errorf("%w: unknown signal level %q, use 0, 1 or z", ErrConfiguration, s)
}

// Signal is a named GPIO abstraction over the 16-bit output and direction
// words. DataMask selects the bits the signal drives, OEMask the bits that
// control its output enable, InputMask the bits read back for it. The
// inversion flags flip the polarity of each role independently.
type Signal struct {
	Name        string
	DataMask    uint16
	InputMask   uint16
	OEMask      uint16
	InvertData  bool
	InvertInput bool
	InvertOE    bool
}

// DefineSignal creates the named signal or overwrites an existing one's
// masks in place, keeping its insertion-order position.
func (d *Driver) DefineSignal(sig Signal) *Signal {
	if existing, ok := d.index[sig.Name]; ok {
		*existing = sig
		return existing
	}
	s := &sig
	d.signals = append(d.signals, s)
	d.index[s.Name] = s
	return s
}

// AliasSignal defines name as an alias of an existing signal, copying its
// masks. With invert set, the alias drives and reads the opposite polarity
// (which composes with the target's own data/input inversion).
func (d *Driver) AliasSignal(name, target string, invert bool) (*Signal, error) {
	t, ok := d.index[target]
	if !ok {
		return nil, fmt.Errorf("%w: signal %q is not defined", ErrConfiguration, target)
	}
	sig := Signal{
		Name:        name,
		DataMask:    t.DataMask,
		InputMask:   t.InputMask,
		OEMask:      t.OEMask,
		InvertData:  t.InvertData != invert,
		InvertInput: t.InvertInput != invert,
		InvertOE:    t.InvertOE,
	}
	return d.DefineSignal(sig), nil
}

// Signal looks up a defined signal by name.
func (d *Driver) Signal(name string) (*Signal, bool) {
	s, ok := d.index[name]
	return s, ok
}

// Signals returns all defined signals in insertion order.
func (d *Driver) Signals() []*Signal {
	return d.signals
}

// SetSignal drives the named signal to the requested level.
func (d *Driver) SetSignal(name string, level Level) error {
	sig, ok := d.index[name]
	if !ok {
		return fmt.Errorf("%w: signal %q is not defined", ErrConfiguration, name)
	}
	return d.setSignal(sig, level)
}

// setSignal computes the (data, output-enable) pair for the level, honoring
// inversion, and re-sends only the shadow bytes that changed.
func (d *Driver) setSignal(s *Signal, level Level) error {
	if s.DataMask == 0 && s.OEMask == 0 {
		return fmt.Errorf("%w: interface doesn't provide signal %q", ErrConfiguration, s.Name)
	}

	var data, oe bool
	switch level {
	case LevelLow:
		data = s.InvertData
		oe = !s.InvertOE
	case LevelHigh:
		if s.DataMask == 0 {
			return fmt.Errorf("%w: interface can't drive %q high", ErrCapability, s.Name)
		}
		data = !s.InvertData
		oe = !s.InvertOE
	case LevelHighZ:
		if s.OEMask == 0 {
			return fmt.Errorf("%w: interface can't tri-state %q", ErrCapability, s.Name)
		}
		data = s.InvertData
		oe = s.InvertOE
	default:
		return fmt.Errorf("%w: invalid signal level %q", ErrConfiguration, string(level))
	}

	oldOutput := d.output
	oldDirection := d.direction

	if data {
		d.output |= s.DataMask
	} else {
		d.output &^= s.DataMask
	}
	// A signal whose OE mask equals its data mask is switched by flipping
	// the pin between output and input; otherwise OE is a separate pin
	// driven through the output word.
	if s.OEMask == s.DataMask {
		if oe {
			d.direction |= s.OEMask
		} else {
			d.direction &^= s.OEMask
		}
	} else {
		if oe {
			d.output |= s.OEMask
		} else {
			d.output &^= s.OEMask
		}
	}

	d.writeShadowDiff(oldOutput, oldDirection)
	return nil
}

// writeShadowDiff re-sends the low and/or high GPIO byte when the shadow
// words changed.
func (d *Driver) writeShadowDiff(oldOutput, oldDirection uint16) {
	if byte(d.output) != byte(oldOutput) || byte(d.direction) != byte(oldDirection) {
		d.eng.SetDataBitsLowByte(byte(d.output), byte(d.direction))
	}
	if byte(d.output>>8) != byte(oldOutput>>8) || byte(d.direction>>8) != byte(oldDirection>>8) {
		d.eng.SetDataBitsHighByte(byte(d.output>>8), byte(d.direction>>8))
	}
}

// GetSignal reads back the named signal's input bits. The read cannot be
// deferred, so it flushes everything queued so far.
func (d *Driver) GetSignal(name string) (uint16, error) {
	sig, ok := d.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: signal %q is not defined", ErrConfiguration, name)
	}
	if sig.InputMask == 0 {
		return 0, fmt.Errorf("%w: signal %q has no input mask", ErrConfiguration, sig.Name)
	}

	var low, high byte
	if sig.InputMask&0x00ff != 0 {
		d.eng.ReadDataBitsLowByte(&low)
	}
	if sig.InputMask>>8 != 0 {
		d.eng.ReadDataBitsHighByte(&high)
	}
	if err := d.eng.Flush(); err != nil {
		return 0, fmt.Errorf("%w: reading signal %q: %v", ErrResource, sig.Name, err)
	}

	value := uint16(high)<<8 | uint16(low)
	if sig.InvertInput {
		value = ^value
	}
	value &= sig.InputMask

	log.Debugf("ftdi: get_signal %s = %#06x", sig.Name, value)
	return value, nil
}
