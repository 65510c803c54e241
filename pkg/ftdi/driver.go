// Package ftdi implements a JTAG/SWD debug-adapter driver on top of the
// FTDI MPSSE bit-streaming engine. Logical debug operations are queued as
// compact MPSSE command batches and flushed in as few USB transfers as the
// protocol allows; read results and SWD acknowledgements are decoded after
// the flush.
package ftdi

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/mpsse"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/tap"
)

// Edge selects the TCK edge TDO is sampled on.
type Edge uint8

const (
	RisingEdge Edge = iota
	FallingEdge
)

// MaxVIDPIDs bounds the device-identifier list.
const MaxVIDPIDs = 8

// ResetConfig describes the electrical character of the reset lines.
type ResetConfig struct {
	HasTRST       bool
	HasSRST       bool
	TRSTOpenDrain bool
	SRSTPushPull  bool
}

// Config collects everything needed to open and initialize an adapter.
type Config struct {
	Description string
	Serial      string
	Location    string
	Channel     uint8
	VIDPIDs     [][2]uint16

	// Initial GPIO words applied at open.
	OutputInit    uint16
	DirectionInit uint16

	// Signals defined by the adapter layout, applied before any mode
	// setup so SWD_EN and friends exist when needed.
	Signals []Signal

	SampleEdge Edge
	SWD        bool
	SpeedHz    int
	Reset      ResetConfig
}

// Driver is one adapter session: the signal registry, the GPIO shadow, the
// TAP state tracker and the SWD transaction queue. It is not safe for
// concurrent use; callers submit one logical command stream at a time.
type Driver struct {
	eng mpsse.Engine
	cfg Config

	jtagMode mpsse.Mode
	swdMode  bool
	speedHz  int

	output    uint16
	direction uint16

	signals []*Signal
	index   map[string]*Signal

	machine *tap.Machine

	swdq      []swdEntry
	swdRetval error

	// First invariant violation; poisons the session.
	failed error
}

// Open opens the physical device described by cfg and initializes the
// session. At least one VID/PID pair must be configured.
func Open(cfg Config) (*Driver, error) {
	if len(cfg.VIDPIDs) == 0 {
		return nil, fmt.Errorf("%w: no VID/PID pairs configured", ErrConfiguration)
	}
	if len(cfg.VIDPIDs) > MaxVIDPIDs {
		return nil, fmt.Errorf("%w: %d VID/PID pairs, maximum is %d",
			ErrConfiguration, len(cfg.VIDPIDs), MaxVIDPIDs)
	}
	eng, err := mpsse.Open(mpsse.OpenConfig{
		VIDPIDs:     cfg.VIDPIDs,
		Description: cfg.Description,
		Serial:      cfg.Serial,
		Location:    cfg.Location,
		Channel:     cfg.Channel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}
	return New(cfg, eng)
}

// New initializes a session over an already-open engine. Tests inject an
// mpsse.Recorder here.
func New(cfg Config, eng mpsse.Engine) (*Driver, error) {
	d := &Driver{
		eng:       eng,
		cfg:       cfg,
		swdMode:   cfg.SWD,
		jtagMode:  mpsse.JTAGMode,
		machine:   tap.NewMachine(),
		index:     make(map[string]*Signal),
		output:    cfg.OutputInit,
		direction: cfg.DirectionInit,
	}
	if cfg.SampleEdge == FallingEdge {
		d.jtagMode = mpsse.JTAGModeAlt
	}

	for _, sig := range cfg.Signals {
		d.DefineSignal(sig)
	}

	if d.swdMode {
		if err := d.initSWD(); err != nil {
			return nil, err
		}
	}

	d.eng.SetDataBitsLowByte(byte(d.output), byte(d.direction))
	d.eng.SetDataBitsHighByte(byte(d.output>>8), byte(d.direction>>8))
	d.eng.Loopback(false)

	if cfg.SpeedHz > 0 {
		if err := d.SetSpeed(cfg.SpeedHz); err != nil {
			return nil, err
		}
	}
	if err := d.eng.Flush(); err != nil {
		return nil, fmt.Errorf("%w: initial flush: %v", ErrResource, err)
	}
	return d, nil
}

// initSWD creates the default pin signals and asserts SWD_EN, which the
// layout must define (a dummy signal with zero masks is accepted).
func (d *Driver) initSWD() error {
	log.Info("ftdi: SWD mode enabled")
	for _, def := range []struct {
		name string
		mask uint16
	}{
		{"TCK", 0x01}, {"TDI", 0x02}, {"TDO", 0x04}, {"TMS", 0x08},
	} {
		if _, ok := d.index[def.name]; !ok {
			d.DefineSignal(Signal{Name: def.name, DataMask: def.mask})
		}
	}

	sig, ok := d.index["SWD_EN"]
	if !ok {
		return fmt.Errorf("%w: SWD mode is active but SWD_EN signal is not defined", ErrConfiguration)
	}
	if sig.DataMask != 0 {
		if err := d.setSignal(sig, LevelHigh); err != nil {
			return err
		}
	}

	d.swdq = make([]swdEntry, 0, swdQueueInitialCap)
	return nil
}

// SetSpeed programs the TCK frequency.
func (d *Driver) SetSpeed(hz int) error {
	actual, err := d.eng.SetFrequency(hz)
	if err != nil {
		return fmt.Errorf("%w: couldn't set TCK speed: %v", ErrResource, err)
	}
	d.speedHz = actual
	if !d.swdMode && hz >= 10_000_000 && d.jtagMode != mpsse.JTAGModeAlt {
		log.Info("ftdi: if you experience problems at higher adapter clocks, " +
			"try sampling TDO on the falling edge")
	}
	return nil
}

// SpeedHz reports the last frequency actually achieved.
func (d *Driver) SpeedHz() int {
	return d.speedHz
}

// TAPState reports the tracked TAP controller state.
func (d *Driver) TAPState() tap.State {
	return d.machine.State()
}

// Reset drives the named reset signals. trst/srst use 1 to assert, 0 to
// deassert, -1 to leave the line alone. A missing signal is logged and the
// corresponding line left untouched.
func (d *Driver) Reset(trst, srst int) error {
	if d.failed != nil {
		return d.failed
	}
	log.Debugf("ftdi: reset trst: %d srst: %d", trst, srst)

	sigNTRST, haveTRST := d.index["nTRST"]
	sigNSRST, haveSRST := d.index["nSRST"]

	// Assertion is logical-high; active-low reset lines declare their
	// polarity with an inverted data mask in the layout.
	if !d.swdMode {
		if trst == 1 {
			if haveTRST {
				if err := d.setSignal(sigNTRST, LevelHigh); err != nil {
					return err
				}
			} else {
				log.Error("ftdi: can't assert TRST: nTRST signal is not defined")
			}
		} else if haveTRST && d.cfg.Reset.HasTRST && trst == 0 {
			level := LevelLow
			if d.cfg.Reset.TRSTOpenDrain {
				level = LevelHighZ
			}
			if err := d.setSignal(sigNTRST, level); err != nil {
				return err
			}
		}
	}

	if srst == 1 {
		if haveSRST {
			if err := d.setSignal(sigNSRST, LevelHigh); err != nil {
				return err
			}
		} else {
			log.Error("ftdi: can't assert SRST: nSRST signal is not defined")
		}
	} else if haveSRST && d.cfg.Reset.HasSRST && srst == 0 {
		level := LevelHighZ
		if d.cfg.Reset.SRSTPushPull {
			level = LevelLow
		}
		if err := d.setSignal(sigNSRST, level); err != nil {
			return err
		}
	}

	if err := d.eng.Flush(); err != nil {
		return fmt.Errorf("%w: flushing reset: %v", ErrResource, err)
	}
	return nil
}

// Sleep flushes queued work and blocks for the requested duration.
func (d *Driver) Sleep(dur time.Duration) error {
	if err := d.eng.Flush(); err != nil {
		return fmt.Errorf("%w: flushing before sleep: %v", ErrResource, err)
	}
	log.Debugf("ftdi: sleep %v while in %v", dur, d.machine.State())
	time.Sleep(dur)
	return nil
}

// Flush forces out everything queued so far.
func (d *Driver) Flush() error {
	if err := d.eng.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}
	return nil
}

// Close releases the engine. The signal registry and transaction queue die
// with the session.
func (d *Driver) Close() error {
	return d.eng.Close()
}

// fail records the first invariant violation and poisons the session.
func (d *Driver) fail(err *InvariantError) error {
	log.Errorf("ftdi: %v", err)
	if d.failed == nil {
		d.failed = err
	}
	return err
}
