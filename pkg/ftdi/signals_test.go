package ftdi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/mpsse"
)

// newTestDriver builds a session over a Recorder and drops the
// initialization traffic so tests see only their own operations.
func newTestDriver(t *testing.T, cfg Config) (*Driver, *mpsse.Recorder) {
	t.Helper()
	rec := mpsse.NewRecorder()
	d, err := New(cfg, rec)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	rec.Clear()
	return d, rec
}

func TestDefineSignalOverwriteKeepsOrder(t *testing.T) {
	d, _ := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "A", DataMask: 0x01})
	d.DefineSignal(Signal{Name: "B", DataMask: 0x02})
	d.DefineSignal(Signal{Name: "A", DataMask: 0x04})

	sigs := d.Signals()
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2", len(sigs))
	}
	if sigs[0].Name != "A" || sigs[0].DataMask != 0x04 {
		t.Fatalf("signal A not overwritten in place: %+v", sigs[0])
	}
	if sigs[1].Name != "B" {
		t.Fatalf("insertion order lost: %+v", sigs[1])
	}
}

func TestAliasSignal(t *testing.T) {
	d, _ := newTestDriver(t, Config{})
	if _, err := d.AliasSignal("X", "missing", false); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("alias of undefined signal: err = %v", err)
	}

	d.DefineSignal(Signal{Name: "nTRST", DataMask: 0x10, InvertData: true})
	alias, err := d.AliasSignal("TRST", "nTRST", true)
	if err != nil {
		t.Fatalf("AliasSignal returned error: %v", err)
	}
	if alias.DataMask != 0x10 {
		t.Fatalf("alias mask = %#x", alias.DataMask)
	}
	// Inverted alias of an inverted signal is non-inverting.
	if alias.InvertData {
		t.Fatalf("inversions did not compose")
	}
}

func TestSetSignalWritesOnlyChangedBytes(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "FOO", DataMask: 0x0010, OEMask: 0x0400})

	if err := d.SetSignal("FOO", LevelHigh); err != nil {
		t.Fatalf("SetSignal returned error: %v", err)
	}
	want := []mpsse.Op{
		{Kind: mpsse.OpSetLow, Value: 0x10, Direction: 0x00},
		{Kind: mpsse.OpSetHigh, Value: 0x04, Direction: 0x00},
	}
	if diff := cmp.Diff(want, rec.Ops()); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}

	// Same level again: shadow unchanged, nothing re-sent.
	rec.Clear()
	if err := d.SetSignal("FOO", LevelHigh); err != nil {
		t.Fatalf("SetSignal returned error: %v", err)
	}
	if len(rec.Ops()) != 0 {
		t.Fatalf("unchanged set re-sent %d ops", len(rec.Ops()))
	}
}

func TestSetSignalSharedMaskFlipsDirection(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "SWDIO", DataMask: 0x0008, OEMask: 0x0008})

	if err := d.SetSignal("SWDIO", LevelHigh); err != nil {
		t.Fatalf("SetSignal returned error: %v", err)
	}
	if err := d.SetSignal("SWDIO", LevelHighZ); err != nil {
		t.Fatalf("SetSignal returned error: %v", err)
	}
	want := []mpsse.Op{
		{Kind: mpsse.OpSetLow, Value: 0x08, Direction: 0x08},
		{Kind: mpsse.OpSetLow, Value: 0x00, Direction: 0x00},
	}
	if diff := cmp.Diff(want, rec.Ops()); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
}

func TestSetSignalErrors(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "IN_ONLY", InputMask: 0x01})
	d.DefineSignal(Signal{Name: "OE_ONLY", OEMask: 0x20})
	d.DefineSignal(Signal{Name: "DATA_ONLY", DataMask: 0x40})

	if err := d.SetSignal("IN_ONLY", LevelHigh); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("signal with no masks: err = %v", err)
	}
	if err := d.SetSignal("OE_ONLY", LevelHigh); !errors.Is(err, ErrCapability) {
		t.Fatalf("driving high without data mask: err = %v", err)
	}
	if err := d.SetSignal("DATA_ONLY", LevelHighZ); !errors.Is(err, ErrCapability) {
		t.Fatalf("tri-stating without oe mask: err = %v", err)
	}
	if err := d.SetSignal("NOPE", LevelLow); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("undefined signal: err = %v", err)
	}
	if len(rec.Ops()) != 0 {
		t.Fatalf("failed sets emitted %d ops", len(rec.Ops()))
	}
}

// An inverted signal must drive the opposite bit of an identical
// non-inverted one.
func TestInvertDataFlipsDrivenBit(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "PLAIN", DataMask: 0x01})
	d.DefineSignal(Signal{Name: "INV", DataMask: 0x02, InvertData: true})

	if err := d.SetSignal("PLAIN", LevelHigh); err != nil {
		t.Fatal(err)
	}
	if err := d.SetSignal("INV", LevelHigh); err != nil {
		t.Fatal(err)
	}
	ops := rec.OpsOfKind(mpsse.OpSetLow)
	if len(ops) != 1 {
		// INV high clears its bit, which was already clear; only PLAIN
		// changes the shadow.
		t.Fatalf("got %d low-byte writes, want 1", len(ops))
	}
	if ops[0].Value != 0x01 {
		t.Fatalf("low byte = %#02x, want 0x01", ops[0].Value)
	}

	rec.Clear()
	if err := d.SetSignal("INV", LevelLow); err != nil {
		t.Fatal(err)
	}
	ops = rec.OpsOfKind(mpsse.OpSetLow)
	if len(ops) != 1 || ops[0].Value != 0x03 {
		t.Fatalf("inverted low level should drive bit high, ops = %+v", ops)
	}
}

func TestGetSignalReadsAndMasks(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "SENSE", InputMask: 0x0180, InvertInput: true})

	rec.SetLowByteInput(0x00)
	rec.SetHighByteInput(0x00)
	v, err := d.GetSignal("SENSE")
	if err != nil {
		t.Fatalf("GetSignal returned error: %v", err)
	}
	// All-zero input, inverted, masked.
	if v != 0x0180 {
		t.Fatalf("value = %#06x, want 0x0180", v)
	}
	if got := rec.OpsOfKind(mpsse.OpReadLow); len(got) != 1 {
		t.Fatalf("low byte reads = %d, want 1", len(got))
	}
	if got := rec.OpsOfKind(mpsse.OpReadHigh); len(got) != 1 {
		t.Fatalf("high byte reads = %d, want 1", len(got))
	}
	if rec.Flushes != 1 {
		t.Fatalf("GetSignal must force a flush, saw %d", rec.Flushes)
	}
}

func TestGetSignalHighByteOnly(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "HI", InputMask: 0x0100})

	rec.SetHighByteInput(0x01)
	v, err := d.GetSignal("HI")
	if err != nil {
		t.Fatalf("GetSignal returned error: %v", err)
	}
	if v != 0x0100 {
		t.Fatalf("value = %#06x, want 0x0100", v)
	}
	if got := rec.OpsOfKind(mpsse.OpReadLow); len(got) != 0 {
		t.Fatalf("unnecessary low byte read issued")
	}
}

func TestGetSignalWithoutInputMaskIssuesNoRead(t *testing.T) {
	d, rec := newTestDriver(t, Config{})
	d.DefineSignal(Signal{Name: "OUT", DataMask: 0x01})

	if _, err := d.GetSignal("OUT"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if len(rec.Ops()) != 0 {
		t.Fatalf("read without input mask emitted %d ops", len(rec.Ops()))
	}
}
