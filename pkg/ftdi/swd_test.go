package ftdi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/mpsse"
)

// newSWDDriver builds an SWD-mode session over a Recorder. The layout uses
// the TDI/TDO-tied wiring, so turnarounds flip direction bit 1.
func newSWDDriver(t *testing.T) (*Driver, *mpsse.Recorder) {
	t.Helper()
	return newTestDriver(t, Config{
		SWD:           true,
		DirectionInit: 0x000b,
		Signals:       []Signal{{Name: "SWD_EN"}},
	})
}

// readWindow builds the 38-bit response a target sends for a read: a
// turnaround, the ack, 32 data bits and the data parity.
func readWindow(ack uint8, data uint32, parityOK bool) []byte {
	buf := make([]byte, (swdRespBits+7)/8)
	for i := 0; i < 3; i++ {
		bitbuf.SetBit(buf, swdRespAck+i, ack&(1<<i) != 0)
	}
	bitbuf.Set32(buf, swdRespReadData, 32, data)
	parity := bitbuf.Parity32(data)
	if !parityOK {
		parity = !parity
	}
	bitbuf.SetBit(buf, swdRespReadData+32, parity)
	return buf
}

// writeWindow builds the 5 bits a target sends for a write: a turnaround,
// the ack, and the turnaround back before the host drives data.
func writeWindow(ack uint8) []byte {
	buf := make([]byte, 1)
	for i := 0; i < 3; i++ {
		bitbuf.SetBit(buf, swdRespAck+i, ack&(1<<i) != 0)
	}
	return buf
}

func TestSWDCmdHeaders(t *testing.T) {
	cases := []struct {
		ap, read bool
		addr     uint8
		want     byte // full on-wire header with start and park
	}{
		{false, true, 0x0, 0xa5},  // DP read DPIDR
		{false, false, 0x4, 0xa9}, // DP write CTRL/STAT
		{true, false, 0x4, 0x8b},  // AP write
		{true, true, 0xc, 0x9f},   // AP read
	}
	for _, c := range cases {
		got := SWDCmd(c.ap, c.read, c.addr) | SWDCmdStart | SWDCmdPark
		if got != c.want {
			t.Errorf("SWDCmd(%v, %v, %#x) on wire = %#02x, want %#02x",
				c.ap, c.read, c.addr, got, c.want)
		}
	}
}

func TestSWDWriteWireFormat(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(writeWindow(swdAckOK), swdRespWriteData)

	d.WriteSWDReg(SWDCmd(false, false, 0x4), 0xdeadbeef, 0)
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("RunSWDQueue returned error: %v", err)
	}

	outs := rec.OpsOfKind(mpsse.OpClockDataOut)
	want := []mpsse.Op{
		// Header, LSB-first.
		{Kind: mpsse.OpClockDataOut, Out: []byte{0xa9}, Bits: 8, Mode: mpsse.SWDMode},
		// 32 data bits plus even parity (0xdeadbeef has 24 set bits).
		{Kind: mpsse.OpClockDataOut, Out: []byte{0xef, 0xbe, 0xad, 0xde, 0x00}, Bits: 33, Mode: mpsse.SWDMode},
		// Eight idle clocks before the flush.
		{Kind: mpsse.OpClockDataOut, Bits: 8, Mode: mpsse.SWDMode},
	}
	if diff := cmp.Diff(want, outs); diff != "" {
		t.Fatalf("out ops mismatch (-want +got):\n%s", diff)
	}

	// The response window is captured between two line turnarounds.
	ins := rec.OpsOfKind(mpsse.OpClockDataIn)
	if len(ins) != 1 || ins[0].Bits != swdRespWriteData {
		t.Fatalf("in ops = %+v", ins)
	}
}

func TestSWDReadRoundTrip(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(readWindow(swdAckOK, 0x2ba01477, true), swdRespBits)

	var idcode uint32
	d.ReadSWDReg(SWDCmd(false, true, 0x0), &idcode, 0)
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("RunSWDQueue returned error: %v", err)
	}
	if idcode != 0x2ba01477 {
		t.Fatalf("read value = %#08x, want 0x2ba01477", idcode)
	}

	ins := rec.OpsOfKind(mpsse.OpClockDataIn)
	if len(ins) != 1 || ins[0].Bits != swdRespBits {
		t.Fatalf("in ops = %+v", ins)
	}
	// Line turnarounds bracket the response window.
	lows := rec.OpsOfKind(mpsse.OpSetLow)
	wantDirs := []byte{0x09, 0x0b}
	if len(lows) != len(wantDirs) {
		t.Fatalf("got %d direction flips, want %d", len(lows), len(wantDirs))
	}
	for i, op := range lows {
		if op.Direction != wantDirs[i] {
			t.Fatalf("turnaround %d direction = %#02x, want %#02x", i, op.Direction, wantDirs[i])
		}
	}
}

func TestSWDReadParityMismatch(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(readWindow(swdAckOK, 0x2ba01477, false), swdRespBits)

	var v uint32
	d.ReadSWDReg(SWDCmd(false, true, 0x0), &v, 0)
	err := d.RunSWDQueue()
	var pe *ParityError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want parity error", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("parity error is not a protocol fault")
	}
	if v != 0 {
		t.Fatalf("corrupted read still delivered value %#08x", v)
	}
}

func TestSWDWaitAbortsLaterEntries(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(readWindow(swdAckWait, 0, true), swdRespBits)
	rec.ScriptReadBits(readWindow(swdAckOK, 0x12345678, true), swdRespBits)

	var a, b uint32
	d.ReadSWDReg(SWDCmd(false, true, 0x0), &a, 0)
	d.ReadSWDReg(SWDCmd(false, true, 0x4), &b, 0)
	err := d.RunSWDQueue()

	var ae *AckError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want ack error", err)
	}
	if !ae.Wait() {
		t.Fatalf("ack = %d, want WAIT", ae.Ack)
	}
	if b != 0 {
		t.Fatalf("entry after the fault was still validated: %#08x", b)
	}

	// The error is consumed; the next run starts clean.
	rec.Clear()
	rec.ScriptReadBits(readWindow(swdAckOK, 0x5, true), swdRespBits)
	d.ReadSWDReg(SWDCmd(false, true, 0x0), &a, 0)
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("queue did not recover after fault: %v", err)
	}
	if a != 0x5 {
		t.Fatalf("read after recovery = %#08x", a)
	}
}

// Validation runs in submission order: entries before a fault deliver
// their results, the fault is reported, and destinations after it stay
// untouched.
func TestSWDFaultSplitsDeliveredAndDropped(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(readWindow(swdAckOK, 0x11111111, true), swdRespBits)
	rec.ScriptReadBits(readWindow(swdAckWait, 0, true), swdRespBits)
	rec.ScriptReadBits(readWindow(swdAckOK, 0x33333333, true), swdRespBits)

	var a, b, c uint32
	d.ReadSWDReg(SWDCmd(false, true, 0x0), &a, 0)
	d.ReadSWDReg(SWDCmd(false, true, 0x4), &b, 0)
	d.ReadSWDReg(SWDCmd(false, true, 0x8), &c, 0)
	err := d.RunSWDQueue()

	var ae *AckError
	if !errors.As(err, &ae) || !ae.Wait() {
		t.Fatalf("err = %v, want WAIT ack error", err)
	}
	if a != 0x11111111 {
		t.Fatalf("entry before the fault not delivered: %#08x", a)
	}
	if b != 0 || c != 0 {
		t.Fatalf("entries at and after the fault were written: %#08x %#08x", b, c)
	}
}

// A DP TARGETSEL write gets no acknowledgement from the target; whatever
// sits in the ack bits must not fail the transaction.
func TestSWDTargetSelIgnoresAck(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(writeWindow(0x7), swdRespWriteData)

	d.WriteSWDReg(SWDCmd(false, false, 0xc), 0x01002927, 0)
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("TARGETSEL write failed on junk ack: %v", err)
	}
}

func TestSWDAPDelayClocks(t *testing.T) {
	d, rec := newSWDDriver(t)
	rec.ScriptReadBits(writeWindow(swdAckOK), swdRespWriteData)

	d.WriteSWDReg(SWDCmd(true, false, 0x4), 0x23000052, 8)
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("RunSWDQueue returned error: %v", err)
	}
	outs := rec.OpsOfKind(mpsse.OpClockDataOut)
	// Header, data+parity, AP idle delay, pre-flush idle clocks.
	if len(outs) != 4 {
		t.Fatalf("got %d out ops: %+v", len(outs), outs)
	}
	if outs[2].Bits != 8 || outs[2].Out != nil {
		t.Fatalf("AP delay op = %+v", outs[2])
	}
}

// Filling the queue drains it before growing so the engine never holds
// references into a reallocated backing array.
func TestSWDQueueGrowthDrains(t *testing.T) {
	d, rec := newSWDDriver(t)
	if cap(d.swdq) != swdQueueInitialCap {
		t.Fatalf("initial queue capacity = %d", cap(d.swdq))
	}
	for i := 0; i <= swdQueueInitialCap; i++ {
		rec.ScriptReadBits(writeWindow(swdAckOK), swdRespWriteData)
	}

	cmd := SWDCmd(false, false, 0x4)
	for i := 0; i <= swdQueueInitialCap; i++ {
		d.WriteSWDReg(cmd, uint32(i), 0)
	}
	if rec.Flushes != 1 {
		t.Fatalf("overflowing enqueue flushed %d times, want 1", rec.Flushes)
	}
	if cap(d.swdq) != 2*swdQueueInitialCap {
		t.Fatalf("queue capacity after growth = %d", cap(d.swdq))
	}
	if len(d.swdq) != 1 {
		t.Fatalf("queue length after growth = %d", len(d.swdq))
	}
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("RunSWDQueue returned error: %v", err)
	}
}

func TestSWDDirectionMismatchIsSticky(t *testing.T) {
	d, rec := newSWDDriver(t)
	var v uint32
	d.ReadSWDReg(SWDCmd(false, false, 0x4), &v, 0) // write header passed to read
	rec.Clear()

	// Later enqueues are dropped silently, keeping the first error's
	// attribution.
	d.WriteSWDReg(SWDCmd(false, false, 0x4), 1, 0)
	if len(rec.Ops()) != 0 {
		t.Fatalf("enqueue after sticky error emitted %d ops", len(rec.Ops()))
	}

	err := d.RunSWDQueue()
	if !IsInvariant(err) {
		t.Fatalf("err = %v, want invariant violation", err)
	}
	// Consumed: next run is clean.
	if err := d.RunSWDQueue(); err != nil {
		t.Fatalf("second run returned %v", err)
	}
}

func TestSwitchProtocolSequences(t *testing.T) {
	cases := []struct {
		seq  SwitchSequence
		bits int
	}{
		{LineReset, 64},
		{JTAGToSWD, 136},
		{SWDToJTAG, 80},
	}
	for _, c := range cases {
		d, rec := newSWDDriver(t)
		if err := d.SwitchProtocol(c.seq); err != nil {
			t.Fatalf("SwitchProtocol(%d) returned error: %v", c.seq, err)
		}
		outs := rec.OpsOfKind(mpsse.OpClockDataOut)
		if len(outs) != 1 || outs[0].Bits != c.bits {
			t.Fatalf("sequence %d ops = %+v", c.seq, outs)
		}
	}

	d, _ := newSWDDriver(t)
	if err := d.SwitchProtocol(DormantToSWD); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("dormant sequence: err = %v", err)
	}
}
