package mpsse

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQueueSetAndReadDataBits(t *testing.T) {
	var q queue
	q.setDataBits(false, 0x08, 0x0b)
	q.setDataBits(true, 0x20, 0x30)
	var low byte
	q.readDataBits(false, &low)

	want := []byte{0x80, 0x08, 0x0b, 0x82, 0x20, 0x30, 0x81}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}
	if q.readBytes != 1 {
		t.Fatalf("readBytes = %d, want 1", q.readBytes)
	}

	if err := q.distribute([]byte{0xa5}); err != nil {
		t.Fatalf("distribute returned error: %v", err)
	}
	if low != 0xa5 {
		t.Fatalf("low byte = %#02x, want 0xa5", low)
	}
}

func TestQueueClockDataOutByteAndBitChunks(t *testing.T) {
	var q queue
	out := []byte{0x12, 0x34, 0x05}
	q.clockData(out, 0, nil, 0, 19, JTAGMode)

	// 16 bits in byte mode, 3 bits in bit mode. JTAGMode out-only opcode
	// is LSB-first with falling-edge out: 0x19, bit mode 0x1b.
	want := []byte{
		0x19, 0x01, 0x00, 0x12, 0x34,
		0x1b, 0x02, 0x05,
	}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}
	if q.readBytes != 0 || len(q.reads) != 0 {
		t.Fatalf("out-only shift registered reads")
	}
}

func TestQueueClockDataNilOutClocksZeros(t *testing.T) {
	var q queue
	q.clockData(nil, 0, nil, 0, 8, SWDMode)
	// Idle clocking still needs the write flag and a zero payload byte.
	want := []byte{0x19, 0x00, 0x00, 0x00}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueClockDataInRegistersReads(t *testing.T) {
	var q queue
	in := make([]byte, 3)
	q.clockData(nil, 0, in, 2, 18, JTAGMode)

	// 16 bits byte mode (opcode 0x29), 2 bits bit mode (0x2b).
	want := []byte{0x29, 0x01, 0x00, 0x2b, 0x01}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}
	if q.readBytes != 3 {
		t.Fatalf("readBytes = %d, want 3", q.readBytes)
	}

	// Byte chunk delivers 0xff, 0x81; bit chunk delivers two bits (0b10)
	// left-aligned as the chip shifts them in from bit 7.
	if err := q.distribute([]byte{0xff, 0x81, 0x80}); err != nil {
		t.Fatalf("distribute returned error: %v", err)
	}
	// in bits 2..17 = 0xff,0x81; bits 18..19 = 0,1.
	if in[0] != 0xfc || in[1] != 0x07 || in[2] != 0x0a {
		t.Fatalf("in = %02x %02x %02x", in[0], in[1], in[2])
	}
}

func TestQueueClockTMSPacksTDIAndLength(t *testing.T) {
	var q queue
	tms := []byte{0x0b}
	if err := q.clockTMS(tms, 0, nil, 0, 4, true, JTAGMode); err != nil {
		t.Fatalf("clockTMS returned error: %v", err)
	}
	want := []byte{0x4b, 0x03, 0x8b}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}

	if err := q.clockTMS(tms, 0, nil, 0, 8, false, JTAGMode); err == nil {
		t.Fatalf("expected error for 8-bit TMS burst")
	}
}

func TestQueueDistributeShortRead(t *testing.T) {
	var q queue
	in := make([]byte, 2)
	q.clockData(nil, 0, in, 0, 16, JTAGMode)
	if err := q.distribute([]byte{0x00}); err == nil {
		t.Fatalf("expected short-read error")
	}
}

func TestQueueLoopbackAndDivisor(t *testing.T) {
	var q queue
	q.loopback(true)
	q.loopback(false)
	q.setDivisor(0x0002, true, false)
	want := []byte{0x84, 0x85, 0x8a, 0x86, 0x02, 0x00}
	if diff := cmp.Diff(want, q.wr); diff != "" {
		t.Fatalf("wire bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestClockDivisor(t *testing.T) {
	cases := []struct {
		base, hz, div, actual int
	}{
		{60_000_000, 30_000_000, 1, 30_000_000},
		{60_000_000, 1_000_000, 30, 1_000_000},
		{60_000_000, 7_000_000, 5, 6_000_000},
		{12_000_000, 100_000, 60, 100_000},
		{60_000_000, 1, 0x10000, 457},
	}
	for _, c := range cases {
		div := clockDivisor(c.base, c.hz)
		if div != c.div {
			t.Errorf("clockDivisor(%d, %d) = %d, want %d", c.base, c.hz, div, c.div)
		}
		if got := c.base / (2 * div); got != c.actual {
			t.Errorf("achieved %d Hz for request %d, want %d", got, c.hz, c.actual)
		}
	}
}
