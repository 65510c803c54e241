package mpsse

import (
	"fmt"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// FTDI vendor requests used to put a channel into MPSSE mode.
const (
	reqReset        = 0x00
	reqSetLatency   = 0x09
	reqSetBitmode   = 0x0b
	resetSIO        = 0x0000
	bitmodeMPSSE    = 0x0200
	defaultLatency  = 255
	writeChunkLimit = 4096
)

// OpenConfig selects the FTDI device and channel to attach to. VIDPIDs may
// hold up to 8 candidate pairs; the first match wins. Description, Serial
// and Location are optional additional filters.
type OpenConfig struct {
	VIDPIDs     [][2]uint16
	Description string
	Serial      string
	Location    string
	Channel     uint8
}

// DeviceInfo describes one matching FTDI device found on the bus.
type DeviceInfo struct {
	VID, PID uint16
	Bus      int
	Address  int
	Product  string
	Serial   string
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x bus %d addr %d %q serial %q",
		d.VID, d.PID, d.Bus, d.Address, d.Product, d.Serial)
}

// Device is the gousb-backed Engine implementation.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	channel     uint8
	highSpeed   bool
	maxPacket   int
	frequencyHz int

	q        queue
	deferred error
}

var _ Engine = (*Device)(nil)

func matchVIDPID(pairs [][2]uint16, desc *gousb.DeviceDesc) bool {
	for _, p := range pairs {
		if desc.Vendor == gousb.ID(p[0]) && desc.Product == gousb.ID(p[1]) {
			return true
		}
	}
	return false
}

// ListDevices enumerates attached devices matching any of the configured
// VID/PID pairs.
func ListDevices(cfg OpenConfig) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []DeviceInfo
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matchVIDPID(cfg.VIDPIDs, desc)
	})
	for _, dev := range devs {
		info := DeviceInfo{
			VID:     uint16(dev.Desc.Vendor),
			PID:     uint16(dev.Desc.Product),
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
		}
		info.Product, _ = dev.Product()
		info.Serial, _ = dev.SerialNumber()
		found = append(found, info)
		dev.Close()
	}
	if err != nil && err != gousb.ErrorAccess {
		return found, err
	}
	return found, nil
}

// Open finds the first matching FTDI device, claims the requested channel's
// interface and switches it into MPSSE mode.
func Open(cfg OpenConfig) (*Device, error) {
	if len(cfg.VIDPIDs) == 0 {
		return nil, fmt.Errorf("mpsse: no VID/PID pairs configured")
	}
	if cfg.Channel > 3 {
		return nil, fmt.Errorf("mpsse: channel %d out of range 0-3", cfg.Channel)
	}

	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matchVIDPID(cfg.VIDPIDs, desc)
	})
	if err != nil && err != gousb.ErrorAccess {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("mpsse: enumerating devices: %w", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && deviceMatches(d, cfg) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("mpsse: no matching device found")
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debugf("mpsse: auto-detach not supported: %v", err)
	}

	d := &Device{
		ctx:     ctx,
		dev:     dev,
		channel: cfg.Channel,
		// bcdDevice 0x0700/0x0800/0x0900 are the 60 MHz H parts.
		highSpeed: dev.Desc.Device >= 0x0700,
	}

	if err := d.claim(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	if err := d.setupMPSSE(); err != nil {
		d.Close()
		return nil, err
	}

	log.Infof("mpsse: opened %04x:%04x channel %d (%s)",
		uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), cfg.Channel,
		map[bool]string{true: "high-speed", false: "full-speed"}[d.highSpeed])
	return d, nil
}

func deviceMatches(dev *gousb.Device, cfg OpenConfig) bool {
	if cfg.Description != "" {
		product, err := dev.Product()
		if err != nil || product != cfg.Description {
			return false
		}
	}
	if cfg.Serial != "" {
		serial, err := dev.SerialNumber()
		if err != nil || serial != cfg.Serial {
			return false
		}
	}
	if cfg.Location != "" {
		loc := fmt.Sprintf("%d:%d", dev.Desc.Bus, dev.Desc.Address)
		if loc != cfg.Location {
			return false
		}
	}
	return true
}

func (d *Device) claim() error {
	cfg, err := d.dev.Config(1)
	if err != nil {
		return fmt.Errorf("mpsse: selecting configuration: %w", err)
	}
	d.cfg = cfg

	intf, err := cfg.Interface(int(d.channel), 0)
	if err != nil {
		return fmt.Errorf("mpsse: claiming interface %d: %w", d.channel, err)
	}
	d.intf = intf

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			in, err := intf.InEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("mpsse: opening IN endpoint: %w", err)
			}
			d.epIn = in
			d.maxPacket = ep.MaxPacketSize
		} else {
			out, err := intf.OutEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("mpsse: opening OUT endpoint: %w", err)
			}
			d.epOut = out
		}
	}
	if d.epIn == nil || d.epOut == nil {
		return fmt.Errorf("mpsse: bulk endpoints not found on interface %d", d.channel)
	}
	return nil
}

// ftdiControl issues one of the FTDI vendor requests against our channel.
// The wIndex low byte is the 1-based port number.
func (d *Device) ftdiControl(request uint8, value uint16) error {
	_, err := d.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, value, uint16(d.channel)+1, nil)
	return err
}

func (d *Device) setupMPSSE() error {
	if err := d.ftdiControl(reqReset, resetSIO); err != nil {
		return fmt.Errorf("mpsse: resetting channel: %w", err)
	}
	if err := d.ftdiControl(reqSetLatency, defaultLatency); err != nil {
		return fmt.Errorf("mpsse: setting latency timer: %w", err)
	}
	if err := d.ftdiControl(reqSetBitmode, bitmodeMPSSE); err != nil {
		return fmt.Errorf("mpsse: enabling MPSSE mode: %w", err)
	}
	return nil
}

func (d *Device) SetDataBitsLowByte(value, direction byte) {
	d.q.setDataBits(false, value, direction)
	d.flushIfFull()
}

func (d *Device) SetDataBitsHighByte(value, direction byte) {
	d.q.setDataBits(true, value, direction)
	d.flushIfFull()
}

func (d *Device) ReadDataBitsLowByte(dst *byte) {
	d.q.readDataBits(false, dst)
}

func (d *Device) ReadDataBitsHighByte(dst *byte) {
	d.q.readDataBits(true, dst)
}

func (d *Device) ClockData(out []byte, outOffset int, in []byte, inOffset, length int, mode Mode) {
	d.q.clockData(out, outOffset, in, inOffset, length, mode)
	d.flushIfFull()
}

func (d *Device) ClockDataOut(out []byte, offset, length int, mode Mode) {
	d.q.clockData(out, offset, nil, 0, length, mode)
	d.flushIfFull()
}

func (d *Device) ClockDataIn(in []byte, offset, length int, mode Mode) {
	d.q.clockData(nil, 0, in, offset, length, mode)
	d.flushIfFull()
}

func (d *Device) ClockTMS(tms []byte, offset int, in []byte, inOffset, length int, tdi bool, mode Mode) {
	if err := d.q.clockTMS(tms, offset, in, inOffset, length, tdi, mode); err != nil && d.deferred == nil {
		d.deferred = err
	}
	d.flushIfFull()
}

func (d *Device) ClockTMSOut(tms []byte, offset, length int, tdi bool, mode Mode) {
	d.ClockTMS(tms, offset, nil, 0, length, tdi, mode)
}

func (d *Device) Loopback(enable bool) {
	d.q.loopback(enable)
}

// SetFrequency programs the TCK divisor and reports the achieved frequency.
// H parts run the prescaler from a 60 MHz base once divide-by-5 is off;
// classic parts divide 12 MHz.
func (d *Device) SetFrequency(hz int) (int, error) {
	if hz <= 0 {
		return 0, fmt.Errorf("mpsse: invalid frequency %d Hz", hz)
	}
	base := 12_000_000
	if d.highSpeed {
		base = 60_000_000
	}
	div := clockDivisor(base, hz)
	d.q.setDivisor(uint16(div-1), d.highSpeed, false)
	if err := d.Flush(); err != nil {
		return 0, err
	}
	actual := base / (2 * div)
	d.frequencyHz = actual
	log.Debugf("mpsse: requested %d Hz, achieved %d Hz (divisor %d)", hz, actual, div)
	return actual, nil
}

// flushIfFull keeps the queued transfer under the chunk limit. A failure
// here is held until the caller's next explicit Flush.
func (d *Device) flushIfFull() {
	if len(d.q.wr) < writeChunkLimit {
		return
	}
	if err := d.Flush(); err != nil && d.deferred == nil {
		d.deferred = err
	}
}

// Flush writes the queued commands in one transfer, then collects the
// expected read-back bytes and distributes them to their destinations.
// FTDI bulk IN data carries two modem-status bytes at the start of every
// packet, which are stripped here.
func (d *Device) Flush() error {
	if d.deferred != nil {
		err := d.deferred
		d.deferred = nil
		d.q.reset()
		return err
	}
	if len(d.q.wr) == 0 && d.q.readBytes == 0 {
		return nil
	}
	if d.q.readBytes > 0 {
		d.q.sendImmediate()
	}

	if _, err := d.epOut.Write(d.q.wr); err != nil {
		d.q.reset()
		return fmt.Errorf("mpsse: bulk write failed: %w", err)
	}

	var data []byte
	if d.q.readBytes > 0 {
		packet := make([]byte, d.maxPacket)
		for len(data) < d.q.readBytes {
			n, err := d.epIn.Read(packet)
			if err != nil {
				d.q.reset()
				return fmt.Errorf("mpsse: bulk read failed: %w", err)
			}
			if n > 2 {
				data = append(data, packet[2:n]...)
			}
		}
	}

	err := d.q.distribute(data)
	d.q.reset()
	return err
}

func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}
