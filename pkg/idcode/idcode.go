// Package idcode decodes IEEE 1149.1 device identification registers.
package idcode

import "fmt"

// IDCode is a parsed 32-bit identification register value.
type IDCode struct {
	Raw              uint32
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1], JEP106
	HasIDCode        bool   // bit 0 must read 1
}

// Manufacturer is one JEP106 manufacturer identity.
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
	Country      string
}

// Parse splits a raw identification register value into its fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xf),
		PartNumber:       uint16((raw >> 12) & 0xffff),
		ManufacturerCode: uint16((raw >> 1) & 0x7ff),
		HasIDCode:        raw&0x1 == 0x1,
	}
}

// Valid reports whether the value can be a real IDCODE: the marker bit is
// set and the register is neither stuck-low nor stuck-high.
func (id IDCode) Valid() bool {
	return id.HasIDCode && id.Raw != 0xffffffff
}

func (id IDCode) String() string {
	if !id.Valid() {
		return fmt.Sprintf("0x%08x (invalid)", id.Raw)
	}
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return fmt.Sprintf("0x%08x (%s part 0x%04x rev %d)",
		id.Raw, m.Abbreviation, id.PartNumber, id.Version)
}
