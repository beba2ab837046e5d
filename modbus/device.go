package modbus

import "github.com/icsguard/honeypot/memimage"

// Device is one logical Modbus slave behind a gateway emulator,
// identified by Unit ID (spec §4.5 Gateway mode).
type Device struct {
	UnitID uint8
	Model  string
	Vendor string

	Image *memimage.ModbusImage
}

// Identity returns the three MEI-14 identity strings (spec §4.5): vendor
// name, product code (the device model), and firmware revision.
func (d *Device) Identity() (vendor, product, revision string) {
	vendor = d.Vendor
	if vendor == "" {
		vendor = "Schneider Electric"
	}
	return vendor, d.Model, "V1.0.0"
}
