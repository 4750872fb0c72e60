// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Generic devices on PCI bus.
package pci

import (
	"errors"
	"fmt"

	"github.com/platinasystems/f1irq/elib/hw"
)

var ErrNoDevice = errors.New("no such pci device")

// Device/vendor ID from PCI config space.
type VendorID uint16
type VendorDeviceID uint16

func (d VendorID) String() string       { return fmt.Sprintf("0x%04x", uint16(d)) }
func (d VendorDeviceID) String() string { return fmt.Sprintf("0x%04x", uint16(d)) }

// Vendor/Device pair
type DeviceID struct {
	Vendor VendorID
	Device VendorDeviceID
}

func (i DeviceID) String() string { return fmt.Sprintf("%v:%v", i.Vendor, i.Device) }

type BusAddress struct {
	Domain        uint16
	Bus, Slot, Fn uint8
}

func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Fn)
}

// Devfn packs slot and function as PCI_DEVFN does.
func (a BusAddress) Devfn() uint8 { return a.Slot<<3 | a.Fn&7 }

func ParseBusAddress(s string) (a BusAddress, err error) {
	_, err = fmt.Sscanf(s, "%x:%x:%x.%x", &a.Domain, &a.Bus, &a.Slot, &a.Fn)
	if err != nil {
		err = fmt.Errorf("%s: %w", s, err)
	}
	return
}

type Resource struct {
	Index      uint32 // index of BAR
	Base, Size uint64
	Mem        hw.Mem
}

func (r Resource) String() string {
	return fmt.Sprintf("{%d: 0x%x-0x%x}", r.Index, r.Base, r.Base+r.Size-1)
}

type Device struct {
	Addr        BusAddress
	ID          DeviceID
	configBytes []byte
	Resources   []Resource
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %v %v", &d.Addr, d.ID.Vendor, d.ID.Device)
}

func (d *Device) VendorID() VendorID       { return d.ID.Vendor }
func (d *Device) DeviceID() VendorDeviceID { return d.ID.Device }

// One MSI-X table entry. Vector is assigned by EnableMSIX.
type MSIXEntry struct {
	Vector uint
	Entry  uint16
}

type IrqReturn int

const (
	IrqNone IrqReturn = iota
	IrqHandled
)

func (r IrqReturn) String() string {
	if r == IrqHandled {
		return "handled"
	}
	return "none"
}

// IrqHandler runs in the vector's interrupt context. It must not block and
// must not share mutable state with process context beyond id.
type IrqHandler func(vector uint, id interface{}) IrqReturn

// Bus finds devices by address.
type Bus interface {
	GetDevice(a BusAddress) (Devicer, error)
}

// Devicer is the set of device operations a driver uses. Each acquire has a
// matching release that the driver calls at most once.
type Devicer interface {
	GetDevice() *Device

	Enable() error
	Disable() error

	// RequestRegion reserves exclusive ownership of a BAR.
	RequestRegion(bar uint, name string) error
	ReleaseRegion(bar uint) error

	MapResource(bar uint) (hw.Region, error)
	UnmapResource(bar uint) error

	// MapDMA makes b reachable by the device and sets b.Phys to the
	// address the device uses for it.
	MapDMA(b *hw.DmaBuffer) error
	UnmapDMA(b *hw.DmaBuffer) error

	// EnableMSIX allocates len(entries) vectors and fills in each Vector.
	EnableMSIX(entries []MSIXEntry) error
	DisableMSIX() error
	RequestIRQ(vector uint, h IrqHandler, name string, id interface{}) error
	FreeIRQ(vector uint, id interface{}) error

	// Put drops the reference obtained from Bus.GetDevice.
	Put() error
}

type Capability uint8

const (
	PowerManagement Capability = iota + 1
	AGP
	VitalProductData
	SlotIdentification
	MSI
	CompactPCIHotSwap
	PCIX
	HyperTransport
	VendorSpecific
	DebugPort
	CompactPciCentralControl
	PCIHotPlugController
	SSVID
	AGP3
	SecureDevice
	PCIE
	MSIX
)

// Common header for capabilities.
type CapabilityHeader struct {
	Capability

	// Pointer to next capability header
	NextCapabilityHeader uint8
}

const capabilityOffset = 0x34

// maxCaps bounds the capability walk; a list with a cycle ends there.
const maxCaps = 48

func (d *Device) ForeachCap(f func(h *CapabilityHeader, offset uint, contents []byte) (done bool, err error)) (err error) {
	l := uint(len(d.configBytes))
	if l <= capabilityOffset {
		return
	}
	o := uint(d.configBytes[capabilityOffset])
	done := false
	for n := 0; n < maxCaps && o >= 0x40 && o+1 < l; n++ {
		var h CapabilityHeader
		h.Capability = Capability(d.configBytes[o+0])
		h.NextCapabilityHeader = d.configBytes[o+1]
		b := d.configBytes[o+0:] // include CapabilityHeader
		done, err = f(&h, o, b)
		if err != nil || done {
			return
		}
		o = uint(h.NextCapabilityHeader)
		if o == 0xff {
			break
		}
	}
	return
}

func (d *Device) FindCap(c Capability) (b []byte, offset uint, found bool) {
	d.ForeachCap(func(h *CapabilityHeader, o uint, contents []byte) (done bool, err error) {
		found = h.Capability == c
		if found {
			b = contents
			offset = o
			done = true
		}
		return
	})
	return
}

// MSIXTableSize returns the number of MSI-X table entries advertised in
// config space, or 0 if the device has no MSI-X capability.
func (d *Device) MSIXTableSize() uint {
	b, _, found := d.FindCap(MSIX)
	if !found || len(b) < 4 {
		return 0
	}
	ctrl := uint(b[2]) | uint(b[3])<<8
	return 1 + ctrl&0x7ff
}
