// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgapci attaches to the BARs of F1 FPGA slots through sysfs.
package fpgapci

import (
	"fmt"

	"github.com/platinasystems/log"

	"github.com/platinasystems/f1irq/elib/hw"
	"github.com/platinasystems/f1irq/elib/hw/pci"
	"github.com/platinasystems/f1irq/f1"
	"github.com/platinasystems/f1irq/f1/diag"
)

const (
	AppPF  = 0
	MgmtPF = 1
)

// Finder lists the addresses of devices with the given IDs in slot order.
type Finder interface {
	pci.Bus
	Find(ids ...pci.DeviceID) ([]pci.BusAddress, error)
}

type Attacher struct {
	Bus Finder
}

var Default = &Attacher{Bus: pci.DefaultBus}

// Slots returns the application function address of each FPGA slot.
func (a *Attacher) Slots() (slots []pci.BusAddress, err error) {
	addrs, err := a.Bus.Find(pci.F1AppIDs...)
	if err != nil {
		return
	}
	for _, addr := range addrs {
		if addr.Fn == AppPF {
			slots = append(slots, addr)
		}
	}
	return
}

// Attach maps the bar of physical function pf of the slot'th FPGA.
func (a *Attacher) Attach(slot, pf, bar uint) (diag.Handle, error) {
	slots, err := a.Slots()
	if err != nil {
		return nil, err
	}
	if slot >= uint(len(slots)) {
		return nil, fmt.Errorf("slot %d: %w; found %d", slot,
			f1.ErrDeviceNotFound, len(slots))
	}
	addr := slots[slot]
	addr.Fn = uint8(pf)
	dev, err := a.Bus.GetDevice(addr)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w: %v", slot, f1.ErrDeviceNotFound, err)
	}
	region, err := dev.MapResource(bar)
	if err != nil {
		dev.Put()
		return nil, fmt.Errorf("%s: bar %d: %w: %v", addr, bar, f1.ErrMapFailed, err)
	}
	log.Print("info: fpgapci: attached ", addr, " bar ", bar)
	return &Handle{dev: dev, bar: bar, region: region}, nil
}

// Handle is an attached BAR; offsets are bounds checked.
type Handle struct {
	dev    pci.Devicer
	bar    uint
	region hw.Region
}

func (h *Handle) check(offset uint32) error {
	if h.region == nil {
		return fmt.Errorf("bar %d: detached", h.bar)
	}
	if !hw.InRange(h.region, uint(offset)) {
		return fmt.Errorf("bar %d: 0x%x: beyond %d byte window",
			h.bar, offset, h.region.Len())
	}
	return nil
}

func (h *Handle) Peek(offset uint32) (uint32, error) {
	if err := h.check(offset); err != nil {
		return 0, err
	}
	return h.region.Load32(uint(offset)), nil
}

func (h *Handle) Poke(offset, v uint32) error {
	if err := h.check(offset); err != nil {
		return err
	}
	h.region.Store32(uint(offset), v)
	return nil
}

func (h *Handle) Detach() error {
	if h.region == nil {
		return nil
	}
	h.region = nil
	err := h.dev.UnmapResource(h.bar)
	if xerr := h.dev.Put(); err == nil {
		err = xerr
	}
	return err
}
