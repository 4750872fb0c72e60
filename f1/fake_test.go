// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"fmt"

	"github.com/platinasystems/f1irq/elib/hw"
	"github.com/platinasystems/f1irq/elib/hw/pci"
)

var errInjected = errors.New("injected failure")

// journal records every collaborator call, in order, as a short string.
// A call whose string is in fail returns errInjected after it is recorded.
type journal struct {
	ops  []string
	fail map[string]bool
}

func (j *journal) do(format string, args ...interface{}) error {
	op := fmt.Sprintf(format, args...)
	j.ops = append(j.ops, op)
	if j.fail[op] {
		return errInjected
	}
	return nil
}

func newJournal(fail ...string) *journal {
	j := &journal{fail: make(map[string]bool)}
	for _, op := range fail {
		j.fail[op] = true
	}
	return j
}

const (
	fakeFirstVector = 32
	fakeOclSize     = 0x100
	fakePhys        = 0x123456000
	fakeIova        = 0xfe1230000
)

type fakeBus struct {
	*journal
	dev *fakeDevice
}

func (b *fakeBus) GetDevice(a pci.BusAddress) (pci.Devicer, error) {
	if err := b.do("get"); err != nil {
		return nil, fmt.Errorf("%s: %w", a, pci.ErrNoDevice)
	}
	b.dev.Addr = a
	return b.dev, nil
}

type fakeDevice struct {
	*journal
	pci.Device
	ocl      *journalRegion
	handlers map[uint]pci.IrqHandler
	ids      map[uint]interface{}
}

func (d *fakeDevice) GetDevice() *pci.Device { return &d.Device }
func (d *fakeDevice) Enable() error          { return d.do("enable") }
func (d *fakeDevice) Disable() error         { return d.do("disable") }
func (d *fakeDevice) Put() error             { return d.do("put") }

func (d *fakeDevice) RequestRegion(bar uint, name string) error {
	return d.do("request %d", bar)
}

func (d *fakeDevice) ReleaseRegion(bar uint) error {
	return d.do("release %d", bar)
}

func (d *fakeDevice) MapResource(bar uint) (hw.Region, error) {
	if err := d.do("map %d", bar); err != nil {
		return nil, err
	}
	return d.ocl, nil
}

func (d *fakeDevice) UnmapResource(bar uint) error {
	return d.do("unmap %d", bar)
}

// MapDMA moves the buffer to an iova distinct from its physical address.
func (d *fakeDevice) MapDMA(b *hw.DmaBuffer) error {
	if err := d.do("map dma"); err != nil {
		return err
	}
	b.Phys = fakeIova
	return nil
}

func (d *fakeDevice) UnmapDMA(b *hw.DmaBuffer) error { return d.do("unmap dma") }

func (d *fakeDevice) EnableMSIX(entries []pci.MSIXEntry) error {
	if err := d.do("enable msix %d", len(entries)); err != nil {
		return err
	}
	for i := range entries {
		entries[i].Vector = fakeFirstVector + uint(entries[i].Entry)
	}
	return nil
}

func (d *fakeDevice) DisableMSIX() error { return d.do("disable msix") }

func (d *fakeDevice) RequestIRQ(vector uint, h pci.IrqHandler, name string, id interface{}) error {
	if err := d.do("request irq %d", vector); err != nil {
		return err
	}
	d.handlers[vector] = h
	d.ids[vector] = id
	return nil
}

func (d *fakeDevice) FreeIRQ(vector uint, id interface{}) error {
	if d.ids[vector] != id {
		return fmt.Errorf("free irq %d: wrong id", vector)
	}
	delete(d.handlers, vector)
	delete(d.ids, vector)
	return d.do("free irq %d", vector)
}

type fakeDma struct {
	*journal
}

func (m *fakeDma) DmaAlloc(n uint) (*hw.DmaBuffer, error) {
	if err := m.do("dma alloc %d", n); err != nil {
		return nil, err
	}
	return &hw.DmaBuffer{Data: make([]byte, n), Phys: fakePhys}, nil
}

func (m *fakeDma) DmaFree(b *hw.DmaBuffer) error { return m.do("dma free") }

type fakeChrdev struct {
	*journal
	fops FileOperations
}

func (c *fakeChrdev) AllocRegion(name string) (int, error) {
	if err := c.do("alloc region"); err != nil {
		return 0, err
	}
	return 240, nil
}

func (c *fakeChrdev) Add(major int, fops FileOperations) error {
	if err := c.do("cdev add %d", major); err != nil {
		return err
	}
	c.fops = fops
	return nil
}

func (c *fakeChrdev) Del(major int) error {
	c.fops = nil
	return c.do("cdev del %d", major)
}

func (c *fakeChrdev) UnregisterRegion(major int) error {
	return c.do("unregister region %d", major)
}

type fakePublisher map[string]string

func (p fakePublisher) Publish(field string, value interface{}) error {
	p[field] = fmt.Sprint(value)
	return nil
}

// journalRegion is register memory that records each access.
type journalRegion struct {
	hw.Mem
	accesses []string
}

func newJournalRegion(n int) *journalRegion {
	return &journalRegion{Mem: make(hw.Mem, n)}
}

func (r *journalRegion) Load32(o uint) uint32 {
	r.accesses = append(r.accesses, fmt.Sprintf("peek %v", Reg(o)))
	return r.Mem.Load32(o)
}

func (r *journalRegion) Store32(o uint, v uint32) {
	r.accesses = append(r.accesses, fmt.Sprintf("poke %v 0x%x", Reg(o), v))
	r.Mem.Store32(o, v)
}

type fakePlatform struct {
	*journal
	bus    *fakeBus
	dev    *fakeDevice
	chrdev *fakeChrdev
	pub    fakePublisher
}

func newFakePlatform(fail ...string) *fakePlatform {
	j := newJournal(fail...)
	dev := &fakeDevice{
		journal:  j,
		ocl:      newJournalRegion(fakeOclSize),
		handlers: make(map[uint]pci.IrqHandler),
		ids:      make(map[uint]interface{}),
	}
	dev.ID = pci.DeviceID{Vendor: pci.Amazon, Device: pci.F1AppPF}
	return &fakePlatform{
		journal: j,
		bus:     &fakeBus{journal: j, dev: dev},
		dev:     dev,
		chrdev:  &fakeChrdev{journal: j},
		pub:     make(fakePublisher),
	}
}

func (p *fakePlatform) Platform() Platform {
	return Platform{
		Bus:       p.bus,
		Dma:       &fakeDma{p.journal},
		Chrdev:    p.chrdev,
		Publisher: p.pub,
	}
}
