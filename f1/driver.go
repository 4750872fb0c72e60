// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package f1 drives the DMA engine and MSI-X vectors of an AWS F1 FPGA
// application function from user space.
package f1

import (
	"fmt"
	"sync"

	"github.com/platinasystems/log"

	"github.com/platinasystems/f1irq/elib/hw"
	"github.com/platinasystems/f1irq/elib/hw/pci"
)

type LifecycleState int

const (
	Absent LifecycleState = iota
	Discovered
	Enabled
	RegionsClaimed
	Mapped
	BufferAllocated
	InterruptsBound
	Ready
	Unloaded
)

var lifecycleStateNames = [...]string{
	Absent:          "absent",
	Discovered:      "discovered",
	Enabled:         "enabled",
	RegionsClaimed:  "regions claimed",
	Mapped:          "mapped",
	BufferAllocated: "buffer allocated",
	InterruptsBound: "interrupts bound",
	Ready:           "ready",
	Unloaded:        "unloaded",
}

func (s LifecycleState) String() string { return lifecycleStateNames[s] }

// Platform supplies the driver's collaborators. Nil members select the
// sysfs bus, pagemap allocator, abstract socket device files, no
// publishing, and Isr.
type Platform struct {
	Bus       pci.Bus
	Dma       hw.DmaAllocator
	Chrdev    Chrdev
	Publisher Publisher
	Handler   pci.IrqHandler
}

func (p *Platform) init() {
	if p.Bus == nil {
		p.Bus = pci.DefaultBus
	}
	if p.Dma == nil {
		p.Dma = hw.DefaultPhysmem
	}
	if p.Chrdev == nil {
		p.Chrdev = &AtsockChrdev{}
	}
	if p.Publisher == nil {
		p.Publisher = nopPublisher{}
	}
	if p.Handler == nil {
		p.Handler = Isr
	}
}

type release struct {
	what string
	f    func() error
}

// Driver is a loaded F1 card. Its Read and Write are the device file
// operations; concurrent writers are not serialized.
type Driver struct {
	Config
	plat Platform

	dev   pci.Devicer
	ocl   Ocl
	buf   *hw.DmaBuffer
	major int
	irqs  *Interrupts

	mutex    sync.Mutex
	state    LifecycleState
	releases []release
}

// Load acquires, in order, the device, its DDR and OCL regions, the OCL
// mapping, the DMA buffer and its device mapping, a device file, and the
// MSI-X vectors. If any
// step fails, everything already acquired is released in reverse order.
func Load(cfg *Config, p Platform) (*Driver, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	p.init()
	d := &Driver{Config: *cfg, plat: p}
	if err := d.load(); err != nil {
		log.Print("err: ", d.Name, ": ", err)
		d.unwind()
		d.setState(Absent)
		return nil, err
	}
	d.setState(Ready)
	return d, nil
}

func (d *Driver) load() (err error) {
	a := d.Address()
	log.Print("notice: ", d.Name, ": installing ", a)

	d.dev, err = d.plat.Bus.GetDevice(a)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	d.push("put device", d.dev.Put)
	d.setState(Discovered)
	log.Print("info: ", d.Name, ": vendor: ", d.dev.GetDevice().VendorID(),
		", device: ", d.dev.GetDevice().DeviceID())

	if err = d.dev.Enable(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEnableFailed, a, err)
	}
	d.push("disable device", d.dev.Disable)
	d.setState(Enabled)

	for _, r := range []struct {
		name string
		bar  uint
	}{
		{"DDR Region", d.DdrBar},
		{"OCL Region", d.OclBar},
	} {
		bar := r.bar
		if err = d.dev.RequestRegion(bar, r.name); err != nil {
			return &RegionClaimError{r.name, bar, err}
		}
		d.push("release "+r.name, func() error {
			return d.dev.ReleaseRegion(bar)
		})
	}
	d.setState(RegionsClaimed)

	region, err := d.dev.MapResource(d.OclBar)
	if err != nil {
		return fmt.Errorf("%w: bar %d: %v", ErrMapFailed, d.OclBar, err)
	}
	d.ocl = Ocl{region}
	d.push("unmap OCL", func() error {
		return d.dev.UnmapResource(d.OclBar)
	})
	d.setState(Mapped)

	if d.buf, err = d.plat.Dma.DmaAlloc(BufferSize); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferAllocFailed, err)
	}
	d.push("free DMA buffer", func() error {
		return d.plat.Dma.DmaFree(d.buf)
	})
	if err = d.dev.MapDMA(d.buf); err != nil {
		return fmt.Errorf("%w: DMA buffer: %v", ErrMapFailed, err)
	}
	d.push("unmap DMA buffer", func() error {
		return d.dev.UnmapDMA(d.buf)
	})
	d.setState(BufferAllocated)
	log.Print("info: ", d.Name, ": buffer: ", d.buf)

	if d.major, err = d.plat.Chrdev.AllocRegion(d.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrMajorNumberUnavailable, err)
	}
	d.push("unregister region", func() error {
		return d.plat.Chrdev.UnregisterRegion(d.major)
	})
	log.Print("info: ", d.Name, ": major number: ", d.major)
	publish(d.plat.Publisher, "major", d.major)

	if err = d.plat.Chrdev.Add(d.major, d); err != nil {
		return fmt.Errorf("%w: %v", ErrCharDeviceRegistrationFailed, err)
	}
	d.push("delete cdev", func() error {
		return d.plat.Chrdev.Del(d.major)
	})

	d.irqs = NewInterrupts(d.dev, d.Name, BindingID(a), d.plat.Handler, d.MSIX)
	if err = d.irqs.Setup(); err != nil {
		return err
	}
	d.push("free irqs", d.irqs.Teardown)
	d.setState(InterruptsBound)
	publish(d.plat.Publisher, "irq", d.irqs.State())
	return nil
}

func (d *Driver) push(what string, f func() error) {
	d.releases = append(d.releases, release{what, f})
}

// unwind runs each release once, newest first, and returns the first
// error.
func (d *Driver) unwind() (err error) {
	for i := len(d.releases) - 1; i >= 0; i-- {
		r := d.releases[i]
		d.releases = d.releases[:i]
		if xerr := r.f(); xerr != nil {
			log.Print("warning: ", d.Name, ": ", r.what, ": ", xerr)
			if err == nil {
				err = fmt.Errorf("%s: %w", r.what, xerr)
			}
		}
	}
	return
}

func (d *Driver) setState(s LifecycleState) {
	d.mutex.Lock()
	d.state = s
	d.mutex.Unlock()
	publish(d.plat.Publisher, "state", s)
}

func (d *Driver) State() LifecycleState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Unload releases everything Load acquired in reverse order. Later calls
// do nothing.
func (d *Driver) Unload() error {
	d.mutex.Lock()
	if d.state == Unloaded {
		d.mutex.Unlock()
		return nil
	}
	d.mutex.Unlock()
	log.Print("notice: ", d.Name, ": removing")
	err := d.unwind()
	d.setState(Unloaded)
	return err
}

func (d *Driver) Major() int              { return d.major }
func (d *Driver) Ocl() Ocl                { return d.ocl }
func (d *Driver) Buffer() *hw.DmaBuffer   { return d.buf }
func (d *Driver) Interrupts() *Interrupts { return d.irqs }

// RunSelfTest runs one DMA self-test on the driver's buffer.
func (d *Driver) RunSelfTest() (res SelfTestResult, err error) {
	if s := d.State(); s != Ready {
		return res, fmt.Errorf("%w: %v", ErrNotReady, s)
	}
	res, err = d.ocl.SelfTest(d.buf.Phys, SelfTestPattern)
	if err != nil {
		return
	}
	publish(d.plat.Publisher, "selftest.status", res.Status)
	publish(d.plat.Publisher, "selftest.wr_cycles", res.WrCycles)
	publish(d.plat.Publisher, "selftest.rd_cycles", res.RdCycles)
	return
}

func (d *Driver) Open() error {
	log.Print("notice: ", d.Name, " opened")
	return nil
}

func (d *Driver) Release() error {
	log.Print("notice: ", d.Name, " closed")
	return nil
}

// Read copies from the start of the DMA buffer.
func (d *Driver) Read(p []byte) (int, error) {
	log.Print("info: ", d.Name, ": user read size: ", len(p))
	return copy(p, d.buf.Data[:transfer(len(p))]), nil
}

// Write copies to the start of the DMA buffer, then, unless the first byte
// is '0', runs the self-test. A failed self-test is logged; the write
// still succeeds.
func (d *Driver) Write(p []byte) (int, error) {
	log.Print("info: ", d.Name, ": user write size: ", len(p))
	n := copy(d.buf.Data, p[:transfer(len(p))])
	if len(p) > 0 && p[0] != '0' {
		d.RunSelfTest()
	}
	return n, nil
}
