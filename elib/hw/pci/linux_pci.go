// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

// Linux PCI code

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/f1irq/elib/hw"
)

const sysBusPciPath = "/sys/bus/pci/devices"

// SysfsBus finds devices under /sys/bus/pci/devices.
type SysfsBus struct {
	Path string
}

var DefaultBus = &SysfsBus{Path: sysBusPciPath}

func (bus *SysfsBus) path() string {
	if len(bus.Path) == 0 {
		return sysBusPciPath
	}
	return bus.Path
}

type sysfsDevice struct {
	Device

	bus *SysfsBus

	mutex   sync.Mutex
	regions map[uint]*os.File
	vfio    *vfioDevice
}

func (d *sysfsDevice) GetDevice() *Device { return &d.Device }

func (d *sysfsDevice) SysfsPath(format string, args ...interface{}) (path string) {
	path = filepath.Join(d.bus.path(), d.Addr.String(), fmt.Sprintf(format, args...))
	return
}

func (d *sysfsDevice) SysfsOpenFile(format string, mode int, args ...interface{}) (f *os.File, err error) {
	fn := d.SysfsPath(format, args...)
	f, err = os.OpenFile(fn, mode, 0)
	return
}

func (d *sysfsDevice) SysfsReadHexFile(format string, args ...interface{}) (v uint, err error) {
	b, err := ioutil.ReadFile(d.SysfsPath(format, args...))
	if err != nil {
		return
	}
	if _, err = fmt.Sscanf(string(bytes.TrimSpace(b)), "0x%x", &v); err != nil {
		err = fmt.Errorf("%s: %w", d.SysfsPath(format, args...), err)
	}
	return
}

func (d *sysfsDevice) sysfsWrite(name, s string) error {
	return ioutil.WriteFile(d.SysfsPath(name), []byte(s), 0)
}

// GetDevice looks up a device by address, reading its IDs, config space,
// and BAR resources. It returns ErrNoDevice if the address isn't present.
func (bus *SysfsBus) GetDevice(a BusAddress) (Devicer, error) {
	d := &sysfsDevice{
		Device: Device{Addr: a},
		bus:    bus,
	}
	if _, err := os.Stat(d.SysfsPath("")); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", a, ErrNoDevice)
		}
		return nil, err
	}
	var v [2]uint
	var err error
	if v[0], err = d.SysfsReadHexFile("vendor"); err != nil {
		return nil, err
	}
	if v[1], err = d.SysfsReadHexFile("device"); err != nil {
		return nil, err
	}
	d.ID = DeviceID{Vendor: VendorID(v[0]), Device: VendorDeviceID(v[1])}
	// Unprivileged readers only see the standard header.
	if d.configBytes, err = ioutil.ReadFile(d.SysfsPath("config")); err != nil {
		return nil, err
	}
	if err = d.findResources(); err != nil {
		return nil, err
	}
	return d, nil
}

// Find returns the addresses of devices with any of the given IDs, sorted.
func (bus *SysfsBus) Find(ids ...DeviceID) (addrs []BusAddress, err error) {
	fis, err := ioutil.ReadDir(bus.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return
	}
	for _, fi := range fis {
		a, err := ParseBusAddress(fi.Name())
		if err != nil {
			continue
		}
		d := &sysfsDevice{Device: Device{Addr: a}, bus: bus}
		var v [2]uint
		if v[0], err = d.SysfsReadHexFile("vendor"); err != nil {
			continue
		}
		if v[1], err = d.SysfsReadHexFile("device"); err != nil {
			continue
		}
		id := DeviceID{Vendor: VendorID(v[0]), Device: VendorDeviceID(v[1])}
		for _, x := range ids {
			if x == id {
				addrs = append(addrs, a)
				break
			}
		}
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return
}

// Loop through BARs to find resources.
func (d *sysfsDevice) findResources() (err error) {
	var b []byte
	if b, err = ioutil.ReadFile(d.SysfsPath("resource")); err != nil {
		return
	}
	r := bytes.NewReader(b)
	i := 0
	for r.Len() > 0 {
		var (
			v [3]uint64
			n int
		)
		if n, err = fmt.Fscanf(r, "0x%x 0x%x 0x%x\n", &v[0], &v[1], &v[2]); n != 3 || err != nil {
			if n != 3 {
				err = fmt.Errorf("%s: short read", d.SysfsPath("resource"))
			}
			return
		}
		size := v[0]
		if v[0] != 0 {
			size = 1 + v[1] - v[0]
		}
		res := Resource{
			Index: uint32(i),
			Base:  v[0],
			Size:  size,
		}
		d.Resources = append(d.Resources, res)
		i++
	}
	return
}

func (d *sysfsDevice) resource(bar uint) (*Resource, error) {
	if bar >= uint(len(d.Resources)) || d.Resources[bar].Size == 0 {
		return nil, fmt.Errorf("%s: bar %d: not implemented", &d.Addr, bar)
	}
	return &d.Resources[bar], nil
}

func (d *sysfsDevice) Enable() error  { return d.sysfsWrite("enable", "1") }
func (d *sysfsDevice) Disable() error { return d.sysfsWrite("enable", "0") }

// RequestRegion takes an exclusive, non-blocking lock on the BAR's sysfs
// resource file; a second claimant gets EWOULDBLOCK until it's released.
func (d *sysfsDevice) RequestRegion(bar uint, name string) (err error) {
	if _, err = d.resource(bar); err != nil {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, busy := d.regions[bar]; busy {
		return fmt.Errorf("%s: %s: bar %d: %w", &d.Addr, name, bar, unix.EBUSY)
	}
	f, err := d.SysfsOpenFile("resource%d", os.O_RDWR|os.O_SYNC, bar)
	if err != nil {
		return
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("%s: %s: bar %d: %w", &d.Addr, name, bar, err)
	}
	if d.regions == nil {
		d.regions = make(map[uint]*os.File)
	}
	d.regions[bar] = f
	return
}

func (d *sysfsDevice) ReleaseRegion(bar uint) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	f, found := d.regions[bar]
	if !found {
		return fmt.Errorf("%s: bar %d: region not requested", &d.Addr, bar)
	}
	delete(d.regions, bar)
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}

// MapResource maps the entire BAR.
func (d *sysfsDevice) MapResource(bar uint) (hw.Region, error) {
	r, err := d.resource(bar)
	if err != nil {
		return nil, err
	}
	if r.Mem != nil {
		return nil, fmt.Errorf("%s: resource%d: already mapped", &d.Addr, bar)
	}
	f, err := d.SysfsOpenFile("resource%d", os.O_RDWR|os.O_SYNC, bar)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := unix.Mmap(int(f.Fd()), 0, int(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap resource%d: %w", r.Index, err)
	}
	r.Mem = hw.Mem(b)
	return r.Mem, nil
}

func (d *sysfsDevice) UnmapResource(bar uint) (err error) {
	r, err := d.resource(bar)
	if err != nil {
		return
	}
	if r.Mem != nil {
		b := []byte(r.Mem)
		r.Mem = nil
		if err = unix.Munmap(b); err != nil {
			return fmt.Errorf("munmap resource%d: %w", bar, err)
		}
	}
	return
}

func (d *sysfsDevice) getVfio() (err error) {
	if d.vfio == nil {
		d.vfio, err = openVfio(d.bus.path(), d.Addr)
	}
	return
}

func (d *sysfsDevice) putVfio() {
	if d.vfio != nil && !d.vfio.inUse() {
		d.vfio.close()
		d.vfio = nil
	}
}

func (d *sysfsDevice) EnableMSIX(entries []MSIXEntry) (err error) {
	if n := d.MSIXTableSize(); n < uint(len(entries)) {
		return fmt.Errorf("%s: msix table has %d of %d entries: %w",
			&d.Addr, n, len(entries), unix.ENOSPC)
	}
	if err = d.getVfio(); err != nil {
		return
	}
	if err = d.vfio.enableMSIX(entries); err != nil {
		d.putVfio()
		return
	}
	d.vfio.msix = true
	return
}

func (d *sysfsDevice) DisableMSIX() (err error) {
	if d.vfio == nil || !d.vfio.msix {
		return fmt.Errorf("%s: msix not enabled", &d.Addr)
	}
	err = d.vfio.disableMSIX()
	d.vfio.msix = false
	d.putVfio()
	return
}

// vfioBound reports whether the device is bound to vfio-pci, where its
// iommu group belongs to a user container. Otherwise the kernel's dma
// domain applies and bus addresses are physical.
func (d *sysfsDevice) vfioBound() bool {
	s, err := os.Readlink(d.SysfsPath("driver"))
	return err == nil && filepath.Base(s) == "vfio-pci"
}

// MapDMA maps b into the device's iommu container and sets b.Phys to the
// address the device must use. A device that is not bound to vfio-pci
// reaches physical memory and b is left alone.
func (d *sysfsDevice) MapDMA(b *hw.DmaBuffer) (err error) {
	if !d.vfioBound() {
		return nil
	}
	if err = d.getVfio(); err != nil {
		return
	}
	if err = d.vfio.mapDMA(b); err != nil {
		d.putVfio()
	}
	return
}

func (d *sysfsDevice) UnmapDMA(b *hw.DmaBuffer) (err error) {
	if d.vfio == nil {
		return nil
	}
	if _, found := d.vfio.dma[b]; !found {
		return nil
	}
	err = d.vfio.unmapDMA(b)
	d.putVfio()
	return
}

func (d *sysfsDevice) RequestIRQ(vector uint, h IrqHandler, name string, id interface{}) error {
	if d.vfio == nil {
		return fmt.Errorf("%s: %s: vector %d: msix not enabled", &d.Addr, name, vector)
	}
	return d.vfio.requestIRQ(vector, h, name, id)
}

func (d *sysfsDevice) FreeIRQ(vector uint, id interface{}) error {
	if d.vfio == nil {
		return fmt.Errorf("%s: vector %d: msix not enabled", &d.Addr, vector)
	}
	return d.vfio.freeIRQ(vector, id)
}

// Put releases anything the driver left held.
func (d *sysfsDevice) Put() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var held []string
	for bar, f := range d.regions {
		f.Close()
		held = append(held, fmt.Sprint("resource", bar))
	}
	d.regions = nil
	if len(held) > 0 {
		return fmt.Errorf("%s: put with %s held", &d.Addr,
			strings.Join(held, ", "))
	}
	return nil
}
