// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/f1irq/elib/hw"
)

// MSI-X for user space drivers: vfio signals each vector on its own
// eventfd. The device must be bound to vfio-pci and its iommu group viable.
type vfioDevice struct {
	addr BusAddress

	// /dev/vfio/vfio
	container int
	// /dev/vfio/GROUP_NUMBER
	group int
	// device fd from VFIO_GROUP_GET_DEVICE_FD
	device int

	mutex    sync.Mutex
	byVector map[uint]*vfioIrq

	// The container stays open while msix is enabled or any buffer is
	// mapped.
	msix bool
	// Mapping size of each buffer in the iommu.
	dma map[*hw.DmaBuffer]uint64
}

type vfioIrq struct {
	entry uint16
	f     *os.File

	name    string
	handler IrqHandler
	id      interface{}
	done    chan struct{}
}

func vfio_ioctl(fd int, call vfio_ioctl_kind, arg uintptr) (r uintptr, err error) {
	r, _, e := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(call), arg)
	if e != 0 {
		err = fmt.Errorf("%v: %w", call, e)
	}
	return
}

func openVfio(sysfs string, a BusAddress) (v *vfioDevice, err error) {
	v = &vfioDevice{addr: a, container: -1, group: -1, device: -1}
	defer func() {
		if err != nil {
			v.close()
			v = nil
		}
	}()
	s, err := os.Readlink(filepath.Join(sysfs, a.String(), "iommu_group"))
	if err != nil {
		return
	}
	n, err := strconv.ParseUint(filepath.Base(s), 10, 0)
	if err != nil {
		return
	}
	if v.container, err = unix.Open("/dev/vfio/vfio", unix.O_RDWR|unix.O_CLOEXEC, 0); err != nil {
		err = fmt.Errorf("open /dev/vfio/vfio: %w", err)
		return
	}
	var r uintptr
	if r, err = vfio_ioctl(v.container, vfio_get_api_version, 0); err != nil {
		return
	}
	if r != vfio_api_version {
		err = fmt.Errorf("vfio api version %d not supported", r)
		return
	}
	if r, err = vfio_ioctl(v.container, vfio_check_extension, vfio_type1_iommu); err != nil {
		return
	}
	if r == 0 {
		err = errors.New("vfio type 1 iommu not supported by kernel")
		return
	}
	group := fmt.Sprintf("/dev/vfio/%d", n)
	if v.group, err = unix.Open(group, unix.O_RDWR|unix.O_CLOEXEC, 0); err != nil {
		err = fmt.Errorf("open %s: %w", group, err)
		return
	}
	var status vfio_group_status
	status.set_size(unsafe.Sizeof(status))
	if _, err = vfio_ioctl(v.group, vfio_group_get_status, uintptr(unsafe.Pointer(&status))); err != nil {
		return
	}
	// Group must be viable.
	if status.flags&vfio_group_flags_viable == 0 {
		err = fmt.Errorf("vfio group %d is not viable (not all devices are bound for vfio)", n)
		return
	}
	if status.flags&vfio_group_flags_container_set == 0 {
		c := int32(v.container)
		if _, err = vfio_ioctl(v.group, vfio_group_set_container, uintptr(unsafe.Pointer(&c))); err != nil {
			return
		}
	}
	if _, err = vfio_ioctl(v.container, vfio_set_iommu, vfio_type1_iommu); err != nil {
		return
	}
	name := append([]byte(a.String()), 0)
	if r, err = vfio_ioctl(v.group, vfio_group_get_device_fd, uintptr(unsafe.Pointer(&name[0]))); err != nil {
		return
	}
	v.device = int(r)
	return
}

func (v *vfioDevice) msixCount() (uint, error) {
	var info vfio_irq_info
	info.set_size(unsafe.Sizeof(info))
	info.index = vfio_pci_msix_irq_index
	if _, err := vfio_ioctl(v.device, vfio_device_get_irq_info, uintptr(unsafe.Pointer(&info))); err != nil {
		return 0, err
	}
	return uint(info.count), nil
}

func (v *vfioDevice) setIrqs(flags uint, fds []int) error {
	var hdr vfio_irq_set
	n := unsafe.Sizeof(hdr)
	buf := make([]byte, n+4*uintptr(len(fds)))
	p := (*vfio_irq_set)(unsafe.Pointer(&buf[0]))
	p.set(uintptr(len(buf)), flags)
	p.index = vfio_pci_msix_irq_index
	p.count = uint32(len(fds))
	for i, fd := range fds {
		*(*int32)(unsafe.Pointer(&buf[n+4*uintptr(i)])) = int32(fd)
	}
	_, err := vfio_ioctl(v.device, vfio_device_set_irqs, uintptr(unsafe.Pointer(&buf[0])))
	return err
}

// Vectors are identified by the number of the eventfd that signals them.
func (v *vfioDevice) enableMSIX(entries []MSIXEntry) (err error) {
	count, err := v.msixCount()
	if err != nil {
		return
	}
	if count < uint(len(entries)) {
		return fmt.Errorf("%s: vfio msix count %d < %d: %w",
			&v.addr, count, len(entries), unix.ENOSPC)
	}
	max := uint16(0)
	for _, e := range entries {
		if e.Entry >= max {
			max = e.Entry + 1
		}
	}
	fds := make([]int, max)
	for i := range fds {
		fds[i] = -1
	}
	irqs := make(map[uint]*vfioIrq)
	defer func() {
		if err != nil {
			for _, q := range irqs {
				q.f.Close()
			}
		}
	}()
	for i := range entries {
		e := &entries[i]
		var fd int
		if fd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
			return
		}
		q := &vfioIrq{
			entry: e.Entry,
			f:     os.NewFile(uintptr(fd), fmt.Sprint(&v.addr, " msix ", e.Entry)),
		}
		e.Vector = uint(fd)
		irqs[e.Vector] = q
		fds[e.Entry] = fd
	}
	if err = v.setIrqs(vfio_irq_set_data_eventfd|vfio_irq_set_action_trigger, fds); err != nil {
		return
	}
	v.mutex.Lock()
	v.byVector = irqs
	v.mutex.Unlock()
	return
}

func (v *vfioDevice) disableMSIX() error {
	err := v.setIrqs(vfio_irq_set_data_none|vfio_irq_set_action_trigger, nil)
	v.mutex.Lock()
	irqs := v.byVector
	v.byVector = nil
	v.mutex.Unlock()
	for _, q := range irqs {
		if q.handler != nil {
			q.stop()
		}
		q.f.Close()
	}
	return err
}

func (v *vfioDevice) requestIRQ(vector uint, h IrqHandler, name string, id interface{}) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	q, found := v.byVector[vector]
	if !found {
		return fmt.Errorf("%s: %s: vector %d: %w", &v.addr, name, vector, unix.EINVAL)
	}
	if q.handler != nil {
		return fmt.Errorf("%s: %s: vector %d: %w", &v.addr, name, vector, unix.EBUSY)
	}
	q.name, q.handler, q.id = name, h, id
	q.done = make(chan struct{})
	go q.dispatch(vector)
	return nil
}

func (v *vfioDevice) freeIRQ(vector uint, id interface{}) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	q, found := v.byVector[vector]
	if !found || q.handler == nil {
		return fmt.Errorf("%s: vector %d: not requested", &v.addr, vector)
	}
	if q.id != id {
		return fmt.Errorf("%s: %s: vector %d: id mismatch", &v.addr, q.name, vector)
	}
	q.stop()
	return nil
}

// Each eventfd read returns the count of interrupts since the last read;
// the handler runs once per wakeup.
func (q *vfioIrq) dispatch(vector uint) {
	defer close(q.done)
	var b [8]byte
	for {
		if _, err := q.f.Read(b[:]); err != nil {
			return
		}
		q.handler(vector, q.id)
	}
}

func (q *vfioIrq) stop() {
	q.f.SetReadDeadline(time.Unix(1, 0))
	<-q.done
	q.f.SetReadDeadline(time.Time{})
	q.handler, q.id = nil, nil
}

func (v *vfioDevice) inUse() bool { return v.msix || len(v.dma) > 0 }

// Once the container sets the iommu, the device reaches only what is
// mapped. Buffers are mapped at their physical address so that the bus
// address the device is given does not change; a buffer without one is
// mapped at its virtual address.
func (v *vfioDevice) mapDMA(b *hw.DmaBuffer) error {
	if len(b.Data) == 0 {
		return fmt.Errorf("%s: map empty dma buffer: %w", &v.addr, unix.EINVAL)
	}
	vaddr := uint64(uintptr(unsafe.Pointer(&b.Data[0])))
	iova := b.Phys
	if iova == 0 {
		iova = vaddr
	}
	pagesize := uint64(os.Getpagesize())
	m := vfio_iommu_type1_dma_map{
		vaddr: vaddr,
		iova:  iova,
		size:  (uint64(len(b.Data)) + pagesize - 1) &^ (pagesize - 1),
	}
	m.set(unsafe.Sizeof(m), vfio_dma_map_flag_read|vfio_dma_map_flag_write)
	if _, err := vfio_ioctl(v.container, vfio_iommu_map_dma, uintptr(unsafe.Pointer(&m))); err != nil {
		return fmt.Errorf("%s: %v: %w", &v.addr, b, err)
	}
	if v.dma == nil {
		v.dma = make(map[*hw.DmaBuffer]uint64)
	}
	v.dma[b] = m.size
	b.Phys = iova
	return nil
}

func (v *vfioDevice) unmapDMA(b *hw.DmaBuffer) error {
	size, found := v.dma[b]
	if !found {
		return fmt.Errorf("%s: %v: not mapped", &v.addr, b)
	}
	delete(v.dma, b)
	m := vfio_iommu_type1_dma_unmap{iova: b.Phys, size: size}
	m.set(unsafe.Sizeof(m), 0)
	_, err := vfio_ioctl(v.container, vfio_iommu_unmap_dma, uintptr(unsafe.Pointer(&m)))
	return err
}

func (v *vfioDevice) close() {
	for _, fd := range []*int{&v.device, &v.group, &v.container} {
		if *fd >= 0 {
			if fd == &v.group {
				vfio_ioctl(v.group, vfio_group_unset_container, 0)
			}
			unix.Close(*fd)
			*fd = -1
		}
	}
}
