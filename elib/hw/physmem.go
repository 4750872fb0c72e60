// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	log2_page_size = 12
	page_size      = 1 << log2_page_size
)

// DmaBuffer is memory that a device may read and write by bus address.
// It is physically contiguous and never paged out while allocated.
type DmaBuffer struct {
	Data []byte
	// Bus address of Data[0]: physical, unless a device has mapped the
	// buffer through an iommu.
	Phys uint64
}

func (b *DmaBuffer) String() string {
	return fmt.Sprintf("{%d bytes @ phys 0x%x}", len(b.Data), b.Phys)
}

type DmaAllocator interface {
	DmaAlloc(n uint) (*DmaBuffer, error)
	DmaFree(b *DmaBuffer) error
}

// Physmem allocates locked anonymous pages and resolves their physical
// address through /proc/self/pagemap; reading frame numbers requires
// CAP_SYS_ADMIN. Allocations are limited to one page so that the buffer is
// physically contiguous.
type Physmem struct {
	Pagemap string
}

var DefaultPhysmem = &Physmem{Pagemap: "/proc/self/pagemap"}

func (m *Physmem) DmaAlloc(n uint) (b *DmaBuffer, err error) {
	if n == 0 || n > page_size {
		return nil, fmt.Errorf("dma alloc %d bytes: must be 1 to %d",
			n, page_size)
	}
	data, err := unix.Mmap(-1, 0, page_size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_LOCKED|unix.MAP_POPULATE)
	if err != nil {
		return nil, fmt.Errorf("dma alloc: mmap: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Munmap(data)
		}
	}()
	if err = unix.Mlock(data); err != nil {
		return nil, fmt.Errorf("dma alloc: mlock: %w", err)
	}
	b = &DmaBuffer{Data: data[:n]}
	if b.Phys, err = m.physAddress(data); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Physmem) DmaFree(b *DmaBuffer) error {
	if b == nil || b.Data == nil {
		return nil
	}
	data := b.Data[:page_size:page_size]
	b.Data = nil
	unix.Munlock(data)
	return unix.Munmap(data)
}

func (m *Physmem) physAddress(data []byte) (uint64, error) {
	f, err := os.Open(m.Pagemap)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var b [8]byte
	a := uint64(uintptr(unsafe.Pointer(&data[0])))
	pfn := a >> log2_page_size
	if _, err = f.ReadAt(b[:], int64(pfn*8)); err != nil {
		return 0, fmt.Errorf("%s: %w", m.Pagemap, err)
	}
	v := binary.LittleEndian.Uint64(b[:])
	// Bit 63 page present; bits 0-54 are the page frame number.
	if v&(1<<63) == 0 {
		return 0, fmt.Errorf("%s: page 0x%x not present", m.Pagemap, a)
	}
	pfn = v & (1<<55 - 1)
	if pfn == 0 {
		return 0, fmt.Errorf("%s: page frame hidden; need CAP_SYS_ADMIN",
			m.Pagemap)
	}
	return pfn<<log2_page_size | a&(page_size-1), nil
}
