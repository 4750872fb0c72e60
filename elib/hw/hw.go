// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Memory mapped register read/write
package hw

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Region is a window of 32-bit memory-mapped registers, typically a mapped
// PCI BAR. Each Load32 and Store32 is a single 32-bit access; no barrier is
// implied beyond the processor's natural MMIO ordering.
type Region interface {
	Load32(offset uint) uint32
	Store32(offset uint, data uint32)
	// Len is the size of the region in bytes.
	Len() uint
}

// Mem is a Region over a memory mapping.
type Mem []byte

func (m Mem) Len() uint { return uint(len(m)) }

func (m Mem) addr(o uint) *uint32 {
	if o&3 != 0 || o+4 > uint(len(m)) {
		panic(fmt.Errorf("register offset 0x%x outside %d byte region", o, len(m)))
	}
	return (*uint32)(unsafe.Pointer(&m[o]))
}

func (m Mem) Load32(o uint) uint32        { return atomic.LoadUint32(m.addr(o)) }
func (m Mem) Store32(o uint, data uint32) { atomic.StoreUint32(m.addr(o), data) }

// InRange reports whether a 32-bit access at offset o fits within r.
func InRange(r Region, o uint) bool { return o&3 == 0 && o+4 <= r.Len() }
