// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"encoding/binary"
	"testing"
)

func TestMem(t *testing.T) {
	b := make([]byte, 16)
	m := Mem(b)
	m.Store32(4, 0x44434241)
	if got := string(b[4:8]); got != "ABCD" {
		t.Fatalf("stored %q", got)
	}
	binary.LittleEndian.PutUint32(b[12:], 0xdeadbeef)
	if v := m.Load32(12); v != 0xdeadbeef {
		t.Fatalf("loaded 0x%x", v)
	}
	if m.Len() != 16 {
		t.Fatal("len", m.Len())
	}
}

func TestMemOutOfRange(t *testing.T) {
	m := make(Mem, 8)
	for _, o := range []uint{2, 8, 0x100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("offset 0x%x: no panic", o)
				}
			}()
			m.Load32(o)
		}()
	}
}

func TestInRange(t *testing.T) {
	m := make(Mem, 0x100)
	for _, x := range []struct {
		o  uint
		ok bool
	}{
		{0, true},
		{0xfc, true},
		{0x100, false},
		{0x0a, false},
	} {
		if got := InRange(m, x.o); got != x.ok {
			t.Errorf("InRange(0x%x) = %v", x.o, got)
		}
	}
}

func TestDmaAllocSize(t *testing.T) {
	for _, n := range []uint{0, page_size + 1} {
		if _, err := DefaultPhysmem.DmaAlloc(n); err == nil {
			t.Errorf("DmaAlloc(%d) succeeded", n)
		}
	}
}
