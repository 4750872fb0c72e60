// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"testing"

	"github.com/platinasystems/f1irq/elib/hw/pci"
)

func TestInterrupts(t *testing.T) {
	p := newFakePlatform()
	id := BindingID(pci.BusAddress{Slot: 0x0f})
	m := NewInterrupts(p.dev, DefaultName, id, nil, MSIXRequired)
	if s := m.State(); s != IrqUnbound {
		t.Fatal(s)
	}
	if err := m.Setup(); err != nil {
		t.Fatal(err)
	}
	if s := m.State(); s != IrqAllBound {
		t.Fatal(s)
	}
	for i, e := range m.Entries {
		if e.Entry != uint16(i) || e.Vector != fakeFirstVector+uint(i) {
			t.Fatal(i, e)
		}
	}
	if r := p.dev.handlers[fakeFirstVector](fakeFirstVector, id); r != pci.IrqHandled {
		t.Fatal(r)
	}
	if err := m.Teardown(); err != nil {
		t.Fatal(err)
	}
	if s := m.State(); s != IrqUnbound || len(p.dev.handlers) != 0 {
		t.Fatal(s, p.dev.handlers)
	}
	p.ops = nil
	if err := m.Teardown(); err != nil || len(p.ops) != 0 {
		t.Fatal("second teardown:", err, p.ops)
	}
}

func TestInterruptsRequired(t *testing.T) {
	p := newFakePlatform("request irq 34")
	m := NewInterrupts(p.dev, DefaultName, nil, nil, MSIXRequired)
	err := m.Setup()
	if !errors.Is(err, ErrInterruptAllocationFailed) {
		t.Fatal(err)
	}
	if Status(err) != -28 {
		t.Fatal("status", Status(err))
	}
	if s := m.State(); s != IrqUnbound || len(p.dev.handlers) != 0 {
		t.Fatal(s, p.dev.handlers)
	}
}

func TestInterruptsOptional(t *testing.T) {
	p := newFakePlatform("enable msix 5")
	m := NewInterrupts(p.dev, DefaultName, nil, nil, MSIXOptional)
	if err := m.Setup(); err != nil {
		t.Fatal(err)
	}
	if m.Bound() != 0 || m.State() != IrqUnbound {
		t.Fatal(m.State())
	}
}
