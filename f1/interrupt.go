// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"
	"strings"

	"github.com/platinasystems/log"
	uuid "github.com/satori/go.uuid"

	"github.com/platinasystems/f1irq/elib/hw/pci"
)

const NumVectors = 5

type IrqState int

const (
	IrqUnbound IrqState = iota
	IrqVectorsAllocated
	IrqAllBound
)

var irqStateNames = [...]string{
	IrqUnbound:          "unbound",
	IrqVectorsAllocated: "vectors allocated",
	IrqAllBound:         "all bound",
}

func (s IrqState) String() string { return irqStateNames[s] }

// MSIXPolicy decides whether failure to allocate or bind vectors stops
// the load.
type MSIXPolicy int

const (
	// Log the failure and continue without interrupts.
	MSIXOptional MSIXPolicy = iota
	// Fail the load.
	MSIXRequired
)

func (p MSIXPolicy) String() string {
	if p == MSIXRequired {
		return "required"
	}
	return "optional"
}

func ParseMSIXPolicy(s string) (MSIXPolicy, error) {
	switch strings.ToLower(s) {
	case "", "optional":
		return MSIXOptional, nil
	case "required":
		return MSIXRequired, nil
	}
	return MSIXOptional, fmt.Errorf("%s: invalid msix policy; use optional or required", s)
}

func (p *MSIXPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	x, err := ParseMSIXPolicy(s)
	if err == nil {
		*p = x
	}
	return err
}

func (p MSIXPolicy) MarshalYAML() (interface{}, error) { return p.String(), nil }

// BindingID is the identifier passed to the handler of every vector of
// the device at addr.
func BindingID(a pci.BusAddress) uuid.UUID {
	return uuid.NewV5(uuid.NamespaceOID, "f1_driver/"+a.String())
}

// Isr claims every interrupt without reading any status register.
func Isr(vector uint, id interface{}) pci.IrqReturn {
	log.Print("notice: f1_isr: vector ", vector, " id ", id)
	return pci.IrqHandled
}

// Interrupts binds the device's MSI-X vectors to a handler.
type Interrupts struct {
	Entries [NumVectors]pci.MSIXEntry

	dev     pci.Devicer
	name    string
	id      interface{}
	handler pci.IrqHandler
	policy  MSIXPolicy

	allocated bool
	bound     [NumVectors]bool
}

func NewInterrupts(dev pci.Devicer, name string, id interface{}, h pci.IrqHandler, policy MSIXPolicy) *Interrupts {
	if h == nil {
		h = Isr
	}
	m := &Interrupts{
		dev:     dev,
		name:    name,
		id:      id,
		handler: h,
		policy:  policy,
	}
	for i := range m.Entries {
		m.Entries[i].Entry = uint16(i)
	}
	return m
}

func (m *Interrupts) State() IrqState {
	switch {
	case !m.allocated:
		return IrqUnbound
	case m.Bound() == NumVectors:
		return IrqAllBound
	default:
		return IrqVectorsAllocated
	}
}

// Bound returns the number of vectors with a handler.
func (m *Interrupts) Bound() (n int) {
	for _, b := range m.bound {
		if b {
			n++
		}
	}
	return
}

// Setup allocates NumVectors vectors and binds each to the handler. With
// MSIXOptional it only returns nil; failures are logged and whatever did
// succeed stays bound.
func (m *Interrupts) Setup() (err error) {
	entries := m.Entries[:]
	err = m.dev.EnableMSIX(entries)
	log.Print("notice: ", m.name, ": msix enable: ", err, ", vector 0: ", m.Entries[0].Vector)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInterruptAllocationFailed, err)
		return m.fail(err)
	}
	m.allocated = true
	for i := range m.Entries {
		v := m.Entries[i].Vector
		if xerr := m.dev.RequestIRQ(v, m.handler, m.name, m.id); xerr != nil {
			xerr = fmt.Errorf("%w: entry %d vector %d: %v",
				ErrInterruptAllocationFailed, i, v, xerr)
			if m.policy == MSIXRequired {
				m.Teardown()
				return xerr
			}
			log.Print("warning: ", m.name, ": ", xerr)
			continue
		}
		m.bound[i] = true
	}
	return nil
}

func (m *Interrupts) fail(err error) error {
	if m.policy == MSIXRequired {
		return err
	}
	log.Print("warning: ", m.name, ": ", err, "; continuing without interrupts")
	return nil
}

// Teardown frees each bound vector, newest first, then the vector block if it was
// allocated. It's safe to call more than once.
func (m *Interrupts) Teardown() (err error) {
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if !m.bound[i] {
			continue
		}
		m.bound[i] = false
		if xerr := m.dev.FreeIRQ(m.Entries[i].Vector, m.id); xerr != nil && err == nil {
			err = xerr
		}
	}
	if m.allocated {
		m.allocated = false
		if xerr := m.dev.DisableMSIX(); xerr != nil && err == nil {
			err = xerr
		}
	}
	return
}
