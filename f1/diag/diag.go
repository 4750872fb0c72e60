// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package diag triggers a user interrupt from an F1 custom logic design and
// traces the XDMA interrupt block and MSI-X pending bits around it.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/platinasystems/f1irq/f1"
)

// Handle is an attached BAR.
type Handle interface {
	Peek(offset uint32) (uint32, error)
	Poke(offset uint32, v uint32) error
	Detach() error
}

type Attacher interface {
	Attach(slot, pf, bar uint) (Handle, error)
}

// XDMA register targets.
type Target uint32

const (
	H2C Target = iota
	C2H
	IRQ
	CFG
	H2CSGDMA
	C2HSGDMA
	SGDMACommon
	_
	MSIX
)

// DmaRegAddr is the XDMA BAR offset of a target channel register.
func DmaRegAddr(t Target, channel, offset uint32) uint32 {
	return uint32(t)<<12 | channel<<8 | offset
}

const (
	// BARs of the application physical function.
	UserBar = 0
	DmaBar  = 2

	IrqBlockID       = 0x000
	IrqUserEnable    = 0x004
	MSIXPendingBits  = 0xfe0
	TriggerReg       = 0xd00
	DefaultTrigger   = 0xffff
	DefaultEnableAll = 0xffff
)

// Result holds every value the script read.
type Result struct {
	ID         uint32
	Mask       [2]uint32
	Pending    [2]uint32
	Status     uint32
	ClearValue uint32
}

type Client struct {
	Attacher
	Slot, Pf uint
	// Interrupt is the user interrupt number whose status bit,
	// Interrupt+16, is cleared.
	Interrupt uint
	// Trigger is written to TriggerReg.
	Trigger uint32
	// EnableMask is written to the IRQ block's user interrupt enable.
	EnableMask uint32
	W          io.Writer
}

func New(a Attacher, slot uint) *Client {
	return &Client{
		Attacher:   a,
		Slot:       slot,
		Trigger:    DefaultTrigger,
		EnableMask: DefaultEnableAll,
		W:          os.Stdout,
	}
}

// ClearValue is the write that acknowledges interrupt n given the trigger
// register status.
func ClearValue(status uint32, n uint) uint32 {
	return status & (1 << (n + 16))
}

// script runs steps until one fails.
type script struct {
	w   io.Writer
	err error
}

func (s *script) peek(h Handle, offset uint32) (v uint32) {
	if s.err != nil {
		return
	}
	if v, s.err = h.Peek(offset); s.err != nil {
		s.err = &f1.RegisterAccessError{Op: "peek", Offset: offset, Err: s.err}
	}
	return
}

func (s *script) poke(h Handle, offset, v uint32) {
	if s.err != nil {
		return
	}
	if s.err = h.Poke(offset, v); s.err != nil {
		s.err = &f1.RegisterAccessError{Op: "poke", Offset: offset, Err: s.err}
	}
}

func (s *script) printf(format string, args ...interface{}) {
	if s.err == nil {
		fmt.Fprintf(s.w, format, args...)
	}
}

func (c *Client) attach(bar uint) (Handle, error) {
	h, err := c.Attach(c.Slot, c.Pf, bar)
	if err != nil {
		return nil, fmt.Errorf("unable to attach to the AFI on slot id %d bar %d: %w",
			c.Slot, bar, err)
	}
	return h, nil
}

// Run attaches the user and DMA BARs of the application function, then
// enables, triggers, and clears one user interrupt. It stops at the first
// failure. The handles are always detached and "leaving" always printed.
func (c *Client) Run() (res Result, err error) {
	w := c.W
	if w == nil {
		w = os.Stdout
	}
	defer fmt.Fprintln(w, "leaving")

	fmt.Fprintln(w, "Starting MSI-X Interrupt test")
	user, err := c.attach(UserBar)
	if err != nil {
		return
	}
	defer detach(user, &err)
	dma, err := c.attach(DmaBar)
	if err != nil {
		return
	}
	defer detach(dma, &err)

	s := &script{w: w}
	enable := DmaRegAddr(IRQ, 0, IrqUserEnable)
	pending := DmaRegAddr(MSIX, 0, MSIXPendingBits)

	res.ID = s.peek(dma, DmaRegAddr(IRQ, 0, IrqBlockID))
	s.printf("IRQ Block Identifier: %x\n", res.ID)

	res.Mask[0] = s.peek(dma, enable)
	s.printf("IRQ Block User Interrupt Enable Mask: %x, Addr: %x\n", res.Mask[0], enable)
	s.poke(dma, enable, c.EnableMask)
	res.Mask[1] = s.peek(dma, enable)
	s.printf("IRQ Block User Interrupt Enable Mask: %x\n", res.Mask[1])

	res.Pending[0] = s.peek(dma, pending)
	s.printf("pending_bit_array: %x\n", res.Pending[0])

	s.printf("Triggering MSI-X Interrupt %d\n", c.Interrupt)
	s.poke(user, TriggerReg, c.Trigger)

	res.Status = s.peek(user, TriggerReg)
	s.printf("CL status: %x\n", res.Status)
	res.ClearValue = ClearValue(res.Status, c.Interrupt)
	s.poke(user, TriggerReg, res.ClearValue)

	res.Pending[1] = s.peek(dma, pending)
	s.printf("pending_bit_array: %x\n", res.Pending[1])

	err = s.err
	return
}

func detach(h Handle, err *error) {
	if xerr := h.Detach(); xerr != nil && *err == nil {
		*err = xerr
	}
}
