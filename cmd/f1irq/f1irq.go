// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package f1irq triggers and clears an F1 user interrupt.
package f1irq

import (
	"fmt"
	"io"
	"strconv"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"

	"github.com/platinasystems/f1irq/cmd"
	"github.com/platinasystems/f1irq/f1"
	"github.com/platinasystems/f1irq/f1/diag"
	"github.com/platinasystems/f1irq/f1/fpgapci"
	"github.com/platinasystems/f1irq/lang"
)

type Command struct {
	// Attacher defaults to the sysfs FPGA slots.
	Attacher diag.Attacher
	// W defaults to stdout.
	W io.Writer
}

func (Command) String() string { return "f1irq" }

func (Command) Usage() string {
	return "f1irq [-slot SLOT] [-pf PF] [-irq N] [-trigger MASK] [-single]"
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "trigger and clear an F1 MSI-X user interrupt",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Attach BAR 0 and BAR 2 of the FPGA slot, enable all user interrupts
	in the XDMA IRQ block, write the trigger register, then clear status
	bit N+16 and show the MSI-X pending bits before and after.

	Any failed register access stops the test with a non-zero exit.

OPTIONS
	-slot SLOT	FPGA slot, default 0
	-pf PF		physical function, default 0
	-irq N		interrupt to clear, 0 to 15, default 0
	-trigger MASK	value written to the trigger register, default 0xffff
	-single		trigger only interrupt N`,
	}
}

func (c Command) Main(args ...string) error {
	flag, args := flags.New(args, "-single")
	parm, args := parms.New(args, "-slot", "-pf", "-irq", "-trigger")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	var v [3]uint64
	for i, x := range []struct {
		name string
		bits int
	}{
		{"-slot", 8},
		{"-pf", 3},
		{"-irq", 4},
	} {
		s := parm.ByName[x.name]
		if len(s) == 0 {
			continue
		}
		var err error
		if v[i], err = strconv.ParseUint(s, 0, x.bits); err != nil {
			return fmt.Errorf("%s %s: %w", x.name, s, err)
		}
	}
	a := c.Attacher
	if a == nil {
		a = fpgapci.Default
	}
	client := diag.New(a, uint(v[0]))
	client.Pf = uint(v[1])
	client.Interrupt = uint(v[2])
	if c.W != nil {
		client.W = c.W
	}
	if s := parm.ByName["-trigger"]; len(s) > 0 {
		t, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("-trigger %s: %w", s, err)
		}
		client.Trigger = uint32(t)
	}
	if flag.ByName["-single"] {
		client.Trigger = 1 << client.Interrupt
	}
	if _, err := client.Run(); err != nil {
		return &cmd.Exit{Status: -f1.Status(err), Err: err}
	}
	return nil
}
