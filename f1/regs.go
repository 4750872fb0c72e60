// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"

	"github.com/platinasystems/f1irq/elib/hw"
)

// Reg is a byte offset in the OCL BAR.
type Reg uint32

const (
	CfgReg   Reg = 0x00
	CntlReg  Reg = 0x08
	NumInst  Reg = 0x10
	MaxRdReq Reg = 0x14

	WrInstrIndex Reg = 0x1c
	WrAddrLow    Reg = 0x20
	WrAddrHigh   Reg = 0x24
	WrData       Reg = 0x28
	WrLen        Reg = 0x2c

	RdInstrIndex Reg = 0x3c
	RdAddrLow    Reg = 0x40
	RdAddrHigh   Reg = 0x44
	RdData       Reg = 0x48
	RdLen        Reg = 0x4c

	RdErr         Reg = 0xb0
	RdErrAddrLow  Reg = 0xb4
	RdErrAddrHigh Reg = 0xb8
	RdErrIndex    Reg = 0xbc

	WrCycleCntLow  Reg = 0xf0
	WrCycleCntHigh Reg = 0xf4
	RdCycleCntLow  Reg = 0xf8
	RdCycleCntHigh Reg = 0xfc
)

// CfgReg bits
const (
	CfgReadCompare = 1 << 3
	CfgSyncMode    = 1 << 4
	CfgIncrID      = 1 << 24
)

// CntlReg bits
const (
	WrStartBit = 1 << 0
	RdStartBit = 1 << 1
)

type RegGroup int

const (
	ConfigGroup RegGroup = iota
	ControlGroup
	WriteDescriptorGroup
	ReadDescriptorGroup
	ErrorGroup
	CycleCounterGroup
)

var regGroupNames = [...]string{
	ConfigGroup:          "config",
	ControlGroup:         "control",
	WriteDescriptorGroup: "write descriptor",
	ReadDescriptorGroup:  "read descriptor",
	ErrorGroup:           "error",
	CycleCounterGroup:    "cycle counter",
}

func (g RegGroup) String() string { return regGroupNames[g] }

type regInfo struct {
	name string
	RegGroup
}

var regs = map[Reg]regInfo{
	CfgReg:         {"CFG_REG", ConfigGroup},
	MaxRdReq:       {"MAX_RD_REQ", ConfigGroup},
	CntlReg:        {"CNTL_REG", ControlGroup},
	NumInst:        {"NUM_INST", ControlGroup},
	WrInstrIndex:   {"WR_INSTR_INDEX", WriteDescriptorGroup},
	WrAddrLow:      {"WR_ADDR_LOW", WriteDescriptorGroup},
	WrAddrHigh:     {"WR_ADDR_HIGH", WriteDescriptorGroup},
	WrData:         {"WR_DATA", WriteDescriptorGroup},
	WrLen:          {"WR_LEN", WriteDescriptorGroup},
	RdInstrIndex:   {"RD_INSTR_INDEX", ReadDescriptorGroup},
	RdAddrLow:      {"RD_ADDR_LOW", ReadDescriptorGroup},
	RdAddrHigh:     {"RD_ADDR_HIGH", ReadDescriptorGroup},
	RdData:         {"RD_DATA", ReadDescriptorGroup},
	RdLen:          {"RD_LEN", ReadDescriptorGroup},
	RdErr:          {"RD_ERR", ErrorGroup},
	RdErrAddrLow:   {"RD_ERR_ADDR_LOW", ErrorGroup},
	RdErrAddrHigh:  {"RD_ERR_ADDR_HIGH", ErrorGroup},
	RdErrIndex:     {"RD_ERR_INDEX", ErrorGroup},
	WrCycleCntLow:  {"WR_CYCLE_CNT_LOW", CycleCounterGroup},
	WrCycleCntHigh: {"WR_CYCLE_CNT_HIGH", CycleCounterGroup},
	RdCycleCntLow:  {"RD_CYCLE_CNT_LOW", CycleCounterGroup},
	RdCycleCntHigh: {"RD_CYCLE_CNT_HIGH", CycleCounterGroup},
}

func (r Reg) Valid() bool {
	_, found := regs[r]
	return found
}

func (r Reg) Group() RegGroup { return regs[r].RegGroup }

func (r Reg) String() string {
	if x, found := regs[r]; found {
		return x.name
	}
	return fmt.Sprintf("0x%02x", uint32(r))
}

// Ocl accesses the registers of a mapped OCL BAR. Offsets outside of the
// register map, or beyond the mapping, are refused without touching the
// device.
type Ocl struct {
	hw.Region
}

func (o Ocl) check(op string, r Reg) error {
	if !r.Valid() {
		return &RegisterAccessError{op, uint32(r), ErrBadRegister}
	}
	if o.Region == nil || !hw.InRange(o.Region, uint(r)) {
		return &RegisterAccessError{op, uint32(r), ErrMapFailed}
	}
	return nil
}

func (o Ocl) Peek(r Reg) (uint32, error) {
	if err := o.check("peek", r); err != nil {
		return 0, err
	}
	return o.Load32(uint(r)), nil
}

func (o Ocl) Poke(r Reg, v uint32) error {
	if err := o.check("poke", r); err != nil {
		return err
	}
	o.Store32(uint(r), v)
	return nil
}
