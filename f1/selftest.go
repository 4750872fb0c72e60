// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"

	"github.com/platinasystems/log"
)

const (
	SelfTestPattern uint32 = 0x44434241
	SelfTestConfig         = CfgIncrID | CfgSyncMode | CfgReadCompare
	MaxReadRequests        = 0x0000000f
	// Descriptor length code for one 128 byte unit.
	selfTestLen = 0x00000001
)

// SelfTestResult holds the diagnostic reads made while programming the
// engine. None of them are checked.
type SelfTestResult struct {
	Peek0    uint32
	WrAddr   [2]uint32
	RdAddr   [2]uint32
	Status   uint32
	WrCycles uint32
	RdCycles uint32
}

func (r *SelfTestResult) String() string {
	return fmt.Sprintf("status: %d, write cycles: %d, read cycles: %d",
		r.Status, r.WrCycles, r.RdCycles)
}

// sequencer stops at the first failed access; later peeks return 0.
type sequencer struct {
	Ocl
	err error
}

func (s *sequencer) poke(r Reg, v uint32) {
	if s.err == nil {
		s.err = s.Poke(r, v)
	}
}

func (s *sequencer) peek(r Reg) (v uint32) {
	if s.err == nil {
		v, s.err = s.Peek(r)
	}
	return
}

// SelfTest kicks one write and one read DMA of pattern to and from the
// buffer at bus address phys. Both start bits are set together and the
// engine is stopped right after; completion and the error registers are
// never examined.
func (o Ocl) SelfTest(phys uint64, pattern uint32) (res SelfTestResult, err error) {
	s := &sequencer{Ocl: o}
	lo, hi := uint32(phys&0xffffffff), uint32(phys>>32)

	res.Peek0 = s.peek(CfgReg)
	log.Print("info: f1_driver: peek 0: ", fmt.Sprintf("%x", res.Peek0))
	log.Print("info: f1_driver: phys_f1_buffer: ", fmt.Sprintf("%x", phys))

	// Enable Incr ID mode, Sync mode, and Read Compare
	s.poke(CfgReg, SelfTestConfig)

	// Set the max number of read requests
	s.poke(MaxRdReq, MaxReadRequests)

	s.poke(WrInstrIndex, 0)
	s.poke(WrAddrLow, lo)
	s.poke(WrAddrHigh, hi)
	s.poke(WrData, pattern)
	s.poke(WrLen, selfTestLen)

	res.WrAddr[0] = s.peek(WrAddrLow)
	res.WrAddr[1] = s.peek(WrAddrHigh)

	s.poke(RdInstrIndex, 0)
	s.poke(RdAddrLow, lo)
	s.poke(RdAddrHigh, hi)
	s.poke(RdData, pattern)
	s.poke(RdLen, selfTestLen)

	res.RdAddr[0] = s.peek(RdAddrLow)
	res.RdAddr[1] = s.peek(RdAddrHigh)

	// Number of instructions, zero based ([31:16] for read, [15:0] for write)
	s.poke(NumInst, 0)

	s.poke(CntlReg, WrStartBit|RdStartBit)
	res.Status = s.peek(CntlReg)

	// Stop
	s.poke(CntlReg, 0)

	res.WrCycles = s.peek(WrCycleCntLow)
	res.RdCycles = s.peek(RdCycleCntLow)

	if err = s.err; err != nil {
		log.Print("err: f1_driver: self test: ", err)
		return
	}
	log.Print("info: f1_driver: wr addr: ", fmt.Sprintf("%x %x", res.WrAddr[1], res.WrAddr[0]),
		", rd addr: ", fmt.Sprintf("%x %x", res.RdAddr[1], res.RdAddr[0]))
	log.Print("info: f1_driver: ", &res)
	return
}
