// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

const (
	Amazon VendorID = 0x1d0f
	Xilinx VendorID = 0x10ee
)

// Amazon EC2 F1 FPGA functions.
const (
	F1AppPF         VendorDeviceID = 0xf000 // application physical function
	F1AppPFXdma     VendorDeviceID = 0xf001 // application PF with XDMA shell
	F1MgmtPF        VendorDeviceID = 0x1041 // management physical function
	F1AppPFShellVer VendorDeviceID = 0xf010
)

var F1AppIDs = []DeviceID{
	{Amazon, F1AppPF},
	{Amazon, F1AppPFXdma},
	{Amazon, F1AppPFShellVer},
}

var vendorNames = map[VendorID]string{
	Amazon: "amazon",
	Xilinx: "xilinx",
}

func (v VendorID) Name() string {
	if s, found := vendorNames[v]; found {
		return s
	}
	return v.String()
}
