// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgapci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/platinasystems/f1irq/elib/hw/pci"
	"github.com/platinasystems/f1irq/f1"
)

const barSize = 0x1000

// sysfs makes a bus directory with the given devices, each with 4KiB
// BARs 0 and 2 backed by regular files.
func sysfs(t *testing.T, devs map[string]pci.DeviceID) string {
	dir, err := ioutil.TempDir("", "fpgapci")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	for addr, id := range devs {
		dev := filepath.Join(dir, addr)
		if err = os.MkdirAll(dev, 0755); err != nil {
			t.Fatal(err)
		}
		resource := ""
		for bar := 0; bar < 6; bar++ {
			if bar == 0 || bar == 2 {
				base := 0x80000000 + bar*barSize
				resource += fmt.Sprintf("0x%016x 0x%016x 0x%016x\n",
					base, base+barSize-1, 0x40200)
			} else {
				resource += fmt.Sprintf("0x%016x 0x%016x 0x%016x\n", 0, 0, 0)
			}
		}
		for fn, b := range map[string][]byte{
			"vendor":    []byte(fmt.Sprintf("0x%04x\n", uint16(id.Vendor))),
			"device":    []byte(fmt.Sprintf("0x%04x\n", uint16(id.Device))),
			"config":    make([]byte, 64),
			"resource":  []byte(resource),
			"resource0": make([]byte, barSize),
			"resource2": make([]byte, barSize),
		} {
			if err = ioutil.WriteFile(filepath.Join(dev, fn), b, 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return dir
}

func testAttacher(t *testing.T) (*Attacher, string) {
	app := pci.DeviceID{Vendor: pci.Amazon, Device: pci.F1AppPF}
	dir := sysfs(t, map[string]pci.DeviceID{
		"0000:00:1d.0": app,
		"0000:00:1b.0": app,
		"0000:00:1b.1": {Vendor: pci.Amazon, Device: pci.F1MgmtPF},
		"0000:00:03.0": {Vendor: 0x8086, Device: 0x1234},
	})
	return &Attacher{Bus: &pci.SysfsBus{Path: dir}}, dir
}

func TestSlots(t *testing.T) {
	a, _ := testAttacher(t)
	slots, err := a.Slots()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(slots) != "[0000:00:1b.0 0000:00:1d.0]" {
		t.Fatal(slots)
	}
}

func TestAttach(t *testing.T) {
	a, dir := testAttacher(t)
	h, err := a.Attach(1, AppPF, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err = h.Poke(barSize, 1); err == nil {
		t.Fatal("poke beyond bar")
	}
	if _, err = h.Peek(0xfe2); err == nil {
		t.Fatal("unaligned peek")
	}
	if err = h.Poke(0xfe0, 0xfffe); err != nil {
		t.Fatal(err)
	}
	if v, err := h.Peek(0xfe0); err != nil || v != 0xfffe {
		t.Fatal(v, err)
	}
	if err = h.Detach(); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(filepath.Join(dir, "0000:00:1d.0", "resource2"))
	if err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(b[0xfe0:]); v != 0xfffe {
		t.Fatalf("0x%x", v)
	}
	if _, err = h.Peek(0); err == nil {
		t.Fatal("peek after detach")
	}
	if err = h.Detach(); err != nil {
		t.Fatal("second detach:", err)
	}
}

func TestAttachErrors(t *testing.T) {
	a, _ := testAttacher(t)
	if _, err := a.Attach(2, AppPF, 0); !errors.Is(err, f1.ErrDeviceNotFound) {
		t.Fatal(err)
	}
	if _, err := a.Attach(1, MgmtPF, 0); !errors.Is(err, f1.ErrDeviceNotFound) {
		t.Fatal(err)
	}
	if _, err := a.Attach(0, AppPF, 4); !errors.Is(err, f1.ErrMapFailed) {
		t.Fatal(err)
	}
}
