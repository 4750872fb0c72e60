// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestStatus(t *testing.T) {
	for _, x := range []struct {
		err  error
		want syscall.Errno
	}{
		{fmt.Errorf("load: %w", ErrDeviceNotFound), syscall.ENODEV},
		{ErrEnableFailed, syscall.EIO},
		{&RegionClaimError{"DDR Region", 3, syscall.EBUSY}, syscall.EBUSY},
		{ErrMapFailed, syscall.ENOMEM},
		{ErrBufferAllocFailed, syscall.ENOMEM},
		{ErrMajorNumberUnavailable, syscall.EBUSY},
		{ErrCharDeviceRegistrationFailed, syscall.EINVAL},
		{ErrInterruptAllocationFailed, syscall.ENOSPC},
		{&CopyFault{FromDevice, 10}, syscall.EFAULT},
		{&RegisterAccessError{"peek", 4, ErrBadRegister}, syscall.EIO},
		{&RegisterAccessError{"poke", 0x100, ErrMapFailed}, syscall.EIO},
		{fmt.Errorf("self test: %w",
			&RegisterAccessError{"peek", 0xd00, ErrDeviceNotFound}), syscall.EIO},
		{errors.New("other"), syscall.EINVAL},
	} {
		if got := Status(x.err); got != -int(x.want) {
			t.Errorf("%v: %d; want %d", x.err, got, -int(x.want))
		}
	}
	if Status(nil) != 0 {
		t.Error("nil")
	}
}

func TestErrorText(t *testing.T) {
	for _, x := range []struct {
		err  error
		want string
	}{
		{&RegionClaimError{"OCL Region", 0, syscall.EBUSY},
			"cannot obtain the OCL Region (bar 0): device or resource busy"},
		{&CopyFault{ToDevice, 3}, "could not copy 3 bytes to device"},
		{&RegisterAccessError{"poke", 0xd00, ErrMapFailed},
			"poke 0xd00: cannot map OCL region"},
	} {
		if got := x.err.Error(); got != x.want {
			t.Errorf("got %q; want %q", got, x.want)
		}
	}
}
