// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrDeviceNotFound               = errors.New("unable to locate PCI card")
	ErrEnableFailed                 = errors.New("unable to enable PCI card")
	ErrRegionClaimFailed            = errors.New("cannot obtain region")
	ErrMapFailed                    = errors.New("cannot map OCL region")
	ErrBufferAllocFailed            = errors.New("cannot allocate DMA buffer")
	ErrMajorNumberUnavailable       = errors.New("cannot obtain major number")
	ErrCharDeviceRegistrationFailed = errors.New("unable to add cdev")
	ErrInterruptAllocationFailed    = errors.New("unable to allocate MSI-X vectors")
	ErrNotReady                     = errors.New("driver not ready")
	ErrBadRegister                  = errors.New("offset not in register map")
)

// RegionClaimError names the BAR region that couldn't be reserved.
type RegionClaimError struct {
	Region string
	Bar    uint
	Err    error
}

func (e *RegionClaimError) Error() string {
	return fmt.Sprintf("cannot obtain the %s (bar %d): %v",
		e.Region, e.Bar, e.Err)
}

func (e *RegionClaimError) Is(target error) bool { return target == ErrRegionClaimFailed }
func (e *RegionClaimError) Unwrap() error        { return e.Err }

type Direction int

const (
	ToDevice Direction = iota
	FromDevice
)

func (d Direction) String() string {
	if d == ToDevice {
		return "to device"
	}
	return "from device"
}

// CopyFault is a short data transfer; Short is the number of bytes that
// could not be copied.
type CopyFault struct {
	Direction
	Short int
}

func (e *CopyFault) Error() string {
	return fmt.Sprintf("could not copy %d bytes %v", e.Short, e.Direction)
}

// RegisterAccessError identifies the failed peek or poke.
type RegisterAccessError struct {
	Op     string
	Offset uint32
	Err    error
}

func (e *RegisterAccessError) Error() string {
	return fmt.Sprintf("%s 0x%x: %v", e.Op, e.Offset, e.Err)
}

func (e *RegisterAccessError) Unwrap() error { return e.Err }

// Status maps an error to the negative status a failed load reports.
func Status(err error) int {
	var errno syscall.Errno
	var cf *CopyFault
	var ra *RegisterAccessError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ra):
		errno = syscall.EIO
	case errors.As(err, &cf):
		errno = syscall.EFAULT
	case errors.Is(err, ErrDeviceNotFound):
		errno = syscall.ENODEV
	case errors.Is(err, ErrEnableFailed):
		errno = syscall.EIO
	case errors.Is(err, ErrRegionClaimFailed):
		errno = syscall.EBUSY
	case errors.Is(err, ErrMapFailed),
		errors.Is(err, ErrBufferAllocFailed):
		errno = syscall.ENOMEM
	case errors.Is(err, ErrMajorNumberUnavailable):
		errno = syscall.EBUSY
	case errors.Is(err, ErrInterruptAllocationFailed):
		errno = syscall.ENOSPC
	default:
		// ErrCharDeviceRegistrationFailed and anything unclassified
		errno = syscall.EINVAL
	}
	return -int(errno)
}
