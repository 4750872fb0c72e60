// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// bufferFile is the device file of a driver without hardware.
type bufferFile struct {
	mutex  sync.Mutex
	buf    [BufferSize]byte
	opens  int
	closes int
	short  int
}

func (f *bufferFile) Open() error {
	f.mutex.Lock()
	f.opens++
	f.mutex.Unlock()
	return nil
}

func (f *bufferFile) Release() error {
	f.mutex.Lock()
	f.closes++
	f.mutex.Unlock()
	return nil
}

func (f *bufferFile) Read(p []byte) (int, error) {
	n := copy(p, f.buf[:transfer(len(p))])
	return n - f.short, nil
}

func (f *bufferFile) Write(p []byte) (int, error) {
	return copy(f.buf[:], p) - f.short, nil
}

func (f *bufferFile) released() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.closes
}

func TestAtsockChrdev(t *testing.T) {
	name := fmt.Sprint("f1_test_", os.Getpid())
	c := &AtsockChrdev{}
	major, err := c.AllocRegion(name)
	if err != nil {
		t.Fatal(err)
	}
	// the first major is held so the next allocation must skip it
	c2 := &AtsockChrdev{}
	major2, err := c2.AllocRegion(name)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.UnregisterRegion(major2)
	if major2 == major {
		t.Fatal("major", major, "allocated twice")
	}

	fops := &bufferFile{}
	if err = c.Add(major, fops); err != nil {
		t.Fatal(err)
	}
	if err = c.Add(major, fops); !errors.Is(err, ErrCharDeviceRegistrationFailed) {
		t.Fatal("second add:", err)
	}

	f, err := Dial(name, major)
	if err != nil {
		t.Fatal(err)
	}
	n, err := f.Write([]byte("ABCD"))
	if n != 4 || err != nil {
		t.Fatal(n, err)
	}
	b := make([]byte, BufferSize+10)
	n, err = f.Read(b)
	if n != BufferSize || err != nil {
		t.Fatal(n, err)
	}
	if string(b[:4]) != "ABCD" {
		t.Fatalf("read %q", b[:4])
	}

	fops.short = 6
	n, err = f.Read(b[:100])
	var cf *CopyFault
	if n != 94 || !errors.As(err, &cf) || cf.Short != 6 || cf.Direction != FromDevice {
		t.Fatal(n, err)
	}
	if Status(err) != -14 {
		t.Fatal("status", Status(err))
	}
	fops.short = 0
	f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for fops.released() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("not released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err = c.Del(major); err != nil {
		t.Fatal(err)
	}
	if err = c.UnregisterRegion(major); err != nil {
		t.Fatal(err)
	}
	if _, err = Dial(name, major); err == nil {
		t.Fatal("dial after unregister")
	}
	if err = c.UnregisterRegion(major); err == nil {
		t.Fatal("second unregister")
	}
}

func TestAddUnallocated(t *testing.T) {
	c := &AtsockChrdev{}
	err := c.Add(7, &bufferFile{})
	if !errors.Is(err, ErrCharDeviceRegistrationFailed) {
		t.Fatal(err)
	}
}

// blockingFile holds each Write until release is closed.
type blockingFile struct {
	bufferFile
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFile) Write(p []byte) (int, error) {
	close(f.entered)
	<-f.release
	return f.bufferFile.Write(p)
}

func TestDelWaitsForCalls(t *testing.T) {
	name := fmt.Sprint("f1_block_", os.Getpid())
	c := &AtsockChrdev{}
	major, err := c.AllocRegion(name)
	if err != nil {
		t.Fatal(err)
	}
	fops := &blockingFile{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	if err = c.Add(major, fops); err != nil {
		t.Fatal(err)
	}
	f, err := Dial(name, major)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	go f.Write([]byte("ABCD"))
	select {
	case <-fops.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("write not started")
	}

	removed := make(chan struct{})
	go func() {
		c.Del(major)
		c.UnregisterRegion(major)
		close(removed)
	}()
	select {
	case <-removed:
		t.Fatal("removed while a write was in progress")
	case <-time.After(100 * time.Millisecond):
	}
	close(fops.release)
	select {
	case <-removed:
	case <-time.After(5 * time.Second):
		t.Fatal("not removed after the write returned")
	}
	if fops.released() != 1 {
		t.Fatal("released", fops.released())
	}
}
