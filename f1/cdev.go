// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/platinasystems/atsock"
	"github.com/platinasystems/log"
)

// BufferSize is the size of the DMA buffer and the largest transfer.
const BufferSize = 4096

// FileOperations are the device file entry points.
type FileOperations interface {
	Open() error
	Release() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Chrdev registers device files. A major is reserved by AllocRegion,
// served by Add, and released in the opposite order.
type Chrdev interface {
	AllocRegion(name string) (major int, err error)
	Add(major int, fops FileOperations) error
	Del(major int) error
	UnregisterRegion(major int) error
}

// SockName is the abstract socket, less its '@', of the named device
// file.
func SockName(name string, major int) string {
	return fmt.Sprint(name, ".", major)
}

// MaxMajor limits the search for a free socket name.
const MaxMajor = 255

// AtsockChrdev serves each device file as the net/rpc service "F1" on the
// abstract socket "@NAME.MAJOR". Every connection is one open of the file.
type AtsockChrdev struct {
	mutex   sync.Mutex
	regions map[int]*atsockRegion
}

type atsockRegion struct {
	name string
	ln   net.Listener

	mutex sync.Mutex
	srv   *rpc.Server
	fops  FileOperations
	conns map[net.Conn]struct{}
	done  chan struct{}

	// serving counts open files, including calls still in progress.
	serving sync.WaitGroup
}

func (c *AtsockChrdev) AllocRegion(name string) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.regions == nil {
		c.regions = make(map[int]*atsockRegion)
	}
	for major := 1; major <= MaxMajor; major++ {
		if _, found := c.regions[major]; found {
			continue
		}
		ln, err := atsock.Listen(SockName(name, major))
		if err != nil {
			continue
		}
		c.regions[major] = &atsockRegion{
			name:  name,
			ln:    ln,
			conns: make(map[net.Conn]struct{}),
		}
		return major, nil
	}
	return 0, fmt.Errorf("%w: @%s.[1-%d] in use",
		ErrMajorNumberUnavailable, name, MaxMajor)
}

func (c *AtsockChrdev) region(major int) (*atsockRegion, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	r, found := c.regions[major]
	if !found {
		return nil, fmt.Errorf("major %d: not allocated", major)
	}
	return r, nil
}

func (c *AtsockChrdev) Add(major int, fops FileOperations) error {
	r, err := c.region(major)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCharDeviceRegistrationFailed, err)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.srv != nil {
		return fmt.Errorf("%w: %s: already added",
			ErrCharDeviceRegistrationFailed, SockName(r.name, major))
	}
	srv := rpc.NewServer()
	if err = srv.RegisterName("F1", &FileService{fops}); err != nil {
		return fmt.Errorf("%w: %v", ErrCharDeviceRegistrationFailed, err)
	}
	r.srv = srv
	r.fops = fops
	if r.done == nil {
		r.done = make(chan struct{})
		go r.accept()
	}
	return nil
}

func (r *atsockRegion) accept() {
	defer close(r.done)
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mutex.Lock()
		srv, fops := r.srv, r.fops
		if srv != nil {
			r.conns[conn] = struct{}{}
			r.serving.Add(1)
		}
		r.mutex.Unlock()
		if srv == nil {
			conn.Close()
			continue
		}
		go r.serve(srv, fops, conn)
	}
}

func (r *atsockRegion) serve(srv *rpc.Server, fops FileOperations, conn net.Conn) {
	defer r.serving.Done()
	if err := fops.Open(); err != nil {
		conn.Close()
	} else {
		srv.ServeConn(conn)
		fops.Release()
	}
	r.mutex.Lock()
	delete(r.conns, conn)
	r.mutex.Unlock()
}

// Del stops serving the device file, closes any open connections, and
// waits for calls in progress to return and each file to be released.
// The socket stays reserved until UnregisterRegion.
func (c *AtsockChrdev) Del(major int) error {
	r, err := c.region(major)
	if err != nil {
		return err
	}
	r.mutex.Lock()
	r.srv = nil
	r.fops = nil
	for conn := range r.conns {
		conn.Close()
	}
	r.mutex.Unlock()
	r.serving.Wait()
	return nil
}

func (c *AtsockChrdev) UnregisterRegion(major int) error {
	r, err := c.region(major)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	delete(c.regions, major)
	c.mutex.Unlock()
	err = r.ln.Close()
	r.mutex.Lock()
	done := r.done
	r.mutex.Unlock()
	if done != nil {
		<-done
	}
	return err
}

// FileService is the rpc receiver of a device file.
type FileService struct {
	fops FileOperations
}

type ReadArgs struct {
	Count int
}

func (s *FileService) Read(args ReadArgs, reply *[]byte) error {
	if args.Count < 0 {
		return fmt.Errorf("read %d bytes: invalid count", args.Count)
	}
	b := make([]byte, args.Count)
	n, err := s.fops.Read(b)
	*reply = b[:n]
	return err
}

func (s *FileService) Write(args []byte, reply *int) (err error) {
	*reply, err = s.fops.Write(args)
	return
}

// File is the client side of a device file.
type File struct {
	*rpc.Client
	Name string
}

// Dial opens the named device file.
func Dial(name string, major int) (*File, error) {
	sock := SockName(name, major)
	cl, err := atsock.NewRpcClient(sock)
	if err != nil {
		return nil, fmt.Errorf("@%s: %w", sock, err)
	}
	return &File{Client: cl, Name: sock}, nil
}

func transfer(n int) int {
	if n > BufferSize {
		return BufferSize
	}
	return n
}

// Read returns at most BufferSize bytes. A reply shorter than that is a
// CopyFault with the bytes that did arrive.
func (f *File) Read(p []byte) (n int, err error) {
	var b []byte
	want := transfer(len(p))
	if err = f.Call("F1.Read", ReadArgs{want}, &b); err != nil {
		return
	}
	n = copy(p, b)
	if n < want {
		err = &CopyFault{FromDevice, want - n}
		log.Print("warning: ", f.Name, ": ", err)
	}
	return
}

func (f *File) Write(p []byte) (n int, err error) {
	want := transfer(len(p))
	if err = f.Call("F1.Write", p[:want], &n); err != nil {
		return
	}
	if n < want {
		err = &CopyFault{ToDevice, want - n}
		log.Print("warning: ", f.Name, ": ", err)
	}
	return
}
