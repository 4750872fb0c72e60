// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"
	"testing"
)

// fakeConn is enough of a redis.Conn to record commands.
type fakeConn struct {
	cmds []string
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }
func (c *fakeConn) Flush() error { return nil }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	c.cmds = append(c.cmds, fmt.Sprintf("%s %v", cmd, args))
	return int64(1), nil
}

func (c *fakeConn) Send(cmd string, args ...interface{}) error {
	_, err := c.Do(cmd, args...)
	return err
}

func (c *fakeConn) Receive() (interface{}, error) { return nil, nil }

func TestRedisPublisher(t *testing.T) {
	c := &fakeConn{}
	p := &RedisPublisher{Conn: c, Hash: "f1", Prefix: "0000:00:0f.0"}
	pl := newFakePlatform()
	plat := pl.Platform()
	plat.Publisher = p
	d, err := Load(nil, plat)
	if err != nil {
		t.Fatal(err)
	}
	d.Unload()
	want := []string{
		"HSET [f1 0000:00:0f.0.state discovered]",
		"HSET [f1 0000:00:0f.0.state enabled]",
		"HSET [f1 0000:00:0f.0.state regions claimed]",
		"HSET [f1 0000:00:0f.0.state mapped]",
		"HSET [f1 0000:00:0f.0.state buffer allocated]",
		"HSET [f1 0000:00:0f.0.major 240]",
		"HSET [f1 0000:00:0f.0.state interrupts bound]",
		"HSET [f1 0000:00:0f.0.irq all bound]",
		"HSET [f1 0000:00:0f.0.state ready]",
		"HSET [f1 0000:00:0f.0.state unloaded]",
	}
	if len(c.cmds) != len(want) {
		t.Fatalf("got %q", c.cmds)
	}
	for i := range want {
		if c.cmds[i] != want[i] {
			t.Errorf("%d: got %q; want %q", i, c.cmds[i], want[i])
		}
	}
}
