// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"fmt"

	"github.com/garyburd/redigo/redis"
	"github.com/platinasystems/log"
)

// Publisher records driver state for other processes. Publishing is best
// effort; errors are logged by the caller and never fail an operation.
type Publisher interface {
	Publish(field string, value interface{}) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) error { return nil }

// RedisPublisher sets fields of the "f1" hash, each prefixed by the device
// address, as in "0000:00:0f.0.state".
type RedisPublisher struct {
	redis.Conn
	Hash   string
	Prefix string
}

func DialRedis(addr, prefix string) (*RedisPublisher, error) {
	c, err := redis.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisPublisher{Conn: c, Hash: "f1", Prefix: prefix}, nil
}

func (p *RedisPublisher) Publish(field string, value interface{}) error {
	_, err := p.Do("HSET", p.Hash, p.Prefix+"."+field, fmt.Sprint(value))
	return err
}

func publish(p Publisher, field string, value interface{}) {
	if err := p.Publish(field, value); err != nil {
		log.Print("warning: f1_driver: publish ", field, ": ", err)
	}
}
