// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package f1d loads the F1 driver and serves its device file until
// signaled.
package f1d

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"

	"github.com/platinasystems/f1irq/cmd"
	"github.com/platinasystems/f1irq/f1"
	"github.com/platinasystems/f1irq/lang"
)

type Command struct {
	// Platform replaces the driver's hardware collaborators.
	Platform f1.Platform

	mutex sync.Mutex
	stop  chan struct{}
}

func (*Command) String() string { return "f1d" }

func (*Command) Usage() string {
	return "f1d [-config FILE] [-slot SLOT] [-msix optional|required] [-redis ADDR] [-name NAME] [-selftest]"
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "F1 FPGA DMA and interrupt driver",
	}
}

func (*Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Enable the F1 application function at SLOT, claim its DDR and OCL
	regions, allocate a DMA buffer, bind 5 MSI-X vectors, and serve the
	buffer as device file "@NAME.MAJOR" until interrupted.

	Writing to the device file copies to the DMA buffer then, unless the
	first byte is '0', runs the DMA self-test.

OPTIONS
	-config FILE
		yaml configuration, default /etc/goes/f1.yaml
	-slot SLOT
		PCI slot of function 0 on bus 0, default 0x0f
	-msix optional|required
		whether failure to bind vectors stops the load
	-redis ADDR
		publish state to the "f1" hash of this redis server
	-name NAME
		device file name, default f1_driver
	-selftest
		run the DMA self-test once loaded`,
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

// Config builds the driver configuration from the file named by -config
// overlaid with the other parameters.
func Config(parm *parms.Parms) (*f1.Config, error) {
	c := f1.NewConfig()
	fn := parm.ByName["-config"]
	if len(fn) == 0 {
		fn = f1.DefaultConfig
	}
	if err := f1.LoadConfig(fn, c); err != nil {
		return nil, err
	}
	if s := parm.ByName["-slot"]; len(s) > 0 {
		slot, err := strconv.ParseUint(s, 0, 5)
		if err != nil {
			return nil, fmt.Errorf("-slot %s: %w", s, err)
		}
		c.Slot = uint8(slot)
	}
	if s := parm.ByName["-msix"]; len(s) > 0 {
		p, err := f1.ParseMSIXPolicy(s)
		if err != nil {
			return nil, err
		}
		c.MSIX = p
	}
	if s := parm.ByName["-redis"]; len(s) > 0 {
		c.Redis = s
	}
	if s := parm.ByName["-name"]; len(s) > 0 {
		c.Name = s
	}
	return c, nil
}

func (c *Command) Main(args ...string) error {
	flag, args := flags.New(args, "-selftest")
	parm, args := parms.New(args, "-config", "-slot", "-msix", "-redis",
		"-name")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	cfg, err := Config(parm)
	if err != nil {
		return err
	}

	plat := c.Platform
	if len(cfg.Redis) > 0 && plat.Publisher == nil {
		pub, err := f1.DialRedis(cfg.Redis, cfg.Address().String())
		if err != nil {
			log.Print("warning: f1d: ", err)
		} else {
			defer pub.Close()
			plat.Publisher = pub
		}
	}

	d, err := f1.Load(cfg, plat)
	if err != nil {
		return &cmd.Exit{Status: -f1.Status(err), Err: err}
	}
	defer func() {
		if err := d.Unload(); err != nil {
			log.Print("err: f1d: unload: ", err)
		}
	}()
	log.Print("notice: f1d: ", cfg.Address(), " ready; device file @",
		f1.SockName(cfg.Name, d.Major()))

	if flag.ByName["-selftest"] {
		res, err := d.RunSelfTest()
		if err != nil {
			return &cmd.Exit{Status: -f1.Status(err), Err: err}
		}
		fmt.Println(&res)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case s := <-sig:
		log.Print("notice: f1d: ", s)
	case <-c.stopper():
	}
	return nil
}

func (c *Command) stopper() chan struct{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.stop == nil {
		c.stop = make(chan struct{})
	}
	return c.stop
}

// Close stops Main, which then unloads the driver.
func (c *Command) Close() error {
	stop := c.stopper()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	select {
	case <-stop:
	default:
		close(stop)
	}
	return nil
}
