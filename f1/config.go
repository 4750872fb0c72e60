// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package f1

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/platinasystems/f1irq/elib/hw/pci"
)

const (
	DefaultName   = "f1_driver"
	DefaultConfig = "/etc/goes/f1.yaml"
)

// Config locates the card and chooses its BARs. Domain, Bus, Slot and
// Function are hex in the yaml file.
type Config struct {
	Domain   uint16     `yaml:"domain"`
	Bus      uint8      `yaml:"bus"`
	Slot     uint8      `yaml:"slot"`
	Function uint8      `yaml:"function"`
	DdrBar   uint       `yaml:"ddr_bar"`
	OclBar   uint       `yaml:"ocl_bar"`
	MSIX     MSIXPolicy `yaml:"msix"`
	Name     string     `yaml:"name"`
	// Redis is the host:port that results are published to; empty to
	// disable.
	Redis string `yaml:"redis,omitempty"`
}

func NewConfig() *Config {
	return &Config{
		Slot:   0x0f,
		DdrBar: 3,
		OclBar: 0,
		MSIX:   MSIXOptional,
		Name:   DefaultName,
	}
}

func (c *Config) Address() pci.BusAddress {
	return pci.BusAddress{
		Domain: c.Domain,
		Bus:    c.Bus,
		Slot:   c.Slot,
		Fn:     c.Function,
	}
}

// LoadConfig overlays the named yaml file on c. A missing file leaves c
// unchanged.
func LoadConfig(fn string, c *Config) error {
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err = yaml.UnmarshalStrict(b, c); err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	return nil
}
