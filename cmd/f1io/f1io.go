// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package f1io reads and writes the DMA buffer of a loaded F1 driver.
package f1io

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"

	"github.com/platinasystems/f1irq/cmd"
	"github.com/platinasystems/f1irq/f1"
	"github.com/platinasystems/f1irq/lang"
)

const DefaultCount = 128

type Command struct {
	// W receives read data; nil for stdout.
	W io.Writer
}

func (Command) String() string { return "f1io" }

func (Command) Usage() string {
	return "f1io [-name NAME] [-major MAJOR] [-x] read [COUNT] | write DATA | selftest"
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "read or write the F1 driver's DMA buffer",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Open the device file of the f1d driver and read COUNT bytes from,
	or write DATA to, the start of its DMA buffer. Transfers are limited
	to 4096 bytes.

	A write that doesn't begin with '0' runs the DMA self-test. The
	selftest operation writes the self-test pattern, "ABCD".

OPTIONS
	-name NAME	device file name, default f1_driver
	-major MAJOR	device file number, default 1
	-x		print read data as a hex dump`,
	}
}

func (c Command) Main(args ...string) (err error) {
	flag, args := flags.New(args, "-x")
	parm, args := parms.New(args, "-name", "-major")
	if len(parm.ByName["-name"]) == 0 {
		parm.ByName["-name"] = f1.DefaultName
	}
	if len(parm.ByName["-major"]) == 0 {
		parm.ByName["-major"] = "1"
	}
	major, err := strconv.Atoi(parm.ByName["-major"])
	if err != nil {
		return fmt.Errorf("-major %s: %w", parm.ByName["-major"], err)
	}
	if len(args) == 0 {
		return fmt.Errorf("missing operation")
	}
	w := c.W
	if w == nil {
		w = os.Stdout
	}

	var data []byte
	count := DefaultCount
	switch args[0] {
	case "read":
		switch len(args) {
		case 1:
		case 2:
			if count, err = strconv.Atoi(args[1]); err != nil || count < 0 {
				return fmt.Errorf("COUNT: %s: invalid", args[1])
			}
		default:
			return fmt.Errorf("%v: unexpected", args[2:])
		}
	case "write":
		if len(args) != 2 {
			return fmt.Errorf("DATA: missing or too many")
		}
		data = []byte(args[1])
	case "selftest":
		if len(args) != 1 {
			return fmt.Errorf("%v: unexpected", args[1:])
		}
		data = []byte("ABCD")
	default:
		return fmt.Errorf("%s: unknown operation", args[0])
	}

	f, err := f1.Dial(parm.ByName["-name"], major)
	if err != nil {
		return err
	}
	defer f.Close()

	if data == nil {
		b := make([]byte, count)
		n, err := f.Read(b)
		if n > 0 {
			if flag.ByName["-x"] {
				fmt.Fprint(w, hex.Dump(b[:n]))
			} else {
				fmt.Fprintf(w, "%q\n", b[:n])
			}
		}
		return exit(err)
	}
	n, err := f.Write(data)
	fmt.Fprintln(w, "wrote", n, "bytes")
	return exit(err)
}

func exit(err error) error {
	if err == nil {
		return nil
	}
	return &cmd.Exit{Status: -f1.Status(err), Err: err}
}
