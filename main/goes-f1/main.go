// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// goes-f1 is the multi-call binary of the F1 driver daemon and its clients.
// Run it by command name, through a link, or as "goes-f1 COMMAND".
package main

import (
	"github.com/platinasystems/f1irq/cmd"
	"github.com/platinasystems/f1irq/cmd/f1d"
	"github.com/platinasystems/f1irq/cmd/f1io"
	"github.com/platinasystems/f1irq/cmd/f1irq"
)

func Goes() cmd.ByName {
	g := make(cmd.ByName)
	g.Plot(
		&f1d.Command{},
		f1io.Command{},
		f1irq.Command{},
	)
	return g
}

func main() {
	Goes().Run()
}
