// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommands(t *testing.T) {
	g := Goes()
	if s := strings.Join(g.Keys(), " "); s != "f1d f1io f1irq" {
		t.Fatal(s)
	}
	out := new(bytes.Buffer)
	if err := g.Main(out, "goes-f1", "f1irq", "-usage"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "usage: f1irq ") {
		t.Fatalf("%q", out.String())
	}
	out.Reset()
	if err := g.Main(out, "f1d", "-man"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "-msix optional|required") {
		t.Fatalf("%q", out.String())
	}
	if err := g.Main(out, "goes-f1", "f1x"); err == nil {
		t.Fatal("unknown command")
	}
}
