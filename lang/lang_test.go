// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package lang

import "testing"

var isr = Alt{
	EnUS: "interrupt handled",
	FrFR: "interruption traitée",
	DeDE: "Unterbrechung behandelt",
}

func Test(t *testing.T) {
	for lang, expect := range isr {
		Lang = lang
		if s := isr.String(); s != expect {
			t.Fatalf("%q != %q", s, expect)
		} else {
			t.Logf("%s: %s", lang, s)
		}
	}
}

func TestFallback(t *testing.T) {
	Lang = JaJP
	defer func() { Lang = "" }()
	if s := isr.String(); s != isr[EnUS] {
		t.Fatalf("%q != %q", s, isr[EnUS])
	}
}
