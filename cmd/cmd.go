// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package cmd defines the command interface of the multi-call f1 binary and
// a dispatcher that runs commands by name.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/platinasystems/f1irq/lang"
)

var Helpers = map[string]struct{}{
	"apropos": struct{}{},
	"help":    struct{}{},
	"man":     struct{}{},
	"usage":   struct{}{},
}

type Cmd interface {
	Apropos() lang.Alt
	Main(...string) error
	// String returns the command name.
	String() string
	Usage() string
	/* Optional
	Close() error
	Kind() Kind
	Man() lang.Alt
	*/
}

type manner interface {
	Man() lang.Alt
}

// Exit is returned by commands that have a specific process exit status.
type Exit struct {
	Status int
	Err    error
}

func (e *Exit) Error() string {
	if e.Err == nil {
		return fmt.Sprint("exit status ", e.Status)
	}
	return e.Err.Error()
}

func (e *Exit) Unwrap() error { return e.Err }

// Status returns the process exit status for the given command error.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var x *Exit
	if errors.As(err, &x) {
		return x.Status
	}
	return 1
}

// Swap hyphen prefaced helper flags with command, so,
//
//	COMMAND -[-]HELPER [ARGS]...
//
// becomes
//
//	HELPER COMMAND [ARGS]...
func Swap(args []string) {
	n := len(args)
	if n > 0 && strings.HasPrefix(args[0], "-") {
		opt := strings.TrimLeft(args[0], "-")
		if _, found := Helpers[opt]; found {
			args[0] = opt
		}
	} else if n > 1 && strings.HasPrefix(args[1], "-") {
		opt := strings.TrimLeft(args[1], "-")
		if _, found := Helpers[opt]; found {
			args[1] = args[0]
			args[0] = opt
		}
	}
}

type ByName map[string]Cmd

func (byName ByName) Plot(cmds ...Cmd) {
	for _, c := range cmds {
		byName[c.String()] = c
	}
}

func (byName ByName) Keys() []string {
	keys := make([]string, 0, len(byName))
	for k := range byName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Main runs the args[0] command. If args[0] is the name of the executable
// rather than a command, the remaining args are used.
func (byName ByName) Main(w io.Writer, args ...string) error {
	if len(args) > 0 {
		if _, found := byName[filepath.Base(args[0])]; found {
			args[0] = filepath.Base(args[0])
		} else {
			args = args[1:]
		}
	}
	Swap(args)
	if len(args) == 0 {
		return fmt.Errorf("missing command; try: %s",
			strings.Join(byName.Keys(), ", "))
	}
	name := args[0]
	if _, found := Helpers[name]; found {
		return byName.helper(w, args...)
	}
	c, found := byName[name]
	if !found {
		return fmt.Errorf("%s: command not found", name)
	}
	return c.Main(args[1:]...)
}

func (byName ByName) helper(w io.Writer, args ...string) error {
	helper := args[0]
	if len(args) < 2 {
		for _, k := range byName.Keys() {
			fmt.Fprintf(w, "%-8s %s\n", k, byName[k].Apropos())
		}
		return nil
	}
	c, found := byName[args[1]]
	if !found {
		return fmt.Errorf("%s: command not found", args[1])
	}
	switch helper {
	case "apropos":
		fmt.Fprintln(w, c.Apropos())
	case "man":
		if m, found := c.(manner); found {
			fmt.Fprintln(w, m.Man())
			break
		}
		fallthrough
	default:
		fmt.Fprintln(w, "usage:", c.Usage())
	}
	return nil
}

// Run is the main of a multi-call binary.
func (byName ByName) Run() {
	err := byName.Main(os.Stdout, os.Args...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(Status(err))
}
