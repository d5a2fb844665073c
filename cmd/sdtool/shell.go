// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/console"
)

const (
	shellPrompt = "sd> "
	clearScreen = "\x1b[2J\x1b[H"
)

var errExit = errors.New("exit")

// terminal is the line-oriented surface the shell runs on: a UART console,
// the controlling terminal in raw mode, or plain stdin for scripts.
type terminal interface {
	io.Writer
	ReadLine(ctx context.Context) (string, error)
	Clear() error
}

var (
	_ terminal = (*console.Console)(nil)
	_ terminal = (*ttyTerminal)(nil)
)

// stdioTerminal reads lines from a pipe or file.
type stdioTerminal struct {
	in  *bufio.Reader
	out io.Writer
}

func newStdioTerminal(in io.Reader, out io.Writer) *stdioTerminal {
	return &stdioTerminal{in: bufio.NewReader(in), out: out}
}

func (t *stdioTerminal) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// ReadLine returns the next line without its terminator. A final line
// without a newline is returned before io.EOF.
func (t *stdioTerminal) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *stdioTerminal) Clear() error {
	_, err := io.WriteString(t.out, clearScreen)
	return err
}

type shellCommand struct {
	//nolint:revive // method expressions take the receiver first
	run  func(s *shell, ctx context.Context, args []string) error
	help string
}

// shell is a small command loop over a block device. It keeps a current
// sector that read and write operate on.
type shell struct {
	dev      *sdspi.Device
	term     terminal
	commands map[string]shellCommand
	sector   uint32
}

func newShell(dev *sdspi.Device, term terminal) *shell {
	s := &shell{dev: dev, term: term}
	s.commands = map[string]shellCommand{
		"help":  {help: "list commands", run: (*shell).cmdHelp},
		"info":  {help: "card state and CSD", run: (*shell).cmdInfo},
		"seek":  {help: "seek N: select sector N", run: (*shell).cmdSeek},
		"read":  {help: "dump the current sector", run: (*shell).cmdRead},
		"write": {help: "write HEX: write the current sector", run: (*shell).cmdWrite},
		"cls":   {help: "clear the screen", run: (*shell).cmdClear},
		"clear": {help: "clear the screen", run: (*shell).cmdClear},
		"echo":  {help: "echo ARGS: print arguments", run: (*shell).cmdEcho},
		"exit":  {help: "leave the shell", run: (*shell).cmdExit},
	}
	return s
}

func (s *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.term, format, args...)
}

// Run reads and executes commands until exit, EOF or cancellation. Command
// errors are printed and do not end the loop.
func (s *shell) Run(ctx context.Context) error {
	for {
		s.printf("%s", shellPrompt)
		line, err := s.term.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.printf("\n")
				return nil
			}
			return err
		}
		if err := s.execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.printf("error: %v\n", err)
		}
	}
}

func (s *shell) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := s.commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(s, ctx, fields[1:])
}

func (s *shell) cmdHelp(context.Context, []string) error {
	for _, name := range []string{"help", "info", "seek", "read", "write", "cls", "echo", "exit"} {
		s.printf("%-6s %s\n", name, s.commands[name].help)
	}
	return nil
}

func (s *shell) cmdInfo(context.Context, []string) error {
	if err := runInfo(s.term, s.dev); err != nil {
		return err
	}
	s.printf("Sector:     %d\n", s.sector)
	return nil
}

func (s *shell) cmdSeek(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: seek N")
	}
	sector, err := parseSector(args[0])
	if err != nil {
		return err
	}
	if err := s.dev.SeekSector(sector); err != nil {
		return err
	}
	s.sector = sector
	return nil
}

func (s *shell) cmdRead(ctx context.Context, _ []string) error {
	return runRead(ctx, s.term, s.dev, s.sector, 1)
}

func (s *shell) cmdWrite(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: write HEX")
	}
	return runWrite(s.term, s.dev, s.sector, strings.Join(args, ""))
}

func (s *shell) cmdClear(context.Context, []string) error {
	return s.term.Clear()
}

func (s *shell) cmdEcho(_ context.Context, args []string) error {
	s.printf("%s\n", strings.Join(args, " "))
	return nil
}

func (*shell) cmdExit(context.Context, []string) error {
	return errExit
}

func runShell(ctx context.Context, dev *sdspi.Device, cfg *config) error {
	var term terminal
	if cfg.consolePort != "" {
		con, err := console.Open(cfg.consolePort, cfg.baud)
		if err != nil {
			return err
		}
		defer func() { _ = con.Close() }()
		term = con
	} else if isTerminal(os.Stdin) {
		t, err := openTTY()
		if err != nil {
			return err
		}
		defer func() { _ = t.Close() }()
		term = t
	} else {
		term = newStdioTerminal(os.Stdin, os.Stdout)
	}

	_, _ = fmt.Fprintf(term, "SD card shell, %s. Type help for commands.\n", dev.State())
	return newShell(dev, term).Run(ctx)
}
