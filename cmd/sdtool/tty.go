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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode"

	"github.com/mattn/go-isatty"
	tty "github.com/mattn/go-tty"
)

const (
	keyInterrupt = 0x03
	keyEOF       = 0x04
	keyBackspace = 0x08
	keyDelete    = 0x7F
)

type runeReader interface {
	ReadRune() (rune, error)
}

// ttyTerminal edits lines on a raw-mode terminal. Raw mode turns off
// output processing, so Write translates LF to CRLF itself.
type ttyTerminal struct {
	in      runeReader
	out     io.Writer
	restore func() error
	closer  io.Closer
}

func openTTY() (*ttyTerminal, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal: %w", err)
	}
	return &ttyTerminal{in: t, out: t.Output(), restore: t.MustRaw(), closer: t}, nil
}

func (t *ttyTerminal) Write(p []byte) (int, error) {
	if _, err := t.out.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *ttyTerminal) echo(s string) {
	_, _ = io.WriteString(t.out, s)
}

// ReadLine collects printable runes until Enter. Backspace erases one rune,
// Ctrl-C cancels and Ctrl-D on an empty line ends input.
func (t *ttyTerminal) ReadLine(ctx context.Context) (string, error) {
	var line []rune
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := t.in.ReadRune()
		if err != nil {
			return "", err
		}
		switch r {
		case '\r', '\n':
			t.echo("\r\n")
			return string(line), nil
		case keyBackspace, keyDelete:
			if len(line) > 0 {
				line = line[:len(line)-1]
				t.echo("\b \b")
			}
		case keyInterrupt:
			t.echo("^C\r\n")
			return "", context.Canceled
		case keyEOF:
			if len(line) == 0 {
				return "", io.EOF
			}
		default:
			if unicode.IsPrint(r) {
				line = append(line, r)
				t.echo(string(r))
			}
		}
	}
}

func (t *ttyTerminal) Clear() error {
	_, err := io.WriteString(t.out, clearScreen)
	return err
}

func (t *ttyTerminal) Close() error {
	var errs []error
	if t.restore != nil {
		errs = append(errs, t.restore())
	}
	if t.closer != nil {
		errs = append(errs, t.closer.Close())
	}
	return errors.Join(errs...)
}

// isTerminal reports whether f is an interactive terminal. Character
// devices such as /dev/null are not.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
