/* Monitor command parser.

   Copyright 2025, GSCX Authors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package parser

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/gscx/cell/emu/core"
)

type cmd struct {
	Name    string // Command name.
	Min     int    // Minimum match size.
	Process func(*cmdLine, *core.System) (bool, error)
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// ProcessCommand executes one monitor command line. The boolean result
// requests monitor exit.
func ProcessCommand(commandLine string, sys *core.System) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord()
	if command == "" {
		return false, nil
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}
	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}
	return match[0].Process(&line, sys)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	for l := 0; l < len(command); l++ {
		if match.Name[l] != command[l] {
			return false
		}
	}
	return len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	if command == "" {
		return []cmd{}
	}
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// CompleteCmd offers command name completions for the console.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord()
	if name == "" || !line.isEOL() {
		return nil
	}
	var matches []string
	for _, m := range cmdList {
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m.Name)
		}
	}
	slices.Sort(matches)
	return matches
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) {
		if !unicode.IsSpace(rune(line.line[line.pos])) {
			return
		}
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next whitespace delimited word, lower cased. Empty at end of
// line.
func (line *cmdLine) getWord() string {
	line.skipSpace()
	start := line.pos
	for line.pos < len(line.line) {
		ch := rune(line.line[line.pos])
		if unicode.IsSpace(ch) || ch == '#' {
			break
		}
		line.pos++
	}
	return strings.ToLower(line.line[start:line.pos])
}

const hex = "0123456789abcdef"

// Parse hex number.
func (line *cmdLine) getHex() (uint64, error) {
	line.skipSpace()
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	value := uint64(0)
	digits := 0
	for line.pos < len(line.line) {
		ch := rune(line.line[line.pos])
		if unicode.IsSpace(ch) {
			break
		}
		digit := strings.IndexRune(hex, unicode.ToLower(ch))
		if digit == -1 {
			return 0, errors.New("not a number")
		}
		value = (value << 4) + uint64(digit)
		digits++
		line.pos++
	}
	if digits == 0 {
		return 0, errors.New("not a number")
	}
	return value, nil
}
