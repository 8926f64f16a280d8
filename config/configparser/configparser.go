/* Configuration file parser for the GSCX Cell emulator.

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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := 'MEMORY' <number>K|M |
 *           'SPUS' <number> |
 *           'LOGFILE' <path>
 *
 * Directive names are case insensitive. Blank lines are ignored.
 */

// Config holds the parsed settings with defaults applied.
type Config struct {
	MemSize uint32 // Shared memory image size in bytes.
	NumSPUs uint32 // Coprocessor pool size.
	LogFile string // Optional log file path.
}

// Defaults returns the settings used when no file overrides them.
func Defaults() Config {
	return Config{
		MemSize: 256 * 1024 * 1024,
		NumSPUs: 6,
	}
}

// Current option line being parsed.
type optionLine struct {
	line string
	pos  int
}

// Load reads a configuration file, applying directives over the defaults.
func Load(name string) (Config, error) {
	file, err := os.Open(name)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()
	return parse(bufio.NewReader(file))
}

func parse(reader *bufio.Reader) (Config, error) {
	config := Defaults()
	lineNumber := 0
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return config, err
		}
		if err := line.parseLine(&config, lineNumber); err != nil {
			return config, err
		}
	}
	return config, nil
}

// Parse one line from file.
func (line *optionLine) parseLine(config *Config, lineNumber int) error {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}
	directive := strings.ToUpper(line.getWord())

	switch directive {
	case "MEMORY":
		size, err := line.parseSize()
		if err != nil {
			return fmt.Errorf("MEMORY: %s, line: %d", err.Error(), lineNumber)
		}
		config.MemSize = size

	case "SPUS":
		word := line.getWord()
		value, err := strconv.ParseUint(word, 10, 32)
		if err != nil || value == 0 {
			return fmt.Errorf("SPUS requires a positive count, line: %d", lineNumber)
		}
		config.NumSPUs = uint32(value)

	case "LOGFILE":
		word := line.getWord()
		if word == "" {
			return fmt.Errorf("LOGFILE requires a path, line: %d", lineNumber)
		}
		config.LogFile = word

	default:
		return fmt.Errorf("unknown directive: %s, line: %d", directive, lineNumber)
	}

	line.skipSpace()
	if !line.isEOL() {
		return fmt.Errorf("trailing text after %s, line: %d", directive, lineNumber)
	}
	return nil
}

// Memory size argument: decimal number with a K or M scale suffix.
func (line *optionLine) parseSize() (uint32, error) {
	word := line.getWord()
	if word == "" {
		return 0, errors.New("missing size")
	}

	scale := uint64(1)
	switch word[len(word)-1] {
	case 'K', 'k':
		scale = 1024
		word = word[:len(word)-1]
	case 'M', 'm':
		scale = 1024 * 1024
		word = word[:len(word)-1]
	}
	value, err := strconv.ParseUint(word, 10, 32)
	if err != nil || value == 0 {
		return 0, errors.New("invalid size value")
	}
	size := value * scale
	if size > 0xffffffff {
		return 0, errors.New("size too large")
	}
	return uint32(size), nil
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) {
		if !unicode.IsSpace(rune(line.line[line.pos])) {
			return
		}
		line.pos++
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next whitespace delimited word, empty at end of line.
func (line *optionLine) getWord() string {
	line.skipSpace()
	start := line.pos
	for line.pos < len(line.line) {
		ch := rune(line.line[line.pos])
		if unicode.IsSpace(ch) || ch == '#' {
			break
		}
		line.pos++
	}
	return line.line[start:line.pos]
}
