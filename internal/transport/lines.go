package transport

import (
	"bytes"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"github.com/gosuda/buildwatch/internal/domain"
)

// DefaultMaxLineBytes bounds a single raw line. Longer lines are split.
const DefaultMaxLineBytes = 1 << 20

// levelPrefix matches the level word the producer's text reporter prints
// at the start of a line, e.g. "success onPreInit - 0.012s".
var levelPrefix = regexp.MustCompile(`^(success|info|warn|warning|verbose|debug|error)(?:\s|$)`) //nolint:gochecknoglobals // compiled regexp

var prefixLevels = map[string]domain.Level{ //nolint:gochecknoglobals // lookup table
	"success": domain.LevelSuccess,
	"info":    domain.LevelInfo,
	"warn":    domain.LevelWarning,
	"warning": domain.LevelWarning,
	"verbose": domain.LevelDebug,
	"debug":   domain.LevelDebug,
	"error":   domain.LevelError,
}

// lineBuffer carries the unterminated tail of a channel between chunks.
type lineBuffer struct {
	carry []byte
	max   int
}

// feed appends data and returns every complete line, without its line
// terminator. A tail longer than max is cut at a rune boundary.
func (b *lineBuffer) feed(data []byte) [][]byte {
	b.carry = append(b.carry, data...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.carry, '\n')
		if i < 0 {
			break
		}
		if i > b.max {
			lines = append(lines, b.cut())
			continue
		}
		lines = append(lines, bytes.TrimSuffix(b.carry[:i], []byte{'\r'}))
		b.carry = b.carry[i+1:]
	}
	for len(b.carry) > b.max {
		lines = append(lines, b.cut())
	}

	if len(b.carry) == 0 {
		b.carry = nil
	}
	return lines
}

func (b *lineBuffer) cut() []byte {
	n := b.max
	for n > 0 && !utf8.RuneStart(b.carry[n]) {
		n--
	}
	if n == 0 {
		n = b.max
	}
	line := b.carry[:n]
	b.carry = b.carry[n:]
	return line
}

// flush returns the unterminated tail, if any.
func (b *lineBuffer) flush() ([]byte, bool) {
	if len(b.carry) == 0 {
		return nil, false
	}
	line := bytes.TrimSuffix(b.carry, []byte{'\r'})
	b.carry = nil
	return line, true
}

// lineAction maps one raw line to a LOG action. stderr lines are errors;
// stdout lines take the level printed in front of them, LOG otherwise.
func lineAction(ch Channel, line []byte, at time.Time, stripANSI bool) domain.Action {
	text := string(line)
	if stripANSI {
		text = ansi.Strip(text)
	}

	entry := domain.LogEntry{Text: text, Timestamp: at, Level: domain.LevelLog}
	if ch == Stderr {
		entry.Level = domain.LevelError
	} else if m := levelPrefix.FindStringSubmatch(text); m != nil {
		entry.Level = prefixLevels[m[1]]
	}
	if entry.Level == domain.LevelError {
		entry.Context = map[string]any{"stream": ch.String()}
	}

	return domain.Log{Entry: entry}
}
