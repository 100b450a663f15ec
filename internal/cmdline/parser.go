// Package cmdline implements the BBC command-line parser: the part of
// beeblinkd that turns a raw *command string into an ordered list of parts
// plus a Y offset, the way BBC DFS' GSINIT/GSREAD pair does on the BBC
// itself (§4.1).
package cmdline

import (
	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// Parse tokenizes raw into parts, honoring quotes and '|' escapes, and
// returns the zero-based offset into raw of the start of the second part
// (or len(raw) if fewer than two parts were produced).
//
// Escaping and quoting follow spec.md §4.1 exactly. The original
// tom-seddon/beeblink source is reported to have an off-by-one quirk in its
// doubled-quote handling; that source was not available to ground an exact
// replica (see DESIGN.md), so this implementation follows the textual rule
// instead: "" inside a quoted part is a literal '"'.
func Parse(raw []byte) (parts []string, y int, err error) {
	i := 0
	n := len(raw)

	// Leading whitespace produces no empty first part.
	for i < n && raw[i] == ' ' {
		i++
	}

	var current []byte
	haveCurrent := false
	partStart := i
	var pendingMask bool

	push := func() {
		if len(parts) == 1 {
			y = partStart
		}
		parts = append(parts, string(current))
		current = nil
		haveCurrent = false
	}

	appendByte := func(b byte) {
		if pendingMask {
			b |= 0x80
			pendingMask = false
		}
		current = append(current, b)
	}

	for i < n {
		c := raw[i]
		switch {
		case c == ' ':
			if haveCurrent {
				push()
			}
			for i < n && raw[i] == ' ' {
				i++
			}
			partStart = i
			continue

		case c == '"':
			if !haveCurrent {
				partStart = i
			}
			haveCurrent = true
			i++
			for {
				if i >= n {
					return nil, 0, beeberr.BadString()
				}
				if raw[i] == '"' {
					if i+1 < n && raw[i+1] == '"' {
						appendByte('"')
						i += 2
						continue
					}
					i++
					break
				}
				appendByte(raw[i])
				i++
			}

		case c == '|':
			if !haveCurrent {
				partStart = i
			}
			i++
			if i >= n {
				return nil, 0, beeberr.BadString()
			}
			x := raw[i]
			i++
			if x == '!' {
				pendingMask = true
				haveCurrent = true
				continue
			}
			b, err := escapeByte(x)
			if err != nil {
				return nil, 0, err
			}
			haveCurrent = true
			appendByte(b)

		default:
			if !haveCurrent {
				partStart = i
			}
			haveCurrent = true
			appendByte(c)
			i++
		}
	}

	if haveCurrent {
		push()
	}

	if len(parts) < 2 {
		y = n
	}

	return parts, y, nil
}

// escapeByte implements the |X escape table from spec.md §4.1.
func escapeByte(x byte) (byte, error) {
	switch {
	case x == '?':
		return 0x7F, nil
	case (x >= 'A' && x <= 'Z') || (x >= 'a' && x <= 'z') ||
		x == '@' || x == '[' || x == '\\' || x == ']' || x == '^' || x == '_':
		return x & 0x1F, nil
	case x == '`':
		return 0x1F, nil
	case x >= 0x80:
		return x ^ 0x20, nil
	case x < 32:
		return 0, beeberr.BadString()
	default:
		return x, nil
	}
}
