// Package starcmd implements the *-command interpreter (§4.4, Module J):
// abbreviation matching over a static command table, the BLFS_ escape
// prefix, syntax-error enrichment, and fallback to *RUN. The matching
// engine is deliberately separate from the concrete command
// implementations in commands.go, the way the teacher keeps dispatch
// generic (fs.Command) separate from each backend's actual command
// handlers.
package starcmd

import (
	"fmt"
	"strings"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/cmdline"
	"github.com/beeblink/beeblinkd/internal/session"
)

// HandlerFunc implements one *-command's behavior. parts is the
// cmdline.Parse result with parts[0] replaced by whatever remained after
// the command name/abbreviation was consumed (possibly empty/absent); y
// is the original Y offset, passed through for handlers that need to
// report error positions relative to the raw input.
type HandlerFunc func(s *session.Session, parts []string, y int) (text string, err error)

// RunFallback is invoked when no command in the table matches; it
// implements *RUN-via-library (§4.4 "the dispatcher falls through to
// *RUN using the library directory as a fallback").
type RunFallback func(s *session.Session, parts []string, y int) (text string, err error)

// UnknownCommandError reports that no table entry (and no BLFS_ escape)
// matched the typed command. It carries the parsed parts so the request
// dispatcher can fall through to *RUN with them (§4.4); unwrapping yields
// the Bad command error the BBC sees if that fallback also fails.
type UnknownCommandError struct {
	Parts []string
	Y     int
}

func (e *UnknownCommandError) Error() string { return "Bad command" }

func (e *UnknownCommandError) Unwrap() error { return beeberr.BadCommand() }

// command is one table entry.
type command struct {
	name       string
	syntaxHint string
	handler    HandlerFunc
}

// Table is the static, ordered *-command table.
type Table struct {
	commands []command
	fallback RunFallback
}

// NewTable returns an empty table. fallback may be nil, in which case an
// unmatched command is a BadCommand error instead of attempting *RUN.
func NewTable(fallback RunFallback) *Table {
	return &Table{fallback: fallback}
}

// Register adds a command in table order — order matters, since matching
// tries commands in registration order and the first match wins (§4.4).
func (t *Table) Register(name, syntaxHint string, handler HandlerFunc) {
	t.commands = append(t.commands, command{name: strings.ToUpper(name), syntaxHint: syntaxHint, handler: handler})
}

// Dispatch parses raw as a BBC command line and routes it to the matching
// command, the BLFS_ escape hatch, or the *RUN fallback (§4.4).
func (t *Table) Dispatch(s *session.Session, raw []byte) (string, error) {
	parts, y, err := cmdline.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", beeberr.BadCommand()
	}

	typed := strings.ToUpper(parts[0])

	for _, cmd := range t.commands {
		if matched, newParts := matchCommand(cmd.name, typed, parts); matched {
			return t.invoke(s, cmd, newParts, y)
		}
	}

	// BLFS_ escape hatch: matches only when the suffix after "BLFS_"
	// exactly equals a command name (spec.md Open Questions — the source
	// matches only on an exact suffix, no abbreviation or trailing dot).
	if strings.HasPrefix(typed, "BLFS_") {
		suffix := typed[len("BLFS_"):]
		for _, cmd := range t.commands {
			if suffix == cmd.name {
				return t.invoke(s, cmd, parts, y)
			}
		}
	}

	if t.fallback != nil {
		return t.fallback(s, parts, y)
	}
	return "", &UnknownCommandError{Parts: parts, Y: y}
}

func (t *Table) invoke(s *session.Session, cmd command, parts []string, y int) (string, error) {
	text, err := cmd.handler(s, parts, y)
	if err != nil {
		if be, ok := beeberr.As(err); ok && be.Code == beeberr.CodeSyntax && be.Message == "" {
			return "", beeberr.Syntax(fmt.Sprintf("Syntax: %s %s", cmd.name, cmd.syntaxHint))
		}
		return "", err
	}
	return text, nil
}

// matchCommand tries every abbreviation NAME[0:i]+"." in increasing
// length, then the full name — accepting either an exact match or a typed
// part that continues past the name with a non-alphabetic character
// (§4.4). On a match it returns the parts slice with parts[0] replaced by
// whatever text followed the matched name/abbreviation, becoming (if
// non-empty) a new leading argument part.
func matchCommand(name, typed string, parts []string) (bool, []string) {
	for i := 1; i < len(name); i++ {
		abbr := name[:i] + "."
		if strings.HasPrefix(typed, abbr) {
			return true, splitAfterMatch(parts, typed[len(abbr):])
		}
	}
	if typed == name {
		return true, parts
	}
	if strings.HasPrefix(typed, name) {
		rest := typed[len(name):]
		if rest != "" && !isAlpha(rest[0]) {
			return true, splitAfterMatch(parts, rest)
		}
	}
	return false, nil
}

func isAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// splitAfterMatch rebuilds the parts list with the command name/
// abbreviation consumed: remainder (if non-empty) becomes a new part
// inserted ahead of whatever parts[1:] already held.
func splitAfterMatch(parts []string, remainder string) []string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, parts[0])
	if remainder != "" {
		out = append(out, remainder)
	}
	out = append(out, parts[1:]...)
	return out
}
