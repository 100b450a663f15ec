// Package beeberr defines the BBC-visible error taxonomy used throughout
// beeblinkd. Every error that can reach the BBC over the wire is, or wraps,
// a *beeberr.Error carrying the one-byte error code the ROM filing system
// expects.
package beeberr

import (
	"errors"
	"fmt"
)

// BBC error codes, per the filing system error conventions this server
// emulates.
const (
	CodeTooManyOpen    byte = 192
	CodeReadOnly       byte = 193
	CodeOpen           byte = 194
	CodeLocked         byte = 195
	CodeExists         byte = 196
	CodeTooBig         byte = 198
	CodeDiscFault      byte = 199
	CodeVolumeReadOnly byte = 201
	CodeBadName        byte = 204
	CodeBadDrive       byte = 205
	CodeBadDir         byte = 206
	CodeBadAttribute   byte = 207
	CodeFileNotFound   byte = 214
	CodeSyntax         byte = 220
	CodeChannel        byte = 222
	CodeEOF            byte = 223
	CodeBadString      byte = 253
	CodeBadCommand     byte = 254
	CodeDataLost       byte = 0xCA
	CodeWont           byte = 0x93
)

// Error is a BBC-visible error: a code plus a message, with an optional
// wrapped cause for host-side diagnostics.
type Error struct {
	Code    byte
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error with no wrapped cause.
func New(code byte, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code byte, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying cause as its Unwrap() target, preserving
// the original host-side error for logging while giving the BBC a clean
// code/message pair.
func Wrap(code byte, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func TooManyOpen() *Error    { return New(CodeTooManyOpen, "Too many open") }
func ReadOnly() *Error       { return New(CodeReadOnly, "Read only") }
func Open() *Error           { return New(CodeOpen, "Open") }
func Locked() *Error         { return New(CodeLocked, "Locked") }
func Exists() *Error         { return New(CodeExists, "Exists") }
func TooBig() *Error         { return New(CodeTooBig, "Too big") }
func VolumeReadOnly() *Error { return New(CodeVolumeReadOnly, "Volume read only") }
func BadName() *Error        { return New(CodeBadName, "Bad name") }
func BadDrive() *Error       { return New(CodeBadDrive, "Bad drive") }
func BadDir() *Error         { return New(CodeBadDir, "Bad directory") }
func BadAttribute() *Error   { return New(CodeBadAttribute, "Bad attribute") }
func FileNotFound() *Error   { return New(CodeFileNotFound, "File not found") }
func Channel() *Error        { return New(CodeChannel, "Channel") }
func EOFError() *Error       { return New(CodeEOF, "EOF") }
func BadString() *Error      { return New(CodeBadString, "Bad string") }
func BadCommand() *Error     { return New(CodeBadCommand, "Bad command") }
func DataLost() *Error       { return New(CodeDataLost, "Data lost") }
func Wont() *Error           { return New(CodeWont, "Won't") }

// Syntax builds a syntax error. An empty message is a sentinel the
// star-command dispatcher rewrites to "Syntax: NAME syntax_hint" once it
// knows which command was being parsed.
func Syntax(message string) *Error {
	return New(CodeSyntax, message)
}

// DiscFault wraps a generic host-side fault as a BBC "Disc fault".
func DiscFault(message string) *Error {
	return New(CodeDiscFault, message)
}

// DiscFaultf is the formatted form of DiscFault.
func DiscFaultf(format string, args ...interface{}) *Error {
	return Newf(CodeDiscFault, format, args...)
}

// As is a small convenience wrapper around errors.As for the common case of
// pulling a *Error out of an arbitrary error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Code returns the BBC error code for err, defaulting to CodeDiscFault if
// err is not (or does not wrap) a *Error.
func Code(err error) byte {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeDiscFault
}
