// Package dispatch implements request dispatch (§4.7): a handler table
// keyed by request code, built by NewDefaultTable from the request constants the
// way rclone's fs.Command dispatch switches on a registered command name
// (fs/operations.go's Command machinery) — generalized here to a byte
// code instead of a string name, since OSFILE/OSFIND/etc. arrive as
// one-byte wire codes rather than named sub-commands.
package dispatch

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/metrics"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/session"
)

// HandlerFunc implements one request code's semantics against a session.
// A returned error is converted into a RESPONSE_ERROR frame if it is (or
// wraps) a *beeberr.Error; any other error is fatal and propagates to the
// caller, since it indicates a bug rather than a BBC-visible condition
// (§4.7 "other exceptions propagate (fatal)").
type HandlerFunc func(s *session.Session, payload []byte) (respCode byte, respPayload []byte, err error)

type entry struct {
	name  string
	quiet bool
	fn    HandlerFunc
}

// Table is the sparse request-code -> handler map (§4.7).
type Table struct {
	entries map[byte]entry
	dump    bool
	log     *logrus.Logger
	metrics *metrics.Registry
}

// NewTable returns an empty table. dump enables the optional hex packet
// dumping §4.7 describes; log receives it (Module O's logrus instance).
func NewTable(dump bool, log *logrus.Logger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{entries: map[byte]entry{}, dump: dump, log: log}
}

// SetMetrics attaches a metrics registry; Dispatch increments its
// per-request counter when set. Optional — a Table built without one
// simply skips metrics recording, the way dump logging is also opt-in.
func (t *Table) SetMetrics(m *metrics.Registry) { t.metrics = m }

// Register binds code to fn. quiet suppresses packet-dump logging for
// high-frequency codes (OSBGET/OSBPUT byte-at-a-time traffic would
// otherwise flood the log) even when dumping is enabled.
func (t *Table) Register(code byte, name string, quiet bool, fn HandlerFunc) {
	t.entries[code] = entry{name: name, quiet: quiet, fn: fn}
}

// Dispatch routes one decoded request to its handler, converting a
// beeberr.Error result into the RESPONSE_ERROR wire shape (§4.7, §6).
// Unknown codes get DiscFault by default, matching §7's host-fault
// default.
func (t *Table) Dispatch(s *session.Session, code byte, payload []byte) (respCode byte, respPayload []byte, fireAndForget bool) {
	fireAndForget = protocol.IsFireAndForget(code)

	e, ok := t.entries[code]
	if !ok {
		msg := fmt.Sprintf("Bad request (%#02x)", code)
		t.log.WithField("code", fmt.Sprintf("%#02x", code)).Warn(msg)
		return protocol.RespERROR, protocol.ErrorPayload(beeberr.CodeDiscFault, msg), fireAndForget
	}

	if t.metrics != nil {
		t.metrics.RequestsTotal.WithLabelValues(e.name).Inc()
	}

	if t.dump && !e.quiet {
		t.log.WithFields(logrus.Fields{
			"request": e.name,
			"payload": "\n" + bbcbytes.HexDump(payload),
		}).Debug("dispatch: request")
	}

	respCode, respPayload, err := e.fn(s, payload)
	if err != nil {
		be, ok := beeberr.As(err)
		if !ok {
			// Not a BBC-visible error: this is a bug, and per §4.7 it
			// propagates rather than being swallowed into a wire error.
			panic(err)
		}
		respCode = protocol.RespERROR
		respPayload = protocol.ErrorPayload(be.Code, be.Message)
	}

	if t.dump && !e.quiet {
		t.log.WithFields(logrus.Fields{
			"request": e.name,
			"payload": "\n" + bbcbytes.HexDump(respPayload),
		}).Debug("dispatch: response")
	}

	return respCode, respPayload, fireAndForget
}

// BoundDispatcher adapts a Table plus one Session into the
// transport.Dispatcher interface (one code/payload in, one
// code/payload/fireAndForget out) — the serial loop owns one Session per
// port and binds it once. The HTTP tunnel does not use it: it looks up
// the Session by sender_id and calls Table.Dispatch directly (§5).
type BoundDispatcher struct {
	Table   *Table
	Session *session.Session
}

func (b BoundDispatcher) Dispatch(code byte, payload []byte) (byte, []byte, bool) {
	return b.Table.Dispatch(b.Session, code, payload)
}
