// Package tunnel implements the local HTTP transport that runs alongside
// the serial link (§2, §5): one POST endpoint per logical connection,
// framed the same way the serial wire is, dispatched through the same
// Table the serial loop uses. Routing is built on github.com/go-chi/chi/v5,
// the router the teacher itself uses for cmd/serve/s3's HTTP surface.
package tunnel

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/beeblink/beeblinkd/internal/dispatch"
	"github.com/beeblink/beeblinkd/internal/metrics"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/session"
)

// SenderIDHeader carries the sender_id a client should reuse on subsequent
// requests; set on every response, and minted fresh the first time a
// client POSTs without one (path segment "new") (§5 "one session per
// sender, independent of the others").
const SenderIDHeader = "X-Beeblink-Sender-Id"

// maxRequestBody bounds a single tunneled frame; generous enough for a
// disk-image part (a few KiB) with headroom, matching the spirit of the
// serial link's own OSWORD-sized transfers rather than accepting an
// unbounded body.
const maxRequestBody = 1 << 20

// NewSessionFunc constructs a fresh session for a newly seen sender_id,
// supplied by the caller (cmd/beeblinkd) since only it knows the
// discovered volume list and ROM table.
type NewSessionFunc func() *session.Session

// Handler serves the tunnel's HTTP surface: framed request/response over
// POST /request/{sender_id}, and (if a Prometheus registry was supplied)
// metrics at /metrics.
type Handler struct {
	table      *dispatch.Table
	newSession NewSessionFunc
	metrics    *metrics.Registry
	log        *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewHandler returns a Handler dispatching through table, minting sessions
// with newSession. m/log may be nil (metrics/logging become no-ops).
func NewHandler(table *dispatch.Table, newSession NewSessionFunc, m *metrics.Registry, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		table:      table,
		newSession: newSession,
		metrics:    m,
		log:        log,
		sessions:   make(map[string]*session.Session),
	}
}

// Routes builds the chi router this Handler serves. promReg, if non-nil,
// mounts /metrics via promhttp.
func (h *Handler) Routes(promReg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Post("/request/{sender_id}", h.handleRequest)
	if promReg != nil {
		r.Handle("/metrics", metrics.Handler(promReg))
	}
	return r
}

// sessionFor returns the session for senderID, minting both a fresh id
// (when senderID is "" or "new") and a fresh session on first sight.
func (h *Handler) sessionFor(senderID string) (string, *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if senderID == "" || senderID == "new" {
		senderID = uuid.NewString()
	}
	s, ok := h.sessions[senderID]
	if !ok {
		s = h.newSession()
		h.sessions[senderID] = s
		if h.metrics != nil {
			h.metrics.OpenSessions.Inc()
		}
	}
	return senderID, s
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "sender_id")
	senderID, s := h.sessionFor(senderID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	code, payload, err := protocol.Decode(bytes.NewReader(body))
	if err != nil {
		h.log.WithError(err).Warn("tunnel: malformed request frame")
		http.Error(w, "malformed request frame", http.StatusBadRequest)
		return
	}

	s.Lock()
	respCode, respPayload, _ := h.table.Dispatch(s, code, payload)
	s.Unlock()

	w.Header().Set(SenderIDHeader, senderID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(protocol.Encode(respCode, respPayload, false))
}
