package tunnel

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeblink/beeblinkd/internal/dispatch"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/session"
)

func newTestHandler() *Handler {
	table := dispatch.NewTable(false, nil)
	table.Register(protocol.ReqReset, "RESET", false, func(s *session.Session, payload []byte) (byte, []byte, error) {
		return protocol.RespYES, nil, nil
	})
	return NewHandler(table, func() *session.Session { return session.New(nil, nil) }, nil, nil)
}

func postFrame(t *testing.T, srv *httptest.Server, senderID string, code byte, payload []byte) (*http.Response, byte, []byte) {
	t.Helper()
	body := protocol.Encode(code, payload, true)
	resp, err := http.Post(srv.URL+"/request/"+senderID, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	respCode, respPayload, err := protocol.Decode(resp.Body)
	require.NoError(t, err)
	return resp, respCode, respPayload
}

func TestHandleRequestMintsSenderIDOnNew(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Routes(nil))
	defer srv.Close()

	resp, code, _ := postFrame(t, srv, "new", protocol.ReqReset, []byte{0})
	assert.Equal(t, protocol.RespYES, code)
	assert.NotEmpty(t, resp.Header.Get(SenderIDHeader))
}

func TestHandleRequestReusesSessionForSameSender(t *testing.T) {
	h := newTestHandler()
	srv := httptest.NewServer(h.Routes(nil))
	defer srv.Close()

	_, code, _ := postFrame(t, srv, "abc", protocol.ReqReset, []byte{0})
	require.Equal(t, protocol.RespYES, code)

	h.mu.Lock()
	n := len(h.sessions)
	h.mu.Unlock()
	assert.Equal(t, 1, n)

	_, code, _ = postFrame(t, srv, "abc", protocol.ReqReset, []byte{0})
	assert.Equal(t, protocol.RespYES, code)

	h.mu.Lock()
	n = len(h.sessions)
	h.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestHandleRequestMalformedBodyReturns400(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Routes(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/request/bad", "application/octet-stream", bytes.NewReader([]byte{0x00}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
