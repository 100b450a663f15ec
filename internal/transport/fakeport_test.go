package transport_test

import (
	"bytes"
	"io"
)

// fakePort is an in-memory Port: reads come from a fixed input buffer,
// writes accumulate into out. It implements transport.Port's
// io.ReadWriteCloser plus no-op SetDTR/SetRTS, the minimum a test needs
// without pulling in a real serial device (§1, out of scope).
type fakePort struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newFakePort(in []byte) *fakePort {
	return &fakePort{in: bytes.NewReader(in)}
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }
func (p *fakePort) Close() error                { return nil }
func (p *fakePort) SetDTR(on bool) error        { return nil }
func (p *fakePort) SetRTS(on bool) error        { return nil }

var _ io.ReadWriteCloser = (*fakePort)(nil)
