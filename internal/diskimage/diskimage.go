// Package diskimage implements the multi-part OSWORD-driven disk-image
// transfer flows (§4.5): DFS and ADFS, read and write. The shape — an
// ordered sequence of bounded-size parts pulled one at a time with a
// running offset, closed out by a single finish step — is modeled on the
// teacher's chunked/resumable upload flows (backend/webdav/chunking.go,
// backend/webdav/tus.go), generalized from HTTP chunk PUTs to OSWORD
// sector transfers.
package diskimage

import (
	"errors"
	"fmt"

	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// State is a flow's position in its Created -> Started -> CatSet ->
// (PartN...) -> Finished lifecycle (§3, §4.5).
type State int

const (
	StateCreated State = iota
	StateStarted
	StateCatSet
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateCatSet:
		return "cat-set"
	case StateFinished:
		return "finished"
	default:
		return "?"
	}
}

// ErrInvalidState is returned when a flow method is called out of order —
// e.g. SetCat called twice, or GetNextPart called before SetCat (§3
// "setCat precedes any getNextPart").
var ErrInvalidState = errors.New("invalid disk-image flow state")

// StartResult is returned by Flow.Start: what the BBC should do to fetch
// the catalogue (§4.5 Start). Reason is the OSWORD reason code every
// parameter block in this flow targets (0x7F DFS, 0x72 ADFS).
type StartResult struct {
	FSCommand  string
	Command    string
	Reason     byte
	CatOSWords [][]byte
}

// Part is one transfer step returned by GetNextPart: a progress message
// and the OSWORD parameter block describing it, with the data address
// field already filled in (§4.5 "the server fills the address field just
// before emitting"). Data is non-nil for write flows, where the server
// must poke it into the BBC's buffer before the OSWORD executes; read
// flows leave it nil since the bytes flow back through
// SetLastOSWORDResult instead.
type Part struct {
	Message string
	Reason  byte
	OSWord  []byte
	Data    []byte
}

// FinishResult is returned by Flow.Finish: the FS/command strings to
// leave the BBC in, often empty to leave BeebLink FS active (§4.5).
type FinishResult struct {
	FS      string
	Command string
}

// Flow is the common state machine every disk-image variant implements
// (§3 "Disk-image flow"). SetLastOSWORDResult's data carries the OSWORD
// result byte first, then (read flows only) the transferred bytes; a
// non-zero result byte fails the flow with DataLost/DiscFault per
// ClassifyResult (§4.5 "Data-lost detection").
type Flow interface {
	Start(bufAddr, bufSize uint32) (StartResult, error)
	SetCat(data []byte) error
	GetNextPart() (*Part, error)
	SetLastOSWORDResult(data []byte) error
	Finish() (FinishResult, error)

	BytesDone() int64
	BytesTotal() int64
}

// trackRef identifies one physical track/side pair to transfer.
type trackRef struct {
	side, track int
}

// sortTrackRefs orders tracks so one side is fully processed before the
// other, avoiding the DFS 1.20 head-unload artefact the source works
// around (§4.5, §8 round-trip law "sortTrackAddresses is idempotent").
func sortTrackRefs(refs []trackRef) []trackRef {
	out := make([]trackRef, len(refs))
	copy(out, refs)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func less(a, b trackRef) bool {
	if a.side != b.side {
		return a.side < b.side
	}
	return a.track < b.track
}

// splitOSWORDResult strips the leading OSWORD result byte from a
// SetLastOSWORDResult payload, converting a non-zero value into the
// DataLost/DiscFault error ClassifyResult assigns it (§4.5).
func splitOSWORDResult(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, beeberr.DiscFault("missing OSWORD result byte")
	}
	if err := ClassifyResult(data[0]); err != nil {
		return nil, err
	}
	return data[1:], nil
}

func progressMessage(verb string, side, track int, done, total int) string {
	pct := float64(0)
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	return fmt.Sprintf("%s S%d T%d (%.1f%%)", verb, side, track, pct)
}
