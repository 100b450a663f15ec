package diskimage

import (
	"fmt"

	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// adfsInterleaved reports whether an image of totalSectors uses the
// L-format side-interleaved layout; S/M images are a single side laid out
// sequentially (§4.5 "The logical-to-physical sector mapping for ADFS L").
func adfsInterleaved(totalSectors int) bool {
	return totalSectors > ADFSTracksPerSide*ADFSSectorsPerTrack
}

// adfsImageOffset maps a logical sector to its byte offset within the
// image file. Logical sectors 0 and 1 (the free-space map) land at
// offsets 0 and 256 under both layouts.
func adfsImageOffset(interleaved bool, logical int) int {
	if interleaved {
		return ADFSPhysicalOffset(logical)
	}
	return logical * ADFSSectorSize
}

// ADFSReadFlow reads an ADFS disc image into a host file, transferring
// only the sectors the free-space map marks as used (§4.5).
type ADFSReadFlow struct {
	state       State
	bufAddr     uint32
	bufSize     uint32
	interleaved bool
	runs        [][2]int // [start sector, length in sectors]
	index       int
	image       []byte
	bytesDone   int64
}

func NewADFSReadFlow() *ADFSReadFlow { return &ADFSReadFlow{} }

func (f *ADFSReadFlow) Start(bufAddr, bufSize uint32) (StartResult, error) {
	if f.state != StateCreated {
		return StartResult{}, ErrInvalidState
	}
	const minBufSize = ADFSSectorSize * adfsMaxPartSectors
	if bufSize < minBufSize {
		return StartResult{}, beeberr.DiscFaultf("OSWORD buffer too small: %d < %d", bufSize, minBufSize)
	}
	f.bufAddr, f.bufSize = bufAddr, bufSize
	f.state = StateStarted

	cat := BuildADFSBlock(adfsCmdRead, bufAddr, 0, adfsMapSectors)
	return StartResult{FSCommand: "ADFS", Command: "*CAT", Reason: ReasonADFS, CatOSWords: [][]byte{cat}}, nil
}

func (f *ADFSReadFlow) SetCat(data []byte) error {
	if f.state != StateStarted {
		return ErrInvalidState
	}
	if len(data) != ADFSSectorSize*adfsMapSectors {
		return beeberr.DiscFaultf("bad ADFS catalogue payload size: %d", len(data))
	}
	cat, err := ParseADFSCatalogue(data[:ADFSSectorSize], data[ADFSSectorSize:])
	if err != nil {
		return err
	}
	f.runs = cat.UsedSectorRuns()
	f.interleaved = adfsInterleaved(cat.TotalSectors)
	f.image = make([]byte, cat.TotalSectors*ADFSSectorSize)
	f.state = StateCatSet
	return nil
}

func (f *ADFSReadFlow) GetNextPart() (*Part, error) {
	if f.state != StateCatSet {
		return nil, ErrInvalidState
	}
	if f.index >= len(f.runs) {
		return nil, nil
	}
	run := f.runs[f.index]
	block := BuildADFSBlock(adfsCmdRead, f.bufAddr, run[0], byte(run[1]))
	msg := fmt.Sprintf("Read sector %d (%.1f%%)", run[0], float64(f.index)*100/float64(len(f.runs)))
	return &Part{Message: msg, Reason: ReasonADFS, OSWord: block}, nil
}

func (f *ADFSReadFlow) SetLastOSWORDResult(data []byte) error {
	if f.state != StateCatSet {
		return ErrInvalidState
	}
	if f.index >= len(f.runs) {
		return beeberr.DiscFault("no disk-image part pending")
	}
	sectorData, err := splitOSWORDResult(data)
	if err != nil {
		return err
	}
	run := f.runs[f.index]
	expected := run[1] * ADFSSectorSize
	if len(sectorData) != expected {
		return beeberr.DiscFaultf("bad sector-run payload size: %d (want %d)", len(sectorData), expected)
	}
	for i := 0; i < run[1]; i++ {
		offset := adfsImageOffset(f.interleaved, run[0]+i)
		copy(f.image[offset:offset+ADFSSectorSize], sectorData[i*ADFSSectorSize:(i+1)*ADFSSectorSize])
	}
	f.bytesDone += int64(expected)
	f.index++
	return nil
}

func (f *ADFSReadFlow) Finish() (FinishResult, error) {
	if f.state != StateCatSet || f.index < len(f.runs) {
		return FinishResult{}, ErrInvalidState
	}
	f.state = StateFinished
	return FinishResult{}, nil
}

func (f *ADFSReadFlow) Image() []byte { return f.image }

func (f *ADFSReadFlow) BytesDone() int64 { return f.bytesDone }
func (f *ADFSReadFlow) BytesTotal() int64 {
	var total int64
	for _, run := range f.runs {
		total += int64(run[1]) * ADFSSectorSize
	}
	return total
}

// ADFSWriteFlow writes a host ADFS image to the BBC's disc (§4.5). The
// sector runs to transfer come from the image's own free-space map; the
// destination disc's map is fetched only to confirm the disc is an ADFS
// format of the same size before it is overwritten.
type ADFSWriteFlow struct {
	state       State
	bufAddr     uint32
	bufSize     uint32
	interleaved bool
	image       []byte
	runs        [][2]int
	index       int
	bytesDone   int64
}

func NewADFSWriteFlow(image []byte) *ADFSWriteFlow { return &ADFSWriteFlow{image: image} }

func (f *ADFSWriteFlow) Start(bufAddr, bufSize uint32) (StartResult, error) {
	if f.state != StateCreated {
		return StartResult{}, ErrInvalidState
	}
	const minBufSize = ADFSSectorSize * adfsMaxPartSectors
	if bufSize < minBufSize {
		return StartResult{}, beeberr.DiscFaultf("OSWORD buffer too small: %d < %d", bufSize, minBufSize)
	}
	if len(f.image) < ADFSSectorSize*adfsMapSectors {
		return StartResult{}, beeberr.DiscFault("Bad ADFS image (bad map)")
	}
	f.bufAddr, f.bufSize = bufAddr, bufSize
	f.state = StateStarted

	cat := BuildADFSBlock(adfsCmdRead, bufAddr, 0, adfsMapSectors)
	return StartResult{FSCommand: "ADFS", Command: "*CAT", Reason: ReasonADFS, CatOSWords: [][]byte{cat}}, nil
}

func (f *ADFSWriteFlow) SetCat(data []byte) error {
	if f.state != StateStarted {
		return ErrInvalidState
	}
	if len(data) != ADFSSectorSize*adfsMapSectors {
		return beeberr.DiscFaultf("bad ADFS catalogue payload size: %d", len(data))
	}
	discCat, err := ParseADFSCatalogue(data[:ADFSSectorSize], data[ADFSSectorSize:])
	if err != nil {
		return err
	}
	imageCat, err := ParseADFSCatalogue(f.image[:ADFSSectorSize], f.image[ADFSSectorSize:ADFSSectorSize*2])
	if err != nil {
		return err
	}
	if len(f.image) != imageCat.TotalSectors*ADFSSectorSize {
		return beeberr.DiscFaultf("image size %d does not match its own map", len(f.image))
	}
	if discCat.TotalSectors != imageCat.TotalSectors {
		return beeberr.DiscFaultf("image has %d sectors but disc has %d", imageCat.TotalSectors, discCat.TotalSectors)
	}
	f.runs = imageCat.UsedSectorRuns()
	f.interleaved = adfsInterleaved(imageCat.TotalSectors)
	f.state = StateCatSet
	return nil
}

func (f *ADFSWriteFlow) GetNextPart() (*Part, error) {
	if f.state != StateCatSet {
		return nil, ErrInvalidState
	}
	if f.index >= len(f.runs) {
		return nil, nil
	}
	run := f.runs[f.index]
	block := BuildADFSBlock(adfsCmdWrite, f.bufAddr, run[0], byte(run[1]))
	data := make([]byte, run[1]*ADFSSectorSize)
	for i := 0; i < run[1]; i++ {
		offset := adfsImageOffset(f.interleaved, run[0]+i)
		copy(data[i*ADFSSectorSize:(i+1)*ADFSSectorSize], f.image[offset:offset+ADFSSectorSize])
	}
	msg := fmt.Sprintf("Write sector %d (%.1f%%)", run[0], float64(f.index)*100/float64(len(f.runs)))
	return &Part{Message: msg, Reason: ReasonADFS, OSWord: block, Data: data}, nil
}

func (f *ADFSWriteFlow) SetLastOSWORDResult(data []byte) error {
	if f.state != StateCatSet {
		return ErrInvalidState
	}
	if f.index >= len(f.runs) {
		return beeberr.DiscFault("no disk-image part pending")
	}
	if _, err := splitOSWORDResult(data); err != nil {
		return err
	}
	f.bytesDone += int64(f.runs[f.index][1]) * ADFSSectorSize
	f.index++
	return nil
}

func (f *ADFSWriteFlow) Finish() (FinishResult, error) {
	if f.state != StateCatSet || f.index < len(f.runs) {
		return FinishResult{}, ErrInvalidState
	}
	f.state = StateFinished
	return FinishResult{FS: "ADFS"}, nil
}

func (f *ADFSWriteFlow) BytesDone() int64 { return f.bytesDone }
func (f *ADFSWriteFlow) BytesTotal() int64 {
	var total int64
	for _, run := range f.runs {
		total += int64(run[1]) * ADFSSectorSize
	}
	return total
}
