package diskimage

import (
	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// dfsDrive maps a side to the DFS drive number its OSWORD addresses:
// side 0 is drive 0, side 1 is drive 2.
func dfsDrive(side int) byte {
	return byte(side * 2)
}

// DFSReadFlow reads a DFS disc image from the BBC into a host file,
// tracking the running read pointer the way backend/webdav/tus.go tracks
// an upload offset (§4.5).
type DFSReadFlow struct {
	state         State
	bufAddr       uint32
	bufSize       uint32
	doubleSided   bool
	allSectors    bool
	tracksPerSide int
	tracks        []trackRef
	index         int
	image         []byte
	bytesDone     int64
}

// NewDFSReadFlow returns a flow for reading a DFS image. doubleSided
// selects whether both heads are transferred; allSectors requests every
// track rather than just the ones the catalogue's files occupy.
func NewDFSReadFlow(doubleSided, allSectors bool) *DFSReadFlow {
	return &DFSReadFlow{doubleSided: doubleSided, allSectors: allSectors}
}

func (f *DFSReadFlow) Start(bufAddr, bufSize uint32) (StartResult, error) {
	if f.state != StateCreated {
		return StartResult{}, ErrInvalidState
	}
	if bufSize < DFSTrackSizeBytes {
		return StartResult{}, beeberr.DiscFaultf("OSWORD buffer too small: %d < %d", bufSize, DFSTrackSizeBytes)
	}
	f.bufAddr, f.bufSize = bufAddr, bufSize
	f.state = StateStarted

	result := StartResult{FSCommand: "DFS", Command: "*CAT", Reason: ReasonDFS}
	numSides := 1
	if f.doubleSided {
		numSides = 2
	}
	for side := 0; side < numSides; side++ {
		result.CatOSWords = append(result.CatOSWords,
			BuildDFSBlock(dfsCmdRead, dfsDrive(side), bufAddr, 0, 0, dfsCatSectors))
	}
	return result, nil
}

func (f *DFSReadFlow) SetCat(data []byte) error {
	if f.state != StateStarted {
		return ErrInvalidState
	}
	sideBytes := DFSSectorSize * dfsCatSectors
	numSides := 1
	if f.doubleSided {
		numSides = 2
	}
	if len(data) != sideBytes*numSides {
		return beeberr.DiscFaultf("bad DFS catalogue payload size: %d", len(data))
	}

	var tracks []trackRef
	for side := 0; side < numSides; side++ {
		sector0 := data[side*sideBytes : side*sideBytes+DFSSectorSize]
		sector1 := data[side*sideBytes+DFSSectorSize : side*sideBytes+sideBytes]
		cat, err := ParseDFSCatalogue(sector0, sector1)
		if err != nil {
			return err
		}
		if n := (cat.NumSectors + DFSSectorsPerTrack - 1) / DFSSectorsPerTrack; n > f.tracksPerSide {
			f.tracksPerSide = n
		}
		var sideTracks []int
		if f.allSectors {
			sideTracks = cat.AllTracks()
		} else {
			sideTracks = cat.UsedTracks()
		}
		for _, t := range sideTracks {
			tracks = append(tracks, trackRef{side: side, track: t})
		}
	}
	f.tracks = sortTrackRefs(tracks)
	f.image = make([]byte, f.tracksPerSide*numSides*DFSTrackSizeBytes)
	f.state = StateCatSet
	return nil
}

func (f *DFSReadFlow) GetNextPart() (*Part, error) {
	if f.state != StateCatSet {
		return nil, ErrInvalidState
	}
	if f.index >= len(f.tracks) {
		return nil, nil
	}
	ref := f.tracks[f.index]
	block := BuildDFSBlock(dfsCmdRead, dfsDrive(ref.side), f.bufAddr, byte(ref.track), 0, DFSSectorsPerTrack)
	msg := progressMessage("Read", ref.side, ref.track, f.index, len(f.tracks))
	return &Part{Message: msg, Reason: ReasonDFS, OSWord: block}, nil
}

func (f *DFSReadFlow) SetLastOSWORDResult(data []byte) error {
	if f.state != StateCatSet {
		return ErrInvalidState
	}
	if f.index >= len(f.tracks) {
		return beeberr.DiscFault("no disk-image part pending")
	}
	trackData, err := splitOSWORDResult(data)
	if err != nil {
		return err
	}
	if len(trackData) != DFSTrackSizeBytes {
		return beeberr.DiscFaultf("bad track payload size: %d", len(trackData))
	}
	ref := f.tracks[f.index]
	var offset int
	if f.doubleSided {
		offset = DFSTrackOffset(ref.side, ref.track)
	} else {
		offset = DFSSingleSidedOffset(ref.track)
	}
	copy(f.image[offset:offset+DFSTrackSizeBytes], trackData)
	f.bytesDone += int64(len(trackData))
	f.index++
	return nil
}

func (f *DFSReadFlow) Finish() (FinishResult, error) {
	if f.state != StateCatSet || f.index < len(f.tracks) {
		return FinishResult{}, ErrInvalidState
	}
	f.state = StateFinished
	return FinishResult{}, nil
}

// Image returns the accumulated image bytes, valid once Finish has
// succeeded.
func (f *DFSReadFlow) Image() []byte { return f.image }

func (f *DFSReadFlow) BytesDone() int64  { return f.bytesDone }
func (f *DFSReadFlow) BytesTotal() int64 { return int64(len(f.tracks)) * DFSTrackSizeBytes }

// DFSWriteFlow writes a host DFS image to the BBC's disc, track by
// track (§4.5).
type DFSWriteFlow struct {
	state       State
	bufAddr     uint32
	bufSize     uint32
	doubleSided bool
	image       []byte
	tracks      []trackRef
	index       int
	bytesDone   int64
}

// NewDFSWriteFlow returns a flow for writing host image bytes to a BBC
// disc.
func NewDFSWriteFlow(image []byte, doubleSided bool) *DFSWriteFlow {
	return &DFSWriteFlow{image: image, doubleSided: doubleSided}
}

func (f *DFSWriteFlow) Start(bufAddr, bufSize uint32) (StartResult, error) {
	if f.state != StateCreated {
		return StartResult{}, ErrInvalidState
	}
	if bufSize < DFSTrackSizeBytes {
		return StartResult{}, beeberr.DiscFaultf("OSWORD buffer too small: %d < %d", bufSize, DFSTrackSizeBytes)
	}
	f.bufAddr, f.bufSize = bufAddr, bufSize
	f.state = StateStarted

	// The destination disc's catalogue is fetched purely to verify the
	// disc is formatted and compatible before anything is overwritten.
	result := StartResult{FSCommand: "DFS", Command: "*CAT", Reason: ReasonDFS}
	numSides := 1
	if f.doubleSided {
		numSides = 2
	}
	for side := 0; side < numSides; side++ {
		result.CatOSWords = append(result.CatOSWords,
			BuildDFSBlock(dfsCmdRead, dfsDrive(side), bufAddr, 0, 0, dfsCatSectors))
	}
	return result, nil
}

func (f *DFSWriteFlow) SetCat(data []byte) error {
	if f.state != StateStarted {
		return ErrInvalidState
	}
	sideBytes := DFSSectorSize * dfsCatSectors
	numSides := 1
	if f.doubleSided {
		numSides = 2
	}
	if len(data) != sideBytes*numSides {
		return beeberr.DiscFaultf("bad DFS catalogue payload size: %d", len(data))
	}
	// Every track of the image is written; the track list comes from the
	// image's own size, the disc catalogue just has to parse.
	if len(f.image) == 0 || len(f.image)%(DFSTrackSizeBytes*numSides) != 0 {
		return beeberr.DiscFaultf("image size %d does not match disc format", len(f.image))
	}
	tracksPerSide := len(f.image) / (DFSTrackSizeBytes * numSides)
	if tracksPerSide > 80 {
		return beeberr.DiscFaultf("image size %d does not match disc format", len(f.image))
	}

	for side := 0; side < numSides; side++ {
		sector0 := data[side*sideBytes : side*sideBytes+DFSSectorSize]
		sector1 := data[side*sideBytes+DFSSectorSize : side*sideBytes+sideBytes]
		if _, err := ParseDFSCatalogue(sector0, sector1); err != nil {
			return err
		}
	}

	var tracks []trackRef
	for side := 0; side < numSides; side++ {
		for t := 0; t < tracksPerSide; t++ {
			tracks = append(tracks, trackRef{side: side, track: t})
		}
	}
	f.tracks = sortTrackRefs(tracks)
	f.state = StateCatSet
	return nil
}

func (f *DFSWriteFlow) GetNextPart() (*Part, error) {
	if f.state != StateCatSet {
		return nil, ErrInvalidState
	}
	if f.index >= len(f.tracks) {
		return nil, nil
	}
	ref := f.tracks[f.index]
	var offset int
	if f.doubleSided {
		offset = DFSTrackOffset(ref.side, ref.track)
	} else {
		offset = DFSSingleSidedOffset(ref.track)
	}
	block := BuildDFSBlock(dfsCmdWrite, dfsDrive(ref.side), f.bufAddr, byte(ref.track), 0, DFSSectorsPerTrack)
	data := make([]byte, DFSTrackSizeBytes)
	copy(data, f.image[offset:offset+DFSTrackSizeBytes])
	msg := progressMessage("Write", ref.side, ref.track, f.index, len(f.tracks))
	return &Part{Message: msg, Reason: ReasonDFS, OSWord: block, Data: data}, nil
}

func (f *DFSWriteFlow) SetLastOSWORDResult(data []byte) error {
	if f.state != StateCatSet {
		return ErrInvalidState
	}
	if f.index >= len(f.tracks) {
		return beeberr.DiscFault("no disk-image part pending")
	}
	if _, err := splitOSWORDResult(data); err != nil {
		return err
	}
	f.bytesDone += DFSTrackSizeBytes
	f.index++
	return nil
}

func (f *DFSWriteFlow) Finish() (FinishResult, error) {
	if f.state != StateCatSet || f.index < len(f.tracks) {
		return FinishResult{}, ErrInvalidState
	}
	f.state = StateFinished
	return FinishResult{FS: "DFS"}, nil
}

func (f *DFSWriteFlow) BytesDone() int64  { return f.bytesDone }
func (f *DFSWriteFlow) BytesTotal() int64 { return int64(len(f.tracks)) * DFSTrackSizeBytes }
