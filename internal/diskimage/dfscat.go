package diskimage

import (
	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// DFS geometry constants. The "logical DFS track" this server's image
// layout uses is 10 sectors of 256 bytes each (§4.5).
const (
	DFSSectorSize      = 256
	DFSSectorsPerTrack = 10
	DFSTrackSizeBytes  = DFSSectorSize * DFSSectorsPerTrack
	dfsCatSectors      = 2 // sectors 0 and 1 hold the catalogue
)

// DFSCatalogueEntry is one file entry parsed from a DFS catalogue.
type DFSCatalogueEntry struct {
	Name        string
	Dir         byte
	Locked      bool
	StartSector int
	Length      int
}

// DFSCatalogue is a parsed single-side DFS catalogue (sectors 0 and 1).
type DFSCatalogue struct {
	Title      string
	BootOption int
	NumSectors int
	Entries    []DFSCatalogueEntry
}

// ParseDFSCatalogue decodes the two 256-byte catalogue sectors for one
// side. The total-sector field (sector1[6] bits 0-1 and sector1[7]) is taken at face value: the
// source historically reports one more track than the manual's formula
// would, and per spec.md's Open Questions that observed value is
// preserved rather than "corrected" (see DESIGN.md).
func ParseDFSCatalogue(sector0, sector1 []byte) (*DFSCatalogue, error) {
	if len(sector0) != DFSSectorSize || len(sector1) != DFSSectorSize {
		return nil, beeberr.DiscFaultf("bad DFS catalogue sector size")
	}

	cat := &DFSCatalogue{
		Title:      decodeDFSTitle(sector0, sector1),
		BootOption: int(sector1[6]>>4) & 0x3,
	}
	cat.NumSectors = (int(sector1[6]&0x3) << 8) | int(sector1[7])

	numFiles := int(sector1[5]) / 8
	for i := 0; i < numFiles; i++ {
		nameOff := 8 + i*8
		infoOff := 8 + i*8
		name := trimSpaces(sector0[nameOff : nameOff+7])
		dirByte := sector0[nameOff+7]
		dir := dirByte & 0x7F
		locked := dirByte&0x80 != 0

		lenLo := uint32(sector1[infoOff+4]) | uint32(sector1[infoOff+5])<<8
		aux := sector1[infoOff+6]
		startLo := sector1[infoOff+7]

		length := int(lenLo) | (int((aux&0x30)>>4) << 16)
		startSector := int(startLo) | (int(aux&0x03) << 8)

		cat.Entries = append(cat.Entries, DFSCatalogueEntry{
			Name:        name,
			Dir:         dir,
			Locked:      locked,
			StartSector: startSector,
			Length:      length,
		})
	}

	return cat, nil
}

func decodeDFSTitle(sector0, sector1 []byte) string {
	raw := append(append([]byte{}, sector0[0:8]...), sector1[0:4]...)
	return trimSpaces(raw)
}

func trimSpaces(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}

// UsedTracks returns the sorted set of tracks the catalogue's files
// occupy, plus track 0 for the catalogue itself. The "every track" request
// variant uses AllTracks instead.
func (c *DFSCatalogue) UsedTracks() []int {
	used := map[int]bool{0: true}
	for _, e := range c.Entries {
		sectors := (e.Length + DFSSectorSize - 1) / DFSSectorSize
		if sectors == 0 {
			sectors = 1
		}
		for s := e.StartSector; s < e.StartSector+sectors; s++ {
			used[s/DFSSectorsPerTrack] = true
		}
	}
	var tracks []int
	for t := range used {
		tracks = append(tracks, t)
	}
	sortInts(tracks)
	return tracks
}

// AllTracks returns every track up to the catalogue's reported sector
// count, for the "all sectors" transfer mode.
func (c *DFSCatalogue) AllTracks() []int {
	numTracks := c.NumSectors / DFSSectorsPerTrack
	tracks := make([]int, numTracks)
	for i := range tracks {
		tracks[i] = i
	}
	return tracks
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// DFSTrackOffset returns the byte offset of a (side, track) pair within
// a double-sided image, which interleaves tracks on successive sides
// (§4.5 "offset = (track*2 + side) * track_size_bytes").
func DFSTrackOffset(side, track int) int {
	return (track*2 + side) * DFSTrackSizeBytes
}

// DFSSingleSidedOffset is the byte offset for a single-sided image, which
// has no side interleaving.
func DFSSingleSidedOffset(track int) int {
	return track * DFSTrackSizeBytes
}
