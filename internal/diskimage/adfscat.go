package diskimage

import (
	"sort"

	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// ADFS L-format geometry (§4.5).
const (
	ADFSSectorSize      = 256
	ADFSSectorsPerTrack = 16
	ADFSSidesPerDisc    = 2
	ADFSTracksPerSide   = 80
	adfsMaxPartSectors  = 32 // <= 8 KiB per transfer part
	adfsMapSectors      = 2  // sectors 0 and 1 hold the free-space map
)

// adfsChecksum implements the running 255-based checksum described in
// spec.md §8: start at 255; for i = 254..0, if sum > 255 wrap it, then
// add byte i. The result must equal byte 255 of the sector.
func adfsChecksum(sector []byte) byte {
	sum := 255
	for i := 254; i >= 0; i-- {
		if sum > 255 {
			sum = sum - 255
		}
		sum += int(sector[i])
	}
	return byte(sum & 0xFF)
}

// VerifyADFSChecksums checks both map sectors against adfsChecksum,
// failing with the exact message spec.md's test golden expects.
func VerifyADFSChecksums(sector0, sector1 []byte) error {
	if adfsChecksum(sector0) != sector0[255] {
		return beeberr.DiscFault("Bad ADFS image (bad map)")
	}
	if adfsChecksum(sector1) != sector1[255] {
		return beeberr.DiscFault("Bad ADFS image (bad map)")
	}
	return nil
}

// ADFSFreeSpan is one entry in the free-space map: a byte range that is
// not in use.
type ADFSFreeSpan struct {
	Start, Length int // in bytes
}

// ADFSCatalogue is the parsed free-space map for an ADFS L-format disc.
type ADFSCatalogue struct {
	TotalSectors int
	Free         []ADFSFreeSpan
}

// ParseADFSCatalogue decodes the free-space map from the two map
// sectors, after checksum verification. The on-disk layout here follows
// the classic old-map convention: entry count at buffer offset 0x105
// (three bytes per entry: count*3), start addresses at offset 0, lengths
// at offset 0x100, and total disc size as a 24-bit value at offset 0xFC.
func ParseADFSCatalogue(sector0, sector1 []byte) (*ADFSCatalogue, error) {
	if err := VerifyADFSChecksums(sector0, sector1); err != nil {
		return nil, err
	}
	buf := append(append([]byte{}, sector0...), sector1...)

	total := int(buf[0xFC]) | int(buf[0xFD])<<8 | int(buf[0xFE])<<16

	cat := &ADFSCatalogue{TotalSectors: total}
	count := int(buf[0x105]) / 3
	for i := 0; i < count; i++ {
		startOff := i * 3
		lengthOff := 0x100 + i*3
		start := int(buf[startOff]) | int(buf[startOff+1])<<8 | int(buf[startOff+2])<<16
		length := int(buf[lengthOff]) | int(buf[lengthOff+1])<<8 | int(buf[lengthOff+2])<<16
		cat.Free = append(cat.Free, ADFSFreeSpan{Start: start, Length: length})
	}
	return cat, nil
}

// UsedSectorRuns returns contiguous runs of used sectors, each at most
// adfsMaxPartSectors long, derived by subtracting the free-space map
// from the full sector range (§4.5 "group contiguous used sectors into
// parts <= 32 sectors").
func (c *ADFSCatalogue) UsedSectorRuns() [][2]int {
	freeSector := make(map[int]bool)
	for _, span := range c.Free {
		startSector := span.Start / ADFSSectorSize
		numSectors := span.Length / ADFSSectorSize
		for s := startSector; s < startSector+numSectors; s++ {
			freeSector[s] = true
		}
	}
	for s := 0; s < adfsMapSectors; s++ {
		// the map sectors themselves are always used, never free.
		delete(freeSector, s)
	}

	var used []int
	for s := 0; s < c.TotalSectors; s++ {
		if !freeSector[s] {
			used = append(used, s)
		}
	}
	sort.Ints(used)

	var runs [][2]int
	i := 0
	for i < len(used) {
		start := used[i]
		end := start
		j := i + 1
		for j < len(used) && used[j] == end+1 && end-start+1 < adfsMaxPartSectors {
			end = used[j]
			j++
		}
		runs = append(runs, [2]int{start, end - start + 1})
		i = j
	}
	return runs
}

// ADFSPhysicalOffset converts a logical sector number into its physical
// byte offset within an L-format image (§4.5).
func ADFSPhysicalOffset(logicalSector int) int {
	track := logicalSector / ADFSSectorsPerTrack
	sector := logicalSector % ADFSSectorsPerTrack
	side := track / ADFSTracksPerSide
	track = track % ADFSTracksPerSide
	return ((track*2+side)*ADFSSectorsPerTrack + sector) * ADFSSectorSize
}
