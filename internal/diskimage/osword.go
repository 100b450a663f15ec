package diskimage

import (
	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// OSWORD reason codes used by the disk-image flows (§4.5).
const (
	ReasonDFS  byte = 0x7F // 8271/1770 disc access
	ReasonADFS byte = 0x72 // ADFS disc access
)

// addressOffset is where the 32-bit BBC data address lives in both
// parameter block shapes (§4.5 "fortuitously" the same offset for both).
const addressOffset = 1

// SetAddress writes the BBC-side buffer address into an OSWORD parameter
// block, just before the block is emitted.
func SetAddress(block []byte, addr uint32) {
	bbcbytes.PutU32LE(block, addressOffset, addr)
}

// Address reads the buffer address back out of a parameter block.
func Address(block []byte) uint32 {
	return bbcbytes.GetU32LE(block, addressOffset)
}

// Controller command bytes for the two reason codes: the 8271/1770 read/
// write-data commands for OSWORD &7F, and the ADFS read/write-sectors
// commands for OSWORD &72.
const (
	dfsCmdRead   byte = 0x53
	dfsCmdWrite  byte = 0x4B
	adfsCmdRead  byte = 0x08
	adfsCmdWrite byte = 0x0A
)

// BuildDFSBlock builds an OSWORD &7F parameter block: drive, data address,
// parameter count, command, track, sector, and the size/count byte (sector
// size code 1 = 256 bytes in bits 5-7, count in bits 0-4). The result byte
// at offset 10 is left zero for the BBC to fill.
func BuildDFSBlock(cmd, drive byte, addr uint32, track, sector, numSectors byte) []byte {
	block := make([]byte, 16)
	block[0] = drive
	SetAddress(block, addr)
	block[5] = 3
	block[6] = cmd
	block[7] = track
	block[8] = sector
	block[9] = 0x20 | (numSectors & 31)
	return block
}

// BuildADFSBlock builds an OSWORD &72 parameter block: data address,
// command, 24-bit logical start sector (big-endian, per the ADFS control
// block convention), and sector count. The result byte at offset 0 is
// left zero for the BBC to fill.
func BuildADFSBlock(cmd byte, addr uint32, startSector int, numSectors byte) []byte {
	block := make([]byte, 16)
	SetAddress(block, addr)
	block[5] = cmd
	block[6] = byte(startSector >> 16)
	block[7] = byte(startSector >> 8)
	block[8] = byte(startSector)
	block[9] = numSectors
	return block
}

// TransferSize returns the number of sectors (DFS) or the size byte as-is
// (ADFS) a parameter block requests, per the byte-9 convention in §4.5.
func TransferSize(reason byte, block []byte) byte {
	if reason == ReasonDFS {
		return block[9] & 31
	}
	return block[9]
}

// ResultByte returns the OSWORD result byte: offset 0 for ADFS, offset 10
// for DFS (§4.5).
func ResultByte(reason byte, block []byte) byte {
	if reason == ReasonADFS {
		return block[0]
	}
	return block[10]
}

// ClassifyResult maps a non-zero OSWORD result byte to a BBC error: the
// two known data-lost codes map to DataLost, everything else to a
// DiscFault (§4.5 "Data-lost detection").
func ClassifyResult(result byte) error {
	switch result {
	case 0:
		return nil
	case 0x0A, 0x18:
		return beeberr.DataLost()
	default:
		return beeberr.DiscFaultf("OSWORD result %#02x", result)
	}
}
