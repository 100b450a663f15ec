// Package inf reads and writes BeebLink's INF sidecar metadata files: one
// text file per stored BBC file, holding its name, load/exec addresses,
// and attribute bits (§3, §6). Modeled on backend/local/metadata.go's
// sidecar-metadata read/write shape, generalized from filesystem
// mode/uid/gid/xattrs to BBC load/exec/attr.
package inf

// AttrBits is the BBC attribute bitset: R (readable), W (writable), L
// (DFS-locked).
type AttrBits uint8

const (
	AttrR AttrBits = 1 << iota
	AttrW
	AttrL
)

// Locked reports whether the L (DFS-locked) bit is set.
func (b AttrBits) Locked() bool {
	return b&AttrL != 0
}

// String renders the bitset the way DFS *INFO/*CAT listings do: "L" if
// locked, empty otherwise. Only L is surfaced textually; R/W are tracked
// for completeness but have no DFS-visible rendering.
func (b AttrBits) String() string {
	if b.Locked() {
		return "L"
	}
	return ""
}

// Meta is the parsed contents of one INF sidecar's first line.
type Meta struct {
	Name string
	Load uint32
	Exec uint32
	Bits AttrBits
}

// DefaultLoad and DefaultExec are the addresses used when a file carries no
// INF metadata at all (§3 "Default addresses").
const (
	DefaultLoad uint32 = 0xFFFF0E00
	DefaultExec uint32 = 0xFFFF0E00
	// ShouldntLoad/ShouldntExec are the sentinel addresses that cause *RUN
	// to fail with "Won't" (§3).
	ShouldntLoad uint32 = 0xFFFFFFFF
	ShouldntExec uint32 = 0xFFFFFFFF
)

// Default returns the Meta implied by a missing or zero-length INF file:
// the given name, DEFAULT_LOAD/DEFAULT_EXEC, and no attributes.
func Default(name string) Meta {
	return Meta{Name: name, Load: DefaultLoad, Exec: DefaultExec}
}
