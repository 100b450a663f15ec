package inf

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// Suffix is appended to a stored file's host path to find its sidecar.
const Suffix = ".inf"

// Path returns the sidecar path for a stored file at hostPath.
func Path(hostPath string) string {
	return hostPath + Suffix
}

// Read loads the metadata for the file at hostPath, given its BBC name
// (used as the Meta.Name default and as a fallback if the sidecar is
// missing or empty). A missing or zero-length sidecar implies Default(name)
// (§3, §6).
func Read(hostPath, name string) (Meta, error) {
	f, err := os.Open(Path(hostPath))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(name), nil
		}
		return Meta{}, beeberr.FromHostError(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return Default(name), nil
	}
	line := strings.TrimRight(scanner.Text(), "\r\n")
	if line == "" {
		return Default(name), nil
	}
	return parseLine(line)
}

// parseLine parses one INF first line: "NAME LOAD EXEC [ATTR|CRC=...]".
func parseLine(line string) (Meta, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Meta{}, beeberr.DiscFaultf("malformed INF line: %q", line)
	}

	load, err := parseHex(fields[1])
	if err != nil {
		return Meta{}, beeberr.DiscFaultf("malformed INF load address %q: %v", fields[1], err)
	}
	exec, err := parseHex(fields[2])
	if err != nil {
		return Meta{}, beeberr.DiscFaultf("malformed INF exec address %q: %v", fields[2], err)
	}

	m := Meta{Name: fields[0], Load: load, Exec: exec}

	if len(fields) >= 4 {
		tok := fields[3]
		switch {
		case strings.EqualFold(tok, "L"):
			m.Bits = AttrL
		case strings.HasPrefix(strings.ToUpper(tok), "CRC="):
			// Historical checksum annotation: ignored.
		default:
			if raw, err := strconv.ParseUint(tok, 16, 8); err == nil {
				m.Bits = AttrBits(raw)
			}
		}
	}

	return m, nil
}

// parseHex parses a load/exec address token, applying the sign-extension
// quirk: a 6-hex-digit token starting "FF" is taken to mean the 32-bit
// value formed by prepending another "FF" byte (§3, §6, §8).
func parseHex(tok string) (uint32, error) {
	if len(tok) == 6 && strings.HasPrefix(strings.ToUpper(tok), "FF") {
		tok = "FF" + tok
	}
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Write persists m to the sidecar for the file at hostPath.
func Write(hostPath string, m Meta) error {
	f, err := os.Create(Path(hostPath))
	if err != nil {
		return beeberr.FromHostError(err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %08X %08X", m.Name, m.Load, m.Exec)
	if s := m.Bits.String(); s != "" {
		line += " " + s
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		return beeberr.FromHostError(err)
	}
	return nil
}

// Remove deletes the sidecar for hostPath, if present. Missing sidecars are
// not an error: BeebLink files are sometimes manually dropped into a
// volume directory with no INF at all.
func Remove(hostPath string) error {
	err := os.Remove(Path(hostPath))
	if err != nil && !os.IsNotExist(err) {
		return beeberr.FromHostError(err)
	}
	return nil
}
