package bbcbytes

import "github.com/mattn/go-runewidth"

// PadColumn right-pads s with spaces to the given display width, using
// go-runewidth so the padding stays correct even though BBC catalogue
// entries are normally 7-bit ASCII (a handful of volumes carry 8-bit
// "pound sign" style filenames that runewidth still measures as width 1,
// unlike some East Asian code points it treats as width 2).
func PadColumn(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	pad := width - w
	b := make([]byte, len(s), len(s)+pad)
	copy(b, s)
	for i := 0; i < pad; i++ {
		b = append(b, ' ')
	}
	return string(b)
}

// BNL is the BBC newline sequence (CR LF) used in all textual catalogue
// and help responses (§ GLOSSARY).
const BNL = "\r\n"
