package bbcbytes

import "fmt"

// PascalString builds a length-prefixed string as used in a handful of
// OSGBPB enumeration responses (§4.3): a single length byte followed by
// that many raw bytes, with no terminator.
func PascalString(s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, fmt.Errorf("bbcbytes: string too long for pascal encoding: %d bytes", len(s))
	}
	out := make([]byte, 0, len(s)+1)
	out = append(out, byte(len(s)))
	out = append(out, s...)
	return out, nil
}

// ReadPascalString reads a pascal string from r.
func ReadPascalString(r *Reader) (string, error) {
	n, err := r.U8()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
