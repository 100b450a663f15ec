package bbcbytes

import (
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// afspCache memoizes compiled AFSP patterns. Volume catalogues re-match the
// same handful of wildcard specs (usually "*") on every *CAT and OSGBPB
// enumeration call, so recompiling the regexp each time would be wasted
// work; the cache is small and short-lived by design (go-cache, the same
// TTL-map library used elsewhere in the pack for ephemeral lookups).
var afspCache = gocache.New(5*time.Minute, 10*time.Minute)

// CompileAFSP turns an ambiguous file specification using BBC wildcards
// ('*' matches zero or more characters, '#' matches exactly one) into an
// anchored regexp matching the same set of strings.
func CompileAFSP(pattern string) (*regexp.Regexp, error) {
	if cached, ok := afspCache.Get(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, c := range pattern {
		switch c {
		case '*':
			b.WriteString(".*")
		case '#':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	afspCache.Set(pattern, re, gocache.DefaultExpiration)
	return re, nil
}

// MatchAFSP reports whether name matches the AFSP pattern.
func MatchAFSP(pattern, name string) (bool, error) {
	re, err := CompileAFSP(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}
