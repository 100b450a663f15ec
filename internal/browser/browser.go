// Package browser implements the volume browser's state machine and wire
// text contract, and the speed-test byte-throughput accounting (Module K).
// Per spec.md §1, the interactive browser's *visual* formatting (colors,
// screen layout) is an external collaborator's concern; what belongs to
// the core is the state machine driving it and the strings/sub-codes that
// cross the wire, both implemented here in full.
package browser

import (
	"sort"
	"strings"
	"sync"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/vfs"
)

// Key codes the BBC side can send while the browser is active. Named for
// what they do rather than any particular BBC keyboard scan code, per the
// "name things by what they do" convention.
const (
	KeyUp     byte = 0x8B
	KeyDown   byte = 0x8A
	KeyLeft   byte = 0x88
	KeyRight  byte = 0x89
	KeyReturn byte = 0x0D
	KeyEscape byte = 0x1B
	KeyBoot   byte = 'B'
)

// Result is what one browser interaction produces: the VOLUME_BROWSER
// response sub-code plus whatever text or volume selection goes with it
// (§6).
type Result struct {
	SubCode byte
	Text    string
	Volume  *vfs.Volume
}

// State is one session's volume-browser cursor state.
type State struct {
	mu      sync.Mutex
	active  bool
	volumes []*vfs.Volume
	cursor  int
}

// NewState returns a browser over the given discovered volumes, sorted by
// name for a stable cursor order.
func NewState(volumes []*vfs.Volume) *State {
	sorted := append([]*vfs.Volume(nil), volumes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &State{volumes: sorted}
}

// Open activates the browser at the first volume and returns the initial
// screen text.
func (b *State) Open() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.cursor = 0
	return Result{SubCode: protocol.BrowserPrintStringAndFlushKeyboardBuffer, Text: b.render()}
}

// HandleKey advances the browser's cursor/selection state in response to
// one BBC keypress (§4 Module K "Terminal-style UI state").
func (b *State) HandleKey(key byte) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || len(b.volumes) == 0 {
		return Result{SubCode: protocol.BrowserKeyIgnored}
	}

	switch key {
	case KeyUp, KeyLeft:
		b.cursor = (b.cursor - 1 + len(b.volumes)) % len(b.volumes)
		return Result{SubCode: protocol.BrowserPrintString, Text: b.render()}
	case KeyDown, KeyRight:
		b.cursor = (b.cursor + 1) % len(b.volumes)
		return Result{SubCode: protocol.BrowserPrintString, Text: b.render()}
	case KeyEscape:
		b.active = false
		return Result{SubCode: protocol.BrowserCanceled}
	case KeyReturn:
		vol := b.volumes[b.cursor]
		b.active = false
		return Result{SubCode: protocol.BrowserMounted, Volume: vol}
	case KeyBoot:
		vol := b.volumes[b.cursor]
		b.active = false
		return Result{SubCode: protocol.BrowserBoot, Volume: vol}
	default:
		return Result{SubCode: protocol.BrowserKeyIgnored}
	}
}

// Active reports whether the browser is currently accepting keys.
func (b *State) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// render produces the browser's current screen text: one volume name per
// line, the selected one marked. This is the input/output *contract*, not
// the visual presentation a real terminal client layers on top of it.
func (b *State) render() string {
	var lines []string
	for i, v := range b.volumes {
		marker := "  "
		if i == b.cursor {
			marker = "> "
		}
		lines = append(lines, bbcbytes.PadColumn(marker+v.Name, 32)+"("+v.Kind.String()+")")
	}
	return strings.Join(lines, bbcbytes.BNL) + bbcbytes.BNL
}
