package dfs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/vfs"
)

var opt4Descriptions = [4]string{"off", "LOAD", "RUN", "EXEC"}

// GetCAT formats a *CAT-style catalogue listing for one drive (§4.2).
func (t *Type) GetCAT(path vfs.FilePath, state vfs.State) (string, error) {
	drive := path.Drive.Value
	title, err := readTitle(path.Volume, drive)
	if err != nil {
		return "", err
	}
	opt, err := readOpt4(path.Volume, drive)
	if err != nil {
		return "", err
	}
	files, err := listDrive(path.Volume, drive)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
	}
	b.WriteString(bbcbytes.BNL)
	b.WriteString("Volume: " + path.Volume.Name)
	b.WriteString(bbcbytes.BNL)

	driveLine := "Drive " + drive + " (" + strconv.Itoa(opt) + " - " + opt4Descriptions[opt] + ")"
	b.WriteString(bbcbytes.PadColumn(driveLine, 20))
	if state != nil {
		b.WriteString("Dir :" + state.CurrentDrive() + "." + state.CurrentDir())
		b.WriteString(bbcbytes.BNL)
		b.WriteString(strings.Repeat(" ", 20))
		b.WriteString("Lib :" + state.LibraryDrive() + "." + state.LibraryDir())
	}
	b.WriteString(bbcbytes.BNL)
	b.WriteString(bbcbytes.BNL)

	currentDir := ""
	if state != nil {
		currentDir = state.CurrentDir()
	}
	sort.Slice(files, func(i, j int) bool {
		iCur := files[i].FQN.Dir.Value == currentDir
		jCur := files[j].FQN.Dir.Value == currentDir
		if iCur != jCur {
			return iCur
		}
		if files[i].FQN.Dir.Value != files[j].FQN.Dir.Value {
			return files[i].FQN.Dir.Value < files[j].FQN.Dir.Value
		}
		return files[i].FQN.Name.Value < files[j].FQN.Name.Value
	})

	for _, f := range files {
		entry := "  " + f.FQN.Dir.Value + "." + f.FQN.Name.Value
		if f.Meta.Bits.Locked() {
			entry += " L"
		}
		b.WriteString(bbcbytes.PadColumn(entry, 20))
	}

	return b.String(), nil
}

// Opt4Description returns the textual boot-option description for opt
// (0-3). No request or star-command handler calls it.
func Opt4Description(opt int) (string, error) {
	if opt < 0 || opt > 3 {
		return "", beeberr.BadAttribute()
	}
	return opt4Descriptions[opt], nil
}
