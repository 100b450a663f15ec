// Concrete request handlers (§4.7, §4.3, §4.5), registered into a Table by
// NewDefaultTable. Kept in a separate file from the generic dispatch
// machinery the same way rclone keeps fs/operations.go's dispatch helpers
// apart from each operation's own implementation file.
package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/browser"
	"github.com/beeblink/beeblinkd/internal/diskimage"
	"github.com/beeblink/beeblinkd/internal/inf"
	"github.com/beeblink/beeblinkd/internal/metrics"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/session"
	"github.com/beeblink/beeblinkd/internal/starcmd"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/beeblink/beeblinkd/internal/vfs/dfs"
)

// Disk-image flow kinds (START_DISK_IMAGE_FLOW payload byte 0), selecting
// which concrete diskimage.Flow implementation to construct (§4.5).
const (
	diskImageKindDFSRead = iota
	diskImageKindDFSWrite
	diskImageKindADFSRead
	diskImageKindADFSWrite
)

// Flags byte bits for START_DISK_IMAGE_FLOW, meaningful only for DFS kinds.
const (
	diskImageFlagDoubleSided = 1 << iota
	diskImageFlagAllSectors
)

// OSFILE action codes (§4.3), matching the BBC's own OSFILE A register
// values so a real MOS can drive this path unmodified.
const (
	osfileSave       = 0
	osfileWriteAll   = 1
	osfileWriteLoad  = 2
	osfileWriteExec  = 3
	osfileWriteAttr  = 4
	osfileReadAll    = 5
	osfileDelete     = 6
	osfileCreate     = 7
	osfileLoad       = 0xFF
)

// osfileNotFoundObjectType is OSFILE's convention for "object type" 0 when
// reporting on a name that doesn't exist (§4.3).
const osfileNotFoundObjectType = 0

// NewDefaultTable builds a Table with every request handler this server
// implements registered, wired against the given star-command table and,
// when m is non-nil, the metrics registry. dump/log are passed straight
// through to NewTable (§4.7).
func NewDefaultTable(dump bool, log *logrus.Logger, commands *starcmd.Table, m *metrics.Registry) *Table {
	t := NewTable(dump, log)
	if m != nil {
		t.SetMetrics(m)
	}
	countBytes := func(fn HandlerFunc) HandlerFunc {
		if m == nil {
			return fn
		}
		return func(s *session.Session, payload []byte) (byte, []byte, error) {
			code, resp, err := fn(s, payload)
			m.BytesTransferred.Add(float64(len(payload) + len(resp)))
			return code, resp, err
		}
	}

	t.Register(protocol.ReqGetROM, "GET_ROM", false, handleGetROM)
	t.Register(protocol.ReqReset, "RESET", false, handleReset)
	t.Register(protocol.ReqEchoData, "ECHO_DATA", true, handleEchoData)
	t.Register(protocol.ReqReadString, "READ_STRING", false, handleReadString(false))
	t.Register(protocol.ReqReadStringVerbose, "READ_STRING_VERBOSE", false, handleReadString(true))
	t.Register(protocol.ReqStarCat, "STAR_CAT", false, handleStarCat)
	t.Register(protocol.ReqStarCommand, "STAR_COMMAND", false, handleStarCommand(commands))
	t.Register(protocol.ReqStarRun, "STAR_RUN", false, handleStarRun)
	t.Register(protocol.ReqHelpBLFS, "HELP_BLFS", false, handleHelpBLFS)
	t.Register(protocol.ReqStarInfo, "STAR_INFO", false, handleStarInfo)
	t.Register(protocol.ReqStarEx, "STAR_EX", false, handleStarEx)

	t.Register(protocol.ReqOSFILE, "OSFILE", false, handleOSFILE)
	t.Register(protocol.ReqOSFINDOpen, "OSFIND_OPEN", false, handleOSFINDOpen)
	t.Register(protocol.ReqOSFINDClose, "OSFIND_CLOSE", false, handleOSFINDClose)
	t.Register(protocol.ReqOSARGS, "OSARGS", false, handleOSARGS)
	t.Register(protocol.ReqEOF, "EOF", true, handleEOF)
	t.Register(protocol.ReqOSBGET, "OSBGET", true, countBytes(handleOSBGET))
	t.Register(protocol.ReqOSBPUT, "OSBPUT", true, countBytes(handleOSBPUT))
	t.Register(protocol.ReqOSGBPB, "OSGBPB", false, countBytes(handleOSGBPB))
	t.Register(protocol.ReqOPT, "OPT", false, handleOPT)
	t.Register(protocol.ReqBootOption, "BOOT_OPTION", false, handleBootOption)
	t.Register(protocol.ReqVolumeBrowser, "VOLUME_BROWSER", false, handleVolumeBrowser)
	t.Register(protocol.ReqSpeedTest, "SPEED_TEST", false, handleSpeedTest)
	t.Register(protocol.ReqSetFileHandleRange, "SET_FILE_HANDLE_RANGE", false, handleSetFileHandleRange)

	// Byte counting covers the two handlers that actually move image data
	// (a part's payload and the OSWORD result it's acknowledging); Start/
	// SetCat/Finish carry catalogue/control bytes only, not image bytes.
	t.Register(protocol.ReqStartDiskImageFlow, "START_DISK_IMAGE_FLOW", false, handleStartDiskImageFlow)
	t.Register(protocol.ReqSetDiskImageCat, "SET_DISK_IMAGE_CAT", false, handleSetDiskImageCat)
	t.Register(protocol.ReqNextDiskImagePart, "NEXT_DISK_IMAGE_PART", false, countBytes(handleNextDiskImagePart))
	t.Register(protocol.ReqSetLastDiskImageOSWORDResult, "SET_LAST_DISK_IMAGE_OSWORD_RESULT", true, countBytes(handleSetLastDiskImageOSWORDResult))
	t.Register(protocol.ReqFinishDiskImageFlow, "FINISH_DISK_IMAGE_FLOW", false, handleFinishDiskImageFlow)

	return t
}

func handleGetROM(s *session.Session, payload []byte) (byte, []byte, error) {
	rom, ok := s.ROMs[s.LinkSubtype]
	if !ok {
		return 0, nil, beeberr.New(beeberr.CodeFileNotFound, "No ROM for link subtype")
	}
	return protocol.RespDATA, rom, nil
}

func handleReset(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	hard := false
	var subtype *byte
	if b, err := r.U8(); err == nil {
		hard = b != 0
		if b2, err := r.U8(); err == nil {
			subtype = &b2
		}
	}
	if err := s.Reset(hard, subtype); err != nil {
		return 0, nil, err
	}
	return protocol.RespYES, nil, nil
}

func handleEchoData(s *session.Session, payload []byte) (byte, []byte, error) {
	return protocol.RespDATA, payload, nil
}

// setStringOutput queues text for paginated delivery by READ_STRING and
// returns the first chunk (§4.7). A command that produced no text at all
// answers YES rather than queueing an empty buffer.
func setStringOutput(s *session.Session, text string) (byte, []byte, error) {
	if text == "" {
		return protocol.RespYES, nil, nil
	}
	s.StringOutput = []byte(text)
	return nextStringChunk(s, defaultStringChunkSize)
}

// defaultStringChunkSize caps a chunk when the request didn't say how much
// the BBC can take.
const defaultStringChunkSize = 255

// nextStringChunk pops up to max bytes off the pending buffer. An empty
// buffer answers NO, which is what READ_STRING's contract requires once
// the text is drained (§4.7 "preserving RESPONSE_NO when empty").
func nextStringChunk(s *session.Session, max int) (byte, []byte, error) {
	if len(s.StringOutput) == 0 {
		return protocol.RespNO, nil, nil
	}
	n := max
	if n <= 0 {
		n = defaultStringChunkSize
	}
	if n > len(s.StringOutput) {
		n = len(s.StringOutput)
	}
	chunk := s.StringOutput[:n]
	s.StringOutput = s.StringOutput[n:]
	return protocol.RespTEXT, chunk, nil
}

// handleReadString serves one request-sized chunk of the pending string
// output. The single payload byte is the most the BBC is prepared to
// accept this time round; 0 means "your choice".
func handleReadString(verbose bool) HandlerFunc {
	return func(s *session.Session, payload []byte) (byte, []byte, error) {
		max := 0
		if len(payload) > 0 {
			max = int(payload[0])
		}
		return nextStringChunk(s, max)
	}
}

func handleStarCat(s *session.Session, payload []byte) (byte, []byte, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	path := vfs.FilePath{
		Volume: vol, VolumeExplicit: s.VolumeExplicit,
		Drive: vfs.NameComponent{Value: s.Drive}, Dir: vfs.NameComponent{Value: s.Dir},
	}
	if len(payload) > 0 {
		p, err := vol.Type.ParseDirString(string(payload), 0, s, vol, true)
		if err != nil {
			return 0, nil, err
		}
		path = p
	}
	text, err := vol.Type.GetCAT(path, s)
	if err != nil {
		return 0, nil, err
	}
	return setStringOutput(s, text)
}

// handleStarCommand routes a *command through the star-command table; when
// nothing in the table matches, it falls through to *RUN with the library
// directory as the fallback search location (§4.4). A fall-through that
// can't find the file surfaces as Bad command (§7).
func handleStarCommand(commands *starcmd.Table) HandlerFunc {
	return func(s *session.Session, payload []byte) (byte, []byte, error) {
		text, err := commands.Dispatch(s, payload)
		if err != nil {
			var unknown *starcmd.UnknownCommandError
			if errors.As(err, &unknown) && len(unknown.Parts) > 0 {
				file, runErr := locateRunnable(s, unknown.Parts[0])
				if runErr != nil {
					return 0, nil, beeberr.BadCommand()
				}
				return respondRUN(file)
			}
			return 0, nil, err
		}
		return setStringOutput(s, text)
	}
}

// handleStarRun implements the *RUN fast path (§4.4 "*RUN" / §4.7): locate
// the named file in the current directory, then the library directory, and
// respond with its load/exec addresses and data so the BBC can poke it into
// memory and jump to it; fails Wont if either address is the "shouldn't
// load/exec" sentinel (§3).
func handleStarRun(s *session.Session, payload []byte) (byte, []byte, error) {
	name := strings.TrimSpace(string(payload))
	file, err := locateRunnable(s, name)
	if err != nil {
		return 0, nil, err
	}
	return respondRUN(file)
}

func locateRunnable(s *session.Session, name string) (*vfs.File, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return nil, err
	}
	fqn, err := vol.Type.ParseFileString(name, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return nil, err
	}
	if files, err := vol.Type.FindObjectsMatching(fqn); err == nil && len(files) == 1 {
		return files[0], nil
	}
	libFQN := fqn
	libFQN.Drive = vfs.NameComponent{Value: s.LibDrive, Explicit: true}
	libFQN.Dir = vfs.NameComponent{Value: s.LibDir, Explicit: true}
	files, err := vol.Type.FindObjectsMatching(libFQN)
	if err != nil {
		return nil, err
	}
	if len(files) != 1 {
		return nil, beeberr.FileNotFound()
	}
	return files[0], nil
}

func respondRUN(file *vfs.File) (byte, []byte, error) {
	if file.Meta.Load == inf.ShouldntLoad || file.Meta.Exec == inf.ShouldntExec {
		return 0, nil, beeberr.Wont()
	}
	data, err := os.ReadFile(file.HostPath)
	if err != nil {
		return 0, nil, beeberr.FromHostError(err)
	}
	w := bbcbytes.NewWriter().U32LE(file.Meta.Load).U32LE(file.Meta.Exec).U32LE(uint32(len(data))).Raw(data)
	return protocol.RespRUN, w.Bytes(), nil
}

func handleHelpBLFS(s *session.Session, payload []byte) (byte, []byte, error) {
	return setStringOutput(s, "BeebLink server commands: *CAT *DIR *DRIVE *LIB *TITLE *ACCESS *DELETE *RENAME *INFO *EX *OPT *VOL *VOLS"+bbcbytes.BNL)
}

func handleStarInfo(s *session.Session, payload []byte) (byte, []byte, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	fqn, err := vol.Type.ParseFileString(string(payload), 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return 0, nil, err
	}
	files, err := vol.Type.LocateBeebFiles(fqn)
	if err != nil {
		return 0, nil, err
	}
	return setStringOutput(s, formatCatalogueInfo(files))
}

func handleStarEx(s *session.Session, payload []byte) (byte, []byte, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	drive, dir := s.Drive, s.Dir
	if len(payload) > 0 {
		p, err := vol.Type.ParseDirString(string(payload), 0, s, vol, true)
		if err != nil {
			return 0, nil, err
		}
		drive, dir = p.Drive.Value, p.Dir.Value
	}
	fqn := vfs.FQN{
		Volume: vol, VolumeExplicit: true,
		Drive: vfs.NameComponent{Value: drive, Explicit: true},
		Dir:   vfs.NameComponent{Value: dir, Explicit: true},
		Name:  vfs.NameComponent{Value: "*"},
	}
	files, err := vol.Type.FindObjectsMatching(fqn)
	if err != nil {
		return 0, nil, err
	}
	return setStringOutput(s, formatCatalogueInfo(files))
}

func formatCatalogueInfo(files []*vfs.File) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f.FQN.Dir.Value + "." + f.FQN.Name.Value)
		if f.Meta.Bits.Locked() {
			b.WriteString(" L")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(bbcbytes.BNL)
	}
	return b.String()
}

// handleOSFILE implements the OSFILE actions a BBC *SAVE/*LOAD/catalogue
// operation drives (§4.3). payload: [action byte][FQN cstring][load u32]
// [exec u32], then an attribute cstring for the write-attributes action,
// or a length u32 (plus data, for save) for the save/create actions.
func handleOSFILE(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	action, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	name, err := readCString(r)
	if err != nil {
		return 0, nil, err
	}
	load, _ := r.U32LE()
	exec, _ := r.U32LE()

	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	fqn, err := vol.Type.ParseFileString(name, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return 0, nil, err
	}

	switch action {
	case osfileReadAll, osfileWriteLoad, osfileWriteExec, osfileWriteAttr, osfileWriteAll, osfileDelete:
		return handleOSFILEExisting(s, vol, fqn, int(action), load, exec, r)
	case osfileSave, osfileCreate:
		return handleOSFILECreate(s, vol, fqn, int(action), load, exec, r)
	case osfileLoad:
		return handleOSFILELoad(s, vol, fqn, load, exec)
	default:
		return 0, nil, beeberr.BadCommand()
	}
}

func readCString(r *bbcbytes.Reader) (string, error) {
	var b strings.Builder
	for {
		c, err := r.U8()
		if err != nil {
			return "", beeberr.BadString()
		}
		if c == 0 {
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

func handleOSFILEExisting(s *session.Session, vol *vfs.Volume, fqn vfs.FQN, action int, load, exec uint32, r *bbcbytes.Reader) (byte, []byte, error) {
	files, err := vol.Type.LocateBeebFiles(fqn)
	if err != nil {
		return 0, nil, err
	}
	if len(files) == 0 {
		return protocol.RespOSFILE, osfileResult(osfileNotFoundObjectType, inf.Meta{}), nil
	}
	file := files[0]
	switch action {
	case osfileReadAll:
		return protocol.RespOSFILE, osfileResult(objectType(file), file.Meta), nil
	case osfileWriteLoad:
		file.Meta.Load = load
		if err := vol.Type.WriteBeebMetadata(file.HostPath, file.FQN, file.Meta); err != nil {
			return 0, nil, err
		}
	case osfileWriteExec:
		file.Meta.Exec = exec
		if err := vol.Type.WriteBeebMetadata(file.HostPath, file.FQN, file.Meta); err != nil {
			return 0, nil, err
		}
	case osfileWriteAttr:
		attrStr, _ := readCString(r)
		bits, ok, err := vol.Type.GetNewAttributes(file.Meta.Bits, attrStr)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, beeberr.BadAttribute()
		}
		file.Meta.Bits = bits
		if err := vol.Type.WriteBeebMetadata(file.HostPath, file.FQN, file.Meta); err != nil {
			return 0, nil, err
		}
	case osfileWriteAll:
		file.Meta.Load, file.Meta.Exec = load, exec
		if err := vol.Type.WriteBeebMetadata(file.HostPath, file.FQN, file.Meta); err != nil {
			return 0, nil, err
		}
	case osfileDelete:
		if s.Files.IsOpenForWrite(file.HostPath) {
			return 0, nil, beeberr.Open()
		}
		if err := vol.Type.DeleteFile(file); err != nil {
			return 0, nil, err
		}
	}
	return protocol.RespOSFILE, osfileResult(objectType(file), file.Meta), nil
}

// handleOSFILELoad implements OSFILE action 0xFF (load): resolve the named
// file, read its data, and return it alongside the effective load address
// (§4.3). block[6] (the third byte of the exec word the BBC passed in) is
// a MOS convention repurposed here as a flag: 0 means no override was
// given, so the file's own stored load address applies; nonzero means the
// caller supplied an explicit load address in the block, which wins.
// §8 Scenario 2 is the worked example this matches: block.load=0 with
// block[6]=0 still yields the file's stored load address, not the block's.
func handleOSFILELoad(s *session.Session, vol *vfs.Volume, fqn vfs.FQN, load, exec uint32) (byte, []byte, error) {
	files, err := vol.Type.LocateBeebFiles(fqn)
	if err != nil {
		return 0, nil, err
	}
	if len(files) == 0 {
		return protocol.RespOSFILE, osfileResult(osfileNotFoundObjectType, inf.Meta{}), nil
	}
	file := files[0]
	data, err := os.ReadFile(file.HostPath)
	if err != nil {
		return 0, nil, beeberr.FromHostError(err)
	}
	effectiveLoad := load
	if byte(exec>>16) == 0 {
		effectiveLoad = file.Meta.Load
	}
	w := bbcbytes.NewWriter()
	w.Raw(osfileResult(objectType(file), file.Meta))
	w.U32LE(effectiveLoad)
	w.Raw(data)
	return protocol.RespOSFILE, w.Bytes(), nil
}

func handleOSFILECreate(s *session.Session, vol *vfs.Volume, fqn vfs.FQN, action int, load, exec uint32, r *bbcbytes.Reader) (byte, []byte, error) {
	if !vol.Type.CanWrite() || vol.ReadOnly {
		return 0, nil, beeberr.VolumeReadOnly()
	}
	hostPath, err := vol.Type.HostPathFor(fqn)
	if err != nil {
		return 0, nil, err
	}
	if existing, _ := vol.Type.FindObjectsMatching(fqn); len(existing) > 0 && existing[0].Meta.Bits.Locked() {
		return 0, nil, beeberr.Locked()
	}
	if err := vfs.AcquireWriteLock(hostPath); err != nil {
		return 0, nil, err
	}
	defer vfs.ReleaseWriteLock(hostPath)

	meta := inf.Meta{Name: fqn.Name.Value, Load: load, Exec: exec}
	// Both save and create carry a length; save's length bytes follow, a
	// bare create just zero-fills (§4.3 OSFILE actions 0 and 7).
	length, _ := r.U32LE()
	if length > vfs.MaxFileSize {
		return 0, nil, beeberr.TooBig()
	}
	data := make([]byte, length)
	if action == osfileSave {
		if read, rerr := r.Bytes(int(length)); rerr == nil {
			data = read
		}
	}
	if err := os.MkdirAll(dirOf(hostPath), 0755); err != nil {
		return 0, nil, beeberr.FromHostError(err)
	}
	if err := os.WriteFile(hostPath, data, 0644); err != nil {
		return 0, nil, beeberr.FromHostError(err)
	}
	if err := vol.Type.WriteBeebMetadata(hostPath, fqn, meta); err != nil {
		return 0, nil, err
	}
	return protocol.RespOSFILE, osfileResult(1, meta), nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

func objectType(file *vfs.File) byte {
	if file == nil {
		return osfileNotFoundObjectType
	}
	return 1
}

func osfileResult(objType byte, meta inf.Meta) []byte {
	w := bbcbytes.NewWriter().U8(objType).U32LE(meta.Load).U32LE(meta.Exec).U32LE(0).U8(byte(meta.Bits))
	return w.Bytes()
}

// handleOSFINDOpen implements OSFIND's open-for-input/output/update
// (§4.3). payload: [mode byte][FQN cstring].
func handleOSFINDOpen(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	modeByte, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	name, err := readCString(r)
	if err != nil {
		return 0, nil, err
	}
	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	fqn, err := vol.Type.ParseFileString(name, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return 0, nil, err
	}

	var mode vfs.OpenMode
	switch modeByte {
	case 0x40:
		mode = vfs.ModeRead
	case 0x80:
		mode = vfs.ModeWrite
	case 0xC0:
		mode = vfs.ModeUpdate
	default:
		return 0, nil, beeberr.BadCommand()
	}
	files, _ := vol.Type.FindObjectsMatching(fqn)

	var hostPath string
	var meta inf.Meta
	if len(files) > 0 {
		hostPath, meta = files[0].HostPath, files[0].Meta
		if mode != vfs.ModeRead && files[0].Meta.Bits.Locked() {
			return 0, nil, beeberr.Locked()
		}
		if mode == vfs.ModeRead && vfs.IsWriteLocked(hostPath) {
			return 0, nil, beeberr.Open()
		}
		if mode != vfs.ModeRead && (!vol.Type.CanWrite() || vol.ReadOnly) {
			return 0, nil, beeberr.VolumeReadOnly()
		}
	} else {
		if mode == vfs.ModeRead {
			return protocol.RespOSFIND, []byte{0}, nil
		}
		if !vol.Type.CanWrite() || vol.ReadOnly {
			return 0, nil, beeberr.VolumeReadOnly()
		}
		hostPath, err = vol.Type.HostPathFor(fqn)
		if err != nil {
			return 0, nil, err
		}
		meta = inf.Default(fqn.Name.Value)
	}

	if mode != vfs.ModeRead {
		if err := vfs.AcquireWriteLock(hostPath); err != nil {
			return 0, nil, err
		}
	}

	flags := os.O_RDONLY
	switch mode {
	case vfs.ModeWrite:
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case vfs.ModeUpdate:
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(hostPath, flags, 0644)
	if err != nil {
		if mode != vfs.ModeRead {
			vfs.ReleaseWriteLock(hostPath)
		}
		return 0, nil, beeberr.FromHostError(err)
	}
	if mode != vfs.ModeRead {
		if err := vol.Type.WriteBeebMetadata(hostPath, fqn, meta); err != nil {
			f.Close()
			vfs.ReleaseWriteLock(hostPath)
			return 0, nil, err
		}
	}

	handle := s.Files.Open(fqn, hostPath, f, mode)
	if handle == 0 {
		f.Close()
		if mode != vfs.ModeRead {
			vfs.ReleaseWriteLock(hostPath)
		}
		return 0, nil, beeberr.TooManyOpen()
	}
	return protocol.RespOSFIND, []byte{byte(handle)}, nil
}

// handleOSFINDClose implements OSFIND's close path: payload is the single
// handle byte, 0 meaning "close everything" (§4.3).
func handleOSFINDClose(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, beeberr.BadString()
	}
	h := int(payload[0])
	if h != 0 {
		of, err := s.Files.Get(h)
		if err == nil && of.Mode != vfs.ModeRead {
			vfs.ReleaseWriteLock(of.HostPath)
		}
	} else {
		for _, path := range s.Files.WritePaths() {
			vfs.ReleaseWriteLock(path)
		}
	}
	if err := s.Files.Close(h); err != nil {
		return 0, nil, err
	}
	return protocol.RespYES, nil, nil
}

// handleOSARGS implements OSARGS (§4.3). payload: [handle byte][a byte]
// [value u32] (value used only by the set-pointer args).
func handleOSARGS(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	handle, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	a, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	value, _ := r.U32LE()

	if handle == 0 {
		vol, err := s.RequireVolume()
		if err != nil {
			return 0, nil, err
		}
		if a == 0 {
			return protocol.RespOSARGS, bbcbytes.NewWriter().CString(vol.Type.Name()).Bytes(), nil
		}
		return protocol.RespOSARGS, bbcbytes.NewWriter().U32LE(0).Bytes(), nil
	}

	of, err := s.Files.Get(int(handle))
	if err != nil {
		return 0, nil, err
	}
	switch a {
	case 0:
		return protocol.RespOSARGS, bbcbytes.NewWriter().U32LE(uint32(of.ReadPos)).Bytes(), nil
	case 1:
		of.ReadPos = int64(value)
		of.WritePos = int64(value)
		of.EOFWarned = false
	case 2:
		fi, err := of.F.Stat()
		if err != nil {
			return 0, nil, beeberr.FromHostError(err)
		}
		return protocol.RespOSARGS, bbcbytes.NewWriter().U32LE(uint32(fi.Size())).Bytes(), nil
	case 0xFF:
		if err := flushFile(of); err != nil {
			return 0, nil, err
		}
	}
	return protocol.RespOSARGS, bbcbytes.NewWriter().U32LE(0).Bytes(), nil
}

func flushFile(of *vfs.OpenFile) error {
	if of.WriteDirty {
		if err := of.F.Sync(); err != nil {
			return beeberr.FromHostError(err)
		}
		of.WriteDirty = false
	}
	return nil
}

func handleEOF(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, beeberr.BadString()
	}
	of, err := s.Files.Get(int(payload[0]))
	if err != nil {
		return 0, nil, err
	}
	eof, err := of.EOF()
	if err != nil {
		return 0, nil, err
	}
	if eof {
		return protocol.RespEOF, []byte{0xFF}, nil
	}
	return protocol.RespEOF, []byte{0x00}, nil
}

// handleOSBGET reads one byte at the sequential pointer. The first read at
// EOF answers with the distinct OSBGET_EOF response; reading again without
// moving the pointer is the strict-mode EOF error (§4.3, §7).
func handleOSBGET(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, beeberr.BadString()
	}
	of, err := s.Files.Get(int(payload[0]))
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, 1)
	n, _ := of.F.ReadAt(buf, of.ReadPos)
	if n == 1 {
		of.ReadPos++
		of.EOFWarned = false
		return protocol.RespOSBGET, buf, nil
	}
	if of.EOFWarned {
		return 0, nil, beeberr.EOFError()
	}
	of.EOFWarned = true
	return protocol.RespOSBGETEOF, []byte{protocol.OSBGETEOFByte}, nil
}

func handleOSBPUT(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, beeberr.BadString()
	}
	of, err := s.Files.Get(int(payload[0]))
	if err != nil {
		return 0, nil, err
	}
	if of.Mode == vfs.ModeRead {
		return 0, nil, beeberr.ReadOnly()
	}
	if of.WritePos >= vfs.MaxFileSize {
		return 0, nil, beeberr.TooBig()
	}
	b := payload[1]
	if _, err := of.F.WriteAt([]byte{b}, of.WritePos); err != nil {
		return 0, nil, beeberr.FromHostError(err)
	}
	of.WritePos++
	of.WriteDirty = true
	return protocol.RespOSBPUT, nil, nil
}

// handleOSGBPB implements OSGBPB (§4.3). payload: [action byte]
// [handle byte][ptr u32][n u32][data...] (data only for put actions).
// Response payload: [C byte][ptr u32][residual u32][data...], where C=1
// means fewer bytes/entries were transferred than requested because EOF or
// end-of-list was reached.
func handleOSGBPB(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	action, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	handle, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	ptr, _ := r.U32LE()
	n, _ := r.U32LE()

	switch action {
	case 1, 2: // put bytes, at ptr (2) or the sequential pointer (1)
		of, err := s.Files.Get(int(handle))
		if err != nil {
			return 0, nil, err
		}
		if of.Mode == vfs.ModeRead {
			return 0, nil, beeberr.ReadOnly()
		}
		data, err := r.Bytes(int(n))
		if err != nil {
			return 0, nil, beeberr.BadString()
		}
		pos := of.WritePos
		if action == 2 {
			pos = int64(ptr)
		}
		if pos+int64(n) > vfs.MaxFileSize {
			return 0, nil, beeberr.TooBig()
		}
		written, werr := of.F.WriteAt(data, pos)
		of.WritePos = pos + int64(written)
		of.WriteDirty = true
		if werr != nil {
			return 0, nil, beeberr.FromHostError(werr)
		}
		return protocol.RespOSGBPB, osgbpbResult(0, uint32(of.WritePos), n-uint32(written), nil), nil

	case 3, 4: // get bytes, at ptr (4) or the sequential pointer (3)
		of, err := s.Files.Get(int(handle))
		if err != nil {
			return 0, nil, err
		}
		pos := of.ReadPos
		if action == 4 {
			pos = int64(ptr)
		}
		buf := make([]byte, n)
		read, rerr := of.F.ReadAt(buf, pos)
		of.ReadPos = pos + int64(read)
		if read > 0 {
			of.EOFWarned = false
		}
		carry := byte(0)
		if rerr != nil {
			carry = 1
		}
		return protocol.RespOSGBPB, osgbpbResult(carry, uint32(of.ReadPos), n-uint32(read), buf[:read]), nil

	case 5: // media title and boot option
		vol, err := s.RequireVolume()
		if err != nil {
			return 0, nil, err
		}
		title, opt := "", 0
		if _, ok := vol.Type.(*dfs.Type); ok {
			if title, err = dfs.ReadTitle(vol, s.Drive); err != nil {
				return 0, nil, err
			}
			if opt, err = dfs.ReadOpt4(vol, s.Drive); err != nil {
				return 0, nil, err
			}
		}
		ps, err := bbcbytes.PascalString(title)
		if err != nil {
			return 0, nil, beeberr.FromHostError(err)
		}
		return protocol.RespOSGBPB, osgbpbResult(0, ptr, 0, append(ps, byte(opt))), nil

	case 6: // currently selected drive and directory
		return protocol.RespOSGBPB, osgbpbResult(0, ptr, 0, pascalPair(s.Drive, s.Dir)), nil

	case 7: // library drive and directory
		return protocol.RespOSGBPB, osgbpbResult(0, ptr, 0, pascalPair(s.LibDrive, s.LibDir)), nil

	case 8: // enumerate CSD filenames, ptr = starting index
		vol, err := s.RequireVolume()
		if err != nil {
			return 0, nil, err
		}
		fqn := vfs.FQN{
			Volume: vol, VolumeExplicit: true,
			Drive: vfs.NameComponent{Value: s.Drive, Explicit: true},
			Dir:   vfs.NameComponent{Value: s.Dir, Explicit: true},
			Name:  vfs.NameComponent{Value: "*"},
		}
		files, err := vol.Type.FindObjectsMatching(fqn)
		if err != nil {
			return 0, nil, err
		}
		var names []byte
		count := uint32(0)
		for i := int(ptr); i < len(files) && count < n; i++ {
			ps, err := bbcbytes.PascalString(files[i].FQN.Name.Value)
			if err != nil {
				return 0, nil, beeberr.FromHostError(err)
			}
			names = append(names, ps...)
			count++
		}
		carry := byte(0)
		if count < n {
			carry = 1
		}
		// ptr is echoed back untouched: the source ignores the way A=8
		// adjusts the buffer address, and so does this server.
		return protocol.RespOSGBPB, osgbpbResult(carry, ptr, n-count, names), nil

	default:
		return 0, nil, beeberr.BadCommand()
	}
}

// osgbpbResult packs the common OSGBPB response payload: carry flag,
// updated pointer, residual count, then the transferred data.
func osgbpbResult(carry byte, ptr, residual uint32, data []byte) []byte {
	return bbcbytes.NewWriter().U8(carry).U32LE(ptr).U32LE(residual).Raw(data).Bytes()
}

// pascalPair renders two pascal strings back to back, the shape the
// drive/dir enumeration actions return.
func pascalPair(a, b string) []byte {
	pa, _ := bbcbytes.PascalString(a)
	pb, _ := bbcbytes.PascalString(b)
	return append(pa, pb...)
}

// handleOPT implements the BBC *OPT call (§4.3): only *OPT 4,n (boot
// option) has a BeebLink-visible effect, and only for DFS volumes, which
// are the only personality carrying per-drive boot-option metadata (§3).
func handleOPT(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, beeberr.BadString()
	}
	x, y := payload[0], payload[1]
	if x == 4 {
		vol, err := s.RequireVolume()
		if err != nil {
			return 0, nil, err
		}
		if _, ok := vol.Type.(*dfs.Type); ok {
			if err := dfs.WriteOpt4(vol, s.Drive, int(y)); err != nil {
				return 0, nil, err
			}
		}
	}
	return protocol.RespYES, nil, nil
}

func handleBootOption(s *session.Session, payload []byte) (byte, []byte, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	if _, ok := vol.Type.(*dfs.Type); !ok {
		return protocol.RespBootOption, []byte{0}, nil
	}
	opt, err := dfs.ReadOpt4(vol, s.Drive)
	if err != nil {
		return 0, nil, err
	}
	return protocol.RespBootOption, []byte{byte(opt)}, nil
}

func handleVolumeBrowser(s *session.Session, payload []byte) (byte, []byte, error) {
	var r browser.Result
	if len(payload) == 0 {
		r = s.Browser.Open()
	} else {
		r = s.Browser.HandleKey(payload[0])
	}
	if r.Volume != nil {
		if err := s.Mount(r.Volume, false); err != nil {
			return 0, nil, err
		}
	}
	payloadOut := bbcbytes.NewWriter().U8(r.SubCode).CString(r.Text).Bytes()
	return protocol.RespVolumeBrowser, payloadOut, nil
}

func handleSpeedTest(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) == 0 {
		s.Speed.Start()
		return protocol.RespSpecial, []byte{protocol.SpecialSpeedTest}, nil
	}
	s.Speed.AddBytes(len(payload))
	dt, total := s.Speed.Stop()
	s.Speed.Start()
	bps := uint32(0)
	if dt.Seconds() > 0 {
		bps = uint32(float64(total) / dt.Seconds())
	}
	return protocol.RespSpecial, bbcbytes.NewWriter().U8(protocol.SpecialSpeedTest).U32LE(bps).Bytes(), nil
}

func handleSetFileHandleRange(s *session.Session, payload []byte) (byte, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, beeberr.BadString()
	}
	s.Files.SetRange(int(payload[0]), int(payload[1]))
	return protocol.RespYES, nil, nil
}

// --- disk-image flow requests (§4.5) ---

// diskImageHostPath resolves imagePath (as sent by the client, relative to
// the mounted volume's root) to a host path, rejecting any attempt to
// escape the volume via ".." components.
func diskImageHostPath(vol *vfs.Volume, imagePath string) (string, error) {
	clean := filepath.Clean(imagePath)
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", beeberr.BadName()
	}
	return filepath.Join(vol.Path, clean), nil
}

// handleStartDiskImageFlow implements START_DISK_IMAGE_FLOW: payload
// [kind byte][flags byte][image path cstring][buf addr u32][buf size u32].
// It constructs the concrete flow variant the kind byte names, reading the
// source image from disk up front for the write variants, and installs it
// as the session's in-flight flow (§3 "Disk-image flow", §4.5 Start).
func handleStartDiskImageFlow(s *session.Session, payload []byte) (byte, []byte, error) {
	r := bbcbytes.NewReader(payload)
	kind, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	flags, err := r.U8()
	if err != nil {
		return 0, nil, beeberr.BadString()
	}
	imagePath, err := readCString(r)
	if err != nil {
		return 0, nil, err
	}
	bufAddr, _ := r.U32LE()
	bufSize, _ := r.U32LE()

	vol, err := s.RequireVolume()
	if err != nil {
		return 0, nil, err
	}
	hostPath, err := diskImageHostPath(vol, imagePath)
	if err != nil {
		return 0, nil, err
	}

	doubleSided := flags&diskImageFlagDoubleSided != 0
	allSectors := flags&diskImageFlagAllSectors != 0

	// A read flow ends by persisting the image into the mounted volume, so
	// it needs the volume writable just as much as a file save does.
	if kind == diskImageKindDFSRead || kind == diskImageKindADFSRead {
		if vol.ReadOnly {
			return 0, nil, beeberr.VolumeReadOnly()
		}
	}

	var flow diskimage.Flow
	switch kind {
	case diskImageKindDFSRead:
		flow = diskimage.NewDFSReadFlow(doubleSided, allSectors)
	case diskImageKindDFSWrite:
		image, rerr := os.ReadFile(hostPath)
		if rerr != nil {
			return 0, nil, beeberr.FromHostError(rerr)
		}
		flow = diskimage.NewDFSWriteFlow(image, doubleSided)
	case diskImageKindADFSRead:
		flow = diskimage.NewADFSReadFlow()
	case diskImageKindADFSWrite:
		image, rerr := os.ReadFile(hostPath)
		if rerr != nil {
			return 0, nil, beeberr.FromHostError(rerr)
		}
		flow = diskimage.NewADFSWriteFlow(image)
	default:
		return 0, nil, beeberr.BadCommand()
	}

	res, err := flow.Start(bufAddr, bufSize)
	if err != nil {
		return 0, nil, err
	}
	s.Flow = flow
	s.FlowImagePath = hostPath

	w := bbcbytes.NewWriter().CString(res.FSCommand).CString(res.Command).U8(res.Reason).U8(byte(len(res.CatOSWords)))
	for _, ow := range res.CatOSWords {
		w.U8(byte(len(ow))).Raw(ow)
	}
	return protocol.RespSpecial, append([]byte{protocol.SpecialDiskImageFlowStart}, w.Bytes()...), nil
}

func handleSetDiskImageCat(s *session.Session, payload []byte) (byte, []byte, error) {
	if s.Flow == nil {
		return 0, nil, beeberr.New(beeberr.CodeChannel, "No disk image flow selected")
	}
	if err := s.Flow.SetCat(payload); err != nil {
		return 0, nil, err
	}
	return protocol.RespYES, nil, nil
}

func handleNextDiskImagePart(s *session.Session, payload []byte) (byte, []byte, error) {
	if s.Flow == nil {
		return 0, nil, beeberr.New(beeberr.CodeChannel, "No disk image flow selected")
	}
	part, err := s.Flow.GetNextPart()
	if err != nil {
		return 0, nil, err
	}
	if part == nil {
		return protocol.RespEOF, nil, nil
	}
	w := bbcbytes.NewWriter().CString(part.Message).U8(part.Reason).U8(byte(len(part.OSWord))).Raw(part.OSWord).U32LE(uint32(len(part.Data))).Raw(part.Data)
	return protocol.RespDATA, w.Bytes(), nil
}

func handleSetLastDiskImageOSWORDResult(s *session.Session, payload []byte) (byte, []byte, error) {
	if s.Flow == nil {
		return 0, nil, beeberr.New(beeberr.CodeChannel, "No disk image flow selected")
	}
	if err := s.Flow.SetLastOSWORDResult(payload); err != nil {
		return 0, nil, err
	}
	return protocol.RespYES, nil, nil
}

// imageReader is implemented by the read-direction flows: the bytes
// accumulated over the transfer, ready to persist once Finish succeeds
// (§4.5 "finish() — on reads, persist the accumulated image to the target
// host file").
type imageReader interface {
	Image() []byte
}

func handleFinishDiskImageFlow(s *session.Session, payload []byte) (byte, []byte, error) {
	if s.Flow == nil {
		return 0, nil, beeberr.New(beeberr.CodeChannel, "No disk image flow selected")
	}
	flow, path := s.Flow, s.FlowImagePath
	res, err := flow.Finish()
	s.Flow = nil
	s.FlowImagePath = ""
	if err != nil {
		return 0, nil, err
	}
	if ir, ok := flow.(imageReader); ok {
		if err := os.WriteFile(path, ir.Image(), 0644); err != nil {
			return 0, nil, beeberr.FromHostError(err)
		}
	}
	w := bbcbytes.NewWriter().CString(res.FS).CString(res.Command)
	return protocol.RespYES, w.Bytes(), nil
}
