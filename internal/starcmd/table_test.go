package starcmd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/session"
	"github.com/beeblink/beeblinkd/internal/starcmd"
)

func echoHandler(reply string) starcmd.HandlerFunc {
	return func(s *session.Session, parts []string, y int) (string, error) {
		return reply, nil
	}
}

func newTestTable(fallback starcmd.RunFallback) *starcmd.Table {
	t := starcmd.NewTable(fallback)
	t.Register("CAT", "(drive)", echoHandler("cat-ok"))
	t.Register("DELETE", "<fsp>", func(s *session.Session, parts []string, y int) (string, error) {
		if len(parts) < 2 {
			return "", beeberr.Syntax("")
		}
		return "deleted:" + parts[1], nil
	})
	return t
}

func TestDispatchExactMatch(t *testing.T) {
	tbl := newTestTable(nil)
	out, err := tbl.Dispatch(nil, []byte("CAT"))
	require.NoError(t, err)
	assert.Equal(t, "cat-ok", out)
}

func TestDispatchAbbreviation(t *testing.T) {
	tbl := newTestTable(nil)
	out, err := tbl.Dispatch(nil, []byte("C."))
	require.NoError(t, err)
	assert.Equal(t, "cat-ok", out)
}

func TestDispatchFullNamePrefixWithArgs(t *testing.T) {
	tbl := newTestTable(nil)
	out, err := tbl.Dispatch(nil, []byte("DELETE FOO"))
	require.NoError(t, err)
	assert.Equal(t, "deleted:FOO", out)
}

func TestDispatchAbbreviationWithArgsNoSpace(t *testing.T) {
	tbl := newTestTable(nil)
	out, err := tbl.Dispatch(nil, []byte("DEL.FOO"))
	require.NoError(t, err)
	assert.Equal(t, "deleted:FOO", out)
}

func TestDispatchSyntaxErrorEnriched(t *testing.T) {
	tbl := newTestTable(nil)
	_, err := tbl.Dispatch(nil, []byte("DELETE"))
	require.Error(t, err)
	be, ok := beeberr.As(err)
	require.True(t, ok)
	assert.Equal(t, beeberr.CodeSyntax, be.Code)
	assert.Equal(t, "Syntax: DELETE <fsp>", be.Message)
}

func TestDispatchBLFSEscapeHatchExactSuffixOnly(t *testing.T) {
	tbl := newTestTable(nil)
	out, err := tbl.Dispatch(nil, []byte("BLFS_CAT"))
	require.NoError(t, err)
	assert.Equal(t, "cat-ok", out)

	_, err = tbl.Dispatch(nil, []byte("BLFS_C"))
	require.Error(t, err)
	assert.Equal(t, beeberr.CodeBadCommand, mustCode(t, err))
}

func TestDispatchFallsBackToRunFallback(t *testing.T) {
	called := false
	fallback := func(s *session.Session, parts []string, y int) (string, error) {
		called = true
		return "ran:" + parts[0], nil
	}
	tbl := newTestTable(fallback)
	out, err := tbl.Dispatch(nil, []byte("MYPROG"))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ran:MYPROG", out)
}

func TestDispatchNoFallbackIsBadCommand(t *testing.T) {
	tbl := newTestTable(nil)
	_, err := tbl.Dispatch(nil, []byte("NOSUCHCOMMAND"))
	require.Error(t, err)
	assert.Equal(t, beeberr.CodeBadCommand, mustCode(t, err))
}

func TestDispatchNoFallbackCarriesPartsForStarRun(t *testing.T) {
	tbl := newTestTable(nil)
	_, err := tbl.Dispatch(nil, []byte("MYPROG ARG"))
	require.Error(t, err)

	var unknown *starcmd.UnknownCommandError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"MYPROG", "ARG"}, unknown.Parts)
}

func mustCode(t *testing.T, err error) byte {
	t.Helper()
	be, ok := beeberr.As(err)
	require.True(t, ok)
	return be.Code
}
