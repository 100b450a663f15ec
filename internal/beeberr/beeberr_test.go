package beeberr

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeFileNotFound, "File not found")
	assert.Equal(t, "File not found (214)", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk exploded")
	err := Wrap(CodeDiscFault, "Disc fault", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
}

func TestAsAndCode(t *testing.T) {
	err := BadName()
	got, ok := As(err)
	assert.True(t, ok)
	assert.Same(t, err, got)
	assert.Equal(t, CodeBadName, Code(err))

	assert.Equal(t, CodeDiscFault, Code(errors.New("not a beeberr")))
}

func TestFromHostErrorNotExist(t *testing.T) {
	_, err := os.Open("/does/not/exist/beeblink-test")
	be := FromHostError(err)
	assert.Equal(t, CodeFileNotFound, be.Code)
}

func TestFromHostErrorPassesThroughBeeberr(t *testing.T) {
	original := Locked()
	assert.Same(t, original, FromHostError(original))
}
