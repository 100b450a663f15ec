package registry

import (
	"testing"

	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/stretchr/testify/assert"
)

func TestNewTypeFactoryWiresEachKind(t *testing.T) {
	factory := NewTypeFactory()

	assert.Equal(t, "DFS", factory(vfs.KindDFS).Name())
	assert.Equal(t, "ADFS", factory(vfs.KindADFS).Name())
	assert.Equal(t, "PC", factory(vfs.KindPC).Name())
}
