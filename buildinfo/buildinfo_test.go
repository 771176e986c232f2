package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	p := Get()
	assert.Equal(t, "dev", p.Version)
	assert.Equal(t, runtime.Version(), p.GoVersion)
	assert.Contains(t, p.String(), "posrunner dev (commit unknown")
}
