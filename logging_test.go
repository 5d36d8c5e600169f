package grasscull

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLoggerStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewLoggerTo(&out, &errOut, "cull", false)

	l.Debugf("hidden %d", 1)
	l.Infof("groups=%d", 3)
	l.Warnf("slow")
	l.Errorf("boom")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[cull] INFO: groups=3")
	assert.Contains(t, errOut.String(), "[cull] WARN: slow")
	assert.Contains(t, errOut.String(), "[cull] ERROR: boom")
	assert.NotContains(t, out.String(), "boom")

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("shown %d", 2)
	assert.Contains(t, out.String(), "[cull] DEBUG: shown 2")
}

func TestDefaultLoggerNoPrefix(t *testing.T) {
	var out bytes.Buffer
	l := NewLoggerTo(&out, &out, "", true)
	l.Infof("plain")
	assert.Contains(t, out.String(), "INFO: plain")
	assert.NotContains(t, out.String(), "[")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	assert.False(t, OrNop(nil).DebugEnabled())

	l := NewLoggerTo(&bytes.Buffer{}, &bytes.Buffer{}, "x", false)
	assert.Same(t, l, OrNop(l))
}

func TestIsGroupError(t *testing.T) {
	assert.True(t, IsGroupError(fmt.Errorf("prototype 3: %w", ErrMissingMesh)))
	assert.True(t, IsGroupError(ErrEmptyGroup))
	assert.True(t, IsGroupError(fmt.Errorf("wrap: %w", ErrMissingMaterial)))
	assert.False(t, IsGroupError(fmt.Errorf("dispatch: %w", ErrDevice)))
	assert.False(t, IsGroupError(errors.New("other")))
}
