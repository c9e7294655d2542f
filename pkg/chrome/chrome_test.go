package chrome

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindExecutableConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	got, err := FindExecutable(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = FindExecutable(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(Options{}))
	assert.Equal(t, base+2, len(AllocatorOptions(Options{ExecPath: "/bin/chrome", Width: 800, Height: 600})))
	assert.Equal(t, base, len(AllocatorOptions(Options{Width: 800})))
}
