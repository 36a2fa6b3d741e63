package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/transfer"
	"github.com/opd-ai/filewire/wire"
)

// chdir moves the test into dir and restores the old working directory
// when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}

func TestHandleListEntriesAndTerminator(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "photos"), 0o755))
	chdir(t, dir)

	var buf bytes.Buffer
	require.NoError(t, handleList(&buf))

	out := buf.String()
	assert.Contains(t, out, "notes.txt (File)\n")
	assert.Contains(t, out, "photos (Directory)\n")
	assert.True(t, strings.HasSuffix(out, respEndOfList))
}

func TestHandleListEmptyDirectory(t *testing.T) {
	chdir(t, t.TempDir())

	var buf bytes.Buffer
	require.NoError(t, handleList(&buf))
	assert.Equal(t, respEndOfList, buf.String())
}

func TestHandlePwd(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	got := handlePwd()
	require.True(t, strings.HasSuffix(got, "\n"))
	// TempDir may be behind a symlink, so compare resolved paths.
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	have, err := filepath.EvalSymlinks(strings.TrimSuffix(got, "\n"))
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestHandleChdir(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "sub"), 0o755))
	chdir(t, base)

	assert.Equal(t, respDirChanged, handleChdir("sub"))
	assert.Equal(t, respCannotChdir, handleChdir("no-such-dir"))
}

func TestHandleDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "victim.txt")
	require.NoError(t, os.WriteFile(target, []byte("bye"), 0o644))
	chdir(t, dir)

	assert.Equal(t, respDeleted, handleDelete("victim.txt"))
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, respCannotDelete, handleDelete("victim.txt"))
	assert.Equal(t, respCannotDelete, handleDelete(""))
}

func TestHandleRename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	chdir(t, dir)

	assert.Equal(t, respRenamed, handleRename("a.txt b.txt"))
	_, err := os.Stat(filepath.Join(dir, "b.txt"))
	assert.NoError(t, err)

	assert.Equal(t, respBadRename, handleRename("onlyone"))
	assert.Equal(t, respBadRename, handleRename(""))
	assert.Equal(t, respCannotRename, handleRename("missing.txt other.txt"))
}

func TestUploadErrorResponse(t *testing.T) {
	assert.Equal(t, respInvalidHeader, uploadErrorResponse(transfer.ErrChunkSequence))
	assert.Equal(t, respInvalidHeader, uploadErrorResponse(transfer.ErrUnsafeFilename))
	assert.Equal(t, respInvalidHeader, uploadErrorResponse(limits.ErrChunkSizeRange))
	assert.Equal(t, respInvalidHeader, uploadErrorResponse(limits.ErrTotalChunksRange))
	assert.Equal(t, respInvalidHeader, uploadErrorResponse(wire.ErrReservedType))

	// Local I/O trouble is not the peer's fault and must not be blamed
	// on the transfer header.
	assert.Equal(t, respCannotCreate, uploadErrorResponse(transfer.ErrCannotCreate))
	assert.Equal(t, respCannotCreate, uploadErrorResponse(fmt.Errorf("flushing upload: %w", syscall.EIO)))
	assert.Equal(t, respCannotCreate, uploadErrorResponse(errors.New("short write")))
}

func TestSockaddrString(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 9021, Addr: [4]byte{192, 168, 1, 20}}
	assert.Equal(t, "192.168.1.20:9021", sockaddrString(sa))
	assert.Equal(t, "unknown", sockaddrString(&unix.SockaddrUnix{Name: "/tmp/s"}))
}
