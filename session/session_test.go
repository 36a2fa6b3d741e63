package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filewire/transfer"
)

func TestTableCapacityEnforced(t *testing.T) {
	table := NewTable(3)

	for fd := 10; fd < 13; fd++ {
		_, err := table.Add(fd, fmt.Sprintf("10.0.0.%d", fd))
		require.NoError(t, err)
	}
	require.Equal(t, 3, table.Len())

	_, err := table.Add(99, "10.0.0.99")
	assert.ErrorIs(t, err, ErrTableFull)

	// Existing records are undisturbed.
	assert.Equal(t, 3, table.Len())
	for fd := 10; fd < 13; fd++ {
		assert.NotNil(t, table.Get(fd))
	}
	assert.Nil(t, table.Get(99))
}

func TestTableRemoveFreesSlot(t *testing.T) {
	table := NewTable(1)
	_, err := table.Add(5, "10.0.0.5")
	require.NoError(t, err)

	table.Remove(5)
	assert.Zero(t, table.Len())

	_, err = table.Add(6, "10.0.0.6")
	assert.NoError(t, err)
}

func TestTableRemoveUnknownIsNoop(t *testing.T) {
	table := NewTable(1)
	table.Remove(42)
	assert.Zero(t, table.Len())
}

func TestRecordModeInvariant(t *testing.T) {
	rec := &Record{FD: 1, Addr: "10.0.0.1"}
	assert.Equal(t, ModeCommand, rec.Mode())
	assert.Nil(t, rec.Receiver())
	assert.Nil(t, rec.Sender())

	rec.BeginReceive(transfer.NewReceiver(t.TempDir()))
	assert.Equal(t, ModeTransfer, rec.Mode())
	assert.NotNil(t, rec.Receiver())
	assert.False(t, rec.Sending())

	rec.EndTransfer()
	assert.Equal(t, ModeCommand, rec.Mode())
	assert.Nil(t, rec.Receiver())
}

func TestRecordBeginSendReplacesReceive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	snd, err := transfer.NewSender(path)
	require.NoError(t, err)

	rec := &Record{FD: 2}
	rec.BeginReceive(transfer.NewReceiver(t.TempDir()))
	rec.BeginSend(snd)

	assert.Nil(t, rec.Receiver())
	assert.True(t, rec.Sending())
	rec.EndTransfer()
	assert.False(t, rec.Sending())
}
