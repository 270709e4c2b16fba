package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/playground/internal/sandbox"
)

func boot(t *testing.T) *handle {
	t.Helper()
	h, err := New(sandbox.DefaultPolicy()).Boot(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h.(*handle)
}

func TestWriteFileOverwrites(t *testing.T) {
	h := boot(t)
	ctx := context.Background()

	require.NoError(t, h.WriteFile(ctx, "/index.js", []byte("first version")))
	require.NoError(t, h.WriteFile(ctx, "/index.js", []byte("2nd")))

	data, err := os.ReadFile(filepath.Join(h.Root(), "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "2nd", string(data))
}

func TestWriteFileStaysInWorkspace(t *testing.T) {
	h := boot(t)
	require.NoError(t, h.WriteFile(context.Background(), "../../escape.txt", []byte("x")))

	_, err := os.Stat(filepath.Join(h.Root(), "escape.txt"))
	assert.NoError(t, err)
}

func TestSpawnStreamsLines(t *testing.T) {
	h := boot(t)
	ctx := context.Background()
	require.NoError(t, h.WriteFile(ctx, "/script.sh", []byte("echo one\necho two\nexit 3\n")))

	proc, err := h.Spawn(ctx, "sh", "script.sh")
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}

	var lines []string
	for chunk := range proc.Output() {
		lines = append(lines, chunk)
	}
	code, err := proc.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, 3, code)
}

func TestSpawnSplitsLongLines(t *testing.T) {
	h := boot(t)
	ctx := context.Background()
	script := "head -c 300000 /dev/zero | tr '\\0' a\necho\necho after\n"
	require.NoError(t, h.WriteFile(ctx, "/long.sh", []byte(script)))

	proc, err := h.Spawn(ctx, "sh", "long.sh")
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}

	var chunks []string
	for chunk := range proc.Output() {
		chunks = append(chunks, chunk)
	}
	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	require.Greater(t, len(chunks), 2)
	assert.Equal(t, "after", chunks[len(chunks)-1])
	long := strings.Join(chunks[:len(chunks)-1], "")
	assert.Equal(t, strings.Repeat("a", 300000), long)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), sandbox.MaxChunk)
	}
}

func TestClosedHandleRejectsOperations(t *testing.T) {
	h := boot(t)
	require.NoError(t, h.Close())

	err := h.WriteFile(context.Background(), "/index.js", nil)
	assert.ErrorIs(t, err, sandbox.ErrClosed)

	_, err = h.Spawn(context.Background(), "sh")
	assert.ErrorIs(t, err, sandbox.ErrClosed)

	_, statErr := os.Stat(h.Root())
	assert.True(t, os.IsNotExist(statErr))
}
