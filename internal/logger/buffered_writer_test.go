package logger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedFileWriterFlushAndClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "buffered.log")
	w, err := NewBufferedFileWriter(path, WithFlushInterval(0), WithBufferSize(1024))
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, w.Buffered())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "nothing reaches the file before a flush")

	require.NoError(t, w.Flush())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
	assert.Equal(t, path, w.FilePath())
}

func TestBufferedFileWriterConcurrentWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewBufferedFileWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = w.Write([]byte("x\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 8*100*2)
}
