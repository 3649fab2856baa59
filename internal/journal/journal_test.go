package journal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/logging"
)

func openTestJournal(t *testing.T, path string, opts Options) *Journal {
	t.Helper()
	opts.Logger = logging.Discard()
	j, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestCodecsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("checkpoint-journal-record "), 200)

	for _, name := range []string{"none", "snappy", "zlib", "zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			enc, err := c.Encode(payload)
			require.NoError(t, err)
			if name != "none" {
				assert.Less(t, len(enc), len(payload), "repetitive payload should compress")
			}

			dec, err := c.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, payload, dec)
		})
	}
}

func TestCodecByNameUnknown(t *testing.T) {
	_, err := CodecByName("brotli")
	assert.Error(t, err)
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j := openTestJournal(t, path, Options{Compressor: "snappy"})
	ctx := context.Background()

	var offsets []int64
	for i := 0; i < 5; i++ {
		off, err := j.Append(ctx, []byte(fmt.Sprintf("record-%d", i)))
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	assert.Equal(t, int64(0), offsets[0])
	for i := 1; i < len(offsets); i++ {
		assert.Greater(t, offsets[i], offsets[i-1])
	}

	var got []string
	require.NoError(t, j.Replay(ctx, func(_ int64, payload []byte) error {
		got = append(got, string(payload))
		return nil
	}))
	assert.Equal(t, []string{"record-0", "record-1", "record-2", "record-3", "record-4"}, got)
}

func TestReopenRecoversEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := context.Background()

	j, err := Open(ctx, path, Options{Compressor: "zstd", Logger: logging.Discard()})
	require.NoError(t, err)
	_, err = j.Append(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = j.Append(ctx, []byte("two"))
	require.NoError(t, err)
	size := j.Size()
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	// reopening with a different compressor still reads old records
	j2 := openTestJournal(t, path, Options{Compressor: "lz4"})
	assert.Equal(t, size, j2.Size())
	_, err = j2.Append(ctx, []byte("three"))
	require.NoError(t, err)

	var got []string
	require.NoError(t, j2.Replay(ctx, func(_ int64, p []byte) error {
		got = append(got, string(p))
		return nil
	}))
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestTornTailIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := context.Background()

	j, err := Open(ctx, path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	_, err = j.Append(ctx, []byte("intact"))
	require.NoError(t, err)
	good := j.Size()
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 9, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2 := openTestJournal(t, path, Options{})
	assert.Equal(t, good, j2.Size())
}

func TestChecksumMismatchStopsRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := context.Background()

	j, err := Open(ctx, path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	_, err = j.Append(ctx, []byte("first"))
	require.NoError(t, err)
	second, err := j.Append(ctx, []byte("second"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	j2 := openTestJournal(t, path, Options{})
	assert.Equal(t, second, j2.Size(), "recovery stops before the corrupt record")
}

func TestWrittenCounterAndHook(t *testing.T) {
	var last atomic.Int64
	path := filepath.Join(t.TempDir(), "journal.log")
	j := openTestJournal(t, path, Options{OnWrite: func(n int64) { last.Store(n) }})
	ctx := context.Background()

	_, err := j.Append(ctx, []byte("abc"))
	require.NoError(t, err)
	first := j.Written()
	assert.Equal(t, int64(headerSize+3), first)
	assert.Equal(t, first, last.Load())

	_, err = j.Append(ctx, []byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, first+headerSize+4, j.Written())

	j.ResetWritten()
	assert.Zero(t, j.Written())
	assert.Equal(t, int64(2*headerSize+7), j.Size(), "reset does not move the end offset")
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := Open(context.Background(), path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Append(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, j.Sync(), ErrClosed)
}
