package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

func testEntry(id string) datastructures.HistoryEntry {
	return datastructures.HistoryEntry{
		Id:             id,
		Timestamp:      "2024-05-01T12:00:00Z",
		FileName:       id + ".jpg",
		ProcessedFile:  "processed_" + id + ".jpg",
		Result:         datastructures.Result{Detections: []datastructures.Detection{{BBox: [4]float64{1, 2, 3, 4}, Confidence: 0.75, Class: 1}}},
		ProcessingTime: 0.42,
		MemoryUsed:     -1.5,
		LabelStats:     datastructures.LabelStats{"knife": {Count: 1, TotalConfidence: 0.75, AvgConfidence: 0.75}},
	}
}

func newFileStore(t *testing.T) *FileStore {
	s := NewFileStore(filepath.Join(t.TempDir(), "request_history.json"))
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedisStore(t *testing.T) *RedisStore {
	mr := miniredis.RunT(t)
	s := NewRedisStore(NewRedisPool(mr.Addr(), 4), "request_history")
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":  newFileStore(t),
		"redis": newRedisStore(t),
	}
}

func TestReadAllEmpty(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := s.ReadAll(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, entries)
			assert.Empty(t, entries)
		})
	}
}

func TestAppendThenReadAll(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, testEntry("first")))
			before, err := s.ReadAll(ctx)
			require.NoError(t, err)

			entry := testEntry("second")
			require.NoError(t, s.Append(ctx, entry))

			after, err := s.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, after, len(before)+1)
			assert.Equal(t, entry, after[len(after)-1])
			assert.Equal(t, "first", after[0].Id)
		})
	}
}

func TestConcurrentAppends(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Append(ctx, testEntry(fmt.Sprintf("entry-%d", i))))
				}(i)
			}
			wg.Wait()

			entries, err := s.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 20)
			ids := make(map[string]bool)
			for _, e := range entries {
				ids[e.Id] = true
			}
			for i := 0; i < 20; i++ {
				assert.True(t, ids[fmt.Sprintf("entry-%d", i)])
			}
		})
	}
}

func TestVideoEntryRoundTrip(t *testing.T) {
	s := newFileStore(t)
	entry := testEntry("video")
	entry.Result = datastructures.Result{VideoDetections: []datastructures.FrameDetections{
		{Frame: 0, Detections: []datastructures.Detection{}},
		{Frame: 1, Detections: []datastructures.Detection{{Confidence: 0.5}}},
	}}
	entry.Truncated = true
	require.NoError(t, s.Append(context.Background(), entry))

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Result.IsVideo())
	assert.Equal(t, entry, entries[0])
}

func TestFileStoreCorruption(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("[{not json"), 0644))

	_, err := s.ReadAll(context.Background())
	var corruptErr *commons.HistoryCorruptionError
	require.True(t, errors.As(err, &corruptErr))

	err = s.Append(context.Background(), testEntry("x"))
	require.True(t, errors.As(err, &corruptErr))

	// the broken document is left as it was
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[{not json", string(data))
}

func TestFileStoreBlankFile(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("\n"), 0644))

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStoreMissingNumbers(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[{"id": "a", "result": {"detections": []}}]`), 0644))

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].ProcessingTime)
	assert.Zero(t, entries[0].MemoryUsed)
}

func TestFileStoreClosed(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(context.Background(), testEntry("late")), ErrStoreClosed)
}

func TestRedisStoreCorruption(t *testing.T) {
	s := newRedisStore(t)
	conn := s.pool.Get()
	_, err := conn.Do("RPUSH", "request_history", "garbage")
	require.NoError(t, err)
	conn.Close()

	_, err = s.ReadAll(context.Background())
	var corruptErr *commons.HistoryCorruptionError
	assert.True(t, errors.As(err, &corruptErr))
}

func TestQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request_history.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	target, err := Quarantine(path, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt-20240501T083000Z", target)
	assert.NoFileExists(t, path)
	assert.FileExists(t, target)

	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))
	_, err = Quarantine(path, time.Now())
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(commons.Config{HistoryBackend: "file", HistoryFile: filepath.Join(t.TempDir(), "h.json")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(commons.Config{HistoryBackend: "sqlite"})
	assert.Error(t, err)
}

func TestFileStoreKeepsHistoryReadable(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, s.Append(context.Background(), testEntry("a")))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestQuarantineLeavesUnreadableHistory(t *testing.T) {
	// a directory can't be read as a document but isn't corrupt either
	path := filepath.Join(t.TempDir(), "request_history.json")
	require.NoError(t, os.Mkdir(path, 0755))

	_, err := Quarantine(path, time.Now())
	require.Error(t, err)
	var corruptErr *commons.HistoryCorruptionError
	assert.False(t, errors.As(err, &corruptErr))
	assert.DirExists(t, path)
}
