package disk

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/storage/core"
)

func TestStore_PutGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := core.NewBlockID()
	meta, err := store.Put(id, []byte("hello block"))
	require.NoError(t, err)
	require.Equal(t, int64(11), meta.Size)
	require.True(t, store.Has(id))

	data, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, "hello block", string(data))
}

func TestStore_EmptyBlock(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := core.NewBlockID()
	_, err = store.Put(id, nil)
	require.NoError(t, err)

	data, err := store.Get(id)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestStore_RejectsDuplicate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := core.NewBlockID()
	_, err = store.Put(id, []byte("first"))
	require.NoError(t, err)

	_, err = store.Put(id, []byte("second"))
	require.True(t, errs.Is(err, errs.AlreadyExists))

	data, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))
}

func TestStore_ConcurrentDuplicateWritesOneWins(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := core.NewBlockID()
	results := make(chan error, 8)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := store.Put(id, []byte("payload"))
			results <- err
		})
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errs.Is(err, errs.AlreadyExists), "got %v", err)
	}
	require.Equal(t, 1, wins)

	data, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestStore_ReadNotBlockedByWrite(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	stored := core.NewBlockID()
	_, err = store.Put(stored, []byte("already here"))
	require.NoError(t, err)

	syncing := make(chan struct{})
	release := make(chan struct{})
	store.sync = func(f *os.File) error {
		close(syncing)
		<-release
		return f.Sync()
	}

	writing := core.NewBlockID()
	done := make(chan error, 1)
	go func() {
		_, err := store.Put(writing, []byte("slow write"))
		done <- err
	}()
	<-syncing

	read := make(chan []byte, 1)
	go func() {
		data, _ := store.Get(stored)
		read <- data
	}()
	select {
	case data := <-read:
		require.Equal(t, "already here", string(data))
	case <-time.After(time.Second):
		t.Fatal("read waited for an unrelated write")
	}
	require.False(t, store.Has(writing))

	close(release)
	require.NoError(t, <-done)
	require.True(t, store.Has(writing))
}

func TestStore_Missing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(core.NewBlockID())
	require.True(t, errs.Is(err, errs.NotFound))
	require.True(t, errs.Is(store.Delete(core.NewBlockID()), errs.NotFound))
}

func TestStore_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	id := core.NewBlockID()
	_, err = store.Put(id, []byte("payload"))
	require.NoError(t, err)

	path := filepath.Join(dir, "blocks", string(id)[:2], string(id)+blockExt)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = store.Get(id)
	require.True(t, errs.Is(err, errs.IOError))
}

func TestStore_ListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	a, b := core.NewBlockID(), core.NewBlockID()
	_, err = store.Put(a, []byte("a"))
	require.NoError(t, err)
	_, err = store.Put(b, []byte("b"))
	require.NoError(t, err)

	ids, err := store.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []core.BlockID{a, b}, ids)

	require.NoError(t, store.Delete(a))
	require.False(t, store.Has(a))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	ids, err = reopened.List()
	require.NoError(t, err)
	require.Equal(t, []core.BlockID{b}, ids)
}

func TestStore_InvalidID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put("../escape", []byte("x"))
	require.True(t, errs.Is(err, errs.InvalidArgument))
}
