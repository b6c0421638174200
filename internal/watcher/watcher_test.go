package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/dirindex/internal/indexer"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/provider"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

type queued struct {
	key   participant.Key
	kind  workitem.Kind
	owner string
}

type recordingQueue struct {
	mu    sync.Mutex
	items []queued
}

func (q *recordingQueue) QueueWorkItem(key participant.Key, kind workitem.Kind, ownerID, _ string) (indexer.Change, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queued{key: key, kind: kind, owner: ownerID})
	return indexer.Changed, nil
}

func (q *recordingQueue) snapshot() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queued(nil), q.items...)
}

func startWatcher(t *testing.T) (string, *recordingQueue, *CardWatcher) {
	t.Helper()
	dir := t.TempDir()
	q := &recordingQueue{}
	w := New(provider.NewDirectoryProvider(dir), q, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return dir, q, w
}

func TestCardWatcher_QueuesCreateAndDelete(t *testing.T) {
	// Given
	dir, q, w := startWatcher(t)
	key := participant.MustParse("iso6523-actorid-upis::9915:test0")
	path := filepath.Join(dir, key.PathEscaped()+".json")

	// When: a card is written
	require.NoError(t, os.WriteFile(path, []byte(`{"entities":[{"name":"Acme"}]}`), 0o644))

	// Then: one CREATE_OR_UPDATE is queued for the participant
	require.Eventually(t, func() bool { return len(q.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	first := q.snapshot()[0]
	assert.Equal(t, key, first.key)
	assert.Equal(t, workitem.CreateOrUpdate, first.kind)
	assert.Equal(t, OwnerID, first.owner)

	// When: the card is removed
	require.NoError(t, os.Remove(path))

	// Then: a DELETE follows
	require.Eventually(t, func() bool { return len(q.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, workitem.Delete, q.snapshot()[1].kind)
	assert.Equal(t, int64(2), w.Queued())
}

func TestCardWatcher_IgnoresNonCardFiles(t *testing.T) {
	dir, q, _ := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0o644))
	// Names the provider would never read must not turn into DELETE work.
	key := participant.MustParse("iso6523-actorid-upis::9915:test0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, key.PathEscaped()+".JSON"), []byte(`{"entities":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ISO6523-ACTORID-UPIS::9915:test0.json"), []byte(`{"entities":[]}`), 0o644))
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, q.snapshot())
}

func TestCardWatcher_StartTwiceFails(t *testing.T) {
	_, _, w := startWatcher(t)

	assert.Error(t, w.Start(context.Background()))
}

func TestCardWatcher_MissingDirectory(t *testing.T) {
	w := New(provider.NewDirectoryProvider(filepath.Join(t.TempDir(), "missing")), &recordingQueue{}, Options{})

	assert.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}

func TestCardWatcher_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	w := New(provider.NewDirectoryProvider(dir), &recordingQueue{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
