package indexer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

func TestDedupSet_TryAddIsAtomic(t *testing.T) {
	// Given: many goroutines racing to add the same key
	d := newDedupSet()
	key := workitem.Key{Participant: participant.MustParse("9915:test0"), Kind: workitem.CreateOrUpdate}
	var wins atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.TryAdd(key) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	// Then: exactly one wins and the set holds one key
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Contains(key))

	d.Remove(key)
	assert.False(t, d.Contains(key))
	assert.True(t, d.TryAdd(key))
}

func TestDedupSet_StructuralEquality(t *testing.T) {
	d := newDedupSet()
	a := workitem.Key{Participant: participant.MustParse("9915:test0"), Kind: workitem.Delete}
	b := workitem.Key{Participant: participant.MustParse("ISO6523-ACTORID-UPIS::9915:test0"), Kind: workitem.Delete}

	assert.True(t, d.TryAdd(a))
	assert.False(t, d.TryAdd(b))
}
