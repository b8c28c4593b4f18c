package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
)

func testFrame(n uint64) *models.VideoFrame {
	return models.NewVideoFrame(n, time.Now().UTC(), 1920, 1080, []byte{1, 2, 3})
}

func TestFrameRingPushWithinCapacity(t *testing.T) {
	r := NewFrameRing(4)

	for i := uint64(0); i < 3; i++ {
		evicted := r.Push(testFrame(i))
		assert.Nil(t, evicted)
	}

	assert.Equal(t, 3, r.Len())
	assert.InDelta(t, 0.75, r.Utilization(), 1e-9)
}

func TestFrameRingOverwritesOldestWhenFull(t *testing.T) {
	r := NewFrameRing(300)

	var evictions []uint64
	for i := uint64(0); i <= 300; i++ {
		if ev := r.Push(testFrame(i)); ev != nil {
			evictions = append(evictions, ev.FrameNumber)
		}
	}

	// 301 pushes into capacity 300: frame 0 evicted, 1..300 resident.
	require.Equal(t, []uint64{0}, evictions)
	assert.InDelta(t, 1.0, r.Utilization(), 1e-9)

	snap := r.Snapshot()
	require.Len(t, snap, 300)
	for i, f := range snap {
		assert.Equal(t, uint64(i+1), f.FrameNumber)
	}
}

func TestFrameRingSnapshotKeepsArrivalOrder(t *testing.T) {
	r := NewFrameRing(5)

	for i := uint64(0); i < 13; i++ {
		r.Push(testFrame(i))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	for i, f := range snap {
		assert.Equal(t, uint64(8+i), f.FrameNumber)
	}
}

func TestFrameRingPopOldest(t *testing.T) {
	r := NewFrameRing(3)

	_, ok := r.PopOldest()
	assert.False(t, ok)

	r.Push(testFrame(10))
	r.Push(testFrame(11))

	f, ok := r.PopOldest()
	require.True(t, ok)
	assert.Equal(t, uint64(10), f.FrameNumber)

	f, ok = r.PopOldest()
	require.True(t, ok)
	assert.Equal(t, uint64(11), f.FrameNumber)

	_, ok = r.PopOldest()
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestFrameRingPopAfterWraparound(t *testing.T) {
	r := NewFrameRing(3)

	for i := uint64(0); i < 7; i++ {
		r.Push(testFrame(i))
	}

	want := []uint64{4, 5, 6}
	for _, n := range want {
		f, ok := r.PopOldest()
		require.True(t, ok)
		assert.Equal(t, n, f.FrameNumber)
	}
}

func TestFrameRingClear(t *testing.T) {
	r := NewFrameRing(4)
	for i := uint64(0); i < 3; i++ {
		r.Push(testFrame(i))
	}

	assert.Equal(t, 3, r.Clear())
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Utilization())
	assert.Empty(t, r.Snapshot())
}

func TestFrameRingConcurrentPushNeverPanics(t *testing.T) {
	r := NewFrameRing(8)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				r.Push(testFrame(i))
				if i%3 == 0 {
					r.PopOldest()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 8)
}

func TestFrameRingDegenerateCapacity(t *testing.T) {
	r := NewFrameRing(0)
	require.Equal(t, 1, r.Capacity())

	for i := uint64(0); i < 3; i++ {
		r.Push(testFrame(i))
	}
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].FrameNumber)
}

func BenchmarkFrameRingPush(b *testing.B) {
	r := NewFrameRing(300)
	f := testFrame(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Push(f)
	}
	_ = fmt.Sprintf("%d", r.Len())
}
