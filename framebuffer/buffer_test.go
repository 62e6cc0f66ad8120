package framebuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(t *testing.T, b *Buffer, pts time.Duration) {
	t.Helper()
	f, err := b.BeginWrite()
	require.NoError(t, err)
	f.PTS = pts
	copy(f.Plane(0, 4), []byte{1, 2, 3, 4})
	require.NoError(t, b.Commit(f))
}

func TestLatestWins(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		commit(t, b, time.Duration(i))
	}

	f, ok := b.ConsumeLatest()
	require.True(t, ok)
	assert.Equal(t, time.Duration(5), f.PTS)
	assert.Equal(t, uint64(5), f.Seq)

	_, ok = b.ConsumeLatest()
	assert.False(t, ok)

	s := b.Stats()
	assert.Equal(t, uint64(5), s.Committed)
	assert.Equal(t, uint64(4), s.Dropped)
	assert.Equal(t, uint64(1), s.Consumed)
	assert.Zero(t, s.ConsecutiveDrops)
	assert.False(t, s.Pending)
}

func TestConsumeEmpty(t *testing.T) {
	b := New()
	_, ok := b.ConsumeLatest()
	assert.False(t, ok)
}

func TestSingleWriter(t *testing.T) {
	b := New()
	f, err := b.BeginWrite()
	require.NoError(t, err)

	_, err = b.BeginWrite()
	assert.ErrorIs(t, err, ErrWriteInProgress)
	assert.ErrorIs(t, b.Commit(&Frame{}), ErrNotInFlight)

	// the frame under construction is invisible
	_, ok := b.ConsumeLatest()
	assert.False(t, ok)

	b.Abort(f)
	_, ok = b.ConsumeLatest()
	assert.False(t, ok)

	f2, err := b.BeginWrite()
	require.NoError(t, err)
	assert.Same(t, f, f2)
	assert.NoError(t, b.Commit(f))
	assert.ErrorIs(t, b.Commit(f), ErrNotInFlight)
}

func TestDroppedFrameStorageIsReused(t *testing.T) {
	b := New()
	commit(t, b, 1)
	first := b.pending
	commit(t, b, 2)

	f, err := b.BeginWrite()
	require.NoError(t, err)
	assert.Same(t, first, f)
	assert.Zero(t, f.PTS)
	assert.Equal(t, 4, cap(f.Plane(0, 2)))
	b.Abort(f)
}

func TestRecycle(t *testing.T) {
	b := New()
	commit(t, b, 1)
	f, ok := b.ConsumeLatest()
	require.True(t, ok)

	b.Recycle(f)
	g, err := b.BeginWrite()
	require.NoError(t, err)
	assert.Same(t, f, g)
}

func TestReadySignal(t *testing.T) {
	b := New()
	select {
	case <-b.Ready():
		t.Fatal("ready before commit")
	default:
	}

	commit(t, b, 1)
	commit(t, b, 2)
	select {
	case <-b.Ready():
	default:
		t.Fatal("no ready after commit")
	}
	// coalesced into one wakeup
	select {
	case <-b.Ready():
		t.Fatal("second wakeup")
	default:
	}
}

func TestSlowConsumerSeesOrderedSubset(t *testing.T) {
	b := New()
	const produced = 100
	const reads = 10

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < produced; i++ {
			f, err := b.BeginWrite()
			if err != nil {
				t.Error(err)
				return
			}
			f.PTS = time.Duration(i)
			f.Plane(0, 16)[0] = byte(i)
			if err := b.Commit(f); err != nil {
				t.Error(err)
				return
			}
			if i%7 == 0 {
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	var seen []time.Duration
	for i := 0; i < reads; i++ {
		if f, ok := b.ConsumeLatest(); ok {
			assert.Equal(t, byte(f.PTS), f.Planes[0][0], "frame observed half written")
			seen = append(seen, f.PTS)
		}
		time.Sleep(200 * time.Microsecond)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(seen), reads)
	for i, pts := range seen {
		assert.GreaterOrEqual(t, pts, time.Duration(0))
		assert.Less(t, pts, time.Duration(produced))
		if i > 0 {
			assert.GreaterOrEqual(t, pts, seen[i-1])
		}
	}
	s := b.Stats()
	assert.Equal(t, uint64(produced), s.Committed)
	pending := uint64(0)
	if s.Pending {
		pending = 1
	}
	assert.Equal(t, s.Committed, s.Dropped+s.Consumed+pending)
}
