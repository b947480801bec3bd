package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWindowInOrder verifies that consecutive sequence numbers are accepted
// and advance the high-watermark.
func TestWindowInOrder(t *testing.T) {
	var w Window

	for s := uint32(1); s <= 100; s++ {
		ok, lost := w.Accept(s)
		require.True(t, ok, "seqno %d", s)
		require.Zero(t, lost)
		require.Equal(t, s, w.ReceivedSeqno)
	}
}

// TestWindowReplay verifies that delivering the same sequence number twice
// is rejected the second time.
func TestWindowReplay(t *testing.T) {
	var w Window

	ok, _ := w.Accept(1)
	require.True(t, ok)

	ok, _ = w.Accept(1)
	assert.False(t, ok, "replayed packet must be rejected")
	assert.Equal(t, uint32(1), w.ReceivedSeqno)
}

// TestWindowReorder replays the [1, 3, 2, 2] scenario: the gap marks seqno 2
// late, the late packet is accepted exactly once.
func TestWindowReorder(t *testing.T) {
	var w Window

	ok, _ := w.Accept(1)
	require.True(t, ok)

	ok, _ = w.Accept(3)
	require.True(t, ok)
	require.True(t, w.isLate(2), "skipped seqno must be marked late")

	ok, _ = w.Accept(2)
	require.True(t, ok, "late packet within the window is accepted")
	require.False(t, w.isLate(2))

	ok, _ = w.Accept(2)
	assert.False(t, ok, "second delivery of the late packet is a replay")
	assert.Equal(t, uint32(3), w.ReceivedSeqno)
	assert.Zero(t, w.late, "bitmap must be clean after the reorder settles")
}

// TestWindowLargeGap verifies that a jump past the window zeroes the bitmap
// and reports the loss.
func TestWindowLargeGap(t *testing.T) {
	var w Window

	ok, _ := w.Accept(1)
	require.True(t, ok)
	w.markLate(5) // leftover state that the jump must wipe

	ok, lost := w.Accept(400)
	require.True(t, ok)
	assert.Equal(t, uint32(398), lost)
	assert.Equal(t, uint32(400), w.ReceivedSeqno)
	assert.False(t, w.isLate(5))
}

// TestWindowBoundary pins the exact window edge: hi − 8W is always
// rejected, hi − 8W + 1 is accepted iff its bit is set.
func TestWindowBoundary(t *testing.T) {
	t.Run("outside window", func(t *testing.T) {
		var w Window
		w.ReceivedSeqno = 1000

		ok, _ := w.Accept(1000 - WindowSlots)
		assert.False(t, ok)
	})

	t.Run("edge with bit set", func(t *testing.T) {
		var w Window
		w.ReceivedSeqno = 1000
		edge := uint32(1000 - WindowSlots + 1)
		w.markLate(edge)

		ok, _ := w.Accept(edge)
		assert.True(t, ok)
	})

	t.Run("edge with bit clear", func(t *testing.T) {
		var w Window
		w.ReceivedSeqno = 1000

		ok, _ := w.Accept(1000 - WindowSlots + 1)
		assert.False(t, ok)
	})
}

// TestWindowMonotonic verifies the high-watermark never decreases across
// arbitrary accept sequences.
func TestWindowMonotonic(t *testing.T) {
	var w Window

	seq := []uint32{1, 2, 5, 3, 4, 10, 7, 300, 299, 600}
	var hi uint32
	for _, s := range seq {
		w.Accept(s)
		require.GreaterOrEqual(t, w.ReceivedSeqno, hi, "after seqno %d", s)
		hi = w.ReceivedSeqno
	}
}

// TestWindowReset verifies a reset window behaves like a fresh one.
func TestWindowReset(t *testing.T) {
	var w Window
	w.Accept(1)
	w.Accept(3)
	w.Reset()

	require.Zero(t, w.ReceivedSeqno)
	ok, _ := w.Accept(1)
	assert.True(t, ok)
}
