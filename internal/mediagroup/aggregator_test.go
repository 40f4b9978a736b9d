package mediagroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlbumCollapsesAfterDebounce(t *testing.T) {
	flushed := make(chan Group, 2)
	a := New(Options{Debounce: 30 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	assert.True(t, a.Add(Item{ChatID: 1, UserID: 2, MediaGroupID: "g", FileID: "f1"}))
	assert.True(t, a.Add(Item{ChatID: 1, UserID: 2, MediaGroupID: "g", FileID: "f2", Caption: "warm light"}))
	assert.True(t, a.Add(Item{ChatID: 1, UserID: 2, MediaGroupID: "g", FileID: "f3"}))
	assert.Equal(t, 1, a.Pending())

	select {
	case g := <-flushed:
		require.Len(t, g.Items, 3)
		assert.Equal(t, "f3", g.Latest().FileID)
		assert.Equal(t, "warm light", g.Caption)
		assert.Equal(t, int64(2), g.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("album never flushed")
	}
	assert.Equal(t, 0, a.Pending())
}

func TestAddIgnoresLooseItems(t *testing.T) {
	a := New(Options{})
	assert.False(t, a.Add(Item{ChatID: 1, FileID: "f"}))
	assert.False(t, a.Add(Item{ChatID: 1, MediaGroupID: "g"}))
	assert.Equal(t, 0, a.Pending())
}

func TestStopDropsPending(t *testing.T) {
	flushed := make(chan Group, 1)
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})
	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "f"})
	a.Stop()

	select {
	case <-flushed:
		t.Fatal("stopped aggregator flushed")
	case <-time.After(80 * time.Millisecond):
	}
	assert.Equal(t, Item{}, Group{}.Latest())
	assert.False(t, a.Add(Item{ChatID: 1, MediaGroupID: "g2", FileID: "f"}))
}

func TestAlbumsAreSeparatedPerUser(t *testing.T) {
	flushed := make(chan Group, 2)
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	a.Add(Item{ChatID: 1, UserID: 10, MediaGroupID: "g", FileID: "a"})
	a.Add(Item{ChatID: 1, UserID: 11, MediaGroupID: "g", FileID: "b"})
	assert.Equal(t, 2, a.Pending())

	got := map[int64]string{}
	for i := 0; i < 2; i++ {
		select {
		case g := <-flushed:
			got[g.UserID] = g.Latest().FileID
		case <-time.After(2 * time.Second):
			t.Fatal("album never flushed")
		}
	}
	assert.Equal(t, map[int64]string{10: "a", 11: "b"}, got)
}

func TestAlbumKeepsLastItems(t *testing.T) {
	flushed := make(chan Group, 1)
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	for i := 0; i < MaxItems+3; i++ {
		a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: string(rune('a' + i))})
	}

	select {
	case g := <-flushed:
		require.Len(t, g.Items, MaxItems)
		assert.Equal(t, "d", g.Items[0].FileID)
		assert.Equal(t, string(rune('a'+MaxItems+2)), g.Latest().FileID)
	case <-time.After(2 * time.Second):
		t.Fatal("album never flushed")
	}
}
