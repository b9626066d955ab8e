package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(ids ...string) []Document {
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, Document{ID: id, Path: Join("c", id), Data: Fields{}})
	}
	return out
}

func TestHubDropsInitialSnapshotOlderThanPublished(t *testing.T) {
	h := NewHub()
	sub := h.Add(context.Background(), "c")
	defer sub.Unsubscribe()

	initial, err := h.Read("c", func() ([]Document, error) { return docs(), nil })
	require.NoError(t, err)

	// A change lands and is published before the initial read is handed over.
	newer, err := h.Read("c", func() ([]Document, error) { return docs("a"), nil })
	require.NoError(t, err)
	h.PublishSnapshot(newer)

	got := <-sub.Snapshots()
	require.Len(t, got.Docs, 1)

	h.DeliverSnapshot(sub, initial)
	select {
	case snap := <-sub.Snapshots():
		t.Fatalf("older snapshot delivered after a newer one: seq=%d docs=%d", snap.Seq, len(snap.Docs))
	default:
	}
}

func TestHubInitialSnapshotBeforeAnyPublish(t *testing.T) {
	h := NewHub()
	sub := h.Add(context.Background(), "c")
	defer sub.Unsubscribe()

	initial, err := h.Read("c", func() ([]Document, error) { return docs("a"), nil })
	require.NoError(t, err)
	h.DeliverSnapshot(sub, initial)

	next, err := h.Read("c", func() ([]Document, error) { return docs("a", "b"), nil })
	require.NoError(t, err)
	h.PublishSnapshot(next)

	// Latest-wins: only the newest unread snapshot is pending.
	got := <-sub.Snapshots()
	assert.Len(t, got.Docs, 2)
	assert.Equal(t, next.Seq, got.Seq)
}

func TestHubReadsOfOneCollectionDoNotOverlap(t *testing.T) {
	h := NewHub()
	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan Snapshot)

	go func() {
		snap, _ := h.Read("c", func() ([]Document, error) {
			close(started)
			<-release
			return docs("a"), nil
		})
		firstDone <- snap
	}()
	<-started

	secondEntered := make(chan struct{})
	secondDone := make(chan Snapshot)
	go func() {
		snap, _ := h.Read("c", func() ([]Document, error) {
			close(secondEntered)
			return docs("a", "b"), nil
		})
		secondDone <- snap
	}()

	select {
	case <-secondEntered:
		t.Fatal("second read ran while the first was still listing")
	case <-time.After(50 * time.Millisecond):
	}

	// Other collections are not blocked.
	_, err := h.Read("other", func() ([]Document, error) { return nil, nil })
	require.NoError(t, err)

	close(release)
	first := <-firstDone
	second := <-secondDone
	assert.Less(t, first.Seq, second.Seq)
}

func TestHubReadErrorIsReturned(t *testing.T) {
	h := NewHub()
	_, err := h.Read("c", func() ([]Document, error) { return nil, ErrUnavailable })
	assert.ErrorIs(t, err, ErrUnavailable)
}
